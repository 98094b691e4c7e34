// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package schema

import (
	"encoding/json"
	"sync"

	"github.com/invopop/jsonschema"
	"github.com/samber/oops"
	jschema "github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"
)

// SchemaID is the $id of the manifest JSON schema.
const SchemaID = "https://holomush.dev/schemas/device-manifest.schema.json"

// GenerateSchema generates the manifest JSON schema from ClassDef.
func GenerateSchema() ([]byte, error) {
	r := jsonschema.Reflector{
		DoNotReference:             true,
		FieldNameTag:               "yaml",
		RequiredFromJSONSchemaTags: true,
	}
	schema := r.Reflect(&ClassDef{})
	schema.ID = jsonschema.ID(SchemaID)
	schema.Title = "Device Class Manifest"
	schema.Description = "Schema for device class manifests"

	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, oops.In("schema").Wrapf(err, "marshal schema")
	}
	return data, nil
}

var compiledSchema = sync.OnceValues(func() (*jschema.Schema, error) {
	schemaBytes, err := GenerateSchema()
	if err != nil {
		return nil, err
	}
	var schemaData any
	if err := json.Unmarshal(schemaBytes, &schemaData); err != nil {
		return nil, oops.In("schema").Wrapf(err, "parse schema JSON")
	}

	c := jschema.NewCompiler()
	if err := c.AddResource("manifest.schema.json", schemaData); err != nil {
		return nil, oops.In("schema").Wrapf(err, "add schema resource")
	}
	sch, err := c.Compile("manifest.schema.json")
	if err != nil {
		return nil, oops.In("schema").Wrapf(err, "compile schema")
	}
	return sch, nil
})

// ValidateSchema validates YAML manifest text against the manifest JSON schema.
func ValidateSchema(data []byte) error {
	if len(data) == 0 {
		return oops.In("schema").Errorf("manifest data is empty")
	}

	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return oops.In("schema").Wrapf(err, "invalid manifest YAML")
	}

	sch, err := compiledSchema()
	if err != nil {
		return err
	}
	if err := sch.Validate(jsonTypes(doc)); err != nil {
		return oops.In("schema").Wrapf(err, "schema validation failed")
	}
	return nil
}

// jsonTypes converts YAML-decoded values into the types the validator
// accepts.
func jsonTypes(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = jsonTypes(item)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			key, _ := k.(string)
			out[key] = jsonTypes(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = jsonTypes(item)
		}
		return out
	case string, bool, int, int64, uint64, float64, nil:
		return val
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return val
		}
		var out any
		if err := json.Unmarshal(b, &out); err != nil {
			return val
		}
		return out
	}
}
