// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/devicekit/internal/schema"
)

// NewSchemaCmd creates the schema subcommand.
func NewSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON Schema of device manifests",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := schema.GenerateSchema()
			if err != nil {
				return err
			}
			if _, err := cmd.OutOrStdout().Write(append(data, '\n')); err != nil {
				return oops.In("cli").Wrapf(err, "write schema")
			}
			return nil
		},
	}
}
