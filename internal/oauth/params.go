// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package oauth implements the OAuth2 authorization-code flow for device
// classes: authorize, code exchange with optional PKCE, and credential
// refresh through a capability installed on composed classes.
package oauth

import (
	"strings"

	"github.com/samber/oops"
	"golang.org/x/oauth2"

	"github.com/holomush/devicekit/internal/schema"
	"github.com/holomush/devicekit/pkg/device"
	"github.com/holomush/devicekit/pkg/errutil"
)

// Manifest config parameters read by the engine.
const (
	ParamClientID      = "client_id"
	ParamClientSecret  = "client_secret"
	ParamAuthorize     = "authorize"
	ParamTokenURL      = "get_access_token"
	ParamScope         = "scope"
	ParamSetState      = "set_state"
	ParamSetAccessType = "set_access_type"
	ParamUsePKCE       = "use_pkce"
	ParamAuthScheme    = "auth_scheme"
)

// CallbackPath is the path, below the engine origin, providers redirect to.
const CallbackPath = "/devices/oauth2/callback/"

// DefaultAuthScheme is the Authorization header scheme when the manifest
// does not set one.
const DefaultAuthScheme = "Bearer"

// Params are the normalized OAuth2 parameters of a class.
type Params struct {
	Kind          string
	ClientID      string
	ClientSecret  string
	AuthorizeURL  string
	TokenURL      string
	RedirectURL   string
	Scopes        []string
	SetState      bool
	SetAccessType bool
	UsePKCE       bool
	AuthScheme    string
}

// ParamsFromClass reads the OAuth2 parameters of def. engine may be nil when
// no redirect URL is needed.
func ParamsFromClass(def *schema.ClassDef, engine device.Engine) (*Params, error) {
	errb := oops.In("oauth").Code(errutil.CodeOAuth).With("kind", def.Kind)
	if def.AuthType() != schema.AuthOAuth2 {
		return nil, errb.Errorf("%s is not configured for oauth2", def.Kind)
	}

	p := &Params{
		Kind:          def.Kind,
		ClientID:      def.StringParam(ParamClientID),
		ClientSecret:  def.StringParam(ParamClientSecret),
		AuthorizeURL:  def.StringParam(ParamAuthorize),
		TokenURL:      def.StringParam(ParamTokenURL),
		SetState:      flag(def, ParamSetState),
		SetAccessType: flag(def, ParamSetAccessType),
		UsePKCE:       flag(def, ParamUsePKCE),
		AuthScheme:    def.StringParam(ParamAuthScheme),
	}
	for _, scope := range def.StringsParam(ParamScope) {
		p.Scopes = append(p.Scopes, strings.Fields(scope)...)
	}
	if p.AuthScheme == "" {
		p.AuthScheme = DefaultAuthScheme
	}
	if engine != nil {
		p.RedirectURL = strings.TrimSuffix(engine.Origin(), "/") + CallbackPath + def.Kind
	}

	switch {
	case p.ClientID == "":
		return nil, errb.Errorf("%s is missing %s", def.Kind, ParamClientID)
	case p.AuthorizeURL == "":
		return nil, errb.Errorf("%s is missing %s", def.Kind, ParamAuthorize)
	case p.TokenURL == "":
		return nil, errb.Errorf("%s is missing %s", def.Kind, ParamTokenURL)
	}
	return p, nil
}

// flag accepts booleans and the strings "true" and "1".
func flag(def *schema.ClassDef, key string) bool {
	if def.BoolParam(key) {
		return true
	}
	switch def.StringParam(key) {
	case "true", "1":
		return true
	default:
		return false
	}
}

// config builds the oauth2 configuration. PKCE flows never send the client
// secret; credentials always travel in the request body.
func (p *Params) config() *oauth2.Config {
	cfg := &oauth2.Config{
		ClientID:    p.ClientID,
		RedirectURL: p.RedirectURL,
		Scopes:      p.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   p.AuthorizeURL,
			TokenURL:  p.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	if !p.UsePKCE {
		cfg.ClientSecret = p.ClientSecret
	}
	return cfg
}
