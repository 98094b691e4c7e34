// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package oauth

import (
	"context"

	"golang.org/x/sync/singleflight"

	"github.com/holomush/devicekit/internal/module"
	"github.com/holomush/devicekit/internal/schema"
	"github.com/holomush/devicekit/pkg/device"
)

// credentials is the device.Credentials capability of one device.
type credentials struct {
	flow   *Flow
	def    *schema.ClassDef
	device *device.Device
	scheme string

	// refresh shares one in-flight refresh so a rotated refresh token is
	// used once.
	refresh singleflight.Group
}

var _ device.Credentials = (*credentials)(nil)

func (c *credentials) AccessToken() string {
	return c.device.State().String(device.StateAccessToken)
}

func (c *credentials) RefreshToken() string {
	return c.device.State().String(device.StateRefreshToken)
}

func (c *credentials) AuthScheme() string { return c.scheme }

func (c *credentials) RefreshCredentials(ctx context.Context) error {
	_, err, _ := c.refresh.Do("refresh", func() (any, error) {
		return nil, c.flow.Refresh(ctx, c.def, c.device)
	})
	return err
}

// Decorator returns the class decorator installing the credentials
// capability on classes configured for oauth2. Classes with incomplete
// OAuth2 parameters fail to load.
func (f *Flow) Decorator() module.ClassDecorator {
	return func(def *schema.ClassDef, class *device.Class) error {
		if def.AuthType() != schema.AuthOAuth2 {
			return nil
		}
		p, err := ParamsFromClass(def, nil)
		if err != nil {
			return err
		}
		class.Install(device.CapabilityOAuth2, func(d *device.Device) any {
			return &credentials{flow: f, def: def, device: d, scheme: p.AuthScheme}
		})
		return nil
	}
}
