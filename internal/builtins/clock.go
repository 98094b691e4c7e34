// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package builtins

import (
	"context"
	"time"
	_ "time/tzdata"

	"github.com/samber/oops"

	"github.com/holomush/devicekit/pkg/device"
)

// stateAlarm is the state key holding the alarm time.
const stateAlarm = "alarm"

func clock(o *options) *device.Implementation {
	return &device.Implementation{
		Functions: map[string]device.RawFunc{
			"get_now": func(_ context.Context, _ *device.Device, params device.Params) (any, error) {
				loc := time.UTC
				if tz, _ := params["timezone"].(string); tz != "" {
					l, err := time.LoadLocation(tz)
					if err != nil {
						return nil, oops.In("builtins").With("timezone", tz).Wrapf(err, "unknown timezone")
					}
					loc = l
				}
				now := o.now().In(loc)
				return []device.Result{{
					"time":     now.Format(time.RFC3339),
					"timezone": loc.String(),
				}}, nil
			},
			"do_alarm": func(_ context.Context, d *device.Device, params device.Params) (any, error) {
				raw, _ := params["at"].(string)
				at, err := time.Parse(time.RFC3339, raw)
				if err != nil {
					return nil, oops.In("builtins").With("at", raw).Wrapf(err, "alarm time must be RFC 3339")
				}
				d.State().Set(stateAlarm, at.UTC().Format(time.RFC3339))
				d.State().NotifyChanged()
				return device.Result{"alarm": at.UTC().Format(time.RFC3339)}, nil
			},
		},
		CheckAvailable: func(context.Context, *device.Device) device.Availability {
			return device.AvailabilityAvailable
		},
	}
}
