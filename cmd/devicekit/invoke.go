// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/holomush/devicekit/pkg/device"
	"github.com/holomush/devicekit/pkg/errutil"
)

// NewInvokeCmd creates the invoke subcommand.
func NewInvokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "invoke <module> <function> [param=value...]",
		Short: "Run a query or an action of a module",
		Long: `Construct a device of the module around its saved state and run one
query or action. Results are printed as YAML documents. Parameter values
that parse as booleans or numbers are passed typed.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := parseParams(args[2:])
			if err != nil {
				return err
			}
			a, err := setup(cmd, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			d, err := a.device(ctx, args[0])
			if err != nil {
				return err
			}
			return invoke(ctx, cmd.OutOrStdout(), d, args[1], params)
		},
	}
}

func invoke(ctx context.Context, w io.Writer, d *device.Device, name string, params device.Params) error {
	enc := yaml.NewEncoder(w)
	defer enc.Close()

	if _, ok := d.Class().Queries[name]; ok {
		results, err := d.Query(ctx, name, params)
		if err != nil {
			return err
		}
		for r := range results {
			if err := enc.Encode(map[string]any(r)); err != nil {
				return oops.In("cli").Wrapf(err, "encode result")
			}
		}
		return nil
	}

	result, err := d.Invoke(ctx, name, params)
	if err != nil {
		return err
	}
	if result == nil {
		return nil
	}
	if err := enc.Encode(map[string]any(result)); err != nil {
		return oops.In("cli").Wrapf(err, "encode result")
	}
	return nil
}

// monitorConfig holds configuration for the monitor command.
type monitorConfig struct {
	duration time.Duration
	count    int
}

// Validate checks that the configuration is valid.
func (cfg *monitorConfig) Validate() error {
	if cfg.duration < 0 {
		return oops.In("cli").Errorf("for must not be negative, got %s", cfg.duration)
	}
	if cfg.count < 0 {
		return oops.In("cli").Errorf("count must not be negative, got %d", cfg.count)
	}
	return nil
}

// NewMonitorCmd creates the monitor subcommand.
func NewMonitorCmd() *cobra.Command {
	cfg := &monitorConfig{}

	cmd := &cobra.Command{
		Use:   "monitor <module> <query> [param=value...]",
		Short: "Subscribe to a query and print its results",
		Long: `Subscribe to a monitorable query and print every pushed result until
interrupted, the --for duration elapses or --count results arrived.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			params, err := parseParams(args[2:])
			if err != nil {
				return err
			}
			a, err := setup(cmd, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if cfg.duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, cfg.duration)
				defer cancel()
			}

			d, err := a.device(ctx, args[0])
			if err != nil {
				return err
			}
			return monitor(ctx, cmd.OutOrStdout(), a, d, args[1], params, cfg.count)
		},
	}

	cmd.Flags().DurationVar(&cfg.duration, "for", 0, "stop after this long (0 = until interrupted)")
	cmd.Flags().IntVar(&cfg.count, "count", 0, "stop after this many results (0 = unlimited)")

	return cmd
}

func monitor(ctx context.Context, w io.Writer, a *app, d *device.Device, name string, params device.Params, limit int) error {
	stream, err := d.Subscribe(ctx, name, params)
	if err != nil {
		return err
	}
	defer stream.Destroy()

	enc := yaml.NewEncoder(w)
	defer enc.Close()

	seen := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-stream.Events():
			if !ok {
				return nil
			}
			if ev.Err != nil {
				errutil.LogWarn(a.logger.With("kind", d.Kind(), "query", name), "monitored query failed", ev.Err)
				continue
			}
			if err := enc.Encode(map[string]any(ev.Result)); err != nil {
				return oops.In("cli").Wrapf(err, "encode result")
			}
			seen++
			if limit > 0 && seen >= limit {
				return nil
			}
		}
	}
}

// parseParams turns name=value arguments into parameters.
func parseParams(args []string) (device.Params, error) {
	params := make(device.Params, len(args))
	for _, arg := range args {
		name, value, ok := strings.Cut(arg, "=")
		if !ok || name == "" {
			return nil, oops.In("cli").With("arg", arg).Errorf("parameter %q is not name=value", arg)
		}
		params[name] = paramValue(value)
	}
	return params, nil
}

func paramValue(s string) any {
	switch s {
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}
