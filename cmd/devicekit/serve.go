// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/holomush/devicekit/internal/observability"
	"github.com/holomush/devicekit/pkg/errutil"
)

// shutdownTimeout bounds the graceful stop of the metrics server.
const shutdownTimeout = 5 * time.Second

// serveConfig holds configuration for the serve command.
type serveConfig struct {
	preload []string
}

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cfg := &serveConfig{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Preload modules and serve metrics and health probes",
		Long: `Load the --preload modules concurrently, then serve /metrics and the
health probes until interrupted. Readiness turns ok once every preload
finished.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, cfg)
		},
	}

	cmd.Flags().StringSliceVar(&cfg.preload, "preload", nil, "module ids to load before reporting ready")
	cmd.Flags().String("metrics-addr", "", "metrics/health HTTP address (default from config)")

	return cmd
}

func runServe(cmd *cobra.Command, cfg *serveConfig) error {
	conf, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	var ready atomic.Bool
	srv := observability.NewServer(conf.MetricsAddr, ready.Load)
	a, err := newApp(conf, logger, srv.Metrics())
	if err != nil {
		return err
	}
	defer a.Close()

	errCh, err := srv.Start()
	if err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(cmd.Context()), shutdownTimeout)
		defer cancel()
		if err := srv.Stop(stopCtx); err != nil {
			errutil.LogError(logger, "failed to stop observability server", err)
		}
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	for _, id := range cfg.preload {
		g.Go(func() error {
			_, _, err := a.class(gctx, id)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	ready.Store(true)
	logger.Info("modules preloaded", "modules", a.downloader.Modules())
	cmd.Printf("serving on %s\n", srv.Addr())

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		return nil
	case err := <-errCh:
		return err
	}
}
