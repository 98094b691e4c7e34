// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/holomush/devicekit/internal/cache"
)

// NewCacheCmd creates the cache command group.
func NewCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and clear the manifest cache",
	}

	cmd.AddCommand(newCachePathCmd())
	cmd.AddCommand(newCacheListCmd())
	cmd.AddCommand(newCacheClearCmd())

	return cmd
}

// cacheStore opens the store without building the loader stack.
func cacheStore(cmd *cobra.Command) (*cache.Store, error) {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return cache.New(cfg.CacheDir, cache.WithTTL(cfg.ManifestTTL)), nil
}

func newCachePathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the cache directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := cacheStore(cmd)
			if err != nil {
				return err
			}
			cmd.Println(store.Root())
			return nil
		},
	}
}

func newCacheListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List cached manifests with their age",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := cacheStore(cmd)
			if err != nil {
				return err
			}
			ids, err := store.IDs()
			if err != nil {
				return err
			}
			for _, id := range ids {
				age, err := store.Age(id)
				if err != nil {
					return err
				}
				state := "stale"
				if store.IsFresh(id) {
					state = "fresh"
				}
				cmd.Printf("%s\t%s\t%s\n", id, age.Round(time.Second), state)
			}
			return nil
		},
	}
}

func newCacheClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear [module]",
		Short: "Drop one cached manifest, or all of them",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := cacheStore(cmd)
			if err != nil {
				return err
			}
			if len(args) == 1 {
				return store.Invalidate(args[0])
			}
			return store.Clear()
		},
	}
}
