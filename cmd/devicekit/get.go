// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/holomush/devicekit/pkg/device"
)

// NewGetCmd creates the get subcommand.
func NewGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <module>",
		Short: "Load a module and describe its device class",
		Long: `Resolve a module through the cache and the catalog, compose its device
class and print the class metadata with its queries, actions and subdevices.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			m, class, err := a.class(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printClass(cmd.OutOrStdout(), m.Version(), class)
			return nil
		},
	}
}

// NewUpdateCmd creates the update subcommand.
func NewUpdateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "update <module>",
		Short: "Reload a module from the catalog",
		Long: `Drop the cached manifest and loaded code of a module, then load it again
from the catalog.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			if err := a.downloader.UpdateModule(ctx, args[0]); err != nil {
				return err
			}
			m, err := a.downloader.GetModule(ctx, args[0])
			if err != nil {
				return err
			}
			cmd.Printf("updated %s to version %d\n", m.ID(), m.Version())
			return nil
		},
	}
}

func printClass(w io.Writer, version int, class *device.Class) {
	md := class.Metadata
	row := func(key, value string) { fmt.Fprintf(w, "%-12s %s\n", key+":", value) }
	row("kind", md.Kind)
	row("version", fmt.Sprint(version))
	row("name", md.Name)
	row("description", md.Description)
	row("category", md.Category)
	row("auth", md.AuthType)
	row("queries", strings.Join(class.QueryNames(), ", "))
	row("actions", strings.Join(class.ActionNames(), ", "))
	var monitorable []string
	for _, name := range class.QueryNames() {
		if _, ok := class.Subscribes[name]; ok {
			monitorable = append(monitorable, name)
		}
	}
	row("monitorable", strings.Join(monitorable, ", "))
	var children []string
	for kind := range class.Subdevices {
		children = append(children, kind)
	}
	slices.Sort(children)
	row("subdevices", strings.Join(children, ", "))
}
