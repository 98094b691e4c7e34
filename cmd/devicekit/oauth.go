// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"net/url"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
)

// NewOAuthCmd creates the oauth command group.
func NewOAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "oauth",
		Short: "Connect devices through OAuth2",
		Long: `Run the OAuth2 authorization code flow of a module. The flow session is
kept in the preferences between authorize and exchange.`,
	}

	cmd.AddCommand(newOAuthAuthorizeCmd())
	cmd.AddCommand(newOAuthExchangeCmd())
	cmd.AddCommand(newOAuthRefreshCmd())

	return cmd
}

func newOAuthAuthorizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "authorize <module>",
		Short: "Print the provider URL that starts the flow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			m, _, err := a.class(ctx, args[0])
			if err != nil {
				return err
			}
			session := a.session()
			target, err := a.flow.Authorize(ctx, a.engine, m.Manifest(), session)
			if err != nil {
				return err
			}
			if err := a.saveSession(session); err != nil {
				return err
			}
			cmd.Println(target)
			return nil
		},
	}
}

func newOAuthExchangeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "exchange <module> <redirect-url>",
		Short: "Finish the flow from the provider's redirect URL",
		Long: `Exchange the authorization code carried by the redirect URL for tokens
and save the connected device's state.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			redirect, err := url.Parse(args[1])
			if err != nil {
				return oops.In("cli").With("url", args[1]).Wrapf(err, "parse redirect URL")
			}
			a, err := setup(cmd, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			m, class, err := a.class(ctx, args[0])
			if err != nil {
				return err
			}
			session := a.session()
			d, err := a.flow.Exchange(ctx, a.engine, m.Manifest(), class, redirect.Query(), session, nil)
			if serr := a.saveSession(session); serr != nil && err == nil {
				err = serr
			}
			if err != nil {
				return err
			}
			if d == nil {
				cmd.Println("authorization cancelled")
				return nil
			}
			a.persist(d)
			cmd.Printf("connected %s\n", d.Kind())
			return nil
		},
	}
}

func newOAuthRefreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh <module>",
		Short: "Refresh the saved credentials of a device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			m, _, err := a.class(ctx, args[0])
			if err != nil {
				return err
			}
			d, err := a.device(ctx, args[0])
			if err != nil {
				return err
			}
			if err := a.flow.Refresh(ctx, m.Manifest(), d); err != nil {
				return err
			}
			cmd.Printf("refreshed %s\n", d.Kind())
			return nil
		},
	}
}
