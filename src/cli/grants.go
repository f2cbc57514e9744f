package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/stake-plus/mememo/src/agent"
	"github.com/stake-plus/mememo/src/clock"
	"github.com/stake-plus/mememo/src/config"
	"github.com/stake-plus/mememo/src/dispatch"
	"github.com/stake-plus/mememo/src/grants"
)

// NewGrantsCommand manages grants directly in the configured stores.
func NewGrantsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "grants",
		Short: "Issue, revoke and list grants",
		Long: `Manage grants directly in the configured stores.

With no storage.mysql_dsn the grant store is in memory, so changes made
here are not seen by a running agent; use the HTTP API instead.`,
	}

	var ttl time.Duration
	issue := &cobra.Command{
		Use:   "issue <principal> <grant>",
		Short: "Issue a grant without a challenge",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStores(cmd.Context(), rootOpts, func(cfg *config.Config, gs grants.Store, d *dispatch.Dispatcher) error {
				life := ttl
				if life <= 0 {
					life = cfg.Agent.GrantExpiry.Std()
				}
				g, err := gs.Issue(cmd.Context(), args[0], args[1], life)
				if err != nil {
					return err
				}
				return rootOpts.emit(cmd.OutOrStdout(), g, func(w io.Writer) {
					fmt.Fprintf(w, "issued %s to %s until %s\n", g.GrantName, g.PrincipalID, g.ExpiresAt.Format(time.RFC3339))
				})
			})
		},
	}
	issue.Flags().DurationVar(&ttl, "ttl", 0, "grant lifetime (default agent.grant_expiry)")

	revoke := &cobra.Command{
		Use:   "revoke <principal> <grant>",
		Short: "Revoke a grant and drop results cached under it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStores(cmd.Context(), rootOpts, func(_ *config.Config, _ grants.Store, d *dispatch.Dispatcher) error {
				n, err := d.Revoke(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				return rootOpts.emit(cmd.OutOrStdout(), map[string]any{"revoked": true, "invalidated": n}, func(w io.Writer) {
					fmt.Fprintf(w, "revoked %s from %s, %d cached results dropped\n", args[1], args[0], n)
				})
			})
		},
	}

	list := &cobra.Command{
		Use:   "list [principal]",
		Short: "List live grants",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			principal := ""
			if len(args) == 1 {
				principal = args[0]
			}
			return withStores(cmd.Context(), rootOpts, func(_ *config.Config, gs grants.Store, _ *dispatch.Dispatcher) error {
				list, err := gs.List(cmd.Context(), principal)
				if err != nil {
					return err
				}
				return rootOpts.emit(cmd.OutOrStdout(), list, func(w io.Writer) {
					tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, "PRINCIPAL\tGRANT\tEXPIRES")
					for _, g := range list {
						fmt.Fprintf(tw, "%s\t%s\t%s\n", g.PrincipalID, g.GrantName, g.ExpiresAt.Format(time.RFC3339))
					}
					tw.Flush()
				})
			})
		},
	}

	cmd.AddCommand(issue, revoke, list)
	return cmd
}

// withStores opens the configured stores and a dispatcher over them that
// never executes anything.
func withStores(ctx context.Context, rootOpts *RootOptions, fn func(*config.Config, grants.Store, *dispatch.Dispatcher) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := rootOpts.load()
	if err != nil {
		return err
	}
	reg, err := cfg.Registry()
	if err != nil {
		return err
	}
	gs, cs, db, rdb, err := agent.Stores(ctx, cfg, clock.Real{})
	if err != nil {
		return err
	}
	defer func() {
		if rdb != nil {
			_ = rdb.Close()
		}
		if db != nil {
			if sqlDB, err := db.DB(); err == nil {
				_ = sqlDB.Close()
			}
		}
	}()
	return fn(cfg, gs, dispatch.New(reg, gs, cs, nil, dispatch.Options{}))
}
