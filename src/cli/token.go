package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/stake-plus/mememo/src/api/webserver"
)

// NewTokenCommand mints API bearer tokens from the configured secrets.
func NewTokenCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:       "token <admin|auth3p>",
		Short:     "Mint a bearer token for the HTTP API",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{webserver.RoleAdmin, webserver.RoleAuth3p},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.load()
			if err != nil {
				return err
			}
			var secret string
			switch args[0] {
			case webserver.RoleAdmin:
				secret = cfg.API.AdminSecret
			case webserver.RoleAuth3p:
				secret = cfg.Auth3p.Secret
			default:
				return fmt.Errorf("unknown role %q: must be %s or %s", args[0], webserver.RoleAdmin, webserver.RoleAuth3p)
			}
			tok, err := webserver.IssueToken([]byte(secret), subject, args[0], ttl)
			if err != nil {
				return err
			}
			return rootOpts.emit(cmd.OutOrStdout(), map[string]string{"token": tok}, func(w io.Writer) {
				fmt.Fprintln(w, tok)
			})
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "cli", "token subject recorded in audit logs")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}
