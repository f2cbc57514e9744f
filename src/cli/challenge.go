package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/stake-plus/mememo/src/api/webserver"
	"github.com/stake-plus/mememo/src/challenge"
	"github.com/stake-plus/mememo/src/webclient"
)

// NewChallengeCommand answers auth3p challenges through a running agent.
func NewChallengeCommand(rootOpts *RootOptions) *cobra.Command {
	var baseURL string
	cmd := &cobra.Command{
		Use:   "challenge",
		Short: "Act as the auth3p third party",
	}
	respond := &cobra.Command{
		Use:   "respond <challenge-id> <approved|denied>",
		Short: "Answer a pending challenge",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			outcome, ok := challenge.ParseOutcome(strings.ToLower(args[1]))
			if !ok {
				return fmt.Errorf("outcome %q must be approved or denied", args[1])
			}
			cfg, err := rootOpts.load()
			if err != nil {
				return err
			}
			base := baseURL
			if base == "" {
				base = "http://" + cfg.API.Listen
			}
			tok, err := webserver.IssueToken([]byte(cfg.Auth3p.Secret), "cli", webserver.RoleAuth3p, time.Minute)
			if err != nil {
				return err
			}
			url := strings.TrimRight(base, "/") + "/v1/auth3p/respond"
			err = webclient.PostJSON(cmd.Context(), nil, url,
				map[string]string{"Authorization": "Bearer " + tok},
				map[string]string{"challenge_id": args[0], "outcome": string(outcome)}, 1, 0)
			if err != nil {
				return err
			}
			return rootOpts.emit(cmd.OutOrStdout(), map[string]string{"challenge_id": args[0], "outcome": string(outcome)}, func(w io.Writer) {
				fmt.Fprintf(w, "challenge %s %s\n", args[0], outcome)
			})
		},
	}
	respond.Flags().StringVar(&baseURL, "url", "", "agent base URL (default http://<api.listen>)")
	cmd.AddCommand(respond)
	return cmd
}
