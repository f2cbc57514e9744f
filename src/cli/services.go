package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// NewServicesCommand inspects the configured services.
func NewServicesCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "services",
		Short: "Inspect configured services",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List services in match order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.load()
			if err != nil {
				return err
			}
			reg, err := cfg.Registry()
			if err != nil {
				return err
			}
			type row struct {
				Name    string   `json:"name"`
				Pattern string   `json:"pattern"`
				Enabled bool     `json:"enabled"`
				Grants  []string `json:"grants,omitempty"`
				Cache   string   `json:"cache,omitempty"`
			}
			var rows []row
			for _, d := range reg.All() {
				r := row{Name: d.Name, Pattern: d.Pattern, Enabled: d.Enabled, Grants: d.RequiredGrants}
				if d.Cached() {
					r.Cache = d.CacheTTL.String()
				}
				rows = append(rows, r)
			}
			return rootOpts.emit(cmd.OutOrStdout(), rows, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "NAME\tENABLED\tCACHE\tGRANTS\tPATTERN")
				for _, r := range rows {
					cache := r.Cache
					if cache == "" {
						cache = "-"
					}
					fmt.Fprintf(tw, "%s\t%t\t%s\t%s\t%s\n", r.Name, r.Enabled, cache, strings.Join(r.Grants, ","), r.Pattern)
				}
				tw.Flush()
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "check <text>",
		Short: "Show which service a command resolves to, without running it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.load()
			if err != nil {
				return err
			}
			reg, err := cfg.Registry()
			if err != nil {
				return err
			}
			text := strings.Join(args, " ")
			m, ok := reg.Resolve(text)
			type result struct {
				Text    string   `json:"text"`
				Matched bool     `json:"matched"`
				Service string   `json:"service,omitempty"`
				Args    []string `json:"args,omitempty"`
				Grants  []string `json:"grants,omitempty"`
			}
			res := result{Text: text, Matched: ok}
			if ok {
				res.Service, res.Args, res.Grants = m.Service.Name, m.Args, m.Service.RequiredGrants
			}
			return rootOpts.emit(cmd.OutOrStdout(), res, func(w io.Writer) {
				if !ok {
					fmt.Fprintf(w, "%q: no service matches\n", text)
					return
				}
				fmt.Fprintf(w, "%q -> %s %q", text, res.Service, res.Args)
				if len(res.Grants) > 0 {
					fmt.Fprintf(w, " (requires %s)", strings.Join(res.Grants, ", "))
				}
				fmt.Fprintln(w)
			})
		},
	})
	return cmd
}
