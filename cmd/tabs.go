// cmd/tabs.go
package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/tabquery/internal/browser"
	"github.com/xkilldash9x/tabquery/internal/browser/session"
	"github.com/xkilldash9x/tabquery/internal/observability"
)

func newTabsCmd() *cobra.Command {
	var conn connFlags

	cmd := &cobra.Command{
		Use:   "tabs",
		Short: "List the page targets of a browser",
		Long: `List the page targets the browser's remote debugging endpoint reports.
With --tab only pages whose title or URL match the glob are shown.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			m := browser.NewManager(cfg, observability.GetLogger())
			req := conn.request(cmd, cfg)

			targets, err := m.Connector(req).Targets(cmd.Context())
			if err != nil {
				return err
			}
			pages, err := session.MatchTabs(targets, req.Tab.Pattern)
			if err != nil {
				return err
			}

			if cfg.Output().Format == "json" {
				p := newPrinter(cmd.OutOrStdout(), "json")
				for _, t := range pages {
					if err := p.line(t); err != nil {
						return err
					}
				}
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "INDEX\tID\tTITLE\tURL")
			for i, t := range pages {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", i, t.ID, t.Title, t.URL)
			}
			return w.Flush()
		},
	}

	conn.register(cmd)
	cmd.Flags().StringP("format", "o", "", "output format: text or json")
	return cmd
}
