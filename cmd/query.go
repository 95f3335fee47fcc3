// cmd/query.go
package cmd

import (
	"fmt"
	"os"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tabquery/internal/browser"
	"github.com/xkilldash9x/tabquery/internal/observability"
	"github.com/xkilldash9x/tabquery/internal/traversal"
)

func newQueryCmd() *cobra.Command {
	var (
		conn       connFlags
		script     string
		scriptFile string
		limit      int
	)

	cmd := &cobra.Command{
		Use:     "query SELECTOR...",
		Aliases: []string{"wl", "dom"},
		Short:   "Print or script elements matched by a selector chain",
		Long: `Each SELECTOR is one hop: the next selector runs inside the shadow root or
frame document of the elements the previous one matched. A single argument
that is a JSON array is read as the whole chain.

Without --script the outer HTML of every match is printed. With --script the
expression is evaluated per match with e bound to the element, i to its index
and n to all candidates, and its result is printed instead.`,
		Example: `  tabquery query ytd-app video --script "e.pause()"
  tabquery dom '["my-app", "settings-panel", "input"]' --tab "*settings*"
  tabquery wl .host .inner --source page.html --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			logger := observability.GetLogger()

			chain, err := chainFromArgs(args)
			if err != nil {
				return err
			}
			if script == "" && scriptFile != "" {
				if script, err = readScript(scriptFile); err != nil {
					return err
				}
			}

			ctx := cmd.Context()
			m := browser.NewManager(cfg, logger)
			b, err := m.Open(ctx, conn.request(cmd, cfg))
			if err != nil {
				return err
			}
			defer func() {
				if cerr := b.Close(); cerr != nil {
					logger.Warn("Closing backend failed.", zap.Error(cerr))
				}
			}()

			logger.Debug("Running query.",
				zap.String("page", b.Name),
				zap.Stringer("chain", chain),
				zap.Bool("action", script != ""))

			opts := m.Options()
			opts.Limit = limit
			out := newPrinter(cmd.OutOrStdout(), cfg.Output().Format)
			for res, err := range traversal.Take(b.Run(ctx, chain, script, opts), limit) {
				if err != nil {
					return err
				}
				if err := out.result("", res); err != nil {
					return err
				}
			}
			return nil
		},
	}

	conn.register(cmd)
	registerQueryFlags(cmd)
	cmd.Flags().StringVarP(&script, "script", "s", "", "JavaScript expression run against each match")
	cmd.Flags().StringVar(&scriptFile, "script-file", "", "read the action script from a file")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "stop after this many results (0 means all)")
	cmd.MarkFlagsMutuallyExclusive("script", "script-file")
	return cmd
}

// chainFromArgs turns positional arguments into a selector chain.
func chainFromArgs(args []string) (traversal.SelectorChain, error) {
	if len(args) == 1 {
		return traversal.ParseChain(args[0])
	}
	chain := traversal.SelectorChain(args)
	if err := chain.Validate(); err != nil {
		return nil, err
	}
	return chain, nil
}

func readScript(path string) (string, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return "", fmt.Errorf("expanding script path: %w", err)
	}
	b, err := os.ReadFile(expanded)
	if err != nil {
		return "", fmt.Errorf("reading script: %w", err)
	}
	return string(b), nil
}
