// cmd/video.go
package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tabquery/internal/browser"
	"github.com/xkilldash9x/tabquery/internal/config"
	"github.com/xkilldash9x/tabquery/internal/observability"
	"github.com/xkilldash9x/tabquery/internal/presets"
)

func newVideoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "video",
		Short: "Control video elements in browser tabs",
	}
	for _, p := range presets.All() {
		if name, ok := strings.CutPrefix(p.Name, "video-"); ok {
			cmd.AddCommand(newPresetCmd(name, p))
		}
	}
	return cmd
}

func newPresetCmd(use string, p presets.Preset) *cobra.Command {
	var conn connFlags

	cmd := &cobra.Command{
		Use:   use,
		Short: p.Description,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd)
			if err != nil {
				return err
			}
			logger := observability.GetLogger()
			m := browser.NewManager(cfg, logger)

			req := conn.request(cmd, cfg)
			req.Tab.Pattern = p.TabPattern(req.Tab.Pattern)
			out := newPrinter(cmd.OutOrStdout(), cfg.Output().Format)

			if p.AllTabs {
				return runPresetAllTabs(cmd, m, req, p, cfg, out)
			}

			b, err := m.Open(cmd.Context(), req)
			if err != nil {
				return fmt.Errorf("%s: %w", p.Name, err)
			}
			defer closeBackend(b, logger)

			results, err := p.Apply(cmd.Context(), b, m.Options())
			if err != nil {
				return fmt.Errorf("%s on %q: %w", p.Name, b.Name, err)
			}
			return out.tabSummary(b.Name, len(results), nil)
		},
	}

	conn.register(cmd)
	registerQueryFlags(cmd)
	if p.AllTabs {
		cmd.Flags().Int("concurrency", 0, "tabs processed at once (default from browser.concurrency)")
	}
	return cmd
}

// runPresetAllTabs applies p to every matching tab. It fails only when no
// tab succeeded.
func runPresetAllTabs(cmd *cobra.Command, m *browser.Manager, req browser.Request, p presets.Preset, cfg config.Interface, out *printer) error {
	logger := observability.GetLogger()
	backends, err := m.OpenAll(cmd.Context(), req)
	if err != nil {
		return fmt.Errorf("%s: %w", p.Name, err)
	}
	tabs := make([]presets.Tab, len(backends))
	for i, b := range backends {
		defer closeBackend(b, logger)
		tabs[i] = presets.Tab{Name: b.Name, Runner: b}
	}

	results, err := p.ApplyAll(cmd.Context(), tabs, cfg.Browser().Concurrency, m.Options(), logger)
	if err != nil {
		return err
	}

	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, fmt.Errorf("%q: %w", r.Tab, r.Err))
		}
		if err := out.tabSummary(r.Tab, len(r.Results), r.Err); err != nil {
			return err
		}
	}
	if len(errs) == len(results) && len(errs) > 0 {
		return fmt.Errorf("%s failed in every tab: %w", p.Name, errors.Join(errs...))
	}
	return nil
}

func closeBackend(b *browser.Backend, logger *zap.Logger) {
	if err := b.Close(); err != nil {
		logger.Warn("Closing backend failed.", zap.String("page", b.Name), zap.Error(err))
	}
}
