// internal/presets/presets.go
package presets

import (
	"context"
	"fmt"
	"iter"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/tabquery/internal/traversal"
)

// Runner runs one traversal against one page.
type Runner interface {
	Run(ctx context.Context, chain traversal.SelectorChain, script string, opts traversal.Options) iter.Seq2[traversal.MatchResult, error]
}

// Preset is a canned query.
type Preset struct {
	Name        string
	Description string
	Chain       traversal.SelectorChain
	Script      string
	// Tab is the default tab glob. Empty means every page when AllTabs is
	// set and the first page otherwise.
	Tab string
	// AllTabs runs the preset on every matching tab instead of one.
	AllTabs bool
	// Limit caps how many results are consumed. Zero means all.
	Limit int
}

const fullscreenScript = `e.setAttribute('style', 'position:fixed;left:0;top:0;bottom:0;right:0;z-index:10000;width:100vw;height:100vh');
document.body.appendChild(e);
document.body.setAttribute('style', 'overflow:hidden');`

var (
	VideoPause = Preset{
		Name:        "video-pause",
		Description: "Pause every video in every matching tab.",
		Chain:       traversal.SelectorChain{"video"},
		Script:      "e.pause()",
		AllTabs:     true,
	}
	VideoPlay = Preset{
		Name:        "video-play",
		Description: "Resume the videos of the first YouTube tab.",
		Chain:       traversal.SelectorChain{"video"},
		Script:      "e.play()",
		Tab:         "*youtube*",
	}
	VideoFullscreen = Preset{
		Name:        "video-fullscreen",
		Description: "Stretch the first video over the whole viewport.",
		Chain:       traversal.SelectorChain{"video"},
		Script:      fullscreenScript,
		Limit:       1,
	}
)

var registry = map[string]Preset{
	VideoPause.Name:      VideoPause,
	VideoPlay.Name:       VideoPlay,
	VideoFullscreen.Name: VideoFullscreen,
}

// Lookup returns the preset called name.
func Lookup(name string) (Preset, error) {
	p, ok := registry[name]
	if !ok {
		return Preset{}, fmt.Errorf("unknown preset %q", name)
	}
	return p, nil
}

// All returns every preset sorted by name.
func All() []Preset {
	out := make([]Preset, 0, len(registry))
	for _, p := range registry {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// TabPattern returns the glob used when the caller gives none.
func (p Preset) TabPattern(override string) string {
	if override != "" {
		return override
	}
	return p.Tab
}

// Apply runs the preset on one page. The preset's limit is handed to the
// runner, so elements past it are never acted on.
func (p Preset) Apply(ctx context.Context, r Runner, opts traversal.Options) ([]traversal.MatchResult, error) {
	if p.Limit > 0 {
		opts.Limit = p.Limit
	}
	return traversal.Collect(traversal.Take(r.Run(ctx, p.Chain, p.Script, opts), p.Limit))
}

// Tab is one page a multi-tab preset runs on.
type Tab struct {
	Name   string
	Runner Runner
}

// TabResult is the outcome of a preset on one tab.
type TabResult struct {
	Tab     string
	Results []traversal.MatchResult
	Err     error
}

// ApplyAll runs the preset on every tab with at most concurrency tabs in
// flight. A failing tab does not stop the others; its error is recorded in
// its TabResult. Results keep the order of tabs.
func (p Preset) ApplyAll(ctx context.Context, tabs []Tab, concurrency int, opts traversal.Options, logger *zap.Logger) ([]TabResult, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("presets").With(zap.String("preset", p.Name))
	if concurrency <= 0 {
		concurrency = 1
	}

	out := make([]TabResult, len(tabs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, tab := range tabs {
		g.Go(func() error {
			results, err := p.Apply(gctx, tab.Runner, opts)
			out[i] = TabResult{Tab: tab.Name, Results: results, Err: err}
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}
				logger.Warn("Preset failed on tab.", zap.String("tab", tab.Name), zap.Error(err))
				return nil
			}
			logger.Debug("Preset applied.", zap.String("tab", tab.Name), zap.Int("results", len(results)))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return out, err
	}
	return out, nil
}
