// internal/browser/pwbridge/pwbridge.go
package pwbridge

import (
	"context"
	"fmt"
	"io"
	"iter"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tabquery/internal/browser/pagescript"
	"github.com/xkilldash9x/tabquery/internal/browser/session"
	"github.com/xkilldash9x/tabquery/internal/traversal"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// page is the part of playwright.Page the runner needs.
type page interface {
	Title() (string, error)
	URL() string
	Evaluate(expression string, arg ...interface{}) (interface{}, error)
}

// Runner evaluates the page script through a Playwright CDP connection to
// an already running browser.
type Runner struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	page    page
	title   string
	logger  *zap.Logger
}

// Connect starts the Playwright driver without downloading browsers,
// connects to endpoint over CDP and picks a page with sel.
func Connect(ctx context.Context, endpoint session.Endpoint, sel session.TabSelector, timeout time.Duration, logger *zap.Logger) (*Runner, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("pwbridge").With(zap.Stringer("endpoint", endpoint))

	opts := &playwright.RunOptions{
		SkipInstallBrowsers: true,
		Verbose:             false,
		Stdout:              io.Discard,
		Stderr:              io.Discard,
	}
	if err := playwright.Install(opts); err != nil {
		return nil, fmt.Errorf("installing playwright driver: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pw, err := playwright.Run(opts)
	if err != nil {
		return nil, fmt.Errorf("starting playwright driver: %w", err)
	}

	browser, err := pw.Chromium.ConnectOverCDP(endpoint.BaseURL(), playwright.BrowserTypeConnectOverCDPOptions{
		Timeout: playwright.Float(float64(timeout.Milliseconds())),
	})
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("%w: connecting over CDP: %w", session.ErrDebugEndpoint, err)
	}

	var pages []page
	for _, bc := range browser.Contexts() {
		for _, p := range bc.Pages() {
			pages = append(pages, p)
		}
	}
	chosen, title, err := selectPage(pages, sel)
	if err != nil {
		_ = browser.Close()
		_ = pw.Stop()
		return nil, err
	}

	logger.Info("Connected through Playwright.", zap.String("title", title), zap.String("browser_version", browser.Version()))
	return &Runner{pw: pw, browser: browser, page: chosen, title: title, logger: logger}, nil
}

// newRunner wraps an already chosen page.
func newRunner(p page, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{page: p, logger: logger.Named("pwbridge")}
}

// selectPage applies the session's tab rules to Playwright pages.
func selectPage(pages []page, sel session.TabSelector) (page, string, error) {
	targets := make([]session.Target, 0, len(pages))
	for i, p := range pages {
		title, err := p.Title()
		if err != nil {
			return nil, "", fmt.Errorf("reading title of page %d: %w", i, err)
		}
		targets = append(targets, session.Target{ID: strconv.Itoa(i), Type: "page", Title: title, URL: p.URL()})
	}
	t, err := session.SelectTab(targets, sel)
	if err != nil {
		return nil, "", err
	}
	idx, err := strconv.Atoi(t.ID)
	if err != nil {
		return nil, "", err
	}
	return pages[idx], t.Title, nil
}

// Run evaluates the traversal in the page. Playwright awaits the returned
// promise itself.
func (r *Runner) Run(ctx context.Context, chain traversal.SelectorChain, script string, opts traversal.Options) iter.Seq2[traversal.MatchResult, error] {
	return func(yield func(traversal.MatchResult, error) bool) {
		results, err := r.evaluate(ctx, chain, script, opts)
		for res, err := range pagescript.Sequence(results, err) {
			if !yield(res, err) {
				return
			}
		}
	}
}

type evalResult struct {
	value interface{}
	err   error
}

func (r *Runner) evaluate(ctx context.Context, chain traversal.SelectorChain, script string, opts traversal.Options) ([]traversal.MatchResult, error) {
	expr, err := pagescript.Build(chain, script, opts)
	if err != nil {
		return nil, err
	}
	if opts.ActionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.ActionTimeout)
		defer cancel()
	}

	// Page.Evaluate takes no context; the call is abandoned, not aborted,
	// when ctx ends first.
	done := make(chan evalResult, 1)
	go func() {
		v, err := r.page.Evaluate(expr)
		done <- evalResult{value: v, err: err}
	}()

	var res evalResult
	select {
	case res = <-done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if res.err != nil {
		return nil, fmt.Errorf("evaluating page script: %w", res.err)
	}
	raw, err := json.Marshal(res.value)
	if err != nil {
		return nil, fmt.Errorf("re-encoding page script result: %w", err)
	}
	results, err := pagescript.Decode(raw)
	r.logger.Debug("Page script finished.",
		zap.Stringer("chain", chain),
		zap.Int("results", len(results)),
		zap.Error(err))
	return results, err
}

// Title is the title of the chosen page when it was selected.
func (r *Runner) Title() string { return r.title }

// Close disconnects from the browser and stops the driver. The browser and
// its tabs keep running.
func (r *Runner) Close() error {
	var firstErr error
	if r.browser != nil {
		if err := r.browser.Close(); err != nil {
			r.logger.Warn("Failed to disconnect from browser.", zap.Error(err))
			firstErr = fmt.Errorf("disconnecting from browser: %w", err)
		}
	}
	if r.pw != nil {
		if err := r.pw.Stop(); err != nil {
			r.logger.Warn("Failed to stop Playwright driver.", zap.Error(err))
			if firstErr == nil {
				firstErr = fmt.Errorf("stopping playwright driver: %w", err)
			}
		}
	}
	return firstErr
}
