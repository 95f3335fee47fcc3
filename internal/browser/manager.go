// internal/browser/manager.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"go.uber.org/zap"

	"github.com/xkilldash9x/tabquery/internal/browser/dom"
	"github.com/xkilldash9x/tabquery/internal/browser/pwbridge"
	"github.com/xkilldash9x/tabquery/internal/browser/session"
	"github.com/xkilldash9x/tabquery/internal/config"
	"github.com/xkilldash9x/tabquery/internal/traversal"
)

// ErrSourceRequired is returned when the static backend is chosen without a document.
var ErrSourceRequired = errors.New("static backend needs a source document")

// Runner runs one traversal against one page and yields its results.
type Runner interface {
	Run(ctx context.Context, chain traversal.SelectorChain, script string, opts traversal.Options) iter.Seq2[traversal.MatchResult, error]
}

// Backend is an opened Runner together with what must be released after use.
type Backend struct {
	Runner
	// Name identifies the page: the tab title or the source document.
	Name    string
	closers []func() error
}

// Close releases the backend's resources in reverse order of acquisition.
func (b *Backend) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	b.closers = nil
	return errors.Join(errs...)
}

// Request says which page to open.
type Request struct {
	Backend config.Backend
	// Source is the document for the static backend.
	Source string
	// Browser is "chrome" or "edge". Empty uses browser.prefer.
	Browser string
	// Port overrides the configured debugging port when not zero.
	Port int
	Tab  session.TabSelector
}

// Manager opens backends from configuration.
type Manager struct {
	cfg    config.Interface
	logger *zap.Logger
}

// NewManager creates a backend manager.
func NewManager(cfg config.Interface, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{cfg: cfg, logger: logger.Named("browser_manager")}
}

// Options returns the traversal options from the query configuration.
func (m *Manager) Options() traversal.Options {
	q := m.cfg.Query()
	return traversal.Options{
		YieldHostMatches: q.YieldHostMatches,
		DescendLightDOM:  q.DescendLightDOM,
		ActionTimeout:    q.ActionTimeout,
	}
}

// Connector returns a session connector for the request's browser.
func (m *Manager) Connector(req Request) *session.Connector {
	cfg := m.cfg.Browser()
	endpoint := session.ResolveEndpoint(cfg, req.Browser, req.Port)
	return session.NewConnector(cfg, endpoint, m.logger)
}

// Open opens a single page with the requested backend.
func (m *Manager) Open(ctx context.Context, req Request) (*Backend, error) {
	m.logger.Debug("Opening backend.", zap.String("backend", string(req.Backend)))
	switch req.Backend {
	case config.BackendStatic:
		return m.openStatic(ctx, req.Source)
	case config.BackendCDP, config.BackendInPage:
		tab, err := m.Connector(req).Open(ctx, req.Tab)
		if err != nil {
			return nil, err
		}
		return m.tabBackend(tab, req.Backend), nil
	case config.BackendPlaywright:
		endpoint := session.ResolveEndpoint(m.cfg.Browser(), req.Browser, req.Port)
		r, err := pwbridge.Connect(ctx, endpoint, req.Tab, m.cfg.Browser().ConnectTimeout, m.logger)
		if err != nil {
			return nil, err
		}
		return &Backend{Runner: r, Name: r.Title(), closers: []func() error{r.Close}}, nil
	default:
		return nil, fmt.Errorf("unknown backend %q", req.Backend)
	}
}

// OpenAll opens every tab matching the request's tab pattern. Only the CDP
// and in-page backends can address several tabs; the others open one page.
func (m *Manager) OpenAll(ctx context.Context, req Request) ([]*Backend, error) {
	switch req.Backend {
	case config.BackendCDP, config.BackendInPage:
	default:
		b, err := m.Open(ctx, req)
		if err != nil {
			return nil, err
		}
		return []*Backend{b}, nil
	}

	tabs, err := m.Connector(req).OpenAll(ctx, req.Tab.Pattern)
	if err != nil {
		return nil, err
	}
	out := make([]*Backend, 0, len(tabs))
	for _, tab := range tabs {
		out = append(out, m.tabBackend(tab, req.Backend))
	}
	return out, nil
}

func (m *Manager) tabBackend(tab *session.Tab, backend config.Backend) *Backend {
	var r Runner
	if backend == config.BackendInPage {
		r = session.NewInPageRunner(tab.Executor(), m.logger)
	} else {
		r = session.NewCDPRunner(tab.Executor(), m.logger)
	}
	return &Backend{
		Runner: r,
		Name:   tab.Target.Title,
		closers: []func() error{func() error {
			tab.Close()
			return nil
		}},
	}
}

func (m *Manager) openStatic(ctx context.Context, source string) (*Backend, error) {
	if source == "" {
		return nil, ErrSourceRequired
	}
	sc := m.cfg.Static()
	fetcher := dom.NewFetcher(sc.FetchTimeout, sc.MaxBodyBytes, m.logger)

	loaders := dom.SchemeLoader{"file": dom.FileLoader{MaxBytes: sc.MaxBodyBytes}}
	if sc.AllowRemoteFrames {
		loaders["http"] = fetcher
		loaders["https"] = fetcher
	}
	doc, err := dom.Load(ctx, source, fetcher, dom.Options{
		BaseURL:                 sc.BaseURL,
		PierceClosedShadowRoots: sc.PierceClosedShadowRoots,
		Loader:                  loaders,
		Logger:                  m.logger,
	})
	if err != nil {
		return nil, err
	}

	r, err := NewStaticRunner(doc, m.logger)
	if err != nil {
		return nil, err
	}
	return &Backend{Runner: r, Name: source, closers: []func() error{r.Close}}, nil
}
