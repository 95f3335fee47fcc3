// internal/browser/session/attach.go
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/tabquery/internal/config"
)

// Tab is an attached page target.
type Tab struct {
	Target Target

	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	executor    *cdpExecutor
	logger      *zap.Logger
	closeOnce   sync.Once
}

// Context returns the tab's chromedp context.
func (t *Tab) Context() context.Context { return t.ctx }

// Executor returns the throttled Runtime executor for the tab.
func (t *Tab) Executor() Executor { return t.executor }

// Close detaches from the tab. The page itself stays open.
func (t *Tab) Close() {
	t.closeOnce.Do(func() {
		t.logger.Debug("Detaching from tab.")
		t.cancel()
		t.allocCancel()
	})
}

// Connector discovers, selects and attaches to tabs of one browser.
type Connector struct {
	cfg       config.BrowserConfig
	discovery *DiscoveryClient
	limiter   *rate.Limiter
	logger    *zap.Logger
}

// NewConnector creates a connector for endpoint. All tabs it opens share one
// CDP rate limiter.
func NewConnector(cfg config.BrowserConfig, endpoint Endpoint, logger *zap.Logger) *Connector {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("session").With(zap.Stringer("endpoint", endpoint))
	return &Connector{
		cfg:       cfg,
		discovery: NewDiscoveryClient(endpoint, cfg.ConnectTimeout, logger),
		limiter:   newLimiter(cfg.CDPRateLimit, cfg.CDPBurst),
		logger:    logger,
	}
}

// Targets lists the browser's debug targets.
func (c *Connector) Targets(ctx context.Context) ([]Target, error) {
	return c.discovery.Targets(ctx)
}

// Open selects one tab and attaches to it.
func (c *Connector) Open(ctx context.Context, sel TabSelector) (*Tab, error) {
	targets, err := c.discovery.Targets(ctx)
	if err != nil {
		return nil, err
	}
	t, err := SelectTab(targets, sel)
	if err != nil {
		return nil, err
	}
	return c.Attach(ctx, t)
}

// OpenAll attaches to every page matching pattern. Tabs opened before a
// failure are closed again.
func (c *Connector) OpenAll(ctx context.Context, pattern string) ([]*Tab, error) {
	targets, err := c.discovery.Targets(ctx)
	if err != nil {
		return nil, err
	}
	matched, err := MatchTabs(targets, pattern)
	if err != nil {
		return nil, err
	}
	tabs := make([]*Tab, 0, len(matched))
	for _, t := range matched {
		tab, err := c.Attach(ctx, t)
		if err != nil {
			for _, opened := range tabs {
				opened.Close()
			}
			return nil, err
		}
		tabs = append(tabs, tab)
	}
	return tabs, nil
}

// Attach connects to the browser websocket and attaches to target.
func (c *Connector) Attach(ctx context.Context, t Target) (*Tab, error) {
	info, err := c.discovery.Version(ctx)
	if err != nil {
		return nil, err
	}
	logger := c.logger.With(zap.String("target_id", t.ID), zap.String("url", t.URL))

	allocCtx, allocCancel := chromedp.NewRemoteAllocator(ctx, info.WebSocketDebuggerURL, chromedp.NoModifyURL)
	tabCtx, cancel := chromedp.NewContext(allocCtx,
		chromedp.WithTargetID(target.ID(t.ID)),
		chromedp.WithLogf(logger.Sugar().Debugf),
		chromedp.WithErrorf(logger.Sugar().Debugf),
	)

	// The first Run allocates the connection and must see the tab context
	// itself, so the attach timeout cancels the tab from outside.
	attachCtx, cancelAttach := context.WithTimeout(ctx, c.connectTimeout())
	defer cancelAttach()
	stop := context.AfterFunc(attachCtx, cancel)

	err = chromedp.Run(tabCtx)
	if !stop() {
		err = fmt.Errorf("attach timed out: %w", attachCtx.Err())
	}
	if err != nil {
		cancel()
		allocCancel()
		return nil, fmt.Errorf("attaching to tab %q (%s): %w", t.Title, t.ID, err)
	}

	logger.Info("Attached to tab.", zap.String("title", t.Title))
	return &Tab{
		Target:      t,
		ctx:         tabCtx,
		cancel:      cancel,
		allocCancel: allocCancel,
		executor:    newCDPExecutor(tabCtx, c.limiter, logger),
		logger:      logger,
	}, nil
}

func (c *Connector) connectTimeout() time.Duration {
	if c.cfg.ConnectTimeout <= 0 {
		return 10 * time.Second
	}
	return c.cfg.ConnectTimeout
}
