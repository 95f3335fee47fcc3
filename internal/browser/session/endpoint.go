// internal/browser/session/endpoint.go
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tabquery/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	// ErrNoPageTarget is returned when the browser exposes no page targets.
	ErrNoPageTarget = errors.New("no page target available")
	// ErrTabNotFound is returned when no page matches the tab selector.
	ErrTabNotFound = errors.New("no tab matches")
	// ErrDebugEndpoint wraps failures talking to the remote debugging port.
	ErrDebugEndpoint = errors.New("remote debugging endpoint unavailable")
)

// Endpoint is the HTTP side of a browser's remote debugging port.
type Endpoint struct {
	Browser string
	Host    string
	Port    int
}

// BaseURL is the http URL of the debugging endpoint.
func (e Endpoint) BaseURL() string {
	return "http://" + net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s at %s", e.Browser, net.JoinHostPort(e.Host, strconv.Itoa(e.Port)))
}

// ResolveEndpoint picks the debugging endpoint. An explicit browser wins
// over the configured preference, and a non-zero port overrides the
// browser's configured port.
func ResolveEndpoint(cfg config.BrowserConfig, browser string, port int) Endpoint {
	if browser == "" {
		browser = cfg.Prefer
	}
	if strings.EqualFold(browser, config.BrowserEdge) {
		browser = config.BrowserEdge
	} else {
		browser = config.BrowserChrome
	}
	if port == 0 {
		port = cfg.Port(browser)
	}
	return Endpoint{Browser: browser, Host: cfg.Host, Port: port}
}

// VersionInfo is the payload of /json/version.
type VersionInfo struct {
	Browser              string `json:"Browser"`
	ProtocolVersion      string `json:"Protocol-Version"`
	UserAgent            string `json:"User-Agent"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// Target is one entry of /json/list.
type Target struct {
	ID                   string `json:"id"`
	Type                 string `json:"type"`
	Title                string `json:"title"`
	URL                  string `json:"url"`
	Description          string `json:"description,omitempty"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl,omitempty"`
}

// IsPage reports whether the target is a regular tab.
func (t Target) IsPage() bool { return t.Type == "page" }

// DiscoveryClient reads the browser's HTTP debugging endpoints.
type DiscoveryClient struct {
	endpoint Endpoint
	client   *http.Client
	logger   *zap.Logger
}

// NewDiscoveryClient creates a client for endpoint.
func NewDiscoveryClient(endpoint Endpoint, timeout time.Duration, logger *zap.Logger) *DiscoveryClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DiscoveryClient{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		logger:   logger.Named("discovery"),
	}
}

// Version fetches /json/version. The returned debugger URL is required.
func (c *DiscoveryClient) Version(ctx context.Context) (*VersionInfo, error) {
	var info VersionInfo
	if err := c.getJSON(ctx, "/json/version", &info); err != nil {
		return nil, err
	}
	if info.WebSocketDebuggerURL == "" {
		return nil, fmt.Errorf("%w: %s reported no webSocketDebuggerUrl", ErrDebugEndpoint, c.endpoint)
	}
	return &info, nil
}

// Targets fetches /json/list.
func (c *DiscoveryClient) Targets(ctx context.Context) ([]Target, error) {
	var targets []Target
	if err := c.getJSON(ctx, "/json/list", &targets); err != nil {
		return nil, err
	}
	c.logger.Debug("Listed debug targets.", zap.Stringer("endpoint", c.endpoint), zap.Int("targets", len(targets)))
	return targets, nil
}

func (c *DiscoveryClient) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint.BaseURL()+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrDebugEndpoint, c.endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s%s returned %s", ErrDebugEndpoint, c.endpoint, path, resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}
