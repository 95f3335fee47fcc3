// internal/browser/session/endpoint_test.go
package session

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/tabquery/internal/config"
)

func TestResolveEndpoint(t *testing.T) {
	cfg := config.NewDefaultConfig().Browser()

	tests := []struct {
		name    string
		prefer  string
		browser string
		port    int
		want    Endpoint
	}{
		{name: "Preferred Chrome", prefer: "chrome", want: Endpoint{Browser: "chrome", Host: "localhost", Port: 9222}},
		{name: "Preferred Edge", prefer: "edge", want: Endpoint{Browser: "edge", Host: "localhost", Port: 9223}},
		{name: "Flag Beats Preference", prefer: "chrome", browser: "edge", want: Endpoint{Browser: "edge", Host: "localhost", Port: 9223}},
		{name: "Case Insensitive", prefer: "EDGE", want: Endpoint{Browser: "edge", Host: "localhost", Port: 9223}},
		{name: "Port Override", prefer: "chrome", port: 9333, want: Endpoint{Browser: "chrome", Host: "localhost", Port: 9333}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := cfg
			c.Prefer = tt.prefer
			assert.Equal(t, tt.want, ResolveEndpoint(c, tt.browser, tt.port))
		})
	}
}

// endpointFor points an Endpoint at an httptest server.
func endpointFor(t *testing.T, srv *httptest.Server) Endpoint {
	t.Helper()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	host, portStr, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return Endpoint{Browser: "chrome", Host: host, Port: port}
}

func newDebugServer(t *testing.T, version, list string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/json/version", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(version))
	})
	mux.HandleFunc("/json/list", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(list))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

const targetList = `[
  {"id":"A1","type":"page","title":"Inbox","url":"https://mail.example.com/","webSocketDebuggerUrl":"ws://x/devtools/page/A1"},
  {"id":"W1","type":"service_worker","title":"sw","url":"https://mail.example.com/sw.js"},
  {"id":"B2","type":"page","title":"Lo-fi beats - YouTube","url":"https://www.youtube.com/watch?v=1"},
  {"id":"C3","type":"page","title":"Docs","url":"https://docs.example.com/"}
]`

func TestDiscoveryClient(t *testing.T) {
	ctx := context.Background()
	logger := zaptest.NewLogger(t)

	t.Run("Version", func(t *testing.T) {
		srv := newDebugServer(t, `{"Browser":"Chrome/126.0","Protocol-Version":"1.3","webSocketDebuggerUrl":"ws://127.0.0.1/devtools/browser/abc"}`, `[]`)
		client := NewDiscoveryClient(endpointFor(t, srv), time.Second, logger)

		info, err := client.Version(ctx)
		require.NoError(t, err)
		assert.Equal(t, "Chrome/126.0", info.Browser)
		assert.Equal(t, "ws://127.0.0.1/devtools/browser/abc", info.WebSocketDebuggerURL)
	})

	t.Run("VersionWithoutWebSocket", func(t *testing.T) {
		srv := newDebugServer(t, `{"Browser":"Chrome/126.0"}`, `[]`)
		_, err := NewDiscoveryClient(endpointFor(t, srv), time.Second, logger).Version(ctx)
		assert.ErrorIs(t, err, ErrDebugEndpoint)
	})

	t.Run("Targets", func(t *testing.T) {
		srv := newDebugServer(t, `{}`, targetList)
		targets, err := NewDiscoveryClient(endpointFor(t, srv), time.Second, logger).Targets(ctx)
		require.NoError(t, err)
		require.Len(t, targets, 4)
		assert.Equal(t, Target{ID: "A1", Type: "page", Title: "Inbox", URL: "https://mail.example.com/", WebSocketDebuggerURL: "ws://x/devtools/page/A1"}, targets[0])
		assert.False(t, targets[1].IsPage())
	})

	t.Run("BadStatus", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", http.StatusServiceUnavailable)
		}))
		defer srv.Close()
		_, err := NewDiscoveryClient(endpointFor(t, srv), time.Second, logger).Targets(ctx)
		assert.ErrorIs(t, err, ErrDebugEndpoint)
		assert.ErrorContains(t, err, "503")
	})

	t.Run("BadJSON", func(t *testing.T) {
		srv := newDebugServer(t, `{}`, `[{`)
		_, err := NewDiscoveryClient(endpointFor(t, srv), time.Second, logger).Targets(ctx)
		assert.ErrorContains(t, err, "decoding /json/list")
	})

	t.Run("Unreachable", func(t *testing.T) {
		srv := newDebugServer(t, `{}`, `[]`)
		ep := endpointFor(t, srv)
		srv.Close()
		_, err := NewDiscoveryClient(ep, time.Second, logger).Targets(ctx)
		assert.ErrorIs(t, err, ErrDebugEndpoint)
	})
}

func TestEndpointFormatting(t *testing.T) {
	ep := Endpoint{Browser: "edge", Host: "::1", Port: 9223}
	assert.Equal(t, "http://[::1]:9223", ep.BaseURL())
	assert.Equal(t, "edge at [::1]:9223", ep.String())
}
