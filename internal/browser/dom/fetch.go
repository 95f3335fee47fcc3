// browser/dom/fetch.go
package dom

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"go.uber.org/zap"
	"golang.org/x/net/html"
)

// FrameLoader loads the document behind a same-origin frame URL.
type FrameLoader interface {
	Load(ctx context.Context, u *url.URL) (*html.Node, error)
}

// SchemeLoader dispatches to a loader by URL scheme.
type SchemeLoader map[string]FrameLoader

func (s SchemeLoader) Load(ctx context.Context, u *url.URL) (*html.Node, error) {
	loader, ok := s[strings.ToLower(u.Scheme)]
	if !ok {
		return nil, fmt.Errorf("no loader for scheme %q", u.Scheme)
	}
	return loader.Load(ctx, u)
}

// FileLoader reads file: URLs from the local filesystem.
type FileLoader struct {
	MaxBytes int64
}

func (f FileLoader) Load(_ context.Context, u *url.URL) (*html.Node, error) {
	file, err := os.Open(u.Path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	body, err := readLimited(file, f.MaxBytes)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", u.Path, err)
	}
	return html.Parse(strings.NewReader(string(body)))
}

// ErrBodyTooLarge is returned when a document exceeds the configured size limit.
var ErrBodyTooLarge = errors.New("document exceeds size limit")

// Fetcher downloads documents over HTTP(S), decoding gzip, deflate and brotli
// bodies.
type Fetcher struct {
	client   *http.Client
	maxBytes int64
	logger   *zap.Logger
}

// NewFetcher creates a Fetcher with its own client. maxBytes <= 0 disables the limit.
func NewFetcher(timeout time.Duration, maxBytes int64, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		client: &http.Client{
			Timeout:   timeout,
			Transport: &decodingTransport{base: http.DefaultTransport},
		},
		maxBytes: maxBytes,
		logger:   logger.Named("fetcher"),
	}
}

// Fetch returns the body of u and the URL it was finally served from.
func (f *Fetcher) Fetch(ctx context.Context, u *url.URL) ([]byte, *url.URL, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("fetching %s: %w", u, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, nil, fmt.Errorf("fetching %s: unexpected status %s", u, resp.Status)
	}

	body, err := readLimited(resp.Body, f.maxBytes)
	if err != nil {
		return nil, nil, fmt.Errorf("reading %s: %w", u, err)
	}
	f.logger.Debug("Fetched document.",
		zap.String("url", resp.Request.URL.String()),
		zap.Int("bytes", len(body)))
	return body, resp.Request.URL, nil
}

// Load implements FrameLoader.
func (f *Fetcher) Load(ctx context.Context, u *url.URL) (*html.Node, error) {
	body, _, err := f.Fetch(ctx, u)
	if err != nil {
		return nil, err
	}
	return html.Parse(strings.NewReader(string(body)))
}

func readLimited(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(r)
	}
	body, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > limit {
		return nil, ErrBodyTooLarge
	}
	return body, nil
}

// decodingTransport advertises compressed encodings and unwraps the response
// body. Layered encodings are decoded in reverse order of application.
type decodingTransport struct {
	base http.RoundTripper
}

func (t *decodingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("Accept-Encoding") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("Accept-Encoding", "br, gzip, deflate")
	}

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if err := decodeBody(resp); err != nil {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("initializing response decoding: %w", err)
	}
	return resp, nil
}

func decodeBody(resp *http.Response) error {
	var layers []string
	for _, value := range resp.Header.Values("Content-Encoding") {
		for _, layer := range strings.Split(value, ",") {
			layers = append(layers, strings.ToLower(strings.TrimSpace(layer)))
		}
	}
	if len(layers) == 0 {
		return nil
	}

	for i := len(layers) - 1; i >= 0; i-- {
		var reader io.ReadCloser
		switch layers[i] {
		case "gzip", "x-gzip":
			zr, err := gzip.NewReader(resp.Body)
			if err != nil {
				return fmt.Errorf("gzip: %w", err)
			}
			reader = zr
		case "br":
			reader = io.NopCloser(brotli.NewReader(resp.Body))
		case "deflate":
			reader = flate.NewReader(resp.Body)
		case "identity", "":
			continue
		default:
			return fmt.Errorf("unsupported Content-Encoding %q", layers[i])
		}
		resp.Body = &layeredBody{ReadCloser: reader, inner: resp.Body}
	}

	resp.Header.Del("Content-Encoding")
	resp.Header.Del("Content-Length")
	resp.ContentLength = -1
	resp.Uncompressed = true
	return nil
}

// layeredBody closes the decoder and the body it reads from.
type layeredBody struct {
	io.ReadCloser
	inner io.ReadCloser
}

func (b *layeredBody) Close() error {
	return errors.Join(b.ReadCloser.Close(), b.inner.Close())
}
