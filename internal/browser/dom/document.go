// browser/dom/document.go
package dom

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/andybalholm/cascadia"
	"github.com/antchfx/htmlquery"
	"github.com/mitchellh/go-homedir"
	"github.com/xkilldash9x/tabquery/internal/browser/shadowdom"
	"github.com/xkilldash9x/tabquery/internal/traversal"
	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Options configures a Document.
type Options struct {
	// BaseURL overrides the document URL used to resolve and origin-check
	// iframe src attributes.
	BaseURL string
	// PierceClosedShadowRoots exposes closed shadow roots to traversal.
	PierceClosedShadowRoots bool
	// Loader fetches same-origin iframe documents. Nil leaves only srcdoc
	// and about:blank frames reachable.
	Loader FrameLoader
	Logger *zap.Logger
}

// Document is a parsed, mutable HTML document with its declarative shadow
// roots instantiated. It implements traversal.Host. Roots passed to the host
// are the Document itself or any *html.Node it handed out.
//
// Reads take the read lock and mutations made through Update take the write
// lock, so action scripts running on another goroutine stay consistent with
// queries.
type Document struct {
	mu      sync.RWMutex
	node    *html.Node
	url     *url.URL
	opts    Options
	logger  *zap.Logger
	shadows shadowRegistry

	frameMu sync.Mutex
	frames  map[*html.Node]*frame
	// origins maps every document node (top and frames) to its URL.
	origins map[*html.Node]*url.URL
}

// frame caches the outcome of resolving an iframe.
type frame struct {
	doc *html.Node
	err error
}

// shadowRegistry maps shadow hosts to their roots and roots back to hosts.
type shadowRegistry struct {
	byHost     map[*html.Node]*shadowdom.ShadowRoot
	byBoundary map[*html.Node]*shadowdom.ShadowRoot
}

func (r shadowRegistry) add(roots map[*html.Node]*shadowdom.ShadowRoot) {
	for host, sr := range roots {
		r.byHost[host] = sr
		r.byBoundary[sr.Root] = sr
	}
}

var _ traversal.Host = (*Document)(nil)

// Parse reads an HTML document from r. docURL may be nil.
func Parse(r io.Reader, docURL *url.URL, opts Options) (*Document, error) {
	node, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parsing document: %w", err)
	}
	return newDocument(node, docURL, opts)
}

// ParseString is Parse over a string.
func ParseString(s string, opts Options) (*Document, error) {
	return Parse(strings.NewReader(s), nil, opts)
}

func newDocument(node *html.Node, docURL *url.URL, opts Options) (*Document, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.BaseURL != "" {
		base, err := url.Parse(opts.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("parsing base URL %q: %w", opts.BaseURL, err)
		}
		docURL = base
	}

	d := &Document{
		node:   node,
		url:    docURL,
		opts:   opts,
		logger: opts.Logger.Named("dom"),
		shadows: shadowRegistry{
			byHost:     make(map[*html.Node]*shadowdom.ShadowRoot),
			byBoundary: make(map[*html.Node]*shadowdom.ShadowRoot),
		},
		frames:  make(map[*html.Node]*frame),
		origins: map[*html.Node]*url.URL{node: docURL},
	}
	d.shadows.add(shadowdom.Engine{}.Attach(node))
	return d, nil
}

// Load reads a document from a file path, "-" for stdin, or an http(s) URL.
// Remote documents are fetched with fetcher, which may be nil for local sources.
func Load(ctx context.Context, source string, fetcher *Fetcher, opts Options) (*Document, error) {
	switch {
	case source == "-":
		return Parse(os.Stdin, nil, opts)

	case strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://"):
		if fetcher == nil {
			return nil, fmt.Errorf("loading %s: no fetcher configured", source)
		}
		u, err := url.Parse(source)
		if err != nil {
			return nil, fmt.Errorf("parsing source URL: %w", err)
		}
		body, finalURL, err := fetcher.Fetch(ctx, u)
		if err != nil {
			return nil, err
		}
		return Parse(strings.NewReader(string(body)), finalURL, opts)

	default:
		path, err := homedir.Expand(strings.TrimPrefix(source, "file://"))
		if err != nil {
			return nil, fmt.Errorf("expanding %s: %w", source, err)
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, err
		}
		f, err := os.Open(abs)
		if err != nil {
			return nil, fmt.Errorf("opening document: %w", err)
		}
		defer f.Close()
		return Parse(f, &url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}, opts)
	}
}

// Root returns the document node.
func (d *Document) Root() *html.Node { return d.node }

// URL returns the document URL, or nil for documents without one.
func (d *Document) URL() *url.URL { return d.url }

// View runs fn while holding the read lock.
func (d *Document) View(fn func()) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	fn()
}

// Update runs fn while holding the write lock.
func (d *Document) Update(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fn()
}

// Body returns the top document's body element. The caller must hold the
// lock through View or Update.
func (d *Document) Body() *html.Node {
	return htmlquery.FindOne(d.node, "//body")
}

// QueryAll implements traversal.Host.
func (d *Document) QueryAll(_ context.Context, root traversal.Root, selector string) ([]traversal.Element, error) {
	rootNode, err := d.rootNode(root)
	if err != nil {
		return nil, err
	}
	matcher, err := Compile(selector)
	if err != nil {
		return nil, err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	matches := cascadia.QueryAll(rootNode, matcher)
	out := make([]traversal.Element, 0, len(matches))
	for _, n := range matches {
		if insideTemplate(n, rootNode) {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

// Select is QueryAll returning nodes. A nil root searches the whole
// document. The caller must hold the lock through View or Update.
func (d *Document) Select(root *html.Node, selector string) ([]*html.Node, error) {
	matcher, err := Compile(selector)
	if err != nil {
		return nil, err
	}
	if root == nil {
		root = d.node
	}
	var out []*html.Node
	for _, n := range cascadia.QueryAll(root, matcher) {
		if !insideTemplate(n, root) {
			out = append(out, n)
		}
	}
	return out, nil
}

// ShadowRoot implements traversal.Host.
func (d *Document) ShadowRoot(_ context.Context, el traversal.Element) (traversal.Root, bool, error) {
	n, err := asNode(el)
	if err != nil {
		return nil, false, err
	}
	if sr := d.ShadowRootOf(n); sr != nil {
		return sr.Root, true, nil
	}
	return nil, false, nil
}

// ShadowRootOf returns the shadow root hosted by n as script would see it:
// closed roots are hidden unless PierceClosedShadowRoots is set.
func (d *Document) ShadowRootOf(n *html.Node) *shadowdom.ShadowRoot {
	d.mu.RLock()
	defer d.mu.RUnlock()
	sr, ok := d.shadows.byHost[n]
	if !ok || (!sr.Open() && !d.opts.PierceClosedShadowRoots) {
		return nil
	}
	return sr
}

// ShadowRootFor returns the shadow root whose boundary node is root, or nil.
func (d *Document) ShadowRootFor(root *html.Node) *shadowdom.ShadowRoot {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.shadows.byBoundary[root]
}

// Serialize implements traversal.Host.
func (d *Document) Serialize(_ context.Context, el traversal.Element) (string, error) {
	n, err := asNode(el)
	if err != nil {
		return "", err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	return OuterHTML(n)
}

// OuterHTML renders n. Shadow content is not part of the light tree and is
// never included.
func OuterHTML(n *html.Node) (string, error) {
	var b strings.Builder
	if err := html.Render(&b, n); err != nil {
		return "", fmt.Errorf("rendering element: %w", err)
	}
	return b.String(), nil
}

// InnerHTML renders the children of n.
func InnerHTML(n *html.Node) (string, error) {
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&b, c); err != nil {
			return "", fmt.Errorf("rendering children: %w", err)
		}
	}
	return b.String(), nil
}

// Compile parses a selector group. Parse failures are SelectorSyntaxErrors.
func Compile(selector string) (cascadia.SelectorGroup, error) {
	group, err := cascadia.ParseGroup(selector)
	if err != nil {
		return nil, &traversal.SelectorSyntaxError{Selector: selector, Err: err}
	}
	return group, nil
}

func (d *Document) rootNode(root traversal.Root) (*html.Node, error) {
	switch r := root.(type) {
	case *Document:
		return r.node, nil
	case *html.Node:
		if r == nil {
			return nil, fmt.Errorf("nil search root")
		}
		return r, nil
	default:
		return nil, fmt.Errorf("unsupported search root %T", root)
	}
}

func asNode(el traversal.Element) (*html.Node, error) {
	n, ok := el.(*html.Node)
	if !ok || n == nil {
		return nil, fmt.Errorf("unsupported element handle %T", el)
	}
	return n, nil
}

// insideTemplate reports whether n sits in the inert content of a <template>
// between it and root.
func insideTemplate(n, root *html.Node) bool {
	for p := n.Parent; p != nil && p != root; p = p.Parent {
		if p.Type == html.ElementNode && p.DataAtom == atom.Template {
			return true
		}
	}
	return false
}
