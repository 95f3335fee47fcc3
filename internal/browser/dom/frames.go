// browser/dom/frames.go
package dom

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/xkilldash9x/tabquery/internal/browser/shadowdom"
	"github.com/xkilldash9x/tabquery/internal/traversal"
	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// FrameDocument implements traversal.Host. srcdoc documents share their
// parent's origin. src documents are loaded only when they are same-origin
// with the document containing the iframe. Resolved frames are cached, so
// mutations inside them survive across traversals.
func (d *Document) FrameDocument(ctx context.Context, el traversal.Element) (traversal.Root, bool, error) {
	n, err := asNode(el)
	if err != nil {
		return nil, false, err
	}
	if n.Type != html.ElementNode || n.DataAtom != atom.Iframe {
		return nil, false, nil
	}

	d.frameMu.Lock()
	defer d.frameMu.Unlock()

	if f, ok := d.frames[n]; ok {
		if f.err != nil {
			return nil, false, f.err
		}
		return f.doc, true, nil
	}

	doc, err := d.resolveFrame(ctx, n)
	if err != nil && ctx.Err() != nil {
		// Cancellation is not a property of the frame; do not cache it.
		return nil, false, ctx.Err()
	}
	d.frames[n] = &frame{doc: doc, err: err}
	if err != nil {
		return nil, false, err
	}
	return doc, true, nil
}

func (d *Document) resolveFrame(ctx context.Context, iframe *html.Node) (*html.Node, error) {
	d.mu.RLock()
	parentURL := d.ownerURL(iframe)
	sandbox, sandboxed := attr(iframe, "sandbox")
	srcdoc, hasSrcdoc := attr(iframe, "srcdoc")
	src, _ := attr(iframe, "src")
	label := NodePath(iframe)
	d.mu.RUnlock()

	if src != "" {
		label = src
	}
	if sandboxed && !hasToken(sandbox, "allow-same-origin") {
		return nil, &traversal.FrameAccessError{Frame: label, Reason: "sandboxed without allow-same-origin"}
	}

	var (
		node     *html.Node
		frameURL *url.URL
		err      error
	)
	switch {
	case hasSrcdoc:
		node, err = html.Parse(strings.NewReader(srcdoc))
		if err != nil {
			return nil, &traversal.FrameAccessError{Frame: label, Reason: "unparsable srcdoc", Err: err}
		}
		frameURL = parentURL

	case strings.TrimSpace(src) == "" || strings.EqualFold(strings.TrimSpace(src), "about:blank"):
		node, err = html.Parse(strings.NewReader(""))
		if err != nil {
			return nil, err
		}
		frameURL = parentURL

	default:
		frameURL, err = resolveRef(parentURL, src)
		if err != nil {
			return nil, &traversal.FrameAccessError{Frame: label, Reason: "invalid src", Err: err}
		}
		if !sameOrigin(parentURL, frameURL) {
			return nil, &traversal.FrameAccessError{Frame: frameURL.String(), Reason: "cross-origin"}
		}
		if d.opts.Loader == nil {
			return nil, &traversal.FrameAccessError{Frame: frameURL.String(), Reason: "frame loading disabled"}
		}
		node, err = d.opts.Loader.Load(ctx, frameURL)
		if err != nil {
			return nil, &traversal.FrameAccessError{Frame: frameURL.String(), Reason: "load failed", Err: err}
		}
	}

	roots := shadowdom.Engine{}.Attach(node)

	d.mu.Lock()
	d.shadows.add(roots)
	d.origins[node] = frameURL
	d.mu.Unlock()

	d.logger.Debug("Frame document attached.",
		zap.String("frame", label),
		zap.Int("shadow_roots", len(roots)))
	return node, nil
}

// ownerURL climbs from n to its document node, crossing shadow boundaries,
// and returns that document's URL. The caller must hold the read lock.
func (d *Document) ownerURL(n *html.Node) *url.URL {
	for cur := n; cur != nil; {
		if cur.Parent == nil {
			if sr, ok := d.shadows.byBoundary[cur]; ok {
				cur = sr.Host
				continue
			}
			return d.origins[cur]
		}
		cur = cur.Parent
	}
	return d.url
}

func resolveRef(base *url.URL, ref string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return nil, err
	}
	if base == nil {
		if !u.IsAbs() {
			return nil, fmt.Errorf("relative src %q in a document without a URL", ref)
		}
		return u, nil
	}
	return base.ResolveReference(u), nil
}

// sameOrigin compares scheme, host and effective port. A document without a
// URL is treated as an opaque origin.
func sameOrigin(a, b *url.URL) bool {
	if a == nil || b == nil {
		return false
	}
	if !strings.EqualFold(a.Scheme, b.Scheme) || !strings.EqualFold(a.Hostname(), b.Hostname()) {
		return false
	}
	return effectivePort(a) == effectivePort(b)
}

func effectivePort(u *url.URL) string {
	if p := u.Port(); p != "" {
		return p
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "ws":
		return "80"
	case "https", "wss":
		return "443"
	}
	return ""
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, key) {
			return a.Val, true
		}
	}
	return "", false
}

func hasToken(list, token string) bool {
	for _, t := range strings.Fields(list) {
		if strings.EqualFold(t, token) {
			return true
		}
	}
	return false
}
