// internal/browser/shadowdom/shadow.go
package shadowdom

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// BoundaryTag names the synthetic node that stands in for a shadow root. The
// node is a document node, never an element, so no selector matches it and
// combinators cannot match through it. It is never attached to the light
// tree, so light DOM queries cannot reach shadow content.
const BoundaryTag = "shadow-root-boundary"

// Mode is the shadowrootmode of a declarative shadow root.
type Mode string

const (
	ModeOpen   Mode = "open"
	ModeClosed Mode = "closed"
)

// ShadowRoot is an instantiated declarative shadow root.
type ShadowRoot struct {
	Host *html.Node
	// Root is the detached boundary node holding the shadow tree.
	Root *html.Node
	Mode Mode
}

// Open reports whether script can reach the root through element.shadowRoot.
func (s *ShadowRoot) Open() bool { return s.Mode == ModeOpen }

// Engine turns <template shadowrootmode> children into shadow roots.
type Engine struct{}

// DetectShadowHost reports whether host has a direct <template> child with a
// valid shadowrootmode attribute.
func (e Engine) DetectShadowHost(host *html.Node) bool {
	return declarativeTemplate(host) != nil
}

// InstantiateShadowRoot moves the contents of host's declarative template
// into a new shadow root and removes the template from host. It returns nil
// when host is not a shadow host. Templates nested inside the new root are
// left untouched; Attach handles them.
func (e Engine) InstantiateShadowRoot(host *html.Node) *ShadowRoot {
	tmpl := declarativeTemplate(host)
	if tmpl == nil {
		return nil
	}

	root := &html.Node{Type: html.DocumentNode, Data: BoundaryTag}
	for c := tmpl.FirstChild; c != nil; {
		next := c.NextSibling
		tmpl.RemoveChild(c)
		root.AppendChild(c)
		c = next
	}
	host.RemoveChild(tmpl)

	return &ShadowRoot{
		Host: host,
		Root: root,
		Mode: Mode(strings.ToLower(getAttr(tmpl, "shadowrootmode"))),
	}
}

// Attach instantiates every declarative shadow root under n, including roots
// declared inside other shadow roots, and returns them keyed by host.
func (e Engine) Attach(n *html.Node) map[*html.Node]*ShadowRoot {
	roots := make(map[*html.Node]*ShadowRoot)
	e.attachInto(n, roots)
	return roots
}

func (e Engine) attachInto(n *html.Node, roots map[*html.Node]*ShadowRoot) {
	for c := n.FirstChild; c != nil; {
		// Instantiation removes a child, so remember the sibling first.
		next := c.NextSibling
		if c.Type == html.ElementNode {
			if sr := e.InstantiateShadowRoot(c); sr != nil {
				roots[c] = sr
				e.attachInto(sr.Root, roots)
			}
			if c.DataAtom != atom.Template {
				e.attachInto(c, roots)
			}
		}
		c = next
	}
}

// IsBoundary reports whether n is a shadow root boundary node.
func IsBoundary(n *html.Node) bool {
	return n != nil && n.Type == html.DocumentNode && n.Data == BoundaryTag
}

// declarativeTemplate returns the first direct <template> child of host
// carrying shadowrootmode="open" or "closed".
func declarativeTemplate(host *html.Node) *html.Node {
	if host == nil || host.Type != html.ElementNode {
		return nil
	}
	for c := host.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode || c.DataAtom != atom.Template {
			continue
		}
		switch Mode(strings.ToLower(getAttr(c, "shadowrootmode"))) {
		case ModeOpen, ModeClosed:
			return c
		}
	}
	return nil
}

// getAttr is a case-insensitive attribute lookup.
func getAttr(n *html.Node, key string) string {
	if n == nil {
		return ""
	}
	for _, attr := range n.Attr {
		if strings.EqualFold(attr.Key, key) {
			return attr.Val
		}
	}
	return ""
}
