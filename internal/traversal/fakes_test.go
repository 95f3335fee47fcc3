// internal/traversal/fakes_test.go
package traversal

import (
	"context"
	"fmt"
	"strings"
)

// fakeNode is a minimal element tree. Selectors are ".class", "#id" or a tag
// name; anything starting with "[" is rejected as invalid.
type fakeNode struct {
	tag      string
	id       string
	class    string
	text     string
	children []*fakeNode
	shadow   *fakeNode
	frame    *fakeNode
	frameErr error
}

func el(tag, class, text string, children ...*fakeNode) *fakeNode {
	return &fakeNode{tag: tag, class: class, text: text, children: children}
}

func doc(children ...*fakeNode) *fakeNode {
	return &fakeNode{tag: "#document", children: children}
}

func (n *fakeNode) withShadow(root *fakeNode) *fakeNode { n.shadow = root; return n }
func (n *fakeNode) withFrame(d *fakeNode) *fakeNode     { n.frame = d; return n }
func (n *fakeNode) withID(id string) *fakeNode          { n.id = id; return n }

func (n *fakeNode) matches(selector string) bool {
	switch {
	case strings.HasPrefix(selector, "."):
		for _, c := range strings.Fields(n.class) {
			if c == selector[1:] {
				return true
			}
		}
		return false
	case strings.HasPrefix(selector, "#"):
		return n.id == selector[1:]
	default:
		return n.tag == selector
	}
}

func (n *fakeNode) markup() string {
	var b strings.Builder
	b.WriteString("<" + n.tag)
	if n.class != "" {
		fmt.Fprintf(&b, ` class="%s"`, n.class)
	}
	b.WriteString(">" + n.text)
	for _, c := range n.children {
		b.WriteString(c.markup())
	}
	b.WriteString("</" + n.tag + ">")
	return b.String()
}

// fakeHost records every call so tests can assert on laziness.
type fakeHost struct {
	queries     []string
	serialized  int
	queryErr    error
	shadowErr   error
	cancelAfter int
	cancel      context.CancelFunc
}

func (h *fakeHost) QueryAll(_ context.Context, root Root, selector string) ([]Element, error) {
	h.queries = append(h.queries, selector)
	if h.queryErr != nil {
		return nil, h.queryErr
	}
	if strings.HasPrefix(selector, "[") {
		return nil, &SelectorSyntaxError{Selector: selector}
	}
	var out []Element
	var walk func(n *fakeNode)
	walk = func(n *fakeNode) {
		for _, c := range n.children {
			if c.matches(selector) {
				out = append(out, c)
			}
			walk(c)
		}
	}
	walk(root.(*fakeNode))
	return out, nil
}

func (h *fakeHost) ShadowRoot(_ context.Context, e Element) (Root, bool, error) {
	if h.shadowErr != nil {
		return nil, false, h.shadowErr
	}
	n := e.(*fakeNode)
	if n.shadow == nil {
		return nil, false, nil
	}
	return n.shadow, true, nil
}

func (h *fakeHost) FrameDocument(_ context.Context, e Element) (Root, bool, error) {
	n := e.(*fakeNode)
	if n.tag != "iframe" {
		return nil, false, nil
	}
	if n.frameErr != nil {
		return nil, false, n.frameErr
	}
	if n.frame == nil {
		return doc(), true, nil
	}
	return n.frame, true, nil
}

func (h *fakeHost) Serialize(_ context.Context, e Element) (string, error) {
	h.serialized++
	if h.cancel != nil && h.serialized == h.cancelAfter {
		h.cancel()
	}
	return e.(*fakeNode).markup(), nil
}

// scriptFunc is what the fake evaluator runs for a given script text.
type scriptFunc func(n *fakeNode, index int, all []Element) (string, error)

type fakeEvaluator struct {
	scripts map[string]scriptFunc
	calls   int
}

func (f *fakeEvaluator) Evaluate(ctx context.Context, e Element, index int, all []Element, script string) (string, error) {
	f.calls++
	fn, ok := f.scripts[script]
	if !ok {
		return "", &ActionScriptError{Index: index, Message: "ReferenceError: unknown script"}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return fn(e.(*fakeNode), index, all)
}
