// internal/browser/jsbind/dom_bridge.go
package jsbind

import (
	"fmt"
	"strings"

	"github.com/antchfx/htmlquery"
	"github.com/dop251/goja"
	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/xkilldash9x/tabquery/internal/browser/dom"
	"github.com/xkilldash9x/tabquery/internal/browser/shadowdom"
)

// wrapperKey holds the Go wrapper on every node object. It is not enumerable.
const wrapperKey = "__go_node_wrapper__"

// Node type values as scripts see them.
const (
	elementNodeType  = 1
	textNodeType     = 3
	commentNodeType  = 8
	documentNodeType = 9
	doctypeNodeType  = 10
	fragmentNodeType = 11
)

// DOMBridge exposes a dom.Document to a goja runtime as the document and
// window globals. A bridge is bound to one runtime and every method must be
// called from the goroutine that drives it. Tree reads take the document's
// read lock and mutations its write lock.
type DOMBridge struct {
	vm     *goja.Runtime
	doc    *dom.Document
	logger *zap.Logger

	// One wrapper per node, so `e === n[i]` holds in scripts.
	nodes    map[*html.Node]*Element
	media    map[*html.Node]*MediaState
	document *goja.Object
}

// Element is the Go side of a wrapped node.
type Element struct {
	bridge *DOMBridge
	Node   *html.Node
	Object *goja.Object
}

// MediaState is the playback state of a media element. Documents carry no
// media pipeline, so play and pause only flip this state.
type MediaState struct {
	Paused bool
}

// NewDOMBridge binds doc to vm and installs the document, window, self and
// location globals.
func NewDOMBridge(vm *goja.Runtime, doc *dom.Document, logger *zap.Logger) *DOMBridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &DOMBridge{
		vm:     vm,
		doc:    doc,
		logger: logger.Named("dom_bridge"),
		nodes:  make(map[*html.Node]*Element),
		media:  make(map[*html.Node]*MediaState),
	}
	b.initializeRuntime()
	return b
}

func (b *DOMBridge) initializeRuntime() {
	global := b.vm.GlobalObject()
	b.document = b.newDocumentObject()

	b.setGlobal(global, "window", global)
	b.setGlobal(global, "self", global)
	b.setGlobal(global, "document", b.document)
	b.setGlobal(global, "location", b.newLocation())
}

func (b *DOMBridge) setGlobal(global *goja.Object, name string, v goja.Value) {
	if err := global.Set(name, v); err != nil {
		b.logger.Error("Failed to set global.", zap.String("name", name), zap.Error(err))
	}
}

// Paused reports the playback state of a media element.
func (b *DOMBridge) Paused(n *html.Node) bool {
	return b.mediaState(n).Paused
}

// InheritMedia carries the playback state recorded by prev into b. prev
// must no longer be in use on its own VM.
func (b *DOMBridge) InheritMedia(prev *DOMBridge) {
	for n, s := range prev.media {
		b.media[n] = s
	}
}

// WrapNode returns the script object for node, or null.
func (b *DOMBridge) WrapNode(node *html.Node) goja.Value {
	if node == nil {
		return goja.Null()
	}
	if node == b.doc.Root() {
		return b.document
	}
	if e, ok := b.nodes[node]; ok {
		return e.Object
	}

	e := &Element{bridge: b, Node: node, Object: b.vm.NewObject()}
	b.nodes[node] = e
	if err := e.Object.DefineDataProperty(wrapperKey, b.vm.ToValue(e), goja.FLAG_FALSE, goja.FLAG_FALSE, goja.FLAG_FALSE); err != nil {
		b.logger.Error("Failed to tag node wrapper.", zap.Error(err))
	}
	e.define()
	return e.Object
}

// WrapNodeList returns nodes as a script array.
func (b *DOMBridge) WrapNodeList(nodes []*html.Node) goja.Value {
	wrapped := make([]any, len(nodes))
	for i, n := range nodes {
		wrapped[i] = b.WrapNode(n)
	}
	return b.vm.NewArray(wrapped...)
}

// Unwrap returns the node behind a script value.
func (b *DOMBridge) Unwrap(v goja.Value) (*html.Node, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, &NotNodeError{Got: "null"}
	}
	obj, ok := v.(*goja.Object)
	if !ok {
		return nil, &NotNodeError{Got: fmt.Sprintf("%T", v.Export())}
	}
	if obj == b.document {
		return b.doc.Root(), nil
	}
	w := obj.Get(wrapperKey)
	if w == nil || goja.IsUndefined(w) {
		return nil, &NotNodeError{Got: "object"}
	}
	e, ok := w.Export().(*Element)
	if !ok {
		return nil, &NotNodeError{Got: fmt.Sprintf("%T", w.Export())}
	}
	return e.Node, nil
}

func (b *DOMBridge) mustUnwrap(v goja.Value, method string) *html.Node {
	n, err := b.Unwrap(v)
	if err != nil {
		b.throw("TypeError", "Failed to execute '%s' on 'Node': %s.", method, err)
	}
	return n
}

// -- property helpers --

// accessor defines a non-enumerable accessor. set may be nil.
func (b *DOMBridge) accessor(obj *goja.Object, name string, get func() goja.Value, set func(goja.Value)) {
	getter := b.vm.ToValue(func(goja.FunctionCall) goja.Value { return get() })
	var setter goja.Value
	if set != nil {
		setter = b.vm.ToValue(func(call goja.FunctionCall) goja.Value {
			set(call.Argument(0))
			return goja.Undefined()
		})
	}
	if err := obj.DefineAccessorProperty(name, getter, setter, goja.FLAG_TRUE, goja.FLAG_FALSE); err != nil {
		b.logger.Error("Failed to define accessor.", zap.String("name", name), zap.Error(err))
	}
}

// method defines a non-enumerable function property.
func (b *DOMBridge) method(obj *goja.Object, name string, fn func(goja.FunctionCall) goja.Value) {
	b.constant(obj, name, b.vm.ToValue(fn))
}

func (b *DOMBridge) constant(obj *goja.Object, name string, v any) {
	if err := obj.DefineDataProperty(name, b.vm.ToValue(v), goja.FLAG_TRUE, goja.FLAG_TRUE, goja.FLAG_FALSE); err != nil {
		b.logger.Error("Failed to define property.", zap.String("name", name), zap.Error(err))
	}
}

func (b *DOMBridge) str(s string) goja.Value { return b.vm.ToValue(s) }

// -- document and window --

func (b *DOMBridge) newDocumentObject() *goja.Object {
	obj := b.vm.NewObject()
	root := b.doc.Root()

	b.constant(obj, "nodeType", documentNodeType)
	b.constant(obj, "nodeName", "#document")
	b.accessor(obj, "documentElement", func() goja.Value { return b.findOne(root, "/html") }, nil)
	b.accessor(obj, "head", func() goja.Value { return b.findOne(root, "//head") }, nil)
	b.accessor(obj, "body", func() goja.Value {
		var body *html.Node
		b.doc.View(func() { body = b.doc.Body() })
		return b.WrapNode(body)
	}, nil)
	b.accessor(obj, "title", func() goja.Value {
		var title string
		b.doc.View(func() {
			if n := htmlquery.FindOne(root, "//title"); n != nil {
				title = strings.TrimSpace(htmlquery.InnerText(n))
			}
		})
		return b.str(title)
	}, nil)
	b.accessor(obj, "URL", func() goja.Value { return b.str(b.documentURL()) }, nil)

	b.method(obj, "querySelector", b.querySelector(nil, "Document"))
	b.method(obj, "querySelectorAll", b.querySelectorAll(nil, "Document"))
	b.method(obj, "getElementById", func(call goja.FunctionCall) goja.Value {
		id := call.Argument(0).String()
		var found *html.Node
		b.doc.View(func() {
			found = findFirst(root, func(n *html.Node) bool {
				v, ok := getAttr(n, "id")
				return ok && v == id
			})
		})
		return b.WrapNode(found)
	})
	b.method(obj, "createElement", func(call goja.FunctionCall) goja.Value {
		tag := strings.ToLower(call.Argument(0).String())
		return b.WrapNode(&html.Node{Type: html.ElementNode, Data: tag, DataAtom: atom.Lookup([]byte(tag))})
	})
	b.method(obj, "createTextNode", func(call goja.FunctionCall) goja.Value {
		return b.WrapNode(&html.Node{Type: html.TextNode, Data: call.Argument(0).String()})
	})
	return obj
}

func (b *DOMBridge) newLocation() *goja.Object {
	obj := b.vm.NewObject()
	b.accessor(obj, "href", func() goja.Value { return b.str(b.documentURL()) }, nil)
	b.method(obj, "toString", func(goja.FunctionCall) goja.Value { return b.str(b.documentURL()) })
	return obj
}

func (b *DOMBridge) documentURL() string {
	if u := b.doc.URL(); u != nil {
		return u.String()
	}
	return "about:blank"
}

func (b *DOMBridge) findOne(root *html.Node, expr string) goja.Value {
	var n *html.Node
	b.doc.View(func() { n = htmlquery.FindOne(root, expr) })
	return b.WrapNode(n)
}

func (b *DOMBridge) selectNodes(root *html.Node, method, target, selector string) []*html.Node {
	var (
		nodes []*html.Node
		err   error
	)
	b.doc.View(func() { nodes, err = b.doc.Select(root, selector) })
	if err != nil {
		b.throwInvalidSelector(method, target, selector)
	}
	return nodes
}

func (b *DOMBridge) querySelector(root *html.Node, target string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		nodes := b.selectNodes(root, "querySelector", target, call.Argument(0).String())
		if len(nodes) == 0 {
			return goja.Null()
		}
		return b.WrapNode(nodes[0])
	}
}

func (b *DOMBridge) querySelectorAll(root *html.Node, target string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		return b.WrapNodeList(b.selectNodes(root, "querySelectorAll", target, call.Argument(0).String()))
	}
}

// -- nodes --

func (e *Element) define() {
	b, o, n := e.bridge, e.Object, e.Node

	b.constant(o, "nodeType", nodeType(n))
	b.constant(o, "nodeName", nodeName(n))

	b.accessor(o, "parentNode", func() goja.Value { return e.related(func() *html.Node { return n.Parent }) }, nil)
	b.accessor(o, "parentElement", func() goja.Value {
		return e.related(func() *html.Node {
			if p := n.Parent; p != nil && isElement(p) {
				return p
			}
			return nil
		})
	}, nil)
	b.accessor(o, "firstChild", func() goja.Value { return e.related(func() *html.Node { return n.FirstChild }) }, nil)
	b.accessor(o, "lastChild", func() goja.Value { return e.related(func() *html.Node { return n.LastChild }) }, nil)
	b.accessor(o, "nextSibling", func() goja.Value { return e.related(func() *html.Node { return n.NextSibling }) }, nil)
	b.accessor(o, "previousSibling", func() goja.Value { return e.related(func() *html.Node { return n.PrevSibling }) }, nil)
	b.accessor(o, "childNodes", func() goja.Value { return e.list(func(*html.Node) bool { return true }) }, nil)

	b.accessor(o, "textContent", e.textContent, e.setTextContent)
	b.method(o, "appendChild", e.appendChild)
	b.method(o, "removeChild", e.removeChild)
	b.method(o, "insertBefore", e.insertBefore)
	b.method(o, "remove", e.remove)
	b.method(o, "cloneNode", e.cloneNode)
	b.method(o, "contains", e.contains)

	switch {
	case shadowdom.IsBoundary(n):
		e.defineShadowRoot()
	case n.Type == html.ElementNode:
		e.defineElement()
	case n.Type == html.TextNode || n.Type == html.CommentNode:
		b.accessor(o, "data", e.textContent, e.setTextContent)
	}
}

func (e *Element) defineContainer(target string) {
	b, o, n := e.bridge, e.Object, e.Node

	b.accessor(o, "children", func() goja.Value { return e.list(isElement) }, nil)
	b.accessor(o, "childElementCount", func() goja.Value {
		count := 0
		b.doc.View(func() {
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				if isElement(c) {
					count++
				}
			}
		})
		return b.vm.ToValue(count)
	}, nil)
	b.accessor(o, "firstElementChild", func() goja.Value {
		return e.related(func() *html.Node { return nextElement(n.FirstChild, forward) })
	}, nil)
	b.accessor(o, "lastElementChild", func() goja.Value {
		return e.related(func() *html.Node { return nextElement(n.LastChild, backward) })
	}, nil)
	b.accessor(o, "innerHTML", e.innerHTML, e.setInnerHTML)
	b.method(o, "querySelector", b.querySelector(n, target))
	b.method(o, "querySelectorAll", b.querySelectorAll(n, target))
}

func (e *Element) defineShadowRoot() {
	b, o, n := e.bridge, e.Object, e.Node
	e.defineContainer("DocumentFragment")

	b.accessor(o, "host", func() goja.Value {
		if sr := b.doc.ShadowRootFor(n); sr != nil {
			return b.WrapNode(sr.Host)
		}
		return goja.Null()
	}, nil)
	b.accessor(o, "mode", func() goja.Value {
		if sr := b.doc.ShadowRootFor(n); sr != nil {
			return b.str(string(sr.Mode))
		}
		return goja.Undefined()
	}, nil)
}

func (e *Element) defineElement() {
	b, o, n := e.bridge, e.Object, e.Node
	e.defineContainer("Element")

	b.constant(o, "tagName", strings.ToUpper(n.Data))
	b.constant(o, "localName", n.Data)

	b.accessor(o, "nextElementSibling", func() goja.Value {
		return e.related(func() *html.Node { return nextElement(n.NextSibling, forward) })
	}, nil)
	b.accessor(o, "previousElementSibling", func() goja.Value {
		return e.related(func() *html.Node { return nextElement(n.PrevSibling, backward) })
	}, nil)
	b.accessor(o, "id", e.reflectAttr("id"), e.reflectSetAttr("id"))
	b.accessor(o, "className", e.reflectAttr("class"), e.reflectSetAttr("class"))
	b.accessor(o, "classList", e.classList, nil)
	b.accessor(o, "style", e.style, func(v goja.Value) { e.setAttribute("style", v.String()) })
	b.accessor(o, "outerHTML", e.outerHTML, nil)
	b.accessor(o, "innerText", e.textContent, e.setTextContent)
	b.accessor(o, "shadowRoot", func() goja.Value {
		if sr := b.doc.ShadowRootOf(n); sr != nil {
			return b.WrapNode(sr.Root)
		}
		return goja.Null()
	}, nil)

	b.method(o, "getAttribute", func(call goja.FunctionCall) goja.Value {
		var (
			v  string
			ok bool
		)
		b.doc.View(func() { v, ok = getAttr(n, call.Argument(0).String()) })
		if !ok {
			return goja.Null()
		}
		return b.str(v)
	})
	b.method(o, "hasAttribute", func(call goja.FunctionCall) goja.Value {
		var ok bool
		b.doc.View(func() { _, ok = getAttr(n, call.Argument(0).String()) })
		return b.vm.ToValue(ok)
	})
	b.method(o, "getAttributeNames", func(goja.FunctionCall) goja.Value {
		var names []any
		b.doc.View(func() {
			for _, a := range n.Attr {
				names = append(names, a.Key)
			}
		})
		return b.vm.NewArray(names...)
	})
	b.method(o, "setAttribute", func(call goja.FunctionCall) goja.Value {
		e.setAttribute(call.Argument(0).String(), call.Argument(1).String())
		return goja.Undefined()
	})
	b.method(o, "removeAttribute", func(call goja.FunctionCall) goja.Value {
		b.doc.Update(func() { removeAttr(n, call.Argument(0).String()) })
		return goja.Undefined()
	})
	b.method(o, "matches", func(call goja.FunctionCall) goja.Value {
		return b.vm.ToValue(e.matches("matches", call.Argument(0).String(), n))
	})
	b.method(o, "closest", func(call goja.FunctionCall) goja.Value {
		sel := call.Argument(0).String()
		for cur := n; cur != nil && isElement(cur); cur = cur.Parent {
			if e.matches("closest", sel, cur) {
				return b.WrapNode(cur)
			}
		}
		return goja.Null()
	})

	if n.DataAtom == atom.Video || n.DataAtom == atom.Audio {
		e.defineMedia()
	}
}

func (e *Element) defineMedia() {
	b, o, n := e.bridge, e.Object, e.Node

	b.accessor(o, "paused", func() goja.Value { return b.vm.ToValue(b.mediaState(n).Paused) }, nil)
	b.method(o, "pause", func(goja.FunctionCall) goja.Value {
		b.mediaState(n).Paused = true
		b.logger.Debug("Media paused.", zap.String("element", dom.NodePath(n)))
		return goja.Undefined()
	})
	b.method(o, "play", func(goja.FunctionCall) goja.Value {
		b.mediaState(n).Paused = false
		b.logger.Debug("Media playing.", zap.String("element", dom.NodePath(n)))
		promise, resolve, _ := b.vm.NewPromise()
		resolve(goja.Undefined())
		return b.vm.ToValue(promise)
	})
}

func (b *DOMBridge) mediaState(n *html.Node) *MediaState {
	if s, ok := b.media[n]; ok {
		return s
	}
	var autoplay bool
	b.doc.View(func() { _, autoplay = getAttr(n, "autoplay") })
	s := &MediaState{Paused: !autoplay}
	b.media[n] = s
	return s
}

// related resolves a node under the read lock and wraps it.
func (e *Element) related(pick func() *html.Node) goja.Value {
	var n *html.Node
	e.bridge.doc.View(func() { n = pick() })
	return e.bridge.WrapNode(n)
}

func (e *Element) list(keep func(*html.Node) bool) goja.Value {
	var nodes []*html.Node
	e.bridge.doc.View(func() {
		for c := e.Node.FirstChild; c != nil; c = c.NextSibling {
			if keep(c) {
				nodes = append(nodes, c)
			}
		}
	})
	return e.bridge.WrapNodeList(nodes)
}

func (e *Element) matches(method, selector string, n *html.Node) bool {
	group, err := dom.Compile(selector)
	if err != nil {
		e.bridge.throwInvalidSelector(method, "Element", selector)
	}
	var ok bool
	e.bridge.doc.View(func() { ok = group.Match(n) })
	return ok
}

// -- content --

func (e *Element) textContent() goja.Value {
	var text string
	e.bridge.doc.View(func() {
		if e.Node.Type == html.TextNode || e.Node.Type == html.CommentNode {
			text = e.Node.Data
			return
		}
		text = htmlquery.InnerText(e.Node)
	})
	return e.bridge.str(text)
}

func (e *Element) setTextContent(v goja.Value) {
	text := ""
	if !goja.IsNull(v) && !goja.IsUndefined(v) {
		text = v.String()
	}
	e.bridge.doc.Update(func() {
		if e.Node.Type == html.TextNode || e.Node.Type == html.CommentNode {
			e.Node.Data = text
			return
		}
		removeChildren(e.Node)
		if text != "" {
			e.Node.AppendChild(&html.Node{Type: html.TextNode, Data: text})
		}
	})
}

func (e *Element) innerHTML() goja.Value {
	var (
		out string
		err error
	)
	e.bridge.doc.View(func() { out, err = dom.InnerHTML(e.Node) })
	if err != nil {
		panic(e.bridge.vm.NewGoError(err))
	}
	return e.bridge.str(out)
}

func (e *Element) outerHTML() goja.Value {
	var (
		out string
		err error
	)
	e.bridge.doc.View(func() { out, err = dom.OuterHTML(e.Node) })
	if err != nil {
		panic(e.bridge.vm.NewGoError(err))
	}
	return e.bridge.str(out)
}

// setInnerHTML parses markup in the context of the element. Declarative
// shadow templates in the markup stay inert, as with innerHTML in browsers.
func (e *Element) setInnerHTML(v goja.Value) {
	nodes, err := html.ParseFragment(strings.NewReader(v.String()), e.Node)
	if err != nil {
		panic(e.bridge.vm.NewGoError(fmt.Errorf("parsing innerHTML: %w", err)))
	}
	e.bridge.doc.Update(func() {
		removeChildren(e.Node)
		for _, c := range nodes {
			e.Node.AppendChild(c)
		}
	})
}

// -- attributes --

func (e *Element) reflectAttr(name string) func() goja.Value {
	return func() goja.Value {
		var v string
		e.bridge.doc.View(func() { v, _ = getAttr(e.Node, name) })
		return e.bridge.str(v)
	}
}

func (e *Element) reflectSetAttr(name string) func(goja.Value) {
	return func(v goja.Value) { e.setAttribute(name, v.String()) }
}

func (e *Element) setAttribute(name, value string) {
	e.bridge.doc.Update(func() { setAttr(e.Node, name, value) })
}

func (e *Element) classList() goja.Value {
	b := e.bridge
	obj := b.vm.NewObject()

	classes := func() []string {
		var v string
		b.doc.View(func() { v, _ = getAttr(e.Node, "class") })
		return strings.Fields(v)
	}
	store := func(list []string) { e.setAttribute("class", strings.Join(list, " ")) }
	contains := func(list []string, c string) bool {
		for _, x := range list {
			if x == c {
				return true
			}
		}
		return false
	}
	without := func(list []string, c string) []string {
		out := list[:0:0]
		for _, x := range list {
			if x != c {
				out = append(out, x)
			}
		}
		return out
	}

	b.accessor(obj, "length", func() goja.Value { return b.vm.ToValue(len(classes())) }, nil)
	b.accessor(obj, "value", func() goja.Value { return b.str(strings.Join(classes(), " ")) }, nil)
	b.method(obj, "contains", func(call goja.FunctionCall) goja.Value {
		return b.vm.ToValue(contains(classes(), call.Argument(0).String()))
	})
	b.method(obj, "add", func(call goja.FunctionCall) goja.Value {
		list := classes()
		for _, arg := range call.Arguments {
			if c := arg.String(); !contains(list, c) {
				list = append(list, c)
			}
		}
		store(list)
		return goja.Undefined()
	})
	b.method(obj, "remove", func(call goja.FunctionCall) goja.Value {
		list := classes()
		for _, arg := range call.Arguments {
			list = without(list, arg.String())
		}
		store(list)
		return goja.Undefined()
	})
	b.method(obj, "toggle", func(call goja.FunctionCall) goja.Value {
		c := call.Argument(0).String()
		list := classes()
		has := contains(list, c)
		if force := call.Argument(1); !goja.IsUndefined(force) {
			has = !force.ToBoolean()
		}
		if has {
			store(without(list, c))
			return b.vm.ToValue(false)
		}
		if !contains(list, c) {
			store(append(list, c))
		}
		return b.vm.ToValue(true)
	})
	return obj
}

func (e *Element) style() goja.Value {
	return e.bridge.vm.NewDynamicObject(&styleDeclaration{el: e})
}

// -- tree mutation --

func (e *Element) appendChild(call goja.FunctionCall) goja.Value {
	child := e.bridge.mustUnwrap(call.Argument(0), "appendChild")
	e.insert("appendChild", child, nil)
	return call.Argument(0)
}

func (e *Element) insertBefore(call goja.FunctionCall) goja.Value {
	child := e.bridge.mustUnwrap(call.Argument(0), "insertBefore")
	var ref *html.Node
	if r := call.Argument(1); !goja.IsNull(r) && !goja.IsUndefined(r) {
		ref = e.bridge.mustUnwrap(r, "insertBefore")
	}
	e.insert("insertBefore", child, ref)
	return call.Argument(0)
}

func (e *Element) insert(method string, child, ref *html.Node) {
	var problem string
	e.bridge.doc.Update(func() {
		for p := e.Node; p != nil; p = p.Parent {
			if p == child {
				problem = "HierarchyRequestError"
				return
			}
		}
		if ref != nil && ref.Parent != e.Node {
			problem = "NotFoundError"
			return
		}
		if child.Parent != nil {
			child.Parent.RemoveChild(child)
		}
		if ref == nil {
			e.Node.AppendChild(child)
		} else {
			e.Node.InsertBefore(child, ref)
		}
	})
	switch problem {
	case "HierarchyRequestError":
		e.bridge.throw(problem, "Failed to execute '%s' on 'Node': The new child element contains the parent.", method)
	case "NotFoundError":
		e.bridge.throw(problem, "Failed to execute '%s' on 'Node': The node before which the new node is to be inserted is not a child of this node.", method)
	}
}

func (e *Element) removeChild(call goja.FunctionCall) goja.Value {
	child := e.bridge.mustUnwrap(call.Argument(0), "removeChild")
	removed := false
	e.bridge.doc.Update(func() {
		if child.Parent == e.Node {
			e.Node.RemoveChild(child)
			removed = true
		}
	})
	if !removed {
		e.bridge.throw("NotFoundError", "Failed to execute 'removeChild' on 'Node': The node to be removed is not a child of this node.")
	}
	return call.Argument(0)
}

func (e *Element) remove(goja.FunctionCall) goja.Value {
	e.bridge.doc.Update(func() {
		if e.Node.Parent != nil {
			e.Node.Parent.RemoveChild(e.Node)
		}
	})
	return goja.Undefined()
}

func (e *Element) cloneNode(call goja.FunctionCall) goja.Value {
	deep := call.Argument(0).ToBoolean()
	var clone *html.Node
	e.bridge.doc.View(func() { clone = cloneNode(e.Node, deep) })
	return e.bridge.WrapNode(clone)
}

func (e *Element) contains(call goja.FunctionCall) goja.Value {
	other, err := e.bridge.Unwrap(call.Argument(0))
	if err != nil {
		return e.bridge.vm.ToValue(false)
	}
	found := false
	e.bridge.doc.View(func() {
		for p := other; p != nil; p = p.Parent {
			if p == e.Node {
				found = true
				return
			}
		}
	})
	return e.bridge.vm.ToValue(found)
}

// -- plain node helpers --

func nodeType(n *html.Node) int {
	switch {
	case shadowdom.IsBoundary(n):
		return fragmentNodeType
	case n.Type == html.ElementNode:
		return elementNodeType
	case n.Type == html.TextNode:
		return textNodeType
	case n.Type == html.CommentNode:
		return commentNodeType
	case n.Type == html.DoctypeNode:
		return doctypeNodeType
	case n.Type == html.DocumentNode:
		return documentNodeType
	}
	return 0
}

func nodeName(n *html.Node) string {
	switch {
	case shadowdom.IsBoundary(n):
		return "#document-fragment"
	case n.Type == html.ElementNode:
		return strings.ToUpper(n.Data)
	case n.Type == html.TextNode:
		return "#text"
	case n.Type == html.CommentNode:
		return "#comment"
	case n.Type == html.DocumentNode:
		return "#document"
	}
	return n.Data
}

func isElement(n *html.Node) bool {
	return n.Type == html.ElementNode && !shadowdom.IsBoundary(n)
}

type direction bool

const (
	forward  direction = true
	backward direction = false
)

func nextElement(n *html.Node, dir direction) *html.Node {
	for n != nil {
		if isElement(n) {
			return n
		}
		if dir == forward {
			n = n.NextSibling
		} else {
			n = n.PrevSibling
		}
	}
	return nil
}

func findFirst(root *html.Node, pred func(*html.Node) bool) *html.Node {
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.DataAtom == atom.Template {
			continue
		}
		if isElement(c) && pred(c) {
			return c
		}
		if found := findFirst(c, pred); found != nil {
			return found
		}
	}
	return nil
}

func removeChildren(n *html.Node) {
	for c := n.FirstChild; c != nil; c = n.FirstChild {
		n.RemoveChild(c)
	}
}

func cloneNode(n *html.Node, deep bool) *html.Node {
	clone := &html.Node{
		Type:      n.Type,
		DataAtom:  n.DataAtom,
		Data:      n.Data,
		Namespace: n.Namespace,
		Attr:      append([]html.Attribute(nil), n.Attr...),
	}
	if deep {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			clone.AppendChild(cloneNode(c, true))
		}
	}
	return clone
}

func getAttr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, key) {
			return a.Val, true
		}
	}
	return "", false
}

func setAttr(n *html.Node, key, val string) {
	key = strings.ToLower(key)
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func removeAttr(n *html.Node, key string) {
	out := n.Attr[:0]
	for _, a := range n.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, key) {
			continue
		}
		out = append(out, a)
	}
	n.Attr = out
}
