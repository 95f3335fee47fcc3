// internal/browser/session/cdphost.go
package session

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tabquery/internal/traversal"
)

// Page functions called on remote objects. this is the object the call
// targets; arguments arrive as CDP call arguments, never as code.
const (
	fnQueryAll   = `function (selector) { return Array.from(this.querySelectorAll(selector)); }`
	fnLength     = `function () { return this.length; }`
	fnItem       = `function (i) { return this[i]; }`
	fnShadowRoot = `function () { return this.shadowRoot; }`
	fnFrameDoc   = `function () {
  if (this.tagName !== 'IFRAME' && this.tagName !== 'FRAME') return undefined;
  return this.contentDocument;
}`
	fnOuterHTML = `function () { return this.outerHTML; }`
	fnAction    = `async function (i, modifyScript, ...n) {
  const render = (v) => {
    if (v === undefined || v === null) return '';
    if (typeof v === 'string') return v;
    if (v instanceof Element) return v.outerHTML;
    if (typeof v === 'object') {
      try {
        const s = JSON.stringify(v);
        if (s !== undefined) return s;
      } catch (_) {}
    }
    return String(v);
  };
  const act = async function (e, i, n) { return eval(modifyScript); };
  try {
    return { ok: true, value: render(await act(this, i, n)) };
  } catch (err) {
    return { ok: false, value: err + '' };
  }
}`
)

const releaseTimeout = 5 * time.Second

// RemoteNode is a page object held by the CDP host: a document, shadow root,
// frame document or element.
type RemoteNode struct {
	ObjectID    runtime.RemoteObjectID
	Description string
}

func (n RemoteNode) String() string { return n.Description }

// CDPHost implements traversal.Host and traversal.ElementActionEvaluator over
// remote object ids. Every object it obtains belongs to one object group,
// which Release frees.
type CDPHost struct {
	exec   Executor
	group  string
	logger *zap.Logger
}

var (
	_ traversal.Host                   = (*CDPHost)(nil)
	_ traversal.ElementActionEvaluator = (*CDPHost)(nil)
)

// NewCDPHost creates a host with a fresh object group.
func NewCDPHost(exec Executor, logger *zap.Logger) *CDPHost {
	if logger == nil {
		logger = zap.NewNop()
	}
	group := "tabquery-" + uuid.NewString()
	return &CDPHost{
		exec:   exec,
		group:  group,
		logger: logger.Named("cdp_host").With(zap.String("object_group", group)),
	}
}

// Group returns the host's object group name.
func (h *CDPHost) Group() string { return h.group }

// Document returns the page's document as a traversal root.
func (h *CDPHost) Document(ctx context.Context) (RemoteNode, error) {
	obj, exc, err := h.exec.Evaluate(ctx, runtime.Evaluate("document").WithObjectGroup(h.group))
	if err != nil {
		return RemoteNode{}, fmt.Errorf("resolving document: %w", err)
	}
	if exc != nil {
		return RemoteNode{}, fmt.Errorf("resolving document: %s", exceptionMessage(exc))
	}
	node, ok := asNode(obj)
	if !ok {
		return RemoteNode{}, errors.New("resolving document: page returned no object")
	}
	return node, nil
}

// Release frees the object group. It runs even when ctx is already done.
func (h *CDPHost) Release(ctx context.Context) {
	releaseCtx, cancel := context.WithTimeout(Detach(ctx), releaseTimeout)
	defer cancel()
	if err := h.exec.ReleaseObjectGroup(releaseCtx, h.group); err != nil {
		h.logger.Warn("Failed to release object group.", zap.Error(err))
	}
}

func (h *CDPHost) QueryAll(ctx context.Context, root traversal.Root, selector string) ([]traversal.Element, error) {
	node, err := remote(root)
	if err != nil {
		return nil, err
	}
	arg, err := valueArg(selector)
	if err != nil {
		return nil, err
	}
	list, exc, err := h.call(ctx, node, fnQueryAll, false, arg)
	if err != nil {
		return nil, fmt.Errorf("querying %q: %w", selector, err)
	}
	if exc != nil {
		msg := exceptionMessage(exc)
		if isSyntaxError(exc) {
			return nil, &traversal.SelectorSyntaxError{Selector: selector, Err: errors.New(msg)}
		}
		return nil, fmt.Errorf("querying %q: %s", selector, msg)
	}
	array, ok := asNode(list)
	if !ok {
		return nil, fmt.Errorf("querying %q: page returned no array", selector)
	}

	var length int
	if err := h.callValue(ctx, array, fnLength, &length); err != nil {
		return nil, fmt.Errorf("querying %q: reading length: %w", selector, err)
	}
	out := make([]traversal.Element, 0, length)
	for i := 0; i < length; i++ {
		idx, err := valueArg(i)
		if err != nil {
			return nil, err
		}
		item, exc, err := h.call(ctx, array, fnItem, false, idx)
		if err != nil {
			return nil, fmt.Errorf("querying %q: reading item %d: %w", selector, i, err)
		}
		if exc != nil {
			return nil, fmt.Errorf("querying %q: reading item %d: %s", selector, i, exceptionMessage(exc))
		}
		el, ok := asNode(item)
		if !ok {
			return nil, fmt.Errorf("querying %q: item %d is not an object", selector, i)
		}
		out = append(out, el)
	}
	return out, nil
}

func (h *CDPHost) ShadowRoot(ctx context.Context, el traversal.Element) (traversal.Root, bool, error) {
	node, err := remote(el)
	if err != nil {
		return nil, false, err
	}
	obj, exc, err := h.call(ctx, node, fnShadowRoot, false)
	if err != nil {
		return nil, false, err
	}
	if exc != nil {
		return nil, false, errors.New(exceptionMessage(exc))
	}
	root, ok := asNode(obj)
	if !ok {
		return nil, false, nil
	}
	return root, true, nil
}

func (h *CDPHost) FrameDocument(ctx context.Context, el traversal.Element) (traversal.Root, bool, error) {
	node, err := remote(el)
	if err != nil {
		return nil, false, err
	}
	obj, exc, err := h.call(ctx, node, fnFrameDoc, false)
	if err != nil {
		return nil, false, err
	}
	if exc != nil {
		return nil, true, &traversal.FrameAccessError{Frame: node.Description, Reason: exceptionMessage(exc)}
	}
	if obj == nil || obj.Type == runtime.TypeUndefined {
		return nil, false, nil
	}
	doc, ok := asNode(obj)
	if !ok {
		return nil, true, &traversal.FrameAccessError{Frame: node.Description, Reason: "contentDocument is null"}
	}
	return doc, true, nil
}

func (h *CDPHost) Serialize(ctx context.Context, el traversal.Element) (string, error) {
	node, err := remote(el)
	if err != nil {
		return "", err
	}
	var markup string
	if err := h.callValue(ctx, node, fnOuterHTML, &markup); err != nil {
		return "", err
	}
	return markup, nil
}

// actionOutcome is what fnAction resolves to.
type actionOutcome struct {
	OK    bool   `json:"ok"`
	Value string `json:"value"`
}

// Evaluate runs script against el in the page. The wrapper catches in the
// page, so a failing script comes back as ok=false with its string form.
func (h *CDPHost) Evaluate(ctx context.Context, el traversal.Element, index int, all []traversal.Element, script string) (string, error) {
	node, err := remote(el)
	if err != nil {
		return "", err
	}
	idx, err := valueArg(index)
	if err != nil {
		return "", err
	}
	src, err := valueArg(script)
	if err != nil {
		return "", err
	}
	args := []*runtime.CallArgument{idx, src}
	for _, candidate := range all {
		c, err := remote(candidate)
		if err != nil {
			return "", err
		}
		args = append(args, &runtime.CallArgument{ObjectID: c.ObjectID})
	}

	params := runtime.CallFunctionOn(fnAction).
		WithObjectID(node.ObjectID).
		WithArguments(args).
		WithObjectGroup(h.group).
		WithReturnByValue(true).
		WithAwaitPromise(true)
	obj, exc, err := h.exec.CallFunctionOn(ctx, params)
	if err != nil {
		return "", err
	}
	if exc != nil {
		msg := exceptionMessage(exc)
		return "", &traversal.ActionScriptError{Index: index, Message: msg, Err: errors.New(msg)}
	}
	var out actionOutcome
	if err := decodeValue(obj, &out); err != nil {
		return "", fmt.Errorf("decoding action result: %w", err)
	}
	if !out.OK {
		return "", &traversal.ActionScriptError{Index: index, Message: out.Value}
	}
	return out.Value, nil
}

func (h *CDPHost) call(ctx context.Context, on RemoteNode, decl string, byValue bool, args ...*runtime.CallArgument) (*runtime.RemoteObject, *runtime.ExceptionDetails, error) {
	params := runtime.CallFunctionOn(decl).
		WithObjectID(on.ObjectID).
		WithObjectGroup(h.group).
		WithReturnByValue(byValue)
	if len(args) > 0 {
		params = params.WithArguments(args)
	}
	return h.exec.CallFunctionOn(ctx, params)
}

func (h *CDPHost) callValue(ctx context.Context, on RemoteNode, decl string, out any) error {
	obj, exc, err := h.call(ctx, on, decl, true)
	if err != nil {
		return err
	}
	if exc != nil {
		return errors.New(exceptionMessage(exc))
	}
	return decodeValue(obj, out)
}

func remote(v any) (RemoteNode, error) {
	switch n := v.(type) {
	case RemoteNode:
		return n, nil
	case *RemoteNode:
		if n != nil {
			return *n, nil
		}
	}
	return RemoteNode{}, fmt.Errorf("cdp host: unexpected handle %T", v)
}

// asNode reports whether obj refers to a live page object.
func asNode(obj *runtime.RemoteObject) (RemoteNode, bool) {
	if obj == nil || obj.ObjectID == "" || obj.Subtype == runtime.SubtypeNull {
		return RemoteNode{}, false
	}
	return RemoteNode{ObjectID: obj.ObjectID, Description: obj.Description}, true
}

func valueArg(v any) (*runtime.CallArgument, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding call argument: %w", err)
	}
	return &runtime.CallArgument{Value: raw}, nil
}

func decodeValue(obj *runtime.RemoteObject, out any) error {
	if obj == nil || len(obj.Value) == 0 {
		return errors.New("page returned no value")
	}
	return json.Unmarshal([]byte(obj.Value), out)
}

func exceptionMessage(exc *runtime.ExceptionDetails) string {
	if exc.Exception != nil && exc.Exception.Description != "" {
		return exc.Exception.Description
	}
	return exc.Text
}

func isSyntaxError(exc *runtime.ExceptionDetails) bool {
	if exc.Exception != nil && exc.Exception.ClassName == "SyntaxError" {
		return true
	}
	return strings.HasPrefix(exceptionMessage(exc), "SyntaxError")
}

// CDPRunner runs traversals from Go against an attached tab.
type CDPRunner struct {
	exec   Executor
	logger *zap.Logger
}

// NewCDPRunner creates a runner over exec.
func NewCDPRunner(exec Executor, logger *zap.Logger) *CDPRunner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CDPRunner{exec: exec, logger: logger}
}

// Run walks chain from the page's document. Each call gets its own object
// group, released when the sequence ends.
func (r *CDPRunner) Run(ctx context.Context, chain traversal.SelectorChain, script string, opts traversal.Options) iter.Seq2[traversal.MatchResult, error] {
	return func(yield func(traversal.MatchResult, error) bool) {
		if err := chain.Validate(); err != nil {
			yield(traversal.MatchResult{}, err)
			return
		}
		host := NewCDPHost(r.exec, r.logger)
		defer host.Release(ctx)

		doc, err := host.Document(ctx)
		if err != nil {
			yield(traversal.MatchResult{}, err)
			return
		}
		engine := traversal.New(host, host, r.logger, traversal.WithOptions(opts))
		for res, err := range engine.Traverse(ctx, doc, chain, script) {
			if !yield(res, err) {
				return
			}
		}
	}
}
