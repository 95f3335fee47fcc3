// internal/traversal/engine.go
package traversal

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Root is a search root: a document, a shadow root, a frame document, or an
// element when light DOM descent is enabled. Hosts define the concrete type.
type Root = any

// Element is an element handle produced by a Host.
type Element = any

// Host is the DOM a traversal runs against. Implementations must return
// candidates in document order and re-query the live tree on every call.
type Host interface {
	// QueryAll returns the elements under root matching selector. An
	// unparsable selector is reported as a *SelectorSyntaxError.
	QueryAll(ctx context.Context, root Root, selector string) ([]Element, error)
	// ShadowRoot returns the element's shadow root when it hosts an accessible one.
	ShadowRoot(ctx context.Context, el Element) (Root, bool, error)
	// FrameDocument returns the inner document of a frame element. ok is false
	// for elements that are not frames. An unreachable document is reported
	// as a *FrameAccessError.
	FrameDocument(ctx context.Context, el Element) (Root, bool, error)
	// Serialize returns the element's outer markup.
	Serialize(ctx context.Context, el Element) (string, error)
}

// ElementActionEvaluator runs an action script against one matched element.
// The script sees the element as e, its index as i and the whole candidate
// set as n. Failures of the script itself should be *ActionScriptError.
type ElementActionEvaluator interface {
	Evaluate(ctx context.Context, el Element, index int, all []Element, script string) (string, error)
}

// Options tunes how the engine treats boundary elements.
type Options struct {
	// YieldHostMatches makes a shadow host or frame reached at the final
	// selector yield its own result before its inner root is searched.
	// Off by default: such elements are swallowed because the remaining
	// selector suffix is empty.
	YieldHostMatches bool
	// DescendLightDOM searches a plain element's own subtree with the next
	// selector instead of dropping it.
	DescendLightDOM bool
	// ActionTimeout bounds a single action script evaluation. Zero means no
	// bound beyond the traversal context.
	ActionTimeout time.Duration
	// Limit stops the traversal once that many results were produced, so no
	// further candidate is visited or acted on. Zero means no limit.
	Limit int
}

// Option configures an Engine.
type Option func(*Options)

// WithYieldHostMatches sets Options.YieldHostMatches.
func WithYieldHostMatches(enabled bool) Option {
	return func(o *Options) { o.YieldHostMatches = enabled }
}

// WithDescendLightDOM sets Options.DescendLightDOM.
func WithDescendLightDOM(enabled bool) Option {
	return func(o *Options) { o.DescendLightDOM = enabled }
}

// WithLimit sets Options.Limit.
func WithLimit(n int) Option {
	return func(o *Options) { o.Limit = n }
}

// WithActionTimeout sets Options.ActionTimeout.
func WithActionTimeout(d time.Duration) Option {
	return func(o *Options) { o.ActionTimeout = d }
}

// WithOptions replaces all options at once.
func WithOptions(opts Options) Option {
	return func(o *Options) { *o = opts }
}

// Engine evaluates selector chains across shadow and frame boundaries. It
// keeps no state between traversals and is safe for concurrent use when its
// Host and evaluator are.
type Engine struct {
	host      Host
	evaluator ElementActionEvaluator
	logger    *zap.Logger
	opts      Options
}

// New creates an engine. evaluator may be nil when no action scripts are used.
func New(host Host, evaluator ElementActionEvaluator, logger *zap.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		host:      host,
		evaluator: evaluator,
		logger:    logger.Named("traversal"),
	}
	for _, opt := range opts {
		opt(&e.opts)
	}
	return e
}

// Traverse walks chain from root and yields one MatchResult per terminal
// match, in document order. An empty actionScript yields outer markup.
//
// The walk happens while the caller ranges over the sequence. Breaking out of
// the loop stops it without visiting further candidates. A selector syntax
// error, a host failure or context cancellation is yielded once as the error
// and ends the sequence.
func (e *Engine) Traverse(ctx context.Context, root Root, chain SelectorChain, actionScript string) iter.Seq2[MatchResult, error] {
	return func(yield func(MatchResult, error) bool) {
		if err := chain.Validate(); err != nil {
			yield(MatchResult{}, err)
			return
		}
		if actionScript != "" && e.evaluator == nil {
			yield(MatchResult{}, ErrNoEvaluator)
			return
		}

		w := &walk{
			engine: e,
			ctx:    ctx,
			chain:  chain,
			script: actionScript,
			yield:  yield,
			logger: e.logger.With(zap.String("trace_id", uuid.NewString())),
		}
		w.logger.Debug("Traversal started.",
			zap.Stringer("chain", chain),
			zap.Bool("has_action", actionScript != ""))

		w.visit(root, 0)

		w.logger.Debug("Traversal finished.",
			zap.Int("results", w.emitted),
			zap.Bool("stopped", w.stopped))
	}
}

// walk is the state of one Traverse call.
type walk struct {
	engine  *Engine
	ctx     context.Context
	chain   SelectorChain
	script  string
	yield   func(MatchResult, error) bool
	logger  *zap.Logger
	emitted int
	stopped bool
}

// visit searches root with chain[depth]. It returns false once the walk must
// end, either because the consumer stopped or because an error was yielded.
func (w *walk) visit(root Root, depth int) bool {
	if depth >= len(w.chain) {
		return true
	}
	if err := w.ctx.Err(); err != nil {
		return w.fail(err)
	}

	host := w.engine.host
	opts := w.engine.opts
	selector := w.chain[depth]
	last := w.chain.Last(depth)

	candidates, err := host.QueryAll(w.ctx, root, selector)
	if err != nil {
		return w.fail(err)
	}
	w.logger.Debug("Selector evaluated.",
		zap.Int("depth", depth),
		zap.String("selector", selector),
		zap.Int("candidates", len(candidates)))

	for i, el := range candidates {
		if err := w.ctx.Err(); err != nil {
			return w.fail(err)
		}

		shadow, ok, err := host.ShadowRoot(w.ctx, el)
		if err != nil {
			return w.fail(fmt.Errorf("reading shadow root of candidate %d at depth %d: %w", i, depth, err))
		}
		if ok {
			if last && opts.YieldHostMatches && !w.emit(el, i, candidates, depth) {
				return false
			}
			if !w.visit(shadow, depth+1) {
				return false
			}
			continue
		}

		doc, ok, err := host.FrameDocument(w.ctx, el)
		if err != nil {
			var frameErr *FrameAccessError
			if !errors.As(err, &frameErr) {
				return w.fail(fmt.Errorf("reading frame document of candidate %d at depth %d: %w", i, depth, err))
			}
			w.logger.Debug("Skipping inaccessible frame.",
				zap.Int("depth", depth),
				zap.Int("index", i),
				zap.Error(err))
			if last && opts.YieldHostMatches && !w.emit(el, i, candidates, depth) {
				return false
			}
			continue
		}
		if ok {
			if last && opts.YieldHostMatches && !w.emit(el, i, candidates, depth) {
				return false
			}
			if !w.visit(doc, depth+1) {
				return false
			}
			continue
		}

		if last {
			if !w.emit(el, i, candidates, depth) {
				return false
			}
			continue
		}
		if opts.DescendLightDOM && !w.visit(el, depth+1) {
			return false
		}
	}
	return true
}

// emit produces the terminal result for el and hands it to the consumer.
func (w *walk) emit(el Element, index int, all []Element, depth int) bool {
	res := MatchResult{Index: index, Depth: depth}

	if w.script == "" {
		markup, err := w.engine.host.Serialize(w.ctx, el)
		if err != nil {
			return w.fail(fmt.Errorf("serializing candidate %d at depth %d: %w", index, depth, err))
		}
		res.Kind = KindMarkup
		res.Value = markup
	} else {
		value, err := w.evaluate(el, index, all)
		switch {
		case err == nil:
			res.Kind = KindValue
			res.Value = value
		case w.ctx.Err() != nil:
			return w.fail(w.ctx.Err())
		default:
			var actionErr *ActionScriptError
			if !errors.As(err, &actionErr) {
				actionErr = &ActionScriptError{Index: index, Message: err.Error(), Err: err}
			}
			w.logger.Debug("Action script failed.",
				zap.Int("depth", depth),
				zap.Int("index", index),
				zap.String("message", actionErr.Message))
			res.Kind = KindError
			res.Value = actionErr.Message
			res.Err = actionErr
		}
	}

	w.emitted++
	if !w.yield(res, nil) {
		w.stopped = true
		return false
	}
	if limit := w.engine.opts.Limit; limit > 0 && w.emitted >= limit {
		w.stopped = true
		return false
	}
	return true
}

func (w *walk) evaluate(el Element, index int, all []Element) (string, error) {
	ctx := w.ctx
	if d := w.engine.opts.ActionTimeout; d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	value, err := w.engine.evaluator.Evaluate(ctx, el, index, all, w.script)
	if err != nil && ctx.Err() != nil && w.ctx.Err() == nil {
		return "", &ActionScriptError{Index: index, Message: "action script timed out", Err: ctx.Err()}
	}
	return value, err
}

// fail yields err as the terminal error of the sequence.
func (w *walk) fail(err error) bool {
	if !w.stopped {
		w.logger.Debug("Traversal aborted.", zap.Error(err))
		w.yield(MatchResult{}, err)
		w.stopped = true
	}
	return false
}
