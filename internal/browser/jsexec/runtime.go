// internal/browser/jsexec/runtime.go
package jsexec

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/console"
	"github.com/dop251/goja_nodejs/eventloop"
	"github.com/dop251/goja_nodejs/require"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/tabquery/internal/browser/dom"
	"github.com/xkilldash9x/tabquery/internal/browser/jsbind"
	"github.com/xkilldash9x/tabquery/internal/traversal"
)

// ErrClosed is returned by Evaluate once the runtime has been closed.
var ErrClosed = errors.New("javascript runtime closed")

// The action script runs through a direct eval so it sees e, i and n as
// locals. The surrounding async function turns a returned promise into the
// awaited value and a throw into a rejection.
const invokeSource = `(async function (e, i, n, modifyScript) { return eval(modifyScript); })`

const settleSource = `(function (p, ok, fail) { Promise.resolve(p).then(ok, fail); })`

// Runtime evaluates action scripts against a dom.Document on a goja event
// loop, so timers and promises created by scripts keep working. It
// implements traversal.ElementActionEvaluator for *html.Node elements.
//
// Evaluations are serialized on the loop goroutine. Wrappers persist until
// a script is interrupted, so state set on e by one run is visible to the
// next. An interrupted VM no longer runs promise jobs and is replaced with
// a fresh one before the next evaluation; media playback state carries over.
type Runtime struct {
	doc      *dom.Document
	logger   *zap.Logger
	registry *require.Registry

	mu      sync.RWMutex
	cur     *instance
	closed  bool
	closing chan struct{}
}

// instance is one event loop and the VM it drives.
type instance struct {
	loop *eventloop.EventLoop

	// Populated on the loop during startup.
	vm        *goja.Runtime
	bridge    *jsbind.DOMBridge
	invoke    goja.Callable
	settle    goja.Callable
	stringify goja.Callable

	interrupted atomic.Bool
}

var _ traversal.ElementActionEvaluator = (*Runtime)(nil)

type outcome struct {
	value string
	err   error
}

var errReplaced = errors.New("javascript runtime replaced")

// NewRuntime starts an event loop bound to doc. Close must be called to
// stop it.
func NewRuntime(doc *dom.Document, logger *zap.Logger) (*Runtime, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	log := logger.Named("jsexec")

	registry := new(require.Registry)
	registry.RegisterNativeModule(console.ModuleName, console.RequireWithPrinter(&consolePrinter{logger: log.Named("console")}))

	r := &Runtime{
		doc:      doc,
		logger:   log,
		registry: registry,
		closing:  make(chan struct{}),
	}
	inst, err := r.start(nil)
	if err != nil {
		return nil, err
	}
	r.cur = inst
	return r, nil
}

// start runs a new event loop and prepares its VM. Media state is
// inherited from prev when it is set.
func (r *Runtime) start(prev *instance) (*instance, error) {
	inst := &instance{
		loop: eventloop.NewEventLoop(eventloop.WithRegistry(r.registry), eventloop.EnableConsole(false)),
	}
	inst.loop.Start()

	ready := make(chan error, 1)
	inst.loop.RunOnLoop(func(vm *goja.Runtime) { ready <- r.setup(inst, vm, prev) })
	if err := <-ready; err != nil {
		inst.loop.Stop()
		return nil, fmt.Errorf("initializing javascript runtime: %w", err)
	}
	return inst, nil
}

func (r *Runtime) setup(inst *instance, vm *goja.Runtime, prev *instance) error {
	inst.vm = vm
	inst.bridge = jsbind.NewDOMBridge(vm, r.doc, r.logger)
	if prev != nil {
		inst.bridge.InheritMedia(prev.bridge)
	}

	if err := vm.Set("console", require.Require(vm, console.ModuleName)); err != nil {
		return fmt.Errorf("installing console: %w", err)
	}

	var err error
	if inst.invoke, err = compileFunction(vm, invokeSource); err != nil {
		return err
	}
	if inst.settle, err = compileFunction(vm, settleSource); err != nil {
		return err
	}
	stringify, ok := goja.AssertFunction(vm.Get("JSON").ToObject(vm).Get("stringify"))
	if !ok {
		return errors.New("JSON.stringify is not callable")
	}
	inst.stringify = stringify
	return nil
}

// acquire returns the live instance with mu held for reading. An
// interrupted instance is replaced first.
func (r *Runtime) acquire() (*instance, error) {
	for {
		r.mu.RLock()
		if r.closed {
			r.mu.RUnlock()
			return nil, ErrClosed
		}
		inst := r.cur
		if !inst.interrupted.Load() {
			return inst, nil
		}
		r.mu.RUnlock()
		if err := r.replace(inst); err != nil {
			return nil, err
		}
	}
}

func (r *Runtime) replace(old *instance) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	if r.cur != old {
		return nil
	}

	// A timer queued by the interrupted script may still be spinning.
	old.vm.Interrupt(errReplaced)
	old.loop.Stop()

	inst, err := r.start(old)
	if err != nil {
		return err
	}
	r.cur = inst
	r.logger.Debug("JavaScript runtime replaced after an interrupted script.")
	return nil
}

func compileFunction(vm *goja.Runtime, src string) (goja.Callable, error) {
	v, err := vm.RunString(src)
	if err != nil {
		return nil, fmt.Errorf("compiling helper: %w", err)
	}
	fn, ok := goja.AssertFunction(v)
	if !ok {
		return nil, errors.New("helper did not evaluate to a function")
	}
	return fn, nil
}

// Evaluate implements traversal.ElementActionEvaluator. A thrown value or a
// rejected promise becomes a *traversal.ActionScriptError carrying the
// value's string form. Context cancellation interrupts a running script and
// returns the context error.
func (r *Runtime) Evaluate(ctx context.Context, el traversal.Element, index int, all []traversal.Element, script string) (string, error) {
	node, ok := el.(*html.Node)
	if !ok {
		return "", fmt.Errorf("unsupported element handle %T", el)
	}
	nodes := make([]*html.Node, len(all))
	for i, candidate := range all {
		if nodes[i], ok = candidate.(*html.Node); !ok {
			return "", fmt.Errorf("unsupported element handle %T in candidate set", candidate)
		}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	done := make(chan outcome, 1)
	var once sync.Once
	finish := func(o outcome) { once.Do(func() { done <- o }) }

	inst, err := r.acquire()
	if err != nil {
		return "", err
	}
	stop := context.AfterFunc(ctx, func() {
		inst.interrupted.Store(true)
		inst.vm.Interrupt(ctx.Err())
	})
	inst.loop.RunOnLoop(func(vm *goja.Runtime) { r.run(ctx, inst, node, index, nodes, script, finish) })
	r.mu.RUnlock()
	defer stop()

	select {
	case o := <-done:
		return o.value, o.err
	case <-ctx.Done():
		return "", ctx.Err()
	case <-r.closing:
		return "", ErrClosed
	}
}

func (r *Runtime) run(ctx context.Context, inst *instance, node *html.Node, index int, nodes []*html.Node, script string, finish func(outcome)) {
	vm := inst.vm
	vm.ClearInterrupt()
	if err := ctx.Err(); err != nil {
		finish(outcome{err: err})
		return
	}

	promise, err := inst.invoke(goja.Undefined(),
		inst.bridge.WrapNode(node),
		vm.ToValue(index),
		inst.bridge.WrapNodeList(nodes),
		vm.ToValue(script))
	if err != nil {
		finish(r.failure(ctx, inst, index, err))
		return
	}

	onFulfilled := func(call goja.FunctionCall) goja.Value {
		finish(outcome{value: r.render(inst, call.Argument(0))})
		return goja.Undefined()
	}
	onRejected := func(call goja.FunctionCall) goja.Value {
		finish(outcome{err: &traversal.ActionScriptError{Index: index, Message: thrownMessage(call.Argument(0))}})
		return goja.Undefined()
	}
	if _, err := inst.settle(goja.Undefined(), promise, vm.ToValue(onFulfilled), vm.ToValue(onRejected)); err != nil {
		finish(r.failure(ctx, inst, index, err))
	}
}

func (r *Runtime) failure(ctx context.Context, inst *instance, index int, err error) outcome {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		inst.interrupted.Store(true)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return outcome{err: ctxErr}
		}
		return outcome{err: fmt.Errorf("javascript execution interrupted: %v", interrupted.Value())}
	}
	var exception *goja.Exception
	if errors.As(err, &exception) {
		return outcome{err: &traversal.ActionScriptError{Index: index, Message: thrownMessage(exception.Value()), Err: err}}
	}
	return outcome{err: &traversal.ActionScriptError{Index: index, Message: err.Error(), Err: err}}
}

// render converts a script result to its textual form: nothing for
// undefined and null, markup for nodes, strings as-is, JSON for objects the
// way JSON.stringify writes them, and String(v) for everything else.
func (r *Runtime) render(inst *instance, v goja.Value) string {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return ""
	}
	if node, err := inst.bridge.Unwrap(v); err == nil {
		var markup string
		r.doc.View(func() { markup, err = dom.OuterHTML(node) })
		if err == nil {
			return markup
		}
	}
	obj, ok := v.(*goja.Object)
	if !ok {
		return v.String()
	}
	if _, isFunc := goja.AssertFunction(obj); !isFunc {
		out, err := inst.stringify(goja.Undefined(), obj)
		if err == nil && out != nil && !goja.IsUndefined(out) {
			return out.String()
		}
	}
	return v.String()
}

// thrownMessage is String(v) for a thrown value, so Error objects render as
// "Name: message".
func thrownMessage(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) {
		return "undefined"
	}
	return v.String()
}

// RunOnLoop schedules fn on the runtime's goroutine and waits for it.
func (r *Runtime) RunOnLoop(ctx context.Context, fn func(vm *goja.Runtime, bridge *jsbind.DOMBridge)) error {
	done := make(chan struct{})
	inst, err := r.acquire()
	if err != nil {
		return err
	}
	inst.loop.RunOnLoop(func(vm *goja.Runtime) {
		defer close(done)
		fn(vm, inst.bridge)
	})
	r.mu.RUnlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-r.closing:
		return ErrClosed
	}
}

// Close stops the event loop. Pending timers are dropped.
func (r *Runtime) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.closing)
	inst := r.cur
	r.mu.Unlock()

	inst.vm.Interrupt(ErrClosed)
	inst.loop.Stop()
	r.logger.Debug("JavaScript runtime stopped.")
}
