package jsexec_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dop251/goja"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/tabquery/internal/browser/dom"
	"github.com/xkilldash9x/tabquery/internal/browser/jsbind"
	"github.com/xkilldash9x/tabquery/internal/browser/jsexec"
	"github.com/xkilldash9x/tabquery/internal/traversal"
)

// newTestRuntime parses markup and starts a runtime over it that is closed
// when the test ends.
func newTestRuntime(t *testing.T, markup string) (*jsexec.Runtime, *dom.Document) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	doc, err := dom.ParseString(markup, dom.Options{Logger: logger})
	require.NoError(t, err)

	rt, err := jsexec.NewRuntime(doc, logger)
	require.NoError(t, err)
	t.Cleanup(rt.Close)
	return rt, doc
}

func query(t *testing.T, doc *dom.Document, selector string) []traversal.Element {
	t.Helper()
	els, err := doc.QueryAll(context.Background(), doc, selector)
	require.NoError(t, err)
	return els
}

func evalFirst(t *testing.T, rt *jsexec.Runtime, doc *dom.Document, selector, script string) (string, error) {
	t.Helper()
	els := query(t, doc, selector)
	require.NotEmpty(t, els)
	return rt.Evaluate(context.Background(), els[0], 0, els, script)
}

func TestEvaluate_ValueRendering(t *testing.T) {
	rt, doc := newTestRuntime(t, `<p class="x" data-n="7">hello</p>`)

	tests := []struct {
		name     string
		script   string
		expected string
	}{
		{"String", `e.textContent`, "hello"},
		{"Number", `(5 + 5) * 2`, "20"},
		{"Boolean", `e.classList.contains('x')`, "true"},
		{"Undefined", `undefined`, ""},
		{"Null", `null`, ""},
		{"Object As JSON", `({status: "success", code: 200})`, `{"status":"success","code":200}`},
		{"Array As JSON", `[1, "two"]`, `[1,"two"]`},
		{"Element As Markup", `e`, `<p class="x" data-n="7">hello</p>`},
		{"Promise Awaited", `Promise.resolve(e.getAttribute('data-n'))`, "7"},
		{"Statement List", `var s = e.tagName; s.toLowerCase()`, "p"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := evalFirst(t, rt, doc, "p", tt.script)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestEvaluate_ScriptSeesIndexAndCandidates(t *testing.T) {
	rt, doc := newTestRuntime(t, `<i>a</i><i>b</i><i>c</i>`)
	els := query(t, doc, "i")

	for idx := range els {
		got, err := rt.Evaluate(context.Background(), els[idx], idx, els, `i + ':' + n.length + ':' + (n[i] === e) + ':' + e.textContent`)
		require.NoError(t, err)
		assert.Equal(t, []string{"0:3:true:a", "1:3:true:b", "2:3:true:c"}[idx], got)
	}
}

func TestEvaluate_ThrownErrors(t *testing.T) {
	rt, doc := newTestRuntime(t, `<p>x</p>`)

	tests := []struct {
		name    string
		script  string
		message string
	}{
		{"Error Object", `throw new Error('boom')`, "Error: boom"},
		{"Type Error", `null.x`, "TypeError"},
		{"Thrown String", `throw 'plain'`, "plain"},
		{"Rejected Promise", `Promise.reject(new RangeError('late'))`, "RangeError: late"},
		{"Syntax Error", `this is not javascript`, "SyntaxError"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := evalFirst(t, rt, doc, "p", tt.script)
			var actionErr *traversal.ActionScriptError
			require.True(t, errors.As(err, &actionErr), "got %v", err)
			assert.Contains(t, actionErr.Message, tt.message)
			assert.Equal(t, 0, actionErr.Index)
		})
	}
}

func TestEvaluate_AwaitsTimers(t *testing.T) {
	rt, doc := newTestRuntime(t, `<p>x</p>`)

	got, err := evalFirst(t, rt, doc, "p", `new Promise(resolve => setTimeout(() => resolve('done'), 10))`)
	require.NoError(t, err)
	assert.Equal(t, "done", got)
}

func TestEvaluate_ContextInterruptsBusyScript(t *testing.T) {
	rt, doc := newTestRuntime(t, `<p>x</p>`)
	els := query(t, doc, "p")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := rt.Evaluate(ctx, els[0], 0, els, `while (true) {}`)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)

	// The runtime stays usable after an interrupt.
	got, err := rt.Evaluate(context.Background(), els[0], 0, els, `'alive'`)
	require.NoError(t, err)
	assert.Equal(t, "alive", got)
}

func TestTraverse_TimeoutLeavesSiblingsRunnable(t *testing.T) {
	rt, doc := newTestRuntime(t, `<p>a</p><p>b</p><p>c</p>`)
	engine := traversal.New(doc, rt, zaptest.NewLogger(t), traversal.WithActionTimeout(200*time.Millisecond))

	results, err := traversal.Collect(engine.Traverse(context.Background(), doc, traversal.SelectorChain{"p"},
		`if (i === 0) { while (true) {} } 'ok' + i`))
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, traversal.KindError, results[0].Kind)
	assert.Equal(t, traversal.KindValue, results[1].Kind)
	assert.Equal(t, "ok1", results[1].Value)
	assert.Equal(t, traversal.KindValue, results[2].Kind)
	assert.Equal(t, "ok2", results[2].Value)
}

func TestEvaluate_ReplacementKeepsMediaState(t *testing.T) {
	rt, doc := newTestRuntime(t, `<video autoplay></video>`)
	els := query(t, doc, "video")

	_, err := rt.Evaluate(context.Background(), els[0], 0, els, `e.pause()`)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = rt.Evaluate(ctx, els[0], 0, els, `while (true) {}`)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	got, err := rt.Evaluate(context.Background(), els[0], 0, els, `String(e.paused)`)
	require.NoError(t, err)
	assert.Equal(t, "true", got)

	got, err = rt.Evaluate(context.Background(), els[0], 0, els, `new Promise(resolve => setTimeout(() => resolve('settled'), 5))`)
	require.NoError(t, err)
	assert.Equal(t, "settled", got)
}

func TestEvaluate_PendingPromiseHonoursContext(t *testing.T) {
	rt, doc := newTestRuntime(t, `<p>x</p>`)
	els := query(t, doc, "p")

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := rt.Evaluate(ctx, els[0], 0, els, `new Promise(() => {})`)
	require.ErrorIs(t, err, context.Canceled)
}

func TestEvaluate_RejectsForeignHandles(t *testing.T) {
	rt, _ := newTestRuntime(t, `<p>x</p>`)

	_, err := rt.Evaluate(context.Background(), "not a node", 0, nil, `1`)
	require.Error(t, err)
	var actionErr *traversal.ActionScriptError
	assert.False(t, errors.As(err, &actionErr))
}

func TestEvaluate_ConsoleGoesToLogger(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	doc, err := dom.ParseString(`<p>x</p>`, dom.Options{})
	require.NoError(t, err)
	rt, err := jsexec.NewRuntime(doc, zap.New(core))
	require.NoError(t, err)
	defer rt.Close()

	els := query(t, doc, "p")
	_, err = rt.Evaluate(context.Background(), els[0], 0, els, `console.log('hi from', e.tagName); console.warn('careful')`)
	require.NoError(t, err)

	assert.Equal(t, 1, logs.FilterMessage("hi from P").Len())
	warnings := logs.FilterMessage("careful").All()
	require.Len(t, warnings, 1)
	assert.Equal(t, zap.WarnLevel, warnings[0].Level)
}

// Driving the engine end to end: a throw on one candidate still yields a
// result for every candidate, and mutations persist between runs.
func TestTraverseWithRuntime(t *testing.T) {
	rt, doc := newTestRuntime(t, `
		<div class="host"><template shadowrootmode="open">
			<video id="a" autoplay></video><video id="b" autoplay></video><video id="c" autoplay></video>
		</template></div>`)
	engine := traversal.New(doc, rt, zaptest.NewLogger(t))
	chain := traversal.SelectorChain{".host", "video"}

	results, err := traversal.Collect(engine.Traverse(context.Background(), doc, chain,
		`if (i === 1) { throw new Error('boom') } e.pause(); e.setAttribute('data-seen', String(i)); e.id`))
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "a", results[0].Value)
	assert.Equal(t, traversal.KindError, results[1].Kind)
	assert.Equal(t, "Error: boom", results[1].Value)
	assert.Equal(t, "c", results[2].Value)
	for _, res := range results {
		assert.Equal(t, 1, res.Depth)
	}

	results, err = traversal.Collect(engine.Traverse(context.Background(), doc, chain, `e.getAttribute('data-seen')`))
	require.NoError(t, err)
	got := make([]string, len(results))
	for i, res := range results {
		got[i] = res.Value
	}
	assert.Equal(t, []string{"0", "", "2"}, got, "mutations from the first run are visible to the second")

	host := query(t, doc, ".host")
	require.Len(t, host, 1)
	root, ok, err := doc.ShadowRoot(context.Background(), host[0])
	require.NoError(t, err)
	require.True(t, ok)
	videos, err := doc.QueryAll(context.Background(), root, "video")
	require.NoError(t, err)

	var paused []bool
	require.NoError(t, rt.RunOnLoop(context.Background(), func(_ *goja.Runtime, bridge *jsbind.DOMBridge) {
		for _, v := range videos {
			paused = append(paused, bridge.Paused(v.(*html.Node)))
		}
	}))
	assert.Equal(t, []bool{true, false, true}, paused, "the throwing candidate never reached pause")
}

func TestCloseStopsLoop(t *testing.T) {
	defer goleak.VerifyNone(t)

	doc, err := dom.ParseString(`<p>x</p>`, dom.Options{})
	require.NoError(t, err)
	rt, err := jsexec.NewRuntime(doc, zap.NewNop())
	require.NoError(t, err)

	els := query(t, doc, "p")
	_, err = rt.Evaluate(context.Background(), els[0], 0, els, `1`)
	require.NoError(t, err)

	rt.Close()
	rt.Close()

	_, err = rt.Evaluate(context.Background(), els[0], 0, els, `1`)
	assert.ErrorIs(t, err, jsexec.ErrClosed)
}
