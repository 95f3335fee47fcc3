// internal/browser/jsbind/dom_bridge_test.go
package jsbind

import (
	"context"
	"errors"
	"testing"

	"github.com/dop251/goja"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/tabquery/internal/browser/dom"
)

// -- Test Setup Utilities --

type testEnv struct {
	t      *testing.T
	vm     *goja.Runtime
	doc    *dom.Document
	bridge *DOMBridge
}

func newTestEnv(t *testing.T, markup string) *testEnv {
	t.Helper()
	logger := zaptest.NewLogger(t)
	doc, err := dom.ParseString(markup, dom.Options{Logger: logger})
	require.NoError(t, err)

	vm := goja.New()
	return &testEnv{t: t, vm: vm, doc: doc, bridge: NewDOMBridge(vm, doc, logger)}
}

func (env *testEnv) run(script string) goja.Value {
	env.t.Helper()
	v, err := env.vm.RunString(script)
	require.NoError(env.t, err, "script: %s", script)
	return v
}

func (env *testEnv) runString(script string) string {
	env.t.Helper()
	return env.run(script).String()
}

func (env *testEnv) one(selector string) *html.Node {
	env.t.Helper()
	nodes, err := env.doc.QueryAll(context.Background(), env.doc, selector)
	require.NoError(env.t, err)
	require.Len(env.t, nodes, 1)
	return nodes[0].(*html.Node)
}

func (env *testEnv) outer(selector string) string {
	env.t.Helper()
	out, err := dom.OuterHTML(env.one(selector))
	require.NoError(env.t, err)
	return out
}

// -- Tests --

func TestDocumentGlobals(t *testing.T) {
	env := newTestEnv(t, `<html><head><title> Demo </title></head><body><p id="a">one</p><p>two</p></body></html>`)

	assert.Equal(t, "Demo", env.runString(`document.title`))
	assert.Equal(t, "BODY", env.runString(`document.body.tagName`))
	assert.Equal(t, "HTML", env.runString(`document.documentElement.nodeName`))
	assert.Equal(t, "about:blank", env.runString(`location.href`))
	assert.True(t, env.run(`window === self && window.document === document`).ToBoolean())
	assert.Equal(t, int64(2), env.run(`document.querySelectorAll('p').length`).ToInteger())
	assert.Equal(t, "one", env.runString(`document.getElementById('a').textContent`))
	assert.True(t, goja.IsNull(env.run(`document.getElementById('missing')`)))
	assert.True(t, goja.IsNull(env.run(`document.querySelector('section')`)))
	assert.True(t, env.run(`document.body.parentNode.parentNode === document`).ToBoolean())
}

func TestWrapperIdentity(t *testing.T) {
	env := newTestEnv(t, `<ul><li>a</li><li>b</li></ul>`)

	assert.True(t, env.run(`document.querySelector('li') === document.querySelectorAll('li')[0]`).ToBoolean())
	assert.True(t, env.run(`document.querySelector('ul').firstElementChild === document.querySelector('li')`).ToBoolean())

	body := env.vm.Get("document").ToObject(env.vm).Get("body")
	node, err := env.bridge.Unwrap(body)
	require.NoError(t, err)
	assert.Equal(t, "body", node.Data)
}

func TestUnwrapRejectsForeignValues(t *testing.T) {
	env := newTestEnv(t, `<p></p>`)

	for _, script := range []string{`({})`, `42`, `null`} {
		_, err := env.bridge.Unwrap(env.run(script))
		var notNode *NotNodeError
		assert.True(t, errors.As(err, &notNode), "script %s", script)
	}
}

func TestElementsStringifyLikeBrowsers(t *testing.T) {
	env := newTestEnv(t, `<p class="x">hi</p>`)
	assert.Equal(t, "{}", env.runString(`JSON.stringify(document.querySelector('p'))`))
}

func TestInvalidSelectorThrowsSyntaxError(t *testing.T) {
	env := newTestEnv(t, `<p></p>`)

	got := env.runString(`
		(function() {
			try { document.querySelectorAll('[') } catch (err) { return err.name + '|' + String(err) }
			return 'no error'
		})()`)
	assert.Equal(t, "SyntaxError|SyntaxError: Failed to execute 'querySelectorAll' on 'Document': '[' is not a valid selector.", got)

	got = env.runString(`
		(function() {
			try { document.body.matches('[') } catch (err) { return err.name }
			return 'no error'
		})()`)
	assert.Equal(t, "SyntaxError", got)
}

func TestShadowRootAccess(t *testing.T) {
	env := newTestEnv(t, `
		<div class="open"><template shadowrootmode="open"><p>shadow</p></template><p>light</p></div>
		<div class="closed"><template shadowrootmode="closed"><p>hidden</p></template></div>`)

	assert.Equal(t, "shadow", env.runString(`document.querySelector('.open').shadowRoot.querySelector('p').textContent`))
	assert.Equal(t, int64(11), env.run(`document.querySelector('.open').shadowRoot.nodeType`).ToInteger())
	assert.Equal(t, "open", env.runString(`document.querySelector('.open').shadowRoot.mode`))
	assert.True(t, env.run(`
		const host = document.querySelector('.open');
		host.shadowRoot.host === host`).ToBoolean())
	assert.True(t, goja.IsNull(env.run(`document.querySelector('.closed').shadowRoot`)))
	assert.Equal(t, int64(1), env.run(`document.querySelectorAll('p').length`).ToInteger(),
		"shadow content is not part of the light tree")
}

func TestAttributeAndContentMutations(t *testing.T) {
	env := newTestEnv(t, `<div id="a" class="one">text</div>`)

	env.run(`
		const el = document.getElementById('a');
		el.setAttribute('data-x', '1');
		el.classList.add('two', 'three');
		el.classList.remove('one');
		el.classList.toggle('three');
		el.id = 'b';
		el.textContent = 'changed';`)
	assert.Equal(t, `<div id="b" class="two" data-x="1">changed</div>`, env.outer("#b"))

	env.run(`
		const b = document.getElementById('b');
		b.innerHTML = '<i>x</i><i>y</i>';
		b.removeAttribute('data-x');`)
	assert.Equal(t, `<div id="b" class="two"><i>x</i><i>y</i></div>`, env.outer("#b"))
	assert.Equal(t, "<i>x</i><i>y</i>", env.runString(`document.getElementById('b').innerHTML`))
	assert.True(t, env.run(`document.getElementById('b').classList.contains('two')`).ToBoolean())
	assert.True(t, goja.IsNull(env.run(`document.getElementById('b').getAttribute('data-x')`)))
}

func TestStyleDeclaration(t *testing.T) {
	env := newTestEnv(t, `<div id="v" style="color: red"></div>`)

	env.run(`
		const s = document.getElementById('v').style;
		s.position = 'fixed';
		s.zIndex = '9';
		s.setProperty('top', '0', 'important');
		s.color = '';`)
	assert.Equal(t, `<div id="v" style="position: fixed; z-index: 9; top: 0 !important;"></div>`, env.outer("#v"))
	assert.Equal(t, "fixed", env.runString(`document.getElementById('v').style.position`))

	env.run(`document.getElementById('v').style.cssText = 'width:100vw;height:100vh'`)
	assert.Equal(t, `<div id="v" style="width: 100vw; height: 100vh;"></div>`, env.outer("#v"))
}

func TestTreeMutation(t *testing.T) {
	env := newTestEnv(t, `<div id="from"><span>moved</span></div><div id="to"></div>`)

	env.run(`document.getElementById('to').appendChild(document.querySelector('span'))`)
	assert.Equal(t, `<div id="from"></div>`, env.outer("#from"))
	assert.Equal(t, `<div id="to"><span>moved</span></div>`, env.outer("#to"))

	env.run(`
		const to = document.getElementById('to');
		const b = document.createElement('B');
		b.appendChild(document.createTextNode('first'));
		to.insertBefore(b, to.firstChild);`)
	assert.Equal(t, `<div id="to"><b>first</b><span>moved</span></div>`, env.outer("#to"))

	env.run(`document.querySelector('span').remove()`)
	assert.Equal(t, `<div id="to"><b>first</b></div>`, env.outer("#to"))

	got := env.runString(`
		(function() {
			const to = document.getElementById('to');
			try { to.firstChild.appendChild(to) } catch (err) { return err.name }
			return 'no error'
		})()`)
	assert.Equal(t, "HierarchyRequestError", got)

	got = env.runString(`
		(function() {
			try { document.body.removeChild(document.querySelector('b')) } catch (err) { return String(err) }
			return 'no error'
		})()`)
	assert.Contains(t, got, "NotFoundError")
}

func TestCloneAndContains(t *testing.T) {
	env := newTestEnv(t, `<div id="a" class="c"><p>x</p></div>`)

	assert.Equal(t, `<div id="a" class="c"><p>x</p></div>`, env.runString(`document.getElementById('a').cloneNode(true).outerHTML`))
	assert.Equal(t, `<div id="a" class="c"></div>`, env.runString(`document.getElementById('a').cloneNode(false).outerHTML`))
	assert.True(t, env.run(`document.body.contains(document.querySelector('p'))`).ToBoolean())
	assert.False(t, env.run(`document.querySelector('p').contains(document.body)`).ToBoolean())
	assert.Equal(t, "DIV", env.runString(`document.querySelector('p').closest('.c').tagName`))
}

func TestMediaControls(t *testing.T) {
	env := newTestEnv(t, `<video id="a"></video><video id="b" autoplay></video>`)

	assert.True(t, env.run(`document.getElementById('a').paused`).ToBoolean())
	assert.False(t, env.run(`document.getElementById('b').paused`).ToBoolean())

	env.run(`document.getElementById('b').pause()`)
	assert.True(t, env.bridge.Paused(env.one("#b")))

	v := env.run(`document.getElementById('a').play()`)
	promise, ok := v.Export().(*goja.Promise)
	require.True(t, ok, "play returns a promise")
	assert.Equal(t, goja.PromiseStateFulfilled, promise.State())
	assert.False(t, env.bridge.Paused(env.one("#a")))

	assert.True(t, goja.IsUndefined(env.run(`document.body.pause`)), "only media elements get playback controls")
}

func TestParseStyle(t *testing.T) {
	props := parseStyle(" color : red ;; Width:10px; bogus; :x")
	assert.Equal(t, []styleProp{{"color", "red"}, {"width", "10px"}}, props)
	assert.Equal(t, "color: red; width: 10px;", formatStyle(props))
	assert.Equal(t, "z-index", cssName("zIndex"))
	assert.Equal(t, "background-color", cssName("background-color"))
}
