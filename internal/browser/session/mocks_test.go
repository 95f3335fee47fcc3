// internal/browser/session/mocks_test.go
package session

import (
	"context"

	"github.com/chromedp/cdproto/runtime"
	"github.com/stretchr/testify/mock"
)

// MockExecutor mocks the Executor interface.
type MockExecutor struct {
	mock.Mock
}

func (m *MockExecutor) CallFunctionOn(ctx context.Context, params *runtime.CallFunctionOnParams) (*runtime.RemoteObject, *runtime.ExceptionDetails, error) {
	args := m.Called(ctx, params)
	obj, _ := args.Get(0).(*runtime.RemoteObject)
	exc, _ := args.Get(1).(*runtime.ExceptionDetails)
	return obj, exc, args.Error(2)
}

func (m *MockExecutor) Evaluate(ctx context.Context, params *runtime.EvaluateParams) (*runtime.RemoteObject, *runtime.ExceptionDetails, error) {
	args := m.Called(ctx, params)
	obj, _ := args.Get(0).(*runtime.RemoteObject)
	exc, _ := args.Get(1).(*runtime.ExceptionDetails)
	return obj, exc, args.Error(2)
}

func (m *MockExecutor) ReleaseObjectGroup(ctx context.Context, group string) error {
	args := m.Called(ctx, group)
	return args.Error(0)
}

// -- Remote object helpers --

func objectRef(id string) *runtime.RemoteObject {
	return &runtime.RemoteObject{Type: runtime.TypeObject, ObjectID: runtime.RemoteObjectID(id), Description: id}
}

func nullRef() *runtime.RemoteObject {
	return &runtime.RemoteObject{Type: runtime.TypeObject, Subtype: runtime.SubtypeNull}
}

func undefinedRef() *runtime.RemoteObject {
	return &runtime.RemoteObject{Type: runtime.TypeUndefined}
}

func byValue(raw string) *runtime.RemoteObject {
	return &runtime.RemoteObject{Type: runtime.TypeObject, Value: []byte(raw)}
}

func thrown(className, description string) *runtime.ExceptionDetails {
	return &runtime.ExceptionDetails{
		Text:      "Uncaught",
		Exception: &runtime.RemoteObject{Type: runtime.TypeObject, ClassName: className, Description: description},
	}
}

// callOn matches a CallFunctionOn against object id running decl.
func callOn(id, decl string) any {
	return mock.MatchedBy(func(p *runtime.CallFunctionOnParams) bool {
		return string(p.ObjectID) == id && p.FunctionDeclaration == decl
	})
}

// callOnWith additionally matches the JSON of the first argument.
func callOnWith(id, decl, firstArg string) any {
	return mock.MatchedBy(func(p *runtime.CallFunctionOnParams) bool {
		return string(p.ObjectID) == id && p.FunctionDeclaration == decl &&
			len(p.Arguments) > 0 && string(p.Arguments[0].Value) == firstArg
	})
}

// fakePage scripts a MockExecutor with the calls CDPHost makes for a small
// page tree. Object ids double as descriptions.
type fakePage struct {
	exec *MockExecutor
}

func newFakePage() *fakePage {
	return &fakePage{exec: new(MockExecutor)}
}

// query makes root.querySelectorAll(selector) return items.
func (p *fakePage) query(root, selector string, items ...string) {
	list := root + "|" + selector
	p.exec.On("CallFunctionOn", mock.Anything, callOnWith(root, fnQueryAll, quote(selector))).
		Return(objectRef(list), nil, nil)
	p.exec.On("CallFunctionOn", mock.Anything, callOn(list, fnLength)).
		Return(byValue(itoa(len(items))), nil, nil)
	for i, item := range items {
		p.exec.On("CallFunctionOn", mock.Anything, callOnWith(list, fnItem, itoa(i))).
			Return(objectRef(item), nil, nil)
	}
}

// element registers a plain element: no shadow root, not a frame.
func (p *fakePage) element(id, markup string) {
	p.exec.On("CallFunctionOn", mock.Anything, callOn(id, fnShadowRoot)).Return(nullRef(), nil, nil)
	p.exec.On("CallFunctionOn", mock.Anything, callOn(id, fnFrameDoc)).Return(undefinedRef(), nil, nil)
	p.exec.On("CallFunctionOn", mock.Anything, callOn(id, fnOuterHTML)).Return(byValue(quote(markup)), nil, nil)
}

// host registers a shadow host whose open root is root.
func (p *fakePage) host(id, root string) {
	p.exec.On("CallFunctionOn", mock.Anything, callOn(id, fnShadowRoot)).Return(objectRef(root), nil, nil)
}

// blockedFrame registers an iframe whose document access throws.
func (p *fakePage) blockedFrame(id string) {
	p.exec.On("CallFunctionOn", mock.Anything, callOn(id, fnShadowRoot)).Return(nullRef(), nil, nil)
	p.exec.On("CallFunctionOn", mock.Anything, callOn(id, fnFrameDoc)).
		Return(nil, thrown("DOMException", "SecurityError: Blocked a frame with origin from accessing a cross-origin frame."), nil)
}

func (p *fakePage) document(id string) {
	p.exec.On("Evaluate", mock.Anything, mock.MatchedBy(func(e *runtime.EvaluateParams) bool {
		return e.Expression == "document"
	})).Return(objectRef(id), nil, nil)
}

func (p *fakePage) expectRelease() {
	p.exec.On("ReleaseObjectGroup", mock.Anything, mock.MatchedBy(func(g string) bool {
		return len(g) > len("tabquery-")
	})).Return(nil).Once()
}

func quote(s string) string {
	raw, err := json.Marshal(s)
	if err != nil {
		panic(err)
	}
	return string(raw)
}

func itoa(i int) string {
	raw, err := json.Marshal(i)
	if err != nil {
		panic(err)
	}
	return string(raw)
}
