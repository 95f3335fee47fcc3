// internal/browser/jsbind/errors.go
package jsbind

import (
	"fmt"

	"github.com/dop251/goja"
)

// NotNodeError is returned when a JS value does not wrap a DOM node.
type NotNodeError struct {
	Got string
}

func (e *NotNodeError) Error() string {
	return fmt.Sprintf("value is not a DOM node (got %s)", e.Got)
}

// domException builds an Error whose name matches the DOMException name a
// browser would use, so the thrown value stringifies as "<Name>: <message>".
func (b *DOMBridge) domException(name, message string) *goja.Object {
	ctor := "Error"
	if name == "SyntaxError" || name == "TypeError" {
		ctor = name
	}
	obj, err := b.vm.New(b.vm.Get(ctor), b.vm.ToValue(message))
	if err != nil {
		return b.vm.NewGoError(fmt.Errorf("%s: %s", name, message))
	}
	if ctor != name {
		_ = obj.Set("name", name)
	}
	return obj
}

// throw panics with a DOM exception. Goja turns the panic into a JS throw.
func (b *DOMBridge) throw(name, format string, args ...any) {
	panic(b.domException(name, fmt.Sprintf(format, args...)))
}

func (b *DOMBridge) throwInvalidSelector(method, target, selector string) {
	b.throw("SyntaxError", "Failed to execute '%s' on '%s': '%s' is not a valid selector.", method, target, selector)
}
