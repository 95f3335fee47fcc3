// internal/browser/jsbind/style.go
package jsbind

import (
	"strings"

	"github.com/dop251/goja"
)

// styleDeclaration backs element.style. Properties read and write the style
// attribute directly, in both camelCase and kebab-case forms.
type styleDeclaration struct {
	el *Element
}

var _ goja.DynamicObject = (*styleDeclaration)(nil)

type styleProp struct {
	name, value string
}

func (s *styleDeclaration) props() []styleProp {
	var raw string
	s.el.bridge.doc.View(func() { raw, _ = getAttr(s.el.Node, "style") })
	return parseStyle(raw)
}

func (s *styleDeclaration) store(props []styleProp) {
	s.el.setAttribute("style", formatStyle(props))
}

func (s *styleDeclaration) Get(key string) goja.Value {
	b := s.el.bridge
	switch key {
	case "cssText":
		return b.str(formatStyle(s.props()))
	case "length":
		return b.vm.ToValue(len(s.props()))
	case "getPropertyValue":
		return b.vm.ToValue(func(call goja.FunctionCall) goja.Value {
			return b.str(lookupStyle(s.props(), call.Argument(0).String()))
		})
	case "setProperty":
		return b.vm.ToValue(func(call goja.FunctionCall) goja.Value {
			value := call.Argument(1).String()
			if strings.EqualFold(call.Argument(2).String(), "important") {
				value += " !important"
			}
			s.store(putStyle(s.props(), call.Argument(0).String(), value))
			return goja.Undefined()
		})
	case "removeProperty":
		return b.vm.ToValue(func(call goja.FunctionCall) goja.Value {
			name := call.Argument(0).String()
			old := lookupStyle(s.props(), name)
			s.store(putStyle(s.props(), name, ""))
			return b.str(old)
		})
	}
	return b.str(lookupStyle(s.props(), cssName(key)))
}

func (s *styleDeclaration) Set(key string, val goja.Value) bool {
	value := ""
	if !goja.IsNull(val) && !goja.IsUndefined(val) {
		value = val.String()
	}
	if key == "cssText" {
		s.el.setAttribute("style", formatStyle(parseStyle(value)))
		return true
	}
	s.store(putStyle(s.props(), cssName(key), value))
	return true
}

func (s *styleDeclaration) Has(key string) bool {
	return lookupStyle(s.props(), cssName(key)) != ""
}

func (s *styleDeclaration) Delete(key string) bool {
	s.store(putStyle(s.props(), cssName(key), ""))
	return true
}

func (s *styleDeclaration) Keys() []string {
	props := s.props()
	keys := make([]string, len(props))
	for i, p := range props {
		keys[i] = p.name
	}
	return keys
}

func parseStyle(raw string) []styleProp {
	var props []styleProp
	for _, decl := range strings.Split(raw, ";") {
		name, value, ok := strings.Cut(decl, ":")
		if !ok {
			continue
		}
		name = strings.ToLower(strings.TrimSpace(name))
		value = strings.TrimSpace(value)
		if name == "" || value == "" {
			continue
		}
		props = putStyle(props, name, value)
	}
	return props
}

func formatStyle(props []styleProp) string {
	parts := make([]string, len(props))
	for i, p := range props {
		parts[i] = p.name + ": " + p.value + ";"
	}
	return strings.Join(parts, " ")
}

func lookupStyle(props []styleProp, name string) string {
	name = strings.ToLower(name)
	for _, p := range props {
		if p.name == name {
			return p.value
		}
	}
	return ""
}

// putStyle sets or, with an empty value, removes a property.
func putStyle(props []styleProp, name, value string) []styleProp {
	name = strings.ToLower(strings.TrimSpace(name))
	value = strings.TrimSpace(value)
	for i, p := range props {
		if p.name != name {
			continue
		}
		if value == "" {
			return append(props[:i:i], props[i+1:]...)
		}
		props[i].value = value
		return props
	}
	if value == "" {
		return props
	}
	return append(props, styleProp{name: name, value: value})
}

// cssName converts a camelCase property such as zIndex to z-index.
func cssName(key string) string {
	if strings.Contains(key, "-") {
		return strings.ToLower(key)
	}
	var b strings.Builder
	for _, r := range key {
		if r >= 'A' && r <= 'Z' {
			b.WriteByte('-')
			b.WriteRune(r + ('a' - 'A'))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
