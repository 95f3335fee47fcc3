// browser/dom/path.go
package dom

import (
	"fmt"
	"strings"

	"github.com/antchfx/htmlquery"
	"github.com/xkilldash9x/tabquery/internal/browser/shadowdom"
	"golang.org/x/net/html"
)

// NodePath builds a CSS selector path for n within its own tree. An ancestor
// with an id anchors the path. A path that starts inside a shadow root is
// prefixed with "::shadow".
func NodePath(n *html.Node) string {
	if n == nil {
		return ""
	}

	var path []string
	prefix := ""
	for cur := n; cur != nil; cur = cur.Parent {
		if shadowdom.IsBoundary(cur) {
			prefix = "::shadow "
			break
		}
		if cur.Type != html.ElementNode {
			continue
		}

		tag := strings.ToLower(cur.Data)
		if id := htmlquery.SelectAttr(cur, "id"); id != "" {
			path = append(path, "#"+cssIdent(id))
			break
		}

		// nth-of-type is 1-based.
		index := 1
		for prev := cur.PrevSibling; prev != nil; prev = prev.PrevSibling {
			if prev.Type == html.ElementNode && strings.EqualFold(prev.Data, tag) {
				index++
			}
		}
		if index == 1 && !hasSameTagSibling(cur, tag) {
			path = append(path, tag)
		} else {
			path = append(path, fmt.Sprintf("%s:nth-of-type(%d)", tag, index))
		}
	}

	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return prefix + strings.Join(path, " > ")
}

func hasSameTagSibling(n *html.Node, tag string) bool {
	for next := n.NextSibling; next != nil; next = next.NextSibling {
		if next.Type == html.ElementNode && strings.EqualFold(next.Data, tag) {
			return true
		}
	}
	return false
}

// cssIdent escapes characters that cannot appear unquoted in an id selector.
func cssIdent(s string) string {
	var b strings.Builder
	for i, r := range s {
		switch {
		case r == '-' || r == '_' || r >= 0x80,
			r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			if i == 0 {
				fmt.Fprintf(&b, "\\%x ", r)
			} else {
				b.WriteRune(r)
			}
		default:
			b.WriteByte('\\')
			b.WriteRune(r)
		}
	}
	return b.String()
}
