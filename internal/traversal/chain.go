// internal/traversal/chain.go
package traversal

import (
	"fmt"
	"strings"

	json "github.com/json-iterator/go"
)

// SelectorChain is an ordered list of CSS selectors. Each position is one hop
// across a shadow root or frame boundary.
type SelectorChain []string

// Validate rejects empty chains and blank selectors.
func (c SelectorChain) Validate() error {
	if len(c) == 0 {
		return ErrEmptyChain
	}
	for i, sel := range c {
		if strings.TrimSpace(sel) == "" {
			return fmt.Errorf("selector %d: %w", i, ErrEmptySelector)
		}
	}
	return nil
}

// Last reports whether depth is the final position of the chain.
func (c SelectorChain) Last(depth int) bool { return depth == len(c)-1 }

func (c SelectorChain) String() string { return strings.Join(c, " >>> ") }

// ParseChain accepts a JSON array of selectors, a single JSON string, or a
// bare selector. A non-array input becomes a chain of one.
func ParseChain(raw string) (SelectorChain, error) {
	trimmed := strings.TrimSpace(raw)
	switch {
	case trimmed == "":
		return nil, ErrEmptyChain
	case strings.HasPrefix(trimmed, "["):
		var selectors []string
		if err := json.UnmarshalFromString(trimmed, &selectors); err != nil {
			return nil, fmt.Errorf("decoding selector array: %w", err)
		}
		chain := SelectorChain(selectors)
		if err := chain.Validate(); err != nil {
			return nil, err
		}
		return chain, nil
	case strings.HasPrefix(trimmed, `"`):
		var selector string
		if err := json.UnmarshalFromString(trimmed, &selector); err != nil {
			return nil, fmt.Errorf("decoding selector string: %w", err)
		}
		chain := SelectorChain{selector}
		if err := chain.Validate(); err != nil {
			return nil, err
		}
		return chain, nil
	default:
		return SelectorChain{trimmed}, nil
	}
}
