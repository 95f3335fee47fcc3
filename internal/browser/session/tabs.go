// internal/browser/session/tabs.go
package session

import (
	"fmt"

	"github.com/gobwas/glob"
)

// TabSelector chooses page targets. Pattern is a glob matched against the
// title and the URL; an empty pattern matches every page. Index, when not
// negative, picks the n-th match instead of the first.
type TabSelector struct {
	Pattern string
	Index   int
}

// FirstPage selects the first page target.
var FirstPage = TabSelector{Index: -1}

// MatchTabs returns the page targets matching pattern, in the browser's order.
func MatchTabs(targets []Target, pattern string) ([]Target, error) {
	var matcher glob.Glob
	if pattern != "" {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid tab pattern %q: %w", pattern, err)
		}
		matcher = g
	}

	var pages, matched []Target
	for _, t := range targets {
		if !t.IsPage() {
			continue
		}
		pages = append(pages, t)
		if matcher == nil || matcher.Match(t.Title) || matcher.Match(t.URL) {
			matched = append(matched, t)
		}
	}
	if len(pages) == 0 {
		return nil, ErrNoPageTarget
	}
	return matched, nil
}

// SelectTab returns the single target sel names.
func SelectTab(targets []Target, sel TabSelector) (Target, error) {
	matched, err := MatchTabs(targets, sel.Pattern)
	if err != nil {
		return Target{}, err
	}
	idx := sel.Index
	if idx < 0 {
		idx = 0
	}
	if idx >= len(matched) {
		if sel.Pattern == "" {
			return Target{}, fmt.Errorf("%w: index %d of %d pages", ErrTabNotFound, sel.Index, len(matched))
		}
		return Target{}, fmt.Errorf("%w: pattern %q (index %d of %d matches)", ErrTabNotFound, sel.Pattern, idx, len(matched))
	}
	return matched[idx], nil
}
