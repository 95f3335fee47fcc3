// internal/traversal/result.go
package traversal

import "iter"

// Kind tells what a MatchResult's Value holds.
type Kind string

const (
	// KindMarkup is the serialized outer markup of the element.
	KindMarkup Kind = "markup"
	// KindValue is the action script's return value rendered as a string.
	KindValue Kind = "value"
	// KindError is the stringified failure of the action script.
	KindError Kind = "error"
)

// MatchResult is one terminal match of a traversal.
type MatchResult struct {
	Kind  Kind   `json:"kind"`
	Value string `json:"value"`
	// Index is the position of the element in its candidate set.
	Index int `json:"index"`
	// Depth is the selector index the element matched at.
	Depth int `json:"depth"`
	// Err is set for KindError results.
	Err error `json:"-"`
}

func (r MatchResult) String() string { return r.Value }

// Failed reports whether the action script failed for this element.
func (r MatchResult) Failed() bool { return r.Kind == KindError }

// Collect drains seq. It returns the results gathered before the first error.
func Collect(seq iter.Seq2[MatchResult, error]) ([]MatchResult, error) {
	var out []MatchResult
	for res, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, res)
	}
	return out, nil
}

// Take stops seq after n results. n <= 0 returns seq unchanged.
func Take(seq iter.Seq2[MatchResult, error], n int) iter.Seq2[MatchResult, error] {
	if n <= 0 {
		return seq
	}
	return func(yield func(MatchResult, error) bool) {
		count := 0
		for res, err := range seq {
			if !yield(res, err) || err != nil {
				return
			}
			count++
			if count >= n {
				return
			}
		}
	}
}
