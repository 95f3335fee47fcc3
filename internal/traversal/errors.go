// internal/traversal/errors.go
package traversal

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyChain is returned when a traversal is started without selectors.
	ErrEmptyChain = errors.New("selector chain is empty")
	// ErrEmptySelector marks a blank position inside a chain.
	ErrEmptySelector = errors.New("selector is empty")
	// ErrNoEvaluator is returned when an action script is given to an engine
	// built without an ElementActionEvaluator.
	ErrNoEvaluator = errors.New("action script given but no evaluator is configured")
)

// SelectorSyntaxError reports a selector the host could not parse. It aborts
// the whole traversal.
type SelectorSyntaxError struct {
	Selector string
	Err      error
}

func (e *SelectorSyntaxError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("invalid selector %q", e.Selector)
	}
	return fmt.Sprintf("invalid selector %q: %v", e.Selector, e.Err)
}

func (e *SelectorSyntaxError) Unwrap() error { return e.Err }

// FrameAccessError reports a frame whose document cannot be reached, usually
// because it is cross-origin. The traversal skips the frame and continues.
type FrameAccessError struct {
	// Frame identifies the frame element, typically its src.
	Frame  string
	Reason string
	Err    error
}

func (e *FrameAccessError) Error() string {
	msg := fmt.Sprintf("cannot access frame document %q", e.Frame)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FrameAccessError) Unwrap() error { return e.Err }

// ActionScriptError is a failure raised while evaluating an action script
// against one candidate. Message holds the value as the script would
// stringify it, e.g. "Error: boom".
type ActionScriptError struct {
	Index   int
	Message string
	Err     error
}

func (e *ActionScriptError) Error() string {
	return fmt.Sprintf("action script failed on candidate %d: %s", e.Index, e.Message)
}

func (e *ActionScriptError) Unwrap() error { return e.Err }

// IsSelectorSyntax reports whether err carries a SelectorSyntaxError.
func IsSelectorSyntax(err error) bool {
	var target *SelectorSyntaxError
	return errors.As(err, &target)
}

// IsFrameAccess reports whether err carries a FrameAccessError.
func IsFrameAccess(err error) bool {
	var target *FrameAccessError
	return errors.As(err, &target)
}
