// internal/browser/session/inpage.go
package session

import (
	"context"
	"fmt"
	"iter"

	"github.com/chromedp/cdproto/runtime"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tabquery/internal/browser/pagescript"
	"github.com/xkilldash9x/tabquery/internal/traversal"
)

// InPageRunner injects the whole traversal into the tab as one
// Runtime.evaluate call and decodes the records it resolves to.
type InPageRunner struct {
	exec   Executor
	logger *zap.Logger
}

// NewInPageRunner creates a runner over exec.
func NewInPageRunner(exec Executor, logger *zap.Logger) *InPageRunner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InPageRunner{exec: exec, logger: logger.Named("inpage")}
}

// Run evaluates the traversal in the page. Results are produced by the page
// all at once, so stopping early only skips the remaining records.
func (r *InPageRunner) Run(ctx context.Context, chain traversal.SelectorChain, script string, opts traversal.Options) iter.Seq2[traversal.MatchResult, error] {
	return func(yield func(traversal.MatchResult, error) bool) {
		results, err := r.evaluate(ctx, chain, script, opts)
		for res, err := range pagescript.Sequence(results, err) {
			if !yield(res, err) {
				return
			}
		}
	}
}

func (r *InPageRunner) evaluate(ctx context.Context, chain traversal.SelectorChain, script string, opts traversal.Options) ([]traversal.MatchResult, error) {
	expr, err := pagescript.Build(chain, script, opts)
	if err != nil {
		return nil, err
	}
	if opts.ActionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.ActionTimeout)
		defer cancel()
	}

	params := runtime.Evaluate(expr).
		WithAwaitPromise(true).
		WithReturnByValue(true).
		WithUserGesture(true)
	obj, exc, err := r.exec.Evaluate(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("evaluating page script: %w", err)
	}
	if exc != nil {
		return nil, fmt.Errorf("page script threw: %s", exceptionMessage(exc))
	}
	if obj == nil || len(obj.Value) == 0 {
		return nil, fmt.Errorf("page script returned no value")
	}

	results, err := pagescript.Decode([]byte(obj.Value))
	r.logger.Debug("Page script finished.",
		zap.Stringer("chain", chain),
		zap.Int("results", len(results)),
		zap.Error(err))
	return results, err
}
