// internal/browser/runner.go
package browser

import (
	"context"
	"iter"

	"go.uber.org/zap"

	"github.com/xkilldash9x/tabquery/internal/browser/dom"
	"github.com/xkilldash9x/tabquery/internal/browser/jsexec"
	"github.com/xkilldash9x/tabquery/internal/traversal"
)

// StaticRunner runs traversals over a parsed document, with action scripts
// evaluated by an in-process JavaScript runtime bound to the same tree.
type StaticRunner struct {
	doc    *dom.Document
	rt     *jsexec.Runtime
	logger *zap.Logger
}

// NewStaticRunner starts a runtime for doc.
func NewStaticRunner(doc *dom.Document, logger *zap.Logger) (*StaticRunner, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	rt, err := jsexec.NewRuntime(doc, logger)
	if err != nil {
		return nil, err
	}
	return &StaticRunner{doc: doc, rt: rt, logger: logger}, nil
}

func (r *StaticRunner) Run(ctx context.Context, chain traversal.SelectorChain, script string, opts traversal.Options) iter.Seq2[traversal.MatchResult, error] {
	engine := traversal.New(r.doc, r.rt, r.logger, traversal.WithOptions(opts))
	return engine.Traverse(ctx, r.doc, chain, script)
}

// Close stops the runtime.
func (r *StaticRunner) Close() error {
	r.rt.Close()
	return nil
}
