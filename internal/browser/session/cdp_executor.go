// internal/browser/session/cdp_executor.go
package session

import (
	"context"
	"fmt"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Executor issues the Runtime domain calls the CDP host is built from. It is
// the seam tests replace with a mock.
type Executor interface {
	CallFunctionOn(ctx context.Context, params *runtime.CallFunctionOnParams) (*runtime.RemoteObject, *runtime.ExceptionDetails, error)
	Evaluate(ctx context.Context, params *runtime.EvaluateParams) (*runtime.RemoteObject, *runtime.ExceptionDetails, error)
	ReleaseObjectGroup(ctx context.Context, group string) error
}

// cdpExecutor runs Runtime calls on an attached tab. Every call waits on the
// shared rate limiter first.
type cdpExecutor struct {
	ctx            context.Context // the tab's chromedp context
	logger         *zap.Logger
	limiter        *rate.Limiter
	runActionsFunc func(ctx context.Context, actions ...chromedp.Action) error
}

var _ Executor = (*cdpExecutor)(nil)

// newLimiter builds the CDP throttle. A non-positive limit disables it.
func newLimiter(limit float64, burst int) *rate.Limiter {
	if limit <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(limit), burst)
}

func newCDPExecutor(tabCtx context.Context, limiter *rate.Limiter, logger *zap.Logger) *cdpExecutor {
	return &cdpExecutor{
		ctx:            tabCtx,
		logger:         logger.Named("cdp_executor"),
		limiter:        limiter,
		runActionsFunc: chromedp.Run,
	}
}

// run throttles and executes a single action with ctx bounded by the tab.
func (e *cdpExecutor) run(ctx context.Context, method string, action chromedp.ActionFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	opCtx, cancel := CombineContext(e.ctx, ctx)
	defer cancel()

	if err := e.limiter.Wait(opCtx); err != nil {
		return fmt.Errorf("%s: waiting for rate limiter: %w", method, err)
	}
	if err := e.runActionsFunc(opCtx, action); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		e.logger.Debug("CDP call failed.", zap.String("method", method), zap.Error(err))
		return fmt.Errorf("%s: %w", method, err)
	}
	return nil
}

func (e *cdpExecutor) CallFunctionOn(ctx context.Context, params *runtime.CallFunctionOnParams) (*runtime.RemoteObject, *runtime.ExceptionDetails, error) {
	var (
		res *runtime.RemoteObject
		exc *runtime.ExceptionDetails
	)
	err := e.run(ctx, runtime.CommandCallFunctionOn, func(ctx context.Context) error {
		var err error
		res, exc, err = params.Do(ctx)
		return err
	})
	return res, exc, err
}

func (e *cdpExecutor) Evaluate(ctx context.Context, params *runtime.EvaluateParams) (*runtime.RemoteObject, *runtime.ExceptionDetails, error) {
	var (
		res *runtime.RemoteObject
		exc *runtime.ExceptionDetails
	)
	err := e.run(ctx, runtime.CommandEvaluate, func(ctx context.Context) error {
		var err error
		res, exc, err = params.Do(ctx)
		return err
	})
	return res, exc, err
}

func (e *cdpExecutor) ReleaseObjectGroup(ctx context.Context, group string) error {
	return e.run(ctx, runtime.CommandReleaseObjectGroup, func(ctx context.Context) error {
		return runtime.ReleaseObjectGroup(group).Do(ctx)
	})
}
