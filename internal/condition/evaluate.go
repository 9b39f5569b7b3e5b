package condition

import (
	"context"
	"time"
)

// DefaultBudget bounds the total wall-clock time a single Evaluate call may
// spend across every leaf read in the tree.
const DefaultBudget = 5 * time.Second

// Limits bounds one Evaluate call.
type Limits struct {
	MaxDepth int
	Budget   time.Duration
}

// DefaultLimits returns the limits a node applies when none are configured.
func DefaultLimits() Limits {
	return Limits{MaxDepth: DefaultMaxDepth, Budget: DefaultBudget}
}

// Evaluate walks cond against backend and evalCtx, bounding recursion depth
// and total wall-clock time. It never returns a usable true result from an
// erroring subtree: any leaf or structural error anywhere in the tree aborts
// the whole evaluation.
func Evaluate(ctx context.Context, backend Backend, cond Condition, evalCtx *EvalContext, limits Limits) (bool, error) {
	if limits.MaxDepth <= 0 {
		limits.MaxDepth = DefaultMaxDepth
	}
	if limits.Budget <= 0 {
		limits.Budget = DefaultBudget
	}
	cctx, cancel := context.WithTimeout(ctx, limits.Budget)
	defer cancel()
	cctx = withDepth(cctx, limits.MaxDepth)
	return cond.Evaluate(cctx, backend, evalCtx)
}
