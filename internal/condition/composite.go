package condition

import (
	"context"

	"github.com/nucypher/taco/common/errs"
)

const (
	kindAnd      = "and"
	kindOr       = "or"
	kindNot      = "not"
	kindIfElse   = "ifThenElse"
	kindSequence = "sequentialAccess"
)

type depthKey struct{}

// DefaultMaxDepth bounds how deeply a condition tree may nest before
// evaluation refuses to descend further.
const DefaultMaxDepth = 16

func withDepth(ctx context.Context, n int) context.Context {
	return context.WithValue(ctx, depthKey{}, n)
}

func remainingDepth(ctx context.Context) int {
	if v, ok := ctx.Value(depthKey{}).(int); ok {
		return v
	}
	return DefaultMaxDepth
}

// descend consumes one unit of remaining tree depth, failing closed once the
// budget is exhausted rather than recursing unbounded.
func descend(ctx context.Context) (context.Context, error) {
	d := remainingDepth(ctx)
	if d <= 0 {
		return ctx, errs.New(errs.CodeConditionError, "condition tree exceeds the maximum nesting depth")
	}
	return withDepth(ctx, d-1), nil
}

// And evaluates its children in order, short-circuiting on the first false
// or error.
type And struct {
	Children []Node `json:"children"`
}

func (c *And) Kind() string { return kindAnd }

func (c *And) Evaluate(ctx context.Context, backend Backend, evalCtx *EvalContext) (bool, error) {
	ctx, err := descend(ctx)
	if err != nil {
		return false, err
	}
	for _, child := range c.Children {
		ok, err := child.Condition.Evaluate(ctx, backend, evalCtx)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// Or evaluates its children in order, short-circuiting on the first true or
// on any error (an error is never masked by a later success).
type Or struct {
	Children []Node `json:"children"`
}

func (c *Or) Kind() string { return kindOr }

func (c *Or) Evaluate(ctx context.Context, backend Backend, evalCtx *EvalContext) (bool, error) {
	ctx, err := descend(ctx)
	if err != nil {
		return false, err
	}
	for _, child := range c.Children {
		ok, err := child.Condition.Evaluate(ctx, backend, evalCtx)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// Not negates its child's boolean result; an error from the child
// propagates unchanged rather than being negated.
type Not struct {
	Child Node `json:"child"`
}

func (c *Not) Kind() string { return kindNot }

func (c *Not) Evaluate(ctx context.Context, backend Backend, evalCtx *EvalContext) (bool, error) {
	ctx, err := descend(ctx)
	if err != nil {
		return false, err
	}
	ok, err := c.Child.Condition.Evaluate(ctx, backend, evalCtx)
	if err != nil {
		return false, err
	}
	return !ok, nil
}

// IfThenElse evaluates Guard, then exactly one of Then/Else.
type IfThenElse struct {
	Guard Node `json:"guard"`
	Then  Node `json:"then"`
	Else  Node `json:"else"`
}

func (c *IfThenElse) Kind() string { return kindIfElse }

func (c *IfThenElse) Evaluate(ctx context.Context, backend Backend, evalCtx *EvalContext) (bool, error) {
	ctx, err := descend(ctx)
	if err != nil {
		return false, err
	}
	guard, err := c.Guard.Condition.Evaluate(ctx, backend, evalCtx)
	if err != nil {
		return false, err
	}
	if guard {
		return c.Then.Condition.Evaluate(ctx, backend, evalCtx)
	}
	return c.Else.Condition.Evaluate(ctx, backend, evalCtx)
}

// SequentialStep names one child of a SequentialAccess, the name under which
// its raw (pre-return_value_test) backend read is exposed to later steps as
// a ":name" free variable.
type SequentialStep struct {
	Name      string `json:"name"`
	Condition Node   `json:"condition"`
}

// SequentialAccess threads a private, extended EvalContext through its
// children in order: each step's raw backend value (if it implements
// ValueProducer) is bound to ":"+Name and visible to every subsequent step,
// letting a later condition reference an earlier one's on-chain read. The
// overall result is the last step's boolean result.
type SequentialAccess struct {
	Steps []SequentialStep `json:"steps"`
}

func (c *SequentialAccess) Kind() string { return kindSequence }

func (c *SequentialAccess) Evaluate(ctx context.Context, backend Backend, evalCtx *EvalContext) (bool, error) {
	ctx, err := descend(ctx)
	if err != nil {
		return false, err
	}
	if len(c.Steps) == 0 {
		return false, errs.New(errs.CodeConditionError, "sequentialAccess has no steps")
	}
	local := evalCtx.clone()
	var result bool
	for _, step := range c.Steps {
		ok, err := step.Condition.Condition.Evaluate(ctx, backend, local)
		if err != nil {
			return false, err
		}
		if vp, isVP := step.Condition.Condition.(ValueProducer); isVP {
			if v, verr := vp.EvaluateValue(ctx, backend, local); verr == nil {
				local.Custom[":"+step.Name] = v
			}
		}
		result = ok
	}
	return result, nil
}
