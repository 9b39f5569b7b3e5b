// Package condition implements the access-condition tree gating every
// node-side cryptographic operation: a boolean expression over chain/context
// state that must evaluate true before a node re-encrypts a capsule fragment
// or derives a decryption share.
//
// Leaves read an external backend (chain RPC, HTTPS JSON-RPC); composites
// combine leaves. Evaluation is fail-closed: a leaf or backend error always
// propagates as an error rather than being coerced to false, so a
// misbehaving or unreachable backend can never be silently treated as an
// authorization grant.
package condition

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/nucypher/taco/common/errs"
)

// Backend reads external state on behalf of leaf conditions. Implementations
// live in internal/condchain; this package only depends on the interface.
type Backend interface {
	// ChainAllowed reports whether chain is on the node's configured
	// allow-list. Conditions referencing any other chain fail closed with
	// errs.CodeUnauthorizedChain before any read is attempted.
	ChainAllowed(chain string) bool

	ReadTime(ctx context.Context, chain string) (int64, error)
	ReadRpc(ctx context.Context, chain, method string, params []interface{}) (interface{}, error)
	ReadContract(ctx context.Context, chain, address, abiEntry string, params []interface{}) (interface{}, error)
	ReadJsonRpc(ctx context.Context, endpoint, method string, params []interface{}) (interface{}, error)
}

// EvalContext carries the per-request values substituted into conditions
// whose return_value_test references a free variable (a string prefixed
// with ":").
type EvalContext struct {
	UserAddress string
	RitualID    uint32
	HRAC        string
	Custom      map[string]interface{}
}

func (c *EvalContext) lookup(key string) (interface{}, bool) {
	switch key {
	case ":userAddress":
		return c.UserAddress, true
	case ":ritualId":
		return c.RitualID, true
	case ":hrac":
		return c.HRAC, true
	}
	if c.Custom != nil {
		if v, ok := c.Custom[key]; ok {
			return v, true
		}
	}
	return nil, false
}

// clone returns a shallow copy whose Custom map may be extended without
// mutating the caller's context; used by SequentialAccess to thread derived
// values through later children without leaking them to sibling subtrees.
func (c *EvalContext) clone() *EvalContext {
	cp := *c
	cp.Custom = make(map[string]interface{}, len(c.Custom)+1)
	for k, v := range c.Custom {
		cp.Custom[k] = v
	}
	return &cp
}

// Comparator is one of the six return_value_test operators.
type Comparator string

const (
	CmpEQ Comparator = "=="
	CmpNE Comparator = "!="
	CmpLT Comparator = "<"
	CmpLE Comparator = "<="
	CmpGT Comparator = ">"
	CmpGE Comparator = ">="
)

// ReturnValueTest compares a backend read's result (or, if Index is set, one
// element of it) against Value, which may itself be a free variable
// substituted from the EvalContext before comparison.
type ReturnValueTest struct {
	Comparator Comparator  `json:"comparator"`
	Value      interface{} `json:"value"`
	Index      *int        `json:"index,omitempty"`
}

func (t ReturnValueTest) resolve(evalCtx *EvalContext) interface{} {
	if s, ok := t.Value.(string); ok && strings.HasPrefix(s, ":") {
		if v, found := evalCtx.lookup(s); found {
			return v
		}
	}
	return t.Value
}

func (t ReturnValueTest) apply(actual interface{}, evalCtx *EvalContext) (bool, error) {
	want := t.resolve(evalCtx)
	if t.Index != nil {
		arr, ok := actual.([]interface{})
		if !ok || *t.Index < 0 || *t.Index >= len(arr) {
			return false, errs.New(errs.CodeConditionError, "return_value_test index out of range")
		}
		actual = arr[*t.Index]
	}
	return compare(t.Comparator, actual, want)
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint32:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func compare(cmp Comparator, actual, want interface{}) (bool, error) {
	if af, aok := toFloat(actual); aok {
		if wf, wok := toFloat(want); wok {
			switch cmp {
			case CmpEQ:
				return af == wf, nil
			case CmpNE:
				return af != wf, nil
			case CmpLT:
				return af < wf, nil
			case CmpLE:
				return af <= wf, nil
			case CmpGT:
				return af > wf, nil
			case CmpGE:
				return af >= wf, nil
			}
		}
	}
	switch cmp {
	case CmpEQ:
		return fmt.Sprint(actual) == fmt.Sprint(want), nil
	case CmpNE:
		return fmt.Sprint(actual) != fmt.Sprint(want), nil
	default:
		return false, errs.New(errs.CodeConditionError,
			fmt.Sprintf("cannot order-compare %T against %T with %s", actual, want, cmp))
	}
}

// Condition is one node of the condition tree.
type Condition interface {
	// Evaluate reports whether this condition holds in evalCtx, reading
	// through backend as needed.
	Evaluate(ctx context.Context, backend Backend, evalCtx *EvalContext) (bool, error)
	// Kind names the condition's wire discriminator, used by the tagged
	// JSON encoding in json.go.
	Kind() string
}

// ValueProducer is implemented by leaf conditions: it exposes the raw
// backend read, before the return_value_test is applied, for
// SequentialAccess to capture into context for later children.
type ValueProducer interface {
	EvaluateValue(ctx context.Context, backend Backend, evalCtx *EvalContext) (interface{}, error)
}

func substituteParams(params []interface{}, evalCtx *EvalContext) []interface{} {
	if params == nil {
		return nil
	}
	out := make([]interface{}, len(params))
	for i, p := range params {
		if s, ok := p.(string); ok && strings.HasPrefix(s, ":") {
			if v, found := evalCtx.lookup(s); found {
				out[i] = v
				continue
			}
		}
		out[i] = p
	}
	return out
}

func checkChain(backend Backend, chain string) error {
	if !backend.ChainAllowed(chain) {
		return errs.New(errs.CodeUnauthorizedChain, fmt.Sprintf("chain %q is not on this node's allow-list", chain))
	}
	return nil
}

const (
	kindTime     = "time"
	kindRpc      = "rpc"
	kindContract = "contract"
	kindJsonRpc  = "jsonrpc"
)

// TimeCondition tests the current block/wall time on chain against Test.
type TimeCondition struct {
	Chain string          `json:"chain"`
	Test  ReturnValueTest `json:"returnValueTest"`
}

func (c *TimeCondition) Kind() string { return kindTime }

func (c *TimeCondition) EvaluateValue(ctx context.Context, backend Backend, evalCtx *EvalContext) (interface{}, error) {
	if err := checkChain(backend, c.Chain); err != nil {
		return nil, err
	}
	t, err := backend.ReadTime(ctx, c.Chain)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (c *TimeCondition) Evaluate(ctx context.Context, backend Backend, evalCtx *EvalContext) (bool, error) {
	v, err := c.EvaluateValue(ctx, backend, evalCtx)
	if err != nil {
		return false, err
	}
	return c.Test.apply(v, evalCtx)
}

// RpcCondition tests the result of a chain RPC call against Test.
type RpcCondition struct {
	Chain  string          `json:"chain"`
	Method string          `json:"method"`
	Params []interface{}   `json:"params,omitempty"`
	Test   ReturnValueTest `json:"returnValueTest"`
}

func (c *RpcCondition) Kind() string { return kindRpc }

func (c *RpcCondition) EvaluateValue(ctx context.Context, backend Backend, evalCtx *EvalContext) (interface{}, error) {
	if err := checkChain(backend, c.Chain); err != nil {
		return nil, err
	}
	return backend.ReadRpc(ctx, c.Chain, c.Method, substituteParams(c.Params, evalCtx))
}

func (c *RpcCondition) Evaluate(ctx context.Context, backend Backend, evalCtx *EvalContext) (bool, error) {
	v, err := c.EvaluateValue(ctx, backend, evalCtx)
	if err != nil {
		return false, err
	}
	return c.Test.apply(v, evalCtx)
}

// ContractCondition tests the result of a contract read (e.g. an ABI call or
// ERC-1271 check) against Test.
type ContractCondition struct {
	Chain    string          `json:"chain"`
	Address  string          `json:"address"`
	ABIEntry string          `json:"abiEntry"`
	Params   []interface{}   `json:"params,omitempty"`
	Test     ReturnValueTest `json:"returnValueTest"`
}

func (c *ContractCondition) Kind() string { return kindContract }

func (c *ContractCondition) EvaluateValue(ctx context.Context, backend Backend, evalCtx *EvalContext) (interface{}, error) {
	if err := checkChain(backend, c.Chain); err != nil {
		return nil, err
	}
	return backend.ReadContract(ctx, c.Chain, c.Address, c.ABIEntry, substituteParams(c.Params, evalCtx))
}

func (c *ContractCondition) Evaluate(ctx context.Context, backend Backend, evalCtx *EvalContext) (bool, error) {
	v, err := c.EvaluateValue(ctx, backend, evalCtx)
	if err != nil {
		return false, err
	}
	return c.Test.apply(v, evalCtx)
}

// JsonRpcCondition tests the result of an arbitrary HTTPS JSON-RPC endpoint
// against Test. Unlike the other leaves it is not chain-scoped, so it is not
// subject to the chain allow-list.
type JsonRpcCondition struct {
	Endpoint string          `json:"endpoint"`
	Method   string          `json:"method"`
	Params   []interface{}   `json:"params,omitempty"`
	Test     ReturnValueTest `json:"returnValueTest"`
}

func (c *JsonRpcCondition) Kind() string { return kindJsonRpc }

func (c *JsonRpcCondition) EvaluateValue(ctx context.Context, backend Backend, evalCtx *EvalContext) (interface{}, error) {
	return backend.ReadJsonRpc(ctx, c.Endpoint, c.Method, substituteParams(c.Params, evalCtx))
}

func (c *JsonRpcCondition) Evaluate(ctx context.Context, backend Backend, evalCtx *EvalContext) (bool, error) {
	v, err := c.EvaluateValue(ctx, backend, evalCtx)
	if err != nil {
		return false, err
	}
	return c.Test.apply(v, evalCtx)
}
