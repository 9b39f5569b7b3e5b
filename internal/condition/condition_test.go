package condition_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nucypher/taco/common/errs"
	. "github.com/nucypher/taco/internal/condition"
)

type fakeBackend struct {
	allowed map[string]bool
	times   map[string]int64
	rpc     map[string]interface{}
	jsonrpc map[string]interface{}
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		allowed: map[string]bool{"ethereum": true, "polygon": true},
		times:   map[string]int64{"ethereum": 1000},
		rpc:     map[string]interface{}{},
		jsonrpc: map[string]interface{}{},
	}
}

func (f *fakeBackend) ChainAllowed(chain string) bool { return f.allowed[chain] }

func (f *fakeBackend) ReadTime(ctx context.Context, chain string) (int64, error) {
	return f.times[chain], nil
}

func (f *fakeBackend) ReadRpc(ctx context.Context, chain, method string, params []interface{}) (interface{}, error) {
	return f.rpc[chain+"/"+method], nil
}

func (f *fakeBackend) ReadContract(ctx context.Context, chain, address, abiEntry string, params []interface{}) (interface{}, error) {
	return f.rpc[chain+"/"+address+"/"+abiEntry], nil
}

func (f *fakeBackend) ReadJsonRpc(ctx context.Context, endpoint, method string, params []interface{}) (interface{}, error) {
	return f.jsonrpc[endpoint+"/"+method], nil
}

func alwaysTrue() Condition {
	return &TimeCondition{Chain: "ethereum", Test: ReturnValueTest{Comparator: CmpGE, Value: float64(0)}}
}

func TestTimeConditionEvaluatesTrueAndFalse(t *testing.T) {
	backend := newFakeBackend()
	evalCtx := &EvalContext{}

	notYet := &TimeCondition{Chain: "ethereum", Test: ReturnValueTest{Comparator: CmpGT, Value: float64(9999999999)}}
	ok, err := Evaluate(context.Background(), backend, notYet, evalCtx, DefaultLimits())
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = Evaluate(context.Background(), backend, alwaysTrue(), evalCtx, DefaultLimits())
	require.NoError(t, err)
	require.True(t, ok)
}

func TestUnauthorizedChainFailsClosed(t *testing.T) {
	backend := newFakeBackend()
	cond := &TimeCondition{Chain: "not-on-allowlist", Test: ReturnValueTest{Comparator: CmpGE, Value: float64(0)}}
	_, err := Evaluate(context.Background(), backend, cond, &EvalContext{}, DefaultLimits())
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.CodeUnauthorizedChain))
}

func TestAndShortCircuitsOnFalse(t *testing.T) {
	backend := newFakeBackend()
	never := &TimeCondition{Chain: "ethereum", Test: ReturnValueTest{Comparator: CmpGT, Value: float64(9999999999)}}
	and := &And{Children: []Node{{Condition: never}, {Condition: alwaysTrue()}}}
	ok, err := Evaluate(context.Background(), backend, and, &EvalContext{}, DefaultLimits())
	require.NoError(t, err)
	require.False(t, ok)
}

func TestOrPropagatesErrorEvenAfterLaterSuccessWouldHold(t *testing.T) {
	backend := newFakeBackend()
	unauthorized := &TimeCondition{Chain: "nope", Test: ReturnValueTest{Comparator: CmpGE, Value: float64(0)}}
	or := &Or{Children: []Node{{Condition: unauthorized}, {Condition: alwaysTrue()}}}
	_, err := Evaluate(context.Background(), backend, or, &EvalContext{}, DefaultLimits())
	require.Error(t, err)
}

func TestNotNegatesWithoutSwallowingErrors(t *testing.T) {
	backend := newFakeBackend()
	not := &Not{Child: Node{Condition: alwaysTrue()}}
	ok, err := Evaluate(context.Background(), backend, not, &EvalContext{}, DefaultLimits())
	require.NoError(t, err)
	require.False(t, ok)

	unauthorized := &TimeCondition{Chain: "nope", Test: ReturnValueTest{Comparator: CmpGE, Value: float64(0)}}
	notErr := &Not{Child: Node{Condition: unauthorized}}
	_, err = Evaluate(context.Background(), backend, notErr, &EvalContext{}, DefaultLimits())
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.CodeUnauthorizedChain))
}

func TestIfThenElseTakesExactlyOneBranch(t *testing.T) {
	backend := newFakeBackend()
	guard := alwaysTrue()
	thenLeaf := &TimeCondition{Chain: "ethereum", Test: ReturnValueTest{Comparator: CmpEQ, Value: float64(1000)}}
	elseLeaf := &TimeCondition{Chain: "ethereum", Test: ReturnValueTest{Comparator: CmpEQ, Value: float64(-1)}}
	ite := &IfThenElse{Guard: Node{Condition: guard}, Then: Node{Condition: thenLeaf}, Else: Node{Condition: elseLeaf}}
	ok, err := Evaluate(context.Background(), backend, ite, &EvalContext{}, DefaultLimits())
	require.NoError(t, err)
	require.True(t, ok)
}

func TestFreeVariableSubstitutionFromEvalContext(t *testing.T) {
	backend := newFakeBackend()
	evalCtx := &EvalContext{UserAddress: "0xabc"}
	cond := &RpcCondition{
		Chain:  "ethereum",
		Method: "eth_call",
		Test:   ReturnValueTest{Comparator: CmpEQ, Value: ":userAddress"},
	}
	backend.rpc["ethereum/eth_call"] = "0xabc"
	ok, err := Evaluate(context.Background(), backend, cond, evalCtx, DefaultLimits())
	require.NoError(t, err)
	require.True(t, ok)
}

func TestSequentialAccessThreadsDerivedValues(t *testing.T) {
	backend := newFakeBackend()
	backend.rpc["ethereum/balance"] = float64(42)
	first := &RpcCondition{Chain: "ethereum", Method: "balance", Test: ReturnValueTest{Comparator: CmpGE, Value: float64(0)}}
	second := &RpcCondition{Chain: "ethereum", Method: "threshold", Test: ReturnValueTest{Comparator: CmpEQ, Value: ":balanceRead"}}
	backend.rpc["ethereum/threshold"] = float64(42)
	seq := &SequentialAccess{Steps: []SequentialStep{
		{Name: "balanceRead", Condition: Node{Condition: first}},
		{Name: "thresholdRead", Condition: Node{Condition: second}},
	}}
	ok, err := Evaluate(context.Background(), backend, seq, &EvalContext{}, DefaultLimits())
	require.NoError(t, err)
	require.True(t, ok)
}

func TestDepthLimitFailsClosedOnDeeplyNestedTree(t *testing.T) {
	backend := newFakeBackend()
	var cond Condition = alwaysTrue()
	for i := 0; i < DefaultMaxDepth+5; i++ {
		cond = &Not{Child: Node{Condition: cond}}
	}
	_, err := Evaluate(context.Background(), backend, cond, &EvalContext{}, DefaultLimits())
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.CodeConditionError))
}

func TestConditionTreeRoundTripsThroughJSON(t *testing.T) {
	tree := &And{Children: []Node{
		{Condition: alwaysTrue()},
		{Condition: &RpcCondition{Chain: "polygon", Method: "m", Test: ReturnValueTest{Comparator: CmpEQ, Value: "x"}}},
	}}
	data, err := json.Marshal(Node{Condition: tree})
	require.NoError(t, err)

	var out Node
	require.NoError(t, json.Unmarshal(data, &out))

	roundtripped, ok := out.Condition.(*And)
	require.True(t, ok)
	require.Len(t, roundtripped.Children, 2)
	_, ok = roundtripped.Children[1].Condition.(*RpcCondition)
	require.True(t, ok)
}
