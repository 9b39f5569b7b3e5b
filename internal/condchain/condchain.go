// Package condchain implements the external condition-evaluation backend:
// the thing internal/condition reads through to answer "what is the chain
// state right now." Chain RPC and contract reads go over JSON-RPC to a
// configured endpoint per chain; HTTPS JSON-RPC conditions go straight to
// their declared endpoint. Both are plain net/http, the same transport the
// node's own REST surface is built on.
package condchain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/nucypher/taco/common/errs"
)

// ChainEndpoint names the JSON-RPC URL a chain ID resolves to.
type ChainEndpoint struct {
	Chain string
	URL   string
}

// Backend is the node's condition.Backend implementation: it fans leaf
// reads out over HTTPS JSON-RPC, respecting a configured per-node chain
// allow-list.
type Backend struct {
	client    *http.Client
	endpoints map[string]string
}

// New builds a Backend that will only answer reads for the given chains.
func New(endpoints []ChainEndpoint, client *http.Client) *Backend {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	m := make(map[string]string, len(endpoints))
	for _, e := range endpoints {
		m[e.Chain] = e.URL
	}
	return &Backend{client: client, endpoints: m}
}

func (b *Backend) ChainAllowed(chain string) bool {
	_, ok := b.endpoints[chain]
	return ok
}

type jsonrpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type jsonrpcResponse struct {
	Result interface{} `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (b *Backend) call(ctx context.Context, url, method string, params []interface{}) (interface{}, error) {
	body, err := json.Marshal(jsonrpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return nil, errs.Wrap(errs.CodeConditionError, "encoding jsonrpc request", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, errs.Wrap(errs.CodeConditionError, "building jsonrpc request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errs.Wrap(errs.CodeTimeout, "jsonrpc call deadline exceeded", err)
		}
		return nil, errs.Wrap(errs.CodeUnreachable, "jsonrpc call failed", err)
	}
	defer resp.Body.Close()

	var out jsonrpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, errs.Wrap(errs.CodeConditionError, "decoding jsonrpc response", err)
	}
	if out.Error != nil {
		return nil, errs.New(errs.CodeConditionError, fmt.Sprintf("jsonrpc error %d: %s", out.Error.Code, out.Error.Message))
	}
	return out.Result, nil
}

func (b *Backend) ReadTime(ctx context.Context, chain string) (int64, error) {
	url, ok := b.endpoints[chain]
	if !ok {
		return 0, errs.New(errs.CodeUnauthorizedChain, fmt.Sprintf("no endpoint configured for chain %q", chain))
	}
	res, err := b.call(ctx, url, "eth_getBlockByNumber", []interface{}{"latest", false})
	if err != nil {
		return 0, err
	}
	block, ok := res.(map[string]interface{})
	if !ok {
		return 0, errs.New(errs.CodeConditionError, "unexpected eth_getBlockByNumber response shape")
	}
	ts, ok := block["timestamp"].(string)
	if !ok {
		return 0, errs.New(errs.CodeConditionError, "block response missing timestamp")
	}
	var parsed int64
	if _, err := fmt.Sscanf(ts, "0x%x", &parsed); err != nil {
		return 0, errs.Wrap(errs.CodeConditionError, "parsing block timestamp", err)
	}
	return parsed, nil
}

func (b *Backend) ReadRpc(ctx context.Context, chain, method string, params []interface{}) (interface{}, error) {
	url, ok := b.endpoints[chain]
	if !ok {
		return nil, errs.New(errs.CodeUnauthorizedChain, fmt.Sprintf("no endpoint configured for chain %q", chain))
	}
	return b.call(ctx, url, method, params)
}

func (b *Backend) ReadContract(ctx context.Context, chain, address, abiEntry string, params []interface{}) (interface{}, error) {
	url, ok := b.endpoints[chain]
	if !ok {
		return nil, errs.New(errs.CodeUnauthorizedChain, fmt.Sprintf("no endpoint configured for chain %q", chain))
	}
	call := map[string]interface{}{"to": address, "data": abiEntry}
	return b.call(ctx, url, "eth_call", []interface{}{call, "latest", params})
}

func (b *Backend) ReadJsonRpc(ctx context.Context, endpoint, method string, params []interface{}) (interface{}, error) {
	return b.call(ctx, endpoint, method, params)
}
