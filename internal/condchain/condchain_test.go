package condchain_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nucypher/taco/common/errs"
	"github.com/nucypher/taco/internal/condchain"
)

func newRpcServer(t *testing.T, result interface{}) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      1,
			"result":  result,
		})
	}))
}

func TestReadRpcAgainstConfiguredChain(t *testing.T) {
	srv := newRpcServer(t, "0x2a")
	defer srv.Close()

	backend := condchain.New([]condchain.ChainEndpoint{{Chain: "ethereum", URL: srv.URL}}, srv.Client())
	require.True(t, backend.ChainAllowed("ethereum"))

	res, err := backend.ReadRpc(context.Background(), "ethereum", "eth_blockNumber", nil)
	require.NoError(t, err)
	require.Equal(t, "0x2a", res)
}

func TestReadRpcRejectsUnconfiguredChain(t *testing.T) {
	backend := condchain.New(nil, nil)
	require.False(t, backend.ChainAllowed("ethereum"))

	_, err := backend.ReadRpc(context.Background(), "ethereum", "eth_blockNumber", nil)
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.CodeUnauthorizedChain))
}

func TestReadTimeParsesBlockTimestamp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      1,
			"result":  map[string]interface{}{"timestamp": "0x3e8"},
		})
	}))
	defer srv.Close()

	backend := condchain.New([]condchain.ChainEndpoint{{Chain: "ethereum", URL: srv.URL}}, srv.Client())
	ts, err := backend.ReadTime(context.Background(), "ethereum")
	require.NoError(t, err)
	require.Equal(t, int64(1000), ts)
}

func TestJsonRpcErrorSurfacesAsConditionError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      1,
			"error":   map[string]interface{}{"code": -32000, "message": "boom"},
		})
	}))
	defer srv.Close()

	backend := condchain.New([]condchain.ChainEndpoint{{Chain: "ethereum", URL: srv.URL}}, srv.Client())
	_, err := backend.ReadRpc(context.Background(), "ethereum", "eth_call", nil)
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.CodeConditionError))
}

func TestFakeBackendServesPreloadedResponses(t *testing.T) {
	fake := condchain.NewFake()
	fake.Allowed["ethereum"] = true
	fake.Rpc["ethereum/eth_call"] = float64(7)

	res, err := fake.ReadRpc(context.Background(), "ethereum", "eth_call", nil)
	require.NoError(t, err)
	require.Equal(t, float64(7), res)
	require.True(t, fake.ChainAllowed("ethereum"))
}
