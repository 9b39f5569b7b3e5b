package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func withEnv(t *testing.T, kv map[string]string) {
	t.Helper()
	for k, v := range kv {
		t.Setenv(k, v)
	}
}

func TestConfigFromEnvAppliesDefaults(t *testing.T) {
	withEnv(t, map[string]string{"TACO_KEYSTORE_PASSPHRASE": "hunter2"})

	cfg, err := configFromEnv()
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0", cfg.host)
	require.Equal(t, 9151, cfg.port)
	require.Equal(t, "mainnet", cfg.domain)
	require.Empty(t, cfg.chainEndpoints)
}

func TestConfigFromEnvRequiresPassphrase(t *testing.T) {
	_, err := configFromEnv()
	require.Error(t, err)
}

func TestConfigFromEnvParsesChainEndpoints(t *testing.T) {
	withEnv(t, map[string]string{
		"TACO_KEYSTORE_PASSPHRASE": "hunter2",
		"TACO_CHAINS":              "ethereum=https://rpc.example/eth,polygon=https://rpc.example/polygon",
	})

	cfg, err := configFromEnv()
	require.NoError(t, err)
	require.Len(t, cfg.chainEndpoints, 2)
	require.Equal(t, "ethereum", cfg.chainEndpoints[0].Chain)
	require.Equal(t, "https://rpc.example/eth", cfg.chainEndpoints[0].URL)
	require.Equal(t, "polygon", cfg.chainEndpoints[1].Chain)
}

func TestConfigFromEnvRejectsMalformedChainEntry(t *testing.T) {
	withEnv(t, map[string]string{
		"TACO_KEYSTORE_PASSPHRASE": "hunter2",
		"TACO_CHAINS":              "not-a-pair",
	})

	_, err := configFromEnv()
	require.Error(t, err)
}
