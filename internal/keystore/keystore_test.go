package keystore_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nucypher/taco/common/key"
	"github.com/nucypher/taco/crypto/scheme"
	"github.com/nucypher/taco/internal/keystore"
)

func openTemp(t *testing.T) *keystore.Keystore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "node.db")
	ks, err := keystore.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ks.Close() })
	return ks
}

func TestInitializeThenUnlockDerivesStableKeypairs(t *testing.T) {
	sch := scheme.NewDefault()
	ks := openTemp(t)

	require.NoError(t, ks.Initialize([]byte("correct horse battery staple")))

	signing1, decrypting1, err := ks.Unlock(sch, []byte("correct horse battery staple"))
	require.NoError(t, err)
	signing2, decrypting2, err := ks.Unlock(sch, []byte("correct horse battery staple"))
	require.NoError(t, err)

	require.True(t, signing1.Public.Equal(signing2.Public))
	require.True(t, decrypting1.Public.Equal(decrypting2.Public))
}

func TestUnlockWithWrongPassphraseFails(t *testing.T) {
	sch := scheme.NewDefault()
	ks := openTemp(t)
	require.NoError(t, ks.Initialize([]byte("correct horse battery staple")))

	_, _, err := ks.Unlock(sch, []byte("wrong passphrase"))
	require.Error(t, err)
}

func TestInitializeTwiceFails(t *testing.T) {
	ks := openTemp(t)
	require.NoError(t, ks.Initialize([]byte("first")))
	err := ks.Initialize([]byte("second"))
	require.Error(t, err)
}

func TestUnlockBeforeInitializeFails(t *testing.T) {
	sch := scheme.NewDefault()
	ks := openTemp(t)
	_, _, err := ks.Unlock(sch, []byte("anything"))
	require.Error(t, err)
}

func TestPeerCacheRoundTrips(t *testing.T) {
	sch := scheme.NewDefault()
	ks := openTemp(t)

	signing, err := key.NewSigningPair(sch)
	require.NoError(t, err)
	decrypting, err := key.NewDecryptingPair(sch)
	require.NoError(t, err)

	meta := &key.NodeMetadata{
		Host:          "10.0.0.1",
		Port:          9151,
		VerifyingKey:  signing.Public,
		EncryptingKey: decrypting.Public,
		Timestamp:     time.Now().Truncate(time.Second),
		Domain:        "mainnet",
	}
	require.NoError(t, meta.SelfSign(sch, signing))

	require.NoError(t, ks.SavePeerCache([]*key.NodeMetadata{meta}))

	loaded, err := ks.LoadPeerCache(sch)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	require.True(t, loaded[0].Equal(meta))
	require.NoError(t, loaded[0].VerifySelfSignature(sch))
}

func TestLoadPeerCacheBeforeSaveIsEmpty(t *testing.T) {
	sch := scheme.NewDefault()
	ks := openTemp(t)
	loaded, err := ks.LoadPeerCache(sch)
	require.NoError(t, err)
	require.Empty(t, loaded)
}
