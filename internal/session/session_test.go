package session_test

import (
	"testing"

	"github.com/drand/kyber/util/random"
	"github.com/stretchr/testify/require"

	"github.com/nucypher/taco/crypto/scheme"
	"github.com/nucypher/taco/internal/session"
)

func TestEphemeralExchangeAgreesOnSharedSecret(t *testing.T) {
	sch := scheme.NewDefault()

	recipientSK := session.NewEphemeralSecret(sch)
	nodeSK := session.NewEphemeralSecret(sch)

	recipientWrap, err := session.NewWrapper(recipientSK, nodeSK.Public(sch))
	require.NoError(t, err)
	nodeWrap, err := session.NewWrapper(nodeSK, recipientSK.Public(sch))
	require.NoError(t, err)

	plaintext := []byte("ritual_id=7,variant=Simple")
	ct, err := recipientWrap.WrapRequest(plaintext)
	require.NoError(t, err)

	pt, err := nodeWrap.UnwrapRequest(ct)
	require.NoError(t, err)
	require.Equal(t, plaintext, pt)
}

func TestResponseKeyIsIndependentOfRequestKey(t *testing.T) {
	sch := scheme.NewDefault()
	a := session.NewEphemeralSecret(sch)
	b := session.NewEphemeralSecret(sch)

	wrapA, err := session.NewWrapper(a, b.Public(sch))
	require.NoError(t, err)
	wrapB, err := session.NewWrapper(b, a.Public(sch))
	require.NoError(t, err)

	reqCT, err := wrapA.WrapRequest([]byte("request"))
	require.NoError(t, err)
	_, err = wrapB.UnwrapResponse(reqCT)
	require.Error(t, err)
}

func TestDeriveForRitualIsDeterministic(t *testing.T) {
	sch := scheme.NewDefault()
	longTerm := sch.PREGroup.Scalar().Pick(random.New())

	s1, err := session.DeriveForRitual(sch, longTerm, 7)
	require.NoError(t, err)
	s2, err := session.DeriveForRitual(sch, longTerm, 7)
	require.NoError(t, err)
	require.True(t, s1.Key.Equal(s2.Key))

	s3, err := session.DeriveForRitual(sch, longTerm, 8)
	require.NoError(t, err)
	require.False(t, s1.Key.Equal(s3.Key))
}
