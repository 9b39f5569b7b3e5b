package dkgcrypto

import (
	"testing"

	"github.com/drand/kyber/share"
	"github.com/stretchr/testify/require"

	"github.com/nucypher/taco/crypto/scheme"
)

func TestGenerateRitualSharesReconstructSecret(t *testing.T) {
	sch := scheme.NewDefault()
	const dealers, n, threshold = 3, 5, 3

	shares, pubKeys, err := GenerateRitual(sch, dealers, n, threshold)
	require.NoError(t, err)
	require.Len(t, shares, n)
	require.NotNil(t, pubKeys.InKeyGroup)
	require.NotNil(t, pubKeys.InSigGroup)

	priShares := make([]*share.PriShare, len(shares))
	for i, ks := range shares {
		priShares[i] = ks.Share
	}
	secret, err := share.RecoverSecret(sch.RitualGroup, priShares[:threshold], threshold, n)
	require.NoError(t, err)
	require.True(t, sch.RitualGroup.Point().Mul(secret, nil).Equal(pubKeys.InKeyGroup))
}

func TestRitualEncryptDecryptRoundTrip(t *testing.T) {
	sch := scheme.NewDefault()
	const dealers, n, threshold = 2, 5, 3

	shares, pubKeys, err := GenerateRitual(sch, dealers, n, threshold)
	require.NoError(t, err)

	plaintext := []byte("ritual-gated payload")
	ct, err := EncryptForRitual(sch, pubKeys.InSigGroup, plaintext)
	require.NoError(t, err)

	var decShares []*DecryptionShare
	for _, ks := range shares[:threshold] {
		decShares = append(decShares, DeriveDecryptionShare(sch, ct, ks))
	}

	gt, err := CombineDecryptionShares(sch, decShares, threshold)
	require.NoError(t, err)

	out, err := DecryptWithSharedSecret(ct, gt)
	require.NoError(t, err)
	require.Equal(t, plaintext, out)
}

func TestRitualDecryptFailsBelowThreshold(t *testing.T) {
	sch := scheme.NewDefault()
	const dealers, n, threshold = 2, 5, 3

	shares, pubKeys, err := GenerateRitual(sch, dealers, n, threshold)
	require.NoError(t, err)

	ct, err := EncryptForRitual(sch, pubKeys.InSigGroup, []byte("secret"))
	require.NoError(t, err)

	var decShares []*DecryptionShare
	for _, ks := range shares[:threshold-1] {
		decShares = append(decShares, DeriveDecryptionShare(sch, ct, ks))
	}

	_, err = CombineDecryptionShares(sch, decShares, threshold)
	require.Error(t, err)
}

func TestRitualDecryptWithDifferentShareSubsetsAgree(t *testing.T) {
	sch := scheme.NewDefault()
	const dealers, n, threshold = 2, 5, 3

	shares, pubKeys, err := GenerateRitual(sch, dealers, n, threshold)
	require.NoError(t, err)

	plaintext := []byte("consistent across quorums")
	ct, err := EncryptForRitual(sch, pubKeys.InSigGroup, plaintext)
	require.NoError(t, err)

	var first, second []*DecryptionShare
	for _, ks := range shares[:threshold] {
		first = append(first, DeriveDecryptionShare(sch, ct, ks))
	}
	for _, ks := range shares[n-threshold:] {
		second = append(second, DeriveDecryptionShare(sch, ct, ks))
	}

	gt1, err := CombineDecryptionShares(sch, first, threshold)
	require.NoError(t, err)
	gt2, err := CombineDecryptionShares(sch, second, threshold)
	require.NoError(t, err)

	out1, err := DecryptWithSharedSecret(ct, gt1)
	require.NoError(t, err)
	out2, err := DecryptWithSharedSecret(ct, gt2)
	require.NoError(t, err)

	require.Equal(t, plaintext, out1)
	require.Equal(t, plaintext, out2)
}
