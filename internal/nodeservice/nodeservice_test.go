package nodeservice_test

import (
	"context"
	"testing"

	"github.com/drand/kyber/util/random"
	clock "github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/nucypher/taco/common/errs"
	"github.com/nucypher/taco/common/id"
	"github.com/nucypher/taco/common/key"
	"github.com/nucypher/taco/crypto/scheme"
	"github.com/nucypher/taco/internal/condchain"
	"github.com/nucypher/taco/internal/condition"
	"github.com/nucypher/taco/internal/dkgcrypto"
	"github.com/nucypher/taco/internal/nodeservice"
	"github.com/nucypher/taco/internal/payment"
	"github.com/nucypher/taco/internal/peer"
	"github.com/nucypher/taco/internal/pre"
	"github.com/nucypher/taco/internal/session"
)

func alwaysTrueCondition() condition.Node {
	return condition.Node{Condition: &condition.TimeCondition{
		Chain: "ethereum",
		Test:  condition.ReturnValueTest{Comparator: condition.CmpGE, Value: float64(0)},
	}}
}

func alwaysFalseCondition() condition.Node {
	return condition.Node{Condition: &condition.TimeCondition{
		Chain: "ethereum",
		Test:  condition.ReturnValueTest{Comparator: condition.CmpLT, Value: float64(0)},
	}}
}

func fakeBackend() *condchain.Fake {
	b := condchain.NewFake()
	b.Allowed["ethereum"] = true
	b.Times["ethereum"] = 1000
	return b
}

type reencryptFixture struct {
	sch             *scheme.Scheme
	svc             *nodeservice.Service
	hrac            id.HRAC
	capsule         pre.Capsule
	policyPK        interface{}
	bobVerifying    key.SigningPair
	bobDecrypting   key.DecryptingPair
	publisherSign   key.SigningPair
	encryptedKFrag  *pre.MessageKit
	kfragU1         interface{}
	ledger          *payment.InMemory
}

func buildReencryptFixture(t *testing.T, cond condition.Node) (*nodeservice.Service, *nodeservice.ReencryptionRequest) {
	t.Helper()
	sch := scheme.NewDefault()

	publisherSigning, err := key.NewSigningPair(sch)
	require.NoError(t, err)
	bobSigning, err := key.NewSigningPair(sch)
	require.NoError(t, err)
	bobDecrypting, err := key.NewDecryptingPair(sch)
	require.NoError(t, err)
	nodeSigning, err := key.NewSigningPair(sch)
	require.NoError(t, err)
	nodeDecrypting, err := key.NewDecryptingPair(sch)
	require.NoError(t, err)

	delegatingSK := sch.PREGroup.Scalar().Pick(random.New())
	kfrags, policyPK, err := pre.GenerateKFrags(sch, delegatingSK, bobDecrypting.Public, publisherSigning.Key, publisherSigning.Public, 1, 1)
	require.NoError(t, err)
	require.Len(t, kfrags, 1)

	mk, err := pre.Encrypt(sch, policyPK, []byte("top secret"), []byte("conditions"))
	require.NoError(t, err)

	kfragBytes, err := pre.MarshalKeyFrag(kfrags[0].Unverified())
	require.NoError(t, err)
	encryptedKFrag, err := pre.Encrypt(sch, nodeDecrypting.Public, kfragBytes, nil)
	require.NoError(t, err)

	hrac, err := id.DeriveHRAC(publisherSigning.Public, bobSigning.Public, []byte("label"))
	require.NoError(t, err)

	ledger := payment.NewInMemory()
	ledger.RecordPayment(hrac)

	dir, err := peer.New(sch, id.Address{}, 16, clock.NewFakeClock())
	require.NoError(t, err)

	svc := nodeservice.New(sch, nodeSigning, nodeDecrypting, ledger, fakeBackend(), dir, nil, nil)

	req := &nodeservice.ReencryptionRequest{
		HRAC:                  hrac,
		Capsules:              []pre.Capsule{mk.Capsule},
		Conditions:            []condition.Node{cond},
		BobVerifyingKey:       bobSigning.Public,
		BobEncryptingKey:      bobDecrypting.Public,
		PublisherVerifyingKey: publisherSigning.Public,
		PolicyPublicKey:       policyPK,
		EncryptedKFrag:        encryptedKFrag,
	}
	return svc, req
}

func TestReencryptReturnsCfragWhenConditionHolds(t *testing.T) {
	svc, req := buildReencryptFixture(t, alwaysTrueCondition())
	resp, err := svc.Reencrypt(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, resp.CFrags, 1)
	require.NotEmpty(t, resp.Signature)
}

func TestReencryptAbortsWhenConditionFalse(t *testing.T) {
	svc, req := buildReencryptFixture(t, alwaysFalseCondition())
	_, err := svc.Reencrypt(context.Background(), req)
	require.True(t, errs.Is(err, errs.CodeConditionFalse))
}

func TestReencryptFailsWhenUnpaid(t *testing.T) {
	svc, req := buildReencryptFixture(t, alwaysTrueCondition())
	_, err := svc.Reencrypt(context.Background(), &nodeservice.ReencryptionRequest{
		HRAC:                  id.HRAC{9, 9, 9},
		Capsules:              req.Capsules,
		Conditions:            req.Conditions,
		BobVerifyingKey:       req.BobVerifyingKey,
		BobEncryptingKey:      req.BobEncryptingKey,
		PublisherVerifyingKey: req.PublisherVerifyingKey,
		PolicyPublicKey:       req.PolicyPublicKey,
		EncryptedKFrag:        req.EncryptedKFrag,
	})
	require.Error(t, err)
}

func TestReencryptFailsOnWrongNodeKey(t *testing.T) {
	sch := scheme.NewDefault()
	svc, req := buildReencryptFixture(t, alwaysTrueCondition())
	otherNodeDecrypting, err := key.NewDecryptingPair(sch)
	require.NoError(t, err)
	badKFrag, err := pre.Encrypt(sch, otherNodeDecrypting.Public, []byte("irrelevant"), nil)
	require.NoError(t, err)
	req.EncryptedKFrag = badKFrag
	_, err = svc.Reencrypt(context.Background(), req)
	require.Error(t, err)
}

func TestDecryptRoundTripsSessionWrappedShare(t *testing.T) {
	sch := scheme.NewDefault()

	shares, pubKeys, err := dkgcrypto.GenerateRitual(sch, 2, 3, 2)
	require.NoError(t, err)

	nodeSigning, err := key.NewSigningPair(sch)
	require.NoError(t, err)
	nodeDecrypting, err := key.NewDecryptingPair(sch)
	require.NoError(t, err)

	dir, err := peer.New(sch, id.Address{}, 16, clock.NewFakeClock())
	require.NoError(t, err)
	svc := nodeservice.New(sch, nodeSigning, nodeDecrypting, payment.NewInMemory(), fakeBackend(), dir, nil, nil)
	svc.RegisterRitual(&nodeservice.Ritual{
		ID:           7,
		Threshold:    2,
		Participants: 3,
		Share:        shares[0],
		PublicKeys:   pubKeys,
	})

	ct, err := dkgcrypto.EncryptForRitual(sch, pubKeys.InSigGroup, []byte("ritual plaintext"))
	require.NoError(t, err)

	authorSigning, err := key.NewSigningPair(sch)
	require.NoError(t, err)
	headerHash := append(append([]byte{}, ct.Nonce...), ct.Ciphertext...)
	headerSig, err := authorSigning.Sign(sch, headerHash)
	require.NoError(t, err)

	tdr := &nodeservice.ThresholdDecryptionRequest{
		RitualID:         7,
		Variant:          nodeservice.VariantSimple,
		CiphertextHeader: ct,
		ACP: nodeservice.AccessConditionPolicy{
			RitualPublicKey:    pubKeys.InSigGroup,
			AuthorVerifyingKey: authorSigning.Public,
			Conditions:         alwaysTrueCondition(),
			HeaderSignature:    headerSig,
		},
	}
	reqBytes, err := nodeservice.EncodeThresholdDecryptionRequest(tdr)
	require.NoError(t, err)

	recipientSecret := session.NewEphemeralSecret(sch)
	recipientPub := recipientSecret.Public(sch)
	nodeSessionSecret, err := session.DeriveForRitual(sch, nodeDecrypting.Key, 7)
	require.NoError(t, err)
	nodeSessionPub := nodeSessionSecret.Public(sch)

	recipientWrapper, err := session.NewWrapper(recipientSecret, nodeSessionPub)
	require.NoError(t, err)
	wrappedReq, err := recipientWrapper.WrapRequest(reqBytes)
	require.NoError(t, err)

	envelope := &nodeservice.EncryptedThresholdDecryptionRequest{
		RitualID:               7,
		RecipientSessionPublic: recipientPub,
		Ciphertext:             wrappedReq,
	}
	wrappedResp, err := svc.Decrypt(context.Background(), envelope)
	require.NoError(t, err)

	plainResp, err := recipientWrapper.UnwrapResponse(wrappedResp)
	require.NoError(t, err)
	parsed, err := nodeservice.DecodeThresholdDecryptionResponse(sch, plainResp)
	require.NoError(t, err)
	require.Equal(t, shares[0].Share.I, parsed.DecryptionShare.Index)
}

func TestDecryptFailsForUnknownRitual(t *testing.T) {
	sch := scheme.NewDefault()
	nodeSigning, err := key.NewSigningPair(sch)
	require.NoError(t, err)
	nodeDecrypting, err := key.NewDecryptingPair(sch)
	require.NoError(t, err)
	dir, err := peer.New(sch, id.Address{}, 16, clock.NewFakeClock())
	require.NoError(t, err)
	svc := nodeservice.New(sch, nodeSigning, nodeDecrypting, payment.NewInMemory(), fakeBackend(), dir, nil, nil)

	recipientSecret := session.NewEphemeralSecret(sch)
	nodeSessionSecret, err := session.DeriveForRitual(sch, nodeDecrypting.Key, 42)
	require.NoError(t, err)
	wrapper, err := session.NewWrapper(recipientSecret, nodeSessionSecret.Public(sch))
	require.NoError(t, err)

	_, pubKeys, err := dkgcrypto.GenerateRitual(sch, 1, 1, 1)
	require.NoError(t, err)
	ct, err := dkgcrypto.EncryptForRitual(sch, pubKeys.InSigGroup, []byte("x"))
	require.NoError(t, err)
	reqBytes, err := nodeservice.EncodeThresholdDecryptionRequest(&nodeservice.ThresholdDecryptionRequest{
		RitualID:         42,
		CiphertextHeader: ct,
		ACP: nodeservice.AccessConditionPolicy{
			RitualPublicKey:    pubKeys.InSigGroup,
			AuthorVerifyingKey: nodeSigning.Public,
			Conditions:         alwaysTrueCondition(),
			HeaderSignature:    []byte("irrelevant-not-reached"),
		},
	})
	require.NoError(t, err)
	wrapped, err := wrapper.WrapRequest(reqBytes)
	require.NoError(t, err)

	_, err = svc.Decrypt(context.Background(), &nodeservice.EncryptedThresholdDecryptionRequest{
		RitualID:               42,
		RecipientSessionPublic: recipientSecret.Public(sch),
		Ciphertext:             wrapped,
	})
	require.Error(t, err)
}

func TestNodeMetadataExchangeSkipsKnownNodesWhenChecksumsMatch(t *testing.T) {
	sch := scheme.NewDefault()
	nodeSigning, err := key.NewSigningPair(sch)
	require.NoError(t, err)
	nodeDecrypting, err := key.NewDecryptingPair(sch)
	require.NoError(t, err)
	dir, err := peer.New(sch, id.Address{}, 16, clock.NewFakeClock())
	require.NoError(t, err)
	svc := nodeservice.New(sch, nodeSigning, nodeDecrypting, payment.NewInMemory(), fakeBackend(), dir, clock.NewFakeClock(), nil)

	resp, err := svc.NodeMetadataExchange(&nodeservice.MetadataRequest{FleetStateChecksum: dir.Checksum()})
	require.NoError(t, err)
	require.Empty(t, resp.KnownNodes)
	require.NotEmpty(t, resp.Signature)
}

func TestNodeMetadataExchangeRepliesFullSetWhenChecksumDiffers(t *testing.T) {
	sch := scheme.NewDefault()
	nodeSigning, err := key.NewSigningPair(sch)
	require.NoError(t, err)
	nodeDecrypting, err := key.NewDecryptingPair(sch)
	require.NoError(t, err)
	dir, err := peer.New(sch, id.Address{}, 16, clock.NewFakeClock())
	require.NoError(t, err)
	svc := nodeservice.New(sch, nodeSigning, nodeDecrypting, payment.NewInMemory(), fakeBackend(), dir, clock.NewFakeClock(), nil)

	resp, err := svc.NodeMetadataExchange(&nodeservice.MetadataRequest{FleetStateChecksum: []byte("stale")})
	require.NoError(t, err)
	require.NotNil(t, resp.KnownNodes)
}
