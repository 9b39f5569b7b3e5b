package transport_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"

	"github.com/drand/kyber/util/random"
	"github.com/stretchr/testify/require"

	"github.com/nucypher/taco/common/errs"
	"github.com/nucypher/taco/common/id"
	"github.com/nucypher/taco/common/key"
	"github.com/nucypher/taco/crypto/scheme"
	"github.com/nucypher/taco/internal/condchain"
	"github.com/nucypher/taco/internal/condition"
	"github.com/nucypher/taco/internal/nodeservice"
	"github.com/nucypher/taco/internal/payment"
	"github.com/nucypher/taco/internal/peer"
	"github.com/nucypher/taco/internal/pre"
	"github.com/nucypher/taco/internal/session"
	"github.com/nucypher/taco/internal/transport"
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

// startTestNode wires one nodeservice.Service behind a *transport.Server on
// a plain-HTTP httptest.Server, and returns a node metadata record pointed
// at it plus a transport.Client dialed in plain-HTTP mode — the same
// substitution an httptest-backed client/server test always makes for TLS.
func startTestNode(t *testing.T) (*httptest.Server, *key.NodeMetadata, *scheme.Scheme, *key.SigningPair, *key.DecryptingPair, *transport.Client) {
	t.Helper()
	sch := scheme.NewDefault()

	signing, err := key.NewSigningPair(sch)
	require.NoError(t, err)
	decrypting, err := key.NewDecryptingPair(sch)
	require.NoError(t, err)

	dir, err := peer.New(sch, id.Address{}, 16, nil)
	require.NoError(t, err)
	// The reencrypt tests below use hrac {1, 2, 3}; a node refuses an unpaid hrac.
	ledger := payment.NewInMemory()
	ledger.RecordPayment(id.HRAC{1, 2, 3})
	svc := nodeservice.New(sch, signing, decrypting, ledger, fakeBackend(), dir, nil, nil)

	meta := &key.NodeMetadata{VerifyingKey: signing.Public, EncryptingKey: decrypting.Public, Domain: "mainnet"}

	publicInfo := func() ([]byte, error) { return transport.EncodeNodeMetadata(sch, meta) }
	server := transport.NewServer(sch, svc, publicInfo, []transport.EVMChain{{Name: "ethereum", ChainID: 1}}, nil)

	ts := httptest.NewServer(server)
	t.Cleanup(ts.Close)

	u, err := url.Parse(ts.URL)
	require.NoError(t, err)
	host, portStr, err := splitHostPort(u.Host)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	meta.Host = host
	meta.Port = port

	client := transport.NewClient(sch, 0)
	client.UsePlainHTTP()

	return ts, meta, sch, signing, decrypting, client
}

func splitHostPort(hostport string) (string, string, error) {
	i := strings.LastIndex(hostport, ":")
	return hostport[:i], hostport[i+1:], nil
}

func TestReencryptRoundTripsOverHTTP(t *testing.T) {
	_, meta, sch, publisherSigning, bobDecrypting, client := startTestNode(t)

	delegatingSK := sch.PREGroup.Scalar().Pick(random.New())
	kfrags, policyPK, err := pre.GenerateKFrags(sch, delegatingSK, bobDecrypting.Public, publisherSigning.Key, publisherSigning.Public, 1, 1)
	require.NoError(t, err)
	require.Len(t, kfrags, 1)

	mk, err := pre.Encrypt(sch, policyPK, []byte("top secret"), []byte("conditions"))
	require.NoError(t, err)

	kfragBytes, err := pre.MarshalKeyFrag(kfrags[0].Unverified())
	require.NoError(t, err)
	encryptedKFrag, err := pre.Encrypt(sch, meta.EncryptingKey, kfragBytes, nil)
	require.NoError(t, err)

	bobSigning, err := key.NewSigningPair(sch)
	require.NoError(t, err)

	req := &nodeservice.ReencryptionRequest{
		HRAC:                  [16]byte{1, 2, 3},
		Capsules:              []pre.Capsule{mk.Capsule},
		Conditions:            []condition.Node{alwaysTrueCondition()},
		BobVerifyingKey:       bobSigning.Public,
		BobEncryptingKey:      bobDecrypting.Public,
		PublisherVerifyingKey: publisherSigning.Public,
		PolicyPublicKey:       policyPK,
		EncryptedKFrag:        encryptedKFrag,
	}

	resp, err := client.Reencrypt(context.Background(), meta, req)
	require.NoError(t, err)
	require.Len(t, resp.CFrags, 1)
	require.Len(t, resp.Capsules, 1)

	vkfrag, err := pre.VerifyCapsuleFrag(sch, *resp.CFrags[0], mk.Capsule, kfrags[0].Unverified().U1)
	require.NoError(t, err)
	_ = vkfrag
}

// TestReencryptAbortsEntireRequestWhenConditionIsFalse confirms a false
// condition short-circuits the whole request with a non-2xx status; no
// cfrag is returned for any capsule, not just the one that failed.
func TestReencryptAbortsEntireRequestWhenConditionIsFalse(t *testing.T) {
	_, meta, sch, publisherSigning, bobDecrypting, client := startTestNode(t)

	delegatingSK := sch.PREGroup.Scalar().Pick(random.New())
	kfrags, policyPK, err := pre.GenerateKFrags(sch, delegatingSK, bobDecrypting.Public, publisherSigning.Key, publisherSigning.Public, 1, 1)
	require.NoError(t, err)

	mk, err := pre.Encrypt(sch, policyPK, []byte("top secret"), []byte("conditions"))
	require.NoError(t, err)

	kfragBytes, err := pre.MarshalKeyFrag(kfrags[0].Unverified())
	require.NoError(t, err)
	encryptedKFrag, err := pre.Encrypt(sch, meta.EncryptingKey, kfragBytes, nil)
	require.NoError(t, err)

	bobSigning, err := key.NewSigningPair(sch)
	require.NoError(t, err)

	req := &nodeservice.ReencryptionRequest{
		HRAC:                  [16]byte{1, 2, 3},
		Capsules:              []pre.Capsule{mk.Capsule},
		Conditions:            []condition.Node{alwaysFalseCondition()},
		BobVerifyingKey:       bobSigning.Public,
		BobEncryptingKey:      bobDecrypting.Public,
		PublisherVerifyingKey: publisherSigning.Public,
		PolicyPublicKey:       policyPK,
		EncryptedKFrag:        encryptedKFrag,
	}

	_, err = client.Reencrypt(context.Background(), meta, req)
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.CodeConditionFalse))
}

func TestReencryptRejectsMalformedBody(t *testing.T) {
	ts, meta, _, _, _, _ := startTestNode(t)
	defer ts.Close()

	resp, err := ts.Client().Post(ts.URL+"/reencrypt", "application/octet-stream", strings.NewReader("not json at all"))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, 400, resp.StatusCode)
	_ = meta
}

// TestDecryptEndpointRejectsUnwrappableEnvelope exercises the /decrypt
// endpoint's failure path end to end over HTTP: an envelope from a session
// key the node never derived cannot be unwrapped, and the client surfaces
// that as a malformed-request error rather than hanging or panicking.
func TestDecryptEndpointRejectsUnwrappableEnvelope(t *testing.T) {
	_, meta, sch, _, _, client := startTestNode(t)

	recipientSecret := session.NewEphemeralSecret(sch)
	envelope := &nodeservice.EncryptedThresholdDecryptionRequest{
		RitualID:               999,
		RecipientSessionPublic: recipientSecret.Public(sch),
		Ciphertext:             []byte("not a valid session-wrapped ciphertext"),
	}
	_, err := client.Decrypt(context.Background(), meta, envelope)
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.CodeMalformedRequest))
}

func TestPingReturnsCallerAddress(t *testing.T) {
	ts, _, _, _, _, _ := startTestNode(t)

	resp, err := ts.Client().Get(ts.URL + "/ping")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, 200, resp.StatusCode)
}

func TestConditionChainsListsConfiguredChains(t *testing.T) {
	ts, _, _, _, _, _ := startTestNode(t)

	resp, err := ts.Client().Get(ts.URL + "/condition_chains")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, 200, resp.StatusCode)
}

func TestErrorForStatusRoundTripsConditionFalse(t *testing.T) {
	// A node answers 428 for CodeConditionFalse; the client maps 428 back.
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "locked", http.StatusPreconditionRequired)
	}))
	t.Cleanup(ts.Close)
	u, err := url.Parse(ts.URL)
	require.NoError(t, err)
	host, portStr, err := splitHostPort(u.Host)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	client := transport.NewClient(scheme.NewDefault(), 0)
	client.UsePlainHTTP()
	_, err = client.FetchPublicInformation(context.Background(), &key.NodeMetadata{Host: host, Port: port})
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.CodeConditionFalse))
}
