// Package transport implements the node's HTTP surface: the wire encoding
// for every request/response pair nodeservice.Service handles, a chi-routed
// server exposing it, and an HTTP client implementing
// internal/policy.NodeClient against it. Every body is encoding/json; there
// is no fixed-field binary layout and no version byte. Wire structs mirror the
// MarshalBinary()-bytes-in-a-plain-struct approach internal/pre/wire.go and
// internal/policy/treasuremap.go already use for kyber points and scalars,
// since neither type has native encoding/json support.
package transport

import (
	"encoding/json"
	"time"

	"github.com/drand/kyber"

	"github.com/nucypher/taco/common/errs"
	"github.com/nucypher/taco/common/id"
	"github.com/nucypher/taco/common/key"
	"github.com/nucypher/taco/crypto/scheme"
	"github.com/nucypher/taco/internal/condition"
	"github.com/nucypher/taco/internal/nodeservice"
	"github.com/nucypher/taco/internal/pre"
	"github.com/nucypher/taco/internal/session"
)

func unixToTime(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

func marshalPoint(p kyber.Point) ([]byte, error) {
	if p == nil {
		return nil, nil
	}
	return p.MarshalBinary()
}

func unmarshalPoint(g kyber.Group, buf []byte) (kyber.Point, error) {
	if len(buf) == 0 {
		return nil, nil
	}
	p := g.Point()
	if err := p.UnmarshalBinary(buf); err != nil {
		return nil, err
	}
	return p, nil
}

// --- NodeMetadata ---

type wireNodeMetadata struct {
	Host                   string
	Port                   int
	VerifyingKey           []byte
	EncryptingKey          []byte
	FerveoPublicKey        []byte
	TLSCertDER             []byte
	TimestampUnix          int64
	OperatorSignature      []byte
	StakingProviderAddress id.Address
	Domain                 string
	Signature              []byte
}

func marshalNodeMetadata(sch *scheme.Scheme, m *key.NodeMetadata) (wireNodeMetadata, error) {
	vk, err := marshalPoint(m.VerifyingKey)
	if err != nil {
		return wireNodeMetadata{}, err
	}
	ek, err := marshalPoint(m.EncryptingKey)
	if err != nil {
		return wireNodeMetadata{}, err
	}
	fvk, err := marshalPoint(m.FerveoPublicKey)
	if err != nil {
		return wireNodeMetadata{}, err
	}
	return wireNodeMetadata{
		Host:                   m.Host,
		Port:                   m.Port,
		VerifyingKey:           vk,
		EncryptingKey:          ek,
		FerveoPublicKey:        fvk,
		TLSCertDER:             m.TLSCertDER,
		TimestampUnix:          m.Timestamp.Unix(),
		OperatorSignature:      m.OperatorSignature,
		StakingProviderAddress: m.StakingProviderAddress,
		Domain:                 m.Domain,
		Signature:              m.Signature,
	}, nil
}

func unmarshalNodeMetadata(sch *scheme.Scheme, w wireNodeMetadata) (*key.NodeMetadata, error) {
	vk, err := unmarshalPoint(sch.AuthGroup, w.VerifyingKey)
	if err != nil {
		return nil, err
	}
	ek, err := unmarshalPoint(sch.PREGroup, w.EncryptingKey)
	if err != nil {
		return nil, err
	}
	fvk, err := unmarshalPoint(sch.RitualGroup, w.FerveoPublicKey)
	if err != nil {
		return nil, err
	}
	return &key.NodeMetadata{
		Host:                   w.Host,
		Port:                   w.Port,
		VerifyingKey:           vk,
		EncryptingKey:          ek,
		FerveoPublicKey:        fvk,
		TLSCertDER:             w.TLSCertDER,
		Timestamp:              unixToTime(w.TimestampUnix),
		OperatorSignature:      w.OperatorSignature,
		StakingProviderAddress: w.StakingProviderAddress,
		Domain:                 w.Domain,
		Signature:              w.Signature,
	}, nil
}

// EncodeNodeMetadata renders a node's own signed metadata for the
// /public_information endpoint. Exported for cmd/taco-node to wire as the
// Server's publicInformation callback, and for tests.
func EncodeNodeMetadata(sch *scheme.Scheme, m *key.NodeMetadata) ([]byte, error) {
	w, err := marshalNodeMetadata(sch, m)
	if err != nil {
		return nil, err
	}
	return json.Marshal(w)
}

// DecodeNodeMetadata decodes a payload produced by EncodeNodeMetadata.
func DecodeNodeMetadata(sch *scheme.Scheme, buf []byte) (*key.NodeMetadata, error) {
	var w wireNodeMetadata
	if err := json.Unmarshal(buf, &w); err != nil {
		return nil, errs.Wrap(errs.CodeMalformedRequest, "node metadata is malformed", err)
	}
	return unmarshalNodeMetadata(sch, w)
}

// --- public_information / node_metadata ---

type wireMetadataRequest struct {
	FleetStateChecksum []byte
	AnnounceNodes      []wireNodeMetadata
}

type wireMetadataResponse struct {
	TimestampUnix int64
	KnownNodes    []wireNodeMetadata
	Signature     []byte
}

func encodeMetadataRequest(sch *scheme.Scheme, req *nodeservice.MetadataRequest) ([]byte, error) {
	w := wireMetadataRequest{FleetStateChecksum: req.FleetStateChecksum}
	for _, n := range req.AnnounceNodes {
		wn, err := marshalNodeMetadata(sch, n)
		if err != nil {
			return nil, err
		}
		w.AnnounceNodes = append(w.AnnounceNodes, wn)
	}
	return json.Marshal(w)
}

func decodeMetadataRequest(sch *scheme.Scheme, buf []byte) (*nodeservice.MetadataRequest, error) {
	var w wireMetadataRequest
	if err := json.Unmarshal(buf, &w); err != nil {
		return nil, errs.Wrap(errs.CodeMalformedRequest, "node_metadata request is malformed", err)
	}
	req := &nodeservice.MetadataRequest{FleetStateChecksum: w.FleetStateChecksum}
	for _, wn := range w.AnnounceNodes {
		n, err := unmarshalNodeMetadata(sch, wn)
		if err != nil {
			return nil, errs.Wrap(errs.CodeMalformedRequest, "announced node metadata is malformed", err)
		}
		req.AnnounceNodes = append(req.AnnounceNodes, n)
	}
	return req, nil
}

func encodeMetadataResponse(sch *scheme.Scheme, resp *nodeservice.MetadataResponse) ([]byte, error) {
	w := wireMetadataResponse{TimestampUnix: resp.Timestamp.Unix(), Signature: resp.Signature}
	for _, n := range resp.KnownNodes {
		wn, err := marshalNodeMetadata(sch, n)
		if err != nil {
			return nil, err
		}
		w.KnownNodes = append(w.KnownNodes, wn)
	}
	return json.Marshal(w)
}

func decodeMetadataResponse(sch *scheme.Scheme, buf []byte) (*nodeservice.MetadataResponse, error) {
	var w wireMetadataResponse
	if err := json.Unmarshal(buf, &w); err != nil {
		return nil, errs.Wrap(errs.CodeMalformedRequest, "node_metadata response is malformed", err)
	}
	resp := &nodeservice.MetadataResponse{Timestamp: unixToTime(w.TimestampUnix), Signature: w.Signature}
	for _, wn := range w.KnownNodes {
		n, err := unmarshalNodeMetadata(sch, wn)
		if err != nil {
			return nil, errs.Wrap(errs.CodeMalformedRequest, "known node metadata is malformed", err)
		}
		resp.KnownNodes = append(resp.KnownNodes, n)
	}
	return resp, nil
}

// --- reencrypt ---

type wireCapsule struct {
	E []byte
}

type wireCFrag struct {
	KFragID      int64
	E1           []byte
	ProofE2      []byte
	ProofU2      []byte
	ProofZ       []byte
	DelegatingPK []byte
	ReceivingPK  []byte
}

type wireReencryptionRequest struct {
	HRAC                  id.HRAC
	Capsules              []wireCapsule
	Conditions            []condition.Node
	Context               json.RawMessage
	BobVerifyingKey       []byte
	BobEncryptingKey      []byte
	PublisherVerifyingKey []byte
	PolicyPublicKey       []byte
	EncryptedKFrag        wireMessageKit
}

type wireMessageKit struct {
	Capsule    wireCapsule
	Ciphertext []byte
	Conditions []byte
}

type wireReencryptionResponse struct {
	Capsules  []wireCapsule
	CFrags    []wireCFrag
	Signature []byte
}

func marshalMessageKit(mk *pre.MessageKit) (wireMessageKit, error) {
	eBuf, err := mk.Capsule.E.MarshalBinary()
	if err != nil {
		return wireMessageKit{}, err
	}
	return wireMessageKit{Capsule: wireCapsule{E: eBuf}, Ciphertext: mk.Ciphertext, Conditions: mk.Conditions}, nil
}

func unmarshalMessageKit(sch *scheme.Scheme, w wireMessageKit) (*pre.MessageKit, error) {
	e, err := unmarshalPoint(sch.PREGroup, w.Capsule.E)
	if err != nil {
		return nil, err
	}
	return &pre.MessageKit{Capsule: pre.Capsule{E: e}, Ciphertext: w.Ciphertext, Conditions: w.Conditions}, nil
}

func encodeReencryptionRequest(sch *scheme.Scheme, req *nodeservice.ReencryptionRequest) ([]byte, error) {
	capsules := make([]wireCapsule, len(req.Capsules))
	for i, c := range req.Capsules {
		eBuf, err := c.E.MarshalBinary()
		if err != nil {
			return nil, err
		}
		capsules[i] = wireCapsule{E: eBuf}
	}
	bobVK, err := marshalPoint(req.BobVerifyingKey)
	if err != nil {
		return nil, err
	}
	bobEK, err := marshalPoint(req.BobEncryptingKey)
	if err != nil {
		return nil, err
	}
	pubVK, err := marshalPoint(req.PublisherVerifyingKey)
	if err != nil {
		return nil, err
	}
	policyPK, err := marshalPoint(req.PolicyPublicKey)
	if err != nil {
		return nil, err
	}
	kfragWire, err := marshalMessageKit(req.EncryptedKFrag)
	if err != nil {
		return nil, err
	}
	var ctxBuf json.RawMessage
	if req.Context != nil {
		ctxBuf, err = json.Marshal(req.Context)
		if err != nil {
			return nil, err
		}
	}
	return json.Marshal(wireReencryptionRequest{
		HRAC:                  req.HRAC,
		Capsules:              capsules,
		Conditions:            req.Conditions,
		Context:               ctxBuf,
		BobVerifyingKey:       bobVK,
		BobEncryptingKey:      bobEK,
		PublisherVerifyingKey: pubVK,
		PolicyPublicKey:       policyPK,
		EncryptedKFrag:        kfragWire,
	})
}

func decodeReencryptionRequest(sch *scheme.Scheme, buf []byte) (*nodeservice.ReencryptionRequest, error) {
	var w wireReencryptionRequest
	if err := json.Unmarshal(buf, &w); err != nil {
		return nil, errs.Wrap(errs.CodeMalformedRequest, "reencrypt request is malformed", err)
	}
	capsules := make([]pre.Capsule, len(w.Capsules))
	for i, wc := range w.Capsules {
		e, err := unmarshalPoint(sch.PREGroup, wc.E)
		if err != nil {
			return nil, errs.Wrap(errs.CodeMalformedRequest, "capsule is malformed", err)
		}
		capsules[i] = pre.Capsule{E: e}
	}
	bobVK, err := unmarshalPoint(sch.AuthGroup, w.BobVerifyingKey)
	if err != nil {
		return nil, errs.Wrap(errs.CodeMalformedRequest, "bob verifying key is malformed", err)
	}
	bobEK, err := unmarshalPoint(sch.PREGroup, w.BobEncryptingKey)
	if err != nil {
		return nil, errs.Wrap(errs.CodeMalformedRequest, "bob encrypting key is malformed", err)
	}
	pubVK, err := unmarshalPoint(sch.AuthGroup, w.PublisherVerifyingKey)
	if err != nil {
		return nil, errs.Wrap(errs.CodeMalformedRequest, "publisher verifying key is malformed", err)
	}
	policyPK, err := unmarshalPoint(sch.PREGroup, w.PolicyPublicKey)
	if err != nil {
		return nil, errs.Wrap(errs.CodeMalformedRequest, "policy public key is malformed", err)
	}
	kfrag, err := unmarshalMessageKit(sch, w.EncryptedKFrag)
	if err != nil {
		return nil, errs.Wrap(errs.CodeMalformedRequest, "encrypted kfrag is malformed", err)
	}
	var custom map[string]interface{}
	if len(w.Context) > 0 {
		if err := json.Unmarshal(w.Context, &custom); err != nil {
			return nil, errs.Wrap(errs.CodeMalformedRequest, "context is malformed", err)
		}
	}
	return &nodeservice.ReencryptionRequest{
		HRAC:                  w.HRAC,
		Capsules:              capsules,
		Conditions:            w.Conditions,
		Context:               custom,
		BobVerifyingKey:       bobVK,
		BobEncryptingKey:      bobEK,
		PublisherVerifyingKey: pubVK,
		PolicyPublicKey:       policyPK,
		EncryptedKFrag:        kfrag,
	}, nil
}

func encodeReencryptionResponse(resp *nodeservice.ReencryptionResponse) ([]byte, error) {
	capsules := make([]wireCapsule, len(resp.Capsules))
	for i, c := range resp.Capsules {
		eBuf, err := c.E.MarshalBinary()
		if err != nil {
			return nil, err
		}
		capsules[i] = wireCapsule{E: eBuf}
	}
	cfrags := make([]wireCFrag, len(resp.CFrags))
	for i, cf := range resp.CFrags {
		e1, err := cf.E1.MarshalBinary()
		if err != nil {
			return nil, err
		}
		e2, err := cf.Proof.E2.MarshalBinary()
		if err != nil {
			return nil, err
		}
		u2, err := cf.Proof.U2.MarshalBinary()
		if err != nil {
			return nil, err
		}
		z, err := cf.Proof.Z.MarshalBinary()
		if err != nil {
			return nil, err
		}
		dpk, err := cf.DelegatingPK.MarshalBinary()
		if err != nil {
			return nil, err
		}
		rpk, err := cf.ReceivingPK.MarshalBinary()
		if err != nil {
			return nil, err
		}
		cfrags[i] = wireCFrag{
			KFragID:      cf.KFragID,
			E1:           e1,
			ProofE2:      e2,
			ProofU2:      u2,
			ProofZ:       z,
			DelegatingPK: dpk,
			ReceivingPK:  rpk,
		}
	}
	return json.Marshal(wireReencryptionResponse{Capsules: capsules, CFrags: cfrags, Signature: resp.Signature})
}

func decodeReencryptionResponse(sch *scheme.Scheme, buf []byte) (*nodeservice.ReencryptionResponse, error) {
	var w wireReencryptionResponse
	if err := json.Unmarshal(buf, &w); err != nil {
		return nil, errs.Wrap(errs.CodeMalformedRequest, "reencrypt response is malformed", err)
	}
	capsules := make([]pre.Capsule, len(w.Capsules))
	for i, wc := range w.Capsules {
		e, err := unmarshalPoint(sch.PREGroup, wc.E)
		if err != nil {
			return nil, errs.Wrap(errs.CodeMalformedRequest, "capsule is malformed", err)
		}
		capsules[i] = pre.Capsule{E: e}
	}
	cfrags := make([]*pre.CapsuleFrag, len(w.CFrags))
	for i, wc := range w.CFrags {
		e1, err := unmarshalPoint(sch.PREGroup, wc.E1)
		if err != nil {
			return nil, errs.Wrap(errs.CodeMalformedRequest, "cfrag E1 is malformed", err)
		}
		e2, err := unmarshalPoint(sch.PREGroup, wc.ProofE2)
		if err != nil {
			return nil, errs.Wrap(errs.CodeMalformedRequest, "cfrag proof is malformed", err)
		}
		u2, err := unmarshalPoint(sch.PREGroup, wc.ProofU2)
		if err != nil {
			return nil, errs.Wrap(errs.CodeMalformedRequest, "cfrag proof is malformed", err)
		}
		z := sch.PREGroup.Scalar()
		if err := z.UnmarshalBinary(wc.ProofZ); err != nil {
			return nil, errs.Wrap(errs.CodeMalformedRequest, "cfrag proof scalar is malformed", err)
		}
		dpk, err := unmarshalPoint(sch.PREGroup, wc.DelegatingPK)
		if err != nil {
			return nil, errs.Wrap(errs.CodeMalformedRequest, "cfrag delegating key is malformed", err)
		}
		rpk, err := unmarshalPoint(sch.PREGroup, wc.ReceivingPK)
		if err != nil {
			return nil, errs.Wrap(errs.CodeMalformedRequest, "cfrag receiving key is malformed", err)
		}
		cfrags[i] = &pre.CapsuleFrag{
			KFragID:      wc.KFragID,
			E1:           e1,
			Proof:        &pre.DLEQProof{E2: e2, U2: u2, Z: z},
			DelegatingPK: dpk,
			ReceivingPK:  rpk,
		}
	}
	return &nodeservice.ReencryptionResponse{Capsules: capsules, CFrags: cfrags, Signature: w.Signature}, nil
}

// --- decrypt ---
//
// EncryptedThresholdDecryptionRequest's payload is already an opaque,
// session-encrypted blob (nodeservice.Decrypt unwraps it itself); the only
// parts this layer puts on the wire in the clear are the ritual id and the
// session public key the node derives its side of the exchange from.

type wireDecryptEnvelope struct {
	RitualID               uint32
	RecipientSessionPublic []byte
	Ciphertext             []byte
}

func encodeDecryptEnvelope(envelope *nodeservice.EncryptedThresholdDecryptionRequest) ([]byte, error) {
	pkBuf, err := envelope.RecipientSessionPublic.Point.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireDecryptEnvelope{
		RitualID:               envelope.RitualID,
		RecipientSessionPublic: pkBuf,
		Ciphertext:             envelope.Ciphertext,
	})
}

func decodeDecryptEnvelope(sch *scheme.Scheme, buf []byte) (*nodeservice.EncryptedThresholdDecryptionRequest, error) {
	var w wireDecryptEnvelope
	if err := json.Unmarshal(buf, &w); err != nil {
		return nil, errs.Wrap(errs.CodeMalformedRequest, "decrypt envelope is malformed", err)
	}
	point, err := unmarshalPoint(sch.PREGroup, w.RecipientSessionPublic)
	if err != nil {
		return nil, errs.Wrap(errs.CodeMalformedRequest, "recipient session public key is malformed", err)
	}
	return &nodeservice.EncryptedThresholdDecryptionRequest{
		RitualID:               w.RitualID,
		RecipientSessionPublic: &session.StaticPublicKey{Point: point},
		Ciphertext:             w.Ciphertext,
	}, nil
}

// --- revocation ---

type wireRevocationCertificate struct {
	HRAC      id.HRAC
	Signature []byte
}

type wireRevokeRequest struct {
	PublisherVerifyingKey []byte
	Certificate           wireRevocationCertificate
}

func encodeRevokeRequest(publisherVK kyber.Point, cert *nodeservice.RevocationCertificate) ([]byte, error) {
	vk, err := publisherVK.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireRevokeRequest{
		PublisherVerifyingKey: vk,
		Certificate:           wireRevocationCertificate{HRAC: cert.HRAC, Signature: cert.Signature},
	})
}

func decodeRevokeRequest(sch *scheme.Scheme, buf []byte) (kyber.Point, *nodeservice.RevocationCertificate, error) {
	var w wireRevokeRequest
	if err := json.Unmarshal(buf, &w); err != nil {
		return nil, nil, errs.Wrap(errs.CodeMalformedRequest, "revoke request is malformed", err)
	}
	vk, err := unmarshalPoint(sch.AuthGroup, w.PublisherVerifyingKey)
	if err != nil {
		return nil, nil, errs.Wrap(errs.CodeMalformedRequest, "publisher verifying key is malformed", err)
	}
	return vk, &nodeservice.RevocationCertificate{HRAC: w.Certificate.HRAC, Signature: w.Certificate.Signature}, nil
}
