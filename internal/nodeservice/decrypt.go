package nodeservice

import (
	"context"
	"encoding/json"

	"github.com/drand/kyber"

	"github.com/nucypher/taco/common/errs"
	"github.com/nucypher/taco/common/id"
	"github.com/nucypher/taco/crypto/scheme"
	"github.com/nucypher/taco/internal/condition"
	"github.com/nucypher/taco/internal/dkgcrypto"
	"github.com/nucypher/taco/internal/session"
)

// AccessConditionPolicy (ACP) is the authorization envelope a ciphertext
// carries: the conditions gating its decryption, and the encryptor's
// signature binding them to this specific ciphertext header so a node can
// tell a genuine policy from conditions tampered with in transit.
type AccessConditionPolicy struct {
	RitualPublicKey    kyber.Point // the ritual's aggregate public key (InSigGroup), names which ritual this belongs to
	AuthorVerifyingKey kyber.Point // the encryptor's long-term signing key
	Conditions         condition.Node
	HeaderSignature    []byte
}

func acpHeaderHash(header *dkgcrypto.DkgCiphertext) []byte {
	buf := make([]byte, 0, len(header.Nonce)+len(header.Ciphertext))
	buf = append(buf, header.Nonce...)
	buf = append(buf, header.Ciphertext...)
	return buf
}

// ThresholdDecryptionVariant distinguishes a Precomputed request (the
// recipient already knows which nodes it polled and expects exactly one
// share back) from Simple (combine any threshold of shares from whichever
// participants respond first).
type ThresholdDecryptionVariant string

const (
	VariantSimple      ThresholdDecryptionVariant = "simple"
	VariantPrecomputed ThresholdDecryptionVariant = "precomputed"
)

// ThresholdDecryptionRequest is the plaintext a node recovers after
// unwrapping the session envelope.
type ThresholdDecryptionRequest struct {
	RitualID         uint32
	Variant          ThresholdDecryptionVariant
	CiphertextHeader *dkgcrypto.DkgCiphertext
	ACP              AccessConditionPolicy
	Context          map[string]interface{}
}

// ThresholdDecryptionResponse is wrapped under the same session key before
// being returned to the caller.
type ThresholdDecryptionResponse struct {
	RitualID        uint32
	DecryptionShare *dkgcrypto.DecryptionShare
}

// EncryptedThresholdDecryptionRequest is the envelope a recipient sends to
// one ritual participant: RitualID and the recipient's session public key
// travel in the clear, since the node needs both to derive the session
// key the rest of the payload is wrapped under.
type EncryptedThresholdDecryptionRequest struct {
	RitualID               uint32
	RecipientSessionPublic *session.StaticPublicKey
	Ciphertext             []byte
}

// wireThresholdDecryptionRequest/Response hold every kyber point/scalar as
// its MarshalBinary() bytes, the same wire-struct approach used in
// internal/keystore/peercache.go and internal/pre/wire.go — this payload
// crosses the session-encryption boundary, so it needs its own plain
// encoding independent of whatever internal/transport later uses on the
// HTTP boundary.
type wireACP struct {
	RitualPublicKey    []byte
	AuthorVerifyingKey []byte
	Conditions         condition.Node
	HeaderSignature    []byte
}

type wireThresholdDecryptionRequest struct {
	RitualID         uint32
	Variant          ThresholdDecryptionVariant
	CiphertextHeader *dkgcrypto.DkgCiphertext
	ACP              wireACP
	Context          map[string]interface{}
}

func encodeThresholdDecryptionRequest(req *ThresholdDecryptionRequest) ([]byte, error) {
	ritualPKBuf, err := req.ACP.RitualPublicKey.MarshalBinary()
	if err != nil {
		return nil, err
	}
	authorVKBuf, err := req.ACP.AuthorVerifyingKey.MarshalBinary()
	if err != nil {
		return nil, err
	}
	w := wireThresholdDecryptionRequest{
		RitualID:         req.RitualID,
		Variant:          req.Variant,
		CiphertextHeader: req.CiphertextHeader,
		ACP: wireACP{
			RitualPublicKey:    ritualPKBuf,
			AuthorVerifyingKey: authorVKBuf,
			Conditions:         req.ACP.Conditions,
			HeaderSignature:    req.ACP.HeaderSignature,
		},
		Context: req.Context,
	}
	return json.Marshal(w)
}

func decodeThresholdDecryptionRequest(sch *scheme.Scheme, buf []byte) (*ThresholdDecryptionRequest, error) {
	var w wireThresholdDecryptionRequest
	if err := json.Unmarshal(buf, &w); err != nil {
		return nil, errs.Wrap(errs.CodeMalformedRequest, "threshold decryption request is malformed", err)
	}
	ritualPK := sch.RitualSigGroup.Point()
	if err := ritualPK.UnmarshalBinary(w.ACP.RitualPublicKey); err != nil {
		return nil, errs.Wrap(errs.CodeMalformedRequest, "acp ritual public key is malformed", err)
	}
	authorVK := sch.AuthGroup.Point()
	if err := authorVK.UnmarshalBinary(w.ACP.AuthorVerifyingKey); err != nil {
		return nil, errs.Wrap(errs.CodeMalformedRequest, "acp author verifying key is malformed", err)
	}
	return &ThresholdDecryptionRequest{
		RitualID:         w.RitualID,
		Variant:          w.Variant,
		CiphertextHeader: w.CiphertextHeader,
		ACP: AccessConditionPolicy{
			RitualPublicKey:    ritualPK,
			AuthorVerifyingKey: authorVK,
			Conditions:         w.ACP.Conditions,
			HeaderSignature:    w.ACP.HeaderSignature,
		},
		Context: w.Context,
	}, nil
}

type wireThresholdDecryptionResponse struct {
	RitualID           uint32
	ShareIndex         int
	DecryptionSharePoint []byte
}

func encodeThresholdDecryptionResponse(resp *ThresholdDecryptionResponse) ([]byte, error) {
	pointBuf, err := resp.DecryptionShare.Point.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireThresholdDecryptionResponse{
		RitualID:             resp.RitualID,
		ShareIndex:           resp.DecryptionShare.Index,
		DecryptionSharePoint: pointBuf,
	})
}

// DecodeThresholdDecryptionResponse decodes a response produced by
// encodeThresholdDecryptionResponse, for use by the recipient side
// (internal/policy) after unwrapping the session envelope.
func DecodeThresholdDecryptionResponse(sch *scheme.Scheme, buf []byte) (*ThresholdDecryptionResponse, error) {
	var w wireThresholdDecryptionResponse
	if err := json.Unmarshal(buf, &w); err != nil {
		return nil, errs.Wrap(errs.CodeMalformedRequest, "threshold decryption response is malformed", err)
	}
	point := sch.RitualGroup.Point()
	if err := point.UnmarshalBinary(w.DecryptionSharePoint); err != nil {
		return nil, errs.Wrap(errs.CodeMalformedRequest, "decryption share point is malformed", err)
	}
	return &ThresholdDecryptionResponse{
		RitualID:        w.RitualID,
		DecryptionShare: &dkgcrypto.DecryptionShare{Index: w.ShareIndex, Point: point},
	}, nil
}

// Decrypt implements the decrypt endpoint end to end: unwrap the session
// envelope, look up the ritual, verify the ACP's header signature,
// evaluate its conditions, derive this node's decryption share, and wrap
// the reply under the same session key.
func (s *Service) Decrypt(ctx context.Context, envelope *EncryptedThresholdDecryptionRequest) ([]byte, error) {
	// Step 1: unwrap using the node's ritual-deterministic session key.
	nodeSecret, err := session.DeriveForRitual(s.sch, s.decrypting.Key, envelope.RitualID)
	if err != nil {
		return nil, err
	}
	wrapper, err := session.NewWrapper(nodeSecret, envelope.RecipientSessionPublic)
	if err != nil {
		return nil, err
	}
	plaintext, err := wrapper.UnwrapRequest(envelope.Ciphertext)
	if err != nil {
		return nil, errs.Wrap(errs.CodeMalformedRequest, "session envelope could not be unwrapped", err)
	}
	req, err := decodeThresholdDecryptionRequest(s.sch, plaintext)
	if err != nil {
		return nil, err
	}
	if req.RitualID != envelope.RitualID {
		return nil, errs.New(errs.CodeMalformedRequest, "ritual id in envelope and wrapped request disagree")
	}

	// Step 2: look up the ritual.
	ritual, ok := s.ritual(req.RitualID)
	if !ok {
		return nil, errs.New(errs.CodeUnknownRitual, "no such ritual registered on this node")
	}
	if !ritual.PublicKeys.InSigGroup.Equal(req.ACP.RitualPublicKey) {
		return nil, errs.New(errs.CodeMalformedRequest, "acp ritual public key does not match the looked-up ritual")
	}

	// Step 3: verify the ACP's encryptor signature over the ciphertext
	// header.
	if err := s.sch.AuthScheme.Verify(req.ACP.AuthorVerifyingKey, acpHeaderHash(req.CiphertextHeader), req.ACP.HeaderSignature); err != nil {
		return nil, errs.Wrap(errs.CodeSignature, "acp header signature invalid", err)
	}

	// Step 4: evaluate the ACP's conditions. :userAddress is recovered from
	// the verified encryptor signing key, since that is the only identity
	// this request authenticates.
	authorAddr, err := id.AddressFromVerifyingKey(req.ACP.AuthorVerifyingKey)
	if err != nil {
		return nil, err
	}
	evalCtx := &condition.EvalContext{
		UserAddress: authorAddr.String(),
		RitualID:    req.RitualID,
		Custom:      req.Context,
	}
	allowed, err := condition.Evaluate(ctx, s.backend, req.ACP.Conditions.Condition, evalCtx, condition.DefaultLimits())
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, errs.New(errs.CodeConditionFalse, "access condition did not hold")
	}

	// Step 5: derive this node's partial decryption share.
	share := dkgcrypto.DeriveDecryptionShare(s.sch, req.CiphertextHeader, ritual.Share)
	resp := &ThresholdDecryptionResponse{RitualID: req.RitualID, DecryptionShare: share}

	// Step 6: wrap the response under the same session key.
	respBytes, err := encodeThresholdDecryptionResponse(resp)
	if err != nil {
		return nil, err
	}
	return wrapper.WrapResponse(respBytes)
}

// EncodeThresholdDecryptionRequest is exported for internal/policy's
// recipient-side encryption of a request before session-wrapping it.
func EncodeThresholdDecryptionRequest(req *ThresholdDecryptionRequest) ([]byte, error) {
	return encodeThresholdDecryptionRequest(req)
}
