package nodeservice

import (
	"context"
	"fmt"

	"github.com/drand/kyber"

	"github.com/nucypher/taco/common/errs"
	"github.com/nucypher/taco/common/id"
	"github.com/nucypher/taco/crypto/scheme"
	"github.com/nucypher/taco/internal/condition"
	"github.com/nucypher/taco/internal/pre"
)

// ReencryptionRequest is the decoded form of the reencrypt endpoint's
// input. Capsules and Conditions are parallel arrays: Conditions[i] gates
// Capsules[i].
type ReencryptionRequest struct {
	HRAC                  id.HRAC
	Capsules              []pre.Capsule
	Conditions            []condition.Node
	Context               map[string]interface{}
	BobVerifyingKey       kyber.Point
	BobEncryptingKey      kyber.Point
	PublisherVerifyingKey kyber.Point
	PolicyPublicKey       kyber.Point
	EncryptedKFrag        *pre.MessageKit
}

// ReencryptionResponse is the node's signed reply: one capsule fragment
// per requested capsule. A capsule whose condition does not evaluate true
// aborts the whole request before any cfrag is produced; Capsules and
// CFrags therefore always have the same length as the request.
type ReencryptionResponse struct {
	Capsules  []pre.Capsule
	CFrags    []*pre.CapsuleFrag
	Signature []byte
}

// reencryptionSigningBytes hashes the capsule/cfrag pairs the node is
// about to vouch for, the same fold-a-hash-over-marshaled-points idiom
// key.NodeMetadata.Hash uses for its self-signature.
func reencryptionSigningBytes(sch *scheme.Scheme, capsules []pre.Capsule, frags []*pre.CapsuleFrag) []byte {
	h := sch.IdentityHash()
	for i, c := range capsules {
		eBuf, _ := c.E.MarshalBinary()
		h.Write(eBuf)
		e1Buf, _ := frags[i].E1.MarshalBinary()
		h.Write(e1Buf)
	}
	return h.Sum(nil)
}

// Reencrypt implements the reencrypt endpoint: decrypt the kfrag
// delivered for this node, verify it, check payment, evaluate each
// capsule's condition, re-encrypt every capsule (any condition that does
// not hold aborts the whole request), and sign the reply.
func (s *Service) Reencrypt(ctx context.Context, req *ReencryptionRequest) (*ReencryptionResponse, error) {
	if len(req.Capsules) != len(req.Conditions) {
		return nil, errs.New(errs.CodeMalformedRequest, "capsules and conditions must be parallel arrays of equal length")
	}
	if s.isRevoked(req.HRAC) {
		return nil, errs.New(errs.CodeRevoked, fmt.Sprintf("hrac %s has been revoked for this node", req.HRAC))
	}

	// Step 1: decrypt the kfrag delivered to this node. A failure here is a
	// 403: either the ciphertext was not addressed to this node's
	// encrypting key, or it has been tampered with.
	kfragBytes, err := pre.DecryptDirect(s.sch, s.decrypting.Key, req.EncryptedKFrag)
	if err != nil {
		return nil, errs.Wrap(errs.CodeAEAD, "encrypted kfrag could not be decrypted with this node's key", err)
	}
	kfrag, err := pre.UnmarshalKeyFrag(s.sch, kfragBytes)
	if err != nil {
		return nil, errs.Wrap(errs.CodeMalformedRequest, "decrypted kfrag is malformed", err)
	}

	// Step 2: verify the kfrag against the policy parameters this request
	// claims. A signature mismatch and a structural mismatch (wrong
	// policy/recipient) both return CodeKfragVerification, which the
	// transport maps to 403; the status does not tell the two apart.
	vkfrag, err := pre.VerifyKeyFrag(s.sch, kfrag, req.PolicyPublicKey, req.BobEncryptingKey, req.PublisherVerifyingKey)
	if err != nil {
		return nil, err // already errs.CodeKfragVerification, a Crypto-kind error
	}

	// Step 3: consult the payment collaborator.
	if !s.payment.IsPaid(req.HRAC) {
		return nil, errs.New(errs.CodeUnpaid, fmt.Sprintf("hrac %s has not been paid for", req.HRAC))
	}

	// Step 4/5: evaluate each capsule's condition; a false or erroring
	// condition aborts the whole request rather than omitting just that
	// capsule, matching the source protocol's short-circuit behavior even
	// though conditions are logically independent per capsule.
	bobAddr, err := id.AddressFromVerifyingKey(req.BobVerifyingKey)
	if err != nil {
		return nil, err
	}
	evalCtx := &condition.EvalContext{
		UserAddress: bobAddr.String(),
		HRAC:        req.HRAC.String(),
		Custom:      req.Context,
	}

	var outCapsules []pre.Capsule
	var outFrags []*pre.CapsuleFrag
	for i, capsule := range req.Capsules {
		ok, err := condition.Evaluate(ctx, s.backend, req.Conditions[i].Condition, evalCtx, condition.DefaultLimits())
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errs.New(errs.CodeConditionFalse, fmt.Sprintf("condition for capsule %d did not hold", i))
		}
		cfrag := pre.Reencrypt(s.sch, capsule, vkfrag)
		outCapsules = append(outCapsules, capsule)
		outFrags = append(outFrags, cfrag)
	}

	resp := &ReencryptionResponse{Capsules: outCapsules, CFrags: outFrags}
	sig, err := s.signing.Sign(s.sch, reencryptionSigningBytes(s.sch, outCapsules, outFrags))
	if err != nil {
		return nil, err
	}
	resp.Signature = sig
	return resp, nil
}
