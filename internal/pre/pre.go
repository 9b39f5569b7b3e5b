// Package pre implements the proxy re-encryption half of the crypto
// primitives layer: verifiable split-key generation, single-shot
// re-encryption, and threshold combination/decryption. It is grounded on an
// ecies-style package (DH-derived symmetric keys, AES-GCM AEAD) and on
// kyber's Shamir sharing (github.com/drand/kyber/share), generalized here
// from "share a beacon's distributed key" to "split a policy's delegating
// key into verifiable, independently re-encryptable fragments."
//
// Umbral's actual construction additionally re-randomizes capsule
// components per re-encryption and ties correctness to a pairing-free NIZK;
// this package reproduces that shape with a Chaum-Pedersen DLEQ proof (see
// dleq.go) rather than porting Umbral bit-for-bit, since the curve the
// identity/PRE material lives on (kyber's edwards25519, standing in for
// secp256k1) has no pairing.
package pre

import (
	"fmt"

	"github.com/drand/kyber"
	"github.com/drand/kyber/util/random"

	"github.com/nucypher/taco/common/errs"
	"github.com/nucypher/taco/crypto/scheme"
)

// paramU is the scheme's second, nothing-up-my-sleeve generator, distinct
// from the group base point. kfrag correctness proofs are anchored to it so
// a verifier who only holds public material (E, E1, U, U1) can check a
// cfrag without the corresponding private re-encryption key.
func paramU(sch *scheme.Scheme) kyber.Point {
	h := sch.IdentityHash()
	h.Write([]byte("TACo/PRE/U"))
	seed := sch.PREGroup.Scalar().SetBytes(h.Sum(nil))
	return sch.PREGroup.Point().Mul(seed, nil)
}

// KeyFrag is one verifiable split-key fragment of a policy's delegating
// secret, produced by Umbral-style split-key re-encryption.
type KeyFrag struct {
	ID int64
	// RK is the fragment's re-encryption key: f(ID) of a degree-(m-1)
	// Shamir sharing of the delegating secret, f(0) = delegating_sk.
	RK kyber.Scalar
	// U1 = U^RK is the public commitment a verifier checks re-encryption
	// proofs against, without ever learning RK.
	U1 kyber.Point
	// DelegatingPK/ReceivingPK/PublisherVK bind this fragment to one policy;
	// they are covered by Signature.
	DelegatingPK kyber.Point
	ReceivingPK  kyber.Point
	PublisherVK  kyber.Point
	Signature    []byte
}

func (k *KeyFrag) signedBytes(sch *scheme.Scheme) []byte {
	h := sch.IdentityHash()
	fmt.Fprintf(h, "kfrag|%d|", k.ID)
	u1, _ := k.U1.MarshalBinary()
	h.Write(u1)
	d, _ := k.DelegatingPK.MarshalBinary()
	h.Write(d)
	r, _ := k.ReceivingPK.MarshalBinary()
	h.Write(r)
	return h.Sum(nil)
}

// VerifiedKeyFrag is an unforgeable witness that a KeyFrag's provenance was
// checked against (policy_key, recipient_encrypting_key,
// publisher_verifying_key). The zero value is not usable: the only
// constructor is VerifyKeyFrag.
type VerifiedKeyFrag struct {
	frag KeyFrag
}

// Unverified materializes the underlying fragment back out for
// serialization; callers needing cryptographic use must go through
// VerifyKeyFrag again, never through this accessor.
func (v VerifiedKeyFrag) Unverified() KeyFrag { return v.frag }

// VerifyKeyFrag checks a kfrag's publisher signature and returns the
// unforgeable witness of its validity, or a Crypto.KfragVerification error.
func VerifyKeyFrag(sch *scheme.Scheme, frag KeyFrag, delegatingPK, receivingPK, publisherVK kyber.Point) (VerifiedKeyFrag, error) {
	if !frag.DelegatingPK.Equal(delegatingPK) || !frag.ReceivingPK.Equal(receivingPK) || !frag.PublisherVK.Equal(publisherVK) {
		return VerifiedKeyFrag{}, errs.New(errs.CodeKfragVerification, "kfrag bound to different policy parameters")
	}
	if err := sch.AuthScheme.Verify(publisherVK, frag.signedBytes(sch), frag.Signature); err != nil {
		return VerifiedKeyFrag{}, errs.Wrap(errs.CodeKfragVerification, "kfrag signature invalid", err)
	}
	return VerifiedKeyFrag{frag: frag}, nil
}

// GenerateKFrags performs verifiable split-key generation: it splits
// delegatingSK into n Shamir shares of threshold m, and returns one signed,
// verifiable KeyFrag per share plus the corresponding policy public key.
func GenerateKFrags(sch *scheme.Scheme, delegatingSK kyber.Scalar, receivingPK kyber.Point, signerSK kyber.Scalar, signerPK kyber.Point, threshold, shares int) ([]VerifiedKeyFrag, kyber.Point, error) {
	if threshold < 1 || threshold > shares {
		return nil, nil, errs.New(errs.CodeMalformedRequest, "invalid threshold/shares: 1 <= m <= n required")
	}
	policyPK := sch.PREGroup.Point().Mul(delegatingSK, nil)

	coeffs := make([]kyber.Scalar, threshold)
	coeffs[0] = delegatingSK
	for i := 1; i < threshold; i++ {
		coeffs[i] = sch.PREGroup.Scalar().Pick(random.New())
	}
	evalAt := func(x int64) kyber.Scalar {
		xs := sch.PREGroup.Scalar().SetInt64(x)
		acc := sch.PREGroup.Scalar().Zero()
		pow := sch.PREGroup.Scalar().One()
		for _, c := range coeffs {
			term := sch.PREGroup.Scalar().Mul(c, pow)
			acc = sch.PREGroup.Scalar().Add(acc, term)
			pow = sch.PREGroup.Scalar().Mul(pow, xs)
		}
		return acc
	}

	u := paramU(sch)
	delegatingPK := policyPK
	out := make([]VerifiedKeyFrag, shares)
	for i := 0; i < shares; i++ {
		id := int64(i + 1)
		rk := evalAt(id)
		u1 := sch.PREGroup.Point().Mul(rk, u)
		kf := KeyFrag{
			ID:           id,
			RK:           rk,
			U1:           u1,
			DelegatingPK: delegatingPK,
			ReceivingPK:  receivingPK,
			PublisherVK:  signerPK,
		}
		sig, err := sch.AuthScheme.Sign(signerSK, kf.signedBytes(sch))
		if err != nil {
			return nil, nil, err
		}
		kf.Signature = sig
		out[i] = VerifiedKeyFrag{frag: kf}
	}
	return out, policyPK, nil
}
