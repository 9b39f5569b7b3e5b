package pre

import (
	"fmt"

	"github.com/drand/kyber"

	"github.com/nucypher/taco/common/errs"
	"github.com/nucypher/taco/crypto/scheme"
)

// CapsuleFrag is one node's contribution toward re-encrypting a capsule: a
// partial DH point E1 = E^rk, accompanied by a proof that rk is the same
// value committed to by the originating kfrag's U1 = U^rk.
type CapsuleFrag struct {
	KFragID      int64
	E1           kyber.Point
	Proof        *DLEQProof
	DelegatingPK kyber.Point
	ReceivingPK  kyber.Point
}

func (c *CapsuleFrag) bindingBytes(sch *scheme.Scheme) []byte {
	h := sch.IdentityHash()
	fmt.Fprintf(h, "cfrag|%d|", c.KFragID)
	e1, _ := c.E1.MarshalBinary()
	h.Write(e1)
	return h.Sum(nil)
}

// VerifiedCapsuleFrag is an unforgeable witness that a CapsuleFrag's DLEQ
// proof checks out against its originating kfrag's U1 commitment. The only
// constructor is VerifyCapsuleFrag.
type VerifiedCapsuleFrag struct {
	frag CapsuleFrag
}

// Unverified materializes the underlying fragment for serialization;
// cryptographic use requires going back through VerifyCapsuleFrag.
func (v VerifiedCapsuleFrag) Unverified() CapsuleFrag { return v.frag }

// Reencrypt applies one verified kfrag to a capsule, producing a
// CapsuleFrag a recipient can later combine with m-1 others to recover the
// shared symmetric key — without this node ever learning the delegating
// secret or the plaintext.
func Reencrypt(sch *scheme.Scheme, capsule Capsule, vkfrag VerifiedKeyFrag) *CapsuleFrag {
	kf := vkfrag.Unverified()
	e1 := sch.PREGroup.Point().Mul(kf.RK, capsule.E)
	u := paramU(sch)
	proof := proveDLEQ(sch, capsule.E, u, e1, kf.U1, kf.RK)
	return &CapsuleFrag{
		KFragID:      kf.ID,
		E1:           e1,
		Proof:        proof,
		DelegatingPK: kf.DelegatingPK,
		ReceivingPK:  kf.ReceivingPK,
	}
}

// VerifyCapsuleFrag checks a cfrag's DLEQ proof against the originating
// kfrag's public commitment U1, returning the unforgeable witness of its
// correctness or a Crypto.CfragVerification error.
func VerifyCapsuleFrag(sch *scheme.Scheme, frag CapsuleFrag, capsule Capsule, kfragU1 kyber.Point) (VerifiedCapsuleFrag, error) {
	u := paramU(sch)
	if !verifyDLEQ(sch, capsule.E, u, frag.E1, kfragU1, frag.Proof) {
		return VerifiedCapsuleFrag{}, errs.New(errs.CodeCfragVerification, "cfrag DLEQ proof invalid")
	}
	return VerifiedCapsuleFrag{frag: frag}, nil
}
