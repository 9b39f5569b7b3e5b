package pre

import (
	"fmt"

	"github.com/drand/kyber"
	"github.com/drand/kyber/util/random"

	"github.com/nucypher/taco/crypto/scheme"
)

// DLEQProof is a non-interactive Chaum-Pedersen proof that two DH-style
// tuples (base1, E1) and (base2, U1) share the same discrete log (the
// fragment's re-encryption key RK), without revealing RK. It is what lets
// any third party check a re-encryption is correct without holding RK, or
// without a pairing.
type DLEQProof struct {
	// Commitments.
	E2 kyber.Point
	U2 kyber.Point
	// Z is the response scalar.
	Z kyber.Scalar
}

func dleqChallenge(sch *scheme.Scheme, e1, u1, e2, u2 kyber.Point) kyber.Scalar {
	h := sch.IdentityHash()
	fmt.Fprint(h, "dleq|")
	for _, p := range []kyber.Point{e1, u1, e2, u2} {
		buf, _ := p.MarshalBinary()
		h.Write(buf)
	}
	return sch.PREGroup.Scalar().SetBytes(h.Sum(nil))
}

// proveDLEQ proves E1 = E^rk and U1 = U^rk for the same rk, committing to a
// random nonce point pair (E2, U2) and opening it with a Fiat-Shamir
// challenge derived from all four points.
func proveDLEQ(sch *scheme.Scheme, e, u, e1, u1 kyber.Point, rk kyber.Scalar) *DLEQProof {
	k := sch.PREGroup.Scalar().Pick(random.New())
	e2 := sch.PREGroup.Point().Mul(k, e)
	u2 := sch.PREGroup.Point().Mul(k, u)
	c := dleqChallenge(sch, e1, u1, e2, u2)
	z := sch.PREGroup.Scalar().Add(k, sch.PREGroup.Scalar().Mul(c, rk))
	return &DLEQProof{E2: e2, U2: u2, Z: z}
}

// verifyDLEQ checks a DLEQProof against the public tuple (E, U, E1, U1).
func verifyDLEQ(sch *scheme.Scheme, e, u, e1, u1 kyber.Point, proof *DLEQProof) bool {
	c := dleqChallenge(sch, e1, u1, proof.E2, proof.U2)

	lhsE := sch.PREGroup.Point().Mul(proof.Z, e)
	rhsE := sch.PREGroup.Point().Add(proof.E2, sch.PREGroup.Point().Mul(c, e1))
	if !lhsE.Equal(rhsE) {
		return false
	}

	lhsU := sch.PREGroup.Point().Mul(proof.Z, u)
	rhsU := sch.PREGroup.Point().Add(proof.U2, sch.PREGroup.Point().Mul(c, u1))
	return lhsU.Equal(rhsU)
}
