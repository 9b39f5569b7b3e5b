package pre

import (
	"github.com/drand/kyber"

	"github.com/nucypher/taco/common/errs"
	"github.com/nucypher/taco/crypto/scheme"
)

// NotEnoughFragments is returned when fewer than the policy's threshold of
// verified cfrags are available to reconstruct the capsule's shared secret.
// Callers must fail closed on this error rather than attempt a partial
// decryption.
type NotEnoughFragments struct {
	Have, Need int
}

func (e *NotEnoughFragments) Error() string {
	return errs.New(errs.CodeNotEnoughFragments, "not enough capsule fragments").Error()
}

// lagrangeAt0 computes the Lagrange basis coefficient for index id among
// allIDs, evaluated at x=0 — the weight applied to fragment id's E1 when
// reconstructing E^delegating_sk from m verified cfrags.
func lagrangeAt0(sch *scheme.Scheme, id int64, allIDs []int64) kyber.Scalar {
	num := sch.PREGroup.Scalar().One()
	den := sch.PREGroup.Scalar().One()
	xi := sch.PREGroup.Scalar().SetInt64(id)
	for _, j := range allIDs {
		if j == id {
			continue
		}
		xj := sch.PREGroup.Scalar().SetInt64(j)
		num = sch.PREGroup.Scalar().Mul(num, xj)
		diff := sch.PREGroup.Scalar().Sub(xj, xi)
		den = sch.PREGroup.Scalar().Mul(den, diff)
	}
	return sch.PREGroup.Scalar().Div(num, den)
}

// combineCapsuleFrags reconstructs the capsule's shared DH point from
// threshold verified cfrags via Lagrange interpolation at x=0, the same
// reconstruction kyber's Shamir sharing (github.com/drand/kyber/share) does
// for scalars, generalized here to reconstructing a group element in the
// exponent from partial exponentiations.
func combineCapsuleFrags(sch *scheme.Scheme, frags []VerifiedCapsuleFrag, threshold int) (kyber.Point, error) {
	if len(frags) < threshold {
		return nil, &NotEnoughFragments{Have: len(frags), Need: threshold}
	}
	use := frags[:threshold]
	ids := make([]int64, len(use))
	for i, f := range use {
		ids[i] = f.Unverified().KFragID
	}
	combined := sch.PREGroup.Point().Null()
	for i, f := range use {
		lambda := lagrangeAt0(sch, ids[i], ids)
		term := sch.PREGroup.Point().Mul(lambda, f.Unverified().E1)
		combined = sch.PREGroup.Point().Add(combined, term)
	}
	return combined, nil
}

// DecryptReencrypted recovers a MessageKit's plaintext from a threshold of
// verified capsule fragments, without ever requiring the delegating secret
// key. Authorization over who may request and collect those fragments is
// enforced upstream by the node service's condition evaluation, not by this
// function.
func DecryptReencrypted(sch *scheme.Scheme, mk *MessageKit, frags []VerifiedCapsuleFrag, threshold int) ([]byte, error) {
	shared, err := combineCapsuleFrags(sch, frags, threshold)
	if err != nil {
		return nil, err
	}
	sharedBytes, err := shared.MarshalBinary()
	if err != nil {
		return nil, err
	}
	key, err := deriveSymmetricKey(sharedBytes, "TACo/PRE/capsule")
	if err != nil {
		return nil, err
	}
	pt, err := aeadOpen(key, mk.Ciphertext, mk.Conditions)
	if err != nil {
		return nil, errs.Wrap(errs.CodeAEAD, "threshold decryption failed", err)
	}
	return pt, nil
}
