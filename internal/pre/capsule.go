package pre

import (
	"github.com/drand/kyber"
	"github.com/drand/kyber/util/random"

	"github.com/nucypher/taco/common/errs"
	"github.com/nucypher/taco/crypto/scheme"
)

// Capsule binds symmetric key material to a policy public key. E is the
// ephemeral DH point; the policy owner or any threshold of re-encryptors
// can recompute the same symmetric key from it.
type Capsule struct {
	E kyber.Point
}

// MessageKit is the PRE encryption of one plaintext under a policy key,
// gated by a condition expression.
type MessageKit struct {
	Capsule    Capsule
	Ciphertext []byte
	Conditions []byte // serialized condition expression, see internal/condition
}

// Encrypt produces a MessageKit for plaintext under policyPK, the way an
// Encryptor does at the top of the data flow. aad binds the conditions into
// the AEAD tag so they cannot be swapped after encryption.
func Encrypt(sch *scheme.Scheme, policyPK kyber.Point, plaintext, conditions []byte) (*MessageKit, error) {
	e := sch.PREGroup.Scalar().Pick(random.New())
	E := sch.PREGroup.Point().Mul(e, nil)
	shared := sch.PREGroup.Point().Mul(e, policyPK)
	sharedBytes, err := shared.MarshalBinary()
	if err != nil {
		return nil, err
	}
	key, err := deriveSymmetricKey(sharedBytes, "TACo/PRE/capsule")
	if err != nil {
		return nil, err
	}
	ct, err := aeadSeal(key, plaintext, conditions)
	if err != nil {
		return nil, err
	}
	return &MessageKit{
		Capsule:    Capsule{E: E},
		Ciphertext: ct,
		Conditions: conditions,
	}, nil
}

// DecryptDirect recovers the plaintext using the delegating secret key
// directly, without any re-encryption — used by the policy owner herself,
// or in tests, bypassing the Node Service entirely.
func DecryptDirect(sch *scheme.Scheme, delegatingSK kyber.Scalar, mk *MessageKit) ([]byte, error) {
	shared := sch.PREGroup.Point().Mul(delegatingSK, mk.Capsule.E)
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
		return nil, errs.Wrap(errs.CodeAEAD, "direct decryption failed", err)
	}
	return pt, nil
}
