// Package scheme registers the concrete curves and signature schemes TACo
// runs on, pinning a pairing and a threshold scheme the same way a beacon
// registry pins one for threshold signatures. Here the registry pins:
//   - AuthGroup/AuthScheme: the Schnorr-style signing scheme over the
//     long-term identity curve, standing in for secp256k1.
//   - PREGroup: the curve split-key re-encryption material lives on.
//   - RitualGroup/RitualSigGroup/ThresholdScheme: the pairing used for DKG
//     ritual public keys and the combination of decryption shares,
//     aggregatable the way Ferveo transcripts are.
package scheme

import (
	"hash"

	bls "github.com/drand/kyber-bls12381"
	"github.com/drand/kyber"
	"github.com/drand/kyber/group/edwards25519"
	"github.com/drand/kyber/sign"
	"github.com/drand/kyber/sign/schnorr"
	signBls "github.com/drand/kyber/sign/bls"
	"github.com/drand/kyber/sign/tbls"
	"golang.org/x/crypto/blake2b"
)

// Scheme bundles every group and signature scheme a TACo deployment needs.
// It is not meant to be marshaled; refer to it by Name (see SchemeFromName).
type Scheme struct {
	Name string

	// AuthGroup/AuthScheme authenticate long-term identities and wire
	// messages (node metadata self-signature, request signatures).
	AuthGroup  kyber.Group
	AuthScheme sign.Scheme

	// PREGroup is the curve split-key re-encryption (kfrag/cfrag) material
	// lives on.
	PREGroup kyber.Group

	// RitualGroup/RitualSigGroup/ThresholdScheme back the DKG ritual: the
	// public key ciphertexts are encrypted to lives in RitualSigGroup;
	// partial decryption shares live in RitualGroup and are combined there
	// by Lagrange interpolation, then paired with the RitualSigGroup base.
	RitualGroup     kyber.Group
	RitualSigGroup  kyber.Group
	ThresholdScheme sign.ThresholdScheme
	RitualAuth      sign.Scheme

	// Pair evaluates the bilinear pairing e(p1, p2) -> GT, used to finish a
	// threshold-decryption KEM without ever reconstructing the ritual secret
	// key itself.
	Pair func(p1, p2 kyber.Point) kyber.Point

	// IdentityHash is the hash function used to bind identity/metadata
	// records before signing them.
	IdentityHash func() hash.Hash
}

// DefaultSchemeID is the scheme every node runs unless reconfigured.
const DefaultSchemeID = "taco-bls12381-edwards25519"

// NewDefault builds the default TACo scheme: edwards25519 for long-term
// identities and PRE material, BLS12-381 for the DKG ritual, pinning the
// pairing the same way a Pedersen/BLS-unchained scheme pins one for
// threshold beacon signatures.
func NewDefault() *Scheme {
	authGroup := edwards25519.NewBlakeSHA256Ed25519()
	pairing := bls.NewBLS12381SuiteWithDST(
		[]byte("TACO_RITUAL_BLS12381G1_XMD:SHA-256_SSWU_RO_NUL_"),
		[]byte("TACO_RITUAL_BLS12381G2_XMD:SHA-256_SSWU_RO_NUL_"),
	)
	ritualGroup := pairing.G1()
	ritualSigGroup := pairing.G2()

	return &Scheme{
		Name:            DefaultSchemeID,
		AuthGroup:       authGroup,
		AuthScheme:      schnorr.NewScheme(authGroup),
		PREGroup:        authGroup,
		RitualGroup:     ritualGroup,
		RitualSigGroup:  ritualSigGroup,
		ThresholdScheme: tbls.NewThresholdSchemeOnG2(pairing),
		RitualAuth:      signBls.NewSchemeOnG2(pairing),
		Pair:            pairing.Pair,
		IdentityHash:    func() hash.Hash { h, _ := blake2b.New256(nil); return h },
	}
}

var schemes = map[string]func() *Scheme{
	DefaultSchemeID: NewDefault,
}

// SchemeFromName looks a registered scheme up by name.
func SchemeFromName(name string) (*Scheme, error) {
	if name == "" {
		name = DefaultSchemeID
	}
	ctor, ok := schemes[name]
	if !ok {
		return nil, &UnknownSchemeError{Name: name}
	}
	return ctor(), nil
}

// UnknownSchemeError is returned by SchemeFromName for an unregistered name.
type UnknownSchemeError struct{ Name string }

func (e *UnknownSchemeError) Error() string {
	return "unknown scheme: " + e.Name
}
