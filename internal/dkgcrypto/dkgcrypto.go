// Package dkgcrypto implements the ritual half of the crypto primitives
// layer: joint threshold key generation and threshold decryption of
// ciphertexts encrypted under a ritual's aggregate public key, grounded on
// a pairing-based threshold scheme (a KeyGroup/SigGroup/ThresholdScheme
// split and the tbls partial-signature combination a beacon process drives
// per round) and on kyber/share's PriPoly/PubPoly to commit and recover
// group elements from threshold shares.
//
// Generating the joint key here uses a simplified, non-interactive variant
// of Pedersen DKG: each of several independent dealers deals its own
// Shamir sharing of a random secret, and the dealers' polynomials are
// summed. The sum is a sharing of the sum of the per-dealer secrets, which
// no single dealer ever learns — the same trick a full Pedersen DKG's
// deal/response/complaint rounds achieve interactively, without the
// interactive dispute-resolution protocol.
package dkgcrypto

import (
	"github.com/drand/kyber"
	"github.com/drand/kyber/share"
	"github.com/drand/kyber/util/random"

	"github.com/nucypher/taco/common/errs"
	"github.com/nucypher/taco/crypto/scheme"
)

// RitualKeyShare is one participant's share of a ritual's joint secret.
type RitualKeyShare struct {
	Index int
	Share *share.PriShare
}

// RitualPublicKeys is the ritual's aggregate public key, represented in
// both pairing groups: KeyGroup (RitualGroup) for general reference, and
// SigGroup (RitualSigGroup) for the pairing check threshold decryption
// finishes with.
type RitualPublicKeys struct {
	InKeyGroup    kyber.Point
	InRitualGroup *share.PubPoly
	InSigGroup    kyber.Point
}

// GenerateRitual runs joint key generation for one ritual: dealers
// independent dealers each split a random secret into n threshold-m
// Shamir shares over RitualGroup, and their polynomials are summed into
// one joint sharing. It returns each participant's aggregate key share and
// the ritual's public keys.
func GenerateRitual(sch *scheme.Scheme, dealers, n, threshold int) ([]*RitualKeyShare, *RitualPublicKeys, error) {
	if dealers < 1 || threshold < 1 || threshold > n {
		return nil, nil, errs.New(errs.CodeMalformedRequest, "invalid ritual parameters")
	}

	var joint *share.PriPoly
	for d := 0; d < dealers; d++ {
		poly := share.NewPriPoly(sch.RitualGroup, threshold, nil, random.New())
		if joint == nil {
			joint = poly
			continue
		}
		summed, err := joint.Add(poly)
		if err != nil {
			return nil, nil, errs.Wrap(errs.CodeMalformedRequest, "combining dealer polynomials", err)
		}
		joint = summed
	}

	priShares := joint.Shares(n)
	out := make([]*RitualKeyShare, 0, n)
	for _, ps := range priShares {
		if ps == nil {
			continue
		}
		out = append(out, &RitualKeyShare{Index: ps.I, Share: ps})
	}

	pubPoly := joint.Commit(sch.RitualGroup.Point().Base())
	pubKeyGroup := pubPoly.Commit()
	pubSigGroup := sch.RitualSigGroup.Point().Mul(joint.Secret(), sch.RitualSigGroup.Point().Base())

	return out, &RitualPublicKeys{
		InKeyGroup:    pubKeyGroup,
		InRitualGroup: pubPoly,
		InSigGroup:    pubSigGroup,
	}, nil
}
