// Package session implements the ephemeral, per-request key exchange that
// wraps a threshold-decryption request and its response: a recipient's
// fresh SessionStaticSecret, Diffie-Hellman'd against a node's session
// public key, yields a symmetric key used only for that one request/reply
// pair, so a compromised long-term key cannot retroactively decrypt past
// decryption traffic.
//
// A node's own session keypair is not generated fresh per request; it is
// derived deterministically from the node's long-term decrypting key and
// the ritual id, so a recipient can address it without an extra discovery
// round trip, the same way the node's public_information already publishes
// everything else the recipient needs to address it.
package session

import (
	"encoding/binary"

	"github.com/drand/kyber"
	"github.com/drand/kyber/util/random"

	"github.com/nucypher/taco/crypto/scheme"
)

// StaticSecret is one side of an ephemeral (or ritual-deterministic) session
// keypair, over the same curve PRE split-key material lives on — already a
// DH-friendly group, so no new curve is introduced just for session wrap.
type StaticSecret struct {
	Key kyber.Scalar
}

// StaticPublicKey is the public half of a StaticSecret.
type StaticPublicKey struct {
	Point kyber.Point
}

// NewEphemeralSecret generates a fresh session secret, used once per
// decryption request by the recipient.
func NewEphemeralSecret(sch *scheme.Scheme) *StaticSecret {
	return &StaticSecret{Key: sch.PREGroup.Scalar().Pick(random.New())}
}

// Public derives the public half of s.
func (s *StaticSecret) Public(sch *scheme.Scheme) *StaticPublicKey {
	return &StaticPublicKey{Point: sch.PREGroup.Point().Mul(s.Key, nil)}
}

// DeriveForRitual computes a node's deterministic session secret for one
// ritual, from its long-term decrypting key and the ritual id. Two calls
// with the same inputs always yield the same secret, letting a recipient
// compute the node's session public key from published metadata plus the
// ritual id alone.
func DeriveForRitual(sch *scheme.Scheme, longTermKey kyber.Scalar, ritualID uint32) (*StaticSecret, error) {
	buf, err := longTermKey.MarshalBinary()
	if err != nil {
		return nil, err
	}
	h := sch.IdentityHash()
	h.Write([]byte("TACo/session/ritual"))
	h.Write(buf)
	var idBuf [4]byte
	binary.BigEndian.PutUint32(idBuf[:], ritualID)
	h.Write(idBuf[:])
	scalar := sch.PREGroup.Scalar().SetBytes(h.Sum(nil))
	return &StaticSecret{Key: scalar}, nil
}

// DeriveSharedSecret computes the symmetric key both sides of an exchange
// converge on: HKDF over the DH point sk.Key * pk.Point, domain-separated
// by info so the same keypair can be reused safely for distinct purposes
// (e.g. request wrap vs. response wrap) without key reuse across them.
func DeriveSharedSecret(sk *StaticSecret, pk *StaticPublicKey, info string) ([]byte, error) {
	sharedPoint := pkMul(sk, pk)
	buf, err := sharedPoint.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return deriveSymmetricKey(buf, info)
}

func pkMul(sk *StaticSecret, pk *StaticPublicKey) kyber.Point {
	return pk.Point.Clone().Mul(sk.Key, pk.Point)
}
