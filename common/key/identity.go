// Package key holds the long-term key material and identity types shared by
// every character: Publisher, Recipient, and Node.
package key

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/drand/kyber"
	"github.com/drand/kyber/util/random"

	"github.com/nucypher/taco/common/id"
	"github.com/nucypher/taco/crypto/scheme"
)

// SigningPair is a long-term Schnorr-style signing keypair used to
// authenticate a party's messages.
type SigningPair struct {
	Key    kyber.Scalar
	Public kyber.Point
}

// NewSigningPair generates a fresh signing keypair in the scheme's auth group.
func NewSigningPair(sch *scheme.Scheme) (*SigningPair, error) {
	priv := sch.AuthGroup.Scalar().Pick(random.New())
	pub := sch.AuthGroup.Point().Mul(priv, nil)
	return &SigningPair{Key: priv, Public: pub}, nil
}

// Sign signs msg with the prover's long-term signing key.
func (p *SigningPair) Sign(sch *scheme.Scheme, msg []byte) ([]byte, error) {
	return sch.AuthScheme.Sign(p.Key, msg)
}

// DecryptingPair is a long-term PRE-compatible keypair, over the curve
// split-key re-encryption material lives on.
type DecryptingPair struct {
	Key    kyber.Scalar
	Public kyber.Point
}

// NewDecryptingPair generates a fresh decrypting keypair in the scheme's PRE group.
func NewDecryptingPair(sch *scheme.Scheme) (*DecryptingPair, error) {
	priv := sch.PREGroup.Scalar().Pick(random.New())
	pub := sch.PREGroup.Point().Mul(priv, nil)
	return &DecryptingPair{Key: priv, Public: pub}, nil
}

// NodeMetadata is the signed record a node publishes about itself and
// gossips to peers.
type NodeMetadata struct {
	Host                   string
	Port                   int
	VerifyingKey           kyber.Point
	EncryptingKey          kyber.Point
	FerveoPublicKey        kyber.Point
	TLSCertDER             []byte
	Timestamp              time.Time
	OperatorSignature      []byte
	StakingProviderAddress id.Address
	Domain                 string

	// Signature is the node's self-signature over Hash(), binding the
	// identity keys, address and timestamp together.
	Signature []byte
}

// Address returns the dialable "host:port" for this node.
func (m *NodeMetadata) Address() string {
	return fmt.Sprintf("%s:%d", m.Host, m.Port)
}

// Hash is the input to the self-signature. It intentionally excludes the
// Signature field itself and the OperatorSignature, which is verified
// independently against the external operator/staking registry and proves
// the operator key authorized the node's identity key.
func (m *NodeMetadata) Hash(sch *scheme.Scheme) []byte {
	h := sch.IdentityHash()
	fmt.Fprintf(h, "%s|%d|%s|", m.Host, m.Port, m.Domain)
	if m.VerifyingKey != nil {
		buf, _ := m.VerifyingKey.MarshalBinary()
		h.Write(buf)
	}
	if m.EncryptingKey != nil {
		buf, _ := m.EncryptingKey.MarshalBinary()
		h.Write(buf)
	}
	if m.FerveoPublicKey != nil {
		buf, _ := m.FerveoPublicKey.MarshalBinary()
		h.Write(buf)
	}
	h.Write(m.TLSCertDER)
	h.Write(m.StakingProviderAddress[:])
	tsBuf := make([]byte, 8)
	ts := m.Timestamp.Unix()
	for i := 0; i < 8; i++ {
		tsBuf[i] = byte(ts >> (8 * (7 - i)))
	}
	h.Write(tsBuf)
	return h.Sum(nil)
}

// SelfSign signs the node's own metadata hash with its long-term signing key.
// A node never accepts a self-signature for metadata it did not author
// itself.
func (m *NodeMetadata) SelfSign(sch *scheme.Scheme, signing *SigningPair) error {
	sig, err := sch.AuthScheme.Sign(signing.Key, m.Hash(sch))
	if err != nil {
		return err
	}
	m.Signature = sig
	return nil
}

// VerifySelfSignature checks the node's self-signature against its own
// declared verifying key.
func (m *NodeMetadata) VerifySelfSignature(sch *scheme.Scheme) error {
	return sch.AuthScheme.Verify(m.VerifyingKey, m.Hash(sch), m.Signature)
}

// Equal reports whether two metadata records describe the same node
// identity (address + verifying key), ignoring mutable fields like
// Timestamp.
func (m *NodeMetadata) Equal(o *NodeMetadata) bool {
	if m.Address() != o.Address() {
		return false
	}
	if m.VerifyingKey == nil || o.VerifyingKey == nil {
		return m.VerifyingKey == o.VerifyingKey
	}
	return m.VerifyingKey.Equal(o.VerifyingKey)
}

func (m *NodeMetadata) String() string {
	return fmt.Sprintf("{%s - %s}", m.Address(), hex.EncodeToString(m.Signature))
}

// ByVerifyingKey sorts metadata records deterministically — used to build
// the fleet-state checksum as H(sorted(hashes)).
type ByVerifyingKey []*NodeMetadata

func (b ByVerifyingKey) Len() int      { return len(b) }
func (b ByVerifyingKey) Swap(i, j int) { b[i], b[j] = b[j], b[i] }
func (b ByVerifyingKey) Less(i, j int) bool {
	bi, _ := b[i].VerifyingKey.MarshalBinary()
	bj, _ := b[j].VerifyingKey.MarshalBinary()
	return bytes.Compare(bi, bj) < 0
}

// SortedHashes returns the metadata hashes sorted by verifying key, the
// canonical input to the fleet-state checksum.
func SortedHashes(sch *scheme.Scheme, nodes []*NodeMetadata) [][]byte {
	cp := make([]*NodeMetadata, len(nodes))
	copy(cp, nodes)
	sort.Sort(ByVerifyingKey(cp))
	hashes := make([][]byte, len(cp))
	for i, n := range cp {
		hashes[i] = n.Hash(sch)
	}
	return hashes
}
