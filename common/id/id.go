// Package id derives the protocol identifiers that name policies, nodes and
// rituals: node/operator addresses and the Hashed Resource Access Code
// (HRAC) that names a policy.
package id

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/drand/kyber"
)

// Address is a 20-byte identifier derived from a verifying key, standing in
// for an operator/staking-provider address. The external staking registry's
// native address type is out of scope; Address is the shape TACo's own code
// manipulates it as.
type Address [20]byte

// AddressFromVerifyingKey derives an Address from a node or character's
// long-term verifying key.
func AddressFromVerifyingKey(pub kyber.Point) (Address, error) {
	var a Address
	buf, err := pub.MarshalBinary()
	if err != nil {
		return a, err
	}
	sum := sha256.Sum256(buf)
	copy(a[:], sum[:20])
	return a, nil
}

func (a Address) String() string {
	return "0x" + hex.EncodeToString(a[:])
}

func (a Address) IsZero() bool {
	return a == Address{}
}

// MarshalText renders a as its "0x"-prefixed hex form, letting Address be
// used directly as a JSON object key or a plain JSON string value.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText parses the "0x"-prefixed hex form produced by MarshalText.
func (a *Address) UnmarshalText(text []byte) error {
	s := strings.TrimPrefix(string(text), "0x")
	buf, err := hex.DecodeString(s)
	if err != nil {
		return err
	}
	if len(buf) != len(a) {
		return fmt.Errorf("id: address must decode to %d bytes, got %d", len(a), len(buf))
	}
	copy(a[:], buf)
	return nil
}

// HRAC is the Hashed Resource Access Code: a 16-byte policy identifier
// deterministically derived as H(publisher_vk ‖ recipient_vk ‖ label).
type HRAC [16]byte

// DeriveHRAC computes the HRAC for a policy from the publisher's and
// recipient's verifying keys and the policy label.
func DeriveHRAC(publisherVK, recipientVK kyber.Point, label []byte) (HRAC, error) {
	var h HRAC
	pubBuf, err := publisherVK.MarshalBinary()
	if err != nil {
		return h, err
	}
	recBuf, err := recipientVK.MarshalBinary()
	if err != nil {
		return h, err
	}
	hasher := sha256.New()
	hasher.Write(pubBuf)
	hasher.Write(recBuf)
	hasher.Write(label)
	sum := hasher.Sum(nil)
	copy(h[:], sum[:16])
	return h, nil
}

func (h HRAC) String() string {
	return hex.EncodeToString(h[:])
}

func (h HRAC) IsZero() bool {
	return h == HRAC{}
}
