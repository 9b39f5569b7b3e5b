package policy

import (
	"encoding/json"

	"github.com/drand/kyber"

	"github.com/nucypher/taco/common/errs"
	"github.com/nucypher/taco/common/id"
	"github.com/nucypher/taco/crypto/scheme"
	"github.com/nucypher/taco/internal/pre"
)

// TreasureMapEntry is one node's assignment: its encrypted kfrag, plus the
// kfrag's public U1 commitment so the Recipient can verify a returned
// cfrag without ever holding the kfrag itself. U1 reveals nothing about
// the kfrag's secret re-encryption key; it is the same public value the
// node's own VerifyCapsuleFrag check is anchored to.
type TreasureMapEntry struct {
	EncryptedKFrag *pre.MessageKit
	KFragID        int64
	U1             kyber.Point
}

// TreasureMap is the decrypted form of a policy's node assignments.
type TreasureMap struct {
	HRAC                id.HRAC
	Threshold           int
	PolicyEncryptingKey kyber.Point
	Destinations        map[id.Address]TreasureMapEntry
}

type wireCapsule struct {
	E []byte
}

type wireMessageKit struct {
	Capsule    wireCapsule
	Ciphertext []byte
	Conditions []byte
}

type wireTreasureMapEntry struct {
	EncryptedKFrag wireMessageKit
	KFragID        int64
	U1             []byte
}

type wireTreasureMap struct {
	HRAC                id.HRAC
	Threshold           int
	PolicyEncryptingKey []byte
	Destinations        map[id.Address]wireTreasureMapEntry
}

func marshalMessageKit(mk *pre.MessageKit) (wireMessageKit, error) {
	eBuf, err := mk.Capsule.E.MarshalBinary()
	if err != nil {
		return wireMessageKit{}, err
	}
	return wireMessageKit{
		Capsule:    wireCapsule{E: eBuf},
		Ciphertext: mk.Ciphertext,
		Conditions: mk.Conditions,
	}, nil
}

func unmarshalMessageKit(sch *scheme.Scheme, w wireMessageKit) (*pre.MessageKit, error) {
	e := sch.PREGroup.Point()
	if err := e.UnmarshalBinary(w.Capsule.E); err != nil {
		return nil, err
	}
	return &pre.MessageKit{
		Capsule:    pre.Capsule{E: e},
		Ciphertext: w.Ciphertext,
		Conditions: w.Conditions,
	}, nil
}

func marshalTreasureMap(tm *TreasureMap) ([]byte, error) {
	pkBuf, err := tm.PolicyEncryptingKey.MarshalBinary()
	if err != nil {
		return nil, err
	}
	destinations := make(map[id.Address]wireTreasureMapEntry, len(tm.Destinations))
	for addr, entry := range tm.Destinations {
		wmk, err := marshalMessageKit(entry.EncryptedKFrag)
		if err != nil {
			return nil, err
		}
		u1Buf, err := entry.U1.MarshalBinary()
		if err != nil {
			return nil, err
		}
		destinations[addr] = wireTreasureMapEntry{
			EncryptedKFrag: wmk,
			KFragID:        entry.KFragID,
			U1:             u1Buf,
		}
	}
	return json.Marshal(wireTreasureMap{
		HRAC:                tm.HRAC,
		Threshold:           tm.Threshold,
		PolicyEncryptingKey: pkBuf,
		Destinations:        destinations,
	})
}

func unmarshalTreasureMap(sch *scheme.Scheme, buf []byte) (*TreasureMap, error) {
	var w wireTreasureMap
	if err := json.Unmarshal(buf, &w); err != nil {
		return nil, errs.Wrap(errs.CodeInvalidTreasureMap, "treasure map is malformed", err)
	}
	pk := sch.PREGroup.Point()
	if err := pk.UnmarshalBinary(w.PolicyEncryptingKey); err != nil {
		return nil, errs.Wrap(errs.CodeInvalidTreasureMap, "treasure map policy key is malformed", err)
	}
	destinations := make(map[id.Address]TreasureMapEntry, len(w.Destinations))
	for addr, wentry := range w.Destinations {
		mk, err := unmarshalMessageKit(sch, wentry.EncryptedKFrag)
		if err != nil {
			return nil, errs.Wrap(errs.CodeInvalidTreasureMap, "treasure map destination is malformed", err)
		}
		u1 := sch.PREGroup.Point()
		if err := u1.UnmarshalBinary(wentry.U1); err != nil {
			return nil, errs.Wrap(errs.CodeInvalidTreasureMap, "treasure map destination u1 is malformed", err)
		}
		destinations[addr] = TreasureMapEntry{
			EncryptedKFrag: mk,
			KFragID:        wentry.KFragID,
			U1:             u1,
		}
	}
	return &TreasureMap{
		HRAC:                w.HRAC,
		Threshold:           w.Threshold,
		PolicyEncryptingKey: pk,
		Destinations:        destinations,
	}, nil
}

// EncryptTreasureMap encrypts tm to the recipient's encrypting key, for
// delivery over an out-of-band side channel.
func EncryptTreasureMap(sch *scheme.Scheme, recipientEK kyber.Point, tm *TreasureMap) (*EncryptedTreasureMap, error) {
	buf, err := marshalTreasureMap(tm)
	if err != nil {
		return nil, err
	}
	return pre.Encrypt(sch, recipientEK, buf, nil)
}

// DecryptTreasureMap recovers tm using the recipient's own decrypting key.
func DecryptTreasureMap(sch *scheme.Scheme, recipientDK kyber.Scalar, encrypted *EncryptedTreasureMap) (*TreasureMap, error) {
	buf, err := pre.DecryptDirect(sch, recipientDK, encrypted)
	if err != nil {
		return nil, errs.Wrap(errs.CodeInvalidTreasureMap, "treasure map could not be decrypted", err)
	}
	return unmarshalTreasureMap(sch, buf)
}
