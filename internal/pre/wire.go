package pre

import (
	"encoding/json"

	"github.com/nucypher/taco/crypto/scheme"
)

// wireKeyFrag is KeyFrag's on-the-wire shape: every kyber scalar/point is
// its MarshalBinary() form, the same approach internal/keystore uses to
// persist NodeMetadata, since neither type has native encoding/json
// support.
type wireKeyFrag struct {
	ID           int64
	RK           []byte
	U1           []byte
	DelegatingPK []byte
	ReceivingPK  []byte
	PublisherVK  []byte
	Signature    []byte
}

// MarshalKeyFrag encodes a KeyFrag for delivery to a node, PRE-encrypted
// under that node's encrypting key via Encrypt.
func MarshalKeyFrag(kf KeyFrag) ([]byte, error) {
	w := wireKeyFrag{ID: kf.ID, Signature: kf.Signature}
	var err error
	if w.RK, err = kf.RK.MarshalBinary(); err != nil {
		return nil, err
	}
	if w.U1, err = kf.U1.MarshalBinary(); err != nil {
		return nil, err
	}
	if w.DelegatingPK, err = kf.DelegatingPK.MarshalBinary(); err != nil {
		return nil, err
	}
	if w.ReceivingPK, err = kf.ReceivingPK.MarshalBinary(); err != nil {
		return nil, err
	}
	if w.PublisherVK, err = kf.PublisherVK.MarshalBinary(); err != nil {
		return nil, err
	}
	return json.Marshal(w)
}

// UnmarshalKeyFrag decodes a KeyFrag produced by MarshalKeyFrag. The
// result is a plain, unverified KeyFrag; callers must still pass it
// through VerifyKeyFrag before any cryptographic use.
func UnmarshalKeyFrag(sch *scheme.Scheme, buf []byte) (KeyFrag, error) {
	var w wireKeyFrag
	if err := json.Unmarshal(buf, &w); err != nil {
		return KeyFrag{}, err
	}
	kf := KeyFrag{ID: w.ID, Signature: w.Signature}

	kf.RK = sch.PREGroup.Scalar()
	if err := kf.RK.UnmarshalBinary(w.RK); err != nil {
		return KeyFrag{}, err
	}
	kf.U1 = sch.PREGroup.Point()
	if err := kf.U1.UnmarshalBinary(w.U1); err != nil {
		return KeyFrag{}, err
	}
	kf.DelegatingPK = sch.PREGroup.Point()
	if err := kf.DelegatingPK.UnmarshalBinary(w.DelegatingPK); err != nil {
		return KeyFrag{}, err
	}
	kf.ReceivingPK = sch.PREGroup.Point()
	if err := kf.ReceivingPK.UnmarshalBinary(w.ReceivingPK); err != nil {
		return KeyFrag{}, err
	}
	kf.PublisherVK = sch.PREGroup.Point()
	if err := kf.PublisherVK.UnmarshalBinary(w.PublisherVK); err != nil {
		return KeyFrag{}, err
	}
	return kf, nil
}
