package keystore

import (
	"encoding/json"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/nucypher/taco/common/id"
	"github.com/nucypher/taco/common/key"
	"github.com/nucypher/taco/crypto/scheme"
)

const peerCacheKey = "nodes"

// nodeMetadataWire is the on-disk shape of key.NodeMetadata: kyber points
// and scalars marshaled to their binary form so the record survives a
// plain JSON round trip regardless of which concrete group implementation
// backs them.
type nodeMetadataWire struct {
	Host                   string
	Port                   int
	VerifyingKey           []byte
	EncryptingKey          []byte
	FerveoPublicKey        []byte
	TLSCertDER             []byte
	Timestamp              time.Time
	OperatorSignature      []byte
	StakingProviderAddress id.Address
	Domain                 string
	Signature              []byte
}

func toWire(m *key.NodeMetadata) (nodeMetadataWire, error) {
	var w nodeMetadataWire
	w.Host, w.Port, w.Domain = m.Host, m.Port, m.Domain
	w.Timestamp = m.Timestamp
	w.OperatorSignature = m.OperatorSignature
	w.StakingProviderAddress = m.StakingProviderAddress
	w.Signature = m.Signature
	w.TLSCertDER = m.TLSCertDER

	var err error
	if w.VerifyingKey, err = m.VerifyingKey.MarshalBinary(); err != nil {
		return w, err
	}
	if w.EncryptingKey, err = m.EncryptingKey.MarshalBinary(); err != nil {
		return w, err
	}
	if m.FerveoPublicKey != nil {
		if w.FerveoPublicKey, err = m.FerveoPublicKey.MarshalBinary(); err != nil {
			return w, err
		}
	}
	return w, nil
}

func fromWire(sch *scheme.Scheme, w nodeMetadataWire) (*key.NodeMetadata, error) {
	m := &key.NodeMetadata{
		Host:                   w.Host,
		Port:                   w.Port,
		TLSCertDER:             w.TLSCertDER,
		Timestamp:              w.Timestamp,
		OperatorSignature:      w.OperatorSignature,
		StakingProviderAddress: w.StakingProviderAddress,
		Domain:                 w.Domain,
		Signature:              w.Signature,
	}
	vk := sch.AuthGroup.Point()
	if err := vk.UnmarshalBinary(w.VerifyingKey); err != nil {
		return nil, err
	}
	m.VerifyingKey = vk

	ek := sch.PREGroup.Point()
	if err := ek.UnmarshalBinary(w.EncryptingKey); err != nil {
		return nil, err
	}
	m.EncryptingKey = ek

	if len(w.FerveoPublicKey) > 0 {
		fk := sch.RitualGroup.Point()
		if err := fk.UnmarshalBinary(w.FerveoPublicKey); err != nil {
			return nil, err
		}
		m.FerveoPublicKey = fk
	}
	return m, nil
}

// SavePeerCache persists the given node metadata list for faster cold
// starts. Discarding this file (or never writing it) costs nothing but a
// slower first learning round; it is never authoritative.
func (k *Keystore) SavePeerCache(nodes []*key.NodeMetadata) error {
	wire := make([]nodeMetadataWire, 0, len(nodes))
	for _, n := range nodes {
		w, err := toWire(n)
		if err != nil {
			return err
		}
		wire = append(wire, w)
	}
	buf, err := json.Marshal(wire)
	if err != nil {
		return err
	}
	return k.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(peerCacheBucket).Put([]byte(peerCacheKey), buf)
	})
}

// LoadPeerCache reads back the last-saved peer cache, or an empty slice if
// none was ever saved.
func (k *Keystore) LoadPeerCache(sch *scheme.Scheme) ([]*key.NodeMetadata, error) {
	var buf []byte
	err := k.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(peerCacheBucket).Get([]byte(peerCacheKey))
		buf = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(buf) == 0 {
		return nil, nil
	}
	var wire []nodeMetadataWire
	if err := json.Unmarshal(buf, &wire); err != nil {
		return nil, err
	}
	out := make([]*key.NodeMetadata, 0, len(wire))
	for _, w := range wire {
		m, err := fromWire(sch, w)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}
