// Package keystore implements the node's persisted state: the password-
// encrypted seed long-term keys are deterministically derived from, and an
// optional peer-cache of last-known node metadata for faster cold starts.
// Both live in one bbolt file, generalized here from "append-only beacon
// rounds" to "two small, infrequently-written buckets."
//
// Password-based key derivation for unlocking is treated elsewhere as an
// external interface ("unlocked keystore yields long-term signing/
// decrypting keypairs"); this package supplies a complete, ordinary
// implementation of that interface rather than leaving it unimplemented,
// since a node needs to start up somehow.
package keystore

import (
	"encoding/json"

	bolt "go.etcd.io/bbolt"

	"github.com/nucypher/taco/common/errs"
	"github.com/nucypher/taco/common/key"
	"github.com/nucypher/taco/crypto/scheme"
)

var (
	seedBucket      = []byte("seed")
	peerCacheBucket = []byte("peercache")
)

const seedKey = "sealed"

// Keystore is a single bbolt-backed file holding one node's sealed seed and
// its optional peer cache.
type Keystore struct {
	db *bolt.DB
}

// Open opens (creating if absent) the keystore file at path.
func Open(path string) (*Keystore, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(seedBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(peerCacheBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Keystore{db: db}, nil
}

// Close releases the underlying bbolt file.
func (k *Keystore) Close() error {
	return k.db.Close()
}

// Initialize generates a fresh random master seed and persists it sealed
// under passphrase. Calling Initialize on an already-initialized keystore
// fails with errs.CodeKeystoreLocked.
func (k *Keystore) Initialize(passphrase []byte) error {
	return k.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(seedBucket)
		if b.Get([]byte(seedKey)) != nil {
			return errs.New(errs.CodeKeystoreLocked, "keystore already initialized")
		}
		seed, err := newSeed()
		if err != nil {
			return err
		}
		sealed, err := sealSeed(passphrase, seed)
		if err != nil {
			return err
		}
		buf, err := json.Marshal(sealed)
		if err != nil {
			return err
		}
		return b.Put([]byte(seedKey), buf)
	})
}

// Unlock decrypts the master seed with passphrase and deterministically
// derives the node's long-term signing and decrypting keypairs from it.
// Every call with the correct passphrase yields the identical keypairs.
func (k *Keystore) Unlock(sch *scheme.Scheme, passphrase []byte) (*key.SigningPair, *key.DecryptingPair, error) {
	var buf []byte
	err := k.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(seedBucket).Get([]byte(seedKey))
		if v == nil {
			return errs.New(errs.CodeKeystoreLocked, "keystore not initialized")
		}
		buf = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	var sealed sealedSeed
	if err := json.Unmarshal(buf, &sealed); err != nil {
		return nil, nil, errs.Wrap(errs.CodeKeystoreLocked, "corrupt keystore", err)
	}
	seed, err := openSeed(passphrase, sealed)
	if err != nil {
		return nil, nil, errs.Wrap(errs.CodeKeystoreLocked, "wrong passphrase", err)
	}

	signing, err := deriveSigningPair(sch, seed)
	if err != nil {
		return nil, nil, err
	}
	decrypting, err := deriveDecryptingPair(sch, seed)
	if err != nil {
		return nil, nil, err
	}
	return signing, decrypting, nil
}
