package keystore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/pbkdf2"

	"github.com/nucypher/taco/common/errs"
	"github.com/nucypher/taco/common/key"
	"github.com/nucypher/taco/crypto/scheme"
)

const (
	seedLen          = 32
	saltLen          = 16
	pbkdf2Iterations = 200_000
	pbkdf2KeyLen     = 32
)

type sealedSeed struct {
	Salt       []byte
	Nonce      []byte
	Ciphertext []byte
}

func newSeed() ([]byte, error) {
	seed := make([]byte, seedLen)
	if _, err := io.ReadFull(rand.Reader, seed); err != nil {
		return nil, err
	}
	return seed, nil
}

func passphraseKey(passphrase, salt []byte) []byte {
	return pbkdf2.Key(passphrase, salt, pbkdf2Iterations, pbkdf2KeyLen, sha256.New)
}

func sealSeed(passphrase, seed []byte) (sealedSeed, error) {
	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return sealedSeed{}, err
	}
	derivedKey := passphraseKey(passphrase, salt)

	block, err := aes.NewCipher(derivedKey)
	if err != nil {
		return sealedSeed{}, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return sealedSeed{}, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return sealedSeed{}, err
	}
	ct := gcm.Seal(nil, nonce, seed, nil)
	return sealedSeed{Salt: salt, Nonce: nonce, Ciphertext: ct}, nil
}

func openSeed(passphrase []byte, sealed sealedSeed) ([]byte, error) {
	derivedKey := passphraseKey(passphrase, sealed.Salt)
	block, err := aes.NewCipher(derivedKey)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return gcm.Open(nil, sealed.Nonce, sealed.Ciphertext, nil)
}

func deriveScalarSeed(seed []byte, info string) ([]byte, error) {
	kdf := hkdf.New(sha256.New, seed, nil, []byte(info))
	buf := make([]byte, 64) // oversized so SetBytes reduces uniformly mod group order
	if _, err := io.ReadFull(kdf, buf); err != nil {
		return nil, errs.Wrap(errs.CodeAEAD, "hkdf expand failed", err)
	}
	return buf, nil
}

func deriveSigningPair(sch *scheme.Scheme, seed []byte) (*key.SigningPair, error) {
	buf, err := deriveScalarSeed(seed, "TACo/keystore/signing")
	if err != nil {
		return nil, err
	}
	priv := sch.AuthGroup.Scalar().SetBytes(buf)
	pub := sch.AuthGroup.Point().Mul(priv, nil)
	return &key.SigningPair{Key: priv, Public: pub}, nil
}

func deriveDecryptingPair(sch *scheme.Scheme, seed []byte) (*key.DecryptingPair, error) {
	buf, err := deriveScalarSeed(seed, "TACo/keystore/decrypting")
	if err != nil {
		return nil, err
	}
	priv := sch.PREGroup.Scalar().SetBytes(buf)
	pub := sch.PREGroup.Point().Mul(priv, nil)
	return &key.DecryptingPair{Key: priv, Public: pub}, nil
}
