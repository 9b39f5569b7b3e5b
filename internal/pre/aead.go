package pre

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/nucypher/taco/common/errs"
)

var randReader = rand.Reader

// deriveSymmetricKey turns a DH point into an AES-256 key via HKDF, the way
// an ecies-style package derives its AES key from an ephemeral DH exchange,
// generalized here from a fixed SHA-256 KDF to HKDF-SHA256 with a
// domain-separating info string.
func deriveSymmetricKey(point []byte, info string) ([]byte, error) {
	kdf := hkdf.New(sha256.New, point, nil, []byte(info))
	key := make([]byte, 32)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, errs.Wrap(errs.CodeAEAD, "hkdf expand failed", err)
	}
	return key, nil
}

// aeadSeal/aeadOpen wrap AES-GCM with a fixed-size nonce prefix, the
// standard shape used throughout the corpus for "encrypt under a derived
// symmetric key."
func aeadSeal(key, plaintext, aad []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errs.Wrap(errs.CodeAEAD, "new cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errs.Wrap(errs.CodeAEAD, "new gcm", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	// Deterministic-per-capsule nonces would leak key-reuse across
	// re-encryptions of the same capsule; derive fresh randomness instead.
	if _, err := io.ReadFull(randReader, nonce); err != nil {
		return nil, errs.Wrap(errs.CodeAEAD, "nonce generation", err)
	}
	ct := gcm.Seal(nonce, nonce, plaintext, aad)
	return ct, nil
}

func aeadOpen(key, ciphertext, aad []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errs.Wrap(errs.CodeAEAD, "new cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errs.Wrap(errs.CodeAEAD, "new gcm", err)
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, errs.New(errs.CodeAEAD, "ciphertext too short")
	}
	nonce, ct := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	pt, err := gcm.Open(nil, nonce, ct, aad)
	if err != nil {
		return nil, errs.Wrap(errs.CodeAEAD, "gcm open failed", err)
	}
	return pt, nil
}
