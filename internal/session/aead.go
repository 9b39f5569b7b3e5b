package session

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/nucypher/taco/common/errs"
)

func deriveSymmetricKey(point []byte, info string) ([]byte, error) {
	kdf := hkdf.New(sha256.New, point, nil, []byte(info))
	key := make([]byte, 32)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, errs.Wrap(errs.CodeAEAD, "hkdf expand failed", err)
	}
	return key, nil
}

func sessionSeal(key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errs.Wrap(errs.CodeAEAD, "new cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errs.Wrap(errs.CodeAEAD, "new gcm", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, errs.Wrap(errs.CodeAEAD, "nonce generation", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func sessionOpen(key, ciphertext []byte) ([]byte, error) {
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
	pt, err := gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, errs.Wrap(errs.CodeAEAD, "gcm open failed", err)
	}
	return pt, nil
}

// Wrapper holds the derived request/response keys for one session exchange.
// The same DH point yields two domain-separated keys so a captured request
// ciphertext can never be replayed as a valid response ciphertext or vice
// versa.
type Wrapper struct {
	requestKey  []byte
	responseKey []byte
}

// NewWrapper derives both directions' keys from one DH exchange between sk
// and pk. Either side computes the identical Wrapper from its own secret and
// the other's public key.
func NewWrapper(sk *StaticSecret, pk *StaticPublicKey) (*Wrapper, error) {
	reqKey, err := DeriveSharedSecret(sk, pk, "TACo/session/request")
	if err != nil {
		return nil, err
	}
	respKey, err := DeriveSharedSecret(sk, pk, "TACo/session/response")
	if err != nil {
		return nil, err
	}
	return &Wrapper{requestKey: reqKey, responseKey: respKey}, nil
}

// WrapRequest encrypts a recipient-to-node request payload.
func (w *Wrapper) WrapRequest(plaintext []byte) ([]byte, error) {
	return sessionSeal(w.requestKey, plaintext)
}

// UnwrapRequest decrypts a node-received request payload.
func (w *Wrapper) UnwrapRequest(ciphertext []byte) ([]byte, error) {
	pt, err := sessionOpen(w.requestKey, ciphertext)
	if err != nil {
		return nil, errs.Wrap(errs.CodeMalformedRequest, "session request unwrap failed", err)
	}
	return pt, nil
}

// WrapResponse encrypts a node-to-recipient response payload.
func (w *Wrapper) WrapResponse(plaintext []byte) ([]byte, error) {
	return sessionSeal(w.responseKey, plaintext)
}

// UnwrapResponse decrypts a recipient-received response payload.
func (w *Wrapper) UnwrapResponse(ciphertext []byte) ([]byte, error) {
	return sessionOpen(w.responseKey, ciphertext)
}
