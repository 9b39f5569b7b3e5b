package dkgcrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"io"

	"github.com/drand/kyber"
	"golang.org/x/crypto/hkdf"

	"github.com/nucypher/taco/common/errs"
	"github.com/nucypher/taco/crypto/scheme"
)

// DkgCiphertext is a payload encrypted under a ritual's aggregate public
// key. Nonce anchors the pairing-based KEM; any threshold of the ritual's
// participants can recover the same symmetric key from it via
// CombineDecryptionShares, without ever reconstructing the ritual secret.
type DkgCiphertext struct {
	Nonce      []byte
	Ciphertext []byte
}

// DecryptionShare is one participant's contribution toward recovering a
// DkgCiphertext's KEM key.
type DecryptionShare struct {
	Index int
	Point kyber.Point
}

func nonceToPoint(sch *scheme.Scheme, nonce []byte) kyber.Point {
	h := sch.IdentityHash()
	h.Write([]byte("TACo/DKG/KEM"))
	h.Write(nonce)
	scalar := sch.RitualGroup.Scalar().SetBytes(h.Sum(nil))
	return sch.RitualGroup.Point().Mul(scalar, nil)
}

func deriveKEMKey(gt kyber.Point, info string) ([]byte, error) {
	buf, err := gt.MarshalBinary()
	if err != nil {
		return nil, err
	}
	kdf := hkdf.New(sha256.New, buf, nil, []byte(info))
	key := make([]byte, 32)
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, err
	}
	return key, nil
}

// EncryptForRitual encrypts plaintext so that only a threshold of a
// ritual's participants, cooperating, can decrypt it. pub must be the
// InSigGroup half of the ritual's public keys (see GenerateRitual), the
// group the pairing's second argument lives in.
func EncryptForRitual(sch *scheme.Scheme, pub kyber.Point, plaintext []byte) (*DkgCiphertext, error) {
	nonce := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, errs.Wrap(errs.CodeAEAD, "nonce generation", err)
	}
	hm := nonceToPoint(sch, nonce)
	gt := sch.Pair(hm, pub)
	key, err := deriveKEMKey(gt, "TACo/DKG/ritual")
	if err != nil {
		return nil, err
	}
	ct, err := ritualSeal(key, plaintext, nonce)
	if err != nil {
		return nil, err
	}
	return &DkgCiphertext{Nonce: nonce, Ciphertext: ct}, nil
}

// DeriveDecryptionShare computes one participant's partial contribution
// toward the ciphertext's KEM key: H(nonce)^share_i, in RitualGroup.
func DeriveDecryptionShare(sch *scheme.Scheme, ct *DkgCiphertext, ks *RitualKeyShare) *DecryptionShare {
	hm := nonceToPoint(sch, ct.Nonce)
	point := sch.RitualGroup.Point().Mul(ks.Share.V, hm)
	return &DecryptionShare{Index: ks.Share.I, Point: point}
}

// CombineDecryptionShares reconstructs H(nonce)^ritual_sk from a threshold
// of decryption shares via Lagrange interpolation, then finishes the KEM
// with a pairing against the fixed RitualSigGroup base point — mirroring
// e(H(nonce), pub) = e(H(nonce), base)^ritual_sk on the encryption side —
// so that combining shares never requires knowing ritual_sk, the ritual
// public key, or pairing against it directly.
func CombineDecryptionShares(sch *scheme.Scheme, shares []*DecryptionShare, threshold int) (kyber.Point, error) {
	if len(shares) < threshold {
		return nil, errs.New(errs.CodeNotEnoughFragments, "not enough decryption shares")
	}
	use := shares[:threshold]
	ids := make([]int64, len(use))
	for i, s := range use {
		ids[i] = int64(s.Index) + 1 // share I was evaluated at x = I+1
	}
	recovered := sch.RitualGroup.Point().Null()
	for i, s := range use {
		lambda := lagrangeAt0(sch, ids[i], ids)
		term := sch.RitualGroup.Point().Mul(lambda, s.Point)
		recovered = sch.RitualGroup.Point().Add(recovered, term)
	}
	return sch.Pair(recovered, sch.RitualSigGroup.Point().Base()), nil
}

// DecryptWithSharedSecret opens a DkgCiphertext given the GT element
// CombineDecryptionShares produced.
func DecryptWithSharedSecret(ct *DkgCiphertext, gt kyber.Point) ([]byte, error) {
	key, err := deriveKEMKey(gt, "TACo/DKG/ritual")
	if err != nil {
		return nil, err
	}
	pt, err := ritualOpen(key, ct.Ciphertext, ct.Nonce)
	if err != nil {
		return nil, errs.Wrap(errs.CodeAEAD, "ritual decryption failed", err)
	}
	return pt, nil
}

func lagrangeAt0(sch *scheme.Scheme, id int64, allIDs []int64) kyber.Scalar {
	num := sch.RitualGroup.Scalar().One()
	den := sch.RitualGroup.Scalar().One()
	xi := sch.RitualGroup.Scalar().SetInt64(id)
	for _, j := range allIDs {
		if j == id {
			continue
		}
		xj := sch.RitualGroup.Scalar().SetInt64(j)
		num = sch.RitualGroup.Scalar().Mul(num, xj)
		den = sch.RitualGroup.Scalar().Mul(den, sch.RitualGroup.Scalar().Sub(xj, xi))
	}
	return sch.RitualGroup.Scalar().Div(num, den)
}

func ritualSeal(key, plaintext, aad []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, aad), nil
}

func ritualOpen(key, ciphertext, aad []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, errs.New(errs.CodeAEAD, "ciphertext too short")
	}
	nonce, ct := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	return gcm.Open(nil, nonce, ct, aad)
}
