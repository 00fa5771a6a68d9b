package ports

import "crypto/rsa"

// BlindSigner is the coordinator's blind-RSA key pair. It signs opaque
// blinded payloads without learning what they unblind to, and later
// verifies the unblinded signature a Bob presents, without being able to
// connect that Bob back to the Alice who requested the signature.
type BlindSigner interface {
	// SignBlinded performs raw RSA signing on an already-blinded,
	// already-hashed payload. It must not hash the input itself -- the
	// client prepared the digest before blinding it.
	SignBlinded(blinded []byte) ([]byte, error)

	// VerifyUnblinded checks sig against message using the coordinator's
	// public key, after the client has unblinded it.
	VerifyUnblinded(message, sig []byte) bool

	// PublicKey exposes the RSA public key so clients can blind their
	// payloads against it.
	PublicKey() *rsa.PublicKey
}
