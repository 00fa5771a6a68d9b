package application

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"

	"github.com/blindmix/coordinator/internal/core/domain"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
)

const messageSigMagic = "Bitcoin Signed Message:\n"

// verifyInputProof checks that proof is a valid Bitcoin "signmessage" style
// signature over message, produced by the key that controls scriptHex.
// scriptHex must already be known to be a native v0 P2WPKH program --
// script-kind validation happens earlier in the registration pipeline.
func verifyInputProof(scriptHex, message string, proof []byte) error {
	script, err := hex.DecodeString(scriptHex)
	if err != nil {
		return domain.NewRejection(domain.KindInvalidProof, "malformed script: %s", err)
	}
	if len(script) != 22 || script[0] != 0x00 || script[1] != 0x14 {
		return domain.NewRejection(domain.KindInvalidProof, "not a v0 P2WPKH script")
	}

	digest := signedMessageDigest(message)

	pubKey, wasCompressed, err := ecdsa.RecoverCompact(proof, digest)
	if err != nil {
		return domain.NewRejection(domain.KindInvalidProof, "malformed signature: %s", err)
	}

	var pubKeyBytes []byte
	if wasCompressed {
		pubKeyBytes = pubKey.SerializeCompressed()
	} else {
		pubKeyBytes = pubKey.SerializeUncompressed()
	}

	pkHash := btcutil.Hash160(pubKeyBytes)
	if !bytes.Equal(script[2:], pkHash) {
		return domain.NewRejection(domain.KindInvalidProof, "signature key does not match input script")
	}
	return nil
}

// signedMessageDigest reproduces the classic Bitcoin "signmessage" digest:
// double-SHA256 over the magic prefix and message, each length-prefixed as
// a Bitcoin varstring.
func signedMessageDigest(message string) []byte {
	var buf bytes.Buffer
	_ = wire.WriteVarString(&buf, 0, messageSigMagic)
	_ = wire.WriteVarString(&buf, 0, message)
	first := sha256.Sum256(buf.Bytes())
	second := sha256.Sum256(first[:])
	return second[:]
}
