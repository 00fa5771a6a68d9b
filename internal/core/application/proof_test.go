package application

import (
	"encoding/hex"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/stretchr/testify/require"
)

func p2wpkhScriptHex(pubKey *btcec.PublicKey) string {
	pkHash := btcutil.Hash160(pubKey.SerializeCompressed())
	script := append([]byte{0x00, 0x14}, pkHash...)
	return hex.EncodeToString(script)
}

func TestVerifyInputProofAcceptsValidSignature(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	scriptHex := p2wpkhScriptHex(priv.PubKey())
	message := "blinded-output-hex-abc123"

	digest := signedMessageDigest(message)
	sig := ecdsa.SignCompact(priv, digest, true)

	require.NoError(t, verifyInputProof(scriptHex, message, sig))
}

func TestVerifyInputProofRejectsWrongKey(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	other, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	scriptHex := p2wpkhScriptHex(priv.PubKey())
	message := "blinded-output-hex-abc123"

	digest := signedMessageDigest(message)
	sig := ecdsa.SignCompact(other, digest, true)

	err = verifyInputProof(scriptHex, message, sig)
	require.Error(t, err)
}

func TestVerifyInputProofRejectsTamperedMessage(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	scriptHex := p2wpkhScriptHex(priv.PubKey())

	digest := signedMessageDigest("blinded-output-hex-abc123")
	sig := ecdsa.SignCompact(priv, digest, true)

	err = verifyInputProof(scriptHex, "blinded-output-hex-tampered", sig)
	require.Error(t, err)
}

func TestVerifyInputProofRejectsNonP2WPKHScript(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	message := "blinded-output-hex-abc123"
	digest := signedMessageDigest(message)
	sig := ecdsa.SignCompact(priv, digest, true)

	err = verifyInputProof("76a914"+hex.EncodeToString(btcutil.Hash160(priv.PubKey().SerializeCompressed()))+"88ac", message, sig)
	require.Error(t, err)
}
