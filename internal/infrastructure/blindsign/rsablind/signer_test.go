package rsablind_test

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"math/big"
	"testing"

	"github.com/blindmix/coordinator/internal/infrastructure/blindsign/rsablind"
	"github.com/stretchr/testify/require"
)

// sha256DigestInfoPrefix is the ASN.1 DigestInfo prefix RFC 8017 assigns to
// SHA-256, used to build the EMSA-PKCS1-v1.5 encoded message a client would
// prepare before blinding.
var sha256DigestInfoPrefix, _ = hex.DecodeString("3031300d060960864801650304020105000420")

func emsaPKCS1v15(digest []byte, keyBytes int) []byte {
	t := append(append([]byte{}, sha256DigestInfoPrefix...), digest...)
	em := make([]byte, keyBytes)
	em[0] = 0x00
	em[1] = 0x01
	padLen := keyBytes - len(t) - 3
	for i := 0; i < padLen; i++ {
		em[2+i] = 0xff
	}
	em[2+padLen] = 0x00
	copy(em[3+padLen:], t)
	return em
}

// blind returns the blinded message m' = m * r^e mod n, and the blinding
// factor r a client needs to unblind the coordinator's response later.
func blind(m *big.Int, n, e *big.Int) (mPrime, r *big.Int) {
	for {
		var err error
		r, err = rand.Int(rand.Reader, n)
		if err != nil {
			panic(err)
		}
		if r.Sign() != 0 {
			break
		}
	}
	rE := new(big.Int).Exp(r, e, n)
	mPrime = new(big.Int).Mul(m, rE)
	mPrime.Mod(mPrime, n)
	return mPrime, r
}

func unblind(sPrime, r, n *big.Int) *big.Int {
	rInv := new(big.Int).ModInverse(r, n)
	s := new(big.Int).Mul(sPrime, rInv)
	s.Mod(s, n)
	return s
}

func TestBlindSignRoundTrip(t *testing.T) {
	signer, err := rsablind.New()
	require.NoError(t, err)
	pub := signer.PublicKey()
	keyBytes := (pub.N.BitLen() + 7) / 8

	outputScript := []byte("0014deadbeefdeadbeefdeadbeefdeadbeefdead")
	digest := sha256.Sum256(outputScript)
	em := emsaPKCS1v15(digest[:], keyBytes)
	m := new(big.Int).SetBytes(em)

	e := big.NewInt(int64(pub.E))
	mPrime, r := blind(m, pub.N, e)

	blindedBytes := make([]byte, keyBytes)
	mPrime.FillBytes(blindedBytes)

	sigPrime, err := signer.SignBlinded(blindedBytes)
	require.NoError(t, err)

	s := unblind(new(big.Int).SetBytes(sigPrime), r, pub.N)
	finalSig := make([]byte, keyBytes)
	s.FillBytes(finalSig)

	require.True(t, signer.VerifyUnblinded(outputScript, finalSig))
}

func TestBlindSignRejectsReplayedSignatureForDifferentMessage(t *testing.T) {
	signer, err := rsablind.New()
	require.NoError(t, err)
	pub := signer.PublicKey()
	keyBytes := (pub.N.BitLen() + 7) / 8
	e := big.NewInt(int64(pub.E))

	sign := func(script []byte) []byte {
		digest := sha256.Sum256(script)
		em := emsaPKCS1v15(digest[:], keyBytes)
		m := new(big.Int).SetBytes(em)
		mPrime, r := blind(m, pub.N, e)
		blindedBytes := make([]byte, keyBytes)
		mPrime.FillBytes(blindedBytes)
		sigPrime, err := signer.SignBlinded(blindedBytes)
		require.NoError(t, err)
		s := unblind(new(big.Int).SetBytes(sigPrime), r, pub.N)
		out := make([]byte, keyBytes)
		s.FillBytes(out)
		return out
	}

	sigA := sign([]byte("output-script-a"))
	require.True(t, signer.VerifyUnblinded([]byte("output-script-a"), sigA))
	require.False(t, signer.VerifyUnblinded([]byte("output-script-b"), sigA))
}
