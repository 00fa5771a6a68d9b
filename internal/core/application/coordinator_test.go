package application

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"math/big"
	"testing"
	"time"

	"github.com/blindmix/coordinator/internal/core/domain"
	"github.com/blindmix/coordinator/internal/core/ports"
	"github.com/blindmix/coordinator/internal/infrastructure/blindsign/rsablind"
	"github.com/blindmix/coordinator/internal/infrastructure/txbuilder/btcwire"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

// fakeChainOracle is a deterministic, in-memory stand-in for a full node --
// enough to drive the coordinator's own validation without a regtest node.
type fakeChainOracle struct {
	utxos       map[domain.Outpoint]*domain.Utxo
	broadcasts  []string
	cjTxids     map[string]struct{}
	unconfirmed int
}

func newFakeChainOracle() *fakeChainOracle {
	return &fakeChainOracle{utxos: make(map[domain.Outpoint]*domain.Utxo), cjTxids: make(map[string]struct{})}
}

func (f *fakeChainOracle) GetTxOut(ctx context.Context, o domain.Outpoint, includeMempool bool) (*domain.Utxo, error) {
	u, ok := f.utxos[o]
	if !ok {
		return nil, ports.ErrUtxoNotFound
	}
	return u, nil
}

func (f *fakeChainOracle) ContainsCoinJoin(ctx context.Context, txHash string) (bool, error) {
	_, ok := f.cjTxids[txHash]
	return ok, nil
}

func (f *fakeChainOracle) UnconfirmedCoinJoinCount(ctx context.Context) (int, error) {
	return f.unconfirmed, nil
}

func (f *fakeChainOracle) Broadcast(ctx context.Context, txHex string) error {
	f.broadcasts = append(f.broadcasts, txHex)
	return nil
}

func (f *fakeChainOracle) MarkCoinJoin(ctx context.Context, txHash string) error {
	f.cjTxids[txHash] = struct{}{}
	return nil
}

// fakeBanStore is a minimal in-memory BanStore -- the real badger-backed one
// is exercised by its own package's tests.
type fakeBanStore struct {
	bans map[domain.Outpoint]time.Time
}

func newFakeBanStore() *fakeBanStore { return &fakeBanStore{bans: make(map[domain.Outpoint]time.Time)} }

func (f *fakeBanStore) Ban(o domain.Outpoint, until time.Time, severity ports.BanSeverity) error {
	f.bans[o] = until
	return nil
}

func (f *fakeBanStore) IsBanned(o domain.Outpoint, now time.Time) (int, bool, error) {
	until, ok := f.bans[o]
	if !ok || now.After(until) {
		return 0, false, nil
	}
	return int(until.Sub(now).Minutes()) + 1, true, nil
}

func (f *fakeBanStore) Unban(o domain.Outpoint) error {
	delete(f.bans, o)
	return nil
}

// noopScheduler never fires anything; these tests drive every phase
// transition directly through Coordinator calls, not through timeouts.
type noopScheduler struct{}

func (noopScheduler) Start() {}
func (noopScheduler) Stop()  {}
func (noopScheduler) ScheduleTaskOnce(at time.Time, task func()) error     { return nil }
func (noopScheduler) ScheduleRecurring(d time.Duration, task func()) error { return nil }

func p2wpkhScript(pubKey *btcec.PublicKey) []byte {
	pkHash := btcutil.Hash160(pubKey.SerializeCompressed())
	return append([]byte{0x00, 0x14}, pkHash...)
}

func mkTxid(seed byte) string {
	raw := make([]byte, 32)
	raw[0] = seed
	return hex.EncodeToString(raw)
}

// emsaPKCS1v15 pads digest the way a well-behaved client must before
// blinding it, so that the coordinator's raw RSA signature over the blinded
// payload becomes a standard PKCS#1 v1.5 signature once unblinded --
// matching what rsablind.VerifyUnblinded checks.
func emsaPKCS1v15(digest []byte, keyBytes int) []byte {
	prefix, _ := hex.DecodeString("3031300d060960864801650304020105000420")
	t := append(append([]byte{}, prefix...), digest...)
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

// blindDigest blinds the padded digest of message under the coordinator's
// public key, returning the blinded payload hex and the blinding factor
// needed to unblind the coordinator's response later.
func blindDigest(t *testing.T, message []byte, n *big.Int, e int64) (string, *big.Int) {
	t.Helper()
	keyBytes := (n.BitLen() + 7) / 8
	digest := sha256.Sum256(message)
	em := emsaPKCS1v15(digest[:], keyBytes)
	m := new(big.Int).SetBytes(em)
	exp := big.NewInt(e)

	for {
		priv, err := btcec.NewPrivateKey()
		require.NoError(t, err)
		r := new(big.Int).SetBytes(priv.Serialize())
		if r.Sign() == 0 || new(big.Int).GCD(nil, nil, r, n).Cmp(big.NewInt(1)) != 0 {
			continue
		}
		rE := new(big.Int).Exp(r, exp, n)
		mPrime := new(big.Int).Mul(m, rE)
		mPrime.Mod(mPrime, n)

		out := make([]byte, keyBytes)
		mPrime.FillBytes(out)
		return hex.EncodeToString(out), r
	}
}

func unblind(sigBytes []byte, r, n *big.Int) []byte {
	sigPrime := new(big.Int).SetBytes(sigBytes)
	rInv := new(big.Int).ModInverse(r, n)
	s := new(big.Int).Mul(sigPrime, rInv)
	s.Mod(s, n)
	out := make([]byte, (n.BitLen()+7)/8)
	s.FillBytes(out)
	return out
}

type testAlice struct {
	priv       *btcec.PrivateKey
	outpoint   domain.Outpoint
	value      uint64
	scriptHex  string
	uniqueID   string
	unblinded  []byte
	bobScript  []byte
}

func registerTestAlice(t *testing.T, coordinator *Coordinator, oracle *fakeChainOracle, bobScript []byte, seed byte, value uint64) *testAlice {
	t.Helper()

	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	script := p2wpkhScript(priv.PubKey())
	scriptHex := hex.EncodeToString(script)

	outpoint := domain.Outpoint{Txid: mkTxid(seed), VOut: 0}
	oracle.utxos[outpoint] = &domain.Utxo{
		Outpoint:      outpoint,
		Value:         value,
		Script:        scriptHex,
		Confirmations: 6,
		ScriptKind:    domain.ScriptKindP2WPKH,
	}

	pub := coordinator.blindSigner.PublicKey()
	blindedHex, r := blindDigest(t, bobScript, pub.N, int64(pub.E))

	proofDigest := signedMessageDigest(blindedHex)
	proof := ecdsa.SignCompact(priv, proofDigest, true)

	resp, err := coordinator.RegisterAlice(context.Background(), RegisterAliceRequest{
		BlindedOutputHex: blindedHex,
		ChangeScript:     scriptHex,
		Inputs: []InputRef{
			{Outpoint: outpoint, Value: value, Script: scriptHex, Proof: proof},
		},
	})
	require.NoError(t, err)

	unblinded := unblind(resp.BlindedSignature, r, pub.N)
	require.True(t, coordinator.blindSigner.VerifyUnblinded(bobScript, unblinded))

	return &testAlice{
		priv:      priv,
		outpoint:  outpoint,
		value:     value,
		scriptHex: scriptHex,
		uniqueID:  resp.UniqueID,
		unblinded: unblinded,
		bobScript: bobScript,
	}
}

// signWitness signs a's input in tx. participants must cover every input of
// tx, since the BIP143 sighash midstate is computed over all prevouts.
func signWitness(t *testing.T, tx *wire.MsgTx, a *testAlice, participants []*testAlice) domain.InputSignature {
	t.Helper()

	var idx = -1
	for i, in := range tx.TxIn {
		if in.PreviousOutPoint.Hash.String() == a.outpoint.Txid && in.PreviousOutPoint.Index == a.outpoint.VOut {
			idx = i
			break
		}
	}
	require.GreaterOrEqual(t, idx, 0)

	pkHash := btcutil.Hash160(a.priv.PubKey().SerializeCompressed())
	scriptCode, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_DUP).
		AddOp(txscript.OP_HASH160).
		AddData(pkHash).
		AddOp(txscript.OP_EQUALVERIFY).
		AddOp(txscript.OP_CHECKSIG).
		Script()
	require.NoError(t, err)

	prevOuts := txscript.NewMultiPrevOutFetcher(nil)
	for _, p := range participants {
		script, err := hex.DecodeString(p.scriptHex)
		require.NoError(t, err)
		hash, err := chainhash.NewHashFromStr(p.outpoint.Txid)
		require.NoError(t, err)
		prevOuts.AddPrevOut(wire.OutPoint{Hash: *hash, Index: p.outpoint.VOut}, &wire.TxOut{Value: int64(p.value), PkScript: script})
	}
	sigHashes := txscript.NewTxSigHashes(tx, prevOuts)

	sigHash, err := txscript.CalcWitnessSigHash(scriptCode, sigHashes, txscript.SigHashAll, tx, idx, int64(a.value))
	require.NoError(t, err)

	sig := ecdsa.Sign(a.priv, sigHash)

	return domain.InputSignature{
		Outpoint:   a.outpoint,
		WitnessSig: sig.Serialize(),
		PubKey:     a.priv.PubKey().SerializeCompressed(),
	}
}

func TestCoordinatorHappyPathTwoAliceRound(t *testing.T) {
	signer, err := rsablind.New()
	require.NoError(t, err)
	oracle := newFakeChainOracle()

	cfg := DefaultConfig()
	cfg.AnonymitySet = 2
	cfg.Denomination = 100_000
	cfg.FeePerInput = 500
	cfg.FeePerOutput = 1_000

	coordinator := NewCoordinator(cfg, oracle, newFakeBanStore(), signer, btcwire.New(), noopScheduler{})

	bobPriv1, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	bobPriv2, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	bobScript1 := p2wpkhScript(bobPriv1.PubKey())
	bobScript2 := p2wpkhScript(bobPriv2.PubKey())

	networkFee := cfg.FeePerInput + 2*cfg.FeePerOutput
	inputValue := cfg.Denomination + networkFee + 10_000

	alice1 := registerTestAlice(t, coordinator, oracle, bobScript1, 0x01, inputValue)
	round := coordinator.CurrentInputRegisteringRound()

	round.RLock()
	phase := round.Phase
	round.RUnlock()
	require.Equal(t, domain.InputRegistration, phase)

	alice2 := registerTestAlice(t, coordinator, oracle, bobScript2, 0x02, inputValue)

	round.RLock()
	phase = round.Phase
	round.RUnlock()
	require.Equal(t, domain.ConnectionConfirmation, phase)

	result1, err := coordinator.ConfirmConnection(context.Background(), round.ID, alice1.uniqueID)
	require.NoError(t, err)
	require.Empty(t, result1.RoundHash)

	result2, err := coordinator.ConfirmConnection(context.Background(), round.ID, alice2.uniqueID)
	require.NoError(t, err)
	require.NotEmpty(t, result2.RoundHash)

	err = coordinator.RegisterBob(RegisterBobRequest{
		RoundHash:          result2.RoundHash,
		OutputScript:       hex.EncodeToString(bobScript1),
		UnblindedSignature: alice1.unblinded,
	})
	require.NoError(t, err)

	err = coordinator.RegisterBob(RegisterBobRequest{
		RoundHash:          result2.RoundHash,
		OutputScript:       hex.EncodeToString(bobScript2),
		UnblindedSignature: alice2.unblinded,
	})
	require.NoError(t, err)

	round.RLock()
	phase = round.Phase
	round.RUnlock()
	require.Equal(t, domain.Signing, phase)

	unsigned, err := coordinator.GetCoinJoin(round.ID, alice1.uniqueID)
	require.NoError(t, err)
	require.NotEmpty(t, unsigned.Hex)

	raw, err := hex.DecodeString(unsigned.Hex)
	require.NoError(t, err)
	tx := wire.NewMsgTx(wire.TxVersion)
	require.NoError(t, tx.Deserialize(bytes.NewReader(raw)))

	err = coordinator.PostSignatures(context.Background(), PostSignaturesRequest{
		RoundID:    round.ID,
		UniqueID:   alice1.uniqueID,
		Signatures: []domain.InputSignature{signWitness(t, tx, alice1, []*testAlice{alice1, alice2})},
	})
	require.NoError(t, err)

	round.RLock()
	phase = round.Phase
	status := round.Status
	round.RUnlock()
	require.Equal(t, domain.Signing, phase)
	require.Equal(t, domain.Running, status)

	err = coordinator.PostSignatures(context.Background(), PostSignaturesRequest{
		RoundID:    round.ID,
		UniqueID:   alice2.uniqueID,
		Signatures: []domain.InputSignature{signWitness(t, tx, alice2, []*testAlice{alice1, alice2})},
	})
	require.NoError(t, err)

	round.RLock()
	finalStatus := round.Status
	txid := round.Txid
	round.RUnlock()
	require.Equal(t, domain.Succeeded, finalStatus)
	require.NotEmpty(t, txid)
	require.Len(t, oracle.broadcasts, 1)
}
