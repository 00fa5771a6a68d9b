package application

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/blindmix/coordinator/internal/core/domain"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// GetCoinJoin implements get_coinjoin: once Signing is entered, every Alice
// can fetch the unsigned transaction to sign her own inputs against.
func (c *Coordinator) GetCoinJoin(roundID int64, uniqueID string) (*domain.UnsignedTx, error) {
	round, ok := c.TryGetRound(roundID)
	if !ok {
		return nil, domain.NewRejection(domain.KindNotFound, "round %d not found", roundID)
	}

	round.RLock()
	defer round.RUnlock()

	if _, ok := round.Alice(uniqueID); !ok {
		return nil, domain.NewRejection(domain.KindNotFound, "alice %s not found in round %d", uniqueID, round.ID)
	}
	if round.Phase != domain.Signing || round.UnsignedTx == nil {
		return nil, domain.NewRejection(domain.KindPhaseMismatch, "round %d has not entered signing yet", round.ID)
	}
	return round.UnsignedTx, nil
}

// PostSignatures implements post_signatures: Signing phase only, verifies
// every witness signature against the script it claims to unlock before
// recording it, then broadcasts once every Alice has submitted.
func (c *Coordinator) PostSignatures(ctx context.Context, req PostSignaturesRequest) error {
	round, ok := c.TryGetRound(req.RoundID)
	if !ok {
		return domain.NewRejection(domain.KindNotFound, "round %d not found", req.RoundID)
	}

	round.Lock()
	defer round.Unlock()

	if round.Phase != domain.Signing || round.Status != domain.Running {
		return domain.NewRejection(domain.KindPhaseMismatch, "round %d is not in signing", round.ID)
	}
	alice, ok := round.Alice(req.UniqueID)
	if !ok {
		return domain.NewRejection(domain.KindNotFound, "alice %s not found in round %d", req.UniqueID, round.ID)
	}

	if err := verifySignaturesAgainstInputs(round.UnsignedTx, round.Alices, alice, req.Signatures); err != nil {
		return err
	}

	if err := round.RecordSignatures(req.UniqueID, req.Signatures); err != nil {
		return err
	}

	if round.AllSigned() {
		return c.finalizeAndBroadcast(ctx, round)
	}
	return nil
}

// verifySignaturesAgainstInputs checks that sigs covers exactly alice's own
// inputs and that each witness signature validates against the unsigned
// transaction's sighash for that input. roundAlices supplies the prevouts of
// every input in the transaction, which the sighash midstate needs.
func verifySignaturesAgainstInputs(unsignedTx *domain.UnsignedTx, roundAlices map[string]*domain.Alice, alice *domain.Alice, sigs []domain.InputSignature) error {
	if unsignedTx == nil {
		return domain.NewRejection(domain.KindFatal, "round has no unsigned transaction yet")
	}
	if len(sigs) != len(alice.Inputs) {
		return domain.NewRejection(domain.KindInvalidRequest, "expected %d signatures, got %d", len(alice.Inputs), len(sigs))
	}

	raw, err := hex.DecodeString(unsignedTx.Hex)
	if err != nil {
		return domain.NewRejection(domain.KindFatal, "malformed unsigned tx hex: %s", err)
	}
	tx := wire.NewMsgTx(wire.TxVersion)
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return domain.NewRejection(domain.KindFatal, "undecodable unsigned tx: %s", err)
	}

	prevOuts := txscript.NewMultiPrevOutFetcher(nil)
	inputIndex := make(map[domain.Outpoint]int, len(tx.TxIn))
	for i, in := range tx.TxIn {
		inputIndex[domain.Outpoint{Txid: in.PreviousOutPoint.Hash.String(), VOut: in.PreviousOutPoint.Index}] = i
	}

	coinByOutpoint := make(map[domain.Outpoint]domain.Coin, len(alice.Inputs))
	for _, coin := range alice.Inputs {
		coinByOutpoint[coin.Outpoint] = coin
	}
	for _, a := range roundAlices {
		for _, coin := range a.Inputs {
			script, err := hex.DecodeString(coin.Script)
			if err != nil {
				return domain.NewRejection(domain.KindFatal, "malformed stored script for %s: %s", coin.Outpoint, err)
			}
			hash, err := chainhash.NewHashFromStr(coin.Outpoint.Txid)
			if err != nil {
				return domain.NewRejection(domain.KindFatal, "malformed stored outpoint %s: %s", coin.Outpoint, err)
			}
			prevOuts.AddPrevOut(wire.OutPoint{Hash: *hash, Index: coin.Outpoint.VOut}, &wire.TxOut{Value: int64(coin.Value), PkScript: script})
		}
	}

	sigHashes := txscript.NewTxSigHashes(tx, prevOuts)

	for _, sig := range sigs {
		coin, ok := coinByOutpoint[sig.Outpoint]
		if !ok {
			return domain.NewRejection(domain.KindInvalidRequest, "signature for %s is not one of alice's inputs", sig.Outpoint)
		}
		idx, ok := inputIndex[sig.Outpoint]
		if !ok {
			return domain.NewRejection(domain.KindFatal, "outpoint %s not present in unsigned tx", sig.Outpoint)
		}
		if err := verifyWitnessSignature(tx, sigHashes, idx, int64(coin.Value), sig.WitnessSig, sig.PubKey); err != nil {
			return err
		}
	}
	return nil
}

// verifyWitnessSignature checks sig/pubKey against the BIP143 witness
// sighash for a native P2WPKH input at idx. sig is the bare DER signature
// submitted by Alice, with no sighash-type byte; the builder appends that
// byte separately when it assembles the broadcast witness.
func verifyWitnessSignature(tx *wire.MsgTx, sigHashes *txscript.TxSigHashes, idx int, amount int64, sig, pubKeyBytes []byte) error {
	pubKey, err := btcec.ParsePubKey(pubKeyBytes)
	if err != nil {
		return domain.NewRejection(domain.KindInvalidProof, "malformed public key: %s", err)
	}

	pkHash := btcutil.Hash160(pubKeyBytes)
	scriptCode, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_DUP).
		AddOp(txscript.OP_HASH160).
		AddData(pkHash).
		AddOp(txscript.OP_EQUALVERIFY).
		AddOp(txscript.OP_CHECKSIG).
		Script()
	if err != nil {
		return domain.NewRejection(domain.KindFatal, "failed to build script code: %s", err)
	}

	hash, err := txscript.CalcWitnessSigHash(scriptCode, sigHashes, txscript.SigHashAll, tx, idx, amount)
	if err != nil {
		return domain.NewRejection(domain.KindFatal, fmt.Sprintf("sighash computation failed: %s", err))
	}

	parsedSig, err := ecdsa.ParseDERSignature(sig)
	if err != nil {
		return domain.NewRejection(domain.KindInvalidProof, "malformed witness signature: %s", err)
	}
	if !parsedSig.Verify(hash, pubKey) {
		return domain.NewRejection(domain.KindInvalidProof, "witness signature does not verify")
	}
	return nil
}

// finalizeAndBroadcast assembles the final transaction from every Alice's
// witnesses and broadcasts it, marking the round Succeeded. Callers must
// hold round's lock.
func (c *Coordinator) finalizeAndBroadcast(ctx context.Context, round *domain.Round) error {
	alices := make([]*domain.Alice, 0, round.AliceCount())
	for _, a := range round.Alices {
		alices = append(alices, a)
	}

	txHex, txid, err := c.txBuilder.Finalize(round.UnsignedTx.Hex, alices, round.PartialSignatures)
	if err != nil {
		c.failRound(round, "failed to finalize transaction: "+err.Error())
		return domain.NewRejection(domain.KindFatal, "failed to finalize transaction: %s", err)
	}

	rpcCtx, cancel := withTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := c.chainOracle.Broadcast(rpcCtx, txHex); err != nil {
		c.failRound(round, "broadcast failed: "+err.Error())
		return domain.NewRejection(domain.KindTransient, "broadcast failed: %s", err)
	}

	return c.succeedRound(ctx, round, txid)
}
