// Package btcwire assembles and finalizes the CoinJoin transaction using
// btcd's raw wire types -- there is no covenant or taproot tree to build
// here, just one input per Alice coin and one denomination-valued output
// per Bob plus change.
package btcwire

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/blindmix/coordinator/internal/core/domain"
	"github.com/blindmix/coordinator/internal/core/ports"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

type builder struct{}

func New() ports.TxBuilder { return &builder{} }

func (b *builder) BuildUnsignedTx(alices []*domain.Alice, bobs []*domain.Bob, denomination uint64) (*domain.UnsignedTx, error) {
	tx := wire.NewMsgTx(wire.TxVersion)

	sortedAlices := append([]*domain.Alice{}, alices...)
	sort.Slice(sortedAlices, func(i, j int) bool { return sortedAlices[i].UniqueID < sortedAlices[j].UniqueID })

	sortedBobs := append([]*domain.Bob{}, bobs...)
	sort.Slice(sortedBobs, func(i, j int) bool { return sortedBobs[i].OutputScript < sortedBobs[j].OutputScript })

	for _, a := range sortedAlices {
		for _, coin := range a.Inputs {
			hash, err := chainhash.NewHashFromStr(coin.Outpoint.Txid)
			if err != nil {
				return nil, fmt.Errorf("invalid outpoint %s: %w", coin.Outpoint, err)
			}
			tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(hash, coin.Outpoint.VOut), nil, nil))
		}
	}

	for _, bob := range sortedBobs {
		script, err := hex.DecodeString(bob.OutputScript)
		if err != nil {
			return nil, fmt.Errorf("invalid output script: %w", err)
		}
		tx.AddTxOut(wire.NewTxOut(int64(denomination), script))
	}

	for _, a := range sortedAlices {
		change := int64(a.TotalInputAmount()) - int64(denomination) - int64(a.NetworkFeeOwed)
		if change <= 0 {
			continue
		}
		script, err := hex.DecodeString(a.ChangeScript)
		if err != nil {
			return nil, fmt.Errorf("invalid change script: %w", err)
		}
		tx.AddTxOut(wire.NewTxOut(change, script))
	}

	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return nil, fmt.Errorf("serialize unsigned tx: %w", err)
	}

	return &domain.UnsignedTx{
		Txid: tx.TxHash().String(),
		Hex:  hex.EncodeToString(buf.Bytes()),
	}, nil
}

func (b *builder) Finalize(unsignedTxHex string, alices []*domain.Alice, signatures map[string][]domain.InputSignature) (string, string, error) {
	raw, err := hex.DecodeString(unsignedTxHex)
	if err != nil {
		return "", "", fmt.Errorf("invalid unsigned tx hex: %w", err)
	}
	tx := wire.NewMsgTx(wire.TxVersion)
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return "", "", fmt.Errorf("decode unsigned tx: %w", err)
	}

	inputIndex := make(map[domain.Outpoint]int, len(tx.TxIn))
	for i, in := range tx.TxIn {
		inputIndex[domain.Outpoint{Txid: in.PreviousOutPoint.Hash.String(), VOut: in.PreviousOutPoint.Index}] = i
	}

	for _, a := range alices {
		sigs, ok := signatures[a.UniqueID]
		if !ok {
			return "", "", fmt.Errorf("missing signatures for alice %s", a.UniqueID)
		}
		for _, sig := range sigs {
			idx, ok := inputIndex[sig.Outpoint]
			if !ok {
				return "", "", fmt.Errorf("signature for unknown input %s", sig.Outpoint)
			}
			witnessSig := append(append([]byte{}, sig.WitnessSig...), byte(txscript.SigHashAll))
			tx.TxIn[idx].Witness = wire.TxWitness{witnessSig, sig.PubKey}
		}
	}

	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return "", "", fmt.Errorf("serialize final tx: %w", err)
	}
	return hex.EncodeToString(buf.Bytes()), tx.TxHash().String(), nil
}
