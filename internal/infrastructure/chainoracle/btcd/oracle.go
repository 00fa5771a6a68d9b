// Package btcdoracle implements ports.ChainOracle against a btcd (or
// bitcoind-in-btcd-mode) full node over JSON-RPC.
package btcdoracle

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"

	"github.com/blindmix/coordinator/internal/core/domain"
	"github.com/blindmix/coordinator/internal/core/ports"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/wire"
)

// Config dials a single full node. TLS is expected to be configured at the
// node; Cert, when non-empty, pins the node's self-signed certificate.
type Config struct {
	Host string
	User string
	Pass string
	Cert []byte

	// DataDir is where the coinjoin index is persisted; empty opens it
	// in-memory, for tests.
	DataDir string
}

type oracle struct {
	client    *rpcclient.Client
	coinjoins *coinjoinIndex
}

// New dials cfg.Host and returns a ready ChainOracle.
func New(cfg Config) (ports.ChainOracle, error) {
	connCfg := &rpcclient.ConnConfig{
		Host:         cfg.Host,
		User:         cfg.User,
		Pass:         cfg.Pass,
		Certificates: cfg.Cert,
		HTTPPostMode: true,
		DisableTLS:   len(cfg.Cert) == 0,
	}
	client, err := rpcclient.New(connCfg, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to chain node: %w", err)
	}

	idx, err := newCoinJoinIndex(cfg.DataDir, nil)
	if err != nil {
		return nil, err
	}

	return &oracle{client: client, coinjoins: idx}, nil
}

func (o *oracle) GetTxOut(ctx context.Context, outpoint domain.Outpoint, includeMempool bool) (*domain.Utxo, error) {
	hash, err := chainhash.NewHashFromStr(outpoint.Txid)
	if err != nil {
		return nil, fmt.Errorf("invalid outpoint txid %s: %w", outpoint.Txid, err)
	}

	result, err := o.client.GetTxOut(hash, outpoint.VOut, includeMempool)
	if err != nil {
		return nil, fmt.Errorf("gettxout rpc failed for %s: %w", outpoint, err)
	}
	if result == nil {
		return nil, ports.ErrUtxoNotFound
	}

	valueSat := int64(result.Value*1e8 + 0.5)

	return &domain.Utxo{
		Outpoint:      outpoint,
		Value:         uint64(valueSat),
		Script:        result.ScriptPubKey.Hex,
		Confirmations: result.Confirmations,
		IsCoinbase:    result.Coinbase,
		ScriptKind:    domain.ScriptKind(result.ScriptPubKey.Type),
	}, nil
}

func (o *oracle) ContainsCoinJoin(ctx context.Context, txHash string) (bool, error) {
	return o.coinjoins.contains(txHash)
}

func (o *oracle) UnconfirmedCoinJoinCount(ctx context.Context) (int, error) {
	known, err := o.coinjoins.all()
	if err != nil {
		return 0, err
	}
	if len(known) == 0 {
		return 0, nil
	}

	mempoolTxids, err := o.client.GetRawMempool()
	if err != nil {
		return 0, fmt.Errorf("getrawmempool rpc failed: %w", err)
	}
	inMempool := make(map[string]struct{}, len(mempoolTxids))
	for _, h := range mempoolTxids {
		inMempool[h.String()] = struct{}{}
	}

	count := 0
	for _, txid := range known {
		if _, ok := inMempool[txid]; ok {
			count++
		}
	}
	return count, nil
}

func (o *oracle) Broadcast(ctx context.Context, txHex string) error {
	raw, err := hex.DecodeString(txHex)
	if err != nil {
		return fmt.Errorf("invalid transaction hex: %w", err)
	}
	tx := wire.NewMsgTx(wire.TxVersion)
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return fmt.Errorf("undecodable transaction: %w", err)
	}
	if _, err := o.client.SendRawTransaction(tx, false); err != nil {
		return fmt.Errorf("sendrawtransaction rpc failed: %w", err)
	}
	return nil
}

func (o *oracle) MarkCoinJoin(ctx context.Context, txHash string) error {
	return o.coinjoins.mark(txHash)
}
