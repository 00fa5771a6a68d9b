package domain

import "fmt"

// Outpoint identifies a single spendable Bitcoin transaction output.
type Outpoint struct {
	Txid string
	VOut uint32
}

func (o Outpoint) String() string {
	return fmt.Sprintf("%s:%d", o.Txid, o.VOut)
}

// ScriptKind classifies the scriptPubKey of a UTXO as reported by the chain oracle.
type ScriptKind string

const (
	ScriptKindP2WPKH   ScriptKind = "witness_v0_keyhash"
	ScriptKindP2WSH    ScriptKind = "witness_v0_scripthash"
	ScriptKindP2PKH    ScriptKind = "pubkeyhash"
	ScriptKindP2SH     ScriptKind = "scripthash"
	ScriptKindP2TR     ScriptKind = "witness_v1_taproot"
	ScriptKindUnknown  ScriptKind = "nonstandard"
)

// Utxo is the chain oracle's view of a single output, confirmed or in the mempool.
type Utxo struct {
	Outpoint      Outpoint
	Value         uint64
	Script        string
	Confirmations int64
	IsCoinbase    bool
	ScriptKind    ScriptKind
}

// CoinbaseMaturity is the number of confirmations a coinbase output needs before it can fund a round.
const CoinbaseMaturity = 100
