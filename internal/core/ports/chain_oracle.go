package ports

import (
	"context"
	"errors"

	"github.com/blindmix/coordinator/internal/core/domain"
)

// ErrUtxoNotFound is returned by ChainOracle.GetTxOut when the outpoint is
// neither confirmed nor (if requested) sitting in the mempool.
var ErrUtxoNotFound = errors.New("utxo not found")

// ChainOracle is the abstract view of the Bitcoin network the round state
// machine needs. A concrete implementation talks to a full node (or a
// neutrino light client); the core never assumes which.
type ChainOracle interface {
	// GetTxOut looks up the current state of an outpoint. includeMempool
	// also considers unconfirmed outputs. Returns ErrUtxoNotFound if the
	// output doesn't exist or is already spent.
	GetTxOut(ctx context.Context, outpoint domain.Outpoint, includeMempool bool) (*domain.Utxo, error)

	// ContainsCoinJoin reports whether txHash belongs to a transaction this
	// coordinator (or a federation it trusts) previously produced.
	ContainsCoinJoin(ctx context.Context, txHash string) (bool, error)

	// UnconfirmedCoinJoinCount returns how many coordinated CoinJoins are
	// currently sitting unconfirmed in the mempool.
	UnconfirmedCoinJoinCount(ctx context.Context) (int, error)

	// Broadcast submits tx to the network.
	Broadcast(ctx context.Context, txHex string) error

	// MarkCoinJoin records that txHash was produced by this coordinator, so
	// future ContainsCoinJoin/UnconfirmedCoinJoinCount calls can recognize
	// inputs that spend it.
	MarkCoinJoin(ctx context.Context, txHash string) error
}
