package ports

import "github.com/blindmix/coordinator/internal/core/domain"

// TxBuilder assembles the unsigned CoinJoin transaction once a round's Bob
// set is frozen, and later finalizes it once every Alice's witnesses are in.
type TxBuilder interface {
	// BuildUnsignedTx lays out one input per Alice coin and one output per
	// Bob plus every Alice's change, at the round's fixed denomination.
	BuildUnsignedTx(alices []*domain.Alice, bobs []*domain.Bob, denomination uint64) (*domain.UnsignedTx, error)

	// Finalize attaches every Alice's collected witnesses to the unsigned
	// transaction and returns the final, broadcastable hex.
	Finalize(unsignedTxHex string, alices []*domain.Alice, signatures map[string][]domain.InputSignature) (txHex, txid string, err error)
}
