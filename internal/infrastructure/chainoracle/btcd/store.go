package btcdoracle

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/timshannon/badgerhold/v4"
)

const coinjoinStoreDir = "coinjoins"

// coinjoinRecord marks a txid this coordinator itself produced.
type coinjoinRecord struct {
	Txid     string
	MarkedAt time.Time
}

// coinjoinIndex is the persisted complement to the full node: bitcoind has
// no notion of "a coinjoin this coordinator produced", so the oracle keeps
// its own small badgerhold-backed set of txids alongside the RPC client.
type coinjoinIndex struct {
	db *badgerhold.Store
}

func newCoinJoinIndex(baseDir string, logger badger.Logger) (*coinjoinIndex, error) {
	var dir string
	if len(baseDir) > 0 {
		dir = filepath.Join(baseDir, coinjoinStoreDir)
	}
	opts := badger.DefaultOptions(dir)
	opts.Logger = logger
	if len(dir) == 0 {
		opts.InMemory = true
	} else {
		opts.Compression = options.ZSTD
	}
	db, err := badgerhold.Open(badgerhold.Options{
		Encoder: badgerhold.DefaultEncode,
		Decoder: badgerhold.DefaultDecode,
		Options: opts,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open coinjoin index: %w", err)
	}
	return &coinjoinIndex{db: db}, nil
}

func (idx *coinjoinIndex) mark(txid string) error {
	return idx.db.Upsert(txid, coinjoinRecord{Txid: txid, MarkedAt: time.Now()})
}

func (idx *coinjoinIndex) contains(txid string) (bool, error) {
	var rec coinjoinRecord
	err := idx.db.Get(txid, &rec)
	if err == badgerhold.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up coinjoin %s: %w", txid, err)
	}
	return true, nil
}

func (idx *coinjoinIndex) all() ([]string, error) {
	var recs []coinjoinRecord
	if err := idx.db.Find(&recs, nil); err != nil {
		return nil, fmt.Errorf("failed to list coinjoins: %w", err)
	}
	txids := make([]string, 0, len(recs))
	for _, r := range recs {
		txids = append(txids, r.Txid)
	}
	return txids, nil
}
