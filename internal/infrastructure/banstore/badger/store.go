// Package badgerbanstore persists banned outpoints in an embedded badger
// database via badgerhold, the same storage stack the rest of the
// coordinator's infrastructure layer uses.
package badgerbanstore

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/blindmix/coordinator/internal/core/domain"
	"github.com/blindmix/coordinator/internal/core/ports"
	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/timshannon/badgerhold/v4"
)

const storeDir = "bans"

// banRecord is the persisted shape of a single ban, keyed by the outpoint's
// string form.
type banRecord struct {
	Txid     string
	VOut     uint32
	Until    time.Time
	Severity ports.BanSeverity
}

type store struct {
	db *badgerhold.Store
}

// New opens (or creates) a badger-backed ban store under baseDir. An empty
// baseDir opens an in-memory store, useful for tests.
func New(baseDir string, logger badger.Logger) (ports.BanStore, error) {
	var dir string
	if len(baseDir) > 0 {
		dir = filepath.Join(baseDir, storeDir)
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
		return nil, fmt.Errorf("failed to open ban store: %w", err)
	}
	return &store{db: db}, nil
}

func key(o domain.Outpoint) string { return o.String() }

func (s *store) Ban(outpoint domain.Outpoint, until time.Time, severity ports.BanSeverity) error {
	rec := banRecord{Txid: outpoint.Txid, VOut: outpoint.VOut, Until: until, Severity: severity}
	if err := s.db.Upsert(key(outpoint), rec); err != nil {
		return fmt.Errorf("failed to record ban for %s: %w", outpoint, err)
	}
	return nil
}

func (s *store) IsBanned(outpoint domain.Outpoint, now time.Time) (int, bool, error) {
	var rec banRecord
	err := s.db.Get(key(outpoint), &rec)
	if err == badgerhold.ErrNotFound {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to look up ban for %s: %w", outpoint, err)
	}

	if !rec.Until.After(now) {
		if err := s.db.Delete(key(outpoint), &banRecord{}); err != nil && err != badgerhold.ErrNotFound {
			return 0, false, fmt.Errorf("failed to evict expired ban for %s: %w", outpoint, err)
		}
		return 0, false, nil
	}

	minutesRemaining := int(rec.Until.Sub(now) / time.Minute)
	if minutesRemaining < 1 {
		minutesRemaining = 1
	}
	return minutesRemaining, true, nil
}

func (s *store) Unban(outpoint domain.Outpoint) error {
	err := s.db.Delete(key(outpoint), &banRecord{})
	if err != nil && err != badgerhold.ErrNotFound {
		return fmt.Errorf("failed to unban %s: %w", outpoint, err)
	}
	return nil
}
