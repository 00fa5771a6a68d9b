package ports

import (
	"time"

	"github.com/blindmix/coordinator/internal/core/domain"
)

// BanSeverity records why an outpoint got banned. Higher severity bans are
// never issued shorter than lower ones by the core, but a store is free to
// let an operator tune durations per level.
type BanSeverity int

const (
	// SeverityDroppedMidRound is used for an Alice who had an input found
	// spent at the close of connection confirmation, did not confirm before
	// the connection-confirmation deadline, or failed to sign.
	SeverityDroppedMidRound BanSeverity = 1
)

// BanStore tracks banned outpoints with an expiry. Persistence is an
// external concern; the core only needs the three operations below.
type BanStore interface {
	// Ban records that outpoint may not register again until until.
	Ban(outpoint domain.Outpoint, until time.Time, severity BanSeverity) error

	// IsBanned reports whether outpoint is presently banned, and if so how
	// many whole minutes remain. Expired entries are lazily evicted and
	// IsBanned returns false for them.
	IsBanned(outpoint domain.Outpoint, now time.Time) (minutesRemaining int, banned bool, err error)

	// Unban removes any ban recorded against outpoint.
	Unban(outpoint domain.Outpoint) error
}

// DefaultBanDuration is how long an outpoint stays banned, per spec.
const DefaultBanDuration = 30 * 24 * time.Hour
