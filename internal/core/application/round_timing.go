package application

import (
	"context"
	"sync"
	"time"

	"github.com/blindmix/coordinator/internal/core/domain"
)

// maxInputRegistrationExtensions bounds how many times a round stuck below
// two Alices gets its InputRegistration deadline pushed back before the
// coordinator gives up on it and fails it.
const maxInputRegistrationExtensions = 6

// idleAliceHeartbeatWindow is how long an Alice can go without a
// confirm_connection heartbeat during InputRegistration before she is
// considered idle and evicted on timeout.
const idleAliceHeartbeatWindow = 2 * time.Minute

type extensionTracker struct {
	mu         sync.Mutex
	extensions map[int64]int
}

func newExtensionTracker() *extensionTracker {
	return &extensionTracker{extensions: make(map[int64]int)}
}

func (t *extensionTracker) bump(roundID int64) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.extensions[roundID]++
	return t.extensions[roundID]
}

func (t *extensionTracker) clear(roundID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.extensions, roundID)
}

// scheduleDeadline schedules a one-shot task for round's phase deadline.
// The task re-validates that the round is still in the phase it was
// scheduled for before acting, since a concurrent request may have already
// advanced it. Callers pass the deadline/phase they read under round's lock
// -- scheduleDeadline never locks round itself, since every caller except
// openRoundAndScheduleDeadline calls it from inside a section that already
// holds round.Lock(), and sync.RWMutex is not reentrant.
func (c *Coordinator) scheduleDeadline(round *domain.Round, deadline time.Time, phase domain.Phase) {
	if err := c.scheduler.ScheduleTaskOnce(deadline, func() {
		c.onRoundDeadline(round, phase)
	}); err != nil {
		c.log.WithField("round_id", round.ID).WithError(err).Error("failed to schedule phase deadline")
	}
}

// onRoundDeadline fires when the timer set for round's scheduledPhase
// expires. It is a no-op if the round has since moved on.
func (c *Coordinator) onRoundDeadline(round *domain.Round, scheduledPhase domain.Phase) {
	round.Lock()
	defer round.Unlock()

	if round.Status != domain.Running || round.Phase != scheduledPhase {
		return
	}
	if time.Now().Before(round.PhaseDeadline) {
		return
	}

	ctx := context.Background()

	switch scheduledPhase {
	case domain.InputRegistration:
		c.onInputRegistrationTimeout(round)
	case domain.ConnectionConfirmation:
		c.onConnectionConfirmationTimeout(ctx, round)
	case domain.OutputRegistration:
		c.onOutputRegistrationTimeout(round)
	case domain.Signing:
		c.onSigningTimeout(round)
	}
}

func (c *Coordinator) onInputRegistrationTimeout(round *domain.Round) {
	cutoff := time.Now().Add(-idleAliceHeartbeatWindow)
	for _, id := range round.IdleAlices(cutoff) {
		round.EvictAlice(id, "idle during input registration")
	}

	if round.AliceCount() >= 2 {
		c.inputExtensions.clear(round.ID)
		if err := round.AdvanceToConnectionConfirmation(); err != nil {
			c.log.WithField("round_id", round.ID).WithError(err).Error("failed to advance on input registration timeout")
			return
		}
		c.publish(round.Events())
		c.scheduleDeadline(round, round.PhaseDeadline, round.Phase)
		return
	}

	if c.inputExtensions.bump(round.ID) > maxInputRegistrationExtensions {
		c.inputExtensions.clear(round.ID)
		c.failRound(round, "input registration timed out with too few participants")
		return
	}

	round.PhaseDeadline = time.Now().Add(round.Params.AliceRegistrationTimeout)
	c.scheduleDeadline(round, round.PhaseDeadline, round.Phase)
}

func (c *Coordinator) onConnectionConfirmationTimeout(ctx context.Context, round *domain.Round) {
	for id, alice := range snapshotAlices(round) {
		if alice.State != domain.ConnectionConfirmed {
			if evicted, ok := round.EvictAlice(id, "did not confirm connection before deadline"); ok {
				c.banOutpoints(evicted.Outpoints())
			}
		}
	}

	if round.AliceCount() < 2 {
		c.failRound(round, "fewer than two alices confirmed connection before deadline")
		return
	}

	c.closeConnectionConfirmation(ctx, round)
}

func (c *Coordinator) onOutputRegistrationTimeout(round *domain.Round) {
	if round.BobCount() < round.AnonymitySet {
		c.failRound(round, "output registration timed out before the anonymity set of bobs registered")
		return
	}
}

func (c *Coordinator) onSigningTimeout(round *domain.Round) {
	for _, id := range round.MissingSignatures() {
		if alice, ok := round.Alice(id); ok {
			c.banOutpoints(alice.Outpoints())
		}
	}
	c.failRound(round, "signing timed out before every alice submitted her signatures")
}
