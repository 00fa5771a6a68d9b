package application

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"time"

	"github.com/blindmix/coordinator/internal/core/domain"
	"github.com/blindmix/coordinator/internal/core/ports"
)

// ConfirmConnection implements confirm_connection. During InputRegistration
// it is just a heartbeat; during ConnectionConfirmation it marks the Alice
// confirmed and, once every remaining Alice has confirmed, evicts dropouts,
// bans their outpoints, and either advances the round or fails it.
func (c *Coordinator) ConfirmConnection(ctx context.Context, roundID int64, uniqueID string) (*ConfirmConnectionResult, error) {
	round, ok := c.TryGetRound(roundID)
	if !ok {
		return nil, domain.NewRejection(domain.KindNotFound, "round %d not found", roundID)
	}

	round.Lock()
	defer round.Unlock()

	switch round.Phase {
	case domain.InputRegistration:
		if err := round.TouchAlice(uniqueID); err != nil {
			return nil, err
		}
		return &ConfirmConnectionResult{}, nil

	case domain.ConnectionConfirmation:
		if err := round.ConfirmAlice(uniqueID); err != nil {
			return nil, err
		}
		if round.AllConfirmed() {
			c.closeConnectionConfirmation(ctx, round)
		}
		return &ConfirmConnectionResult{RoundHash: round.RoundHash}, nil

	default:
		return nil, domain.NewRejection(domain.KindPhaseMismatch, "round %d is not accepting confirmations", round.ID)
	}
}

// UnregisterAlice implements unregister_alice: InputRegistration only, no
// penalty.
func (c *Coordinator) UnregisterAlice(roundID int64, uniqueID string) error {
	round, ok := c.TryGetRound(roundID)
	if !ok {
		return domain.NewRejection(domain.KindNotFound, "round %d not found", roundID)
	}

	round.Lock()
	defer round.Unlock()

	if err := round.UnregisterAlice(uniqueID); err != nil {
		return err
	}
	c.publish(round.Events())
	return nil
}

// closeConnectionConfirmation runs the "all confirmed" branch of
// confirm_connection: evict Alices whose inputs are now spent, ban their
// outpoints at severity 1, then either fail the round (fewer than two
// Alices remain) or freeze the anonymity set and advance. Callers must hold
// round's lock.
func (c *Coordinator) closeConnectionConfirmation(ctx context.Context, round *domain.Round) {
	rpcCtx, cancel := withTimeout(ctx, 5*time.Second)
	defer cancel()

	for id, alice := range snapshotAlices(round) {
		for _, o := range alice.Outpoints() {
			if _, err := c.chainOracle.GetTxOut(rpcCtx, o, true); err != ports.ErrUtxoNotFound {
				continue
			}
			evicted, ok := round.EvictAlice(id, "input spent before connection confirmation completed")
			if ok {
				c.banOutpoints(evicted.Outpoints())
			}
			break
		}
	}

	if round.AliceCount() < 2 {
		c.failRound(round, "fewer than two alices remained after connection confirmation dropouts")
		return
	}

	confirmedSet := round.AliceCount()
	roundHash := computeRoundHash(round, confirmedSet)
	if err := round.AdvanceToOutputRegistration(confirmedSet, roundHash); err != nil {
		c.log.WithField("round_id", round.ID).WithError(err).Error("failed to advance to output registration")
		c.failRound(round, "fatal: "+err.Error())
		return
	}
	c.indexRoundHash(round)
	c.publish(round.Events())
	c.scheduleDeadline(round, round.PhaseDeadline, round.Phase)
}

func (c *Coordinator) banOutpoints(outpoints []domain.Outpoint) {
	until := time.Now().Add(c.cfg.BanDuration)
	for _, o := range outpoints {
		if err := c.banStore.Ban(o, until, ports.SeverityDroppedMidRound); err != nil {
			c.log.WithField("outpoint", o.String()).WithError(err).Warn("failed to record ban")
		}
	}
}

// computeRoundHash binds the output-registration window to this specific
// round instance: its id, denomination, and the (possibly shrunk) anonymity
// set it enters OutputRegistration with. Bobs present this hash back when registering
// so a signature requested in one round can't be replayed into another.
func computeRoundHash(round *domain.Round, anonymitySet int) string {
	h := sha256.New()
	var idBuf [8]byte
	binary.BigEndian.PutUint64(idBuf[:], uint64(round.ID))
	h.Write(idBuf[:])

	var denomBuf [8]byte
	binary.BigEndian.PutUint64(denomBuf[:], round.Params.Denomination)
	h.Write(denomBuf[:])

	var setBuf [4]byte
	binary.BigEndian.PutUint32(setBuf[:], uint32(anonymitySet))
	h.Write(setBuf[:])

	return hex.EncodeToString(h.Sum(nil))
}
