package application

import (
	"encoding/hex"

	"github.com/blindmix/coordinator/internal/core/domain"
)

// RegisterBob implements register_bob. It holds the coordinator-wide
// outputLock for the whole call so two concurrent Bobs can never both
// observe room for one more seat and both be admitted.
func (c *Coordinator) RegisterBob(req RegisterBobRequest) error {
	if req.OutputScript == "" {
		return domain.NewRejection(domain.KindInvalidRequest, "output_script is required")
	}
	scriptBytes, err := hex.DecodeString(req.OutputScript)
	if err != nil {
		return domain.NewRejection(domain.KindInvalidRequest, "malformed output_script: %s", err)
	}

	round, ok := c.TryGetRoundByHash(req.RoundHash)
	if !ok {
		return domain.NewRejection(domain.KindNotFound, "round with hash %s not found", req.RoundHash)
	}

	c.outputLock.Lock()
	defer c.outputLock.Unlock()

	round.Lock()
	defer round.Unlock()

	if round.Phase != domain.OutputRegistration || round.Status != domain.Running {
		return domain.NewRejection(domain.KindPhaseMismatch, "round %d is not registering outputs", round.ID)
	}

	if !c.blindSigner.VerifyUnblinded(scriptBytes, req.UnblindedSignature) {
		return domain.NewRejection(domain.KindInvalidProof, "unblinded signature does not verify against the coordinator's key")
	}

	bob := &domain.Bob{OutputScript: req.OutputScript, Signature: req.UnblindedSignature}
	if err := round.RegisterBob(bob); err != nil {
		return err
	}
	c.publish(round.Events())

	if round.BobCount() == round.AnonymitySet {
		return c.closeOutputRegistration(round)
	}
	return nil
}

// closeOutputRegistration builds the unsigned transaction and advances the
// round to Signing. Callers must hold round's lock.
func (c *Coordinator) closeOutputRegistration(round *domain.Round) error {
	alices := make([]*domain.Alice, 0, round.AliceCount())
	for _, a := range round.Alices {
		alices = append(alices, a)
	}
	bobs := make([]*domain.Bob, 0, round.BobCount())
	for _, b := range round.Bobs {
		bobs = append(bobs, b)
	}

	tx, err := c.txBuilder.BuildUnsignedTx(alices, bobs, round.Params.Denomination)
	if err != nil {
		c.failRound(round, "failed to build unsigned transaction: "+err.Error())
		return domain.NewRejection(domain.KindFatal, "failed to build unsigned transaction: %s", err)
	}

	if err := round.AdvanceToSigning(tx); err != nil {
		c.failRound(round, "fatal: "+err.Error())
		return err
	}
	c.publish(round.Events())
	c.scheduleDeadline(round, round.PhaseDeadline, round.Phase)
	return nil
}
