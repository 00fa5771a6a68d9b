package application

import (
	"context"
	"encoding/hex"
	"time"

	"github.com/blindmix/coordinator/internal/core/domain"
	"github.com/blindmix/coordinator/internal/core/ports"
	"github.com/google/uuid"
)

// RegisterAlice admits a new input-side participant into whichever round is
// presently accepting inputs, following the validation order the design
// lays out step by step. It holds the coordinator-wide inputsLock for the
// whole call, including every chain-oracle RPC and the blind-signing step,
// so cross-round outpoint uniqueness can never race.
func (c *Coordinator) RegisterAlice(ctx context.Context, req RegisterAliceRequest) (*RegisterAliceResponse, error) {
	if err := validateAliceRequestShape(req, c.cfg.MaxInputsPerAlice); err != nil {
		return nil, err
	}

	c.inputsLock.Lock()
	defer c.inputsLock.Unlock()

	round := c.CurrentInputRegisteringRound()
	round.Lock()
	defer round.Unlock()

	if round.Phase != domain.InputRegistration || round.Status != domain.Running {
		return nil, domain.NewRejection(domain.KindTransient, "round %d is no longer registering inputs", round.ID)
	}

	if round.HasBlindedOutputHex(req.BlindedOutputHex) {
		return nil, domain.NewRejection(domain.KindInvalidRequest, "blinded output hex already registered in this round")
	}

	replacedIDs, coins, err := c.validateInputsAndFindReplacements(ctx, round, req)
	if err != nil {
		return nil, err
	}

	networkFee := round.Params.NetworkFee(len(coins))
	var total uint64
	for _, co := range coins {
		total += co.Value
	}
	if total < round.Params.Denomination+networkFee {
		return nil, domain.NewRejection(domain.KindInsufficientFunds,
			"inputs sum to %d sat, need %d sat (denomination %d + network fee %d)",
			total, round.Params.Denomination+networkFee, round.Params.Denomination, networkFee)
	}

	blinded, err := hex.DecodeString(req.BlindedOutputHex)
	if err != nil {
		return nil, domain.NewRejection(domain.KindInvalidRequest, "malformed blinded output hex: %s", err)
	}

	alice := &domain.Alice{
		UniqueID:         uuid.NewString(),
		Inputs:           coins,
		ChangeScript:     req.ChangeScript,
		BlindedOutputHex: req.BlindedOutputHex,
		NetworkFeeOwed:   networkFee,
		State:            domain.InputsRegistered,
	}

	blindSig, err := c.blindSigner.SignBlinded(blinded)
	if err != nil {
		return nil, domain.NewRejection(domain.KindFatal, "blind signing failed: %s", err)
	}

	if err := round.CommitAliceRegistration(replacedIDs, alice); err != nil {
		// CommitAliceRegistration re-checks the phase and commits nothing
		// when it refuses. inputsLock and round's lock have been held since
		// the phase check above, so this refusal is not expected here.
		return nil, err
	}
	c.publish(round.Events())

	c.maybeAdvancePastInputRegistration(ctx, round)

	return &RegisterAliceResponse{
		UniqueID:         alice.UniqueID,
		BlindedSignature: blindSig,
		RoundID:          round.ID,
	}, nil
}

func validateAliceRequestShape(req RegisterAliceRequest, maxInputs int) error {
	if len(req.Inputs) == 0 {
		return domain.NewRejection(domain.KindInvalidRequest, "at least one input is required")
	}
	if len(req.Inputs) > maxInputs {
		return domain.NewRejection(domain.KindInvalidRequest, "at most %d inputs are allowed, got %d", maxInputs, len(req.Inputs))
	}
	if req.BlindedOutputHex == "" {
		return domain.NewRejection(domain.KindInvalidRequest, "blinded_output_hex is required")
	}
	if req.ChangeScript == "" {
		return domain.NewRejection(domain.KindInvalidRequest, "change_script is required")
	}
	seen := make(map[domain.Outpoint]struct{}, len(req.Inputs))
	for _, in := range req.Inputs {
		if _, dup := seen[in.Outpoint]; dup {
			return domain.NewRejection(domain.KindInvalidRequest, "duplicate outpoint %s in request", in.Outpoint)
		}
		seen[in.Outpoint] = struct{}{}
	}
	return nil
}

// validateInputsAndFindReplacements runs validation step 3 of register_alice
// for every input in the request, against the round presently open for
// input registration and every other running round. It returns the ids of
// Alices to replace and the validated coins, whose value and script come
// from the chain oracle's view of each UTXO. Callers must hold both
// inputsLock and round's lock.
func (c *Coordinator) validateInputsAndFindReplacements(ctx context.Context, round *domain.Round, req RegisterAliceRequest) ([]string, []domain.Coin, error) {
	replaced := make(map[string]struct{})
	coins := make([]domain.Coin, 0, len(req.Inputs))

	for _, in := range req.Inputs {
		if owner, ok := round.FindAliceByOutpoint(in.Outpoint); ok {
			replaced[owner.UniqueID] = struct{}{}
		} else if other, _, ok := c.anyRunningRoundContainsInput(in.Outpoint, round.ID); ok {
			return nil, nil, domain.NewRejection(domain.KindInputDisallowed, "outpoint %s is already registered in round %d", in.Outpoint, other.ID)
		}

		if err := c.checkBan(in.Outpoint); err != nil {
			return nil, nil, err
		}

		utxo, err := c.lookupAndValidateUtxo(ctx, in.Outpoint)
		if err != nil {
			return nil, nil, err
		}

		if err := verifyInputProof(utxo.Script, req.BlindedOutputHex, in.Proof); err != nil {
			return nil, nil, err
		}
		coins = append(coins, domain.Coin{Outpoint: in.Outpoint, Value: utxo.Value, Script: utxo.Script})
	}

	ids := make([]string, 0, len(replaced))
	for id := range replaced {
		ids = append(ids, id)
	}
	return ids, coins, nil
}

func (c *Coordinator) checkBan(o domain.Outpoint) error {
	now := time.Now()
	minutes, banned, err := c.banStore.IsBanned(o, now)
	if err != nil {
		return domain.NewRejection(domain.KindTransient, "ban store lookup failed: %s", err)
	}
	if banned {
		return domain.NewBanRejection(minutes, "outpoint %s is banned for %d more minutes", o, minutes)
	}
	return nil
}

func (c *Coordinator) lookupAndValidateUtxo(ctx context.Context, o domain.Outpoint) (*domain.Utxo, error) {
	rpcCtx, cancel := withTimeout(ctx, 5*time.Second)
	defer cancel()

	utxo, err := c.chainOracle.GetTxOut(rpcCtx, o, true)
	if err == ports.ErrUtxoNotFound {
		return nil, domain.NewRejection(domain.KindInputDisallowed, "outpoint %s does not exist or is already spent", o)
	}
	if err != nil {
		return nil, domain.NewRejection(domain.KindTransient, "chain oracle lookup failed: %s", err)
	}

	if utxo.Confirmations <= 0 {
		isCJ, err := c.chainOracle.ContainsCoinJoin(rpcCtx, o.Txid)
		if err != nil {
			return nil, domain.NewRejection(domain.KindTransient, "chain oracle coinjoin lookup failed: %s", err)
		}
		if !isCJ {
			return nil, domain.NewRejection(domain.KindInputDisallowed, "unconfirmed input %s does not spend a prior coinjoin", o)
		}
		count, err := c.chainOracle.UnconfirmedCoinJoinCount(rpcCtx)
		if err != nil {
			return nil, domain.NewRejection(domain.KindTransient, "chain oracle unconfirmed-count lookup failed: %s", err)
		}
		if count >= c.cfg.MaxUnconfirmedCoinJoins {
			return nil, domain.NewRejection(domain.KindInputDisallowed, "too many unconfirmed coinjoins already in the mempool (%d)", count)
		}
	}

	if utxo.IsCoinbase && utxo.Confirmations <= domain.CoinbaseMaturity {
		return nil, domain.NewRejection(domain.KindInputDisallowed, "coinbase input %s has only %d confirmations, needs > %d", o, utxo.Confirmations, domain.CoinbaseMaturity)
	}

	if utxo.ScriptKind != domain.ScriptKindP2WPKH {
		return nil, domain.NewRejection(domain.KindInputDisallowed, "input %s has script kind %s, only native P2WPKH is accepted", o, utxo.ScriptKind)
	}

	return utxo, nil
}

// maybeAdvancePastInputRegistration implements step 7: once the anonymity
// set is reached, first evict Alices whose inputs are already spent, then
// advance if the set still holds. Errors are logged, not surfaced -- the
// registration that triggered this already succeeded.
func (c *Coordinator) maybeAdvancePastInputRegistration(ctx context.Context, round *domain.Round) {
	if round.Phase != domain.InputRegistration || round.Status != domain.Running {
		return
	}
	if round.AliceCount() < round.AnonymitySet {
		return
	}

	c.evictSpentAlices(ctx, round)

	if round.AliceCount() < round.AnonymitySet {
		return
	}

	if err := round.AdvanceToConnectionConfirmation(); err != nil {
		c.log.WithField("round_id", round.ID).WithError(err).Error("failed to advance past input registration")
		return
	}
	c.inputExtensions.clear(round.ID)
	c.publish(round.Events())
	c.scheduleDeadline(round, round.PhaseDeadline, round.Phase)
}

// evictSpentAlices checks every registered Alice's inputs against the chain
// oracle and removes any whose outpoints are no longer unspent. Callers
// must hold round's lock.
func (c *Coordinator) evictSpentAlices(ctx context.Context, round *domain.Round) {
	rpcCtx, cancel := withTimeout(ctx, 5*time.Second)
	defer cancel()

	for id, alice := range snapshotAlices(round) {
		for _, o := range alice.Outpoints() {
			if _, err := c.chainOracle.GetTxOut(rpcCtx, o, true); err == ports.ErrUtxoNotFound {
				round.EvictAlice(id, "input spent before connection confirmation")
				break
			}
		}
	}
}

func snapshotAlices(round *domain.Round) map[string]*domain.Alice {
	out := make(map[string]*domain.Alice)
	for id, a := range round.Alices {
		out[id] = a
	}
	return out
}
