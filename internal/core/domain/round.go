package domain

import (
	"sync"
	"time"
)

// Phase is one of the four stages a Round passes through, in order.
type Phase int

const (
	InputRegistration Phase = iota
	ConnectionConfirmation
	OutputRegistration
	Signing
)

func (p Phase) String() string {
	switch p {
	case InputRegistration:
		return "INPUT_REGISTRATION"
	case ConnectionConfirmation:
		return "CONNECTION_CONFIRMATION"
	case OutputRegistration:
		return "OUTPUT_REGISTRATION"
	case Signing:
		return "SIGNING"
	default:
		return "UNKNOWN_PHASE"
	}
}

// Status is the overall outcome of a Round.
type Status int

const (
	Running Status = iota
	Succeeded
	Failed
)

func (s Status) String() string {
	switch s {
	case Running:
		return "RUNNING"
	case Succeeded:
		return "SUCCEEDED"
	case Failed:
		return "FAILED"
	default:
		return "UNKNOWN_STATUS"
	}
}

// Params holds the fee schedule and timing policy a Round is opened with.
// The coordinator fills these in from its static configuration; a Round
// never mutates them. The live anonymity set, which can shrink as
// participants drop out, is Round.AnonymitySet.
type Params struct {
	Denomination          uint64
	AnonymitySet          int
	FeePerInput           uint64
	FeePerOutput          uint64
	CoordinatorFeePercent float64

	AliceRegistrationTimeout      time.Duration
	ConnectionConfirmationTimeout time.Duration
	OutputRegistrationTimeout     time.Duration
	SigningTimeout                time.Duration
}

// NetworkFee is the fee an Alice owes given her own input count: one unit of
// fee_per_input per input she spends, plus two units of fee_per_output --
// one for her mix output, one for her change output.
func (p Params) NetworkFee(numInputs int) uint64 {
	return uint64(numInputs)*p.FeePerInput + 2*p.FeePerOutput
}

// Round is the four-phase state machine coupling a fixed denomination, a
// required anonymity set, and the Alice/Bob participant sets for one
// CoinJoin attempt. All exported mutator methods assume the caller already
// holds Round's lock (via Lock/RLock) for the duration of the whole
// operation -- including any chain-oracle RPC the caller performs between
// reading and writing round state. This mirrors the per-round mutual
// exclusion the coordinator is required to provide.
type Round struct {
	mu sync.RWMutex

	ID     int64
	Phase  Phase
	Status Status
	Params Params

	// AnonymitySet is the live required participant count. It starts equal
	// to Params.AnonymitySet and can only shrink, when dropouts during
	// ConnectionConfirmation reduce the confirmed set.
	AnonymitySet int

	Alices map[string]*Alice // keyed by unique_id
	Bobs   map[string]*Bob   // keyed by output_script

	RoundHash         string
	UnsignedTx        *UnsignedTx
	PartialSignatures map[string][]InputSignature // keyed by alice unique_id

	StartedAt     time.Time
	PhaseDeadline time.Time
	EndedAt       time.Time
	FailureReason string
	Txid          string

	changes []RoundEvent
}

// NewRound opens a fresh round in InputRegistration/Running.
func NewRound(id int64, params Params) *Round {
	now := time.Now()
	r := &Round{
		ID:                id,
		Phase:             InputRegistration,
		Status:            Running,
		Params:            params,
		AnonymitySet:      params.AnonymitySet,
		Alices:            make(map[string]*Alice),
		Bobs:              make(map[string]*Bob),
		PartialSignatures: make(map[string][]InputSignature),
		StartedAt:         now,
		PhaseDeadline:     now.Add(params.AliceRegistrationTimeout),
	}
	r.raise(RoundOpened{RoundID: id, Timestamp: now})
	return r
}

func (r *Round) Lock()    { r.mu.Lock() }
func (r *Round) Unlock()  { r.mu.Unlock() }
func (r *Round) RLock()   { r.mu.RLock() }
func (r *Round) RUnlock() { r.mu.RUnlock() }

// Events drains and returns the events raised since the last call.
func (r *Round) Events() []RoundEvent {
	evs := r.changes
	r.changes = nil
	return evs
}

func (r *Round) raise(e RoundEvent) {
	r.changes = append(r.changes, e)
}

func (r *Round) IsRunning() bool  { return r.Status == Running }
func (r *Round) IsTerminal() bool { return r.Status != Running }

// AliceCount returns the number of Alices currently registered.
func (r *Round) AliceCount() int { return len(r.Alices) }

// BobCount returns the number of Bobs currently registered.
func (r *Round) BobCount() int { return len(r.Bobs) }

// Alice looks up a registered Alice by unique id.
func (r *Round) Alice(uniqueID string) (*Alice, bool) {
	a, ok := r.Alices[uniqueID]
	return a, ok
}

// FindAliceByOutpoint returns the Alice (if any) within this round who has
// already registered o as one of her inputs.
func (r *Round) FindAliceByOutpoint(o Outpoint) (*Alice, bool) {
	for _, a := range r.Alices {
		if a.HasOutpoint(o) {
			return a, true
		}
	}
	return nil, false
}

// HasBlindedOutputHex reports whether hex is already claimed by a
// registered Alice in this round (round invariant #2).
func (r *Round) HasBlindedOutputHex(hex string) bool {
	for _, a := range r.Alices {
		if a.BlindedOutputHex == hex {
			return true
		}
	}
	return false
}

// CommitAliceRegistration atomically removes replacedIDs (Alices being
// superseded by a re-registration sharing their outpoints) and admits
// alice. Both steps happen under a single call so there is no window where
// the outpoint is claimed by neither or both.
func (r *Round) CommitAliceRegistration(replacedIDs []string, alice *Alice) error {
	if r.Phase != InputRegistration || r.Status != Running {
		return NewRejection(KindTransient, "round %d is no longer accepting input registrations", r.ID)
	}
	for _, id := range replacedIDs {
		delete(r.Alices, id)
	}
	alice.touch(time.Now())
	r.Alices[alice.UniqueID] = alice
	r.raise(AliceRegistered{RoundID: r.ID, UniqueID: alice.UniqueID})
	return nil
}

// UnregisterAlice removes alice without penalty. Only legal during
// InputRegistration.
func (r *Round) UnregisterAlice(uniqueID string) error {
	if r.Phase != InputRegistration {
		return NewRejection(KindPhaseMismatch, "cannot unregister after input registration has closed")
	}
	if _, ok := r.Alices[uniqueID]; !ok {
		return NewRejection(KindNotFound, "alice %s not found", uniqueID)
	}
	delete(r.Alices, uniqueID)
	r.raise(AliceRemoved{RoundID: r.ID, UniqueID: uniqueID, Reason: "unregistered"})
	return nil
}

// EvictAlice forcibly removes alice regardless of phase -- used when her
// inputs are found spent, or she fails a timeout. Returns the removed
// Alice so the caller can decide whether to ban her outpoints.
func (r *Round) EvictAlice(uniqueID, reason string) (*Alice, bool) {
	a, ok := r.Alices[uniqueID]
	if !ok {
		return nil, false
	}
	delete(r.Alices, uniqueID)
	r.raise(AliceRemoved{RoundID: r.ID, UniqueID: uniqueID, Reason: reason})
	return a, true
}

// TouchAlice resets an Alice's idle timer. Valid only in InputRegistration,
// where a confirm_connection call just means "I'm still here".
func (r *Round) TouchAlice(uniqueID string) error {
	if r.Phase != InputRegistration {
		return NewRejection(KindPhaseMismatch, "touch is only valid during input registration")
	}
	a, ok := r.Alices[uniqueID]
	if !ok {
		return NewRejection(KindNotFound, "alice %s not found", uniqueID)
	}
	a.touch(time.Now())
	return nil
}

// ConfirmAlice marks alice as having confirmed her connection. Valid only in
// ConnectionConfirmation. Confirming an already-confirmed Alice is a no-op.
func (r *Round) ConfirmAlice(uniqueID string) error {
	if r.Phase != ConnectionConfirmation {
		return NewRejection(KindPhaseMismatch, "confirmation is only valid during connection confirmation")
	}
	a, ok := r.Alices[uniqueID]
	if !ok {
		return NewRejection(KindNotFound, "alice %s not found", uniqueID)
	}
	if a.State == ConnectionConfirmed {
		return nil
	}
	a.State = ConnectionConfirmed
	a.touch(time.Now())
	return nil
}

// AllConfirmed reports whether every remaining Alice has confirmed her
// connection.
func (r *Round) AllConfirmed() bool {
	for _, a := range r.Alices {
		if a.State != ConnectionConfirmed {
			return false
		}
	}
	return len(r.Alices) > 0
}

// IdleAlices returns the unique ids of Alices who haven't been heard from
// since the given cutoff.
func (r *Round) IdleAlices(cutoff time.Time) []string {
	var ids []string
	for id, a := range r.Alices {
		if a.LastSeen.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	return ids
}

// AdvanceToConnectionConfirmation closes input registration and opens the
// connection confirmation phase.
func (r *Round) AdvanceToConnectionConfirmation() error {
	if r.Phase != InputRegistration || r.Status != Running {
		return NewRejection(KindFatal, "cannot advance to connection confirmation from phase %s", r.Phase)
	}
	r.Phase = ConnectionConfirmation
	now := time.Now()
	r.PhaseDeadline = now.Add(r.Params.ConnectionConfirmationTimeout)
	r.raise(PhaseAdvanced{RoundID: r.ID, Phase: r.Phase, Timestamp: now})
	return nil
}

// AdvanceToOutputRegistration closes connection confirmation, freezing the
// (possibly shrunk) anonymity set and publishing the round hash that commits
// to it (round invariant #6).
func (r *Round) AdvanceToOutputRegistration(anonymitySet int, roundHash string) error {
	if r.Phase != ConnectionConfirmation || r.Status != Running {
		return NewRejection(KindFatal, "cannot advance to output registration from phase %s", r.Phase)
	}
	r.AnonymitySet = anonymitySet
	r.RoundHash = roundHash
	r.Phase = OutputRegistration
	now := time.Now()
	r.PhaseDeadline = now.Add(r.Params.OutputRegistrationTimeout)
	r.raise(PhaseAdvanced{RoundID: r.ID, Phase: r.Phase, Timestamp: now})
	return nil
}

// RegisterBob admits a new output-side participant. Valid only in
// OutputRegistration; rejects a script that collides with an existing Bob
// (round invariant #5).
func (r *Round) RegisterBob(bob *Bob) error {
	if r.Phase != OutputRegistration || r.Status != Running {
		return NewRejection(KindPhaseMismatch, "output registration is closed")
	}
	if _, exists := r.Bobs[bob.OutputScript]; exists {
		return NewRejection(KindInvalidRequest, "output script already registered")
	}
	if len(r.Bobs) >= r.AnonymitySet {
		return NewRejection(KindTransient, "output set is already full")
	}
	r.Bobs[bob.OutputScript] = bob
	r.raise(BobRegistered{RoundID: r.ID, OutputScript: bob.OutputScript})
	return nil
}

// AdvanceToSigning closes output registration once the full anonymity set
// of Bobs is registered, committing to the unsigned transaction every Alice
// will sign her inputs against.
func (r *Round) AdvanceToSigning(tx *UnsignedTx) error {
	if r.Phase != OutputRegistration || r.Status != Running {
		return NewRejection(KindFatal, "cannot advance to signing from phase %s", r.Phase)
	}
	if len(r.Bobs) != r.AnonymitySet {
		return NewRejection(KindFatal, "bob set size %d does not match anonymity set %d", len(r.Bobs), r.AnonymitySet)
	}
	r.UnsignedTx = tx
	r.Phase = Signing
	now := time.Now()
	r.PhaseDeadline = now.Add(r.Params.SigningTimeout)
	r.raise(PhaseAdvanced{RoundID: r.ID, Phase: r.Phase, Timestamp: now})
	return nil
}

// RecordSignatures stores alice's witness signatures over her own inputs.
// At most one submission per Alice is accepted.
func (r *Round) RecordSignatures(uniqueID string, sigs []InputSignature) error {
	if r.Phase != Signing || r.Status != Running {
		return NewRejection(KindPhaseMismatch, "signing is not open")
	}
	if _, ok := r.Alices[uniqueID]; !ok {
		return NewRejection(KindNotFound, "alice %s not found", uniqueID)
	}
	if _, already := r.PartialSignatures[uniqueID]; already {
		return NewRejection(KindInvalidRequest, "alice %s already submitted signatures", uniqueID)
	}
	r.PartialSignatures[uniqueID] = sigs
	return nil
}

// AllSigned reports whether every Alice registered in the round has
// submitted her signatures.
func (r *Round) AllSigned() bool {
	return len(r.PartialSignatures) == len(r.Alices)
}

// MissingSignatures returns the unique ids of Alices who have not yet
// submitted signatures.
func (r *Round) MissingSignatures() []string {
	var ids []string
	for id := range r.Alices {
		if _, ok := r.PartialSignatures[id]; !ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// Succeed marks the round as having broadcast txid.
func (r *Round) Succeed(txid string) error {
	if r.Phase != Signing || r.Status != Running {
		return NewRejection(KindFatal, "cannot succeed from phase %s", r.Phase)
	}
	r.Status = Succeeded
	r.Txid = txid
	now := time.Now()
	r.EndedAt = now
	r.raise(RoundSucceeded{RoundID: r.ID, Txid: txid, Timestamp: now})
	return nil
}

// Fail marks the round as failed. Idempotent: failing an already-terminal
// round is a no-op.
func (r *Round) Fail(reason string) {
	if r.IsTerminal() {
		return
	}
	r.Status = Failed
	r.FailureReason = reason
	now := time.Now()
	r.EndedAt = now
	r.raise(RoundFailed{RoundID: r.ID, Reason: reason, Timestamp: now})
}

// AllOutpoints returns every outpoint claimed by any Alice still registered
// in the round.
func (r *Round) AllOutpoints() []Outpoint {
	var outs []Outpoint
	for _, a := range r.Alices {
		outs = append(outs, a.Outpoints()...)
	}
	return outs
}
