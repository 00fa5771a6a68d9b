package application

import (
	"context"
	"sync"
	"time"

	"github.com/blindmix/coordinator/internal/core/domain"
	"github.com/blindmix/coordinator/internal/core/ports"
	log "github.com/sirupsen/logrus"
)

// retireAfter is how long a terminal round stays queryable (by round_id or
// round_hash) before the coordinator drops it from memory.
const retireAfter = 10 * time.Minute

// Coordinator owns the fleet of concurrently running Rounds plus the
// coordinator-wide collaborators every Round needs but must never own
// itself: the chain oracle, the ban store and the blind signing key.
//
// Three coordinator-wide mutexes are the only global serialization points the
// design calls for:
//
//   - inputsLock serializes every RegisterAlice call across every round, so
//     the cross-round outpoint-uniqueness check (round invariant #1) can't
//     race. It is held for the full registration, including chain RPC and
//     blind signing.
//   - outputLock serializes every RegisterBob call, so two concurrent Bobs
//     can't both observe |bobs| == anonymity_set-1 and both get admitted.
//   - openMu serializes CurrentInputRegisteringRound against itself, so the
//     scan-for-an-open-round-or-create-one sequence can't race and open two
//     InputRegistration rounds at once.
//
// Lock ordering: round.Lock()/RLock() is always acquired before roundsMu,
// never the other way around -- anyRunningRoundContainsInput and
// CurrentInputRegisteringRound both snapshot the rounds map under roundsMu
// and release it before touching any round's lock. Violating that order
// (holding roundsMu while RLock-ing a round) risks a cross-goroutine
// deadlock against callers that hold round.Lock() and then need roundsMu.
//
// Everything else -- confirmation, unconfirmation, signature posting,
// status reads -- takes only the lock of the one Round it touches.
type Coordinator struct {
	cfg Config

	chainOracle ports.ChainOracle
	banStore    ports.BanStore
	blindSigner ports.BlindSigner
	txBuilder   ports.TxBuilder
	scheduler   ports.SchedulerService

	inputsLock sync.Mutex
	outputLock sync.Mutex
	openMu     sync.Mutex

	roundsMu sync.RWMutex
	rounds   map[int64]*domain.Round
	byHash   map[string]int64
	nextID   int64

	coinjoinMu  sync.Mutex
	coinjoinIDs map[string]struct{}

	inputExtensions *extensionTracker

	eventsCh chan domain.RoundEvent

	log *log.Entry

	wg       sync.WaitGroup
	shutdown chan struct{}
}

func NewCoordinator(
	cfg Config,
	chainOracle ports.ChainOracle,
	banStore ports.BanStore,
	blindSigner ports.BlindSigner,
	txBuilder ports.TxBuilder,
	scheduler ports.SchedulerService,
) *Coordinator {
	return &Coordinator{
		cfg:         cfg,
		chainOracle: chainOracle,
		banStore:    banStore,
		blindSigner: blindSigner,
		txBuilder:   txBuilder,
		scheduler:   scheduler,
		rounds:      make(map[int64]*domain.Round),
		byHash:      make(map[string]int64),
		coinjoinIDs: make(map[string]struct{}),
		eventsCh:    make(chan domain.RoundEvent, 64),
		log:         log.WithField("component", "coordinator"),
		shutdown:    make(chan struct{}),

		inputExtensions: newExtensionTracker(),
	}
}

// Start opens the first round (if none is open yet), schedules its phase
// deadline, and starts the recurring job that opens a fresh
// InputRegistration round on the configured cadence whenever none is open.
func (c *Coordinator) Start() error {
	c.scheduler.Start()

	c.openRoundAndScheduleDeadline()

	return c.scheduler.ScheduleRecurring(c.cfg.RoundCadence, c.openRoundAndScheduleDeadline)
}

// openRoundAndScheduleDeadline fetches (or opens) the current
// InputRegistration round and schedules its phase deadline. Unlike the
// other scheduleDeadline call sites, it does not already hold round's
// lock, so it takes it itself to read the deadline/phase.
func (c *Coordinator) openRoundAndScheduleDeadline() {
	round := c.CurrentInputRegisteringRound()

	round.RLock()
	deadline := round.PhaseDeadline
	phase := round.Phase
	round.RUnlock()

	c.scheduleDeadline(round, deadline, phase)
}

// Stop halts the background scheduler and returns once every in-flight
// retirement goroutine has observed the shutdown signal. Running rounds
// are left exactly as they are; it does not fail them.
func (c *Coordinator) Stop() {
	c.scheduler.Stop()
	close(c.shutdown)
	c.wg.Wait()
}

// Events exposes the fan-out of RoundEvents for a status/dashboard consumer.
func (c *Coordinator) Events() <-chan domain.RoundEvent {
	return c.eventsCh
}

func (c *Coordinator) publish(evs []domain.RoundEvent) {
	for _, e := range evs {
		select {
		case c.eventsCh <- e:
		default:
			c.log.Warn("events channel full, dropping round event")
		}
	}
}

// RunningRounds returns a snapshot of every round the coordinator is
// currently tracking, running or recently terminal.
func (c *Coordinator) RunningRounds() []*domain.Round {
	c.roundsMu.RLock()
	defer c.roundsMu.RUnlock()
	out := make([]*domain.Round, 0, len(c.rounds))
	for _, r := range c.rounds {
		out = append(out, r)
	}
	return out
}

// CurrentInputRegisteringRound returns the single round presently in
// InputRegistration, opening a fresh one if none exists. The design
// guarantees there is never more than one such round.
func (c *Coordinator) CurrentInputRegisteringRound() *domain.Round {
	c.openMu.Lock()
	defer c.openMu.Unlock()

	c.roundsMu.RLock()
	rounds := make([]*domain.Round, 0, len(c.rounds))
	for _, r := range c.rounds {
		rounds = append(rounds, r)
	}
	c.roundsMu.RUnlock()

	for _, r := range rounds {
		r.RLock()
		open := r.Phase == domain.InputRegistration && r.Status == domain.Running
		r.RUnlock()
		if open {
			return r
		}
	}

	c.nextID++
	round := domain.NewRound(c.nextID, c.cfg.roundParams())

	c.roundsMu.Lock()
	c.rounds[round.ID] = round
	c.roundsMu.Unlock()

	c.publish(round.Events())
	c.log.WithField("round_id", round.ID).Info("opened round")
	return round
}

// TryGetRound looks up a round by id, for requests past InputRegistration
// that must address a specific round.
func (c *Coordinator) TryGetRound(id int64) (*domain.Round, bool) {
	c.roundsMu.RLock()
	defer c.roundsMu.RUnlock()
	r, ok := c.rounds[id]
	return r, ok
}

// TryGetRoundByHash looks up a round by its published round_hash.
func (c *Coordinator) TryGetRoundByHash(hash string) (*domain.Round, bool) {
	c.roundsMu.RLock()
	defer c.roundsMu.RUnlock()
	id, ok := c.byHash[hash]
	if !ok {
		return nil, false
	}
	r := c.rounds[id]
	return r, r != nil
}

func (c *Coordinator) indexRoundHash(r *domain.Round) {
	c.roundsMu.Lock()
	defer c.roundsMu.Unlock()
	c.byHash[r.RoundHash] = r.ID
}

// anyRunningRoundContainsInput implements round invariant #1: no outpoint
// may be claimed by more than one Alice across every running round other
// than excludeID, whose lock the caller already holds (RLock-ing it again
// here would deadlock since sync.RWMutex is not reentrant). Callers must
// hold inputsLock.
func (c *Coordinator) anyRunningRoundContainsInput(o domain.Outpoint, excludeID int64) (*domain.Round, *domain.Alice, bool) {
	c.roundsMu.RLock()
	rounds := make([]*domain.Round, 0, len(c.rounds))
	for _, r := range c.rounds {
		if r.ID == excludeID {
			continue
		}
		rounds = append(rounds, r)
	}
	c.roundsMu.RUnlock()

	for _, r := range rounds {
		r.RLock()
		running := r.IsRunning()
		a, found := r.FindAliceByOutpoint(o)
		r.RUnlock()
		if running && found {
			return r, a, true
		}
	}
	return nil, nil, false
}

// ContainsCoinJoin reports whether txHash belongs to a CoinJoin this
// coordinator itself produced, for ChainOracle implementations that want to
// delegate local knowledge before hitting the node.
func (c *Coordinator) ContainsCoinJoin(txHash string) bool {
	c.coinjoinMu.Lock()
	defer c.coinjoinMu.Unlock()
	_, ok := c.coinjoinIDs[txHash]
	return ok
}

func (c *Coordinator) rememberCoinJoin(txHash string) {
	c.coinjoinMu.Lock()
	defer c.coinjoinMu.Unlock()
	c.coinjoinIDs[txHash] = struct{}{}
}

// scheduleRetirement drops a terminal round from the lookup tables after a
// grace window during which clients can still read its final status. The
// wait is cancelled by Stop so shutdown never blocks on it.
func (c *Coordinator) scheduleRetirement(id int64) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		timer := time.NewTimer(retireAfter)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-c.shutdown:
			return
		}

		c.roundsMu.Lock()
		defer c.roundsMu.Unlock()
		if r, ok := c.rounds[id]; ok {
			delete(c.byHash, r.RoundHash)
			delete(c.rounds, id)
		}
	}()
}

// failRound marks round failed, frees its outpoint claims for future
// rounds and schedules its retirement. Callers must hold round.Lock().
func (c *Coordinator) failRound(round *domain.Round, reason string) {
	round.Fail(reason)
	c.publish(round.Events())
	c.log.WithFields(log.Fields{"round_id": round.ID, "reason": reason}).Warn("round failed")
	c.scheduleRetirement(round.ID)
}

func (c *Coordinator) succeedRound(ctx context.Context, round *domain.Round, txid string) error {
	if err := round.Succeed(txid); err != nil {
		return err
	}
	c.rememberCoinJoin(txid)
	if err := c.chainOracle.MarkCoinJoin(ctx, txid); err != nil {
		c.log.WithField("txid", txid).WithError(err).Warn("failed to record coinjoin with chain oracle")
	}
	c.publish(round.Events())
	c.log.WithFields(log.Fields{"round_id": round.ID, "txid": txid}).Info("round succeeded")
	c.scheduleRetirement(round.ID)
	return nil
}

func withTimeout(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return context.WithTimeout(parent, d)
}
