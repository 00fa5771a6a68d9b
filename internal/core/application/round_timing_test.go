package application

import (
	"context"
	"encoding/hex"
	"testing"
	"time"

	"github.com/blindmix/coordinator/internal/core/domain"
	"github.com/blindmix/coordinator/internal/infrastructure/blindsign/rsablind"
	"github.com/blindmix/coordinator/internal/infrastructure/txbuilder/btcwire"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/require"
)

func newTestCoordinator(t *testing.T, cfg Config) (*Coordinator, *fakeChainOracle, *fakeBanStore) {
	t.Helper()
	signer, err := rsablind.New()
	require.NoError(t, err)
	oracle := newFakeChainOracle()
	banStore := newFakeBanStore()
	return NewCoordinator(cfg, oracle, banStore, signer, btcwire.New(), noopScheduler{}), oracle, banStore
}

func expireDeadline(round *domain.Round) {
	round.Lock()
	round.PhaseDeadline = time.Now().Add(-time.Second)
	round.Unlock()
}

func newBobScript(t *testing.T) []byte {
	t.Helper()
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	return p2wpkhScript(priv.PubKey())
}

func TestOnInputRegistrationTimeoutFailsAfterTooManyExtensions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AnonymitySet = 2
	cfg.Denomination = 100_000
	cfg.FeePerInput = 500
	cfg.FeePerOutput = 1_000
	coordinator, oracle, _ := newTestCoordinator(t, cfg)

	networkFee := cfg.FeePerInput + 2*cfg.FeePerOutput
	inputValue := cfg.Denomination + networkFee + 10_000
	registerTestAlice(t, coordinator, oracle, newBobScript(t), 0x10, inputValue)

	round := coordinator.CurrentInputRegisteringRound()

	for i := 1; i <= maxInputRegistrationExtensions; i++ {
		expireDeadline(round)
		coordinator.onRoundDeadline(round, domain.InputRegistration)

		round.RLock()
		status, phase := round.Status, round.Phase
		round.RUnlock()
		require.Equal(t, domain.Running, status)
		require.Equal(t, domain.InputRegistration, phase)
	}

	expireDeadline(round)
	coordinator.onRoundDeadline(round, domain.InputRegistration)

	round.RLock()
	status, reason := round.Status, round.FailureReason
	round.RUnlock()
	require.Equal(t, domain.Failed, status)
	require.NotEmpty(t, reason)
}

func TestOnInputRegistrationTimeoutAdvancesOnceTwoAlicesPresent(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AnonymitySet = 3
	cfg.Denomination = 100_000
	cfg.FeePerInput = 500
	cfg.FeePerOutput = 1_000
	coordinator, oracle, _ := newTestCoordinator(t, cfg)

	networkFee := cfg.FeePerInput + 2*cfg.FeePerOutput
	inputValue := cfg.Denomination + networkFee + 10_000
	registerTestAlice(t, coordinator, oracle, newBobScript(t), 0x20, inputValue)
	registerTestAlice(t, coordinator, oracle, newBobScript(t), 0x21, inputValue)

	round := coordinator.CurrentInputRegisteringRound()
	round.RLock()
	require.Equal(t, domain.InputRegistration, round.Phase)
	round.RUnlock()

	expireDeadline(round)
	coordinator.onRoundDeadline(round, domain.InputRegistration)

	round.RLock()
	phase := round.Phase
	round.RUnlock()
	require.Equal(t, domain.ConnectionConfirmation, phase)
}

func TestOnConnectionConfirmationTimeoutEvictsAndBansUnconfirmed(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AnonymitySet = 3
	cfg.Denomination = 100_000
	cfg.FeePerInput = 500
	cfg.FeePerOutput = 1_000
	coordinator, oracle, banStore := newTestCoordinator(t, cfg)

	networkFee := cfg.FeePerInput + 2*cfg.FeePerOutput
	inputValue := cfg.Denomination + networkFee + 10_000
	alice1 := registerTestAlice(t, coordinator, oracle, newBobScript(t), 0x30, inputValue)
	alice2 := registerTestAlice(t, coordinator, oracle, newBobScript(t), 0x31, inputValue)
	alice3 := registerTestAlice(t, coordinator, oracle, newBobScript(t), 0x32, inputValue)

	round := coordinator.CurrentInputRegisteringRound()
	round.RLock()
	require.Equal(t, domain.ConnectionConfirmation, round.Phase)
	round.RUnlock()

	_, err := coordinator.ConfirmConnection(context.Background(), round.ID, alice1.uniqueID)
	require.NoError(t, err)
	_, err = coordinator.ConfirmConnection(context.Background(), round.ID, alice2.uniqueID)
	require.NoError(t, err)
	// alice3 never confirms.

	expireDeadline(round)
	coordinator.onRoundDeadline(round, domain.ConnectionConfirmation)

	round.RLock()
	phase, status := round.Phase, round.Status
	_, stillThere := round.Alices[alice3.uniqueID]
	round.RUnlock()
	require.Equal(t, domain.Running, status)
	require.Equal(t, domain.OutputRegistration, phase)
	require.False(t, stillThere)

	_, banned, err := banStore.IsBanned(alice3.outpoint, time.Now())
	require.NoError(t, err)
	require.True(t, banned)
}

func TestOnConnectionConfirmationTimeoutFailsWhenTooFewConfirm(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AnonymitySet = 3
	cfg.Denomination = 100_000
	cfg.FeePerInput = 500
	cfg.FeePerOutput = 1_000
	coordinator, oracle, _ := newTestCoordinator(t, cfg)

	networkFee := cfg.FeePerInput + 2*cfg.FeePerOutput
	inputValue := cfg.Denomination + networkFee + 10_000
	alice1 := registerTestAlice(t, coordinator, oracle, newBobScript(t), 0x40, inputValue)
	registerTestAlice(t, coordinator, oracle, newBobScript(t), 0x41, inputValue)
	registerTestAlice(t, coordinator, oracle, newBobScript(t), 0x42, inputValue)

	round := coordinator.CurrentInputRegisteringRound()
	_, err := coordinator.ConfirmConnection(context.Background(), round.ID, alice1.uniqueID)
	require.NoError(t, err)
	// alice2 and alice3 never confirm -- only one alice remains after eviction.

	expireDeadline(round)
	coordinator.onRoundDeadline(round, domain.ConnectionConfirmation)

	round.RLock()
	status := round.Status
	round.RUnlock()
	require.Equal(t, domain.Failed, status)
}

func TestOnSigningTimeoutFailsAndBansMissingSigners(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AnonymitySet = 2
	cfg.Denomination = 100_000
	cfg.FeePerInput = 500
	cfg.FeePerOutput = 1_000
	coordinator, oracle, banStore := newTestCoordinator(t, cfg)

	networkFee := cfg.FeePerInput + 2*cfg.FeePerOutput
	inputValue := cfg.Denomination + networkFee + 10_000

	bobPriv1, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	bobPriv2, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	bobScript1 := p2wpkhScript(bobPriv1.PubKey())
	bobScript2 := p2wpkhScript(bobPriv2.PubKey())

	alice1 := registerTestAlice(t, coordinator, oracle, bobScript1, 0x50, inputValue)
	alice2 := registerTestAlice(t, coordinator, oracle, bobScript2, 0x51, inputValue)

	round := coordinator.CurrentInputRegisteringRound()
	_, err = coordinator.ConfirmConnection(context.Background(), round.ID, alice1.uniqueID)
	require.NoError(t, err)
	result, err := coordinator.ConfirmConnection(context.Background(), round.ID, alice2.uniqueID)
	require.NoError(t, err)

	require.NoError(t, coordinator.RegisterBob(RegisterBobRequest{
		RoundHash:          result.RoundHash,
		OutputScript:       hex.EncodeToString(bobScript1),
		UnblindedSignature: alice1.unblinded,
	}))
	require.NoError(t, coordinator.RegisterBob(RegisterBobRequest{
		RoundHash:          result.RoundHash,
		OutputScript:       hex.EncodeToString(bobScript2),
		UnblindedSignature: alice2.unblinded,
	}))

	round.RLock()
	require.Equal(t, domain.Signing, round.Phase)
	round.RUnlock()

	// Neither alice submits her witness signatures before the deadline.
	expireDeadline(round)
	coordinator.onRoundDeadline(round, domain.Signing)

	round.RLock()
	status := round.Status
	round.RUnlock()
	require.Equal(t, domain.Failed, status)

	_, banned, err := banStore.IsBanned(alice1.outpoint, time.Now())
	require.NoError(t, err)
	require.True(t, banned)
	_, banned, err = banStore.IsBanned(alice2.outpoint, time.Now())
	require.NoError(t, err)
	require.True(t, banned)
}
