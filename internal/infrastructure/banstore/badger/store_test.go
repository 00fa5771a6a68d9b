package badgerbanstore_test

import (
	"testing"
	"time"

	"github.com/blindmix/coordinator/internal/core/domain"
	"github.com/blindmix/coordinator/internal/core/ports"
	badgerbanstore "github.com/blindmix/coordinator/internal/infrastructure/banstore/badger"
	"github.com/stretchr/testify/require"
)

func newInMemoryStore(t *testing.T) ports.BanStore {
	t.Helper()
	store, err := badgerbanstore.New("", nil)
	require.NoError(t, err)
	return store
}

func TestBanStoreRoundTrip(t *testing.T) {
	store := newInMemoryStore(t)
	outpoint := domain.Outpoint{Txid: "a1b2", VOut: 0}

	_, banned, err := store.IsBanned(outpoint, time.Now())
	require.NoError(t, err)
	require.False(t, banned)

	until := time.Now().Add(time.Hour)
	require.NoError(t, store.Ban(outpoint, until, ports.SeverityDroppedMidRound))

	minutes, banned, err := store.IsBanned(outpoint, time.Now())
	require.NoError(t, err)
	require.True(t, banned)
	require.Greater(t, minutes, 0)
}

func TestBanStoreExpiry(t *testing.T) {
	store := newInMemoryStore(t)
	outpoint := domain.Outpoint{Txid: "c3d4", VOut: 1}

	require.NoError(t, store.Ban(outpoint, time.Now().Add(time.Millisecond), ports.SeverityDroppedMidRound))

	_, banned, err := store.IsBanned(outpoint, time.Now().Add(time.Second))
	require.NoError(t, err)
	require.False(t, banned)
}

func TestBanStoreUnban(t *testing.T) {
	store := newInMemoryStore(t)
	outpoint := domain.Outpoint{Txid: "e5f6", VOut: 2}

	require.NoError(t, store.Ban(outpoint, time.Now().Add(time.Hour), ports.SeverityDroppedMidRound))
	require.NoError(t, store.Unban(outpoint))

	_, banned, err := store.IsBanned(outpoint, time.Now())
	require.NoError(t, err)
	require.False(t, banned)
}
