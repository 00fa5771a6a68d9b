package btcdoracle

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newInMemoryIndex(t *testing.T) *coinjoinIndex {
	t.Helper()
	idx, err := newCoinJoinIndex("", nil)
	require.NoError(t, err)
	return idx
}

func TestCoinJoinIndexMarkAndContains(t *testing.T) {
	idx := newInMemoryIndex(t)

	contains, err := idx.contains("deadbeef")
	require.NoError(t, err)
	require.False(t, contains)

	require.NoError(t, idx.mark("deadbeef"))

	contains, err = idx.contains("deadbeef")
	require.NoError(t, err)
	require.True(t, contains)
}

func TestCoinJoinIndexAllListsEveryMarkedTxid(t *testing.T) {
	idx := newInMemoryIndex(t)

	require.NoError(t, idx.mark("tx-one"))
	require.NoError(t, idx.mark("tx-two"))

	txids, err := idx.all()
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"tx-one", "tx-two"}, txids)
}
