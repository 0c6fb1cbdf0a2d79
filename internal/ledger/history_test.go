package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/sheikh-saqib/hashchain-ledger/internal/cache"
	"github.com/sheikh-saqib/hashchain-ledger/internal/metrics"
	"github.com/sheikh-saqib/hashchain-ledger/internal/storage/memory"
)

func TestLedger_EntriesByAddress(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMemoryLedgerStore()
	a := seedAccount(t, store, "A", "100")
	b := seedAccount(t, store, "B", "100")
	seedAccount(t, store, "C", "0")
	l := newTestLedger(t, store, nil, testConfig())

	_, err := l.Transfer(ctx, a, "B", decimal.RequireFromString("1"))
	require.NoError(t, err)
	_, err = l.Transfer(ctx, b, "C", decimal.RequireFromString("2"))
	require.NoError(t, err)
	_, err = l.Transfer(ctx, b, "A", decimal.RequireFromString("3"))
	require.NoError(t, err)

	entries, err := l.EntriesByAddress(ctx, "A", 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, uint64(3), entries[0].Position)
	assert.Equal(t, uint64(1), entries[1].Position)

	entries, err = l.EntriesByAddress(ctx, "B", 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, uint64(3), entries[0].Position)
	assert.Equal(t, uint64(2), entries[1].Position)

	entries, err = l.EntriesByAddress(ctx, "NOBODY", 0)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestLedger_EntryByDigest(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMemoryLedgerStore()
	a := seedAccount(t, store, "A", "100")
	seedAccount(t, store, "B", "0")

	entryCache := cache.NewEntryCache(time.Minute, 100)
	defer entryCache.Stop()
	m := metrics.NewMetrics("test", prometheus.NewRegistry())
	l := NewLedger(store, nil, entryCache, m, zaptest.NewLogger(t).Sugar(), testConfig())

	committed, err := l.Transfer(ctx, a, "B", decimal.RequireFromString("1"))
	require.NoError(t, err)

	found, err := l.EntryByDigest(ctx, committed.Digest)
	require.NoError(t, err)
	assert.Equal(t, committed.Position, found.Position)
	assert.Equal(t, 1, entryCache.Len())

	found, err = l.EntryByDigest(ctx, committed.Digest)
	require.NoError(t, err)
	assert.Equal(t, committed.Digest, found.Digest)

	_, err = l.EntryByDigest(ctx, "unknown")
	assert.ErrorIs(t, err, ErrEntryNotFound)
	assert.NotErrorIs(t, err, ErrStorageUnavailable)
}

func TestLedger_Balance(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMemoryLedgerStore()
	a := seedAccount(t, store, "A", "100")
	seedAccount(t, store, "B", "0")
	l := newTestLedger(t, store, nil, testConfig())

	_, err := l.Transfer(ctx, a, "B", decimal.RequireFromString("0.12345678"))
	require.NoError(t, err)

	balance, err := l.Balance(ctx, "B")
	require.NoError(t, err)
	assert.Equal(t, "0.12345678", FormatAmount(balance))

	_, err = l.Balance(ctx, "NOBODY")
	assert.ErrorIs(t, err, ErrAccountNotFound)
}
