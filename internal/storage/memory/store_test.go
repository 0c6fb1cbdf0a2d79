package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	interfaces "github.com/sheikh-saqib/hashchain-ledger/internal/interfaces"
	"github.com/sheikh-saqib/hashchain-ledger/internal/ledger"
	"github.com/sheikh-saqib/hashchain-ledger/internal/metrics"
	"github.com/sheikh-saqib/hashchain-ledger/internal/models"
)

func newEntry(position uint64, from, to, amount, prev string) models.LedgerEntry {
	e := models.LedgerEntry{
		Position:    position,
		FromAddress: from,
		ToAddress:   to,
		Amount:      decimal.RequireFromString(amount),
		PrevDigest:  prev,
		CreatedAt:   time.Now().UTC(),
	}
	e.Digest = ledger.EntryHash(e)
	return e
}

func seed(t *testing.T, store *MemoryLedgerStore, address, balance string) {
	t.Helper()
	require.NoError(t, store.CreateAccount(context.Background(), models.Account{
		Address: address,
		Balance: decimal.RequireFromString(balance),
	}))
}

func TestMemoryStore_CreateAndGetAccount(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryLedgerStore()
	seed(t, store, "A", "10")

	account, err := store.GetAccount(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, "A", account.Address)

	err = store.CreateAccount(ctx, models.Account{Address: "A"})
	assert.ErrorIs(t, err, interfaces.ErrAccountExists)

	_, err = store.GetAccount(ctx, "B")
	assert.ErrorIs(t, err, interfaces.ErrAccountNotFound)
}

func TestMemoryStore_WithinTx_Commits(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryLedgerStore()
	seed(t, store, "A", "10")
	seed(t, store, "B", "0")
	entry := newEntry(1, "A", "B", "4", ledger.GenesisDigest)

	err := store.WithinTx(ctx, func(tx interfaces.LedgerTx) error {
		if _, err := tx.LockAccount(ctx, "A"); err != nil {
			return err
		}
		if _, err := tx.LockAccount(ctx, "B"); err != nil {
			return err
		}
		tail, err := tx.LockTail(ctx)
		if err != nil {
			return err
		}
		assert.Equal(t, models.ChainTail{}, tail)
		if err := tx.UpdateBalance(ctx, "A", decimal.RequireFromString("6")); err != nil {
			return err
		}
		if err := tx.UpdateBalance(ctx, "B", decimal.RequireFromString("4")); err != nil {
			return err
		}
		return tx.InsertEntry(ctx, entry)
	})
	require.NoError(t, err)

	a, err := store.GetAccount(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, "6", a.Balance.String())

	found, err := store.GetEntryByDigest(ctx, entry.Digest)
	require.NoError(t, err)
	assert.Equal(t, entry.Position, found.Position)
}

func TestMemoryStore_WithinTx_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryLedgerStore()
	seed(t, store, "A", "10")
	failure := errors.New("boom")

	err := store.WithinTx(ctx, func(tx interfaces.LedgerTx) error {
		if _, err := tx.LockAccount(ctx, "A"); err != nil {
			return err
		}
		if _, err := tx.LockTail(ctx); err != nil {
			return err
		}
		if err := tx.UpdateBalance(ctx, "A", decimal.Zero); err != nil {
			return err
		}
		if err := tx.InsertEntry(ctx, newEntry(1, "A", "B", "10", ledger.GenesisDigest)); err != nil {
			return err
		}
		return failure
	})
	assert.ErrorIs(t, err, failure)

	a, err := store.GetAccount(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, "10", a.Balance.String())
	_, err = store.GetEntryByDigest(ctx, newEntry(1, "A", "B", "10", ledger.GenesisDigest).Digest)
	assert.ErrorIs(t, err, interfaces.ErrEntryNotFound)

	// locks were released
	err = store.WithinTx(ctx, func(tx interfaces.LedgerTx) error {
		lockCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()
		_, err := tx.LockAccount(lockCtx, "A")
		return err
	})
	assert.NoError(t, err)
}

func TestMemoryStore_RequiresLocks(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryLedgerStore()
	seed(t, store, "A", "10")

	err := store.WithinTx(ctx, func(tx interfaces.LedgerTx) error {
		return tx.UpdateBalance(ctx, "A", decimal.Zero)
	})
	assert.Error(t, err)

	err = store.WithinTx(ctx, func(tx interfaces.LedgerTx) error {
		return tx.InsertEntry(ctx, newEntry(1, "A", "B", "1", ledger.GenesisDigest))
	})
	assert.Error(t, err)
}

func TestMemoryStore_InsertEntry_RejectsTakenPosition(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryLedgerStore()
	first := newEntry(1, "A", "B", "1", ledger.GenesisDigest)

	insert := func(e models.LedgerEntry) error {
		return store.WithinTx(ctx, func(tx interfaces.LedgerTx) error {
			if _, err := tx.LockTail(ctx); err != nil {
				return err
			}
			return tx.InsertEntry(ctx, e)
		})
	}
	require.NoError(t, insert(first))

	err := insert(newEntry(1, "A", "C", "1", ledger.GenesisDigest))
	assert.ErrorIs(t, err, interfaces.ErrPositionConflict)

	duplicateDigest := newEntry(2, "A", "B", "1", first.Digest)
	duplicateDigest.Digest = first.Digest
	err = insert(duplicateDigest)
	assert.ErrorIs(t, err, interfaces.ErrPositionConflict)

	err = insert(newEntry(3, "A", "B", "1", first.Digest))
	assert.ErrorIs(t, err, interfaces.ErrPositionConflict)
}

func TestMemoryStore_GetEntriesByAddress(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryLedgerStore()
	e1 := newEntry(1, "A", "B", "1", ledger.GenesisDigest)
	e2 := newEntry(2, "C", "D", "1", e1.Digest)
	e3 := newEntry(3, "B", "A", "1", e2.Digest)
	store.entries = append(store.entries, e1, e2, e3)

	entries, err := store.GetEntriesByAddress(ctx, "A", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, uint64(3), entries[0].Position)
	assert.Equal(t, uint64(1), entries[1].Position)

	entries, err = store.GetEntriesByAddress(ctx, "A", 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestMemoryStore_TamperedEntryFailsVerification(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryLedgerStore()
	seed(t, store, "A", "100")
	seed(t, store, "B", "0")
	l := ledger.NewLedger(store, nil, nil, metrics.NewMetrics("test", prometheus.NewRegistry()), zap.NewNop().Sugar(), ledger.Config{
		LockTimeout: time.Second,
	})

	sender, err := store.GetAccount(ctx, "A")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := l.Transfer(ctx, sender, "B", decimal.RequireFromString("1"))
		require.NoError(t, err)
	}

	report, err := l.VerifyChain(ctx)
	require.NoError(t, err)
	require.True(t, report.OK)

	store.entries[1].Amount = decimal.RequireFromString("90")

	report, err = l.VerifyChain(ctx)
	require.NoError(t, err)
	assert.False(t, report.OK)
	assert.Equal(t, 3, report.EntryCount)
	assert.Equal(t, []models.Violation{{Position: 2, Kind: models.BlockHashMismatch}}, report.Errors)
}

func TestMemoryStore_AmountTamperedPastScaleFailsVerification(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryLedgerStore()
	seed(t, store, "A", "100")
	seed(t, store, "B", "0")
	l := ledger.NewLedger(store, nil, nil, nil, zap.NewNop().Sugar(), ledger.Config{
		LockTimeout: time.Second,
	})

	sender, err := store.GetAccount(ctx, "A")
	require.NoError(t, err)
	_, err = l.Transfer(ctx, sender, "B", decimal.RequireFromString("1"))
	require.NoError(t, err)

	store.entries[0].Amount = decimal.RequireFromString("1.000000009")

	report, err := l.VerifyChain(ctx)
	require.NoError(t, err)
	assert.False(t, report.OK)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, models.BlockHashMismatch, report.Errors[0].Kind)
	assert.Equal(t, uint64(1), report.Errors[0].Position)
}

func TestMemoryStore_FailedLookupsDoNotGrowLockTable(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryLedgerStore()
	seed(t, store, "A", "100")
	l := ledger.NewLedger(store, nil, nil, nil, zap.NewNop().Sugar(), ledger.Config{
		LockTimeout: time.Second,
	})

	sender, err := store.GetAccount(ctx, "A")
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		_, err := l.Transfer(ctx, sender, fmt.Sprintf("NOBODY-%d", i), decimal.RequireFromString("1"))
		require.ErrorIs(t, err, ledger.ErrReceiverNotFound)
	}
	assert.Equal(t, 0, store.rowLocks.Len())
}
