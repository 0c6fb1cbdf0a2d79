package memory

import (
	"context" // standard Go package for request-scoped context (timeouts, cancellation)
	"sync"    // standard Go package for concurrency primitives like Mutex

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	interfaces "github.com/sheikh-saqib/hashchain-ledger/internal/interfaces" // interface LedgerStore
	"github.com/sheikh-saqib/hashchain-ledger/internal/models"
	"github.com/sheikh-saqib/hashchain-ledger/internal/storage/locks"
)

const tailLockKey = "tail"

// MemoryLedgerStore is an in-memory implementation of interfaces.LedgerStore.
// Row locks are emulated with a lock table; staged writes are applied under mu
// on commit so readers never observe a half-applied transfer.
type MemoryLedgerStore struct {
	mu       sync.RWMutex              // protects accounts, entries and byDigest
	accounts map[string]models.Account // keyed by address
	entries  []models.LedgerEntry      // ordered by position, entries[i].Position == i+1
	byDigest map[string]int            // digest -> index into entries
	rowLocks *locks.Table
}

// NewMemoryLedgerStore creates and returns a new MemoryLedgerStore instance
func NewMemoryLedgerStore() *MemoryLedgerStore {
	return &MemoryLedgerStore{
		accounts: make(map[string]models.Account),
		entries:  make([]models.LedgerEntry, 0),
		byDigest: make(map[string]int),
		rowLocks: locks.NewTable(),
	}
}

// CreateAccount stores a new account; the address must not be taken.
func (m *MemoryLedgerStore) CreateAccount(ctx context.Context, account models.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.accounts[account.Address]; exists {
		return errors.Wrapf(interfaces.ErrAccountExists, "address [%s]", account.Address)
	}
	m.accounts[account.Address] = account
	return nil
}

func (m *MemoryLedgerStore) GetAccount(ctx context.Context, address string) (models.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	account, exists := m.accounts[address]
	if !exists {
		return models.Account{}, interfaces.ErrAccountNotFound
	}
	return account, nil
}

func (m *MemoryLedgerStore) GetEntryByDigest(ctx context.Context, digest string) (models.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	idx, exists := m.byDigest[digest]
	if !exists {
		return models.LedgerEntry{}, interfaces.ErrEntryNotFound
	}
	return m.entries[idx], nil
}

// GetEntriesByAddress walks the chain backwards so results are newest first
func (m *MemoryLedgerStore) GetEntriesByAddress(ctx context.Context, address string, limit int) ([]models.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]models.LedgerEntry, 0)
	for i := len(m.entries) - 1; i >= 0; i-- {
		e := m.entries[i]
		if e.FromAddress != address && e.ToAddress != address {
			continue
		}
		result = append(result, e)
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}

func (m *MemoryLedgerStore) ScanEntries(ctx context.Context, fn func(entry models.LedgerEntry) error) error {
	// entries is append-only, so a copy taken under the read lock is a snapshot
	m.mu.RLock()
	snapshot := make([]models.LedgerEntry, len(m.entries))
	copy(snapshot, m.entries)
	m.mu.RUnlock()

	for _, e := range snapshot {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

// WithinTx runs fn against a staging transaction and applies its writes
// only if fn succeeds. Locks taken by fn are released either way.
func (m *MemoryLedgerStore) WithinTx(ctx context.Context, fn func(tx interfaces.LedgerTx) error) error {
	tx := &memoryTx{
		store:    m,
		locked:   make(map[string]bool),
		balances: make(map[string]decimal.Decimal),
	}
	defer tx.held.ReleaseAll()

	if err := fn(tx); err != nil {
		return err
	}
	return m.commit(tx)
}

func (m *MemoryLedgerStore) commit(tx *memoryTx) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// last-resort uniqueness check, the tail lock should make this unreachable
	next := uint64(len(m.entries)) + 1
	for i, e := range tx.entries {
		if e.Position != next+uint64(i) {
			return errors.Wrapf(interfaces.ErrPositionConflict, "position [%d]", e.Position)
		}
		if _, exists := m.byDigest[e.Digest]; exists {
			return errors.Wrapf(interfaces.ErrPositionConflict, "digest [%s]", e.Digest)
		}
	}

	for address, balance := range tx.balances {
		account := m.accounts[address]
		account.Balance = balance
		m.accounts[address] = account
	}
	for _, e := range tx.entries {
		m.byDigest[e.Digest] = len(m.entries)
		m.entries = append(m.entries, e)
	}
	return nil
}

type memoryTx struct {
	store      *MemoryLedgerStore
	held       locks.Held
	locked     map[string]bool
	tailLocked bool
	balances   map[string]decimal.Decimal
	entries    []models.LedgerEntry
}

func (tx *memoryTx) LockAccount(ctx context.Context, address string) (models.Account, error) {
	if !tx.locked[address] {
		release, err := tx.store.rowLocks.Acquire(ctx, "account/"+address)
		if err != nil {
			return models.Account{}, errors.Wrapf(err, "locking account [%s]", address)
		}
		tx.held.Add(release)
		tx.locked[address] = true
	}

	account, err := tx.store.GetAccount(ctx, address)
	if err != nil {
		return models.Account{}, err
	}
	if staged, ok := tx.balances[address]; ok {
		account.Balance = staged
	}
	return account, nil
}

func (tx *memoryTx) LockTail(ctx context.Context) (models.ChainTail, error) {
	if !tx.tailLocked {
		release, err := tx.store.rowLocks.Acquire(ctx, tailLockKey)
		if err != nil {
			return models.ChainTail{}, errors.Wrap(err, "locking chain tail")
		}
		tx.held.Add(release)
		tx.tailLocked = true
	}

	if n := len(tx.entries); n > 0 {
		last := tx.entries[n-1]
		return models.ChainTail{Position: last.Position, Digest: last.Digest}, nil
	}

	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()
	n := len(tx.store.entries)
	if n == 0 {
		return models.ChainTail{}, nil
	}
	last := tx.store.entries[n-1]
	return models.ChainTail{Position: last.Position, Digest: last.Digest}, nil
}

func (tx *memoryTx) UpdateBalance(ctx context.Context, address string, balance decimal.Decimal) error {
	if !tx.locked[address] {
		return errors.Errorf("account [%s] updated without holding its lock", address)
	}
	tx.balances[address] = balance
	return nil
}

func (tx *memoryTx) InsertEntry(ctx context.Context, entry models.LedgerEntry) error {
	if !tx.tailLocked {
		return errors.New("entry inserted without holding the chain tail")
	}
	tx.store.mu.RLock()
	_, digestTaken := tx.store.byDigest[entry.Digest]
	positionTaken := entry.Position <= uint64(len(tx.store.entries))
	tx.store.mu.RUnlock()

	for _, staged := range tx.entries {
		positionTaken = positionTaken || staged.Position == entry.Position
		digestTaken = digestTaken || staged.Digest == entry.Digest
	}
	if positionTaken || digestTaken {
		return errors.Wrapf(interfaces.ErrPositionConflict, "position [%d]", entry.Position)
	}
	tx.entries = append(tx.entries, entry)
	return nil
}

// Compile-time check: ensure MemoryLedgerStore implements LedgerStore interface
var _ interfaces.LedgerStore = (*MemoryLedgerStore)(nil)
