package interfaces

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/sheikh-saqib/hashchain-ledger/internal/models"
)

// LedgerStore is the single authoritative store for accounts and chain entries.
type LedgerStore interface {
	// WithinTx runs fn inside one atomic unit. Every effect staged through tx
	// commits together when fn returns nil and is discarded otherwise.
	WithinTx(ctx context.Context, fn func(tx LedgerTx) error) error

	CreateAccount(ctx context.Context, account models.Account) error
	GetAccount(ctx context.Context, address string) (models.Account, error)

	GetEntryByDigest(ctx context.Context, digest string) (models.LedgerEntry, error)
	// GetEntriesByAddress returns entries where address is sender or receiver,
	// newest position first.
	GetEntriesByAddress(ctx context.Context, address string, limit int) ([]models.LedgerEntry, error)
	// ScanEntries calls fn for every entry in ascending position order over a
	// consistent snapshot. Iteration stops at the first error returned by fn.
	ScanEntries(ctx context.Context, fn func(entry models.LedgerEntry) error) error
}

// LedgerTx is the view of an open atomic unit.
type LedgerTx interface {
	// LockAccount takes the exclusive row lock on the account and returns its
	// current state. Returns ErrAccountNotFound when the address is unknown.
	LockAccount(ctx context.Context, address string) (models.Account, error)
	// LockTail takes the chain-tail serialization point and returns the tail,
	// or the zero ChainTail when the chain is empty.
	LockTail(ctx context.Context) (models.ChainTail, error)
	UpdateBalance(ctx context.Context, address string, balance decimal.Decimal) error
	// InsertEntry appends the entry. Returns ErrPositionConflict if position or
	// digest is already taken.
	InsertEntry(ctx context.Context, entry models.LedgerEntry) error
}
