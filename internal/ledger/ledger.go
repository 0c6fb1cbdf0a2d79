package ledger

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sheikh-saqib/hashchain-ledger/internal/cache"
	interfaces "github.com/sheikh-saqib/hashchain-ledger/internal/interfaces"
	"github.com/sheikh-saqib/hashchain-ledger/internal/metrics"
	"github.com/sheikh-saqib/hashchain-ledger/internal/models"
)

const (
	// DefaultHistoryLimit is the page size of EntriesByAddress when none is given.
	DefaultHistoryLimit = 50
	// MaxHistoryLimit caps the page size of EntriesByAddress.
	MaxHistoryLimit = 500
)

const addressPrefix = "LRD"

// Config holds the tunables of a Ledger.
type Config struct {
	// LockTimeout bounds the wait for the account row locks and the chain tail.
	LockTimeout time.Duration
	// Retries is how many times a transfer failing with a transient fault is
	// repeated. A failed attempt leaves no effect behind.
	Retries int
	// RetryBackoff is multiplied by the attempt number between retries.
	RetryBackoff time.Duration
	// OpeningBalance is granted to every account created by OpenAccount.
	OpeningBalance decimal.Decimal
	// PublishBuffer is how many TransferCompleted events may wait for the
	// publisher. Defaults to 1024.
	PublishBuffer int
	// PublishTimeout bounds one publish call. Defaults to 5s.
	PublishTimeout time.Duration
}

// Ledger moves balance between accounts and chains every transfer to its
// predecessor. It is the only writer of balances and entries.
type Ledger struct {
	store   interfaces.LedgerStore
	outbox  *outbox           // nil without a publisher
	entries *cache.EntryCache // optional
	metrics *metrics.Metrics  // optional
	logger  *zap.SugaredLogger
	cfg     Config
	now     func() time.Time
}

// NewLedger creates a Ledger on store. publisher, entries and metrics may be
// nil. With a publisher, a background goroutine delivers TransferCompleted
// events until Close is called.
func NewLedger(
	store interfaces.LedgerStore,
	publisher interfaces.EventPublisher,
	entries *cache.EntryCache,
	metrics *metrics.Metrics,
	logger *zap.SugaredLogger,
	cfg Config,
) *Ledger {
	l := &Ledger{
		store:   store,
		entries: entries,
		metrics: metrics,
		logger:  logger,
		cfg:     cfg,
		now:     time.Now,
	}
	if publisher != nil {
		l.outbox = newOutbox(publisher, logger, cfg.PublishBuffer, cfg.PublishTimeout)
	}
	return l
}

// Transfer debits caller and credits toAddress by amount, appending the next
// chain entry in the same atomic unit. Frozen callers must be rejected by the
// caller before getting here.
func (l *Ledger) Transfer(ctx context.Context, caller models.Account, toAddress string, amount decimal.Decimal) (models.LedgerEntry, error) {
	started := l.now()

	entry, err := l.transferWithRetry(ctx, caller.Address, strings.TrimSpace(toAddress), amount)
	if err != nil {
		l.metrics.TransferFailed(failureReason(err))
		if errors.Is(err, ErrStorageUnavailable) {
			l.logger.Errorw("transfer failed", "from", caller.Address, "to", toAddress, "error", err)
		} else {
			l.logger.Infow("transfer rejected", "from", caller.Address, "to", toAddress, "reason", err.Error())
		}
		return models.LedgerEntry{}, err
	}

	l.metrics.TransferCommitted(entry.Position, l.now().Sub(started))
	l.logger.Infow("transfer committed",
		"position", entry.Position,
		"digest", entry.Digest,
		"from", entry.FromAddress,
		"to", entry.ToAddress,
		"amount", FormatAmount(entry.Amount))
	l.publishCompleted(entry)
	return entry, nil
}

func (l *Ledger) transferWithRetry(ctx context.Context, from, to string, amount decimal.Decimal) (models.LedgerEntry, error) {
	amount, err := validAmount(amount)
	if err != nil {
		return models.LedgerEntry{}, err
	}
	if !ValidAddress(to) || to == from {
		return models.LedgerEntry{}, ErrInvalidRecipient
	}

	for attempt := 0; ; attempt++ {
		entry, err := l.transfer(ctx, from, to, amount)
		if err == nil || !IsTransient(err) || attempt >= l.cfg.Retries {
			return entry, err
		}

		l.metrics.TransferRetried()
		l.logger.Warnw("retrying transfer", "from", from, "to", to, "attempt", attempt+1, "error", err)
		select {
		case <-ctx.Done():
			return models.LedgerEntry{}, classify(ctx.Err())
		case <-time.After(l.cfg.RetryBackoff * time.Duration(attempt+1)):
		}
	}
}

// transfer is one attempt: lock both accounts in address order, re-check the
// balance, take the chain tail and stage the two balance updates and the
// entry. Either everything commits or nothing does.
func (l *Ledger) transfer(ctx context.Context, from, to string, amount decimal.Decimal) (models.LedgerEntry, error) {
	var entry models.LedgerEntry

	err := l.store.WithinTx(ctx, func(tx interfaces.LedgerTx) error {
		lockCtx, cancel := context.WithTimeout(ctx, l.cfg.LockTimeout)
		defer cancel()

		accounts := make(map[string]models.Account, 2)
		for _, address := range lockOrder(from, to) {
			account, err := tx.LockAccount(lockCtx, address)
			if errors.Is(err, ErrAccountNotFound) && address == to {
				return ErrReceiverNotFound
			}
			if err != nil {
				return err
			}
			accounts[address] = account
		}

		sender, receiver := accounts[from], accounts[to]
		if sender.Balance.LessThan(amount) {
			return ErrInsufficientBalance
		}

		tail, err := lockedTail(lockCtx, tx)
		if err != nil {
			return err
		}

		entry = models.LedgerEntry{
			Position:    tail.Position + 1,
			FromAddress: sender.Address,
			ToAddress:   receiver.Address,
			Amount:      amount,
			PrevDigest:  tail.Digest,
			CreatedAt:   l.now().UTC(),
		}
		entry.Digest = EntryHash(entry)

		if err := tx.UpdateBalance(ctx, sender.Address, sender.Balance.Sub(amount)); err != nil {
			return err
		}
		if err := tx.UpdateBalance(ctx, receiver.Address, receiver.Balance.Add(amount)); err != nil {
			return err
		}
		return tx.InsertEntry(ctx, entry)
	})
	if err != nil {
		return models.LedgerEntry{}, classify(err)
	}
	return entry, nil
}

// lockOrder returns both addresses in one global order so that two opposite
// transfers between the same pair never wait on each other in a cycle.
func lockOrder(from, to string) [2]string {
	if from < to {
		return [2]string{from, to}
	}
	return [2]string{to, from}
}

func (l *Ledger) publishCompleted(entry models.LedgerEntry) {
	if l.outbox == nil {
		return
	}
	l.outbox.enqueue(entry)
}

// Close waits for queued TransferCompleted events to be handed to the
// publisher. Events of transfers committed after Close are dropped.
func (l *Ledger) Close() {
	if l.outbox != nil {
		l.outbox.close()
	}
}

// OpenAccount provisions an account with a fresh address and the configured
// opening balance.
func (l *Ledger) OpenAccount(ctx context.Context) (models.Account, error) {
	account := models.Account{
		Address:   addressPrefix + strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")),
		Balance:   Quantize(l.cfg.OpeningBalance),
		CreatedAt: l.now().UTC(),
	}
	if err := l.store.CreateAccount(ctx, account); err != nil {
		return models.Account{}, classify(err)
	}
	l.logger.Infow("account opened", "address", account.Address, "balance", FormatAmount(account.Balance))
	return account, nil
}

// Account returns the committed state of address.
func (l *Ledger) Account(ctx context.Context, address string) (models.Account, error) {
	account, err := l.store.GetAccount(ctx, address)
	if err != nil {
		return models.Account{}, classify(err)
	}
	return account, nil
}

// Balance returns the committed balance of address.
func (l *Ledger) Balance(ctx context.Context, address string) (decimal.Decimal, error) {
	account, err := l.Account(ctx, address)
	if err != nil {
		return decimal.Zero, err
	}
	return account.Balance, nil
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ErrInvalidRecipient):
		return "invalid_recipient"
	case errors.Is(err, ErrReceiverNotFound):
		return "receiver_not_found"
	case errors.Is(err, ErrAccountNotFound):
		return "sender_not_found"
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrPositionConflict):
		return "position_conflict"
	case errors.Is(err, ErrLockTimeout):
		return "lock_timeout"
	default:
		return "storage_unavailable"
	}
}
