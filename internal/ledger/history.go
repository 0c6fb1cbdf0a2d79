package ledger

import (
	"context"

	"github.com/sheikh-saqib/hashchain-ledger/internal/models"
)

func (l *Ledger) EntryByDigest(ctx context.Context, digest string) (models.LedgerEntry, error) {
	load := func() (models.LedgerEntry, error) {
		return l.store.GetEntryByDigest(ctx, digest)
	}

	var entry models.LedgerEntry
	var err error
	if l.entries != nil {
		entry, err = l.entries.GetOrLoad(digest, load)
	} else {
		entry, err = load()
	}
	if err != nil {
		return models.LedgerEntry{}, classify(err)
	}
	return entry, nil
}

// EntriesByAddress lists entries sent or received by address, newest first.
// A non-positive limit means DefaultHistoryLimit.
func (l *Ledger) EntriesByAddress(ctx context.Context, address string, limit int) ([]models.LedgerEntry, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	entries, err := l.store.GetEntriesByAddress(ctx, address, limit)
	if err != nil {
		return nil, classify(err)
	}
	return entries, nil
}
