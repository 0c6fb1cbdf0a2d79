package ledger

import (
	"context"

	interfaces "github.com/sheikh-saqib/hashchain-ledger/internal/interfaces"
	"github.com/sheikh-saqib/hashchain-ledger/internal/models"
)

// lockedTail reads the chain tail through the serialization point held by tx.
// An empty chain yields position 0 with the genesis digest.
func lockedTail(ctx context.Context, tx interfaces.LedgerTx) (models.ChainTail, error) {
	tail, err := tx.LockTail(ctx)
	if err != nil {
		return models.ChainTail{}, err
	}
	if tail.Position == 0 {
		return models.ChainTail{Position: 0, Digest: GenesisDigest}, nil
	}
	return tail, nil
}

// Tail returns the current chain tail. It waits for in-flight transfers to
// release the tail, so the answer is never a half-inserted entry.
func (l *Ledger) Tail(ctx context.Context) (models.ChainTail, error) {
	var tail models.ChainTail
	err := l.store.WithinTx(ctx, func(tx interfaces.LedgerTx) error {
		lockCtx, cancel := context.WithTimeout(ctx, l.cfg.LockTimeout)
		defer cancel()

		var err error
		tail, err = lockedTail(lockCtx, tx)
		return err
	})
	if err != nil {
		return models.ChainTail{}, classify(err)
	}
	return tail, nil
}
