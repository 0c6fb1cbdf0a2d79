package ledger

import (
	"errors"

	interfaces "github.com/sheikh-saqib/hashchain-ledger/internal/interfaces"
)

var (
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInvalidRecipient    = errors.New("invalid recipient")
	ErrReceiverNotFound    = errors.New("receiver not found")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrAccountNotFound     = interfaces.ErrAccountNotFound
	ErrEntryNotFound       = interfaces.ErrEntryNotFound
	ErrPositionConflict    = interfaces.ErrPositionConflict
	ErrLockTimeout         = interfaces.ErrLockTimeout
	ErrStorageUnavailable  = errors.New("storage unavailable")
)

// IsTransient reports whether a failed transfer may be retried as a whole.
func IsTransient(err error) bool {
	return errors.Is(err, ErrPositionConflict) || errors.Is(err, ErrLockTimeout)
}

// classify keeps known taxonomy errors as they are and marks everything else
// as a storage fault, keeping the cause in the chain.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrInvalidRecipient),
		errors.Is(err, ErrReceiverNotFound),
		errors.Is(err, ErrAccountNotFound),
		errors.Is(err, ErrEntryNotFound),
		errors.Is(err, ErrInsufficientBalance),
		errors.Is(err, ErrPositionConflict),
		errors.Is(err, ErrLockTimeout),
		errors.Is(err, ErrStorageUnavailable):
		return err
	}
	return errors.Join(ErrStorageUnavailable, err)
}
