package interfaces

import "errors"

var (
	ErrAccountNotFound  = errors.New("account not found")
	ErrAccountExists    = errors.New("account already exists")
	ErrEntryNotFound    = errors.New("ledger entry not found")
	ErrPositionConflict = errors.New("chain position or digest already taken")
	ErrLockTimeout      = errors.New("timed out waiting for lock")
)
