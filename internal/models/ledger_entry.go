package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// LedgerEntry represents one committed transfer and one link of the hash chain.
type LedgerEntry struct {
	Position    uint64          `json:"position"` // 1-based, no gaps
	FromAddress string          `json:"from_address"`
	ToAddress   string          `json:"to_address"`
	Amount      decimal.Decimal `json:"amount"`
	PrevDigest  string          `json:"prev_digest"`
	Digest      string          `json:"digest"`
	CreatedAt   time.Time       `json:"created_at"`
}

// ChainTail is the position and digest of the most recently committed entry.
type ChainTail struct {
	Position uint64 `json:"position"`
	Digest   string `json:"digest"`
}
