package events

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransferCompleted struct {
	EventID     string          `json:"event_id"`
	Position    uint64          `json:"position"`
	Digest      string          `json:"digest"`
	FromAddress string          `json:"from_address"`
	ToAddress   string          `json:"to_address"`
	Amount      decimal.Decimal `json:"amount"`
	OccurredAt  time.Time       `json:"occurred_at"`
}
