package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account is a balance-holding entity identified by its address.
type Account struct {
	Address   string          `json:"address"`
	Balance   decimal.Decimal `json:"balance"` // never negative, 8 fractional digits
	Frozen    bool            `json:"frozen"`
	CreatedAt time.Time       `json:"created_at"`
}
