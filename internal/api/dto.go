package api

import (
	"time"

	"github.com/sheikh-saqib/hashchain-ledger/internal/ledger"
	"github.com/sheikh-saqib/hashchain-ledger/internal/models"
)

type TransferRequest struct {
	ToAddress string `json:"to_address"`
	Amount    string `json:"amount"`
}

type EntryResponse struct {
	Position    uint64    `json:"position"`
	FromAddress string    `json:"from_address"`
	ToAddress   string    `json:"to_address"`
	Amount      string    `json:"amount"`
	PrevDigest  string    `json:"prev_digest"`
	Digest      string    `json:"digest"`
	CreatedAt   time.Time `json:"created_at"`
}

type EntriesResponse struct {
	Address string          `json:"address"`
	Entries []EntryResponse `json:"entries"`
}

type AccountResponse struct {
	Address string `json:"address"`
	Balance string `json:"balance"`
	Frozen  bool   `json:"frozen"`
}

type TailResponse struct {
	Position uint64 `json:"position"`
	Digest   string `json:"digest"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type HealthResponse struct {
	Status string `json:"status"`
}

func toEntryResponse(e models.LedgerEntry) EntryResponse {
	return EntryResponse{
		Position:    e.Position,
		FromAddress: e.FromAddress,
		ToAddress:   e.ToAddress,
		Amount:      ledger.FormatAmount(e.Amount),
		PrevDigest:  e.PrevDigest,
		Digest:      e.Digest,
		CreatedAt:   e.CreatedAt,
	}
}

func toAccountResponse(a models.Account) AccountResponse {
	return AccountResponse{
		Address: a.Address,
		Balance: ledger.FormatAmount(a.Balance),
		Frozen:  a.Frozen,
	}
}
