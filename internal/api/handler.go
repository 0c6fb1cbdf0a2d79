// Package api is the HTTP adapter in front of the ledger. Callers are
// authenticated upstream; the authenticated address arrives in CallerHeader.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sheikh-saqib/hashchain-ledger/internal/ledger"
	"github.com/sheikh-saqib/hashchain-ledger/internal/models"
)

const CallerHeader = "X-Account-Address"

// LedgerService is what the handlers need from *ledger.Ledger.
type LedgerService interface {
	Transfer(ctx context.Context, caller models.Account, toAddress string, amount decimal.Decimal) (models.LedgerEntry, error)
	OpenAccount(ctx context.Context) (models.Account, error)
	Account(ctx context.Context, address string) (models.Account, error)
	EntryByDigest(ctx context.Context, digest string) (models.LedgerEntry, error)
	EntriesByAddress(ctx context.Context, address string, limit int) ([]models.LedgerEntry, error)
	Tail(ctx context.Context) (models.ChainTail, error)
	VerifyChain(ctx context.Context) (models.VerificationReport, error)
}

// RateLimiter decides whether a caller may submit another transfer.
type RateLimiter interface {
	Allow(key string) bool
}

type Handler struct {
	ledger  LedgerService
	limiter RateLimiter // optional
	logger  *zap.SugaredLogger
}

func NewHandler(service LedgerService, limiter RateLimiter, logger *zap.SugaredLogger) *Handler {
	return &Handler{
		ledger:  service,
		limiter: limiter,
		logger:  logger,
	}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.GetHealth)
	mux.HandleFunc("POST /v1/accounts", h.OpenAccount)
	mux.HandleFunc("GET /v1/accounts/{address}", h.GetAccount)
	mux.HandleFunc("POST /v1/transfers", h.PostTransfer)
	mux.HandleFunc("GET /v1/entries/{digest}", h.GetEntry)
	mux.HandleFunc("GET /v1/addresses/{address}/entries", h.GetEntriesByAddress)
	mux.HandleFunc("GET /v1/chain/tail", h.GetTail)
	mux.HandleFunc("GET /v1/chain/verify", h.VerifyChain)
	return mux
}

func (h *Handler) GetHealth(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, HealthResponse{Status: "UP"})
}

func (h *Handler) OpenAccount(w http.ResponseWriter, r *http.Request) {
	account, err := h.ledger.OpenAccount(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, toAccountResponse(account))
}

func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	account, err := h.ledger.Account(r.Context(), r.PathValue("address"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toAccountResponse(account))
}

func (h *Handler) PostTransfer(w http.ResponseWriter, r *http.Request) {
	address := strings.TrimSpace(r.Header.Get(CallerHeader))
	if address == "" {
		h.writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "missing caller identity"})
		return
	}

	caller, err := h.ledger.Account(r.Context(), address)
	if errors.Is(err, ledger.ErrAccountNotFound) {
		h.writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "unknown caller"})
		return
	}
	if err != nil {
		h.writeError(w, err)
		return
	}
	if caller.Frozen {
		h.writeJSON(w, http.StatusForbidden, ErrorResponse{Error: "account frozen"})
		return
	}
	if h.limiter != nil && !h.limiter.Allow(caller.Address) {
		h.writeJSON(w, http.StatusTooManyRequests, ErrorResponse{Error: "too many transfers"})
		return
	}

	var req TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}
	amount, err := ledger.ParseAmount(strings.TrimSpace(req.Amount))
	if err != nil {
		h.writeError(w, err)
		return
	}

	entry, err := h.ledger.Transfer(r.Context(), caller, req.ToAddress, amount)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, toEntryResponse(entry))
}

func (h *Handler) GetEntry(w http.ResponseWriter, r *http.Request) {
	entry, err := h.ledger.EntryByDigest(r.Context(), r.PathValue("digest"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toEntryResponse(entry))
}

func (h *Handler) GetEntriesByAddress(w http.ResponseWriter, r *http.Request) {
	var limit int
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			h.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid limit"})
			return
		}
		limit = parsed
	}

	address := r.PathValue("address")
	entries, err := h.ledger.EntriesByAddress(r.Context(), address, limit)
	if err != nil {
		h.writeError(w, err)
		return
	}

	response := EntriesResponse{Address: address, Entries: make([]EntryResponse, 0, len(entries))}
	for _, e := range entries {
		response.Entries = append(response.Entries, toEntryResponse(e))
	}
	h.writeJSON(w, http.StatusOK, response)
}

func (h *Handler) GetTail(w http.ResponseWriter, r *http.Request) {
	tail, err := h.ledger.Tail(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, TailResponse{Position: tail.Position, Digest: tail.Digest})
}

func (h *Handler) VerifyChain(w http.ResponseWriter, r *http.Request) {
	report, err := h.ledger.VerifyChain(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, report)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrInvalidAmount), errors.Is(err, ledger.ErrInvalidRecipient):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrReceiverNotFound),
		errors.Is(err, ledger.ErrAccountNotFound),
		errors.Is(err, ledger.ErrEntryNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ledger.ErrPositionConflict):
		return http.StatusConflict
	default:
		return http.StatusServiceUnavailable
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	message := err.Error()
	if status == http.StatusServiceUnavailable {
		h.logger.Errorw("request failed", "error", err)
		message = ledger.ErrStorageUnavailable.Error()
		if errors.Is(err, ledger.ErrLockTimeout) {
			message = ledger.ErrLockTimeout.Error()
		}
	}
	h.writeJSON(w, status, ErrorResponse{Error: message})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Warnw("encoding response", "error", err)
	}
}
