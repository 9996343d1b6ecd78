// Package httpapi exposes the sync server over HTTP/JSON: the mutation
// endpoint the agents' gateway speaks to, the changed-rows feed, the health
// probe and the ledger operations.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/villaprodiq/studiosync/internal/common"
	"github.com/villaprodiq/studiosync/internal/entity"
	"github.com/villaprodiq/studiosync/internal/logging"
	"github.com/villaprodiq/studiosync/internal/server/models"
	"github.com/villaprodiq/studiosync/internal/server/services"
)

// Error classes reported in non-conflict rejections. The agent's gateway
// keys its schema fallback off undefined_column.
const (
	errorClassUndefinedColumn     = "undefined_column"
	errorClassUnknownEntity       = "unknown_entity"
	errorClassInvalidRequest      = "invalid_request"
	errorClassInvalidAmount       = "invalid_amount"
	errorClassInsufficientBalance = "insufficient_balance"
	errorClassAlreadyReversed     = "already_reversed"
	errorClassWindowExpired       = "reversal_window_expired"
	errorClassNotFound            = "not_found"
)

// SyncApplier is the slice of the sync service the handlers use.
// *services.SyncService satisfies it.
type SyncApplier interface {
	Apply(ctx context.Context, req *services.ApplyRequest) (*services.ApplyResult, error)
	ListUpdated(ctx context.Context, t entity.Type, since string) ([]models.Row, error)
}

// LedgerOps is the slice of the ledger service the handlers use.
// *services.LedgerService satisfies it.
type LedgerOps interface {
	AddCredit(ctx context.Context, clientID string, amount int64, currency, description string) (*models.LedgerTransaction, error)
	DeductCredit(ctx context.Context, clientID string, amount int64, currency, description string) (*models.LedgerTransaction, error)
	Reverse(ctx context.Context, id, by, reason string) (*models.LedgerTransaction, error)
	Balance(ctx context.Context, clientID string) (int64, error)
	Transactions(ctx context.Context, clientID string) ([]*models.LedgerTransaction, error)
}

// Handler serves the sync and ledger endpoints.
type Handler struct {
	sync   SyncApplier
	ledger LedgerOps
	log    logging.Logger
}

func NewHandler(sync SyncApplier, ledger LedgerOps, log logging.Logger) *Handler {
	return &Handler{sync: sync, ledger: ledger, log: log.With("component", "httpapi")}
}

// NewRouter mounts all routes on a chi router.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", h.Health)
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/sync", h.Sync)
		r.Get("/records/{entity}", h.ListRecords)
		r.Route("/ledger", func(r chi.Router) {
			r.Post("/transactions", h.CreateTransaction)
			r.Post("/transactions/{id}/reverse", h.ReverseTransaction)
			r.Get("/clients/{clientID}/balance", h.Balance)
			r.Get("/clients/{clientID}/transactions", h.ListTransactions)
		})
	})

	return r
}

// syncResponse is the wire envelope shared with the agent's platform bridge.
type syncResponse struct {
	Success       bool           `json:"success"`
	Data          map[string]any `json:"data,omitempty"`
	Version       string         `json:"version,omitempty"`
	Conflict      bool           `json:"conflict,omitempty"`
	ServerData    map[string]any `json:"server_data,omitempty"`
	ServerVersion string         `json:"server_version,omitempty"`
	Error         string         `json:"error,omitempty"`
	ErrorClass    string         `json:"error_class,omitempty"`
}

type syncRequest struct {
	Action      string         `json:"action"`
	Entity      string         `json:"entity"`
	Data        map[string]any `json:"data"`
	BaseVersion string         `json:"base_version"`
	HardDelete  bool           `json:"hard_delete"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeSyncError(w http.ResponseWriter, status int, class, msg string) {
	writeJSON(w, status, syncResponse{Error: msg, ErrorClass: class})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) Sync(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeSyncError(w, http.StatusBadRequest, errorClassInvalidRequest, "invalid JSON body")
		return
	}

	res, err := h.sync.Apply(r.Context(), &services.ApplyRequest{
		Action:      entity.Action(req.Action),
		Entity:      entity.Type(req.Entity),
		Data:        req.Data,
		BaseVersion: req.BaseVersion,
		HardDelete:  req.HardDelete,
	})
	if err != nil {
		h.writeSyncFailure(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, syncResponse{
		Success: true,
		Data:    res.Data,
		Version: res.Version,
	})
}

func (h *Handler) writeSyncFailure(w http.ResponseWriter, r *http.Request, err error) {
	var conflict *services.ConflictError
	switch {
	case errors.As(err, &conflict):
		writeJSON(w, http.StatusConflict, syncResponse{
			Conflict:      true,
			ServerData:    conflict.ServerData,
			ServerVersion: conflict.ServerVersion,
		})
	case errors.Is(err, common.ErrUndefinedColumn):
		writeSyncError(w, http.StatusUnprocessableEntity, errorClassUndefinedColumn, err.Error())
	case errors.Is(err, common.ErrUnknownEntity):
		writeSyncError(w, http.StatusUnprocessableEntity, errorClassUnknownEntity, err.Error())
	case errors.Is(err, common.ErrInternal):
		writeSyncError(w, http.StatusBadRequest, errorClassInvalidRequest, err.Error())
	default:
		h.log.Error(r.Context(), "sync apply failed", "error", err.Error())
		writeSyncError(w, http.StatusInternalServerError, "", "internal error")
	}
}

func (h *Handler) ListRecords(w http.ResponseWriter, r *http.Request) {
	t := entity.Type(chi.URLParam(r, "entity"))
	since := r.URL.Query().Get("since")

	rows, err := h.sync.ListUpdated(r.Context(), t, since)
	if err != nil {
		if errors.Is(err, common.ErrUnknownEntity) {
			writeSyncError(w, http.StatusUnprocessableEntity, errorClassUnknownEntity, err.Error())
			return
		}
		h.log.Error(r.Context(), "record feed failed", "error", err.Error())
		writeSyncError(w, http.StatusInternalServerError, "", "internal error")
		return
	}
	if rows == nil {
		rows = []models.Row{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "records": rows})
}

type createTransactionRequest struct {
	ClientID    string `json:"client_id"`
	Kind        string `json:"kind"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	Description string `json:"description"`
}

type reverseTransactionRequest struct {
	By     string `json:"by"`
	Reason string `json:"reason"`
}

type transactionResponse struct {
	ID              string     `json:"id"`
	ClientID        string     `json:"client_id"`
	Kind            string     `json:"kind"`
	Amount          int64      `json:"amount"`
	Currency        string     `json:"currency"`
	Description     string     `json:"description"`
	Status          string     `json:"status"`
	CreatedAt       time.Time  `json:"created_at"`
	CanReverseUntil time.Time  `json:"can_reverse_until"`
	ReversedAt      *time.Time `json:"reversed_at,omitempty"`
	ReversedBy      string     `json:"reversed_by,omitempty"`
	ReverseReason   string     `json:"reverse_reason,omitempty"`
}

func toTransactionResponse(tx *models.LedgerTransaction) transactionResponse {
	return transactionResponse{
		ID:              tx.ID,
		ClientID:        tx.ClientID,
		Kind:            string(tx.Kind),
		Amount:          tx.Amount,
		Currency:        tx.Currency,
		Description:     tx.Description,
		Status:          string(tx.Status),
		CreatedAt:       tx.CreatedAt,
		CanReverseUntil: tx.CanReverseUntil,
		ReversedAt:      tx.ReversedAt,
		ReversedBy:      tx.ReversedBy,
		ReverseReason:   tx.ReverseReason,
	}
}

func (h *Handler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req createTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeSyncError(w, http.StatusBadRequest, errorClassInvalidRequest, "invalid JSON body")
		return
	}

	var (
		tx  *models.LedgerTransaction
		err error
	)
	switch req.Kind {
	case string(models.LedgerCredit):
		tx, err = h.ledger.AddCredit(r.Context(), req.ClientID, req.Amount, req.Currency, req.Description)
	case string(models.LedgerDeduction):
		tx, err = h.ledger.DeductCredit(r.Context(), req.ClientID, req.Amount, req.Currency, req.Description)
	default:
		writeSyncError(w, http.StatusBadRequest, errorClassInvalidRequest, "kind must be credit or deduction")
		return
	}
	if err != nil {
		h.writeLedgerFailure(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"success":     true,
		"transaction": toTransactionResponse(tx),
	})
}

func (h *Handler) ReverseTransaction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req reverseTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeSyncError(w, http.StatusBadRequest, errorClassInvalidRequest, "invalid JSON body")
		return
	}

	tx, err := h.ledger.Reverse(r.Context(), id, req.By, req.Reason)
	if err != nil {
		h.writeLedgerFailure(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"transaction": toTransactionResponse(tx),
	})
}

func (h *Handler) Balance(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "clientID")

	balance, err := h.ledger.Balance(r.Context(), clientID)
	if err != nil {
		h.writeLedgerFailure(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"client_id": clientID,
		"balance":   balance,
	})
}

func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "clientID")

	txs, err := h.ledger.Transactions(r.Context(), clientID)
	if err != nil {
		h.writeLedgerFailure(w, r, err)
		return
	}

	out := make([]transactionResponse, 0, len(txs))
	for _, tx := range txs {
		out = append(out, toTransactionResponse(tx))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"client_id":    clientID,
		"transactions": out,
	})
}

func (h *Handler) writeLedgerFailure(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, common.ErrInvalidAmount):
		writeSyncError(w, http.StatusUnprocessableEntity, errorClassInvalidAmount, err.Error())
	case errors.Is(err, common.ErrInsufficientBalance):
		writeSyncError(w, http.StatusUnprocessableEntity, errorClassInsufficientBalance, err.Error())
	case errors.Is(err, common.ErrAlreadyReversed):
		writeSyncError(w, http.StatusConflict, errorClassAlreadyReversed, err.Error())
	case errors.Is(err, common.ErrReversalWindowExpired):
		writeSyncError(w, http.StatusUnprocessableEntity, errorClassWindowExpired, err.Error())
	case errors.Is(err, common.ErrNotFound):
		writeSyncError(w, http.StatusNotFound, errorClassNotFound, err.Error())
	case errors.Is(err, common.ErrInternal):
		writeSyncError(w, http.StatusBadRequest, errorClassInvalidRequest, err.Error())
	default:
		h.log.Error(r.Context(), "ledger operation failed", "error", err.Error())
		writeSyncError(w, http.StatusInternalServerError, "", "internal error")
	}
}
