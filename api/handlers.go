/*
handlers.go - HTTP API handlers for the banking ledger

PURPOSE:
  Exposes the ledger engine and books via REST. Handles HTTP
  request/response, JSON serialization, and delegates to the ledger package.

ENDPOINTS:
  Transactions:
    POST   /api/transactions           Apply deposit/withdrawal/transfer
    GET    /api/transactions           List records visible to the profile
    GET    /api/transactions/{id}      Get one record

  Accounts:
    POST   /api/accounts               Open an account (balance 0)
    GET    /api/accounts               List accounts (?clientId=)
    GET    /api/accounts/{id}          Get one account
    GET    /api/accounts/{id}/transactions  One account's records

REQUEST FLOW:
  1. Auth middleware puts the Profile in the context
  2. Parse HTTP request
  3. Call the ledger (engine for writes, books for reads)
  4. Publish TransactionCompleted after a commit
  5. Serialize response or map the error kind to a status (errors.go)

SEE ALSO:
  - dto.go: Request/response data structures
  - auth.go: Profile resolution
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/warp/banking-ledger/events"
	"github.com/warp/banking-ledger/ledger"
)

const publishTimeout = 5 * time.Second

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	engine    *ledger.Engine
	books     *ledger.Books
	publisher events.Publisher
	log       *zap.Logger
}

// NewHandler wires the handlers. A nil publisher or logger is replaced by a
// no-op.
func NewHandler(engine *ledger.Engine, books *ledger.Books, publisher events.Publisher, log *zap.Logger) *Handler {
	if publisher == nil {
		publisher = events.Nop{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{engine: engine, books: books, publisher: publisher, log: log}
}

// =============================================================================
// TRANSACTION ENDPOINTS
// =============================================================================

// CreateTransaction applies a money movement.
func (h *Handler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	profile, _ := ProfileFrom(r.Context())

	var req CreateTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	lreq := req.toLedgerRequest(profile)
	rec, err := h.engine.Apply(r.Context(), lreq)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}

	h.publish(r.Context(), events.NewTransactionCompleted(rec, lreq.DestinationAccountID))
	writeJSON(w, http.StatusCreated, toTransactionDTO(rec))
}

// ListTransactions returns every record the caller's profile may see.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	profile, _ := ProfileFrom(r.Context())

	recs, err := h.books.ListTransactions(r.Context(), profile)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTOs(recs))
}

func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	profile, _ := ProfileFrom(r.Context())

	id, ok := idParam(w, r)
	if !ok {
		return
	}
	rec, err := h.books.GetTransaction(r.Context(), profile, ledger.RecordID(id))
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTO(rec))
}

// =============================================================================
// ACCOUNT ENDPOINTS
// =============================================================================

func (h *Handler) OpenAccount(w http.ResponseWriter, r *http.Request) {
	profile, _ := ProfileFrom(r.Context())

	var req OpenAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ClientID <= 0 {
		writeError(w, http.StatusBadRequest, "clientId must be a positive integer", nil)
		return
	}

	acc, err := h.books.OpenAccount(r.Context(), profile, ledger.ClientID(req.ClientID))
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	h.log.Info("account opened", zap.Int64("account_id", int64(acc.ID)), zap.Int64("client_id", req.ClientID))
	writeJSON(w, http.StatusCreated, toAccountDTO(acc))
}

func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	acc, err := h.books.GetAccount(r.Context(), ledger.AccountID(id))
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(acc))
}

// ListAccountTransactions returns one account's history, filtered by profile.
func (h *Handler) ListAccountTransactions(w http.ResponseWriter, r *http.Request) {
	profile, _ := ProfileFrom(r.Context())

	id, ok := idParam(w, r)
	if !ok {
		return
	}
	recs, err := h.books.ListAccountTransactions(r.Context(), profile, ledger.AccountID(id))
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTOs(recs))
}

func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	var clientID *ledger.ClientID
	if raw := r.URL.Query().Get("clientId"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid clientId", err)
			return
		}
		c := ledger.ClientID(n)
		clientID = &c
	}

	accs, err := h.books.ListAccounts(r.Context(), clientID)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTOs(accs))
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func idParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid id", err)
		return 0, false
	}
	return id, true
}

// publish never fails the request: the commit is already durable.
func (h *Handler) publish(ctx context.Context, ev events.TransactionCompleted) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if err := h.publisher.Publish(ctx, ev); err != nil {
		h.log.Warn("failed to publish event",
			zap.String("event_id", ev.EventID.String()),
			zap.Int64("record_id", int64(ev.RecordID)),
			zap.Error(err))
	}
}
