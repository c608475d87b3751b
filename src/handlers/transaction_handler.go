package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/username/acbfolio/backend/src/ledger"
	"github.com/username/acbfolio/backend/src/logger"
	"github.com/username/acbfolio/backend/src/models"
	"github.com/username/acbfolio/backend/src/security/validation"
	"github.com/username/acbfolio/backend/src/store"
	"github.com/username/acbfolio/backend/src/utils"
)

type TransactionHandler struct {
	store        store.Store
	orchestrator *ledger.Orchestrator
}

func NewTransactionHandler(st store.Store, orch *ledger.Orchestrator) *TransactionHandler {
	return &TransactionHandler{store: st, orchestrator: orch}
}

// HandleList returns transactions in presentation order (date desc,
// createdAt desc), optionally filtered by security and account. Sends 304
// when the client's ETag still matches.
func (h *TransactionHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	filter := store.TransactionFilter{
		SecurityID: r.URL.Query().Get("securityId"),
		AccountID:  r.URL.Query().Get("accountId"),
	}
	transactions, err := h.store.ListTransactions(r.Context(), filter)
	if err != nil {
		logger.ErrorFromContext(r.Context(), "Failed to list transactions", "error", err)
		writeLedgerError(w, err)
		return
	}
	if transactions == nil {
		transactions = []*models.Transaction{}
	}

	if etag, err := utils.GenerateETag(transactions); err == nil {
		if match := r.Header.Get("If-None-Match"); match != "" && match == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", etag)
	}
	utils.SendJSON(w, transactions, http.StatusOK)
}

func (h *TransactionHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	tx, err := h.store.GetTransaction(r.Context(), id)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	utils.SendJSON(w, tx, http.StatusOK)
}

// HandleCreate runs the full create lifecycle: validation, FX resolution,
// algebra application, replay of the affected suffix, and superficial-loss
// detection. The response is the persisted row including the audit trail.
func (h *TransactionHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var input models.CreateTransactionInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		utils.SendJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := validation.ValidateTransactionInput(&input); err != nil {
		writeLedgerError(w, err)
		return
	}

	tx, err := h.orchestrator.Create(r.Context(), &input)
	if err != nil {
		logger.ErrorFromContext(r.Context(), "Failed to create transaction",
			"type", string(input.Type), "securityID", input.SecurityID, "error", err)
		writeLedgerError(w, err)
		return
	}
	utils.SendJSON(w, tx, http.StatusCreated)
}

func (h *TransactionHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var patch models.UpdateTransactionInput
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		utils.SendJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if patch.Notes != nil {
		cleaned := validation.SanitizeFreeText(*patch.Notes)
		patch.Notes = &cleaned
	}

	tx, err := h.orchestrator.Update(r.Context(), id, &patch)
	if err != nil {
		logger.ErrorFromContext(r.Context(), "Failed to update transaction", "transactionID", id, "error", err)
		writeLedgerError(w, err)
		return
	}
	utils.SendJSON(w, tx, http.StatusOK)
}

func (h *TransactionHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.orchestrator.Delete(r.Context(), id); err != nil {
		logger.ErrorFromContext(r.Context(), "Failed to delete transaction", "transactionID", id, "error", err)
		writeLedgerError(w, err)
		return
	}
	utils.SendJSON(w, map[string]string{"status": "deleted", "id": id}, http.StatusOK)
}
