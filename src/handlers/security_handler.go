package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/username/acbfolio/backend/src/logger"
	"github.com/username/acbfolio/backend/src/models"
	"github.com/username/acbfolio/backend/src/security/validation"
	"github.com/username/acbfolio/backend/src/store"
	"github.com/username/acbfolio/backend/src/utils"
)

type SecurityHandler struct {
	store store.Store
}

func NewSecurityHandler(st store.Store) *SecurityHandler {
	return &SecurityHandler{store: st}
}

func (h *SecurityHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	securities, err := h.store.ListSecurities(r.Context())
	if err != nil {
		logger.ErrorFromContext(r.Context(), "Failed to list securities", "error", err)
		writeLedgerError(w, err)
		return
	}
	if securities == nil {
		securities = []*models.Security{}
	}
	utils.SendJSON(w, securities, http.StatusOK)
}

func (h *SecurityHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sec, err := h.store.GetSecurity(r.Context(), id)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	utils.SendJSON(w, sec, http.StatusOK)
}

func (h *SecurityHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var input models.CreateSecurityInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		utils.SendJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := validation.ValidateSecurityInput(&input); err != nil {
		writeLedgerError(w, err)
		return
	}

	sec := &models.Security{
		ID:        uuid.NewString(),
		Symbol:    input.Symbol,
		Name:      input.Name,
		Currency:  input.Currency,
		Kind:      input.Kind,
		Exchange:  input.Exchange,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.store.CreateSecurity(r.Context(), sec); err != nil {
		logger.ErrorFromContext(r.Context(), "Failed to create security", "symbol", sec.Symbol, "error", err)
		writeLedgerError(w, err)
		return
	}
	logger.InfoFromContext(r.Context(), "Security created", "securityID", sec.ID, "symbol", sec.Symbol)
	utils.SendJSON(w, sec, http.StatusCreated)
}
