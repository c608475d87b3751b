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

type AccountHandler struct {
	store store.Store
}

func NewAccountHandler(st store.Store) *AccountHandler {
	return &AccountHandler{store: st}
}

func (h *AccountHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.store.ListAccounts(r.Context())
	if err != nil {
		logger.ErrorFromContext(r.Context(), "Failed to list accounts", "error", err)
		writeLedgerError(w, err)
		return
	}
	if accounts == nil {
		accounts = []*models.Account{}
	}
	utils.SendJSON(w, accounts, http.StatusOK)
}

func (h *AccountHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	acc, err := h.store.GetAccount(r.Context(), id)
	if err != nil {
		writeLedgerError(w, err)
		return
	}
	utils.SendJSON(w, acc, http.StatusOK)
}

func (h *AccountHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var input models.CreateAccountInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		utils.SendJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := validation.ValidateAccountInput(&input); err != nil {
		writeLedgerError(w, err)
		return
	}

	acc := &models.Account{
		ID:           uuid.NewString(),
		Name:         input.Name,
		Registration: input.Registration,
		CreatedAt:    time.Now().UTC(),
	}
	if err := h.store.CreateAccount(r.Context(), acc); err != nil {
		logger.ErrorFromContext(r.Context(), "Failed to create account", "name", acc.Name, "error", err)
		writeLedgerError(w, err)
		return
	}
	logger.InfoFromContext(r.Context(), "Account created", "accountID", acc.ID, "registration", string(acc.Registration))
	utils.SendJSON(w, acc, http.StatusCreated)
}
