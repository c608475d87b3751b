package handlers

import (
	"errors"
	"net/http"

	"github.com/username/acbfolio/backend/src/ledger"
	"github.com/username/acbfolio/backend/src/security/validation"
	"github.com/username/acbfolio/backend/src/store"
	"github.com/username/acbfolio/backend/src/utils"
)

// writeLedgerError maps core errors onto HTTP statuses: missing entities to
// 404, rejected inputs to 400, an unavailable FX rate to 502, everything else
// to 500.
func writeLedgerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrNotFound), errors.Is(err, store.ErrNotFound):
		utils.SendJSONError(w, err.Error(), http.StatusNotFound)
	case ledger.IsValidation(err), errors.Is(err, validation.ErrValidationFailed):
		utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ledger.ErrFxUnavailable):
		utils.SendJSONError(w, err.Error(), http.StatusBadGateway)
	default:
		utils.SendJSONError(w, "internal server error", http.StatusInternalServerError)
	}
}
