package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/username/acbfolio/backend/src/dec"
	"github.com/username/acbfolio/backend/src/fx"
	"github.com/username/acbfolio/backend/src/logger"
	"github.com/username/acbfolio/backend/src/models"
	"github.com/username/acbfolio/backend/src/utils"
)

type FxRateHandler struct {
	oracle *fx.Oracle
}

func NewFxRateHandler(oracle *fx.Oracle) *FxRateHandler {
	return &FxRateHandler{oracle: oracle}
}

// HandleGetRate answers /api/fx-rates/rate?date=YYYY-MM-DD&from=USD&to=CAD.
func (h *FxRateHandler) HandleGetRate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	dateStr := q.Get("date")
	from := strings.ToUpper(q.Get("from"))
	to := strings.ToUpper(q.Get("to"))

	if dateStr == "" || from == "" || to == "" {
		utils.SendJSONError(w, "date, from, and to query parameters are required", http.StatusBadRequest)
		return
	}
	date, err := models.ParseDate(dateStr)
	if err != nil {
		utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	rate, err := h.oracle.Rate(r.Context(), date, from, to)
	if err != nil {
		if errors.Is(err, fx.ErrRateNotAvailable) {
			utils.SendJSONError(w, err.Error(), http.StatusNotFound)
			return
		}
		logger.ErrorFromContext(r.Context(), "Failed to resolve fx rate",
			"date", dateStr, "from", from, "to", to, "error", err)
		writeLedgerError(w, err)
		return
	}

	utils.SendJSON(w, map[string]string{
		"date": date.String(),
		"from": from,
		"to":   to,
		"rate": dec.RoundFX(rate).String(),
	}, http.StatusOK)
}
