package handlers

import (
	"net/http"

	"github.com/username/acbfolio/backend/src/logger"
	"github.com/username/acbfolio/backend/src/models"
	"github.com/username/acbfolio/backend/src/store"
	"github.com/username/acbfolio/backend/src/utils"
)

type PositionHandler struct {
	store store.Store
}

func NewPositionHandler(st store.Store) *PositionHandler {
	return &PositionHandler{store: st}
}

func (h *PositionHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	positions, err := h.store.ListPositions(r.Context())
	if err != nil {
		logger.ErrorFromContext(r.Context(), "Failed to list positions", "error", err)
		writeLedgerError(w, err)
		return
	}
	if positions == nil {
		positions = []*models.Position{}
	}

	if etag, err := utils.GenerateETag(positions); err == nil {
		if match := r.Header.Get("If-None-Match"); match != "" && match == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", etag)
	}
	utils.SendJSON(w, positions, http.StatusOK)
}
