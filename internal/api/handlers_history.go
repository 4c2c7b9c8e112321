package api

import (
	"net/http"
	"strconv"

	"github.com/iammorganparry/clive/apps/remote/internal/models"
	"github.com/iammorganparry/clive/apps/remote/internal/store"
)

type HistoryHandler struct {
	events *store.EventStore
}

func NewHistoryHandler(events *store.EventStore) *HistoryHandler {
	return &HistoryHandler{events: events}
}

// List handles GET /history
func (h *HistoryHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeErrorCode(w, http.StatusBadRequest, "invalid_limit", "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	mobileID := r.URL.Query().Get("mobile_id")

	events, err := h.events.List(mobileID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, models.HistoryResponse{Events: events})
}
