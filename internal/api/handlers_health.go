package api

import (
	"net/http"

	"github.com/iammorganparry/clive/apps/remote/internal/broker"
	"github.com/iammorganparry/clive/apps/remote/internal/models"
	"github.com/iammorganparry/clive/apps/remote/internal/store"
)

type HealthHandler struct {
	db     *store.DB
	broker *broker.Broker
}

func NewHealthHandler(db *store.DB, b *broker.Broker) *HealthHandler {
	return &HealthHandler{db: db, broker: b}
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	st := h.broker.State()
	resp := models.HealthResponse{
		Status:      "ok",
		Broker:      st.Status,
		MobileCount: st.MobileCount,
	}

	// Check DB
	count, err := h.db.EventCount()
	if err != nil {
		resp.DB = models.ServiceCheck{Status: "error", Message: err.Error()}
		resp.Status = "degraded"
	} else {
		resp.DB = models.ServiceCheck{Status: "ok"}
		resp.EventCount = count
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
