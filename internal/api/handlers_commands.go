package api

import (
	"errors"
	"net/http"

	"github.com/iammorganparry/clive/apps/remote/internal/broker"
	"github.com/iammorganparry/clive/apps/remote/internal/models"
)

type CommandHandler struct {
	broker *broker.Broker
}

func NewCommandHandler(b *broker.Broker) *CommandHandler {
	return &CommandHandler{broker: b}
}

// State handles GET /state
func (h *CommandHandler) State(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.broker.State())
}

// Connect handles POST /connect
func (h *CommandHandler) Connect(w http.ResponseWriter, r *http.Request) {
	err := h.broker.Connect(r.Context())
	status := h.broker.State().Status
	if err != nil {
		writeJSON(w, commandStatus(err), models.CommandResponse{
			OK:     false,
			Status: status,
			Error:  err.Error(),
			Code:   models.ErrorCode(err),
		})
		return
	}
	writeJSON(w, http.StatusOK, models.CommandResponse{OK: true, Status: status})
}

// Disconnect handles POST /disconnect
func (h *CommandHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	h.broker.Disconnect()
	writeJSON(w, http.StatusOK, models.CommandResponse{OK: true, Status: h.broker.State().Status})
}

// CreatePin handles POST /pin. Failure yields a null body.
func (h *CommandHandler) CreatePin(w http.ResponseWriter, r *http.Request) {
	resp, err := h.broker.CreatePin(r.Context())
	if err != nil {
		w.Header().Set("X-Error-Code", models.ErrorCode(err))
		writeJSON(w, http.StatusServiceUnavailable, nil)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func commandStatus(err error) int {
	switch {
	case errors.Is(err, models.ErrConnectInterrupted):
		return http.StatusConflict
	case errors.Is(err, models.ErrEndpointArmFailure):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
