package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/iammorganparry/clive/apps/remote/internal/broker"
	"github.com/iammorganparry/clive/apps/remote/internal/models"
)

const (
	streamWriteWait    = 10 * time.Second
	streamPingInterval = 30 * time.Second
	streamPongWait     = 60 * time.Second
)

type StreamHandler struct {
	broker   *broker.Broker
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

func NewStreamHandler(b *broker.Broker, logger *slog.Logger) *StreamHandler {
	return &StreamHandler{
		broker: b,
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		logger: logger,
	}
}

// Stream handles GET /state/stream. The first message is the current
// snapshot; every later message is the next published one.
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("state stream upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sub := h.broker.Subscribe()
	defer sub.Unsubscribe()

	// The reader only exists to process control frames and notice closes.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadDeadline(time.Now().Add(streamPongWait))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(streamPongWait))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(streamPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			return

		case snap, ok := <-sub.C():
			conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if !ok {
				code, reason := websocket.CloseGoingAway, "broker shutting down"
				if sub.Dropped() {
					code, reason = models.CloseFellBehind, "subscriber fell behind"
				}
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
				return
			}
			if err := conn.WriteJSON(snap); err != nil {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
