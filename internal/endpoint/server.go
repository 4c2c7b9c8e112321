// Package endpoint is the listening surface mobiles pair and talk through.
//
// A Server is armed by the broker's connect command and closed on disconnect
// or fault. Each mobile holds one WebSocket; the first frame must be a pair
// request carrying the current PIN. After pairing, every inbound frame (and
// every pong) counts as activity.
package endpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/iammorganparry/clive/apps/remote/internal/models"
)

const (
	sendBufferSize = 32
	writeWait      = 10 * time.Second
	maxFrameSize   = 64 * 1024
)

// Broker is the set of broker operations the endpoint drives.
type Broker interface {
	Device() models.DeviceIdentity
	Pair(code, name, remoteAddr string) (models.MobileConnection, error)
	Touch(mobileID string) error
	RemoveMobile(mobileID string, reason models.RemovalReason) bool
	OpenSession(mobileID, workspaceID, workspaceName string) (models.Session, error)
	CloseSession(mobileID, sessionID string) bool
	TransportFault(err error)
}

// Options configures a Server.
type Options struct {
	Addr                  string
	PingInterval          time.Duration
	PongWait              time.Duration
	PairAttemptsPerMinute int
}

// Server accepts mobile sockets while armed.
type Server struct {
	mu         sync.Mutex
	opts       Options
	broker     Broker
	logger     *slog.Logger
	upgrader   websocket.Upgrader
	limiter    *rate.Limiter
	httpServer *http.Server
	listener   net.Listener
	clients    map[*client]bool
	byMobile   map[string]*client
}

// New creates an unarmed server.
func New(b Broker, opts Options, logger *slog.Logger) *Server {
	if opts.PingInterval <= 0 {
		opts.PingInterval = 15 * time.Second
	}
	if opts.PongWait <= opts.PingInterval {
		opts.PongWait = 3 * opts.PingInterval
	}
	if opts.PairAttemptsPerMinute <= 0 {
		opts.PairAttemptsPerMinute = 10
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		opts:   opts,
		broker: b,
		logger: logger,
		upgrader: websocket.Upgrader{
			// Mobiles are native apps, not browsers.
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		limiter:  rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.PairAttemptsPerMinute)), opts.PairAttemptsPerMinute),
		clients:  make(map[*client]bool),
		byMobile: make(map[string]*client),
	}
}

// Arm binds the listener and starts serving. Arming an armed server is a
// no-op. The listen attempt is bounded by ctx.
func (s *Server) Arm(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.httpServer != nil {
		return nil
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w: %w", s.opts.Addr, models.ErrEndpointArmFailure, err)
	}
	if err := ctx.Err(); err != nil {
		ln.Close()
		return fmt.Errorf("listen on %s: %w: %w", s.opts.Addr, models.ErrEndpointArmFailure, err)
	}

	srv := &http.Server{
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.httpServer = srv
	s.listener = ln

	go func() {
		s.logger.Info("mobile endpoint listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("mobile endpoint stopped", "error", err)
			s.broker.TransportFault(fmt.Errorf("serve %s: %w", ln.Addr(), err))
		}
	}()
	return nil
}

// Close stops accepting sockets and closes every open one. It does not wait
// for per-socket goroutines to exit.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.httpServer == nil {
		return nil
	}
	for c := range s.clients {
		c.closeSend()
	}
	s.clients = make(map[*client]bool)
	s.byMobile = make(map[string]*client)

	err := s.httpServer.Close()
	s.httpServer = nil
	s.listener = nil
	s.logger.Info("mobile endpoint closed")
	return err
}

// Drop closes the socket of mobileID, if any.
func (s *Server) Drop(mobileID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.byMobile[mobileID]; ok {
		delete(s.byMobile, mobileID)
		c.closeSend()
	}
}

// Addr returns the bound address, or "" when unarmed.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// ClientCount returns the number of open sockets, paired or not.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/device", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.broker.Device())
	})
	r.Get("/ws", s.handleWebSocket)
	return r
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	c := &client{
		conn:       conn,
		send:       make(chan Frame, sendBufferSize),
		done:       make(chan struct{}),
		server:     s,
		remoteAddr: r.RemoteAddr,
	}

	s.mu.Lock()
	if s.httpServer == nil {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.clients[c] = true
	s.mu.Unlock()

	s.logger.Debug("mobile socket opened", "remote_addr", c.remoteAddr)
	go c.writePump()
	go c.readPump()
}

func (s *Server) bind(mobileID string, c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.clients[c] {
		s.byMobile[mobileID] = c
	}
}

func (s *Server) unregister(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, c)
	if c.mobileID != "" && s.byMobile[c.mobileID] == c {
		delete(s.byMobile, c.mobileID)
	}
}

// client is one mobile socket. mobileID is written only by readPump.
type client struct {
	conn       *websocket.Conn
	send       chan Frame
	done       chan struct{}
	doneOnce   sync.Once
	server     *Server
	remoteAddr string
	mobileID   string
}

func (c *client) closeSend() {
	c.doneOnce.Do(func() {
		close(c.done)
	})
}

// queue sends f without blocking; a client too slow to drain its buffer is
// disconnected.
func (c *client) queue(f Frame) {
	select {
	case <-c.done:
	case c.send <- f:
	default:
		c.server.logger.Warn("mobile send buffer full, closing socket", "mobile_id", c.mobileID)
		c.closeSend()
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(c.server.opts.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case f := <-c.send:
			data, err := json.Marshal(f)
			if err != nil {
				c.server.logger.Error("failed to marshal frame", "type", f.Type, "error", err)
				continue
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.server.logger.Debug("mobile write failed", "remote_addr", c.remoteAddr, "error", err)
				c.closeSend()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.closeSend()
				return
			}
		}
	}
}

func (c *client) readPump() {
	s := c.server
	defer func() {
		s.unregister(c)
		c.closeSend()
		if c.mobileID != "" {
			s.broker.RemoveMobile(c.mobileID, models.ReasonTransportClosed)
		}
		s.logger.Debug("mobile socket closed", "mobile_id", c.mobileID, "remote_addr", c.remoteAddr)
	}()

	c.conn.SetReadLimit(maxFrameSize)
	c.conn.SetReadDeadline(time.Now().Add(s.opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(s.opts.PongWait))
		if c.mobileID != "" {
			s.broker.Touch(c.mobileID)
		}
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("mobile read error", "mobile_id", c.mobileID, "error", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(s.opts.PongWait))

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.queue(errorFrame(CodeInvalidMessage, "invalid frame"))
			continue
		}

		if c.mobileID == "" {
			if f.Type != FramePair {
				c.queue(errorFrame(CodeNotPaired, "pair before sending "+string(f.Type)))
				continue
			}
			c.handlePair(f)
			continue
		}

		if err := s.broker.Touch(c.mobileID); err != nil {
			// Removed by the broker (liveness sweep or disconnect).
			c.queue(errorFrame(models.ErrorCode(err), err.Error()))
			return
		}

		switch f.Type {
		case FramePair:
			c.queue(errorFrame(CodeAlreadyPaired, "socket is already paired"))
		case FrameHeartbeat:
			c.queue(Frame{Type: FrameHeartbeatAck})
		case FrameSessionOpen:
			c.handleSessionOpen(f)
		case FrameSessionClose:
			closed := s.broker.CloseSession(c.mobileID, f.SessionID)
			c.queue(Frame{Type: FrameSessionClosed, SessionID: f.SessionID, Closed: closed})
		default:
			c.queue(errorFrame(CodeInvalidMessage, "unknown frame type "+string(f.Type)))
		}
	}
}

func (c *client) handlePair(f Frame) {
	s := c.server
	if !s.limiter.Allow() {
		s.logger.Warn("pairing attempt throttled", "remote_addr", c.remoteAddr)
		c.queue(errorFrame(models.CodeRateLimited, models.ErrRateLimited.Error()))
		return
	}
	if f.Pin == "" {
		c.queue(errorFrame(CodeInvalidMessage, "pin is required"))
		return
	}

	mc, err := s.broker.Pair(f.Pin, f.Name, c.remoteAddr)
	if err != nil {
		c.queue(errorFrame(models.ErrorCode(err), err.Error()))
		return
	}
	c.mobileID = mc.MobileID
	s.bind(mc.MobileID, c)

	device := s.broker.Device()
	c.queue(Frame{
		Type:       FramePaired,
		MobileID:   mc.MobileID,
		DeviceID:   device.DeviceID,
		DeviceName: device.DeviceName,
	})
}

func (c *client) handleSessionOpen(f Frame) {
	if f.WorkspaceID == "" {
		c.queue(errorFrame(CodeInvalidMessage, "workspaceId is required"))
		return
	}
	sess, err := c.server.broker.OpenSession(c.mobileID, f.WorkspaceID, f.WorkspaceName)
	if err != nil {
		c.queue(errorFrame(models.ErrorCode(err), err.Error()))
		return
	}
	c.queue(Frame{Type: FrameSessionOpened, Session: &sess, SessionID: sess.ID})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
