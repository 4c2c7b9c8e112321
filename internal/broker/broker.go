// Package broker composes the PIN issuer, connection registry, session table,
// state machine and publisher behind a single critical section.
//
// Every mutation runs under Broker.mu and publishes exactly one snapshot
// before the lock is released, so subscribers observe changes in the order
// they happened and never see a half-applied cascade.
package broker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iammorganparry/clive/apps/remote/internal/models"
	"github.com/iammorganparry/clive/apps/remote/internal/pin"
	"github.com/iammorganparry/clive/apps/remote/internal/publisher"
	"github.com/iammorganparry/clive/apps/remote/internal/registry"
	"github.com/iammorganparry/clive/apps/remote/internal/sessions"
	"github.com/iammorganparry/clive/apps/remote/internal/statemachine"
)

const (
	DefaultPinSweepInterval  = time.Second
	DefaultHeartbeatInterval = 15 * time.Second
	DefaultHeartbeatTimeout  = 45 * time.Second
	DefaultArmTimeout        = 5 * time.Second
)

// Endpoint is the listening surface mobiles connect to. Implementations must
// not call back into the broker synchronously from Close or Drop; both are
// invoked with the broker lock held.
type Endpoint interface {
	Arm(ctx context.Context) error
	Close() error
	Drop(mobileID string)
}

// EventRecorder persists pairing history. Failures are logged, never
// surfaced to callers.
type EventRecorder interface {
	Record(ev *models.PairingEvent) error
}

// Options tunes a Broker. Zero values fall back to the defaults.
type Options struct {
	PinLength         int
	PinTTL            time.Duration
	PinSweepInterval  time.Duration
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	ArmTimeout        time.Duration
	SubscriberBuffer  int

	Now    func() time.Time
	Random io.Reader
	Events EventRecorder
}

func (o *Options) applyDefaults() {
	if o.PinLength == 0 {
		o.PinLength = pin.DefaultLength
	}
	if o.PinTTL == 0 {
		o.PinTTL = pin.DefaultTTL
	}
	if o.PinSweepInterval == 0 {
		o.PinSweepInterval = DefaultPinSweepInterval
	}
	if o.HeartbeatInterval == 0 {
		o.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if o.HeartbeatTimeout == 0 {
		o.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	if o.ArmTimeout == 0 {
		o.ArmTimeout = DefaultArmTimeout
	}
	if o.SubscriberBuffer == 0 {
		o.SubscriberBuffer = publisher.DefaultBuffer
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Broker is the single owner of pairing state for one device.
type Broker struct {
	mu       sync.Mutex
	device   models.DeviceIdentity
	pins     *pin.Issuer
	registry *registry.Registry
	sessions *sessions.Table
	machine  *statemachine.Machine
	pub      *publisher.Publisher
	endpoint Endpoint
	version  uint64

	// armMu serializes endpoint arming across overlapping Connect calls. It
	// is never acquired while mu is held.
	armMu     sync.Mutex
	armGen    uint64
	armCancel context.CancelFunc
	armDone   chan struct{}

	opts   Options
	logger *slog.Logger
}

// New creates a disconnected broker for device.
func New(device models.DeviceIdentity, opts Options, logger *slog.Logger) (*Broker, error) {
	opts.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	pinOpts := []pin.Option{pin.WithClock(opts.Now)}
	if opts.Random != nil {
		pinOpts = append(pinOpts, pin.WithRandom(opts.Random))
	}
	pins, err := pin.NewIssuer(opts.PinLength, opts.PinTTL, pinOpts...)
	if err != nil {
		return nil, fmt.Errorf("create pin issuer: %w", err)
	}

	table := sessions.NewTable(nil, opts.Now)
	reg := registry.New(table, opts.Now)
	table.SetMembership(reg)

	b := &Broker{
		device:   device,
		pins:     pins,
		registry: reg,
		sessions: table,
		opts:     opts,
		logger:   logger,
	}
	b.machine = statemachine.New(func(tr statemachine.Transition) {
		b.logger.Info("broker status changed", "from", tr.From, "to", tr.To)
	})
	b.pub = publisher.New(b.snapshotLocked(), opts.SubscriberBuffer, logger)
	return b, nil
}

// SetEndpoint attaches the listening endpoint. It must be called before the
// first Connect.
func (b *Broker) SetEndpoint(ep Endpoint) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.endpoint = ep
}

// Device returns the identity mobiles pair with.
func (b *Broker) Device() models.DeviceIdentity {
	return b.device
}

// State returns the current snapshot.
func (b *Broker) State() models.RemoteState {
	return b.pub.Current()
}

// Subscribe registers a state-change subscriber. The first delivery is the
// current snapshot.
func (b *Broker) Subscribe() *publisher.Subscription {
	return b.pub.Subscribe()
}

// Connect arms the endpoint. It is a no-op when already connected, and joins
// the in-flight attempt when already connecting.
func (b *Broker) Connect(ctx context.Context) error {
	b.mu.Lock()
	switch b.machine.Status() {
	case models.StatusConnected:
		b.mu.Unlock()
		return nil
	case models.StatusConnecting:
		done := b.armDone
		b.mu.Unlock()
		return b.awaitArm(ctx, done)
	}
	if b.endpoint == nil {
		b.mu.Unlock()
		return fmt.Errorf("connect: no endpoint configured: %w", models.ErrEndpointArmFailure)
	}
	if err := b.machine.To(models.StatusConnecting); err != nil {
		b.mu.Unlock()
		return fmt.Errorf("connect: %w", err)
	}
	b.armGen++
	gen := b.armGen
	armCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.opts.ArmTimeout)
	done := make(chan struct{})
	b.armCancel = cancel
	b.armDone = done
	ep := b.endpoint
	b.publishLocked()
	b.mu.Unlock()

	b.armMu.Lock()
	defer b.armMu.Unlock()
	defer close(done)

	armErr := ep.Arm(armCtx)
	cancel()

	b.mu.Lock()
	defer b.mu.Unlock()

	if gen != b.armGen || !b.machine.Is(models.StatusConnecting) {
		if armErr == nil {
			if err := ep.Close(); err != nil {
				b.logger.Warn("failed to close endpoint armed after disconnect", "error", err)
			}
		}
		return fmt.Errorf("connect: %w", models.ErrConnectInterrupted)
	}
	b.armCancel = nil

	if armErr != nil {
		if !errors.Is(armErr, models.ErrEndpointArmFailure) {
			armErr = fmt.Errorf("%w: %w", models.ErrEndpointArmFailure, armErr)
		}
		b.logger.Error("failed to arm endpoint", "error", armErr)
		if err := b.machine.Fail(armErr); err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		b.publishLocked()
		return fmt.Errorf("connect: %w", armErr)
	}

	if err := b.machine.To(models.StatusConnected); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	b.publishLocked()
	return nil
}

func (b *Broker) awaitArm(ctx context.Context, done <-chan struct{}) error {
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.machine.Status() {
	case models.StatusConnected:
		return nil
	case models.StatusError:
		if e := b.machine.Err(); e != nil {
			return fmt.Errorf("connect: %s: %w", e.Message, models.ErrEndpointArmFailure)
		}
		return fmt.Errorf("connect: %w", models.ErrEndpointArmFailure)
	default:
		return fmt.Errorf("connect: %w", models.ErrConnectInterrupted)
	}
}

// CreatePin issues a new PIN, superseding any prior one. A disconnected or
// failed broker is connected first.
func (b *Broker) CreatePin(ctx context.Context) (models.PinResponse, error) {
	if err := b.Connect(ctx); err != nil {
		return models.PinResponse{}, fmt.Errorf("create pin: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.machine.Is(models.StatusConnected) {
		return models.PinResponse{}, fmt.Errorf("create pin: %w", models.ErrNotConnected)
	}
	p, err := b.pins.Issue()
	if err != nil {
		return models.PinResponse{}, fmt.Errorf("create pin: %w", err)
	}
	b.logger.Info("pairing pin issued", "expires_at", p.ExpiresAt)
	b.publishLocked()
	return models.PinResponse{Pin: p.Code, ExpiresAt: p.ExpiresAt}, nil
}

// Disconnect tears down the endpoint and clears the PIN, registry and
// sessions. An in-flight Connect is aborted. Disconnecting an idle broker is
// a no-op.
func (b *Broker) Disconnect() {
	b.mu.Lock()
	var events []*models.PairingEvent
	switch b.machine.Status() {
	case models.StatusDisconnected:
		b.mu.Unlock()
		return
	case models.StatusConnecting:
		if b.armCancel != nil {
			b.armCancel()
			b.armCancel = nil
		}
		events = b.flushLocked(models.ReasonDisconnect)
	default:
		events = b.flushLocked(models.ReasonDisconnect)
		b.closeEndpointLocked()
	}
	if err := b.machine.To(models.StatusDisconnected); err != nil {
		b.logger.Error("disconnect rejected", "error", err)
	}
	b.publishLocked()
	b.mu.Unlock()

	b.recordEvents(events)
}

// TransportFault moves a live broker to the error status, flushing state as
// Disconnect does. Faults reported while disconnected or already in error are
// ignored.
func (b *Broker) TransportFault(cause error) {
	if !errors.Is(cause, models.ErrTransportFault) {
		cause = fmt.Errorf("%w: %w", models.ErrTransportFault, cause)
	}

	b.mu.Lock()
	if status := b.machine.Status(); status != models.StatusConnecting && status != models.StatusConnected {
		b.mu.Unlock()
		b.logger.Debug("ignoring transport fault", "status", status, "error", cause)
		return
	}
	b.logger.Error("transport fault", "error", cause)
	if b.armCancel != nil {
		b.armCancel()
		b.armCancel = nil
	}
	events := b.flushLocked(models.ReasonTransportFault)
	b.closeEndpointLocked()
	if err := b.machine.Fail(cause); err != nil {
		b.logger.Error("fault transition rejected", "error", err)
	}
	b.publishLocked()
	b.mu.Unlock()

	b.recordEvents(events)
}

// Pair validates code and registers a new mobile. The mobile id is assigned
// here.
func (b *Broker) Pair(code, name, remoteAddr string) (models.MobileConnection, error) {
	b.mu.Lock()
	if !b.machine.Is(models.StatusConnected) {
		b.mu.Unlock()
		return models.MobileConnection{}, fmt.Errorf("pair: %w", models.ErrNotConnected)
	}
	if err := b.pins.Validate(code); err != nil {
		b.mu.Unlock()
		b.logger.Info("pairing rejected", "remote_addr", remoteAddr, "reason", models.ErrorCode(err))
		return models.MobileConnection{}, fmt.Errorf("pair: %w", err)
	}
	mc, err := b.registry.Register(uuid.New().String(), name, remoteAddr)
	if err != nil {
		// The PIN is spent even if registration fails; publish that.
		b.publishLocked()
		b.mu.Unlock()
		return models.MobileConnection{}, fmt.Errorf("pair: %w", err)
	}
	b.publishLocked()
	b.mu.Unlock()

	b.logger.Info("mobile paired", "mobile_id", mc.MobileID, "name", name, "remote_addr", remoteAddr)
	b.recordEvents([]*models.PairingEvent{{
		MobileID:   mc.MobileID,
		MobileName: mc.MobileName,
		Event:      models.EventPaired,
		CreatedAt:  mc.ConnectedAt.Unix(),
	}})
	return mc, nil
}

// Touch records inbound activity from mobileID.
func (b *Broker) Touch(mobileID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.registry.Touch(mobileID); err != nil {
		return err
	}
	b.publishLocked()
	return nil
}

// RemoveMobile unregisters mobileID and closes its sessions. Removing an
// unknown mobile is a no-op and reports false. For every reason except
// ReasonTransportClosed the endpoint is asked to drop the mobile's socket.
func (b *Broker) RemoveMobile(mobileID string, reason models.RemovalReason) bool {
	b.mu.Lock()
	mc, ok := b.registry.Get(mobileID)
	if !ok {
		b.mu.Unlock()
		return false
	}
	b.registry.Remove(mobileID)
	if reason != models.ReasonTransportClosed && b.endpoint != nil {
		b.endpoint.Drop(mobileID)
	}
	b.publishLocked()
	ev := b.removalEvent(mc, reason)
	b.mu.Unlock()

	b.logger.Info("mobile removed", "mobile_id", mobileID, "reason", reason)
	b.recordEvents([]*models.PairingEvent{ev})
	return true
}

// OpenSession opens a workspace session for a registered mobile.
func (b *Broker) OpenSession(mobileID, workspaceID, workspaceName string) (models.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sess, err := b.sessions.Open(mobileID, workspaceID, workspaceName)
	if err != nil {
		return models.Session{}, err
	}
	b.publishLocked()
	b.logger.Debug("session opened", "session_id", sess.ID, "mobile_id", mobileID, "workspace_id", workspaceID)
	return sess, nil
}

// CloseSession closes sessionID if it is owned by mobileID. Closing an absent
// or foreign session is a no-op and reports false.
func (b *Broker) CloseSession(mobileID, sessionID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	sess, ok := b.sessions.Get(sessionID)
	if !ok || sess.MobileID != mobileID {
		return false
	}
	b.sessions.Close(sessionID)
	b.publishLocked()
	b.logger.Debug("session closed", "session_id", sessionID, "mobile_id", mobileID)
	return true
}

// Run drives the PIN-expiry and liveness sweeps until ctx is done.
func (b *Broker) Run(ctx context.Context) {
	pinTicker := time.NewTicker(b.opts.PinSweepInterval)
	defer pinTicker.Stop()
	liveTicker := time.NewTicker(b.opts.HeartbeatInterval)
	defer liveTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-pinTicker.C:
			b.SweepPins()
		case <-liveTicker.C:
			b.SweepLiveness()
		}
	}
}

// SweepPins retires an expired PIN, publishing only if one was retired.
func (b *Broker) SweepPins() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.pins.Sweep() {
		return false
	}
	b.logger.Info("pairing pin expired")
	b.publishLocked()
	return true
}

// SweepLiveness removes every mobile silent for longer than the heartbeat
// timeout and publishes once. It returns the removed ids.
func (b *Broker) SweepLiveness() []string {
	b.mu.Lock()
	stale := b.registry.Stale(b.opts.HeartbeatTimeout)
	if len(stale) == 0 {
		b.mu.Unlock()
		return nil
	}
	events := make([]*models.PairingEvent, 0, len(stale))
	for _, id := range stale {
		mc, _ := b.registry.Get(id)
		b.registry.Remove(id)
		if b.endpoint != nil {
			b.endpoint.Drop(id)
		}
		events = append(events, b.removalEvent(mc, models.ReasonLivenessTimeout))
	}
	b.publishLocked()
	b.mu.Unlock()

	b.logger.Info("removed silent mobiles", "count", len(stale))
	b.recordEvents(events)
	return stale
}

// Close disconnects and ends every subscription.
func (b *Broker) Close() {
	b.Disconnect()
	b.pub.Close()
}

// flushLocked clears the PIN, registry and sessions, returning one removal
// event per mobile.
func (b *Broker) flushLocked(reason models.RemovalReason) []*models.PairingEvent {
	var events []*models.PairingEvent
	for _, mc := range b.registry.List() {
		events = append(events, b.removalEvent(mc, reason))
	}
	b.pins.Clear()
	b.registry.Clear()
	b.sessions.Clear()
	return events
}

func (b *Broker) closeEndpointLocked() {
	if b.endpoint == nil {
		return
	}
	if err := b.endpoint.Close(); err != nil {
		b.logger.Warn("failed to close endpoint", "error", err)
	}
}

func (b *Broker) removalEvent(mc models.MobileConnection, reason models.RemovalReason) *models.PairingEvent {
	return &models.PairingEvent{
		MobileID:   mc.MobileID,
		MobileName: mc.MobileName,
		Event:      models.EventRemoved,
		Reason:     string(reason),
		CreatedAt:  b.opts.Now().Unix(),
	}
}

func (b *Broker) recordEvents(events []*models.PairingEvent) {
	if b.opts.Events == nil {
		return
	}
	for _, ev := range events {
		if err := b.opts.Events.Record(ev); err != nil {
			b.logger.Warn("failed to record pairing event", "mobile_id", ev.MobileID, "event", ev.Event, "error", err)
		}
	}
}

// snapshotLocked derives the next RemoteState from the components.
func (b *Broker) snapshotLocked() models.RemoteState {
	b.version++
	s := models.RemoteState{
		Version:     b.version,
		Status:      b.machine.Status(),
		DeviceID:    b.device.DeviceID,
		DeviceName:  b.device.DeviceName,
		Mobiles:     b.registry.List(),
		MobileCount: b.registry.Len(),
		Sessions:    b.sessions.List(),
		Error:       b.machine.Err(),
	}
	if p, ok := b.pins.Active(); ok {
		exp := p.ExpiresAt
		s.PinExpiresAt = &exp
	}
	return s
}

func (b *Broker) publishLocked() {
	b.pub.Publish(b.snapshotLocked())
}
