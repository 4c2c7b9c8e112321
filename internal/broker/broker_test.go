package broker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/iammorganparry/clive/apps/remote/internal/models"
	"github.com/iammorganparry/clive/apps/remote/internal/statemachine"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeEndpoint struct {
	mu      sync.Mutex
	armErr  error
	block   chan struct{}
	armed   bool
	arms    int
	closes  int
	dropped []string
}

func (e *fakeEndpoint) Arm(ctx context.Context) error {
	e.mu.Lock()
	block := e.block
	e.arms++
	e.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.armErr != nil {
		return e.armErr
	}
	e.armed = true
	return nil
}

func (e *fakeEndpoint) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.armed = false
	e.closes++
	return nil
}

func (e *fakeEndpoint) Drop(mobileID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dropped = append(e.dropped, mobileID)
}

func (e *fakeEndpoint) isArmed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.armed
}

type memEvents struct {
	mu     sync.Mutex
	events []models.PairingEvent
}

func (m *memEvents) Record(ev *models.PairingEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, *ev)
	return nil
}

func (m *memEvents) list() []models.PairingEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.PairingEvent(nil), m.events...)
}

type harness struct {
	b      *Broker
	ep     *fakeEndpoint
	clock  *fakeClock
	events *memEvents
}

func newHarness(t *testing.T, mutate func(*Options)) *harness {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
	events := &memEvents{}
	opts := Options{
		PinTTL:           300 * time.Second,
		HeartbeatTimeout: 45 * time.Second,
		ArmTimeout:       time.Second,
		Now:              clock.Now,
		Events:           events,
	}
	if mutate != nil {
		mutate(&opts)
	}
	device := models.DeviceIdentity{DeviceID: "dev-1", DeviceName: "Studio Mac"}
	b, err := New(device, opts, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ep := &fakeEndpoint{}
	b.SetEndpoint(ep)
	t.Cleanup(b.Close)
	return &harness{b: b, ep: ep, clock: clock, events: events}
}

// drain collects every snapshot currently buffered on sub.
func drain(ch <-chan models.RemoteState) []models.RemoteState {
	var out []models.RemoteState
	for {
		select {
		case s, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, s)
		default:
			return out
		}
	}
}

func TestPairingScenario(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	resp, err := h.b.CreatePin(ctx)
	if err != nil {
		t.Fatalf("CreatePin: %v", err)
	}
	if len(resp.Pin) != 6 {
		t.Errorf("expected 6-digit pin, got %q", resp.Pin)
	}
	if want := h.clock.Now().Add(300 * time.Second); !resp.ExpiresAt.Equal(want) {
		t.Errorf("expiresAt = %v, want %v", resp.ExpiresAt, want)
	}

	st := h.b.State()
	if st.Status != models.StatusConnected || st.MobileCount != 0 {
		t.Fatalf("armed broker should be connected with no mobiles, got %s/%d", st.Status, st.MobileCount)
	}
	if st.PinExpiresAt == nil {
		t.Error("snapshot should expose the active pin expiry")
	}

	h.clock.Advance(299 * time.Second)
	mc, err := h.b.Pair(resp.Pin, "Pixel", "10.0.0.7:5555")
	if err != nil {
		t.Fatalf("Pair at t=299s: %v", err)
	}

	st = h.b.State()
	if st.Status != models.StatusConnected || st.MobileCount != 1 {
		t.Fatalf("expected connected with 1 mobile, got %s/%d", st.Status, st.MobileCount)
	}
	if st.PinExpiresAt != nil {
		t.Error("consumed pin must not be shown as active")
	}

	sess, err := h.b.OpenSession(mc.MobileID, "w1", "Proj")
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	if st := h.b.State(); len(st.Sessions) != 1 || st.Sessions[0].ID != sess.ID {
		t.Fatalf("session missing from snapshot: %+v", st.Sessions)
	}

	h.b.Disconnect()

	st = h.b.State()
	if st.Status != models.StatusDisconnected {
		t.Errorf("status = %s, want disconnected", st.Status)
	}
	if st.MobileCount != 0 || len(st.Mobiles) != 0 || len(st.Sessions) != 0 || st.PinExpiresAt != nil {
		t.Errorf("disconnect left state behind: %+v", st)
	}
	if h.ep.isArmed() {
		t.Error("endpoint should be torn down")
	}
	if _, err := h.b.Pair(resp.Pin, "Pixel", ""); !errors.Is(err, models.ErrNotConnected) {
		t.Errorf("pairing after disconnect: expected ErrNotConnected, got %v", err)
	}

	evs := h.events.list()
	if len(evs) != 2 || evs[0].Event != models.EventPaired || evs[1].Reason != string(models.ReasonDisconnect) {
		t.Errorf("unexpected pairing history: %+v", evs)
	}
}

func TestExpiredPinScenario(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	first, err := h.b.CreatePin(ctx)
	if err != nil {
		t.Fatalf("CreatePin: %v", err)
	}
	h.clock.Advance(301 * time.Second)

	if _, err := h.b.Pair(first.Pin, "", ""); !errors.Is(err, models.ErrExpiredPin) {
		t.Fatalf("expected ErrExpiredPin before any sweep, got %v", err)
	}

	second, err := h.b.CreatePin(ctx)
	if err != nil {
		t.Fatalf("CreatePin: %v", err)
	}
	if first.Pin != second.Pin {
		if _, err := h.b.Pair(first.Pin, "", ""); !errors.Is(err, models.ErrInvalidPin) {
			t.Errorf("superseded pin: expected ErrInvalidPin, got %v", err)
		}
	}
	if _, err := h.b.Pair(second.Pin, "", ""); err != nil {
		t.Errorf("second pin should pair: %v", err)
	}
	if _, err := h.b.Pair(second.Pin, "", ""); !errors.Is(err, models.ErrAlreadyConsumedPin) {
		t.Errorf("expected ErrAlreadyConsumedPin, got %v", err)
	}
}

func TestSweepPinsPublishesOnce(t *testing.T) {
	h := newHarness(t, nil)
	if _, err := h.b.CreatePin(context.Background()); err != nil {
		t.Fatalf("CreatePin: %v", err)
	}
	sub := h.b.Subscribe()
	defer sub.Unsubscribe()
	<-sub.C()

	if h.b.SweepPins() {
		t.Error("unexpired pin must not be swept")
	}
	h.clock.Advance(301 * time.Second)
	if !h.b.SweepPins() {
		t.Fatal("expected expired pin to be swept")
	}
	if h.b.SweepPins() {
		t.Error("second sweep must be a no-op")
	}

	got := drain(sub.C())
	if len(got) != 1 || got[0].PinExpiresAt != nil {
		t.Errorf("expected one snapshot without a pin, got %+v", got)
	}
}

func TestRemoveCascadesSessionsAtomically(t *testing.T) {
	h := newHarness(t, nil)
	resp, _ := h.b.CreatePin(context.Background())
	m1, err := h.b.Pair(resp.Pin, "a", "")
	if err != nil {
		t.Fatalf("Pair: %v", err)
	}
	h.b.OpenSession(m1.MobileID, "w1", "One")
	h.b.OpenSession(m1.MobileID, "w2", "Two")

	sub := h.b.Subscribe()
	defer sub.Unsubscribe()
	<-sub.C()

	if !h.b.RemoveMobile(m1.MobileID, models.ReasonClientRequest) {
		t.Fatal("expected removal")
	}
	if h.b.RemoveMobile(m1.MobileID, models.ReasonClientRequest) {
		t.Error("second removal should be a no-op")
	}

	got := drain(sub.C())
	if len(got) != 1 {
		t.Fatalf("expected exactly one snapshot for the cascade, got %d", len(got))
	}
	if len(got[0].Sessions) != 0 || got[0].MobileCount != 0 {
		t.Errorf("cascade leaked state: %+v", got[0])
	}
	if _, err := h.b.OpenSession(m1.MobileID, "w3", "Three"); !errors.Is(err, models.ErrUnknownMobile) {
		t.Errorf("expected ErrUnknownMobile, got %v", err)
	}
	if len(h.ep.dropped) != 1 || h.ep.dropped[0] != m1.MobileID {
		t.Errorf("expected endpoint to drop %s, got %v", m1.MobileID, h.ep.dropped)
	}
}

func TestTransportClosedDoesNotDrop(t *testing.T) {
	h := newHarness(t, nil)
	resp, _ := h.b.CreatePin(context.Background())
	m1, _ := h.b.Pair(resp.Pin, "", "")

	h.b.RemoveMobile(m1.MobileID, models.ReasonTransportClosed)
	if len(h.ep.dropped) != 0 {
		t.Errorf("closed transports need no drop, got %v", h.ep.dropped)
	}
}

func TestCloseSessionOwnership(t *testing.T) {
	h := newHarness(t, nil)
	p1, _ := h.b.CreatePin(context.Background())
	m1, _ := h.b.Pair(p1.Pin, "", "")
	p2, _ := h.b.CreatePin(context.Background())
	m2, _ := h.b.Pair(p2.Pin, "", "")

	sess, err := h.b.OpenSession(m1.MobileID, "w1", "Proj")
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	if h.b.CloseSession(m2.MobileID, sess.ID) {
		t.Error("a mobile must not close another mobile's session")
	}
	if !h.b.CloseSession(m1.MobileID, sess.ID) {
		t.Error("owner should close its session")
	}
	if h.b.CloseSession(m1.MobileID, sess.ID) {
		t.Error("closing twice should be a no-op")
	}
}

func TestLivenessSweep(t *testing.T) {
	h := newHarness(t, nil)
	p1, _ := h.b.CreatePin(context.Background())
	quiet, _ := h.b.Pair(p1.Pin, "quiet", "")
	p2, _ := h.b.CreatePin(context.Background())
	chatty, _ := h.b.Pair(p2.Pin, "chatty", "")
	h.b.OpenSession(quiet.MobileID, "w1", "Proj")

	h.clock.Advance(30 * time.Second)
	if err := h.b.Touch(chatty.MobileID); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	h.clock.Advance(20 * time.Second)

	removed := h.b.SweepLiveness()
	if len(removed) != 1 || removed[0] != quiet.MobileID {
		t.Fatalf("expected only the quiet mobile to be removed, got %v", removed)
	}
	st := h.b.State()
	if st.MobileCount != 1 || st.Mobiles[0].MobileID != chatty.MobileID || len(st.Sessions) != 0 {
		t.Errorf("unexpected state after sweep: %+v", st)
	}
	if st.Status != models.StatusConnected {
		t.Errorf("liveness removal must not change status, got %s", st.Status)
	}
	if err := h.b.Touch(quiet.MobileID); !errors.Is(err, models.ErrUnknownMobile) {
		t.Errorf("expected ErrUnknownMobile, got %v", err)
	}

	var reasons []string
	for _, ev := range h.events.list() {
		if ev.Event == models.EventRemoved {
			reasons = append(reasons, ev.Reason)
		}
	}
	if len(reasons) != 1 || reasons[0] != string(models.ReasonLivenessTimeout) {
		t.Errorf("expected one liveness removal event, got %v", reasons)
	}
}

func TestArmFailureMovesToError(t *testing.T) {
	h := newHarness(t, nil)
	h.ep.armErr = errors.New("listen tcp :8743: address already in use")

	err := h.b.Connect(context.Background())
	if !errors.Is(err, models.ErrEndpointArmFailure) {
		t.Fatalf("expected ErrEndpointArmFailure, got %v", err)
	}
	st := h.b.State()
	if st.Status != models.StatusError || st.Error == nil || st.Error.Code != models.CodeEndpointArmFailure {
		t.Fatalf("expected error status with cause, got %+v", st)
	}

	if _, err := h.b.CreatePin(context.Background()); err == nil {
		t.Error("CreatePin should fail while the endpoint cannot arm")
	}

	h.ep.mu.Lock()
	h.ep.armErr = nil
	h.ep.mu.Unlock()
	if _, err := h.b.CreatePin(context.Background()); err != nil {
		t.Fatalf("retry via CreatePin: %v", err)
	}
	st = h.b.State()
	if st.Status != models.StatusConnected || st.Error != nil {
		t.Errorf("expected clean connected state, got %+v", st)
	}
}

func TestArmTimeout(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.ArmTimeout = 20 * time.Millisecond })
	h.ep.block = make(chan struct{})

	err := h.b.Connect(context.Background())
	if !errors.Is(err, models.ErrEndpointArmFailure) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected arm timeout, got %v", err)
	}
	if h.b.State().Status != models.StatusError {
		t.Errorf("status = %s, want error", h.b.State().Status)
	}
}

func TestDisconnectInterruptsConnect(t *testing.T) {
	h := newHarness(t, nil)
	h.ep.block = make(chan struct{})

	sub := h.b.Subscribe()
	defer sub.Unsubscribe()

	errCh := make(chan error, 1)
	go func() { errCh <- h.b.Connect(context.Background()) }()

	for s := range sub.C() {
		if s.Status == models.StatusConnecting {
			break
		}
	}
	h.b.Disconnect()

	select {
	case err := <-errCh:
		if !errors.Is(err, models.ErrConnectInterrupted) {
			t.Errorf("expected ErrConnectInterrupted, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("connect did not return after disconnect")
	}
	if st := h.b.State(); st.Status != models.StatusDisconnected {
		t.Errorf("status = %s, want disconnected", st.Status)
	}
	if h.ep.isArmed() {
		t.Error("endpoint must not stay armed")
	}
}

func TestConnectIsIdempotent(t *testing.T) {
	h := newHarness(t, nil)
	h.ep.block = make(chan struct{})

	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = h.b.Connect(context.Background())
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(h.ep.block)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("connect %d: %v", i, err)
		}
	}
	if h.ep.arms != 1 {
		t.Errorf("expected a single arm attempt, got %d", h.ep.arms)
	}
	if err := h.b.Connect(context.Background()); err != nil {
		t.Errorf("connect while connected: %v", err)
	}
}

func TestTransportFaultFlushes(t *testing.T) {
	h := newHarness(t, nil)
	resp, _ := h.b.CreatePin(context.Background())
	m1, _ := h.b.Pair(resp.Pin, "", "")
	h.b.OpenSession(m1.MobileID, "w1", "Proj")

	h.b.TransportFault(errors.New("accept: too many open files"))

	st := h.b.State()
	if st.Status != models.StatusError || st.Error == nil || st.Error.Code != models.CodeTransportFault {
		t.Fatalf("expected transport fault error, got %+v", st)
	}
	if st.MobileCount != 0 || len(st.Sessions) != 0 || st.PinExpiresAt != nil {
		t.Errorf("fault must flush like disconnect: %+v", st)
	}

	h.b.TransportFault(errors.New("again"))
	if h.b.State().Version != st.Version {
		t.Error("fault while in error should not publish")
	}

	h.b.Disconnect()
	if st := h.b.State(); st.Status != models.StatusDisconnected || st.Error != nil {
		t.Errorf("disconnect from error should rest the broker: %+v", st)
	}
}

func TestObserversNeverSeeSkippedEdges(t *testing.T) {
	h := newHarness(t, nil)
	sub := h.b.Subscribe()
	defer sub.Unsubscribe()

	ctx := context.Background()
	h.b.Connect(ctx)
	resp, _ := h.b.CreatePin(ctx)
	m1, _ := h.b.Pair(resp.Pin, "", "")
	h.b.OpenSession(m1.MobileID, "w1", "Proj")
	h.b.Disconnect()
	h.ep.armErr = errors.New("boom")
	h.b.Connect(ctx)
	h.ep.armErr = nil
	h.b.Connect(ctx)
	h.b.TransportFault(errors.New("reset"))
	h.b.Disconnect()

	snaps := drain(sub.C())
	if len(snaps) < 2 {
		t.Fatalf("expected several snapshots, got %d", len(snaps))
	}
	for i := 1; i < len(snaps); i++ {
		prev, cur := snaps[i-1], snaps[i]
		if cur.Version != prev.Version+1 {
			t.Errorf("version gap: %d after %d", cur.Version, prev.Version)
		}
		if cur.Status != prev.Status && !statemachine.Allowed(prev.Status, cur.Status) {
			t.Errorf("observed skipped edge %s -> %s", prev.Status, cur.Status)
		}
		for _, s := range cur.Sessions {
			found := false
			for _, m := range cur.Mobiles {
				if m.MobileID == s.MobileID {
					found = true
				}
			}
			if !found {
				t.Errorf("snapshot %d has orphan session %s", cur.Version, s.ID)
			}
		}
	}
}

func TestLateSubscriberSeesAllMutations(t *testing.T) {
	h := newHarness(t, nil)
	resp, _ := h.b.CreatePin(context.Background())
	m1, _ := h.b.Pair(resp.Pin, "", "")
	h.b.OpenSession(m1.MobileID, "w1", "Proj")

	sub := h.b.Subscribe()
	defer sub.Unsubscribe()
	st := <-sub.C()
	if st.Status != models.StatusConnected || st.MobileCount != 1 || len(st.Sessions) != 1 {
		t.Errorf("late subscriber saw stale state: %+v", st)
	}
	if st.DeviceID != "dev-1" || st.DeviceName != "Studio Mac" {
		t.Errorf("device identity missing: %+v", st)
	}
}

func TestRunSweepsUntilCancelled(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.PinSweepInterval = 5 * time.Millisecond
		o.HeartbeatInterval = 5 * time.Millisecond
	})
	if _, err := h.b.CreatePin(context.Background()); err != nil {
		t.Fatalf("CreatePin: %v", err)
	}
	h.clock.Advance(301 * time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.b.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for h.b.State().PinExpiresAt != nil {
		select {
		case <-deadline:
			t.Fatal("pin sweep never ran")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done
}
