// Package publisher fans RemoteState snapshots out to subscribers.
//
// Publish never blocks: each subscriber owns a bounded buffer, and a
// subscriber whose buffer is full is dropped (its channel closed) instead of
// stalling the caller or silently skipping a snapshot. A subscriber therefore
// sees either every snapshot after it subscribed, in publish order, or a
// closed channel. Re-subscribing yields the current snapshot first.
package publisher

import (
	"log/slog"
	"sync"

	"github.com/iammorganparry/clive/apps/remote/internal/models"
)

// DefaultBuffer is the per-subscriber queue depth.
const DefaultBuffer = 64

// Subscription is one subscriber's view of the feed.
type Subscription struct {
	id      uint64
	ch      chan models.RemoteState
	dropped bool
	pub     *Publisher
}

// C delivers snapshots. It is closed on Unsubscribe, on drop, or when the
// publisher closes.
func (s *Subscription) C() <-chan models.RemoteState {
	return s.ch
}

// Dropped reports whether the subscriber was cut off for falling behind.
func (s *Subscription) Dropped() bool {
	s.pub.mu.Lock()
	defer s.pub.mu.Unlock()
	return s.dropped
}

// Unsubscribe stops delivery and closes C. It is safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.pub.remove(s.id)
}

// Publisher holds the current snapshot and the subscriber set.
type Publisher struct {
	mu      sync.Mutex
	current models.RemoteState
	subs    map[uint64]*Subscription
	nextID  uint64
	buffer  int
	closed  bool
	logger  *slog.Logger
}

// New creates a publisher seeded with initial.
func New(initial models.RemoteState, buffer int, logger *slog.Logger) *Publisher {
	if buffer < 1 {
		buffer = DefaultBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		current: initial.Clone(),
		subs:    make(map[uint64]*Subscription),
		buffer:  buffer,
		logger:  logger,
	}
}

// Publish records snap as current and queues it for every subscriber.
func (p *Publisher) Publish(snap models.RemoteState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.current = snap.Clone()
	for id, sub := range p.subs {
		select {
		case sub.ch <- p.current.Clone():
		default:
			p.logger.Warn("state subscriber fell behind, dropping", "subscriber", id, "version", snap.Version)
			sub.dropped = true
			delete(p.subs, id)
			close(sub.ch)
		}
	}
}

// Subscribe registers a subscriber whose first delivery is the current
// snapshot.
func (p *Publisher) Subscribe() *Subscription {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.nextID++
	sub := &Subscription{
		id:  p.nextID,
		ch:  make(chan models.RemoteState, p.buffer),
		pub: p,
	}
	if p.closed {
		close(sub.ch)
		return sub
	}
	sub.ch <- p.current.Clone()
	p.subs[sub.id] = sub
	return sub
}

// Current returns a copy of the last published snapshot.
func (p *Publisher) Current() models.RemoteState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current.Clone()
}

// Len returns the number of live subscribers.
func (p *Publisher) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}

// Close closes every subscription. Later publishes are ignored.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	for id, sub := range p.subs {
		delete(p.subs, id)
		close(sub.ch)
	}
}

func (p *Publisher) remove(id uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	sub, ok := p.subs[id]
	if !ok {
		return
	}
	delete(p.subs, id)
	close(sub.ch)
}
