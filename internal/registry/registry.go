// Package registry tracks the mobiles currently paired with this device and
// when each was last heard from.
package registry

import (
	"fmt"
	"time"

	"github.com/iammorganparry/clive/apps/remote/internal/models"
)

// Cascade is invoked with the id of every removed mobile before Remove
// returns. The session table implements it.
type Cascade interface {
	CloseAllFor(mobileID string) int
}

// Registry holds connected mobiles in pairing order. It is not safe for
// concurrent use; the broker serializes access.
type Registry struct {
	byID    map[string]*models.MobileConnection
	order   []string
	cascade Cascade
	nowF    func() time.Time
}

// New creates an empty registry. cascade may be nil.
func New(cascade Cascade, now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{
		byID:    make(map[string]*models.MobileConnection),
		cascade: cascade,
		nowF:    now,
	}
}

// Register adds a mobile with connectedAt = lastActivity = now.
func (r *Registry) Register(mobileID, name, remoteAddr string) (models.MobileConnection, error) {
	if _, exists := r.byID[mobileID]; exists {
		return models.MobileConnection{}, fmt.Errorf("register %s: %w", mobileID, models.ErrDuplicateMobileID)
	}
	now := r.nowF()
	mc := &models.MobileConnection{
		MobileID:     mobileID,
		MobileName:   name,
		RemoteAddr:   remoteAddr,
		ConnectedAt:  now,
		LastActivity: now,
	}
	r.byID[mobileID] = mc
	r.order = append(r.order, mobileID)
	return *mc, nil
}

// Touch records activity for mobileID.
func (r *Registry) Touch(mobileID string) error {
	mc, ok := r.byID[mobileID]
	if !ok {
		return fmt.Errorf("touch %s: %w", mobileID, models.ErrUnknownMobile)
	}
	now := r.nowF()
	// Keep lastActivity >= connectedAt even if the clock steps backwards.
	if now.After(mc.LastActivity) {
		mc.LastActivity = now
	}
	return nil
}

// Remove deletes mobileID and closes its sessions. Removing an absent id is a
// no-op; it reports whether anything was removed.
func (r *Registry) Remove(mobileID string) bool {
	if _, ok := r.byID[mobileID]; !ok {
		return false
	}
	delete(r.byID, mobileID)
	for i, id := range r.order {
		if id == mobileID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	if r.cascade != nil {
		r.cascade.CloseAllFor(mobileID)
	}
	return true
}

// Stale returns the ids of mobiles silent for longer than timeout, in pairing
// order.
func (r *Registry) Stale(timeout time.Duration) []string {
	cutoff := r.nowF().Add(-timeout)
	var ids []string
	for _, id := range r.order {
		if r.byID[id].LastActivity.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	return ids
}

// Has reports whether mobileID is registered.
func (r *Registry) Has(mobileID string) bool {
	_, ok := r.byID[mobileID]
	return ok
}

// Get returns a copy of the connection for mobileID.
func (r *Registry) Get(mobileID string) (models.MobileConnection, bool) {
	mc, ok := r.byID[mobileID]
	if !ok {
		return models.MobileConnection{}, false
	}
	return *mc, true
}

// List returns copies of all connections in pairing order.
func (r *Registry) List() []models.MobileConnection {
	out := make([]models.MobileConnection, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.byID[id])
	}
	return out
}

// IDs returns the registered ids in pairing order.
func (r *Registry) IDs() []string {
	return append([]string(nil), r.order...)
}

// Len returns the number of registered mobiles.
func (r *Registry) Len() int {
	return len(r.order)
}

// Clear removes every mobile, cascading each.
func (r *Registry) Clear() {
	for _, id := range r.IDs() {
		r.Remove(id)
	}
}
