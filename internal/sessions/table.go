package sessions

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/iammorganparry/clive/apps/remote/internal/models"
)

// Membership answers whether a mobile is currently registered.
type Membership interface {
	Has(mobileID string) bool
}

// Table holds workspace sessions in creation order. Every session belongs to
// a registered mobile. It is not safe for concurrent use; the broker
// serializes access.
type Table struct {
	members Membership
	byID    map[string]models.Session
	order   []string
	nowF    func() time.Time
	newID   func() string
}

// NewTable creates an empty session table. members may be attached later
// with SetMembership to break the registry/table construction cycle.
func NewTable(members Membership, now func() time.Time) *Table {
	if now == nil {
		now = time.Now
	}
	return &Table{
		members: members,
		byID:    make(map[string]models.Session),
		nowF:    now,
		newID:   func() string { return uuid.New().String() },
	}
}

// SetMembership attaches the registry used to enforce session ownership.
func (t *Table) SetMembership(m Membership) {
	t.members = m
}

// Open creates a session for a registered mobile.
func (t *Table) Open(mobileID, workspaceID, workspaceName string) (models.Session, error) {
	if t.members == nil || !t.members.Has(mobileID) {
		return models.Session{}, fmt.Errorf("open session for %s: %w", mobileID, models.ErrUnknownMobile)
	}
	sess := models.Session{
		ID:            t.newID(),
		MobileID:      mobileID,
		WorkspaceID:   workspaceID,
		WorkspaceName: workspaceName,
		CreatedAt:     t.nowF(),
	}
	t.byID[sess.ID] = sess
	t.order = append(t.order, sess.ID)
	return sess, nil
}

// Close removes a session; closing an unknown id is a no-op.
func (t *Table) Close(sessionID string) bool {
	if _, ok := t.byID[sessionID]; !ok {
		return false
	}
	delete(t.byID, sessionID)
	t.order = removeID(t.order, sessionID)
	return true
}

// CloseAllFor removes every session owned by mobileID and returns how many
// were closed.
func (t *Table) CloseAllFor(mobileID string) int {
	kept := t.order[:0]
	closed := 0
	for _, id := range t.order {
		if t.byID[id].MobileID == mobileID {
			delete(t.byID, id)
			closed++
			continue
		}
		kept = append(kept, id)
	}
	t.order = kept
	return closed
}

// Get returns the session with id.
func (t *Table) Get(sessionID string) (models.Session, bool) {
	s, ok := t.byID[sessionID]
	return s, ok
}

// ForMobile returns the sessions owned by mobileID in creation order.
func (t *Table) ForMobile(mobileID string) []models.Session {
	var out []models.Session
	for _, id := range t.order {
		if s := t.byID[id]; s.MobileID == mobileID {
			out = append(out, s)
		}
	}
	return out
}

// List returns every session in creation order.
func (t *Table) List() []models.Session {
	out := make([]models.Session, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.byID[id])
	}
	return out
}

// Len returns the number of open sessions.
func (t *Table) Len() int {
	return len(t.order)
}

// Clear drops every session.
func (t *Table) Clear() {
	t.byID = make(map[string]models.Session)
	t.order = nil
}

func removeID(ids []string, target string) []string {
	for i, id := range ids {
		if id == target {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
