// Package statemachine holds the broker's connection status and the set of
// legal transitions between statuses. It is a pure reactor: it never retries
// or moves on its own.
package statemachine

import (
	"fmt"

	"github.com/iammorganparry/clive/apps/remote/internal/models"
)

var edges = map[models.Status][]models.Status{
	models.StatusDisconnected: {models.StatusConnecting},
	models.StatusConnecting:   {models.StatusConnected, models.StatusError, models.StatusDisconnected},
	models.StatusConnected:    {models.StatusDisconnected, models.StatusError},
	models.StatusError:        {models.StatusConnecting, models.StatusDisconnected},
}

// Allowed reports whether from -> to is a legal edge.
func Allowed(from, to models.Status) bool {
	for _, s := range edges[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition is one recorded status change.
type Transition struct {
	From models.Status
	To   models.Status
}

// Machine tracks the current status and, in the error status, its cause.
// It is not safe for concurrent use; the broker serializes access.
type Machine struct {
	status  models.Status
	lastErr *models.StateError
	onMove  func(Transition)
}

// New returns a machine in the disconnected status. onMove, if non-nil, is
// called after every accepted transition.
func New(onMove func(Transition)) *Machine {
	return &Machine{status: models.StatusDisconnected, onMove: onMove}
}

// Status returns the current status.
func (m *Machine) Status() models.Status {
	return m.status
}

// Err returns the cause of the error status, or nil in any other status.
func (m *Machine) Err() *models.StateError {
	if m.lastErr == nil {
		return nil
	}
	e := *m.lastErr
	return &e
}

// To moves the machine to next. Illegal edges leave the status unchanged.
func (m *Machine) To(next models.Status) error {
	if !Allowed(m.status, next) {
		return fmt.Errorf("%s -> %s: %w", m.status, next, models.ErrIllegalTransition)
	}
	prev := m.status
	m.status = next
	if next != models.StatusError {
		m.lastErr = nil
	}
	if m.onMove != nil {
		m.onMove(Transition{From: prev, To: next})
	}
	return nil
}

// Fail moves the machine to the error status recording cause.
func (m *Machine) Fail(cause error) error {
	if err := m.To(models.StatusError); err != nil {
		return err
	}
	m.lastErr = &models.StateError{Code: models.ErrorCode(cause), Message: cause.Error()}
	return nil
}

// Is reports whether the machine is in any of statuses.
func (m *Machine) Is(statuses ...models.Status) bool {
	for _, s := range statuses {
		if m.status == s {
			return true
		}
	}
	return false
}
