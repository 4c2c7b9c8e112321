package statemachine

import (
	"errors"
	"fmt"
	"testing"

	"github.com/iammorganparry/clive/apps/remote/internal/models"
)

func TestAllowed(t *testing.T) {
	d, cg, cd, e := models.StatusDisconnected, models.StatusConnecting, models.StatusConnected, models.StatusError

	tests := []struct {
		from, to models.Status
		want     bool
	}{
		{d, cg, true},
		{d, cd, false},
		{d, e, false},
		{d, d, false},
		{cg, cd, true},
		{cg, e, true},
		{cg, d, true},
		{cg, cg, false},
		{cd, d, true},
		{cd, e, true},
		{cd, cg, false},
		{cd, cd, false},
		{e, cg, true},
		{e, d, true},
		{e, cd, false},
		{e, e, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s->%s", tt.from, tt.to), func(t *testing.T) {
			if got := Allowed(tt.from, tt.to); got != tt.want {
				t.Errorf("Allowed(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestMachineStartsDisconnected(t *testing.T) {
	m := New(nil)
	if m.Status() != models.StatusDisconnected {
		t.Errorf("initial status = %s", m.Status())
	}
	if m.Err() != nil {
		t.Error("expected no error initially")
	}
}

func TestIllegalTransitionLeavesStatus(t *testing.T) {
	m := New(nil)
	err := m.To(models.StatusConnected)
	if !errors.Is(err, models.ErrIllegalTransition) {
		t.Fatalf("expected ErrIllegalTransition, got %v", err)
	}
	if m.Status() != models.StatusDisconnected {
		t.Errorf("status changed to %s after illegal transition", m.Status())
	}
}

func TestOnMoveSeesEveryEdge(t *testing.T) {
	var seen []Transition
	m := New(func(tr Transition) { seen = append(seen, tr) })

	steps := []models.Status{
		models.StatusConnecting,
		models.StatusConnected,
		models.StatusDisconnected,
		models.StatusConnecting,
	}
	for _, s := range steps {
		if err := m.To(s); err != nil {
			t.Fatalf("To(%s): %v", s, err)
		}
	}
	if err := m.Fail(models.ErrEndpointArmFailure); err != nil {
		t.Fatalf("Fail: %v", err)
	}

	if len(seen) != 5 {
		t.Fatalf("expected 5 transitions, got %d", len(seen))
	}
	for _, tr := range seen {
		if !Allowed(tr.From, tr.To) {
			t.Errorf("observed illegal edge %s -> %s", tr.From, tr.To)
		}
	}
}

func TestFailRecordsCause(t *testing.T) {
	m := New(nil)
	m.To(models.StatusConnecting)

	cause := fmt.Errorf("listen tcp :8743: %w", models.ErrEndpointArmFailure)
	if err := m.Fail(cause); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if m.Status() != models.StatusError {
		t.Fatalf("status = %s", m.Status())
	}
	got := m.Err()
	if got == nil || got.Code != models.CodeEndpointArmFailure {
		t.Fatalf("unexpected error detail %+v", got)
	}

	if err := m.To(models.StatusConnecting); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if m.Err() != nil {
		t.Error("error detail must clear when leaving the error status")
	}
}

func TestFailFromDisconnectedIsIllegal(t *testing.T) {
	m := New(nil)
	if err := m.Fail(models.ErrTransportFault); !errors.Is(err, models.ErrIllegalTransition) {
		t.Errorf("expected ErrIllegalTransition, got %v", err)
	}
	if m.Err() != nil {
		t.Error("no error detail expected")
	}
}
