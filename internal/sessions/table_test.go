package sessions

import (
	"errors"
	"testing"
	"time"

	"github.com/iammorganparry/clive/apps/remote/internal/models"
)

type members map[string]bool

func (m members) Has(id string) bool { return m[id] }

func newTestTable() (*Table, members) {
	m := members{"m1": true, "m2": true}
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	return NewTable(m, func() time.Time { return now }), m
}

func TestOpenRequiresRegisteredMobile(t *testing.T) {
	tbl, _ := newTestTable()

	_, err := tbl.Open("ghost", "w1", "Proj")
	if !errors.Is(err, models.ErrUnknownMobile) {
		t.Fatalf("expected ErrUnknownMobile, got %v", err)
	}
	if tbl.Len() != 0 {
		t.Errorf("rejected open must not create a session")
	}

	sess, err := tbl.Open("m1", "w1", "Proj")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if sess.ID == "" {
		t.Error("expected a session id")
	}
	if sess.MobileID != "m1" || sess.WorkspaceID != "w1" || sess.WorkspaceName != "Proj" {
		t.Errorf("unexpected session: %+v", sess)
	}
}

func TestOpenWithoutMembershipFails(t *testing.T) {
	tbl := NewTable(nil, nil)
	if _, err := tbl.Open("m1", "w1", "Proj"); !errors.Is(err, models.ErrUnknownMobile) {
		t.Errorf("expected ErrUnknownMobile, got %v", err)
	}
}

func TestSessionIDsAreUnique(t *testing.T) {
	tbl, _ := newTestTable()
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		s, err := tbl.Open("m1", "w1", "Proj")
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		if seen[s.ID] {
			t.Fatalf("duplicate session id %s", s.ID)
		}
		seen[s.ID] = true
	}
}

func TestClose(t *testing.T) {
	tbl, _ := newTestTable()
	s, _ := tbl.Open("m1", "w1", "Proj")

	if !tbl.Close(s.ID) {
		t.Error("expected Close to report removal")
	}
	if tbl.Close(s.ID) {
		t.Error("closing twice should be a no-op")
	}
	if _, ok := tbl.Get(s.ID); ok {
		t.Error("closed session still present")
	}
}

func TestCloseAllForOnlyTouchesOwner(t *testing.T) {
	tbl, _ := newTestTable()
	tbl.Open("m1", "w1", "A")
	keep, _ := tbl.Open("m2", "w2", "B")
	tbl.Open("m1", "w3", "C")

	if n := tbl.CloseAllFor("m1"); n != 2 {
		t.Errorf("expected 2 closed, got %d", n)
	}
	if got := tbl.ForMobile("m1"); len(got) != 0 {
		t.Errorf("expected no sessions for m1, got %v", got)
	}
	list := tbl.List()
	if len(list) != 1 || list[0].ID != keep.ID {
		t.Errorf("expected only m2's session to remain, got %v", list)
	}
	if n := tbl.CloseAllFor("m1"); n != 0 {
		t.Errorf("second cascade should close nothing, got %d", n)
	}
}

func TestListPreservesCreationOrder(t *testing.T) {
	tbl, _ := newTestTable()
	a, _ := tbl.Open("m1", "w1", "A")
	b, _ := tbl.Open("m2", "w2", "B")
	c, _ := tbl.Open("m1", "w3", "C")
	tbl.Close(b.ID)
	d, _ := tbl.Open("m2", "w4", "D")

	want := []string{a.ID, c.ID, d.ID}
	got := tbl.List()
	if len(got) != len(want) {
		t.Fatalf("got %d sessions, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].ID != want[i] {
			t.Errorf("position %d: got %s, want %s", i, got[i].ID, want[i])
		}
	}
}

func TestClear(t *testing.T) {
	tbl, _ := newTestTable()
	tbl.Open("m1", "w1", "A")
	tbl.Clear()
	if tbl.Len() != 0 {
		t.Errorf("expected empty table, got %d", tbl.Len())
	}
}
