package ui

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/iammorganparry/clive/apps/remote/internal/models"
)

func TestRemaining(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		expiresAt time.Time
		want      time.Duration
	}{
		{"future", now.Add(5 * time.Minute), 5 * time.Minute},
		{"truncates fraction", now.Add(1500 * time.Millisecond), time.Second},
		{"exactly now", now, 0},
		{"past", now.Add(-time.Minute), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Remaining(tt.expiresAt, now); got != tt.want {
				t.Errorf("Remaining() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCountdown(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{5 * time.Minute, "5:00"},
		{61 * time.Second, "1:01"},
		{9 * time.Second, "0:09"},
		{0, "expired"},
	}

	for _, tt := range tests {
		if got := Countdown(tt.d); got != tt.want {
			t.Errorf("Countdown(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestAgo(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		at   time.Time
		want string
	}{
		{time.Time{}, "-"},
		{now, "just now"},
		{now.Add(-42 * time.Second), "42s ago"},
		{now.Add(-3 * time.Minute), "3m ago"},
		{now.Add(-2 * time.Hour), "2h ago"},
	}

	for _, tt := range tests {
		if got := Ago(tt.at, now); got != tt.want {
			t.Errorf("Ago(%v) = %q, want %q", tt.at, got, tt.want)
		}
	}
}

func TestStatusColor(t *testing.T) {
	for status := range models.ValidStatuses {
		got := StatusColor(status)
		if !strings.Contains(got, strings.ToUpper(string(status))) {
			t.Errorf("StatusColor(%s) = %q, missing label", status, got)
		}
	}
}

func TestRenderState(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	exp := now.Add(90 * time.Second)
	st := models.RemoteState{
		Version:    7,
		Status:     models.StatusConnected,
		DeviceID:   "dev-1",
		DeviceName: "Studio Mac",
		Mobiles: []models.MobileConnection{
			{MobileID: "m1", MobileName: "Pixel", RemoteAddr: "10.0.0.2:5000", ConnectedAt: now.Add(-time.Minute), LastActivity: now},
		},
		MobileCount:  1,
		Sessions:     []models.Session{{ID: "s1", MobileID: "m1", WorkspaceID: "w1", WorkspaceName: "Proj", CreatedAt: now}},
		PinExpiresAt: &exp,
	}

	var buf bytes.Buffer
	RenderState(&buf, st, now)
	out := buf.String()

	for _, want := range []string{"CONNECTED", "Studio Mac", "1:30", "Mobiles (1)", "Pixel", "10.0.0.2:5000", "Sessions (1)", "Proj"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRenderStateEmpty(t *testing.T) {
	var buf bytes.Buffer
	RenderState(&buf, models.RemoteState{Status: models.StatusError, Error: &models.StateError{Code: "endpoint_arm_failure", Message: "port in use"}}, time.Now())
	out := buf.String()

	for _, want := range []string{"ERROR", "port in use", "none paired", "none open"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRenderHistory(t *testing.T) {
	events := []models.PairingEvent{
		{MobileID: "m1", MobileName: "Pixel", Event: models.EventRemoved, Reason: "liveness_timeout", CreatedAt: 1700000100},
		{MobileID: "m1", MobileName: "Pixel", Event: models.EventPaired, CreatedAt: 1700000000},
	}

	var buf bytes.Buffer
	RenderHistory(&buf, events)
	out := buf.String()

	if !strings.Contains(out, "liveness_timeout") || strings.Count(out, "Pixel") != 2 {
		t.Errorf("unexpected history output:\n%s", out)
	}
}

func TestNewTableHeaderColors(t *testing.T) {
	// Mismatched header colors panic inside tablewriter.
	var buf bytes.Buffer
	for _, n := range []int{1, 3, 7} {
		headers := make([]string, n)
		for i := range headers {
			headers[i] = "H"
		}
		NewTable(&buf, headers).Render()
	}
}
