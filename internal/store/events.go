package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/iammorganparry/clive/apps/remote/internal/models"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// EventStore records pairing history.
type EventStore struct {
	db *DB
}

func NewEventStore(db *DB) *EventStore {
	return &EventStore{db: db}
}

// Record inserts ev and sets its ID. A zero CreatedAt is stamped with now.
func (s *EventStore) Record(ev *models.PairingEvent) error {
	if ev.CreatedAt == 0 {
		ev.CreatedAt = time.Now().Unix()
	}
	res, err := s.db.Exec(`
		INSERT INTO pairing_events (mobile_id, mobile_name, event, reason, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, ev.MobileID, nullString(ev.MobileName), string(ev.Event), nullString(ev.Reason), ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert pairing event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("pairing event id: %w", err)
	}
	ev.ID = id
	return nil
}

// List returns the most recent events, newest first. mobileID filters to one
// mobile when non-empty.
func (s *EventStore) List(mobileID string, limit int) ([]models.PairingEvent, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	query := `
		SELECT id, mobile_id, mobile_name, event, reason, created_at
		FROM pairing_events`
	args := []any{}
	if mobileID != "" {
		query += ` WHERE mobile_id = ?`
		args = append(args, mobileID)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list pairing events: %w", err)
	}
	defer rows.Close()

	events := []models.PairingEvent{}
	for rows.Next() {
		var ev models.PairingEvent
		var name, reason sql.NullString
		var kind string
		if err := rows.Scan(&ev.ID, &ev.MobileID, &name, &kind, &reason, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan pairing event: %w", err)
		}
		ev.MobileName = name.String
		ev.Reason = reason.String
		ev.Event = models.PairingEventType(kind)
		events = append(events, ev)
	}
	return events, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
