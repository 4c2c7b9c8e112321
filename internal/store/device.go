package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/iammorganparry/clive/apps/remote/internal/models"
)

// DeviceStore persists the single device identity mobiles pair with.
type DeviceStore struct {
	db *DB
}

func NewDeviceStore(db *DB) *DeviceStore {
	return &DeviceStore{db: db}
}

// Get returns the stored identity, or nil if none has been created yet.
func (s *DeviceStore) Get() (*models.DeviceIdentity, error) {
	var d models.DeviceIdentity
	var createdAt int64
	err := s.db.QueryRow(`
		SELECT device_id, device_name, created_at
		FROM device_identity WHERE singleton = 1
	`).Scan(&d.DeviceID, &d.DeviceName, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get device identity: %w", err)
	}
	d.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &d, nil
}

// LoadOrCreate returns the persisted identity, creating it with name on first
// start. An existing identity is returned unchanged even if name differs, so
// mobiles keep pairing with the same device across restarts.
func (s *DeviceStore) LoadOrCreate(name string) (*models.DeviceIdentity, error) {
	if name == "" {
		return nil, fmt.Errorf("device name must not be empty")
	}
	now := time.Now().Unix()
	_, err := s.db.Exec(`
		INSERT INTO device_identity (singleton, device_id, device_name, created_at)
		VALUES (1, ?, ?, ?)
		ON CONFLICT(singleton) DO NOTHING
	`, uuid.New().String(), name, now)
	if err != nil {
		return nil, fmt.Errorf("create device identity: %w", err)
	}

	d, err := s.Get()
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, fmt.Errorf("device identity missing after insert")
	}
	return d, nil
}
