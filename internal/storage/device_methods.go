package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/fleetfence/fleetfence-server/internal/models"
)

const deviceColumns = `
	id, created_at, updated_at, owner_id, name, last_lat, last_lng, last_seen_at`

// CreateDevice creates a device
func (s *PostgresStore) CreateDevice(ctx context.Context, device *models.Device) error {
	now := time.Now()
	device.CreatedAt = now
	device.UpdatedAt = now

	query := `
		INSERT INTO devices (id, created_at, updated_at, owner_id, name, last_lat, last_lng, last_seen_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.getDB().ExecContext(ctx, query,
		device.ID, device.CreatedAt, device.UpdatedAt, device.OwnerID,
		device.Name, device.LastLat, device.LastLng, device.LastSeenAt,
	)
	return err
}

// GetDevice gets a device by ID
func (s *PostgresStore) GetDevice(ctx context.Context, deviceID string) (*models.Device, error) {
	query := `SELECT` + deviceColumns + ` FROM devices WHERE id = $1`

	var d models.Device
	err := s.getDB().QueryRowContext(ctx, query, deviceID).Scan(
		&d.ID, &d.CreatedAt, &d.UpdatedAt, &d.OwnerID, &d.Name,
		&d.LastLat, &d.LastLng, &d.LastSeenAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// UpdateDevice updates a device
func (s *PostgresStore) UpdateDevice(ctx context.Context, device *models.Device) error {
	device.UpdatedAt = time.Now()

	query := `
		UPDATE devices SET
			updated_at = $2, name = $3, last_lat = $4, last_lng = $5, last_seen_at = $6
		WHERE id = $1`

	result, err := s.getDB().ExecContext(ctx, query,
		device.ID, device.UpdatedAt, device.Name,
		device.LastLat, device.LastLng, device.LastSeenAt,
	)
	if err != nil {
		return err
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateDevicePosition records the latest accepted fix for a device
func (s *PostgresStore) UpdateDevicePosition(ctx context.Context, deviceID string, lat, lng float64, seenAt time.Time) error {
	query := `
		UPDATE devices SET
			updated_at = NOW(), last_lat = $2, last_lng = $3, last_seen_at = $4
		WHERE id = $1`

	_, err := s.getDB().ExecContext(ctx, query, deviceID, lat, lng, seenAt)
	return err
}

// DeleteDevice deletes a device
func (s *PostgresStore) DeleteDevice(ctx context.Context, deviceID string) error {
	result, err := s.getDB().ExecContext(ctx, `DELETE FROM devices WHERE id = $1`, deviceID)
	if err != nil {
		return err
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// ListDevices lists devices for an owner
func (s *PostgresStore) ListDevices(ctx context.Context, ownerID uuid.UUID, limit, offset int) ([]*models.Device, int64, error) {
	var total int64
	if err := s.getDB().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM devices WHERE owner_id = $1`, ownerID).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT` + deviceColumns + `
		FROM devices WHERE owner_id = $1
		ORDER BY name LIMIT $2 OFFSET $3`

	rows, err := s.getDB().QueryContext(ctx, query, ownerID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var devices []*models.Device
	for rows.Next() {
		var d models.Device
		if err := rows.Scan(
			&d.ID, &d.CreatedAt, &d.UpdatedAt, &d.OwnerID, &d.Name,
			&d.LastLat, &d.LastLng, &d.LastSeenAt,
		); err != nil {
			return nil, 0, err
		}
		devices = append(devices, &d)
	}
	return devices, total, rows.Err()
}
