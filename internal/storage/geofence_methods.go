package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/fleetfence/fleetfence-server/internal/models"
)

const geofenceColumns = `
	id, created_at, updated_at, owner_id, name, kind, enabled,
	center_lat, center_lng, radius_meters, vertices,
	on_enter, on_exit, dwell_threshold_ms, notification_mode`

// CreateGeofence creates a geofence
func (s *PostgresStore) CreateGeofence(ctx context.Context, geofence *models.Geofence) error {
	if geofence.ID == uuid.Nil {
		geofence.ID = uuid.New()
	}
	now := time.Now()
	geofence.CreatedAt = now
	geofence.UpdatedAt = now

	query := `
		INSERT INTO geofences (
			id, created_at, updated_at, owner_id, name, kind, enabled,
			center_lat, center_lng, radius_meters, vertices,
			on_enter, on_exit, dwell_threshold_ms, notification_mode
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	_, err := s.getDB().ExecContext(ctx, query,
		geofence.ID, geofence.CreatedAt, geofence.UpdatedAt,
		geofence.OwnerID, geofence.Name, geofence.Kind, geofence.Enabled,
		geofence.CenterLat, geofence.CenterLng, geofence.RadiusMeters, geofence.Vertices,
		geofence.OnEnter, geofence.OnExit, dwellMillis(geofence.DwellThreshold), geofence.NotificationMode,
	)
	return err
}

// GetGeofence gets a geofence by ID
func (s *PostgresStore) GetGeofence(ctx context.Context, id uuid.UUID) (*models.Geofence, error) {
	query := `SELECT` + geofenceColumns + ` FROM geofences WHERE id = $1`
	return s.scanGeofence(s.getDB().QueryRowContext(ctx, query, id))
}

// UpdateGeofence updates a geofence
func (s *PostgresStore) UpdateGeofence(ctx context.Context, geofence *models.Geofence) error {
	geofence.UpdatedAt = time.Now()

	query := `
		UPDATE geofences SET
			updated_at = $2, name = $3, kind = $4, enabled = $5,
			center_lat = $6, center_lng = $7, radius_meters = $8, vertices = $9,
			on_enter = $10, on_exit = $11, dwell_threshold_ms = $12, notification_mode = $13
		WHERE id = $1`

	result, err := s.getDB().ExecContext(ctx, query,
		geofence.ID, geofence.UpdatedAt, geofence.Name, geofence.Kind, geofence.Enabled,
		geofence.CenterLat, geofence.CenterLng, geofence.RadiusMeters, geofence.Vertices,
		geofence.OnEnter, geofence.OnExit, dwellMillis(geofence.DwellThreshold), geofence.NotificationMode,
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

// DeleteGeofence deletes a geofence
func (s *PostgresStore) DeleteGeofence(ctx context.Context, id uuid.UUID) error {
	result, err := s.getDB().ExecContext(ctx, `DELETE FROM geofences WHERE id = $1`, id)
	if err != nil {
		return err
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// ListGeofences lists all geofences for an owner
func (s *PostgresStore) ListGeofences(ctx context.Context, ownerID uuid.UUID, limit, offset int) ([]*models.Geofence, int64, error) {
	var total int64
	if err := s.getDB().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM geofences WHERE owner_id = $1`, ownerID).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT` + geofenceColumns + `
		FROM geofences WHERE owner_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`

	rows, err := s.getDB().QueryContext(ctx, query, ownerID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	geofences, err := s.collectGeofences(rows)
	if err != nil {
		return nil, 0, err
	}
	return geofences, total, nil
}

// ListEnabledGeofences lists enabled geofences for an owner, used by the monitor
func (s *PostgresStore) ListEnabledGeofences(ctx context.Context, ownerID uuid.UUID) ([]*models.Geofence, error) {
	query := `SELECT` + geofenceColumns + `
		FROM geofences WHERE owner_id = $1 AND enabled = TRUE
		ORDER BY created_at`

	rows, err := s.getDB().QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return s.collectGeofences(rows)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (s *PostgresStore) scanGeofence(row rowScanner) (*models.Geofence, error) {
	var g models.Geofence
	var dwellMs sql.NullInt64

	err := row.Scan(
		&g.ID, &g.CreatedAt, &g.UpdatedAt, &g.OwnerID, &g.Name, &g.Kind, &g.Enabled,
		&g.CenterLat, &g.CenterLng, &g.RadiusMeters, &g.Vertices,
		&g.OnEnter, &g.OnExit, &dwellMs, &g.NotificationMode,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if dwellMs.Valid {
		d := time.Duration(dwellMs.Int64) * time.Millisecond
		g.DwellThreshold = &d
	}
	return &g, nil
}

func (s *PostgresStore) collectGeofences(rows *sql.Rows) ([]*models.Geofence, error) {
	var geofences []*models.Geofence
	for rows.Next() {
		g, err := s.scanGeofence(rows)
		if err != nil {
			return nil, err
		}
		geofences = append(geofences, g)
	}
	return geofences, rows.Err()
}

func dwellMillis(d *time.Duration) interface{} {
	if d == nil {
		return nil
	}
	return d.Milliseconds()
}
