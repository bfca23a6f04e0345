package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fleetfence/fleetfence-server/internal/models"
)

const eventColumns = `
	id, created_at, geofence_id, geofence_name, device_id, device_name,
	type, event_time, lat, lng, dwell_duration_ms, status`

// RecordEvent persists a geofence event. Replays of the same event id are
// no-ops so the monitor and the notification bridge can both record without
// creating duplicates.
func (s *PostgresStore) RecordEvent(ctx context.Context, event *models.GeofenceEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	if event.Status == "" {
		event.Status = models.EventStatusPending
	}

	query := `
		INSERT INTO geofence_events (
			id, created_at, geofence_id, geofence_name, device_id, device_name,
			type, event_time, lat, lng, dwell_duration_ms, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO NOTHING`

	_, err := s.getDB().ExecContext(ctx, query,
		event.ID, event.CreatedAt, event.GeofenceID, event.GeofenceName,
		event.DeviceID, event.DeviceName, event.Type, event.Time,
		event.Lat, event.Lng, dwellMillis(event.DwellDuration), event.Status,
	)
	return err
}

// GetEvent gets an event by ID
func (s *PostgresStore) GetEvent(ctx context.Context, id uuid.UUID) (*models.GeofenceEvent, error) {
	query := `SELECT` + eventColumns + ` FROM geofence_events WHERE id = $1`
	return s.scanEvent(s.getDB().QueryRowContext(ctx, query, id))
}

// ListEvents lists events with filters
func (s *PostgresStore) ListEvents(ctx context.Context, filters EventFilters, limit, offset int) ([]*models.GeofenceEvent, int64, error) {
	where := " WHERE 1=1"
	args := []interface{}{}
	argCount := 0

	if filters.GeofenceID != nil {
		argCount++
		where += fmt.Sprintf(" AND geofence_id = $%d", argCount)
		args = append(args, *filters.GeofenceID)
	}

	if filters.DeviceID != nil {
		argCount++
		where += fmt.Sprintf(" AND device_id = $%d", argCount)
		args = append(args, *filters.DeviceID)
	}

	if filters.Type != nil {
		argCount++
		where += fmt.Sprintf(" AND type = $%d", argCount)
		args = append(args, *filters.Type)
	}

	if filters.Status != nil {
		argCount++
		where += fmt.Sprintf(" AND status = $%d", argCount)
		args = append(args, *filters.Status)
	}

	if filters.StartTime != nil {
		argCount++
		where += fmt.Sprintf(" AND event_time >= $%d", argCount)
		args = append(args, *filters.StartTime)
	}

	if filters.EndTime != nil {
		argCount++
		where += fmt.Sprintf(" AND event_time <= $%d", argCount)
		args = append(args, *filters.EndTime)
	}

	var total int64
	if err := s.getDB().QueryRowContext(ctx,
		"SELECT COUNT(*) FROM geofence_events"+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := "SELECT" + eventColumns + " FROM geofence_events" + where +
		fmt.Sprintf(" ORDER BY event_time DESC LIMIT $%d OFFSET $%d", argCount+1, argCount+2)
	args = append(args, limit, offset)

	rows, err := s.getDB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var events []*models.GeofenceEvent
	for rows.Next() {
		ev, err := s.scanEvent(rows)
		if err != nil {
			return nil, 0, err
		}
		events = append(events, ev)
	}
	return events, total, rows.Err()
}

// UpdateEventStatus moves an event through its acknowledgement lifecycle
func (s *PostgresStore) UpdateEventStatus(ctx context.Context, id uuid.UUID, status models.EventStatus) error {
	result, err := s.getDB().ExecContext(ctx,
		`UPDATE geofence_events SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return err
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteEvent deletes an event
func (s *PostgresStore) DeleteEvent(ctx context.Context, id uuid.UUID) error {
	result, err := s.getDB().ExecContext(ctx, `DELETE FROM geofence_events WHERE id = $1`, id)
	if err != nil {
		return err
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) scanEvent(row rowScanner) (*models.GeofenceEvent, error) {
	var ev models.GeofenceEvent
	var dwellMs sql.NullInt64

	err := row.Scan(
		&ev.ID, &ev.CreatedAt, &ev.GeofenceID, &ev.GeofenceName,
		&ev.DeviceID, &ev.DeviceName, &ev.Type, &ev.Time,
		&ev.Lat, &ev.Lng, &dwellMs, &ev.Status,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if dwellMs.Valid {
		d := time.Duration(dwellMs.Int64) * time.Millisecond
		ev.DwellDuration = &d
	}
	return &ev, nil
}
