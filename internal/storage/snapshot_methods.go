package storage

import (
	"context"
	"fmt"

	"github.com/fleetfence/fleetfence-server/internal/models"
)

// SaveStateSnapshot replaces the persisted cache snapshot with the given
// states. The monitor calls this on shutdown so in-progress dwell tracking
// survives a restart.
func (s *PostgresStore) SaveStateSnapshot(ctx context.Context, states []models.GeofenceState) error {
	tx, err := s.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin snapshot tx: %w", err)
	}
	pg := tx.(*PostgresStore)

	if _, err := pg.getDB().ExecContext(ctx, `DELETE FROM geofence_state_snapshots`); err != nil {
		tx.Rollback()
		return fmt.Errorf("clear snapshot: %w", err)
	}

	query := `
		INSERT INTO geofence_state_snapshots (
			device_id, geofence_id, is_inside, entered_at, last_seen_at, dwell_fired
		) VALUES ($1, $2, $3, $4, $5, $6)`

	for _, st := range states {
		if _, err := pg.getDB().ExecContext(ctx, query,
			st.DeviceID, st.GeofenceID, st.IsInside, st.EnteredAt, st.LastSeenAt, st.DwellFired,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert snapshot row: %w", err)
		}
	}

	return tx.Commit()
}

// LoadStateSnapshot returns the persisted cache snapshot
func (s *PostgresStore) LoadStateSnapshot(ctx context.Context) ([]models.GeofenceState, error) {
	query := `
		SELECT device_id, geofence_id, is_inside, entered_at, last_seen_at, dwell_fired
		FROM geofence_state_snapshots`

	rows, err := s.getDB().QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var states []models.GeofenceState
	for rows.Next() {
		var st models.GeofenceState
		if err := rows.Scan(
			&st.DeviceID, &st.GeofenceID, &st.IsInside,
			&st.EnteredAt, &st.LastSeenAt, &st.DwellFired,
		); err != nil {
			return nil, err
		}
		states = append(states, st)
	}
	return states, rows.Err()
}
