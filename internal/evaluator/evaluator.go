// Package evaluator turns a position update into geofence state transitions
// and the events those transitions produce.
package evaluator

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/fleetfence/fleetfence-server/internal/geometry"
	"github.com/fleetfence/fleetfence-server/internal/models"
)

// Evaluator applies the enter/dwell/exit state machine for one device
// against a set of geofences. It holds no state of its own; previous
// states come from the caller.
type Evaluator struct {
	toleranceMeters float64
}

// New creates an evaluator. toleranceMeters <= 0 selects the default
// circle-boundary tolerance.
func New(toleranceMeters float64) *Evaluator {
	if toleranceMeters <= 0 {
		toleranceMeters = geometry.DefaultToleranceMeters
	}
	return &Evaluator{toleranceMeters: toleranceMeters}
}

// Result carries the outcome of evaluating one position
type Result struct {
	States []models.GeofenceState
	Events []models.GeofenceEvent
}

// Evaluate computes new states and transition events for a single position
// against every geofence in the list. Geofences with invalid geometry are
// logged and skipped; they never abort evaluation of the rest. Disabled
// geofences are skipped without touching their state.
//
// A missing previous state is treated as an outside baseline: the first
// observation of a pair never synthesizes a retroactive enter event.
func (e *Evaluator) Evaluate(pos models.Position, deviceName string, geofences []*models.Geofence, prev map[uuid.UUID]models.GeofenceState) Result {
	var res Result

	for _, gf := range geofences {
		if !gf.Enabled {
			continue
		}

		insideNow, err := geometry.Contains(gf, pos.Point(), e.toleranceMeters)
		if err != nil {
			log.Warn().
				Err(err).
				Str("geofenceId", gf.ID.String()).
				Str("deviceId", pos.DeviceID).
				Msg("Skipping geofence with invalid geometry")
			continue
		}

		prevState, known := prev[gf.ID]
		wasInside := known && prevState.IsInside

		state := models.GeofenceState{
			DeviceID:   pos.DeviceID,
			GeofenceID: gf.ID,
			IsInside:   insideNow,
			LastSeenAt: pos.Time,
		}

		switch {
		case insideNow && !wasInside:
			enteredAt := pos.Time
			state.EnteredAt = &enteredAt
			state.DwellFired = false

			if gf.OnEnter {
				res.Events = append(res.Events, e.newEvent(gf, pos, deviceName, models.EventTypeEnter, nil))
			}

		case insideNow && wasInside:
			state.EnteredAt = prevState.EnteredAt
			state.DwellFired = prevState.DwellFired

			if gf.DwellThreshold != nil && !prevState.DwellFired && prevState.EnteredAt != nil {
				elapsed := pos.Time.Sub(*prevState.EnteredAt)
				if elapsed >= *gf.DwellThreshold {
					state.DwellFired = true
					res.Events = append(res.Events, e.newEvent(gf, pos, deviceName, models.EventTypeDwell, &elapsed))
				}
			}

		case !insideNow && wasInside:
			if gf.OnExit {
				var dwelled *time.Duration
				if prevState.EnteredAt != nil {
					d := pos.Time.Sub(*prevState.EnteredAt)
					dwelled = &d
				}
				res.Events = append(res.Events, e.newEvent(gf, pos, deviceName, models.EventTypeExit, dwelled))
			}
		}

		res.States = append(res.States, state)
	}

	return res
}

func (e *Evaluator) newEvent(gf *models.Geofence, pos models.Position, deviceName string, typ models.EventType, dwelled *time.Duration) models.GeofenceEvent {
	return models.GeofenceEvent{
		ID:            uuid.New(),
		CreatedAt:     time.Now().UTC(),
		GeofenceID:    gf.ID,
		GeofenceName:  gf.Name,
		DeviceID:      pos.DeviceID,
		DeviceName:    deviceName,
		Type:          typ,
		Time:          pos.Time,
		Lat:           pos.Lat,
		Lng:           pos.Lng,
		DwellDuration: dwelled,
		Status:        models.EventStatusPending,
	}
}
