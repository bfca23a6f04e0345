package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// GeofenceEvent records a single detected boundary transition.
// Immutable after creation except for Status.
type GeofenceEvent struct {
	ID        uuid.UUID `json:"id" db:"id"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`

	GeofenceID   uuid.UUID `json:"geofenceId" db:"geofence_id"`
	GeofenceName string    `json:"geofenceName" db:"geofence_name"`
	DeviceID     string    `json:"deviceId" db:"device_id"`
	DeviceName   string    `json:"deviceName" db:"device_name"`

	Type EventType `json:"type" db:"type"`
	Time time.Time `json:"timestamp" db:"event_time"`

	Lat float64 `json:"lat" db:"lat"`
	Lng float64 `json:"lng" db:"lng"`

	// DwellDuration is set on exit and dwell events
	DwellDuration *time.Duration `json:"dwellDurationMs,omitempty" db:"dwell_duration_ms"`

	Status EventStatus `json:"status" db:"status"`
}

// MarshalJSON reports the dwell duration in milliseconds. time.Duration
// marshals as nanoseconds, which would misstate the Ms-named field.
func (e GeofenceEvent) MarshalJSON() ([]byte, error) {
	type alias GeofenceEvent
	aux := struct {
		alias
		DwellDuration *int64 `json:"dwellDurationMs,omitempty"`
	}{alias: alias(e)}

	if e.DwellDuration != nil {
		ms := e.DwellDuration.Milliseconds()
		aux.DwellDuration = &ms
	}
	return json.Marshal(aux)
}

// UnmarshalJSON accepts the dwell duration as milliseconds
func (e *GeofenceEvent) UnmarshalJSON(data []byte) error {
	type alias GeofenceEvent
	aux := struct {
		*alias
		DwellDuration *int64 `json:"dwellDurationMs"`
	}{alias: (*alias)(e)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if aux.DwellDuration != nil {
		d := time.Duration(*aux.DwellDuration) * time.Millisecond
		e.DwellDuration = &d
	} else {
		e.DwellDuration = nil
	}
	return nil
}

// EventType represents geofence event types
type EventType string

const (
	EventTypeEnter EventType = "enter"
	EventTypeExit  EventType = "exit"
	EventTypeDwell EventType = "dwell"
)

// EventStatus represents the user-facing lifecycle of an event
type EventStatus string

const (
	EventStatusPending      EventStatus = "pending"
	EventStatusAcknowledged EventStatus = "acknowledged"
	EventStatusArchived     EventStatus = "archived"
)
