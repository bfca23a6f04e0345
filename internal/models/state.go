package models

import (
	"time"

	"github.com/google/uuid"
)

// GeofenceState tracks where a device stands relative to one geofence.
// One state exists per (device, geofence) pair while the pair is monitored.
type GeofenceState struct {
	DeviceID   string    `json:"deviceId"`
	GeofenceID uuid.UUID `json:"geofenceId"`

	IsInside   bool       `json:"isInside"`
	EnteredAt  *time.Time `json:"enteredAt,omitempty"`
	LastSeenAt time.Time  `json:"lastSeenAt"`
	DwellFired bool       `json:"dwellFired"`
}

// InsideFor returns how long the device has been inside, zero if outside
func (s *GeofenceState) InsideFor(now time.Time) time.Duration {
	if !s.IsInside || s.EnteredAt == nil {
		return 0
	}
	return now.Sub(*s.EnteredAt)
}
