package models

import (
	"time"

	"github.com/google/uuid"
)

// Position represents a single GPS fix for a device.
// Positions are immutable once received.
type Position struct {
	DeviceID string    `json:"deviceId" validate:"required"`
	Lat      float64   `json:"lat"`
	Lng      float64   `json:"lng"`
	Speed    float64   `json:"speed"`
	Course   float64   `json:"course"`
	Time     time.Time `json:"timestampUtc"`
}

// Point returns the position as a coordinate pair
func (p Position) Point() LatLng {
	return LatLng{Lat: p.Lat, Lng: p.Lng}
}

// Device represents a tracked device known to the server
type Device struct {
	ID        string    `json:"id" db:"id"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`

	OwnerID uuid.UUID `json:"ownerId" db:"owner_id"`
	Name    string    `json:"name" db:"name"`

	LastLat    *float64   `json:"lastLat,omitempty" db:"last_lat"`
	LastLng    *float64   `json:"lastLng,omitempty" db:"last_lng"`
	LastSeenAt *time.Time `json:"lastSeenAt,omitempty" db:"last_seen_at"`
}
