package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// GeofenceKind represents the geometry kind of a geofence
type GeofenceKind string

const (
	GeofenceKindCircle  GeofenceKind = "circle"
	GeofenceKindPolygon GeofenceKind = "polygon"
)

// NotificationMode controls how geofence events are surfaced to the user
type NotificationMode string

const (
	NotificationModeLocal NotificationMode = "local"
	NotificationModePush  NotificationMode = "push"
	NotificationModeBoth  NotificationMode = "both"
	NotificationModeNone  NotificationMode = "none"
)

// Valid reports whether the mode is one of the known values
func (m NotificationMode) Valid() bool {
	switch m {
	case NotificationModeLocal, NotificationModePush, NotificationModeBoth, NotificationModeNone:
		return true
	}
	return false
}

// LatLng is a WGS84 coordinate pair
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// LatLngList represents an ordered polygon vertex list stored as JSONB
type LatLngList []LatLng

// Value implements driver.Valuer
func (l LatLngList) Value() (driver.Value, error) {
	if l == nil {
		return nil, nil
	}
	return json.Marshal(l)
}

// Scan implements sql.Scanner
func (l *LatLngList) Scan(value interface{}) error {
	if value == nil {
		*l = nil
		return nil
	}

	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	default:
		return fmt.Errorf("unsupported type for LatLngList: %T", value)
	}
}

// Geofence represents a monitored geographic region.
//
// Circle geofences use Center + RadiusMeters; polygon geofences use an
// ordered Vertices list of at least 3 points (first/last not repeated).
type Geofence struct {
	ID        uuid.UUID `json:"id" db:"id"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`

	OwnerID uuid.UUID `json:"ownerId" db:"owner_id"`
	Name    string    `json:"name" db:"name" validate:"required,max=100"`

	Kind    GeofenceKind `json:"kind" db:"kind" validate:"required"`
	Enabled bool         `json:"enabled" db:"enabled"`

	CenterLat    float64 `json:"centerLat" db:"center_lat"`
	CenterLng    float64 `json:"centerLng" db:"center_lng"`
	RadiusMeters float64 `json:"radiusMeters" db:"radius_meters"`

	Vertices LatLngList `json:"vertices,omitempty" db:"vertices"`

	OnEnter bool `json:"onEnter" db:"on_enter"`
	OnExit  bool `json:"onExit" db:"on_exit"`

	// DwellThreshold enables dwell detection when set
	DwellThreshold *time.Duration `json:"dwellThresholdMs,omitempty" db:"dwell_threshold_ms"`

	NotificationMode NotificationMode `json:"notificationMode" db:"notification_mode"`
}

// Center returns the circle center as a coordinate pair
func (g *Geofence) Center() LatLng {
	return LatLng{Lat: g.CenterLat, Lng: g.CenterLng}
}

// MarshalJSON reports the dwell threshold in milliseconds. time.Duration
// marshals as nanoseconds, which would misstate the Ms-named field.
func (g Geofence) MarshalJSON() ([]byte, error) {
	type alias Geofence
	aux := struct {
		alias
		DwellThreshold *int64 `json:"dwellThresholdMs,omitempty"`
	}{alias: alias(g)}

	if g.DwellThreshold != nil {
		ms := g.DwellThreshold.Milliseconds()
		aux.DwellThreshold = &ms
	}
	return json.Marshal(aux)
}

// UnmarshalJSON accepts the dwell threshold as milliseconds
func (g *Geofence) UnmarshalJSON(data []byte) error {
	type alias Geofence
	aux := struct {
		*alias
		DwellThreshold *int64 `json:"dwellThresholdMs"`
	}{alias: (*alias)(g)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if aux.DwellThreshold != nil {
		d := time.Duration(*aux.DwellThreshold) * time.Millisecond
		g.DwellThreshold = &d
	} else {
		g.DwellThreshold = nil
	}
	return nil
}
