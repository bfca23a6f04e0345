package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/fleetfence/fleetfence-server/internal/models"
)

// Common errors
var (
	ErrNotFound     = errors.New("not found")
	ErrDuplicateKey = errors.New("duplicate key")
	ErrInvalidData  = errors.New("invalid data")
)

// Store defines the storage interface
type Store interface {
	// Transaction support
	BeginTx(ctx context.Context) (Store, error)
	Commit() error
	Rollback() error

	// User methods
	CreateUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	UpdateUser(ctx context.Context, user *models.User) error
	DeleteUser(ctx context.Context, id uuid.UUID) error

	// Geofence methods
	CreateGeofence(ctx context.Context, geofence *models.Geofence) error
	GetGeofence(ctx context.Context, id uuid.UUID) (*models.Geofence, error)
	UpdateGeofence(ctx context.Context, geofence *models.Geofence) error
	DeleteGeofence(ctx context.Context, id uuid.UUID) error
	ListGeofences(ctx context.Context, ownerID uuid.UUID, limit, offset int) ([]*models.Geofence, int64, error)
	ListEnabledGeofences(ctx context.Context, ownerID uuid.UUID) ([]*models.Geofence, error)

	// Device methods
	CreateDevice(ctx context.Context, device *models.Device) error
	GetDevice(ctx context.Context, deviceID string) (*models.Device, error)
	UpdateDevice(ctx context.Context, device *models.Device) error
	UpdateDevicePosition(ctx context.Context, deviceID string, lat, lng float64, seenAt time.Time) error
	DeleteDevice(ctx context.Context, deviceID string) error
	ListDevices(ctx context.Context, ownerID uuid.UUID, limit, offset int) ([]*models.Device, int64, error)

	// Event methods
	RecordEvent(ctx context.Context, event *models.GeofenceEvent) error
	GetEvent(ctx context.Context, id uuid.UUID) (*models.GeofenceEvent, error)
	ListEvents(ctx context.Context, filters EventFilters, limit, offset int) ([]*models.GeofenceEvent, int64, error)
	UpdateEventStatus(ctx context.Context, id uuid.UUID, status models.EventStatus) error
	DeleteEvent(ctx context.Context, id uuid.UUID) error

	// State snapshot methods for cache persistence across restarts
	SaveStateSnapshot(ctx context.Context, states []models.GeofenceState) error
	LoadStateSnapshot(ctx context.Context) ([]models.GeofenceState, error)

	// Close the store
	Close() error
}

// EventFilters represents filters for event queries
type EventFilters struct {
	GeofenceID *uuid.UUID
	DeviceID   *string
	Type       *models.EventType
	Status     *models.EventStatus
	StartTime  *time.Time
	EndTime    *time.Time
}
