package monitor

import (
	"context"

	"github.com/google/uuid"

	"github.com/fleetfence/fleetfence-server/internal/models"
)

// GeofenceRepository supplies the enabled geofence list for an owner.
// CRUD lives outside the monitor; the monitor only reads snapshots.
type GeofenceRepository interface {
	ListEnabledGeofences(ctx context.Context, ownerID uuid.UUID) ([]*models.Geofence, error)
}

// EventRepository persists detected geofence events
type EventRepository interface {
	RecordEvent(ctx context.Context, event *models.GeofenceEvent) error
}

// DeviceRepository resolves device display names for denormalized events
type DeviceRepository interface {
	GetDevice(ctx context.Context, deviceID string) (*models.Device, error)
}

// PositionSource is an asynchronous stream of device positions. Subscribe
// registers a handler and returns an unsubscribe function.
type PositionSource interface {
	SubscribePositions(handler func(models.Position)) (func(), error)
}

// GeofenceWatcher notifies when the owner's geofence list changes
type GeofenceWatcher interface {
	SubscribeChanges(ownerID uuid.UUID, handler func()) (func(), error)
}

// StateSnapshotStore lets the monitor persist cache state across restarts
type StateSnapshotStore interface {
	SaveStateSnapshot(ctx context.Context, states []models.GeofenceState) error
	LoadStateSnapshot(ctx context.Context) ([]models.GeofenceState, error)
}
