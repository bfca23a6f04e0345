package server

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fleetfence/fleetfence-server/internal/models"
)

// DeviceWriter records the latest accepted fix for a device
type DeviceWriter interface {
	UpdateDevicePosition(ctx context.Context, deviceID string, lat, lng float64, seenAt time.Time) error
}

// PositionRecorder wraps a position source and persists each fix as the
// device's last known position before forwarding it downstream. Persistence
// is best effort; a failed write never blocks the stream.
type PositionRecorder struct {
	source  *Bus
	devices DeviceWriter
}

// NewPositionRecorder creates a recording position source
func NewPositionRecorder(source *Bus, devices DeviceWriter) *PositionRecorder {
	return &PositionRecorder{source: source, devices: devices}
}

// SubscribePositions implements the monitor's position source interface
func (r *PositionRecorder) SubscribePositions(handler func(models.Position)) (func(), error) {
	return r.source.SubscribePositions(func(pos models.Position) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := r.devices.UpdateDevicePosition(ctx, pos.DeviceID, pos.Lat, pos.Lng, pos.Time); err != nil {
			log.Warn().
				Err(err).
				Str("device_id", pos.DeviceID).
				Msg("Failed to record device position")
		}
		cancel()

		handler(pos)
	})
}
