// Package server wires the monitoring pipeline to NATS: inbound position
// updates and geofence-change notifications, outbound geofence events and
// push notifications.
package server

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/fleetfence/fleetfence-server/internal/models"
)

// NATS subjects
const (
	// SubjectPositions receives device fixes: positions.<deviceID>
	SubjectPositions = "positions.>"

	// SubjectGeofenceChanged signals list changes: geofences.<ownerID>.changed
	subjectGeofenceChangedFmt = "geofences.%s.changed"

	// subjectEventFmt carries detected events: geofence.events.<deviceID>
	subjectEventFmt = "geofence.events.%s"

	// SubjectPush carries rendered push notifications
	SubjectPush = "notifications.push"
)

// Bus adapts a NATS connection to the monitor's source interfaces and the
// notification bridge's push sink.
type Bus struct {
	nc *nats.Conn
}

// NewBus creates a NATS bus
func NewBus(nc *nats.Conn) *Bus {
	return &Bus{nc: nc}
}

// SubscribePositions feeds decoded position messages to the handler.
// Malformed messages are logged and dropped; the subscription stays alive.
func (b *Bus) SubscribePositions(handler func(models.Position)) (func(), error) {
	sub, err := b.nc.Subscribe(SubjectPositions, func(msg *nats.Msg) {
		var pos models.Position
		if err := json.Unmarshal(msg.Data, &pos); err != nil {
			log.Error().
				Err(err).
				Str("subject", msg.Subject).
				Msg("Failed to unmarshal position")
			return
		}

		if pos.DeviceID == "" {
			// Fall back to the subject suffix: positions.<deviceID>
			if len(msg.Subject) > len("positions.") {
				pos.DeviceID = msg.Subject[len("positions."):]
			}
		}

		handler(pos)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe positions: %w", err)
	}

	log.Info().Str("subject", SubjectPositions).Msg("Subscribed to position stream")
	return func() { sub.Unsubscribe() }, nil
}

// SubscribeChanges invokes the handler whenever the owner's geofence list
// changes. The message body is ignored; it is purely a refresh signal.
func (b *Bus) SubscribeChanges(ownerID uuid.UUID, handler func()) (func(), error) {
	subject := fmt.Sprintf(subjectGeofenceChangedFmt, ownerID)

	sub, err := b.nc.Subscribe(subject, func(msg *nats.Msg) {
		log.Debug().Str("subject", msg.Subject).Msg("Geofence change notification")
		handler()
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe geofence changes: %w", err)
	}

	log.Info().Str("subject", subject).Msg("Subscribed to geofence changes")
	return func() { sub.Unsubscribe() }, nil
}

// NotifyGeofencesChanged publishes a change signal, used by the API after CRUD
func (b *Bus) NotifyGeofencesChanged(ownerID uuid.UUID) {
	subject := fmt.Sprintf(subjectGeofenceChangedFmt, ownerID)
	if err := b.nc.Publish(subject, nil); err != nil {
		log.Error().Err(err).Str("subject", subject).Msg("Failed to publish geofence change")
	}
}

// SendPush publishes a rendered notification for the external push gateway
func (b *Bus) SendPush(ctx context.Context, message string, event models.GeofenceEvent) error {
	payload, err := json.Marshal(map[string]interface{}{
		"message":      message,
		"eventId":      event.ID.String(),
		"eventType":    event.Type,
		"deviceId":     event.DeviceID,
		"deviceName":   event.DeviceName,
		"geofenceId":   event.GeofenceID.String(),
		"geofenceName": event.GeofenceName,
		"timestamp":    event.Time,
	})
	if err != nil {
		return fmt.Errorf("marshal push payload: %w", err)
	}

	if err := b.nc.Publish(SubjectPush, payload); err != nil {
		return fmt.Errorf("publish push: %w", err)
	}
	return nil
}
