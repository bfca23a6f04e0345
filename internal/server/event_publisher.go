package server

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/fleetfence/fleetfence-server/internal/models"
)

// EventStream is the monitor's broadcast output
type EventStream interface {
	Subscribe() (<-chan models.GeofenceEvent, func())
}

// EventPublisher republishes monitor events onto NATS so external consumers
// (dashboards, integrations) can follow the live event stream.
type EventPublisher struct {
	nc *nats.Conn
}

// NewEventPublisher creates an event publisher
func NewEventPublisher(nc *nats.Conn) *EventPublisher {
	return &EventPublisher{nc: nc}
}

// Start consumes the stream until the context is cancelled
func (p *EventPublisher) Start(ctx context.Context, stream EventStream) error {
	ch, unsubscribe := stream.Subscribe()
	defer unsubscribe()

	log.Info().Msg("NATS event publisher started")

	for {
		select {
		case event, ok := <-ch:
			if !ok {
				return nil
			}
			p.publish(event)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (p *EventPublisher) publish(event models.GeofenceEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("eventId", event.ID.String()).Msg("Failed to marshal event")
		return
	}

	subject := fmt.Sprintf(subjectEventFmt, event.DeviceID)
	if err := p.nc.Publish(subject, data); err != nil {
		log.Error().
			Err(err).
			Str("subject", subject).
			Str("eventId", event.ID.String()).
			Msg("Failed to publish event")
		return
	}

	log.Debug().
		Str("subject", subject).
		Str("type", string(event.Type)).
		Msg("Event published")
}

// LogSink is the local-notification sink backed by the server log. A headless
// deployment has no screen to notify; the structured log line is the local
// surface operators actually watch.
type LogSink struct{}

// ShowLocal implements the local-notification capability
func (LogSink) ShowLocal(ctx context.Context, message string, event models.GeofenceEvent) error {
	log.Info().
		Str("eventId", event.ID.String()).
		Str("deviceId", event.DeviceID).
		Str("geofence", event.GeofenceName).
		Str("type", string(event.Type)).
		Msg(message)
	return nil
}
