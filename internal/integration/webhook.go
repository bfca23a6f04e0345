// Package integration forwards geofence events to external HTTP endpoints.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fleetfence/fleetfence-server/internal/models"
)

// Webhook describes one outbound HTTP endpoint
type Webhook struct {
	Name     string            `yaml:"name"`
	Endpoint string            `yaml:"endpoint"`
	Headers  map[string]string `yaml:"headers"`

	// Events limits forwarding to the listed event types; empty means all
	Events []string `yaml:"events"`
}

func (w Webhook) wants(typ models.EventType) bool {
	if len(w.Events) == 0 {
		return true
	}
	for _, e := range w.Events {
		if e == string(typ) {
			return true
		}
	}
	return false
}

// EventStream is the monitor's broadcast event output
type EventStream interface {
	Subscribe() (<-chan models.GeofenceEvent, func())
}

// WebhookForwarder posts geofence events to configured webhooks. Each
// delivery runs in its own goroutine so a slow endpoint never stalls the
// event stream.
type WebhookForwarder struct {
	webhooks   []Webhook
	httpClient *http.Client
}

// NewWebhookForwarder creates a webhook forwarder
func NewWebhookForwarder(webhooks []Webhook) *WebhookForwarder {
	return &WebhookForwarder{
		webhooks: webhooks,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Start consumes the event stream until the context is cancelled or the
// stream closes
func (f *WebhookForwarder) Start(ctx context.Context, stream EventStream) error {
	ch, unsubscribe := stream.Subscribe()
	defer unsubscribe()

	log.Info().Int("webhooks", len(f.webhooks)).Msg("Webhook forwarder started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-ch:
			if !ok {
				return nil
			}
			for _, hook := range f.webhooks {
				if hook.wants(event.Type) {
					go f.forward(hook, event)
				}
			}
		}
	}
}

func (f *WebhookForwarder) forward(hook Webhook, event models.GeofenceEvent) {
	var dwellMs *int64
	if event.DwellDuration != nil {
		ms := event.DwellDuration.Milliseconds()
		dwellMs = &ms
	}

	forwardData := map[string]interface{}{
		"eventId":         event.ID.String(),
		"type":            event.Type,
		"deviceId":        event.DeviceID,
		"deviceName":      event.DeviceName,
		"geofenceId":      event.GeofenceID.String(),
		"geofenceName":    event.GeofenceName,
		"lat":             event.Lat,
		"lng":             event.Lng,
		"eventTime":       event.Time,
		"dwellDurationMs": dwellMs,
		"timestamp":       time.Now(),
	}

	jsonData, err := json.Marshal(forwardData)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal webhook payload")
		return
	}

	req, err := http.NewRequest("POST", hook.Endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		log.Error().Err(err).Str("webhook", hook.Name).Msg("Failed to create webhook request")
		return
	}

	req.Header.Set("Content-Type", "application/json")
	for k, v := range hook.Headers {
		req.Header.Set(k, v)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		log.Error().
			Err(err).
			Str("webhook", hook.Name).
			Str("endpoint", hook.Endpoint).
			Msg("Failed to forward event to webhook")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		log.Error().
			Int("status", resp.StatusCode).
			Str("webhook", hook.Name).
			Str("endpoint", hook.Endpoint).
			Msg("Webhook delivery failed")
	} else {
		log.Debug().
			Str("eventId", event.ID.String()).
			Str("webhook", hook.Name).
			Msg("Event forwarded to webhook")
	}
}
