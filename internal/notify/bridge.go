// Package notify turns geofence events into user-facing notifications. The
// bridge deduplicates near-simultaneous duplicates, re-checks routing rules
// against the current geofence definition and fans out to the configured
// notification sinks. The underlying event is persisted regardless of
// whether anyone is notified.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/fleetfence/fleetfence-server/internal/models"
)

// DefaultDedupWindow suppresses duplicate events seen within this window
const DefaultDedupWindow = 3 * time.Second

// EventStream is the monitor's broadcast event output
type EventStream interface {
	Subscribe() (<-chan models.GeofenceEvent, func())
}

// GeofenceResolver looks up current geofence definitions by id. Events carry
// identifiers only; metadata is resolved here, never embedded in the event.
type GeofenceResolver interface {
	GeofenceByID(id uuid.UUID) (*models.Geofence, bool)
}

// EventRepository persists events delivered through the bridge
type EventRepository interface {
	RecordEvent(ctx context.Context, event *models.GeofenceEvent) error
}

// LocalSink displays a notification on the local surface
type LocalSink interface {
	ShowLocal(ctx context.Context, message string, event models.GeofenceEvent) error
}

// PushSink delivers a push notification
type PushSink interface {
	SendPush(ctx context.Context, message string, event models.GeofenceEvent) error
}

// Bridge connects the monitor's event stream to the notification sinks
type Bridge struct {
	resolver GeofenceResolver
	events   EventRepository
	local    LocalSink
	push     PushSink

	window time.Duration

	mu          sync.Mutex
	attached    bool
	unsubscribe func()
	done        chan struct{}

	seenMu sync.Mutex
	seen   map[string]time.Time
}

// Option configures a Bridge
type Option func(*Bridge)

// WithDedupWindow overrides the duplicate-suppression window
func WithDedupWindow(window time.Duration) Option {
	return func(b *Bridge) {
		if window > 0 {
			b.window = window
		}
	}
}

// New creates a bridge. Either sink may be nil when that delivery channel
// is not available.
func New(resolver GeofenceResolver, events EventRepository, local LocalSink, push PushSink, opts ...Option) *Bridge {
	b := &Bridge{
		resolver: resolver,
		events:   events,
		local:    local,
		push:     push,
		window:   DefaultDedupWindow,
		seen:     make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Attach subscribes to the stream and starts consuming events. Attaching an
// already attached bridge is a no-op.
func (b *Bridge) Attach(stream EventStream) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.attached {
		return
	}

	ch, unsubscribe := stream.Subscribe()
	b.unsubscribe = unsubscribe
	b.done = make(chan struct{})
	b.attached = true

	go b.consume(ch, b.done)

	log.Info().Msg("Notification bridge attached")
}

// Detach unsubscribes and stops the consumer. Idempotent.
func (b *Bridge) Detach() {
	b.mu.Lock()
	if !b.attached {
		b.mu.Unlock()
		return
	}
	b.attached = false
	unsubscribe := b.unsubscribe
	done := b.done
	b.mu.Unlock()

	unsubscribe()
	<-done

	log.Info().Msg("Notification bridge detached")
}

func (b *Bridge) consume(ch <-chan models.GeofenceEvent, done chan struct{}) {
	defer close(done)

	for event := range ch {
		b.handle(event)
	}
}

func (b *Bridge) handle(event models.GeofenceEvent) {
	if b.duplicate(event) {
		log.Debug().
			Str("eventId", event.ID.String()).
			Msg("Duplicate event suppressed")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// The event is recorded whether or not a notification goes out
	if err := b.events.RecordEvent(ctx, &event); err != nil {
		log.Error().
			Err(err).
			Str("eventId", event.ID.String()).
			Msg("Failed to record event from bridge")
	}

	gf, ok := b.resolver.GeofenceByID(event.GeofenceID)
	if !ok || !gf.Enabled {
		log.Debug().
			Str("geofenceId", event.GeofenceID.String()).
			Msg("Geofence gone or disabled, notification skipped")
		return
	}
	if !triggerEnabled(gf, event.Type) {
		return
	}

	message := RenderMessage(event)

	switch gf.NotificationMode {
	case models.NotificationModeLocal:
		b.showLocal(ctx, message, event)
	case models.NotificationModePush:
		b.sendPush(ctx, message, event)
	case models.NotificationModeBoth:
		b.showLocal(ctx, message, event)
		b.sendPush(ctx, message, event)
	case models.NotificationModeNone:
	default:
		log.Warn().
			Str("mode", string(gf.NotificationMode)).
			Str("geofenceId", gf.ID.String()).
			Msg("Unknown notification mode, notification skipped")
	}
}

// duplicate registers the event and reports whether it (or an identical
// transition) was already seen within the dedup window
func (b *Bridge) duplicate(event models.GeofenceEvent) bool {
	now := time.Now()
	idKey := event.ID.String()
	sigKey := fmt.Sprintf("%s|%s|%s", event.DeviceID, event.GeofenceID, event.Type)

	b.seenMu.Lock()
	defer b.seenMu.Unlock()

	for key, at := range b.seen {
		if now.Sub(at) > b.window {
			delete(b.seen, key)
		}
	}

	_, byID := b.seen[idKey]
	_, bySig := b.seen[sigKey]

	b.seen[idKey] = now
	b.seen[sigKey] = now

	return byID || bySig
}

func (b *Bridge) showLocal(ctx context.Context, message string, event models.GeofenceEvent) {
	if b.local == nil {
		return
	}
	if err := b.local.ShowLocal(ctx, message, event); err != nil {
		log.Error().Err(err).Str("eventId", event.ID.String()).Msg("Local notification failed")
	}
}

func (b *Bridge) sendPush(ctx context.Context, message string, event models.GeofenceEvent) {
	if b.push == nil {
		return
	}
	if err := b.push.SendPush(ctx, message, event); err != nil {
		log.Error().Err(err).Str("eventId", event.ID.String()).Msg("Push notification failed")
	}
}

func triggerEnabled(gf *models.Geofence, typ models.EventType) bool {
	switch typ {
	case models.EventTypeEnter:
		return gf.OnEnter
	case models.EventTypeExit:
		return gf.OnExit
	case models.EventTypeDwell:
		return gf.DwellThreshold != nil
	default:
		return false
	}
}

// RenderMessage produces the human-readable notification text for an event
func RenderMessage(event models.GeofenceEvent) string {
	switch event.Type {
	case models.EventTypeEnter:
		return fmt.Sprintf("%s entered %s", event.DeviceName, event.GeofenceName)
	case models.EventTypeExit:
		msg := fmt.Sprintf("%s exited %s", event.DeviceName, event.GeofenceName)
		if event.DwellDuration != nil {
			msg += fmt.Sprintf(" after %s", FormatDuration(*event.DwellDuration))
		}
		return msg
	case models.EventTypeDwell:
		var dwelled time.Duration
		if event.DwellDuration != nil {
			dwelled = *event.DwellDuration
		}
		return fmt.Sprintf("%s stayed in %s for %s", event.DeviceName, event.GeofenceName, FormatDuration(dwelled))
	default:
		return fmt.Sprintf("%s: %s in %s", event.DeviceName, event.Type, event.GeofenceName)
	}
}

// FormatDuration renders a dwell duration in the coarsest useful unit
func FormatDuration(d time.Duration) string {
	switch {
	case d >= 24*time.Hour:
		days := d / (24 * time.Hour)
		hours := (d % (24 * time.Hour)) / time.Hour
		return fmt.Sprintf("%dd %dh", days, hours)
	case d >= time.Hour:
		hours := d / time.Hour
		minutes := (d % time.Hour) / time.Minute
		return fmt.Sprintf("%dh %dm", hours, minutes)
	case d >= time.Minute:
		return fmt.Sprintf("%dm", d/time.Minute)
	default:
		return fmt.Sprintf("%ds", d/time.Second)
	}
}
