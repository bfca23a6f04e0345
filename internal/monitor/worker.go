package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/fleetfence/fleetfence-server/internal/geometry"
	"github.com/fleetfence/fleetfence-server/internal/models"
)

// deviceWorker serializes all processing for one device. Evaluation runs on
// the worker goroutine; event persistence and publication run on a separate
// per-device delivery goroutine so repository latency never stalls the next
// position, while per-device ordering is preserved end to end.
type deviceWorker struct {
	svc      *Service
	deviceID string

	mu     sync.Mutex
	closed bool
	ch     chan models.Position

	delivery chan models.GeofenceEvent

	// Throttle state, touched only by the worker goroutine
	hasLast  bool
	lastTime time.Time
	lastPos  models.LatLng
}

// worker returns the worker for a device, creating it when first seen.
// Returns nil once the monitor is shutting down.
func (s *Service) worker(deviceID string) *deviceWorker {
	s.workerMu.Lock()
	defer s.workerMu.Unlock()

	if w, ok := s.workers[deviceID]; ok {
		return w
	}

	s.mu.Lock()
	active := s.phase == PhaseActive || s.phase == PhaseStarting
	s.mu.Unlock()
	if !active {
		return nil
	}

	w := &deviceWorker{
		svc:      s,
		deviceID: deviceID,
		ch:       make(chan models.Position, s.cfg.QueueSize),
		delivery: make(chan models.GeofenceEvent, s.cfg.QueueSize),
	}
	s.workers[deviceID] = w

	s.wg.Add(2)
	go w.run()
	go w.deliver()

	return w
}

// submit queues a position without blocking. A full queue drops the update;
// the next accepted position still catches any pending transition.
func (w *deviceWorker) submit(pos models.Position) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}

	select {
	case w.ch <- pos:
	default:
		log.Warn().Str("deviceId", w.deviceID).Msg("Position queue full, update dropped")
	}
}

func (w *deviceWorker) close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	close(w.ch)
}

func (w *deviceWorker) run() {
	defer w.svc.wg.Done()
	defer close(w.delivery)

	for pos := range w.ch {
		w.handle(pos)
	}
}

func (w *deviceWorker) handle(pos models.Position) {
	if !w.accept(pos) {
		return
	}

	fences := w.svc.snapshot()
	if len(fences) == 0 {
		return
	}

	prev := make(map[uuid.UUID]models.GeofenceState, len(fences))
	for _, gf := range fences {
		if state, ok := w.svc.cache.Get(w.deviceID, gf.ID); ok {
			prev[gf.ID] = state
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	name := w.svc.deviceName(ctx, w.deviceID)
	cancel()

	res := w.svc.eval.Evaluate(pos, name, fences, prev)

	for _, state := range res.States {
		w.svc.cache.Set(w.deviceID, state.GeofenceID, state)
	}

	for _, event := range res.Events {
		// Per-device delivery channel keeps event order; capacity matches the
		// position queue so this only blocks under sustained repository stalls
		w.delivery <- event
	}
}

// accept applies the per-device throttle: process when enough time has
// elapsed or the device has moved far enough since the last processed fix
func (w *deviceWorker) accept(pos models.Position) bool {
	if !w.hasLast {
		w.hasLast = true
		w.lastTime = pos.Time
		w.lastPos = pos.Point()
		return true
	}

	elapsed := pos.Time.Sub(w.lastTime)
	moved := geometry.Haversine(pos.Point(), w.lastPos)

	if elapsed < w.svc.cfg.MinInterval && moved < w.svc.cfg.MinDistance {
		log.Debug().
			Str("deviceId", w.deviceID).
			Dur("elapsed", elapsed).
			Float64("movedMeters", moved).
			Msg("Position throttled")
		return false
	}

	w.lastTime = pos.Time
	w.lastPos = pos.Point()
	return true
}

// deliver persists and publishes events in order. A failed write is logged
// and the event is still published in-process.
func (w *deviceWorker) deliver() {
	defer w.svc.wg.Done()

	for event := range w.delivery {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := w.svc.events.RecordEvent(ctx, &event); err != nil {
			log.Error().
				Err(err).
				Str("eventId", event.ID.String()).
				Str("deviceId", event.DeviceID).
				Msg("Failed to persist geofence event")
		}
		cancel()

		w.svc.publish(event)

		log.Info().
			Str("deviceId", event.DeviceID).
			Str("geofence", event.GeofenceName).
			Str("type", string(event.Type)).
			Msg("Geofence event")
	}
}
