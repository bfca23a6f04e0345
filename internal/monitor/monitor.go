// Package monitor orchestrates the geofence evaluation pipeline: it throttles
// position updates per device, runs the evaluator against cached previous
// states, persists resulting events and republishes them on a broadcast
// stream for downstream consumers.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/fleetfence/fleetfence-server/internal/evaluator"
	"github.com/fleetfence/fleetfence-server/internal/models"
	"github.com/fleetfence/fleetfence-server/internal/statecache"
)

// Lifecycle errors
var (
	ErrAlreadyRunning = errors.New("monitor already running")
	ErrNotRunning     = errors.New("monitor not running")
)

// Phase represents the monitor lifecycle state
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseStarting
	PhaseActive
	PhaseStopping
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseStarting:
		return "starting"
	case PhaseActive:
		return "active"
	case PhaseStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Config holds monitor tuning parameters
type Config struct {
	// MinInterval and MinDistance gate per-device throttling: a position is
	// processed when either the elapsed time or the moved distance since the
	// last processed position reaches its threshold.
	MinInterval time.Duration
	MinDistance float64

	// PruneInterval drives the background cache eviction timer
	PruneInterval time.Duration

	// QueueSize bounds each device's pending-position channel
	QueueSize int
}

// DefaultConfig returns the standard monitor tuning
func DefaultConfig() Config {
	return Config{
		MinInterval:   5 * time.Second,
		MinDistance:   5.0,
		PruneInterval: 30 * time.Minute,
		QueueSize:     64,
	}
}

// Service is the geofence monitoring orchestrator
type Service struct {
	cfg   Config
	eval  *evaluator.Evaluator
	cache *statecache.Cache

	geofences GeofenceRepository
	events    EventRepository
	devices   DeviceRepository

	positions PositionSource
	watcher   GeofenceWatcher
	snapshots StateSnapshotStore

	mu      sync.Mutex
	phase   Phase
	ownerID uuid.UUID
	cancel  context.CancelFunc
	ctx     context.Context
	wg      sync.WaitGroup

	unsubscribePositions func()
	unsubscribeWatcher   func()

	fenceMu sync.RWMutex
	fences  []*models.Geofence

	workerMu sync.Mutex
	workers  map[string]*deviceWorker

	subMu   sync.Mutex
	subs    map[int]chan models.GeofenceEvent
	nextSub int

	nameMu sync.Mutex
	names  map[string]string
}

// Option configures optional collaborators
type Option func(*Service)

// WithPositionSource attaches an external position stream
func WithPositionSource(src PositionSource) Option {
	return func(s *Service) { s.positions = src }
}

// WithGeofenceWatcher attaches a geofence-change notification source
func WithGeofenceWatcher(w GeofenceWatcher) Option {
	return func(s *Service) { s.watcher = w }
}

// WithSnapshotStore enables cache persistence across restarts
func WithSnapshotStore(store StateSnapshotStore) Option {
	return func(s *Service) { s.snapshots = store }
}

// WithDeviceRepository enables device display-name resolution
func WithDeviceRepository(repo DeviceRepository) Option {
	return func(s *Service) { s.devices = repo }
}

// New creates a monitor service
func New(cfg Config, eval *evaluator.Evaluator, cache *statecache.Cache, geofences GeofenceRepository, events EventRepository, opts ...Option) *Service {
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = 5 * time.Second
	}
	if cfg.MinDistance <= 0 {
		cfg.MinDistance = 5.0
	}
	if cfg.PruneInterval <= 0 {
		cfg.PruneInterval = 30 * time.Minute
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}

	s := &Service{
		cfg:       cfg,
		eval:      eval,
		cache:     cache,
		geofences: geofences,
		events:    events,
		workers:   make(map[string]*deviceWorker),
		subs:      make(map[int]chan models.GeofenceEvent),
		names:     make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Phase returns the current lifecycle phase
func (s *Service) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// OwnerID returns the owner currently being monitored
func (s *Service) OwnerID() uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ownerID
}

// Start begins monitoring the owner's geofences. It loads the initial
// geofence list, optionally restores the state cache, subscribes to the
// position and geofence-change sources and starts the prune timer.
func (s *Service) Start(ctx context.Context, ownerID uuid.UUID) error {
	s.mu.Lock()
	if s.phase != PhaseIdle {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.phase = PhaseStarting
	s.ownerID = ownerID
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.mu.Unlock()

	if err := s.refreshGeofences(ctx); err != nil {
		s.mu.Lock()
		s.phase = PhaseIdle
		s.cancel()
		s.mu.Unlock()
		return fmt.Errorf("load geofences: %w", err)
	}

	if s.snapshots != nil {
		if states, err := s.snapshots.LoadStateSnapshot(ctx); err != nil {
			log.Warn().Err(err).Msg("Failed to restore state snapshot, starting cold")
		} else if len(states) > 0 {
			s.cache.ImportAll(states)
			log.Info().Int("states", len(states)).Msg("Restored state cache snapshot")
		}
	}

	if s.positions != nil {
		unsub, err := s.positions.SubscribePositions(s.ProcessPosition)
		if err != nil {
			// Source failure is non-fatal; positions can still be injected directly
			log.Error().Err(err).Msg("Failed to subscribe to position source")
		} else if !s.register(&s.unsubscribePositions, unsub) {
			unsub()
		}
	}

	if s.watcher != nil {
		unsub, err := s.watcher.SubscribeChanges(ownerID, s.onGeofencesChanged)
		if err != nil {
			log.Error().Err(err).Msg("Failed to subscribe to geofence changes")
		} else if !s.register(&s.unsubscribeWatcher, unsub) {
			unsub()
		}
	}

	s.mu.Lock()
	if s.phase != PhaseStarting {
		// Stopped while starting; subscriptions are already released
		s.mu.Unlock()
		return nil
	}
	s.wg.Add(1)
	go s.pruneLoop()
	s.phase = PhaseActive
	s.mu.Unlock()

	log.Info().
		Str("ownerId", ownerID.String()).
		Int("geofences", len(s.snapshot())).
		Msg("Geofence monitor started")
	return nil
}

// register stores an unsubscribe func while the monitor is still starting.
// It reports false when a concurrent Stop already took over, in which case
// the caller must release the subscription itself.
func (s *Service) register(slot *func(), unsub func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != PhaseStarting {
		return false
	}
	*slot = unsub
	return true
}

// Stop cancels all subscriptions, drains the per-device workers, persists a
// cache snapshot and returns the monitor to idle. Safe to call repeatedly.
func (s *Service) Stop() {
	s.mu.Lock()
	if s.phase != PhaseActive && s.phase != PhaseStarting {
		s.mu.Unlock()
		return
	}
	s.phase = PhaseStopping
	cancel := s.cancel
	unsubPositions := s.unsubscribePositions
	unsubWatcher := s.unsubscribeWatcher
	s.unsubscribePositions = nil
	s.unsubscribeWatcher = nil
	s.mu.Unlock()

	if unsubPositions != nil {
		unsubPositions()
	}
	if unsubWatcher != nil {
		unsubWatcher()
	}

	cancel()

	s.workerMu.Lock()
	for _, w := range s.workers {
		w.close()
	}
	s.workers = make(map[string]*deviceWorker)
	s.workerMu.Unlock()

	s.wg.Wait()

	if s.snapshots != nil {
		states := s.cache.ExportAll()
		ctx, cancelSave := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.snapshots.SaveStateSnapshot(ctx, states); err != nil {
			log.Error().Err(err).Msg("Failed to persist state snapshot")
		} else {
			log.Info().Int("states", len(states)).Msg("Persisted state cache snapshot")
		}
		cancelSave()
	}

	s.mu.Lock()
	s.phase = PhaseIdle
	s.mu.Unlock()

	log.Info().Msg("Geofence monitor stopped")
}

// ProcessPosition feeds one position into the pipeline. Updates for the same
// device are processed in arrival order; different devices run in parallel.
// Usable directly for testing or injection, bypassing the position source.
func (s *Service) ProcessPosition(pos models.Position) {
	s.mu.Lock()
	active := s.phase == PhaseActive
	s.mu.Unlock()
	if !active {
		log.Debug().Str("deviceId", pos.DeviceID).Msg("Dropping position, monitor not active")
		return
	}
	if pos.DeviceID == "" {
		log.Warn().Msg("Dropping position without device id")
		return
	}

	w := s.worker(pos.DeviceID)
	if w == nil {
		return
	}
	w.submit(pos)
}

// Subscribe returns a channel of all events the monitor publishes plus an
// unsubscribe function. Slow subscribers have events dropped rather than
// blocking the pipeline.
func (s *Service) Subscribe() (<-chan models.GeofenceEvent, func()) {
	ch := make(chan models.GeofenceEvent, 128)

	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.subMu.Unlock()

	unsubscribe := func() {
		s.subMu.Lock()
		if existing, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(existing)
		}
		s.subMu.Unlock()
	}
	return ch, unsubscribe
}

// RemoveDeviceState drops all cached states for a disconnected device
func (s *Service) RemoveDeviceState(deviceID string) {
	s.cache.RemoveDevice(deviceID)
}

// RemoveGeofenceState drops a deleted geofence's state from every device
func (s *Service) RemoveGeofenceState(geofenceID uuid.UUID) {
	s.cache.RemoveGeofence(geofenceID)
}

// RefreshGeofences reloads the geofence list, e.g. after a CRUD change
func (s *Service) RefreshGeofences(ctx context.Context) error {
	return s.refreshGeofences(ctx)
}

// GeofenceByID resolves a currently monitored geofence by id. Geofence
// counts are moderate; a linear scan beats maintaining a second index.
func (s *Service) GeofenceByID(id uuid.UUID) (*models.Geofence, bool) {
	s.fenceMu.RLock()
	defer s.fenceMu.RUnlock()
	for _, gf := range s.fences {
		if gf.ID == id {
			return gf, true
		}
	}
	return nil, false
}

// CacheStats exposes state cache statistics for observability
func (s *Service) CacheStats() statecache.Stats {
	return s.cache.Stats()
}

func (s *Service) onGeofencesChanged() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.refreshGeofences(ctx); err != nil {
		// Stream errors are non-fatal; the previous list stays in effect
		log.Error().Err(err).Msg("Failed to refresh geofences after change notification")
	}
}

func (s *Service) refreshGeofences(ctx context.Context) error {
	s.mu.Lock()
	ownerID := s.ownerID
	s.mu.Unlock()

	fences, err := s.geofences.ListEnabledGeofences(ctx, ownerID)
	if err != nil {
		return err
	}

	s.fenceMu.Lock()
	previous := s.fences
	s.fences = fences
	s.fenceMu.Unlock()

	// States for geofences no longer monitored are dropped so a later
	// re-enable starts from a clean outside baseline.
	current := make(map[uuid.UUID]struct{}, len(fences))
	for _, gf := range fences {
		current[gf.ID] = struct{}{}
	}
	for _, gf := range previous {
		if _, ok := current[gf.ID]; !ok {
			s.cache.RemoveGeofence(gf.ID)
		}
	}

	log.Debug().Int("geofences", len(fences)).Msg("Geofence list refreshed")
	return nil
}

func (s *Service) snapshot() []*models.Geofence {
	s.fenceMu.RLock()
	defer s.fenceMu.RUnlock()
	return s.fences
}

func (s *Service) pruneLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.PruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cache.PruneExpired()
		case <-s.ctx.Done():
			return
		}
	}
}

// publish fans an event out to all subscribers without blocking
func (s *Service) publish(event models.GeofenceEvent) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	for id, ch := range s.subs {
		select {
		case ch <- event:
		default:
			log.Warn().
				Int("subscriber", id).
				Str("eventId", event.ID.String()).
				Msg("Subscriber queue full, event dropped")
		}
	}
}

// deviceName resolves and memoizes the display name for a device
func (s *Service) deviceName(ctx context.Context, deviceID string) string {
	s.nameMu.Lock()
	if name, ok := s.names[deviceID]; ok {
		s.nameMu.Unlock()
		return name
	}
	s.nameMu.Unlock()

	name := deviceID
	if s.devices != nil {
		if dev, err := s.devices.GetDevice(ctx, deviceID); err == nil && dev.Name != "" {
			name = dev.Name
		}
	}

	s.nameMu.Lock()
	s.names[deviceID] = name
	s.nameMu.Unlock()
	return name
}
