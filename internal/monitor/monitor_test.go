package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/fleetfence/fleetfence-server/internal/evaluator"
	"github.com/fleetfence/fleetfence-server/internal/models"
	"github.com/fleetfence/fleetfence-server/internal/statecache"
)

var t0 = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// mockGeofenceRepo serves a fixed geofence list
type mockGeofenceRepo struct {
	mu     sync.Mutex
	fences []*models.Geofence
	calls  int
}

func (m *mockGeofenceRepo) ListEnabledGeofences(ctx context.Context, ownerID uuid.UUID) ([]*models.Geofence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.fences, nil
}

func (m *mockGeofenceRepo) setFences(fences []*models.Geofence) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fences = fences
}

// mockEventRepo records events and optionally fails
type mockEventRepo struct {
	mu     sync.Mutex
	events []models.GeofenceEvent
	err    error
}

func (m *mockEventRepo) RecordEvent(ctx context.Context, event *models.GeofenceEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, *event)
	return nil
}

func (m *mockEventRepo) recorded() []models.GeofenceEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.GeofenceEvent, len(m.events))
	copy(out, m.events)
	return out
}

func testFence() *models.Geofence {
	return &models.Geofence{
		ID:           uuid.New(),
		Name:         "depot",
		Kind:         models.GeofenceKindCircle,
		Enabled:      true,
		RadiusMeters: 100,
		OnEnter:      true,
		OnExit:       true,
	}
}

func newTestService(fences []*models.Geofence, events *mockEventRepo) (*Service, *mockGeofenceRepo) {
	repo := &mockGeofenceRepo{fences: fences}
	svc := New(
		Config{MinInterval: 5 * time.Second, MinDistance: 5.0, PruneInterval: time.Hour, QueueSize: 16},
		evaluator.New(0),
		statecache.New(),
		repo,
		events,
	)
	return svc, repo
}

func collectEvents(ch <-chan models.GeofenceEvent, n int, timeout time.Duration) []models.GeofenceEvent {
	var out []models.GeofenceEvent
	deadline := time.After(timeout)
	for len(out) < n {
		select {
		case ev := <-ch:
			out = append(out, ev)
		case <-deadline:
			return out
		}
	}
	return out
}

func TestStartStopLifecycle(t *testing.T) {
	svc, _ := newTestService([]*models.Geofence{testFence()}, &mockEventRepo{})

	if svc.Phase() != PhaseIdle {
		t.Fatalf("initial phase = %v, want idle", svc.Phase())
	}

	if err := svc.Start(context.Background(), uuid.New()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if svc.Phase() != PhaseActive {
		t.Errorf("phase after Start = %v, want active", svc.Phase())
	}

	if err := svc.Start(context.Background(), uuid.New()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start() error = %v, want ErrAlreadyRunning", err)
	}

	svc.Stop()
	if svc.Phase() != PhaseIdle {
		t.Errorf("phase after Stop = %v, want idle", svc.Phase())
	}

	// Stop is idempotent
	svc.Stop()
	svc.Stop()
}

func TestEnterExitPipeline(t *testing.T) {
	events := &mockEventRepo{}
	svc, _ := newTestService([]*models.Geofence{testFence()}, events)

	if err := svc.Start(context.Background(), uuid.New()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer svc.Stop()

	ch, unsubscribe := svc.Subscribe()
	defer unsubscribe()

	// Outside baseline, then inside, then outside again
	svc.ProcessPosition(models.Position{DeviceID: "truck-1", Lat: 0.01, Lng: 0, Time: t0})
	svc.ProcessPosition(models.Position{DeviceID: "truck-1", Lat: 0, Lng: 0, Time: t0.Add(10 * time.Second)})
	svc.ProcessPosition(models.Position{DeviceID: "truck-1", Lat: 0.01, Lng: 0, Time: t0.Add(20 * time.Second)})

	got := collectEvents(ch, 2, 2*time.Second)
	if len(got) != 2 {
		t.Fatalf("received %d events, want 2", len(got))
	}
	if got[0].Type != models.EventTypeEnter || got[1].Type != models.EventTypeExit {
		t.Errorf("event order = %v, %v; want enter, exit", got[0].Type, got[1].Type)
	}

	// Events were also persisted, in the same order
	deadline := time.Now().Add(2 * time.Second)
	for len(events.recorded()) < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	recorded := events.recorded()
	if len(recorded) != 2 {
		t.Fatalf("repository recorded %d events, want 2", len(recorded))
	}
}

func TestThrottleCollapsesNearbyUpdates(t *testing.T) {
	events := &mockEventRepo{}
	svc, _ := newTestService([]*models.Geofence{testFence()}, events)

	if err := svc.Start(context.Background(), uuid.New()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer svc.Stop()

	ch, unsubscribe := svc.Subscribe()
	defer unsubscribe()

	// Baseline inside the fence (silent), then a second update 1s later and
	// ~2m away: dropped by the throttle, so no state change is evaluated.
	svc.ProcessPosition(models.Position{DeviceID: "truck-1", Lat: 0, Lng: 0, Time: t0})
	svc.ProcessPosition(models.Position{DeviceID: "truck-1", Lat: 0.000018, Lng: 0, Time: t0.Add(time.Second)})

	// A later update outside produces the exit, proving the throttled update
	// never reset the inside baseline.
	svc.ProcessPosition(models.Position{DeviceID: "truck-1", Lat: 0.01, Lng: 0, Time: t0.Add(10 * time.Second)})

	got := collectEvents(ch, 1, 2*time.Second)
	if len(got) != 1 || got[0].Type != models.EventTypeExit {
		t.Fatalf("events = %+v, want single exit", got)
	}
}

func TestRepositoryFailureDoesNotDropStreamEvents(t *testing.T) {
	events := &mockEventRepo{err: errors.New("db down")}
	svc, _ := newTestService([]*models.Geofence{testFence()}, events)

	if err := svc.Start(context.Background(), uuid.New()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer svc.Stop()

	ch, unsubscribe := svc.Subscribe()
	defer unsubscribe()

	svc.ProcessPosition(models.Position{DeviceID: "truck-1", Lat: 0.01, Lng: 0, Time: t0})
	svc.ProcessPosition(models.Position{DeviceID: "truck-1", Lat: 0, Lng: 0, Time: t0.Add(10 * time.Second)})

	got := collectEvents(ch, 1, 2*time.Second)
	if len(got) != 1 || got[0].Type != models.EventTypeEnter {
		t.Fatalf("in-process delivery lost the event despite repo failure: %+v", got)
	}
}

func TestPerDeviceOrdering(t *testing.T) {
	events := &mockEventRepo{}
	fence := testFence()
	svc, _ := newTestService([]*models.Geofence{fence}, events)

	if err := svc.Start(context.Background(), uuid.New()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer svc.Stop()

	ch, unsubscribe := svc.Subscribe()
	defer unsubscribe()

	// Alternate inside/outside with updates spaced past the throttle window
	at := t0
	for i := 0; i < 6; i++ {
		lat := 0.01
		if i%2 == 1 {
			lat = 0
		}
		svc.ProcessPosition(models.Position{DeviceID: "truck-1", Lat: lat, Lng: 0, Time: at})
		at = at.Add(10 * time.Second)
	}

	got := collectEvents(ch, 5, 3*time.Second)
	if len(got) != 5 {
		t.Fatalf("received %d events, want 5", len(got))
	}
	want := []models.EventType{
		models.EventTypeEnter, models.EventTypeExit,
		models.EventTypeEnter, models.EventTypeExit,
		models.EventTypeEnter,
	}
	for i, ev := range got {
		if ev.Type != want[i] {
			t.Errorf("event[%d] = %v, want %v", i, ev.Type, want[i])
		}
	}
}

func TestGeofenceRefreshDropsRemovedState(t *testing.T) {
	events := &mockEventRepo{}
	fence := testFence()
	svc, repo := newTestService([]*models.Geofence{fence}, events)

	if err := svc.Start(context.Background(), uuid.New()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer svc.Stop()

	ch, unsubscribe := svc.Subscribe()
	defer unsubscribe()

	svc.ProcessPosition(models.Position{DeviceID: "truck-1", Lat: 0.01, Lng: 0, Time: t0})
	svc.ProcessPosition(models.Position{DeviceID: "truck-1", Lat: 0, Lng: 0, Time: t0.Add(10 * time.Second)})
	if got := collectEvents(ch, 1, 2*time.Second); len(got) != 1 {
		t.Fatalf("setup enter event missing")
	}

	// Geofence removed: its cached state goes away, so re-adding it later
	// must not produce an exit from the stale inside state.
	repo.setFences(nil)
	if err := svc.RefreshGeofences(context.Background()); err != nil {
		t.Fatalf("RefreshGeofences() error = %v", err)
	}

	repo.setFences([]*models.Geofence{fence})
	if err := svc.RefreshGeofences(context.Background()); err != nil {
		t.Fatalf("RefreshGeofences() error = %v", err)
	}

	svc.ProcessPosition(models.Position{DeviceID: "truck-1", Lat: 0.01, Lng: 0, Time: t0.Add(30 * time.Second)})
	if got := collectEvents(ch, 1, 500*time.Millisecond); len(got) != 0 {
		t.Errorf("stale state produced events after geofence removal: %+v", got)
	}
}

func TestProcessPositionIgnoredWhenIdle(t *testing.T) {
	events := &mockEventRepo{}
	svc, _ := newTestService([]*models.Geofence{testFence()}, events)

	// Not started: positions are dropped, no panic
	svc.ProcessPosition(models.Position{DeviceID: "truck-1", Lat: 0, Lng: 0, Time: t0})

	if len(events.recorded()) != 0 {
		t.Error("events recorded while idle")
	}
}

// stoppingSource calls Stop from inside the subscribe callback, simulating a
// shutdown that lands while the monitor is still starting.
type stoppingSource struct {
	svc          *Service
	unsubscribed bool
}

func (s *stoppingSource) SubscribePositions(handler func(models.Position)) (func(), error) {
	s.svc.Stop()
	return func() { s.unsubscribed = true }, nil
}

func TestStopDuringStartReleasesSubscription(t *testing.T) {
	src := &stoppingSource{}
	repo := &mockGeofenceRepo{fences: []*models.Geofence{testFence()}}
	svc := New(
		Config{MinInterval: 5 * time.Second, MinDistance: 5.0, PruneInterval: time.Hour, QueueSize: 16},
		evaluator.New(0),
		statecache.New(),
		repo,
		&mockEventRepo{},
		WithPositionSource(src),
	)
	src.svc = svc

	if err := svc.Start(context.Background(), uuid.New()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if !src.unsubscribed {
		t.Error("position subscription leaked after Stop raced Start")
	}
	if svc.Phase() != PhaseIdle {
		t.Errorf("phase = %v, want idle", svc.Phase())
	}
}
