package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/fleetfence/fleetfence-server/internal/models"
)

// mockStream hands the bridge a channel it controls
type mockStream struct {
	ch chan models.GeofenceEvent
}

func newMockStream() *mockStream {
	return &mockStream{ch: make(chan models.GeofenceEvent, 16)}
}

func (m *mockStream) Subscribe() (<-chan models.GeofenceEvent, func()) {
	return m.ch, func() { close(m.ch) }
}

type mockResolver struct {
	mu     sync.Mutex
	fences map[uuid.UUID]*models.Geofence
}

func (m *mockResolver) GeofenceByID(id uuid.UUID) (*models.Geofence, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	gf, ok := m.fences[id]
	return gf, ok
}

type mockEventRepo struct {
	mu     sync.Mutex
	events []models.GeofenceEvent
}

func (m *mockEventRepo) RecordEvent(ctx context.Context, event *models.GeofenceEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, *event)
	return nil
}

func (m *mockEventRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

type mockSink struct {
	mu       sync.Mutex
	messages []string
}

func (m *mockSink) ShowLocal(ctx context.Context, message string, event models.GeofenceEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, message)
	return nil
}

func (m *mockSink) SendPush(ctx context.Context, message string, event models.GeofenceEvent) error {
	return m.ShowLocal(ctx, message, event)
}

func (m *mockSink) all() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.messages))
	copy(out, m.messages)
	return out
}

func enterEvent(gf *models.Geofence) models.GeofenceEvent {
	return models.GeofenceEvent{
		ID:           uuid.New(),
		GeofenceID:   gf.ID,
		GeofenceName: gf.Name,
		DeviceID:     "truck-1",
		DeviceName:   "Truck 1",
		Type:         models.EventTypeEnter,
		Time:         time.Now().UTC(),
		Status:       models.EventStatusPending,
	}
}

func testFence(mode models.NotificationMode) *models.Geofence {
	return &models.Geofence{
		ID:               uuid.New(),
		Name:             "depot",
		Kind:             models.GeofenceKindCircle,
		Enabled:          true,
		RadiusMeters:     100,
		OnEnter:          true,
		OnExit:           true,
		NotificationMode: mode,
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRoutesByNotificationMode(t *testing.T) {
	tests := []struct {
		name      string
		mode      models.NotificationMode
		wantLocal int
		wantPush  int
	}{
		{"local only", models.NotificationModeLocal, 1, 0},
		{"push only", models.NotificationModePush, 0, 1},
		{"both", models.NotificationModeBoth, 1, 1},
		{"none", models.NotificationModeNone, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gf := testFence(tt.mode)
			resolver := &mockResolver{fences: map[uuid.UUID]*models.Geofence{gf.ID: gf}}
			repo := &mockEventRepo{}
			local, push := &mockSink{}, &mockSink{}

			b := New(resolver, repo, local, push)
			stream := newMockStream()
			b.Attach(stream)
			defer b.Detach()

			stream.ch <- enterEvent(gf)

			waitFor(t, func() bool { return repo.count() == 1 })
			// Give routing a moment after persistence
			time.Sleep(20 * time.Millisecond)

			if got := len(local.all()); got != tt.wantLocal {
				t.Errorf("local notifications = %d, want %d", got, tt.wantLocal)
			}
			if got := len(push.all()); got != tt.wantPush {
				t.Errorf("push notifications = %d, want %d", got, tt.wantPush)
			}
		})
	}
}

func TestDuplicateEventSuppressed(t *testing.T) {
	gf := testFence(models.NotificationModeLocal)
	resolver := &mockResolver{fences: map[uuid.UUID]*models.Geofence{gf.ID: gf}}
	repo := &mockEventRepo{}
	local := &mockSink{}

	b := New(resolver, repo, local, nil)
	stream := newMockStream()
	b.Attach(stream)
	defer b.Detach()

	ev := enterEvent(gf)
	stream.ch <- ev
	stream.ch <- ev // same id within the window

	waitFor(t, func() bool { return repo.count() >= 1 })
	time.Sleep(50 * time.Millisecond)

	if got := len(local.all()); got != 1 {
		t.Errorf("notifications = %d, want 1 (duplicate suppressed)", got)
	}
	if repo.count() != 1 {
		t.Errorf("recorded = %d, want 1", repo.count())
	}
}

func TestContentSignatureDedup(t *testing.T) {
	gf := testFence(models.NotificationModeLocal)
	resolver := &mockResolver{fences: map[uuid.UUID]*models.Geofence{gf.ID: gf}}
	repo := &mockEventRepo{}
	local := &mockSink{}

	b := New(resolver, repo, local, nil)
	stream := newMockStream()
	b.Attach(stream)
	defer b.Detach()

	// Distinct ids, same device/geofence/type: boundary jitter
	stream.ch <- enterEvent(gf)
	stream.ch <- enterEvent(gf)

	waitFor(t, func() bool { return repo.count() >= 1 })
	time.Sleep(50 * time.Millisecond)

	if got := len(local.all()); got != 1 {
		t.Errorf("notifications = %d, want 1 (signature duplicate suppressed)", got)
	}
}

func TestEventRecordedEvenWhenNotNotified(t *testing.T) {
	gf := testFence(models.NotificationModeNone)
	resolver := &mockResolver{fences: map[uuid.UUID]*models.Geofence{gf.ID: gf}}
	repo := &mockEventRepo{}

	b := New(resolver, repo, nil, nil)
	stream := newMockStream()
	b.Attach(stream)
	defer b.Detach()

	stream.ch <- enterEvent(gf)

	waitFor(t, func() bool { return repo.count() == 1 })
}

func TestDisabledGeofenceSkipsNotification(t *testing.T) {
	gf := testFence(models.NotificationModeLocal)
	gf.Enabled = false
	resolver := &mockResolver{fences: map[uuid.UUID]*models.Geofence{gf.ID: gf}}
	repo := &mockEventRepo{}
	local := &mockSink{}

	b := New(resolver, repo, local, nil)
	stream := newMockStream()
	b.Attach(stream)
	defer b.Detach()

	stream.ch <- enterEvent(gf)

	waitFor(t, func() bool { return repo.count() == 1 })
	time.Sleep(20 * time.Millisecond)

	if len(local.all()) != 0 {
		t.Error("notification sent for disabled geofence")
	}
}

func TestDetachIdempotent(t *testing.T) {
	gf := testFence(models.NotificationModeLocal)
	resolver := &mockResolver{fences: map[uuid.UUID]*models.Geofence{gf.ID: gf}}

	b := New(resolver, &mockEventRepo{}, nil, nil)
	stream := newMockStream()
	b.Attach(stream)
	b.Detach()
	b.Detach()
}

func TestRenderMessage(t *testing.T) {
	dwell := 3 * time.Minute
	exitDur := 2*time.Hour + 15*time.Minute

	tests := []struct {
		name  string
		event models.GeofenceEvent
		want  string
	}{
		{
			name: "enter",
			event: models.GeofenceEvent{
				Type: models.EventTypeEnter, DeviceName: "Truck 1", GeofenceName: "depot",
			},
			want: "Truck 1 entered depot",
		},
		{
			name: "exit with duration",
			event: models.GeofenceEvent{
				Type: models.EventTypeExit, DeviceName: "Truck 1", GeofenceName: "depot",
				DwellDuration: &exitDur,
			},
			want: "Truck 1 exited depot after 2h 15m",
		},
		{
			name: "dwell",
			event: models.GeofenceEvent{
				Type: models.EventTypeDwell, DeviceName: "Truck 1", GeofenceName: "depot",
				DwellDuration: &dwell,
			},
			want: "Truck 1 stayed in depot for 3m",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RenderMessage(tt.event); got != tt.want {
				t.Errorf("RenderMessage() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{30 * time.Second, "30s"},
		{90 * time.Second, "1m"},
		{59 * time.Minute, "59m"},
		{time.Hour + 30*time.Minute, "1h 30m"},
		{26 * time.Hour, "1d 2h"},
		{49*time.Hour + 20*time.Minute, "2d 1h"},
		{5 * time.Second, "5s"},
	}

	for _, tt := range tests {
		if got := FormatDuration(tt.d); got != tt.want {
			t.Errorf("FormatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}
