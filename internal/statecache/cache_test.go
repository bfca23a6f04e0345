package statecache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/fleetfence/fleetfence-server/internal/models"
)

func newState(deviceID string, geofenceID uuid.UUID, inside bool) models.GeofenceState {
	return models.GeofenceState{
		DeviceID:   deviceID,
		GeofenceID: geofenceID,
		IsInside:   inside,
		LastSeenAt: time.Now(),
	}
}

func TestGetAfterSetRoundTrip(t *testing.T) {
	c := New(WithStats(true))
	gfID := uuid.New()
	want := newState("truck-1", gfID, true)

	c.Set("truck-1", gfID, want)

	got, ok := c.Get("truck-1", gfID)
	if !ok {
		t.Fatal("Get() returned no state after Set()")
	}
	if got.DeviceID != want.DeviceID || got.GeofenceID != want.GeofenceID || got.IsInside != want.IsInside {
		t.Errorf("Get() = %+v, want %+v", got, want)
	}
}

func TestGetUnknownPair(t *testing.T) {
	c := New()
	if _, ok := c.Get("nobody", uuid.New()); ok {
		t.Error("Get() on unknown pair should return no state")
	}
}

func TestGetAfterTTLExpiry(t *testing.T) {
	c := New(WithTTL(10 * time.Millisecond))
	gfID := uuid.New()
	c.Set("truck-1", gfID, newState("truck-1", gfID, true))

	time.Sleep(25 * time.Millisecond)

	if _, ok := c.Get("truck-1", gfID); ok {
		t.Error("Get() should miss after TTL elapses")
	}
}

func TestRemove(t *testing.T) {
	c := New()
	gfID := uuid.New()
	other := uuid.New()
	c.Set("truck-1", gfID, newState("truck-1", gfID, true))
	c.Set("truck-1", other, newState("truck-1", other, false))

	c.Remove("truck-1", gfID)

	if _, ok := c.Get("truck-1", gfID); ok {
		t.Error("removed entry still readable")
	}
	if _, ok := c.Get("truck-1", other); !ok {
		t.Error("Remove() dropped an unrelated entry")
	}
}

func TestRemoveDevice(t *testing.T) {
	c := New()
	a, b := uuid.New(), uuid.New()
	c.Set("truck-1", a, newState("truck-1", a, true))
	c.Set("truck-1", b, newState("truck-1", b, false))
	c.Set("truck-2", a, newState("truck-2", a, true))

	c.RemoveDevice("truck-1")

	if _, ok := c.Get("truck-1", a); ok {
		t.Error("truck-1 state survived RemoveDevice")
	}
	if _, ok := c.Get("truck-2", a); !ok {
		t.Error("RemoveDevice dropped another device's state")
	}
}

func TestRemoveGeofence(t *testing.T) {
	c := New()
	gone, kept := uuid.New(), uuid.New()
	c.Set("truck-1", gone, newState("truck-1", gone, true))
	c.Set("truck-2", gone, newState("truck-2", gone, true))
	c.Set("truck-2", kept, newState("truck-2", kept, false))

	c.RemoveGeofence(gone)

	if _, ok := c.Get("truck-1", gone); ok {
		t.Error("geofence state survived RemoveGeofence on truck-1")
	}
	if _, ok := c.Get("truck-2", gone); ok {
		t.Error("geofence state survived RemoveGeofence on truck-2")
	}
	if _, ok := c.Get("truck-2", kept); !ok {
		t.Error("RemoveGeofence dropped an unrelated geofence")
	}
}

func TestPruneExpired(t *testing.T) {
	c := New(WithTTL(20 * time.Millisecond))
	stale := uuid.New()
	c.Set("truck-1", stale, newState("truck-1", stale, true))

	time.Sleep(30 * time.Millisecond)

	// Fresh entry added after the stale one aged out
	fresh := uuid.New()
	c.Set("truck-2", fresh, newState("truck-2", fresh, false))

	pruned := c.PruneExpired()
	if pruned != 1 {
		t.Errorf("PruneExpired() = %d, want 1", pruned)
	}
	if _, ok := c.Get("truck-2", fresh); !ok {
		t.Error("PruneExpired removed a fresh entry")
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d after prune, want 1", c.Len())
	}
}

func TestPruneExpiredManyEntries(t *testing.T) {
	c := New(WithTTL(time.Nanosecond))
	for d := 0; d < 50; d++ {
		deviceID := fmt.Sprintf("truck-%d", d)
		for g := 0; g < 20; g++ {
			id := uuid.New()
			c.Set(deviceID, id, newState(deviceID, id, false))
		}
	}
	time.Sleep(time.Millisecond)

	start := time.Now()
	pruned := c.PruneExpired()
	elapsed := time.Since(start)

	if pruned != 1000 {
		t.Errorf("PruneExpired() = %d, want 1000", pruned)
	}
	if elapsed > 50*time.Millisecond {
		t.Errorf("PruneExpired took %v for 1000 entries", elapsed)
	}
}

func TestStats(t *testing.T) {
	c := New(WithStats(true))
	gfID := uuid.New()

	c.Get("truck-1", gfID)                                // miss
	c.Set("truck-1", gfID, newState("truck-1", gfID, true)) // insert
	c.Get("truck-1", gfID)                                // hit
	c.Set("truck-1", gfID, newState("truck-1", gfID, false)) // update
	c.Remove("truck-1", gfID)                             // removal

	s := c.Stats()
	if s.Hits != 1 || s.Misses != 1 || s.Inserts != 1 || s.Updates != 1 || s.Removals != 1 {
		t.Errorf("Stats() = %+v", s)
	}
	if s.HitRate != 0.5 {
		t.Errorf("HitRate = %v, want 0.5", s.HitRate)
	}
}

func TestStatsDisabled(t *testing.T) {
	c := New()
	gfID := uuid.New()
	c.Get("truck-1", gfID)
	c.Set("truck-1", gfID, newState("truck-1", gfID, true))
	c.Get("truck-1", gfID)

	s := c.Stats()
	if s.Hits != 0 || s.Misses != 0 || s.Inserts != 0 {
		t.Errorf("counters should stay zero when stats disabled, got %+v", s)
	}
	if s.TotalStates != 1 {
		t.Errorf("TotalStates = %d, want 1", s.TotalStates)
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	c := New()
	a, b := uuid.New(), uuid.New()
	c.Set("truck-1", a, newState("truck-1", a, true))
	c.Set("truck-2", b, newState("truck-2", b, false))

	exported := c.ExportAll()
	if len(exported) != 2 {
		t.Fatalf("ExportAll() returned %d states, want 2", len(exported))
	}

	restored := New()
	restored.ImportAll(exported)

	if _, ok := restored.Get("truck-1", a); !ok {
		t.Error("imported state for truck-1 missing")
	}
	if _, ok := restored.Get("truck-2", b); !ok {
		t.Error("imported state for truck-2 missing")
	}
}

func TestConcurrentAccess(t *testing.T) {
	c := New(WithTTL(time.Second), WithStats(true))
	gfIDs := make([]uuid.UUID, 8)
	for i := range gfIDs {
		gfIDs[i] = uuid.New()
	}

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			deviceID := fmt.Sprintf("truck-%d", w%4)
			for i := 0; i < 500; i++ {
				gfID := gfIDs[i%len(gfIDs)]
				c.Set(deviceID, gfID, newState(deviceID, gfID, i%2 == 0))
				c.Get(deviceID, gfID)
				if i%100 == 0 {
					c.PruneExpired()
				}
			}
		}(w)
	}
	wg.Wait()

	if c.Len() == 0 {
		t.Error("cache empty after concurrent writes")
	}
}
