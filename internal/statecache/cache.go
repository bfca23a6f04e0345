// Package statecache holds per-device geofence states between evaluation
// cycles. Entries expire after a TTL of inactivity; expiry is lazy on read
// and enforced periodically by PruneExpired.
package statecache

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/fleetfence/fleetfence-server/internal/models"
)

// DefaultTTL is how long a state survives without being touched
const DefaultTTL = 24 * time.Hour

type entry struct {
	state     models.GeofenceState
	expiresAt time.Time
}

// bucket holds all states for a single device
type bucket struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]entry
}

// Cache is a TTL-keyed store of (device, geofence) states.
// Safe for concurrent use by the evaluation path and the prune timer.
type Cache struct {
	mu      sync.RWMutex
	buckets map[string]*bucket

	ttl          time.Duration
	statsEnabled bool

	hits      atomic.Uint64
	misses    atomic.Uint64
	inserts   atomic.Uint64
	updates   atomic.Uint64
	removals  atomic.Uint64
	evictions atomic.Uint64
}

// Stats is a point-in-time snapshot of cache counters
type Stats struct {
	Hits        uint64  `json:"hits"`
	Misses      uint64  `json:"misses"`
	Inserts     uint64  `json:"inserts"`
	Updates     uint64  `json:"updates"`
	Removals    uint64  `json:"removals"`
	Evictions   uint64  `json:"evictions"`
	HitRate     float64 `json:"hitRate"`
	TotalStates int     `json:"totalStates"`
}

// Option configures a Cache
type Option func(*Cache)

// WithTTL overrides the default entry TTL
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithStats enables hit/miss statistics collection
func WithStats(enabled bool) Option {
	return func(c *Cache) {
		c.statsEnabled = enabled
	}
}

// New creates an empty cache
func New(opts ...Option) *Cache {
	c := &Cache{
		buckets: make(map[string]*bucket),
		ttl:     DefaultTTL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the state for (deviceID, geofenceID), or false when the pair
// was never seen or its entry has expired. Expired entries are not removed
// here; PruneExpired reclaims them.
func (c *Cache) Get(deviceID string, geofenceID uuid.UUID) (models.GeofenceState, bool) {
	c.mu.RLock()
	b := c.buckets[deviceID]
	c.mu.RUnlock()

	if b == nil {
		c.miss()
		return models.GeofenceState{}, false
	}

	b.mu.RLock()
	e, ok := b.entries[geofenceID]
	b.mu.RUnlock()

	if !ok || time.Now().After(e.expiresAt) {
		c.miss()
		return models.GeofenceState{}, false
	}

	c.hit()
	return e.state, true
}

// Set stores a state and resets its freshness timestamp
func (c *Cache) Set(deviceID string, geofenceID uuid.UUID, state models.GeofenceState) {
	c.mu.Lock()
	b := c.buckets[deviceID]
	if b == nil {
		b = &bucket{entries: make(map[uuid.UUID]entry)}
		c.buckets[deviceID] = b
	}
	c.mu.Unlock()

	b.mu.Lock()
	_, existed := b.entries[geofenceID]
	b.entries[geofenceID] = entry{state: state, expiresAt: time.Now().Add(c.ttl)}
	b.mu.Unlock()

	if c.statsEnabled {
		if existed {
			c.updates.Add(1)
		} else {
			c.inserts.Add(1)
		}
	}
}

// Remove drops the state for a single (device, geofence) pair
func (c *Cache) Remove(deviceID string, geofenceID uuid.UUID) {
	c.mu.RLock()
	b := c.buckets[deviceID]
	c.mu.RUnlock()

	if b == nil {
		return
	}

	b.mu.Lock()
	if _, ok := b.entries[geofenceID]; ok {
		delete(b.entries, geofenceID)
		if c.statsEnabled {
			c.removals.Add(1)
		}
	}
	b.mu.Unlock()
}

// RemoveDevice drops all states for a device, e.g. when it disconnects
func (c *Cache) RemoveDevice(deviceID string) {
	c.mu.Lock()
	b := c.buckets[deviceID]
	delete(c.buckets, deviceID)
	c.mu.Unlock()

	if b != nil && c.statsEnabled {
		b.mu.RLock()
		c.removals.Add(uint64(len(b.entries)))
		b.mu.RUnlock()
	}
}

// RemoveGeofence drops the geofence's state from every device bucket,
// used when a geofence is deleted or disabled
func (c *Cache) RemoveGeofence(geofenceID uuid.UUID) {
	for _, b := range c.bucketList() {
		b.mu.Lock()
		if _, ok := b.entries[geofenceID]; ok {
			delete(b.entries, geofenceID)
			if c.statsEnabled {
				c.removals.Add(1)
			}
		}
		b.mu.Unlock()
	}
}

// PruneExpired removes all expired entries. Each device bucket is scanned
// under its own lock so concurrent Get/Set calls are only blocked for the
// duration of a single bucket scan.
func (c *Cache) PruneExpired() int {
	now := time.Now()
	pruned := 0

	for deviceID, b := range c.bucketMap() {
		b.mu.Lock()
		for id, e := range b.entries {
			if now.After(e.expiresAt) {
				delete(b.entries, id)
				pruned++
			}
		}
		empty := len(b.entries) == 0
		b.mu.Unlock()

		if empty {
			c.mu.Lock()
			// Recheck under the map lock; a Set may have refilled the bucket
			if cur := c.buckets[deviceID]; cur == b {
				cur.mu.RLock()
				if len(cur.entries) == 0 {
					delete(c.buckets, deviceID)
				}
				cur.mu.RUnlock()
			}
			c.mu.Unlock()
		}
	}

	if pruned > 0 {
		if c.statsEnabled {
			c.evictions.Add(uint64(pruned))
		}
		log.Debug().Int("pruned", pruned).Msg("State cache pruned")
	}
	return pruned
}

// Len returns the number of stored entries, including not-yet-pruned expired ones
func (c *Cache) Len() int {
	n := 0
	for _, b := range c.bucketList() {
		b.mu.RLock()
		n += len(b.entries)
		b.mu.RUnlock()
	}
	return n
}

// ExportAll snapshots every unexpired state, for persistence across restarts
func (c *Cache) ExportAll() []models.GeofenceState {
	now := time.Now()
	var out []models.GeofenceState
	for _, b := range c.bucketList() {
		b.mu.RLock()
		for _, e := range b.entries {
			if now.Before(e.expiresAt) {
				out = append(out, e.state)
			}
		}
		b.mu.RUnlock()
	}
	return out
}

// ImportAll restores previously exported states. Each imported entry gets a
// fresh TTL; import counts are not reflected in insert statistics.
func (c *Cache) ImportAll(states []models.GeofenceState) {
	expiresAt := time.Now().Add(c.ttl)
	for _, s := range states {
		c.mu.Lock()
		b := c.buckets[s.DeviceID]
		if b == nil {
			b = &bucket{entries: make(map[uuid.UUID]entry)}
			c.buckets[s.DeviceID] = b
		}
		c.mu.Unlock()

		b.mu.Lock()
		b.entries[s.GeofenceID] = entry{state: s, expiresAt: expiresAt}
		b.mu.Unlock()
	}
}

// Stats returns a snapshot of the counters. All counters read zero when
// statistics collection is disabled.
func (c *Cache) Stats() Stats {
	hits := c.hits.Load()
	misses := c.misses.Load()

	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	return Stats{
		Hits:        hits,
		Misses:      misses,
		Inserts:     c.inserts.Load(),
		Updates:     c.updates.Load(),
		Removals:    c.removals.Load(),
		Evictions:   c.evictions.Load(),
		HitRate:     hitRate,
		TotalStates: c.Len(),
	}
}

func (c *Cache) hit() {
	if c.statsEnabled {
		c.hits.Add(1)
	}
}

func (c *Cache) miss() {
	if c.statsEnabled {
		c.misses.Add(1)
	}
}

// bucketList snapshots bucket pointers so iteration never holds the map lock
func (c *Cache) bucketList() []*bucket {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*bucket, 0, len(c.buckets))
	for _, b := range c.buckets {
		out = append(out, b)
	}
	return out
}

func (c *Cache) bucketMap() map[string]*bucket {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]*bucket, len(c.buckets))
	for id, b := range c.buckets {
		out[id] = b
	}
	return out
}
