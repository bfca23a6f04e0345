package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/fleetfence/fleetfence-server/internal/models"
	"github.com/fleetfence/fleetfence-server/internal/monitor"
)

// HandleMonitorStats reports the monitor phase and state cache counters
func (s *RESTServer) HandleMonitorStats(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"phase":    s.monitor.Phase().String(),
		"owner_id": s.monitor.OwnerID(),
		"cache":    s.monitor.CacheStats(),
	})
}

// HandleInjectPosition feeds a position fix straight into the monitor.
// Useful for testing geofences without a live tracker.
func (s *RESTServer) HandleInjectPosition(w http.ResponseWriter, r *http.Request) {
	var pos models.Position
	if err := json.NewDecoder(r.Body).Decode(&pos); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.validator.Validate(&pos); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if pos.Time.IsZero() {
		pos.Time = time.Now().UTC()
	}

	if s.monitor.Phase() != monitor.PhaseActive {
		s.respondError(w, http.StatusConflict, "monitor is not active")
		return
	}

	s.monitor.ProcessPosition(pos)
	s.respondJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}
