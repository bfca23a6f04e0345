package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/fleetfence/fleetfence-server/internal/models"
	"github.com/fleetfence/fleetfence-server/internal/storage"
)

// HandleListEvents lists geofence events with optional filters
func (s *RESTServer) HandleListEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if _, ok := claimsFromContext(ctx); !ok {
		s.respondError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	var filters storage.EventFilters
	query := r.URL.Query()

	if v := query.Get("geofence_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid geofence_id")
			return
		}
		filters.GeofenceID = &id
	}
	if v := query.Get("device_id"); v != "" {
		filters.DeviceID = &v
	}
	if v := query.Get("type"); v != "" {
		t := models.EventType(v)
		filters.Type = &t
	}
	if v := query.Get("status"); v != "" {
		st := models.EventStatus(v)
		filters.Status = &st
	}
	if v := query.Get("start_time"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid start_time")
			return
		}
		filters.StartTime = &t
	}
	if v := query.Get("end_time"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid end_time")
			return
		}
		filters.EndTime = &t
	}

	limit, _ := strconv.Atoi(query.Get("limit"))
	if limit == 0 {
		limit = 20
	}
	offset, _ := strconv.Atoi(query.Get("offset"))

	events, total, err := s.store.ListEvents(ctx, filters, limit, offset)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"total":  total,
	})
}

// HandleGetEvent gets a single event
func (s *RESTServer) HandleGetEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid event id")
		return
	}

	event, err := s.store.GetEvent(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "event not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, event)
}

// HandleAcknowledgeEvent marks an event as acknowledged
func (s *RESTServer) HandleAcknowledgeEvent(w http.ResponseWriter, r *http.Request) {
	s.setEventStatus(w, r, models.EventStatusAcknowledged)
}

// HandleArchiveEvent marks an event as archived
func (s *RESTServer) HandleArchiveEvent(w http.ResponseWriter, r *http.Request) {
	s.setEventStatus(w, r, models.EventStatusArchived)
}

func (s *RESTServer) setEventStatus(w http.ResponseWriter, r *http.Request, status models.EventStatus) {
	ctx := r.Context()

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid event id")
		return
	}

	if err := s.store.UpdateEventStatus(ctx, id, status); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "event not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]string{"status": string(status)})
}

// HandleDeleteEvent deletes an event
func (s *RESTServer) HandleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid event id")
		return
	}

	if err := s.store.DeleteEvent(ctx, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "event not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
