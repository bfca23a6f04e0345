package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/fleetfence/fleetfence-server/internal/geometry"
	"github.com/fleetfence/fleetfence-server/internal/models"
	"github.com/fleetfence/fleetfence-server/internal/storage"
)

// geofenceRequest is the create/update payload
type geofenceRequest struct {
	Name             string                  `json:"name" validate:"required,max=100"`
	Kind             models.GeofenceKind     `json:"kind" validate:"required"`
	Enabled          *bool                   `json:"enabled"`
	CenterLat        float64                 `json:"centerLat"`
	CenterLng        float64                 `json:"centerLng"`
	RadiusMeters     float64                 `json:"radiusMeters"`
	Vertices         models.LatLngList       `json:"vertices"`
	OnEnter          *bool                   `json:"onEnter"`
	OnExit           *bool                   `json:"onExit"`
	DwellThresholdMs *int64                  `json:"dwellThresholdMs"`
	NotificationMode models.NotificationMode `json:"notificationMode"`
}

func (req *geofenceRequest) apply(gf *models.Geofence) {
	gf.Name = req.Name
	gf.Kind = req.Kind
	gf.CenterLat = req.CenterLat
	gf.CenterLng = req.CenterLng
	gf.RadiusMeters = req.RadiusMeters
	gf.Vertices = req.Vertices

	if req.Enabled != nil {
		gf.Enabled = *req.Enabled
	}
	if req.OnEnter != nil {
		gf.OnEnter = *req.OnEnter
	}
	if req.OnExit != nil {
		gf.OnExit = *req.OnExit
	}

	if req.DwellThresholdMs != nil {
		d := time.Duration(*req.DwellThresholdMs) * time.Millisecond
		gf.DwellThreshold = &d
	} else {
		gf.DwellThreshold = nil
	}

	if req.NotificationMode != "" {
		gf.NotificationMode = req.NotificationMode
	}
}

// HandleListGeofences lists geofences for the authenticated owner
func (s *RESTServer) HandleListGeofences(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	claims, ok := claimsFromContext(ctx)
	if !ok {
		s.respondError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit == 0 {
		limit = 20
	}
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	geofences, total, err := s.store.ListGeofences(ctx, claims.UserID, limit, offset)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"geofences": geofences,
		"total":     total,
	})
}

// HandleCreateGeofence creates a new geofence
func (s *RESTServer) HandleCreateGeofence(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	claims, ok := claimsFromContext(ctx)
	if !ok {
		s.respondError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	var req geofenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.validator.Validate(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	gf := &models.Geofence{
		OwnerID:          claims.UserID,
		Enabled:          true,
		OnEnter:          true,
		OnExit:           true,
		NotificationMode: models.NotificationModeLocal,
	}
	req.apply(gf)

	if !gf.NotificationMode.Valid() {
		s.respondError(w, http.StatusBadRequest, "invalid notification mode")
		return
	}
	if err := geometry.Validate(gf); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.store.CreateGeofence(ctx, gf); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.notifyGeofencesChanged(ctx, claims.UserID)
	s.respondJSON(w, http.StatusCreated, gf)
}

// HandleGetGeofence gets a single geofence
func (s *RESTServer) HandleGetGeofence(w http.ResponseWriter, r *http.Request) {
	gf, ok := s.ownedGeofence(w, r)
	if !ok {
		return
	}

	s.respondJSON(w, http.StatusOK, gf)
}

// HandleUpdateGeofence updates a geofence
func (s *RESTServer) HandleUpdateGeofence(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	gf, ok := s.ownedGeofence(w, r)
	if !ok {
		return
	}

	var req geofenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.validator.Validate(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	req.apply(gf)

	if !gf.NotificationMode.Valid() {
		s.respondError(w, http.StatusBadRequest, "invalid notification mode")
		return
	}
	if err := geometry.Validate(gf); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.store.UpdateGeofence(ctx, gf); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.notifyGeofencesChanged(ctx, gf.OwnerID)
	s.respondJSON(w, http.StatusOK, gf)
}

// HandleDeleteGeofence deletes a geofence and drops its cached state
func (s *RESTServer) HandleDeleteGeofence(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	gf, ok := s.ownedGeofence(w, r)
	if !ok {
		return
	}

	if err := s.store.DeleteGeofence(ctx, gf.ID); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.monitor.RemoveGeofenceState(gf.ID)
	s.notifyGeofencesChanged(ctx, gf.OwnerID)
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// HandleEnableGeofence enables a geofence
func (s *RESTServer) HandleEnableGeofence(w http.ResponseWriter, r *http.Request) {
	s.setGeofenceEnabled(w, r, true)
}

// HandleDisableGeofence disables a geofence
func (s *RESTServer) HandleDisableGeofence(w http.ResponseWriter, r *http.Request) {
	s.setGeofenceEnabled(w, r, false)
}

func (s *RESTServer) setGeofenceEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	ctx := r.Context()

	gf, ok := s.ownedGeofence(w, r)
	if !ok {
		return
	}

	gf.Enabled = enabled
	if err := s.store.UpdateGeofence(ctx, gf); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// A disabled geofence stops tracking, so its cached state must go
	if !enabled {
		s.monitor.RemoveGeofenceState(gf.ID)
	}
	s.notifyGeofencesChanged(ctx, gf.OwnerID)
	s.respondJSON(w, http.StatusOK, gf)
}

// ownedGeofence loads the geofence from the URL and checks ownership
func (s *RESTServer) ownedGeofence(w http.ResponseWriter, r *http.Request) (*models.Geofence, bool) {
	ctx := r.Context()

	claims, ok := claimsFromContext(ctx)
	if !ok {
		s.respondError(w, http.StatusUnauthorized, "not authenticated")
		return nil, false
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid geofence id")
		return nil, false
	}

	gf, err := s.store.GetGeofence(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "geofence not found")
		} else {
			s.respondError(w, http.StatusInternalServerError, err.Error())
		}
		return nil, false
	}

	if gf.OwnerID != claims.UserID && !claims.IsAdmin {
		s.respondError(w, http.StatusForbidden, "access denied")
		return nil, false
	}

	return gf, true
}

// notifyGeofencesChanged refreshes the monitor's working set and tells
// other instances over the bus
func (s *RESTServer) notifyGeofencesChanged(ctx context.Context, ownerID uuid.UUID) {
	if err := s.monitor.RefreshGeofences(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to refresh monitored geofences")
	}
	if s.bus != nil {
		s.bus.NotifyGeofencesChanged(ownerID)
	}
}
