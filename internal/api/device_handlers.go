package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/fleetfence/fleetfence-server/internal/models"
	"github.com/fleetfence/fleetfence-server/internal/storage"
)

// HandleListDevices lists devices for the authenticated owner
func (s *RESTServer) HandleListDevices(w http.ResponseWriter, r *http.Request) {
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

	devices, total, err := s.store.ListDevices(ctx, claims.UserID, limit, offset)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"devices": devices,
		"total":   total,
	})
}

// HandleCreateDevice registers a device
func (s *RESTServer) HandleCreateDevice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	claims, ok := claimsFromContext(ctx)
	if !ok {
		s.respondError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	var req struct {
		ID   string `json:"id" validate:"required,max=64"`
		Name string `json:"name" validate:"required,max=100"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.validator.Validate(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	device := &models.Device{
		ID:      req.ID,
		OwnerID: claims.UserID,
		Name:    req.Name,
	}

	if err := s.store.CreateDevice(ctx, device); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			s.respondError(w, http.StatusConflict, "device already exists")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusCreated, device)
}

// HandleGetDevice gets a single device
func (s *RESTServer) HandleGetDevice(w http.ResponseWriter, r *http.Request) {
	device, ok := s.ownedDevice(w, r)
	if !ok {
		return
	}

	s.respondJSON(w, http.StatusOK, device)
}

// HandleUpdateDevice renames a device
func (s *RESTServer) HandleUpdateDevice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	device, ok := s.ownedDevice(w, r)
	if !ok {
		return
	}

	var req struct {
		Name string `json:"name" validate:"required,max=100"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.validator.Validate(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	device.Name = req.Name
	if err := s.store.UpdateDevice(ctx, device); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, device)
}

// HandleDeleteDevice deletes a device and drops its cached state
func (s *RESTServer) HandleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	device, ok := s.ownedDevice(w, r)
	if !ok {
		return
	}

	if err := s.store.DeleteDevice(ctx, device.ID); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.monitor.RemoveDeviceState(device.ID)
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// ownedDevice loads the device from the URL and checks ownership
func (s *RESTServer) ownedDevice(w http.ResponseWriter, r *http.Request) (*models.Device, bool) {
	ctx := r.Context()

	claims, ok := claimsFromContext(ctx)
	if !ok {
		s.respondError(w, http.StatusUnauthorized, "not authenticated")
		return nil, false
	}

	id := chi.URLParam(r, "id")
	if id == "" {
		s.respondError(w, http.StatusBadRequest, "invalid device id")
		return nil, false
	}

	device, err := s.store.GetDevice(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "device not found")
		} else {
			s.respondError(w, http.StatusInternalServerError, err.Error())
		}
		return nil, false
	}

	if device.OwnerID != claims.UserID && !claims.IsAdmin {
		s.respondError(w, http.StatusForbidden, "access denied")
		return nil, false
	}

	return device, true
}
