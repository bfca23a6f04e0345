package api

import (
	"github.com/go-chi/chi/v5"
)

// setupAPIRoutes sets up API v1 routes
func (s *RESTServer) setupAPIRoutes(r chi.Router) {
	// Health check
	r.Get("/health", s.HandleHealth)
	r.Get("/", s.HandleRoot)

	// Auth routes (public)
	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", s.HandleLogin)
		r.Post("/refresh", s.HandleRefresh)
	})

	// Protected routes
	r.Group(func(r chi.Router) {
		// Users
		r.Route("/users", func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Get("/me", s.HandleGetCurrentUser)
		})

		// Geofences
		r.Route("/geofences", func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Get("/", s.HandleListGeofences)
			r.Post("/", s.HandleCreateGeofence)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.HandleGetGeofence)
				r.Put("/", s.HandleUpdateGeofence)
				r.Delete("/", s.HandleDeleteGeofence)
				r.Post("/enable", s.HandleEnableGeofence)
				r.Post("/disable", s.HandleDisableGeofence)
			})
		})

		// Devices
		r.Route("/devices", func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Get("/", s.HandleListDevices)
			r.Post("/", s.HandleCreateDevice)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.HandleGetDevice)
				r.Put("/", s.HandleUpdateDevice)
				r.Delete("/", s.HandleDeleteDevice)
			})
		})

		// Events
		r.Route("/events", func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Get("/", s.HandleListEvents)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.HandleGetEvent)
				r.Delete("/", s.HandleDeleteEvent)
				r.Post("/ack", s.HandleAcknowledgeEvent)
				r.Post("/archive", s.HandleArchiveEvent)
			})
		})

		// Monitor
		r.Route("/monitor", func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Get("/stats", s.HandleMonitorStats)
			r.Post("/positions", s.HandleInjectPosition)
		})
	})
}
