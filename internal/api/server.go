// Package api provides the HTTP server for the essence engine.
// It exposes event ingestion, the progression query surface and a live
// notification feed.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lifehub/essence/internal/app/engine"
	"github.com/lifehub/essence/internal/platform/logger"
)

// Server is the essence HTTP API server.
type Server struct {
	engine         *engine.Engine
	hub            *NotificationHub
	log            *logger.Logger
	metricsEnabled bool
	health         func(ctx context.Context) error // nil reports ok
	waitTimeout    time.Duration                   // ?wait=true deadline
}

// NewServer creates a new API server.
func NewServer(eng *engine.Engine, hub *NotificationHub, log *logger.Logger) *Server {
	if log == nil {
		log = logger.NewNop()
	}
	if hub == nil {
		hub = NewNotificationHub()
	}
	return &Server{
		engine:      eng,
		hub:         hub,
		log:         log.With("component", "api"),
		waitTimeout: 10 * time.Second,
	}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// SetHealthCheck sets the dependency probe behind /health.
func (s *Server) SetHealthCheck(fn func(ctx context.Context) error) { s.health = fn }

// Hub returns the live notification hub.
func (s *Server) Hub() *NotificationHub { return s.hub }

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	r.Get("/health", s.handleHealth)

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		// SSE must outlive the request timeout, so it is mounted outside it.
		r.Get("/users/{userID}/notifications/live", s.handleLive)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))

			r.Post("/events", s.handleIngest)

			r.Route("/users/{userID}", func(r chi.Router) {
				r.Get("/profile", s.handleProfile)
				r.Get("/achievements", s.handleAchievements)
				r.Get("/rewards", s.handleRewards)
				r.Post("/rewards/{rewardID}/equip", s.handleEquip)
				r.Get("/transactions", s.handleTransactions)
				r.Get("/decisions", s.handleDecisions)
				r.Get("/notifications", s.handleNotifications)
				r.Post("/notifications/{id}/shown", s.handleNotificationShown)
			})
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "degraded",
				"error":  err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"subscribers": s.hub.ClientCount(),
	})
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"message": msg,
			"type":    "error",
		},
	})
}

// corsMiddleware adds CORS headers for browser clients.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
