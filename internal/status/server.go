// Package status serves the operator HTTP surface: health, Prometheus
// metrics, per-sensor statistics, recent activity and a live feed.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"floradaemon/internal/events"
	"floradaemon/internal/sensor"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 5 * time.Second
)

// Server represents the status HTTP server
type Server struct {
	router  *chi.Mux
	sensors *sensor.Registry
	metrics http.Handler
	events  *events.Store
	hub     *Hub
	logger  zerolog.Logger
	started time.Time
	version string
}

// NewServer creates the status server. metrics, store and hub may be nil,
// in which case their routes are not registered.
func NewServer(sensors *sensor.Registry, metrics http.Handler, store *events.Store, hub *Hub, version string, logger zerolog.Logger) *Server {
	s := &Server{
		router:  chi.NewRouter(),
		sensors: sensors,
		metrics: metrics,
		events:  store,
		hub:     hub,
		logger:  logger,
		started: time.Now(),
		version: version,
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	r := s.router

	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/health", s.health)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}

	r.Get("/api/sensors", s.listSensors)
	r.Get("/api/sensors/{name}", s.getSensor)
	if s.events != nil {
		r.Get("/api/events", s.listEvents)
	}
	if s.hub != nil {
		r.Get("/api/live", s.hub.ServeHTTP)
	}
}

// Router returns the chi router
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Run serves on addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("Status server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if s.hub != nil {
		s.hub.Close()
	}
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}

// sensorStatus is the JSON view of one tracked sensor
type sensorStatus struct {
	Name        string  `json:"name"`
	NamePretty  string  `json:"name_pretty"`
	Location    string  `json:"location,omitempty"`
	MAC         string  `json:"mac"`
	Firmware    string  `json:"firmware"`
	Supported   bool    `json:"supported"`
	Attempts    uint64  `json:"attempts"`
	Successes   uint64  `json:"successes"`
	Failures    uint64  `json:"failures"`
	SuccessRate float64 `json:"success_rate"`
}

func statusOf(h *sensor.Handle) sensorStatus {
	snap := h.Stats().Snapshot()
	return sensorStatus{
		Name:        h.Name,
		NamePretty:  h.NamePretty,
		Location:    h.LocationPretty,
		MAC:         h.Address,
		Firmware:    h.Firmware(),
		Supported:   h.FirmwareSupported(),
		Attempts:    snap.Attempts,
		Successes:   snap.Successes,
		Failures:    snap.Failures,
		SuccessRate: snap.SuccessRate(),
	}
}

// health returns liveness information
// GET /health
func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"version": s.version,
		"uptime":  time.Since(s.started).Round(time.Second).String(),
		"sensors": s.sensors.Len(),
	})
}

// listSensors returns all sensors in configuration order
// GET /api/sensors
func (s *Server) listSensors(w http.ResponseWriter, r *http.Request) {
	handles := s.sensors.All()
	out := make([]sensorStatus, 0, len(handles))
	for _, h := range handles {
		out = append(out, statusOf(h))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"sensors": out})
}

// getSensor returns one sensor by clean name
// GET /api/sensors/{name}
func (s *Server) getSensor(w http.ResponseWriter, r *http.Request) {
	h, ok := s.sensors.Get(chi.URLParam(r, "name"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "sensor not found"})
		return
	}
	writeJSON(w, http.StatusOK, statusOf(h))
}

// listEvents returns recent activity
// GET /api/events?limit=50&since=123
func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	if sinceStr := r.URL.Query().Get("since"); sinceStr != "" {
		if sinceID, err := strconv.ParseInt(sinceStr, 10, 64); err == nil {
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"events": s.events.GetSince(sinceID),
				"lastId": s.events.LastID(),
			})
			return
		}
	}

	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 100 {
			limit = l
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"events": s.events.GetLast(limit),
		"lastId": s.events.LastID(),
	})
}

// writeJSON writes JSON response
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
