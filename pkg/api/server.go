// Package api exposes the frame controller over a JSON HTTP surface for
// the dashboard frontend, plus health and metrics endpoints.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/ckhsu1225/vvmviz/internal/controller"
	"github.com/ckhsu1225/vvmviz/internal/frame"
	"github.com/ckhsu1225/vvmviz/pkg/errors"
	"github.com/ckhsu1225/vvmviz/pkg/health"
	"github.com/ckhsu1225/vvmviz/pkg/utils"
)

// Server serves the dashboard API in front of a controller.
type Server struct {
	httpServer    *http.Server
	ctrl          *controller.Controller
	healthTracker *health.Tracker
	metrics       http.Handler
	config        ServerConfig
	logger        *utils.Logger
}

// ServerConfig configures the API server.
type ServerConfig struct {
	// Address to bind the server to (e.g., "localhost:8050")
	Address string `yaml:"address" json:"address"`

	// ReadTimeout is the maximum duration for reading the entire request
	ReadTimeout time.Duration `yaml:"read_timeout" json:"read_timeout"`

	// WriteTimeout is the maximum duration for writing the response.
	// Frame misses block on dataset reads, so this stays generous.
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`

	// IdleTimeout is the maximum duration to wait for the next request
	IdleTimeout time.Duration `yaml:"idle_timeout" json:"idle_timeout"`

	// EnableCORS enables Cross-Origin Resource Sharing for browser frontends
	EnableCORS bool `yaml:"enable_cors" json:"enable_cors"`

	// Version is reported by /info. The CLI fills it from build metadata,
	// so it has no yaml mapping.
	Version string `yaml:"-" json:"version"`
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:      "localhost:8050",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
		EnableCORS:   true,
	}
}

// NewServer creates an API server. The metrics handler may be nil when the
// collector is disabled; the /metrics route is then not registered.
func NewServer(config ServerConfig, ctrl *controller.Controller, healthTracker *health.Tracker, metricsHandler http.Handler, logger *utils.Logger) *Server {
	if logger == nil {
		logger = utils.NewLogger(utils.INFO, os.Stderr)
	}

	s := &Server{
		ctrl:          ctrl,
		healthTracker: healthTracker,
		metrics:       metricsHandler,
		config:        config,
		logger:        logger.WithComponent("api"),
	}

	mux := http.NewServeMux()

	// Dashboard endpoints
	mux.HandleFunc("/api/v1/simulations", s.handleSimulations)
	mux.HandleFunc("/api/v1/simulation", s.handleLoadSimulation)
	mux.HandleFunc("/api/v1/variables", s.handleVariables)
	mux.HandleFunc("/api/v1/frame", s.handleFrame)
	mux.HandleFunc("/api/v1/stats", s.handleStats)

	// Health endpoints
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/health/components", s.handleHealthComponents)
	mux.HandleFunc("/health/live", s.handleLiveness)
	mux.HandleFunc("/health/ready", s.handleReadiness)

	// Info endpoint
	mux.HandleFunc("/info", s.handleInfo)

	// Metrics endpoint (present only when the collector is enabled)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}

	// Apply middleware
	handler := s.loggingMiddleware(mux)
	if config.EnableCORS {
		handler = s.corsMiddleware(handler)
	}

	s.httpServer = &http.Server{
		Addr:         config.Address,
		Handler:      handler,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}

	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("Starting API server on %s", s.config.Address)
	return s.httpServer.ListenAndServe()
}

// StartBackground starts the server in a background goroutine
func (s *Server) StartBackground() {
	go func() {
		if err := s.Start(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("API server error: %v", err)
		}
	}()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down API server")
	return s.httpServer.Shutdown(ctx)
}

// Dashboard endpoint handlers

func (s *Server) handleSimulations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if s.ctrl == nil {
		s.respondError(w, http.StatusServiceUnavailable, "Controller not configured")
		return
	}

	sims, err := s.ctrl.ListSimulations(r.Context())
	s.recordHealth("store", err)
	if err != nil {
		s.respondVVMError(w, err)
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"simulations": sims,
		"count":       len(sims),
		"timestamp":   time.Now(),
	})
}

func (s *Server) handleLoadSimulation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if s.ctrl == nil {
		s.respondError(w, http.StatusServiceUnavailable, "Controller not configured")
		return
	}

	var body struct {
		Path string `json:"path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.respondError(w, http.StatusBadRequest, "Request body must be JSON with a path field")
		return
	}
	if body.Path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required")
		return
	}

	info, err := s.ctrl.LoadSimulation(r.Context(), body.Path)
	s.recordHealth("store", err)
	if err != nil {
		s.respondVVMError(w, err)
		return
	}

	s.respondJSON(w, http.StatusOK, info)
}

func (s *Server) handleVariables(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if s.ctrl == nil {
		s.respondError(w, http.StatusServiceUnavailable, "Controller not configured")
		return
	}

	info, ok := s.ctrl.Simulation()
	if !ok {
		s.respondError(w, http.StatusPreconditionFailed, "No simulation loaded")
		return
	}

	s.respondJSON(w, http.StatusOK, info)
}

func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if s.ctrl == nil {
		s.respondError(w, http.StatusServiceUnavailable, "Controller not configured")
		return
	}

	params, err := parseFrameParams(r.URL.Query())
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	frameInfo, err := s.ctrl.Frame(r.Context(), params)
	s.recordHealth("reader", err)
	if err != nil {
		s.respondVVMError(w, err)
		return
	}

	s.respondJSON(w, http.StatusOK, frameInfo)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if s.ctrl == nil {
		s.respondError(w, http.StatusServiceUnavailable, "Controller not configured")
		return
	}

	s.respondJSON(w, http.StatusOK, s.ctrl.Stats())
}

// parseFrameParams builds frame parameters from the request query. The
// required parameters are var and t; everything else defaults to off.
func parseFrameParams(q url.Values) (controller.FrameParams, error) {
	var p controller.FrameParams

	p.Variable = q.Get("var")
	if p.Variable == "" {
		return p, fmt.Errorf("var query parameter is required")
	}

	t, err := strconv.Atoi(q.Get("t"))
	if err != nil {
		return p, fmt.Errorf("t query parameter must be an integer time index")
	}
	p.TimeIndex = t

	if v := q.Get("height"); v != "" {
		h, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return p, fmt.Errorf("height must be a number")
		}
		p.Height = h
	}

	wind, err := parseBoolParam(q, "wind")
	if err != nil {
		return p, err
	}
	p.Wind = wind

	contour, err := parseBoolParam(q, "contour")
	if err != nil {
		return p, err
	}
	p.Contour = contour
	p.ContourVar = q.Get("contour_var")

	force, err := parseBoolParam(q, "force")
	if err != nil {
		return p, err
	}
	p.Force = force

	if v := q.Get("levels"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return p, fmt.Errorf("levels must be an integer")
		}
		p.ContourLevels = n
	}

	if v := q.Get("contour_min"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return p, fmt.Errorf("contour_min must be a number")
		}
		p.ContourMin = &f
	}

	if v := q.Get("contour_max"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return p, fmt.Errorf("contour_max must be a number")
		}
		p.ContourMax = &f
	}

	x, err := parseRangeParam(q, "x0", "x1")
	if err != nil {
		return p, err
	}
	p.X = x

	y, err := parseRangeParam(q, "y0", "y1")
	if err != nil {
		return p, err
	}
	p.Y = y

	return p, nil
}

func parseBoolParam(q url.Values, name string) (bool, error) {
	v := q.Get(name)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s must be a boolean", name)
	}
	return b, nil
}

func parseRangeParam(q url.Values, startName, endName string) (frame.IndexRange, error) {
	var r frame.IndexRange

	sv, ev := q.Get(startName), q.Get(endName)
	if sv == "" && ev == "" {
		return r, nil
	}
	if sv == "" || ev == "" {
		return r, fmt.Errorf("%s and %s must be provided together", startName, endName)
	}

	start, err := strconv.Atoi(sv)
	if err != nil {
		return r, fmt.Errorf("%s must be an integer", startName)
	}
	end, err := strconv.Atoi(ev)
	if err != nil {
		return r, fmt.Errorf("%s must be an integer", endName)
	}

	return frame.IndexRange{Start: start, End: end}, nil
}

// Health endpoint handlers

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if s.healthTracker == nil {
		s.respondJSON(w, http.StatusOK, map[string]interface{}{
			"status": "healthy",
			"note":   "Health tracking not configured",
		})
		return
	}

	overallHealth := s.healthTracker.GetOverallHealth()
	components := s.healthTracker.GetAllComponents()

	response := map[string]interface{}{
		"status":     overallHealth.String(),
		"timestamp":  time.Now(),
		"components": len(components),
	}

	statusCode := http.StatusOK
	switch overallHealth {
	case health.StateUnavailable:
		statusCode = http.StatusServiceUnavailable
	case health.StateDegraded:
		statusCode = http.StatusPartialContent
	}

	s.respondJSON(w, statusCode, response)
}

func (s *Server) handleHealthComponents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if s.healthTracker == nil {
		s.respondError(w, http.StatusServiceUnavailable, "Health tracking not configured")
		return
	}

	s.respondJSON(w, http.StatusOK, s.healthTracker.GetAllComponents())
}

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"alive":     true,
		"timestamp": time.Now(),
	})
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if s.healthTracker == nil {
		s.respondJSON(w, http.StatusOK, map[string]interface{}{
			"ready":     true,
			"timestamp": time.Now(),
			"note":      "Health tracking not configured",
		})
		return
	}

	overallHealth := s.healthTracker.GetOverallHealth()
	ready := overallHealth != health.StateUnavailable

	statusCode := http.StatusOK
	if !ready {
		statusCode = http.StatusServiceUnavailable
	}

	s.respondJSON(w, statusCode, map[string]interface{}{
		"ready":     ready,
		"status":    overallHealth.String(),
		"timestamp": time.Now(),
	})
}

// Info endpoint

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	version := s.config.Version
	if version == "" {
		version = "dev"
	}

	endpoints := []string{
		"/api/v1/simulations",
		"/api/v1/simulation",
		"/api/v1/variables",
		"/api/v1/frame",
		"/api/v1/stats",
		"/health",
		"/health/components",
		"/health/live",
		"/health/ready",
		"/info",
	}
	if s.metrics != nil {
		endpoints = append(endpoints, "/metrics")
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"service":   "vvmviz",
		"version":   version,
		"timestamp": time.Now(),
		"endpoints": endpoints,
	})
}

// Middleware

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("%s %s completed in %v", r.Method, r.URL.Path, time.Since(start))
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Helper methods

// recordHealth feeds the outcome of a backend-touching operation into the
// health tracker. Client-side failures (4xx) say nothing about the backend
// and are not recorded.
func (s *Server) recordHealth(component string, err error) {
	if s.healthTracker == nil {
		return
	}
	if err == nil {
		s.healthTracker.RecordSuccess(component)
		return
	}
	if errors.HTTPStatusFor(err) >= http.StatusInternalServerError {
		s.healthTracker.RecordError(component, err)
	}
}

// respondVVMError maps structured errors onto HTTP statuses; plain errors
// become 500s.
func (s *Server) respondVVMError(w http.ResponseWriter, err error) {
	statusCode := errors.HTTPStatusFor(err)

	var vvmErr *errors.VVMError
	if errors.As(err, &vvmErr) {
		message := vvmErr.Message
		if !vvmErr.UserFacing {
			message = vvmErr.UserFacingMessage()
		}
		s.respondJSON(w, statusCode, map[string]interface{}{
			"error":     message,
			"code":      vvmErr.Code,
			"timestamp": time.Now(),
		})
		return
	}

	s.respondError(w, statusCode, err.Error())
}

func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil && s.logger != nil {
		s.logger.Error("Error encoding JSON response: %v", err)
	}
}

func (s *Server) respondError(w http.ResponseWriter, statusCode int, message string) {
	s.respondJSON(w, statusCode, map[string]interface{}{
		"error":     message,
		"timestamp": time.Now(),
	})
}
