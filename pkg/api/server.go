// Package api provides HTTP endpoints for health, status and direct device sessions
package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/ledgate/ledgate/pkg/errors"
	"github.com/ledgate/ledgate/pkg/health"
	"github.com/ledgate/ledgate/pkg/status"
	"github.com/ledgate/ledgate/pkg/types"
	"github.com/ledgate/ledgate/pkg/utils"
)

// Version is reported by the info endpoint.
const Version = "0.1.0"

// maxWriteBody bounds the request body of a session write.
const maxWriteBody = 4096

// Device is the device served by the session routes.
type Device interface {
	types.DeviceFile
	// WriteCommand is Write that also names the command the device decoded.
	WriteCommand(handle types.SessionHandle, data []byte) (int, string, error)
	Status() types.DeviceStatus
}

// Server provides HTTP API endpoints for monitoring and device access
type Server struct {
	httpServer    *http.Server
	device        Device
	sessions      *status.Tracker
	healthTracker *health.Tracker
	config        ServerConfig
	logger        *utils.Logger

	infoMu      sync.RWMutex
	infoSources map[string]func() interface{}
}

// ServerConfig configures the API server
type ServerConfig struct {
	// Address to bind the server to (e.g., "127.0.0.1:8108")
	Address string `yaml:"address" json:"address"`

	// ReadTimeout is the maximum duration for reading the entire request
	ReadTimeout time.Duration `yaml:"read_timeout" json:"read_timeout"`

	// WriteTimeout is the maximum duration for writing the response
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`

	// IdleTimeout is the maximum duration to wait for the next request
	IdleTimeout time.Duration `yaml:"idle_timeout" json:"idle_timeout"`

	// EnableCORS enables Cross-Origin Resource Sharing
	EnableCORS bool `yaml:"enable_cors" json:"enable_cors"`

	// DeviceRoutes serves the /device/sessions routes
	DeviceRoutes bool `yaml:"device_routes" json:"device_routes"`

	// MetricsHandler is served at /metrics when set
	MetricsHandler http.Handler `yaml:"-" json:"-"`
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:      "127.0.0.1:8108",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
		EnableCORS:   false,
		DeviceRoutes: true,
	}
}

// NewServer creates a new API server. device, sessions and healthTracker may be nil.
func NewServer(config ServerConfig, device Device, sessions *status.Tracker, healthTracker *health.Tracker, logger *utils.Logger) *Server {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	if sessions == nil {
		sessions = status.NewTracker(status.TrackerConfig{HealthTracker: healthTracker})
	}

	s := &Server{
		device:        device,
		sessions:      sessions,
		healthTracker: healthTracker,
		config:        config,
		logger:        logger.WithComponent("api"),
		infoSources:   make(map[string]func() interface{}),
	}

	handler := s.loggingMiddleware(s.routes())
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

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	// Health endpoints
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/health/components", s.handleHealthComponents)
	mux.HandleFunc("GET /health/components/{name}", s.handleHealthComponent)
	mux.HandleFunc("/health/live", s.handleLiveness)
	mux.HandleFunc("/health/ready", s.handleReadiness)

	// Status endpoints
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/status/sessions", s.handleSessionHistory)

	if s.config.MetricsHandler != nil {
		mux.Handle("/metrics", s.config.MetricsHandler)
	}

	mux.HandleFunc("/info", s.handleInfo)

	if s.config.DeviceRoutes {
		mux.HandleFunc("POST /device/sessions", s.handleOpen)
		mux.HandleFunc("GET /device/sessions/{id}", s.handleRead)
		mux.HandleFunc("POST /device/sessions/{id}/write", s.handleWrite)
		mux.HandleFunc("DELETE /device/sessions/{id}", s.handleClose)
	}

	return mux
}

// Handler returns the server's root handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// AddInfoSource adds a named section to the info endpoint.
func (s *Server) AddInfoSource(name string, fn func() interface{}) {
	s.infoMu.Lock()
	defer s.infoMu.Unlock()
	s.infoSources[name] = fn
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

// Shutdown stops accepting requests and closes every session opened through the API
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down API server...")
	err := s.httpServer.Shutdown(ctx)
	s.CloseSessions()
	return err
}

// CloseSessions closes every session still open through the API.
func (s *Server) CloseSessions() {
	if s.device == nil {
		return
	}
	for _, session := range s.sessions.Active() {
		if err := s.device.Close(session.Handle); err != nil {
			s.logger.Warn("Failed to close session %s: %v", session.ID, err)
		}
		_ = s.sessions.Complete(session.ID)
	}
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

	report := s.healthTracker.Report()

	response := map[string]interface{}{
		"status":     report.Overall.String(),
		"timestamp":  report.Timestamp,
		"components": len(report.Components),
	}

	statusCode := http.StatusOK
	switch report.Overall {
	case health.StateUnavailable:
		statusCode = http.StatusServiceUnavailable
	case health.StateDegraded, health.StateReadOnly:
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

	s.respondJSON(w, http.StatusOK, s.healthTracker.Report())
}

func (s *Server) handleHealthComponent(w http.ResponseWriter, r *http.Request) {
	if s.healthTracker == nil {
		s.respondError(w, http.StatusServiceUnavailable, "Health tracking not configured")
		return
	}

	component, err := s.healthTracker.GetComponentHealth(r.PathValue("name"))
	if err != nil {
		s.respondError(w, http.StatusNotFound, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, component)
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

// handleReadiness reports ready once the device is initialized and no
// component is unavailable.
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	response := map[string]interface{}{
		"timestamp": time.Now(),
	}
	ready := true

	if s.device != nil {
		lifecycle := s.device.Status().Lifecycle
		response["lifecycle"] = lifecycle
		if lifecycle == types.LifecycleUninitialized.String() {
			ready = false
		}
	}

	if s.healthTracker == nil {
		response["note"] = "Health tracking not configured"
	} else {
		overall := s.healthTracker.GetOverallHealth()
		response["status"] = overall.String()
		response["can_drive_line"] = s.healthTracker.CanDriveLine(health.ComponentLine)
		response["can_read_status"] = s.healthTracker.CanReadStatus(health.ComponentTransfer)
		if overall == health.StateUnavailable {
			ready = false
		}
	}

	response["ready"] = ready
	statusCode := http.StatusOK
	if !ready {
		statusCode = http.StatusServiceUnavailable
	}
	s.respondJSON(w, statusCode, response)
}

// Status endpoint handlers

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if s.device == nil {
		s.respondError(w, http.StatusServiceUnavailable, "Device not configured")
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"device":   s.device.Status(),
		"sessions": s.sessions.Summary(),
	})
}

func (s *Server) handleSessionHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	limit := 10
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}

	active := s.sessions.Active()
	history := s.sessions.History(limit)
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"active":    active,
		"history":   history,
		"count":     len(history),
		"limit":     limit,
		"timestamp": time.Now(),
	})
}

// Info endpoint

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	endpoints := []string{
		"/health",
		"/health/components",
		"/health/live",
		"/health/ready",
		"/status",
		"/status/sessions",
		"/info",
	}
	if s.config.MetricsHandler != nil {
		endpoints = append(endpoints, "/metrics")
	}
	if s.config.DeviceRoutes {
		endpoints = append(endpoints,
			"POST /device/sessions",
			"GET /device/sessions/{id}",
			"POST /device/sessions/{id}/write",
			"DELETE /device/sessions/{id}",
		)
	}

	info := map[string]interface{}{
		"service":   "ledgate API",
		"version":   Version,
		"timestamp": time.Now(),
		"endpoints": endpoints,
	}

	s.infoMu.RLock()
	names := make([]string, 0, len(s.infoSources))
	for name := range s.infoSources {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		info[name] = s.infoSources[name]()
	}
	s.infoMu.RUnlock()

	s.respondJSON(w, http.StatusOK, info)
}

// Device session handlers

func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	if s.device == nil {
		s.respondError(w, http.StatusServiceUnavailable, "Device not configured")
		return
	}

	handle, err := s.device.Open()
	if err != nil {
		s.respondDeviceError(w, err)
		return
	}

	session := s.sessions.Track(handle, "api")
	s.respondJSON(w, http.StatusCreated, session)
}

func (s *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	handle, ok := s.lookup(w, id)
	if !ok {
		return
	}

	var offset int64
	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			s.respondError(w, http.StatusBadRequest, "offset must be a non-negative integer")
			return
		}
		offset = n
	}

	data, err := s.device.Read(handle, offset)
	if err != nil {
		s.respondDeviceError(w, err)
		return
	}
	_ = s.sessions.RecordRead(id, len(data))

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Next-Offset", strconv.FormatInt(offset+int64(len(data)), 10))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		s.logger.Debug("Failed to write read response: %v", err)
	}
}

func (s *Server) handleWrite(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	handle, ok := s.lookup(w, id)
	if !ok {
		return
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxWriteBody))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	n, command, err := s.device.WriteCommand(handle, data)
	if err != nil {
		s.respondDeviceError(w, err)
		return
	}
	_ = s.sessions.RecordWrite(id, n, command)

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"accepted": n,
	})
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	handle, ok := s.lookup(w, id)
	if !ok {
		return
	}

	if err := s.device.Close(handle); err != nil {
		_ = s.sessions.Fail(id, err)
		s.respondDeviceError(w, err)
		return
	}
	_ = s.sessions.Complete(id)

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"closed": true,
		"id":     id,
	})
}

func (s *Server) lookup(w http.ResponseWriter, id string) (types.SessionHandle, bool) {
	if s.device == nil {
		s.respondError(w, http.StatusServiceUnavailable, "Device not configured")
		return types.SessionHandle{}, false
	}
	handle, err := s.sessions.Handle(id)
	if err != nil {
		s.respondDeviceError(w, err)
		return types.SessionHandle{}, false
	}
	return handle, true
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
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Helper methods

func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Error encoding JSON response: %v", err)
	}
}

func (s *Server) respondError(w http.ResponseWriter, statusCode int, message string) {
	s.respondJSON(w, statusCode, map[string]interface{}{
		"error":     message,
		"timestamp": time.Now(),
	})
}

func (s *Server) respondDeviceError(w http.ResponseWriter, err error) {
	response := map[string]interface{}{
		"error":     err.Error(),
		"timestamp": time.Now(),
	}
	if code, ok := errors.GetCode(err); ok {
		response["code"] = code
	}
	s.respondJSON(w, errors.HTTPStatus(err), response)
}
