package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"supportdesk/internal/threads"
	"supportdesk/pkg/interfaces"
	"supportdesk/pkg/logs"
	"supportdesk/pkg/types"
)

// HealthChecker is the storage probe used by /health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// StatsSource reports realtime connection counts for /health.
type StatsSource interface {
	GetStats() map[string]int
}

// ServerConfig carries the HTTP limits of the sandbox.
type ServerConfig struct {
	UploadDir         string
	MaxUploadBytes    int64
	MessagesPerMinute int
	Logger            *slog.Logger
	TracerProvider    trace.TracerProvider
	MeterProvider     metric.MeterProvider
}

// ARCHITECTURAL DISCOVERY: HTTP API layer serves as pure interface between external clients and internal components
// Clean separation - no business logic, only HTTP handling and JSON serialization
type Server struct {
	threads   interfaces.ThreadService
	users     *UserDirectory
	health    HealthChecker
	stats     StatsSource
	limiter   *RateLimiter
	telemetry *telemetry
	logger    *slog.Logger
	router    *mux.Router
	started   time.Time

	uploadDir      string
	maxUploadBytes int64
}

// NewServer wires the support routes. health and stats may be nil.
func NewServer(svc interfaces.ThreadService, users *UserDirectory, health HealthChecker, stats StatsSource, cfg ServerConfig) (*Server, error) {
	tel, err := newTelemetry(cfg.TracerProvider, cfg.MeterProvider)
	if err != nil {
		return nil, fmt.Errorf("failed to create api instruments: %w", err)
	}
	s := &Server{
		threads:        svc,
		users:          users,
		health:         health,
		stats:          stats,
		limiter:        NewRateLimiter(cfg.MessagesPerMinute),
		telemetry:      tel,
		logger:         logs.OrDefault(cfg.Logger),
		router:         mux.NewRouter(),
		started:        time.Now(),
		uploadDir:      cfg.UploadDir,
		maxUploadBytes: cfg.MaxUploadBytes,
	}
	s.setupRoutes()
	return s, nil
}

// ARCHITECTURAL DISCOVERY: Route setup follows REST conventions with proper middleware
// Student and manager routes live under separate prefixes; role checks stay in the service
func (s *Server) setupRoutes() {
	s.router.Use(s.telemetryMiddleware)

	s.router.HandleFunc("/health", s.healthCheck).Methods(http.MethodGet)
	if s.uploadDir != "" {
		s.router.PathPrefix("/uploads/").Handler(
			http.StripPrefix("/uploads/", http.FileServer(http.Dir(s.uploadDir))))
	}

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(s.authMiddleware)

	student := api.PathPrefix("/support/threads").Subrouter()
	student.HandleFunc("/my", s.listMyThreads).Methods(http.MethodGet)
	student.HandleFunc("", s.createThread).Methods(http.MethodPost)
	student.HandleFunc("/{id}", s.getThread).Methods(http.MethodGet)
	student.HandleFunc("/{id}/messages", s.postMessage).Methods(http.MethodPost)
	student.HandleFunc("/{id}/rating", s.rateThread).Methods(http.MethodPost)

	manager := api.PathPrefix("/support/manager/threads").Subrouter()
	manager.HandleFunc("", s.listManagerThreads).Methods(http.MethodGet)
	manager.HandleFunc("/{id}/claim", s.claimThread).Methods(http.MethodPost)
	manager.HandleFunc("/{id}/messages", s.postMessage).Methods(http.MethodPost)
	manager.HandleFunc("/{id}/status", s.changeStatus).Methods(http.MethodPost)
	manager.HandleFunc("/{id}/transfer", s.transferThread).Methods(http.MethodPost)

	api.HandleFunc("/upload/image", s.uploadImage).Methods(http.MethodPost)

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.sendError(w, r, http.StatusNotFound, "route not found")
	})
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.sendError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})
}

// FUNCTIONAL DISCOVERY: Implement http.Handler interface for integration with standard HTTP server
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.corsMiddleware(s.router).ServeHTTP(w, r)
}

// Limiter exposes the message rate limiter so the application can run its cleanup loop.
func (s *Server) Limiter() *RateLimiter {
	return s.limiter
}

type HealthResponse struct {
	Status      string         `json:"status"`
	Timestamp   time.Time      `json:"timestamp"`
	Database    string         `json:"database"`
	Connections map[string]int `json:"connections"`
	System      map[string]any `json:"system"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// page and size default to 0 and DefaultPageSize inside the service
func pageParams(r *http.Request) (int, int, error) {
	q := r.URL.Query()
	page, err := intParam(q.Get("page"))
	if err != nil || page < 0 {
		return 0, 0, fmt.Errorf("%w: page must be a non-negative integer", types.ErrInvalidRequest)
	}
	size, err := intParam(q.Get("size"))
	if err != nil || size < 0 {
		return 0, 0, fmt.Errorf("%w: size must be a non-negative integer", types.ErrInvalidRequest)
	}
	return page, size, nil
}

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}

func threadID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		return 0, interfaces.ErrThreadNotFound
	}
	return id, nil
}

func decodeBody(r *http.Request, dst any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid JSON body", types.ErrInvalidRequest)
	}
	return nil
}

// FUNCTIONAL DISCOVERY: GET /api/support/threads/my - the caller's own threads
func (s *Server) listMyThreads(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFromContext(r.Context())
	page, size, err := pageParams(r)
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	out, err := s.threads.ListMine(r.Context(), actor, page, size)
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, out)
}

// FUNCTIONAL DISCOVERY: POST /api/support/threads - Create thread, 201 with the stored thread
func (s *Server) createThread(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFromContext(r.Context())
	var req types.CreateThreadRequest
	if err := decodeBody(r, &req); err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	if !s.limiter.Allow(actor.ID) {
		s.sendError(w, r, http.StatusTooManyRequests, "message rate limit exceeded")
		return
	}
	thread, err := s.threads.Create(r.Context(), actor, req)
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusCreated, thread)
}

func (s *Server) getThread(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFromContext(r.Context())
	id, err := threadID(r)
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	thread, err := s.threads.Get(r.Context(), actor, id)
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, thread)
}

// postMessage serves both the student and the manager message routes.
func (s *Server) postMessage(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFromContext(r.Context())
	id, err := threadID(r)
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	var req types.SendMessageRequest
	if err := decodeBody(r, &req); err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	if !s.limiter.Allow(actor.ID) {
		s.sendError(w, r, http.StatusTooManyRequests, "message rate limit exceeded")
		return
	}
	msg, err := s.threads.PostMessage(r.Context(), actor, id, req)
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusCreated, msg)
}

func (s *Server) rateThread(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFromContext(r.Context())
	id, err := threadID(r)
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	var req types.RatingRequest
	if err := decodeBody(r, &req); err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	rating, err := s.threads.Rate(r.Context(), actor, id, req)
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, rating)
}

// FUNCTIONAL DISCOVERY: GET /api/support/manager/threads - status, studentKeyword and mineOnly filters
func (s *Server) listManagerThreads(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFromContext(r.Context())
	page, size, err := pageParams(r)
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	q := r.URL.Query()
	mineOnly, _ := strconv.ParseBool(q.Get("mineOnly"))
	out, err := s.threads.ListForManager(r.Context(), actor, types.ThreadFilter{
		Status:         q.Get("status"),
		StudentKeyword: q.Get("studentKeyword"),
		MineOnly:       mineOnly,
		Page:           page,
		Size:           size,
	})
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, out)
}

func (s *Server) claimThread(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFromContext(r.Context())
	id, err := threadID(r)
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	thread, err := s.threads.Claim(r.Context(), actor, id)
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, thread)
}

func (s *Server) changeStatus(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFromContext(r.Context())
	id, err := threadID(r)
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	var req types.StatusRequest
	if err := decodeBody(r, &req); err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	thread, err := s.threads.ChangeStatus(r.Context(), actor, id, req.Status)
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, thread)
}

func (s *Server) transferThread(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFromContext(r.Context())
	id, err := threadID(r)
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	var req types.TransferRequest
	if err := decodeBody(r, &req); err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	thread, err := s.threads.Transfer(r.Context(), actor, id, req.NewManagerID)
	if err != nil {
		s.sendServiceError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, thread)
}

// FUNCTIONAL DISCOVERY: GET /health - System health check with component validation
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	dbStatus := "healthy"
	if s.health != nil {
		if err := s.health.HealthCheck(ctx); err != nil {
			status = "unhealthy"
			dbStatus = fmt.Sprintf("error: %v", err)
		}
	}

	connections := map[string]int{}
	if s.stats != nil {
		connections = s.stats.GetStats()
	}

	response := HealthResponse{
		Status:      status,
		Timestamp:   time.Now(),
		Database:    dbStatus,
		Connections: connections,
		System: map[string]any{
			"goroutines": runtime.NumGoroutine(),
			"uptime":     time.Since(s.started).Round(time.Second).String(),
		},
	}

	// FUNCTIONAL DISCOVERY: Return 503 if any component is unhealthy
	code := http.StatusOK
	if status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	s.sendJSON(w, code, response)
}

func (s *Server) sendJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Warn("failed to encode response", "error", err)
	}
}

// FUNCTIONAL DISCOVERY: Consistent error response format
func (s *Server) sendError(w http.ResponseWriter, r *http.Request, code int, message string) {
	if code >= http.StatusInternalServerError {
		s.logger.Error("support api error", "method", r.Method, "path", r.URL.Path,
			"status", code, "error", message, "request_id", r.Header.Get(HeaderRequestID))
	}
	s.sendJSON(w, code, ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

// sendServiceError maps service errors onto HTTP status codes.
func (s *Server) sendServiceError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	message := err.Error()
	if code == http.StatusInternalServerError {
		s.logger.Error("thread operation failed", "path", r.URL.Path, "error", err)
		message = "internal error"
	}
	s.sendError(w, r, code, message)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, interfaces.ErrThreadNotFound):
		return http.StatusNotFound
	case errors.Is(err, interfaces.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, interfaces.ErrForbidden),
		errors.Is(err, threads.ErrStudentOnly),
		errors.Is(err, threads.ErrManagerOnly):
		return http.StatusForbidden
	case errors.Is(err, types.ErrInvalidTransition),
		errors.Is(err, types.ErrThreadClosed):
		return http.StatusConflict
	case errors.Is(err, threads.ErrUnknownManager),
		errors.Is(err, types.ErrTopicRequired),
		errors.Is(err, types.ErrMessageRequired),
		errors.Is(err, types.ErrMessageTooLong),
		errors.Is(err, types.ErrTooManyAttachments),
		errors.Is(err, types.ErrInvalidAttachment),
		errors.Is(err, types.ErrInvalidRating),
		errors.Is(err, types.ErrInvalidStatus),
		errors.Is(err, types.ErrInvalidManagerID),
		errors.Is(err, types.ErrInvalidRequest):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// ARCHITECTURAL DISCOVERY: CORS middleware enables web client access
// Allows all origins in development - would be restricted in production
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
