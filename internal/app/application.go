// Package app wires the sandbox support backend: storage, thread rules, alert fan-out,
// the STOMP endpoint and the REST API behind one HTTP server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"supportdesk/internal/api"
	"supportdesk/internal/config"
	"supportdesk/internal/database"
	"supportdesk/internal/hub"
	"supportdesk/internal/threads"
	"supportdesk/internal/websocket"
	dbconfig "supportdesk/pkg/database"
	"supportdesk/pkg/logs"
)

var (
	ErrAlreadyStarted = errors.New("application already started")
	ErrNotStarted     = errors.New("application not started")
)

// Application coordinates all system components
// Clean dependency injection pattern with proper initialization order
type Application struct {
	config     *config.Config
	logger     *slog.Logger
	dbManager  *database.Manager
	registry   *websocket.Registry
	alertHub   *hub.Hub
	threads    *threads.Service
	apiServer  *api.Server
	httpServer *http.Server

	uploadDir     string
	ownsUploadDir bool

	mu       sync.Mutex
	listener net.Listener
	cancel   context.CancelFunc
	group    *errgroup.Group
}

// NewApplication creates a new application instance with all components initialized
// Component initialization follows strict dependency order:
// Database → Registry → Hub → Threads → WebSocket → API → HTTP
func NewApplication(cfg *config.Config, logger *slog.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	logger = logs.OrDefault(logger)

	// STEP 1: Initialize database manager (foundation layer)
	dbConfig := dbconfig.DefaultConfig()
	dbConfig.DatabasePath = cfg.Sandbox.DatabasePath
	dbConfig.WriteTimeout = cfg.Sandbox.DatabaseTimeout
	dbManager, err := database.NewManager(dbConfig, logger.With("component", "database"))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database manager: %w", err)
	}

	uploadDir, owned := cfg.Sandbox.UploadDir, false
	if uploadDir == "" {
		if uploadDir, err = os.MkdirTemp("", "supportdesk-uploads-"); err != nil {
			dbManager.Close()
			return nil, fmt.Errorf("failed to create upload directory: %w", err)
		}
		owned = true
	}

	// STEP 2: Initialize WebSocket registry for subscription tracking
	registry := websocket.NewRegistry()

	// STEP 3: Initialize alert hub on the manager destination
	alertHub := hub.NewHub(registry, cfg.Realtime.Destination, logger.With("component", "hub"))

	// STEP 4: Thread rules, with transfer targets taken from the seeded managers
	users := api.NewUserDirectory(cfg.Sandbox.Users)
	threadService := threads.NewService(dbManager, alertHub, users.Actors(),
		threads.WithLogger(logger.With("component", "threads")))

	// STEP 5: STOMP endpoint
	wsHandler := websocket.NewHandler(registry, users, websocket.HandlerConfig{
		Destination:      cfg.Realtime.Destination,
		HandshakeTimeout: cfg.Realtime.HandshakeTimeout,
		WriteTimeout:     cfg.Realtime.WriteTimeout,
		Logger:           logger.With("component", "websocket"),
	})

	// STEP 6: REST API
	apiServer, err := api.NewServer(threadService, users, dbManager, registry, api.ServerConfig{
		UploadDir:         uploadDir,
		MaxUploadBytes:    cfg.Sandbox.MaxUploadBytes,
		MessagesPerMinute: cfg.Sandbox.MessagesPerMinute,
		Logger:            logger.With("component", "api"),
	})
	if err != nil {
		dbManager.Close()
		if owned {
			os.RemoveAll(uploadDir)
		}
		return nil, err
	}

	// STEP 7: Setup HTTP server with both API and WebSocket endpoints
	mux := http.NewServeMux()
	mux.Handle(cfg.Realtime.Path, wsHandler)
	mux.Handle("/", apiServer)

	// TECHNICAL DISCOVERY: WriteTimeout does not apply to hijacked WebSocket connections,
	// so it only bounds REST responses
	httpServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Sandbox.Host, fmt.Sprint(cfg.Sandbox.Port)),
		Handler:      mux,
		ReadTimeout:  cfg.Sandbox.ReadTimeout,
		WriteTimeout: cfg.Sandbox.WriteTimeout,
	}

	return &Application{
		config:        cfg,
		logger:        logger,
		dbManager:     dbManager,
		registry:      registry,
		alertHub:      alertHub,
		threads:       threadService,
		apiServer:     apiServer,
		httpServer:    httpServer,
		uploadDir:     uploadDir,
		ownsUploadDir: owned,
	}, nil
}

// Start listens on the configured address and serves in the background.
func (app *Application) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}
	return app.Serve(ctx, ln)
}

// Serve starts the hub and serves HTTP on ln in the background
// Startup coordination ensures all components ready before serving
// Hub starts first to handle alerts, then HTTP server accepts connections
func (app *Application) Serve(ctx context.Context, ln net.Listener) error {
	app.mu.Lock()
	defer app.mu.Unlock()
	if app.listener != nil {
		ln.Close()
		return ErrAlreadyStarted
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := app.alertHub.Start(runCtx); err != nil {
		cancel()
		ln.Close()
		return fmt.Errorf("failed to start alert hub: %w", err)
	}

	group, gctx := errgroup.WithContext(runCtx)
	group.Go(func() error {
		if err := app.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		app.apiServer.Limiter().Run(gctx)
		return nil
	})

	app.listener = ln
	app.cancel = cancel
	app.group = group
	app.logger.Info("supportdesk sandbox started",
		"addr", ln.Addr().String(), "realtime_path", app.config.Realtime.Path, "upload_dir", app.uploadDir)
	return nil
}

// Stop gracefully shuts down the application
// Reverse dependency order: HTTP → WebSockets → Hub → Database
func (app *Application) Stop(ctx context.Context) error {
	app.mu.Lock()
	defer app.mu.Unlock()
	if app.listener == nil {
		return ErrNotStarted
	}

	// STEP 1: Stop accepting new connections
	if err := app.httpServer.Shutdown(ctx); err != nil {
		app.logger.Warn("HTTP server shutdown error", "error", err)
	}

	// STEP 2: Shutdown does not track hijacked connections
	app.registry.CloseAll()

	// STEP 3: Stop alert delivery, then the remaining background loops
	if err := app.alertHub.Stop(); err != nil && !errors.Is(err, hub.ErrHubNotRunning) {
		app.logger.Warn("alert hub shutdown error", "error", err)
	}
	app.cancel()
	err := app.group.Wait()

	// STEP 4: Close database connections
	if dbErr := app.dbManager.Close(); dbErr != nil {
		app.logger.Warn("database shutdown error", "error", dbErr)
	}
	if app.ownsUploadDir {
		os.RemoveAll(app.uploadDir)
	}

	app.listener = nil
	app.logger.Info("supportdesk sandbox stopped")
	return err
}

// Run serves until ctx is cancelled, then shuts down within shutdownTimeout.
func (app *Application) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	if err := app.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	return app.Stop(stopCtx)
}

// Addr returns the listening address once started, else the configured one.
func (app *Application) Addr() string {
	app.mu.Lock()
	defer app.mu.Unlock()
	if app.listener != nil {
		return app.listener.Addr().String()
	}
	return app.httpServer.Addr
}

// BaseURL is the REST base clients should use.
func (app *Application) BaseURL() string {
	return "http://" + app.Addr()
}

// Stats reports realtime connection counts.
func (app *Application) Stats() map[string]int {
	return app.registry.GetStats()
}

// UploadDir is where attachments are stored.
func (app *Application) UploadDir() string {
	return app.uploadDir
}
