// Package server provides the HTTP server and routing for the news
// intelligence engine. Every tool call is POST /tools/{name} behind the
// auth middleware.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/meridian/newsgraph/internal/auth"
	"github.com/meridian/newsgraph/internal/clients"
	"github.com/meridian/newsgraph/internal/config"
	"github.com/meridian/newsgraph/internal/di"
	"github.com/meridian/newsgraph/internal/domain"
	"github.com/meridian/newsgraph/internal/ingest"
	"github.com/meridian/newsgraph/internal/query"
)

// Config holds server configuration
type Config struct {
	Port      int
	DevMode   bool
	Log       zerolog.Logger
	Config    *config.Config
	Container *di.Container
}

// Server is the HTTP front of the service
type Server struct {
	router         *chi.Mux
	server         *http.Server
	log            zerolog.Logger
	cfg            *config.Config
	container      *di.Container
	systemHandlers *SystemHandlers
	streamHandler  *EventsStreamHandler
	tools          map[string]toolHandler
}

// toolHandler runs one named tool for an authenticated caller
type toolHandler func(ctx context.Context, ac *auth.AccessContext, body []byte) (interface{}, string, error)

// New creates a new HTTP server
func New(cfg Config) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		log:       cfg.Log.With().Str("component", "server").Logger(),
		cfg:       cfg.Config,
		container: cfg.Container,
	}

	s.systemHandlers = NewSystemHandlers(cfg.Log, cfg.Config.DataDir, cfg.Container)
	s.streamHandler = NewEventsStreamHandler(cfg.Container.EventBus, cfg.Log)

	s.registerTools()
	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)
	s.router.Use(requestLogger(s.log))

	if devMode {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   []string{"*"},
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}

	s.router.Use(s.container.AuthService.Middleware)
}

func (s *Server) setupRoutes() {
	s.router.Post("/tools/{name}", s.handleTool)

	s.router.Get("/api/health", s.handleHealth)
	s.router.Get("/api/system/status", s.systemHandlers.HandleSystemStatus)
	s.router.Post("/api/system/backup", s.handleBackupTrigger)
	s.router.Post("/api/system/reconcile", s.handleReconcileTrigger)
	s.router.Get("/api/events/stream", s.streamHandler.ServeSSE)
	s.router.Get("/api/events/ws", s.streamHandler.ServeWebSocket)
}

// handleTool dispatches POST /tools/{name} through the registry
func (s *Server) handleTool(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	handler, ok := s.tools[name]
	if !ok {
		s.writeError(w, domain.NewErrorf(domain.ErrNotFound, "unknown tool %q", name))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeError(w, domain.WrapError(domain.ErrSchemaViolation, "request body unreadable or too large", err))
		return
	}

	ac := auth.FromContext(r.Context())
	// The envelope also accepts auth_tokens in the body for callers that
	// cannot set headers
	if ac.Anonymous {
		var alt struct {
			AuthTokens []string `json:"auth_tokens"`
		}
		if json.Unmarshal(body, &alt) == nil && len(alt.AuthTokens) > 0 {
			resolved, err := s.container.AuthService.Resolve(r.Context(), alt.AuthTokens[0])
			if err != nil {
				s.writeError(w, err)
				return
			}
			ac = resolved
		}
	}

	data, message, err := handler(r.Context(), ac, body)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeSuccess(w, data, message)
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"service": "newsgraph",
		"version": "1.0.0",
	})
}

func (s *Server) handleBackupTrigger(w http.ResponseWriter, r *http.Request) {
	ac := auth.FromContext(r.Context())
	if err := ac.RequireAdmin(); err != nil {
		s.writeError(w, err)
		return
	}
	if s.container.BackupService == nil {
		s.writeError(w, domain.NewError(domain.ErrInvalidInput, "backup is not configured"))
		return
	}
	if err := s.container.BackupService.CreateAndUploadBackup(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeSuccess(w, nil, "backup uploaded")
}

func (s *Server) handleReconcileTrigger(w http.ResponseWriter, r *http.Request) {
	ac := auth.FromContext(r.Context())
	if err := ac.RequireAdmin(); err != nil {
		s.writeError(w, err)
		return
	}
	report, err := s.container.Reconciler.Run(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeSuccess(w, report, "reconciliation complete")
}

// requestLogger logs one line per request
func requestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Msg("Request")
		})
	}
}

// Start begins serving; blocks until shutdown
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("HTTP server listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Router exposes the router for tests
func (s *Server) Router() http.Handler {
	return s.router
}

// services shorthand accessors

func (s *Server) pipeline() *ingest.Pipeline      { return s.container.Pipeline }
func (s *Server) engine() *query.Engine           { return s.container.QueryEngine }
func (s *Server) clientService() *clients.Service { return s.container.ClientService }
