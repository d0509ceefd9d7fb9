// Package api exposes a read-only HTTP status surface over the same
// session and claim state the cobra commands mutate, for dashboards and
// external tooling that would rather poll an endpoint than shell out to
// the CLI (spec.md §6: "optional, started only when --serve is passed").
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/frankbria/parallel-cc-sub000/internal/model"
)

// Store is the narrow read-only subset of *store.DB the status API needs.
type Store interface {
	ListSessions(repoPath string) ([]*model.Session, error)
	GetSession(id string) (*model.Session, error)
	ListClaimsBySession(sessionID string) ([]*model.FileClaim, error)
	ActiveClaimsForFile(repoPath, filePath, excludeSession string) ([]*model.FileClaim, error)
}

// Server wraps a gin.Engine serving the status API over a single
// repository's session and claim state.
type Server struct {
	router   *gin.Engine
	store    Store
	repoPath string
	addr     string
	logger   *slog.Logger
}

// Config configures a Server.
type Config struct {
	Addr     string // e.g. ":7777"
	RepoPath string
	Logger   *slog.Logger
}

// NewServer builds a Server with routes registered but not yet listening.
func NewServer(store Store, cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("coordinator-status-api"))

	s := &Server{
		router:   router,
		store:    store,
		repoPath: cfg.RepoPath,
		addr:     cfg.Addr,
		logger:   logger,
	}
	s.registerRoutes()
	return s
}

// Router exposes the underlying engine for tests.
func (s *Server) Router() *gin.Engine { return s.router }

func (s *Server) registerRoutes() {
	s.router.GET("/healthz", s.handleHealth)
	s.router.GET("/sessions", s.handleListSessions)
	s.router.GET("/sessions/:id", s.handleGetSession)
	s.router.GET("/sessions/:id/claims", s.handleSessionClaims)
	s.router.GET("/claims", s.handleClaimsForFile)
}

// Run starts the HTTP server and blocks until ctx is cancelled, then
// shuts down gracefully with a 5s drain window.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.addr,
		Handler: s.router,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api: listening", "addr", s.addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("api: listen: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.logger.Info("api: shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}
