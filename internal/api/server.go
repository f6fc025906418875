// Package api provides the Gemini-dialect HTTP surface: generation
// endpoints, model listing, and health.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/gembridge/gembridge/internal/audit"
	"github.com/gembridge/gembridge/internal/config"
	"github.com/gembridge/gembridge/internal/logging"
	"github.com/gembridge/gembridge/internal/service"
)

// Server hosts the HTTP API.
type Server struct {
	engine       *gin.Engine
	srv          *http.Server
	svc          *service.Service
	auth         *authState
	v1beta       *gin.RouterGroup
	auditBackend audit.Backend
}

// NewServer builds the server and registers all routes.
func NewServer(cfg *config.Config, svc *service.Service) *Server {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		engine: gin.New(),
		svc:    svc,
		auth:   newAuthState(cfg.APIKeys),
	}

	s.engine.Use(logging.GinLogrusLogger())
	s.engine.Use(logging.GinLogrusRecovery())
	s.engine.Use(corsMiddleware())

	s.engine.GET("/health", s.handleHealth)

	s.v1beta = s.engine.Group("/v1beta", authMiddleware(s.auth))
	s.v1beta.GET("/models", s.handleListModels)
	s.v1beta.POST("/models/*action", s.handleGenerate)

	s.srv = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Handler exposes the routed engine, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	logging.Infof("API server listening on %s", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// UpdateAPIKeys swaps the accepted client keys. Used by config hot
// reload.
func (s *Server) UpdateAPIKeys(keys []string) {
	s.auth.Update(keys)
}

// EnableAuditQuery exposes recorded audit trails over HTTP. Only called
// when a persistent audit backend is configured; without it the route
// stays unregistered and 404s.
func (s *Server) EnableAuditQuery(backend audit.Backend) {
	s.auditBackend = backend
	s.v1beta.GET("/audit/:correlationID", s.handleAuditQuery)
}
