// Package http provides the HTTP server adapter for the application layer.
// This is a thin adapter layer that translates HTTP requests to application
// service calls; all business rules live below it.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/taskflowhq/taskflow/internal/application/port"
	"github.com/taskflowhq/taskflow/internal/application/service"
	"github.com/taskflowhq/taskflow/internal/domain/identity"
)

// Logger interface for logging operations
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:         "0.0.0.0",
		Port:         8080,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

// ActorAdmin is the administrative seam for the actor directory
type ActorAdmin interface {
	Upsert(ctx context.Context, a *identity.Actor) error
}

// Sweeper triggers an on-demand reminder sweep
type Sweeper interface {
	SweepOnce(ctx context.Context) (int, error)
}

// Server is the HTTP server adapter
type Server struct {
	config     ServerConfig
	httpServer *http.Server
	router     *gin.Engine
	logger     Logger
}

// NewServer creates a new HTTP server with the given services
func NewServer(
	config ServerConfig,
	taskService service.TaskService,
	approvalService service.ApprovalService,
	tokenService service.TokenService,
	notificationService service.NotificationService,
	historyRepo port.HistoryRepository,
	actorAdmin ActorAdmin,
	sweeper Sweeper,
	logger Logger,
) *Server {
	gin.SetMode(gin.ReleaseMode)

	server := &Server{
		config: config,
		router: gin.New(),
		logger: logger,
	}

	server.setupMiddleware()
	server.setupRoutes(NewHandlers(
		taskService, approvalService, tokenService,
		notificationService, historyRepo, actorAdmin, sweeper, logger,
	))

	return server
}

// setupMiddleware configures middleware for the router
func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery())
	s.router.Use(s.loggingMiddleware())
}

// loggingMiddleware creates a logging middleware
func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		s.logger.Info("HTTP request",
			"method", method,
			"path", path,
			"status", status,
			"latency", latency.String(),
			"client_ip", c.ClientIP(),
		)
	}
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes(handlers *Handlers) {
	// Health check
	s.router.GET("/health", handlers.HealthCheck)

	// Human-facing approval link endpoint; the token in the path is the
	// only credential.
	s.router.GET("/approval/:token", handlers.RedeemApprovalLink)

	// API routes
	api := s.router.Group("/api/v1")
	{
		api.POST("/tasks", handlers.CreateTask)
		api.GET("/tasks", handlers.ListTasks)
		api.GET("/tasks/:id", handlers.GetTask)
		api.GET("/tasks/:id/history", handlers.GetTaskHistory)
		api.POST("/tasks/:id/assign", handlers.AssignTask)
		api.POST("/tasks/:id/stage", handlers.ReportStage)
		api.POST("/tasks/:id/decision", handlers.Decide)
		api.POST("/tasks/:id/remarks", handlers.AddRemark)
		api.POST("/tasks/:id/approval-links", handlers.IssueApprovalLinks)

		api.GET("/notifications", handlers.ListNotifications)
		api.PUT("/actors/:id", handlers.UpsertActor)

		api.POST("/admin/sweep", handlers.TriggerSweep)
	}
}

// Start starts the HTTP server
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("Starting HTTP server", "address", addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("HTTP server shutdown requested")
		return s.Stop()
	case err := <-errCh:
		s.logger.Error("HTTP server error", "error", err)
		return err
	}
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}

	s.logger.Info("Stopping HTTP server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
		return err
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

// Router returns the underlying gin router (for testing)
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Address returns the server address
func (s *Server) Address() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}
