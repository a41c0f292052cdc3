package web

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vzahanych/view-guard-meta/edge/counter/internal/config"
	"github.com/vzahanych/view-guard-meta/edge/counter/internal/coordinator"
	"github.com/vzahanych/view-guard-meta/edge/counter/internal/detection"
	"github.com/vzahanych/view-guard-meta/edge/counter/internal/logger"
	"github.com/vzahanych/view-guard-meta/edge/counter/internal/service"
)

// Counter is the coordinator surface served over HTTP
type Counter interface {
	Count(ctx context.Context, sourceID string) (*detection.Result, error)
	Current() *detection.Result
	CurrentCount() int
	CurrentImage() ([]byte, bool)
	LastDetectionTime() (time.Time, bool)
	State() coordinator.State
	Stats() coordinator.Stats
	ModelConfig() detection.ModelConfig
}

// SourceLister lists the configured image source ids
type SourceLister interface {
	IDs() []string
}

// Server represents the web server service
type Server struct {
	*service.ServiceBase
	config     *config.WebConfig
	logger     *logger.Logger
	counter    Counter
	sources    SourceLister
	httpServer *http.Server
	router     *gin.Engine
	mu         sync.RWMutex
	addr       string
	version    string
	startTime  time.Time
}

// NewServer creates a new web server service. sources may be nil.
func NewServer(cfg *config.WebConfig, counter Counter, sources SourceLister, log *logger.Logger) *Server {
	// Set Gin mode to release mode for production
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(ginLogger(log))
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	s := &Server{
		ServiceBase: service.NewServiceBase("web-server", log),
		config:      cfg,
		logger:      log,
		counter:     counter,
		sources:     sources,
		router:      router,
		version:     "dev",
		startTime:   time.Now(),
	}
	s.setupRoutes()
	return s
}

// SetVersion sets the application version
func (s *Server) SetVersion(version string) {
	s.version = version
}

// Handler returns the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the web server
func (s *Server) Start(ctx context.Context) error {
	if !s.config.Enabled {
		s.LogInfo("Web server is disabled")
		return nil
	}

	s.GetStatus().SetStatus(service.StatusStarting)

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		s.GetStatus().SetError(err)
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	// Create HTTP server
	srv := &http.Server{
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // a count can outlast the fetch and inference timeouts combined
		IdleTimeout:  120 * time.Second,
	}

	s.mu.Lock()
	s.httpServer = srv
	s.addr = listener.Addr().String()
	s.mu.Unlock()

	// Start server in goroutine
	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.LogError("Web server error", err, "address", addr)
			s.GetStatus().SetError(err)
		}
	}()

	s.GetStatus().SetStatus(service.StatusRunning)
	s.LogInfo("Web server started", "address", listener.Addr().String())
	return nil
}

// Addr returns the listening address once started
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addr
}

// Stop stops the web server
func (s *Server) Stop(ctx context.Context) error {
	s.mu.RLock()
	srv := s.httpServer
	s.mu.RUnlock()
	if srv == nil {
		return nil
	}

	s.LogInfo("Stopping web server")
	s.GetStatus().SetStatus(service.StatusStopping)
	err := srv.Shutdown(ctx)
	s.GetStatus().SetStatus(service.StatusStopped)
	return err
}

// Name returns the service name
func (s *Server) Name() string {
	return "web-server"
}

// setupRoutes sets up all API routes
func (s *Server) setupRoutes() {
	// API routes
	api := s.router.Group("/api")
	{
		// System status
		api.GET("/status", s.handleStatus)

		// Count invocation and the latest result
		api.POST("/count", s.handleCount)
		api.GET("/count", s.handleGetCount)
		api.GET("/image", s.handleGetImage)
		api.GET("/last_detection", s.handleGetLastDetection)
		api.GET("/result", s.handleGetResult)
	}

	// Everything else is a JSON 404
	s.router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	})
}

// ginLogger creates a Gin middleware for logging
func ginLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		// Process request
		c.Next()

		// Log request
		latency := time.Since(start)
		status := c.Writer.Status()

		if raw != "" {
			path = path + "?" + raw
		}

		log.Debug("HTTP request",
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"latency", latency,
			"client_ip", c.ClientIP(),
		)
	}
}

// corsMiddleware creates a CORS middleware for local network access
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
