// Package api exposes the HTTP surface: the websocket upgrade endpoint and
// health reporting.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/maheshalyana/letterflow/internal/api/websocket"
	"github.com/maheshalyana/letterflow/pkg/common/config"
	"github.com/maheshalyana/letterflow/pkg/observability"
)

// Pinger reports storage reachability for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server is the HTTP front of the application.
type Server struct {
	router *gin.Engine
	srv    *http.Server

	ws     *websocket.Server
	db     Pinger
	config config.APIConfig
	logger observability.Logger
}

// NewServer builds the router. The websocket server handles /ws; everything
// else is plumbing.
func NewServer(ws *websocket.Server, db Pinger, cfg config.APIConfig, logger observability.Logger) *Server {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		router: router,
		ws:     ws,
		db:     db,
		config: cfg,
		logger: logger,
	}

	router.Use(s.requestLogger())
	if cfg.EnableCORS {
		router.Use(corsMiddleware())
	}

	router.GET("/healthz", s.handleHealth)
	router.GET("/ws", gin.WrapF(ws.HandleWebSocket))

	s.srv = &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

// Router exposes the gin engine for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// ListenAndServe blocks until the server stops.
func (s *Server) ListenAndServe() error {
	s.logger.Info("HTTP server listening", map[string]interface{}{
		"address": s.config.ListenAddress,
	})
	return s.srv.ListenAndServe()
}

// Shutdown stops accepting new requests and closes open websockets.
func (s *Server) Shutdown(ctx context.Context) error {
	s.ws.Shutdown()
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	status := "healthy"
	code := http.StatusOK

	dbStatus := "ok"
	if s.db != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := s.db.Ping(ctx); err != nil {
			dbStatus = err.Error()
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
	}

	c.JSON(code, gin.H{
		"status":      status,
		"database":    dbStatus,
		"connections": s.ws.ConnectionCount(),
	})
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Websocket upgrades log their own lifecycle.
		if c.Request.URL.Path == "/ws" {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		s.logger.Debug("HTTP request", map[string]interface{}{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
		})
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
