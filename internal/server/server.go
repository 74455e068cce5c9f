package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"riskgate/internal/engine"
	"riskgate/internal/history"
	"riskgate/internal/logger"
	"riskgate/internal/monitoring"
)

// Server exposes the engine's status, trade history and controls over HTTP.
type Server struct {
	addr   string
	router *gin.Engine
	http   *http.Server
}

// Config describes the HTTP server dependencies.
type Config struct {
	Addr   string
	Engine *engine.Engine
	Store  *history.Store
	Health *monitoring.Health
}

func New(cfg Config) (*Server, error) {
	if cfg.Engine == nil {
		return nil, errors.New("http server requires an engine")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8086"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		if cfg.Health == nil {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
			return
		}
		components, ok := cfg.Health.Snapshot()
		status := http.StatusOK
		verdict := "ok"
		if !ok {
			status = http.StatusServiceUnavailable
			verdict = "degraded"
		}
		c.JSON(status, gin.H{"status": verdict, "components": components})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r := &apiRouter{engine: cfg.Engine, store: cfg.Store}
	r.Register(router.Group("/api"))

	return &Server{addr: cfg.Addr, router: router}, nil
}

// Start serves until the listener fails. Blocks.
func (s *Server) Start() error {
	s.http = &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	logger.Infof("http server listening on %s", s.addr)
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debugf("http %s %s -> %d (%s)",
			c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start).Truncate(time.Millisecond))
	}
}
