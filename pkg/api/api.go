// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/telekom/escalation-sync/pkg/incident"
	"github.com/telekom/escalation-sync/pkg/metrics"
	"github.com/telekom/escalation-sync/pkg/ratelimit"
	"github.com/telekom/escalation-sync/pkg/system"
	"github.com/telekom/escalation-sync/pkg/tracker"
)

// Source is the read side of a tracker. *tracker.Tracker implements it.
type Source interface {
	States() []incident.State
	State(id int64) (incident.State, bool)
	Connected() bool
	Server() string
	Watched() []int64
	LiveOf(st incident.State, level int) int64
	PendingTransitions() []tracker.Pending
}

// Config configures the status server.
type Config struct {
	ListenAddress string
	Debug         bool
	// AllowedOrigins enables CORS for browser dashboards served elsewhere.
	AllowedOrigins []string
	RateLimit      ratelimit.Config
	// ShutdownTimeout bounds graceful shutdown. Default: 5s
	ShutdownTimeout time.Duration
}

// Server is the read-only status API.
type Server struct {
	gin     *gin.Engine
	config  Config
	src     Source
	limiter *ratelimit.ClientRateLimiter
	log     *zap.SugaredLogger
}

// NewServer builds the router. It does not listen; see ListenAndServe.
func NewServer(log *zap.Logger, src Source, cfg Config) *Server {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	if cfg.RateLimit.Rate == 0 {
		cfg.RateLimit = ratelimit.DefaultStatusAPIConfig()
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}

	engine := gin.New()
	engine.Use(
		ginzap.Ginzap(log, time.RFC3339, true),
		ginzap.RecoveryWithZap(log, true),
		requestMetrics(),
		requestLogger(log.Sugar()),
	)

	if len(cfg.AllowedOrigins) > 0 {
		engine.Use(
			cors.New(cors.Config{
				AllowOrigins: cfg.AllowedOrigins,
				AllowMethods: []string{"GET", "OPTIONS"},
				AllowHeaders: []string{"Origin", "Content-Type"},
				MaxAge:       12 * time.Hour,
			}),
		)
	}

	limiter := ratelimit.New(cfg.RateLimit)
	engine.Use(limiter.MiddlewareWithExclusions([]string{"/metrics", "/api/health"}))

	s := &Server{
		gin:     engine,
		config:  cfg,
		src:     src,
		limiter: limiter,
		log:     log.Sugar().Named("api"),
	}

	api := engine.Group("api")
	api.GET("incidents", s.listIncidents)
	api.GET("incidents/:id", s.getIncident)
	api.GET("health", s.health)
	engine.GET("metrics", gin.WrapH(metrics.MetricsHandler()))

	return s
}

// Handler returns the HTTP handler, e.g. for httptest.
func (s *Server) Handler() http.Handler {
	return s.gin
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.config.ListenAddress,
		Handler:           s.gin,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Infow("Status API listening", "address", s.config.ListenAddress)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("status API: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("status API shutdown: %w", err)
	}
	s.log.Infow("Status API stopped")
	return nil
}

// Close stops background goroutines of the middleware.
func (s *Server) Close() {
	if s.limiter != nil {
		s.limiter.Stop()
	}
}

// requestMetrics counts requests by route template and status code.
func requestMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.APIRequests.WithLabelValues(route, strconv.Itoa(c.Writer.Status())).Inc()
	}
}

// requestLogger stores a request-scoped logger for handlers.
func requestLogger(log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(system.ReqLoggerKey, log.With("path", c.Request.URL.Path, "clientIP", c.ClientIP()))
		c.Next()
	}
}
