// Package server assembles the gin engine: middleware chain, route table
// and the process-level HTTP server with graceful shutdown.
package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"omnirelay-go/internal/config"
	"omnirelay-go/internal/constants"
	"omnirelay-go/internal/dialect"
	"omnirelay-go/internal/handlers"
	"omnirelay-go/internal/middleware"
)

// Pinger reports backend liveness.
type Pinger interface {
	Health(ctx context.Context) error
}

// Deps carries everything the router needs.
type Deps struct {
	Cfg     *config.Config
	Keys    middleware.KeyStore
	Handler *handlers.Handler
	DB      Pinger
	Coord   Pinger
}

// NewRouter builds the engine with the full middleware chain and route
// table.
func NewRouter(d Deps) *gin.Engine {
	if !d.Cfg.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger())
	r.Use(middleware.Recovery())
	r.Use(middleware.CORS())
	if d.Cfg.RateGuard.GlobalRPS > 0 {
		r.Use(middleware.GlobalRateGuard(d.Cfg.RateGuard.GlobalRPS, d.Cfg.RateGuard.GlobalBurst))
	}

	r.GET("/health", healthHandler(d.DB, d.Coord))

	auth := middleware.APIKeyAuth(d.Keys)
	h := d.Handler

	// OpenAI surface.
	v1 := r.Group("/v1", auth)
	v1.POST("/chat/completions", h.ChatCompletions)
	v1.GET("/models", h.Models(dialect.OpenAI))

	// Anthropic surface.
	v1.POST("/messages", h.Messages)

	// Native Gemini surface. The wildcard carries "<model>:<action>".
	v1beta := r.Group("/v1beta", auth)
	v1beta.GET("/models", h.Models(dialect.Gemini))
	v1beta.POST("/models/*path", h.GeminiNative)
	v1.POST("/models/*path", h.GeminiNative)

	// Alias kept for clients configured against the googleai prefix.
	googleai := r.Group("/googleai", auth)
	googleai.GET("/models", h.Models(dialect.Gemini))
	googleai.POST("/models/*path", h.GeminiNative)

	return r
}

func healthHandler(db, coord Pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), constants.HealthProbeTimeout)
		defer cancel()

		status := http.StatusOK
		out := gin.H{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)}
		if db != nil {
			if err := db.Health(ctx); err != nil {
				status = http.StatusServiceUnavailable
				out["status"] = "degraded"
				out["database"] = err.Error()
			}
		}
		if coord != nil {
			if err := coord.Health(ctx); err != nil {
				status = http.StatusServiceUnavailable
				out["status"] = "degraded"
				out["redis"] = err.Error()
			}
		}
		c.JSON(status, out)
	}
}

// Server wraps the HTTP listener with graceful shutdown.
type Server struct {
	http *http.Server
}

// New binds the router to the configured port.
func New(cfg *config.Config, r *gin.Engine) *Server {
	addr := cfg.Server.Port
	if !strings.Contains(addr, ":") {
		addr = ":" + addr
	}
	return &Server{
		http: &http.Server{
			Addr:    addr,
			Handler: r,
		},
	}
}

// Run serves until the listener fails or Shutdown is called.
func (s *Server) Run() error {
	log.WithField("addr", s.http.Addr).Info("http server listening")
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests inside the grace period.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, constants.ShutdownGracePeriod)
	defer cancel()
	return s.http.Shutdown(ctx)
}
