// Package server exposes collection, stored channels and quota state over
// HTTP for the dashboard.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"ytcollect/channelid"
	"ytcollect/quota"
	"ytcollect/service"
	"ytcollect/storage"
)

// Collector runs and resolves collections.
type Collector interface {
	Collect(ctx context.Context, req service.Request) (*service.Response, error)
	Resolve(ctx context.Context, input string) (channelid.Resolution, error)
}

// Channels reads persisted channels.
type Channels interface {
	GetChannel(ctx context.Context, channelID string) (*storage.Channel, error)
	ListChannels(ctx context.Context) ([]*storage.Channel, error)
}

// Config holds server settings.
type Config struct {
	Addr        string
	CORSOrigins []string
	// CollectTimeout bounds POST /api/collect. Zero means the request context only.
	CollectTimeout time.Duration
}

// Server is the HTTP API.
type Server struct {
	cfg       Config
	collector Collector
	channels  Channels
	quota     *quota.Tracker
	logger    zerolog.Logger
	engine    *gin.Engine
}

// Option configures a Server.
type Option func(*Server)

func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// New builds the router. A nil tracker serves quota routes with 503.
func New(cfg Config, c Collector, ch Channels, t *quota.Tracker, opts ...Option) *Server {
	s := &Server{
		cfg:       cfg,
		collector: c,
		channels:  ch,
		quota:     t,
		logger:    log.Logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.engine = s.routes()
	return s
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), metricsMiddleware(), requestLogger(s.logger))
	r.Use(cors.New(corsConfig(s.cfg.CORSOrigins)))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": "ytcollect"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	{
		api.POST("/collect", s.collect)
		api.GET("/channels", s.listChannels)
		api.GET("/channels/:id", s.getChannel)
		api.GET("/quota", s.quotaStatus)
		api.POST("/quota/estimate", s.quotaEstimate)
		api.GET("/resolve", s.resolve)
	}
	return r
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.DefaultConfig()
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	cfg.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization"}
	cfg.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	return cfg
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.cfg.Addr).Msg("server: listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
