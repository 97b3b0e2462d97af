// Package api serves the counter over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"counterd/common"
	"counterd/observability"
	"counterd/rpc"
)

const (
	Version = "0.1.0"

	// maxBodyBytes caps POST /api/counter payloads.
	maxBodyBytes = rpc.MaxPayloadBytes
)

type Options struct {
	AllowOrigins []string

	// Metrics enables request metrics; Gatherer and MetricsPath expose them.
	Metrics     *observability.Metrics
	Gatherer    prometheus.Gatherer
	MetricsPath string
}

// Server holds the gin engine in front of a dispatcher.
type Server struct {
	dispatcher *rpc.Dispatcher
	logger     zerolog.Logger
	router     *gin.Engine
	started    time.Time
}

func NewServer(dispatcher *rpc.Dispatcher, logger zerolog.Logger, opts Options) *Server {
	s := &Server{
		dispatcher: dispatcher,
		logger:     logger.With().Str("component", "api").Logger(),
		started:    time.Now(),
	}
	s.router = s.setupRouter(opts)
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("starting HTTP API server")
		s.logger.Info().Msgf(`POST example: curl -X POST http://%s/api/counter -H "Content-Type: application/json" -d '{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"counter","arguments":{"operation":"increment"}}}'`, addr)
		s.logger.Info().Msgf("GET example: curl http://%s/api/counter", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.logger.Info().Msg("HTTP API server stopped")
	return nil
}

func (s *Server) setupRouter(opts Options) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), observability.RequestLogger(s.logger))
	if opts.Metrics != nil {
		router.Use(observability.RequestMetrics(opts.Metrics))
	}
	if mw := corsMiddleware(opts.AllowOrigins); mw != nil {
		router.Use(mw)
	}

	router.GET("/health", s.health)

	api := router.Group("/api")
	{
		api.GET("/counter", s.getCounter)
		api.POST("/counter", s.postCounter)
	}

	if opts.Gatherer != nil && opts.MetricsPath != "" {
		router.GET(opts.MetricsPath, gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}

	return router
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	if len(origins) == 0 {
		return nil
	}

	cfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	for _, o := range origins {
		if o == "*" {
			cfg.AllowAllOrigins = true
			cfg.AllowCredentials = false
			return cors.New(cfg)
		}
	}
	cfg.AllowOrigins = origins
	return cors.New(cfg)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "counterd",
		"version": Version,
		"uptime":  time.Since(s.started).Round(time.Second).String(),
	})
}

// getCounter is the read-only query: no envelope, always a read.
func (s *Server) getCounter(c *gin.Context) {
	value, err := s.dispatcher.Query(c.Request.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("counter read failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": rpc.AsError(err).Message})
		return
	}
	c.JSON(http.StatusOK, common.CounterResult{Value: value})
}

// postCounter runs a tools/call command envelope.
func (s *Server) postCounter(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)
	body, err := c.GetRawData()
	if err != nil {
		rerr := &rpc.Error{Kind: rpc.MalformedPayload, Message: "failed to read request body", Err: err}
		c.JSON(rerr.Status(), rerr.Response())
		return
	}

	resp, err := s.dispatcher.Command(c.Request.Context(), body)
	if err != nil {
		rerr := rpc.AsError(err)
		if rerr.Kind == rpc.InternalFailure {
			s.logger.Error().Err(err).Msg("command failed")
		}
		c.JSON(rerr.Status(), rerr.Response())
		return
	}
	c.JSON(http.StatusOK, resp)
}
