package web

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"openrange/internal/backtest"
	"openrange/internal/barstore"
	"openrange/internal/ratelimit"
	"openrange/internal/store"
)

// Options configures the API server
type Options struct {
	Addr      string
	RateLimit int // requests per minute per client
	Burst     int
	Location  *time.Location // zone of from/to dates in requests
}

// Server serves backtests over the loaded bar set
type Server struct {
	bars     *barstore.Store
	base     backtest.Config
	recorder store.Recorder
	limiter  *ratelimit.ClientLimiter
	logger   *zap.Logger
	opts     Options
	srv      *http.Server
	done     chan struct{}
}

// NewServer creates a new API server. A nil recorder disables archiving.
func NewServer(bars *barstore.Store, base backtest.Config, recorder store.Recorder, opts Options, logger *zap.Logger) *Server {
	if recorder == nil {
		recorder = store.NewNoopRecorder()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Server{
		bars:     bars,
		base:     base,
		recorder: recorder,
		limiter:  ratelimit.NewClientLimiter(opts.RateLimit, opts.Burst, 10*time.Minute),
		logger:   logger,
		opts:     opts,
		done:     make(chan struct{}),
	}
}

// Router builds the gin engine with every route
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger(), corsMiddleware())

	api := r.Group("/api/v1")
	{
		api.GET("/health", s.handleHealth)
		api.GET("/years", s.handleYears)

		limited := api.Group("", s.rateLimit())
		limited.POST("/backtest", s.handleBacktest)
		limited.GET("/runs", s.handleListRuns)
		limited.GET("/runs/:id", s.handleGetRun)
		limited.DELETE("/runs/:id", s.handleDeleteRun)
	}
	return r
}

// Start starts the server and blocks until it stops
func (s *Server) Start() error {
	gin.SetMode(gin.ReleaseMode)

	s.srv = &http.Server{
		Addr:         s.opts.Addr,
		Handler:      s.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go s.pruneLimiters()

	s.logger.Info("starting API server", zap.String("addr", s.opts.Addr), zap.Int("bars", s.bars.Len()))
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	close(s.done)
	return s.srv.Shutdown(ctx)
}

func (s *Server) pruneLimiters() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if n := s.limiter.Prune(); n > 0 {
				s.logger.Debug("pruned idle rate limiters", zap.Int("clients", n))
			}
		}
	}
}
