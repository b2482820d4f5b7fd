// Package api exposes the backtest engine over HTTP: run submission,
// result retrieval, and a websocket progress stream per run.
package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"backtest-engine/config"
	"backtest-engine/internal/cache"
	"backtest-engine/internal/database"
	"backtest-engine/internal/engine"
)

// RunStatus is the lifecycle state of a submitted run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// RunState tracks one submitted backtest.
type RunState struct {
	ID          string         `json:"id"`
	Status      RunStatus      `json:"status"`
	SubmittedAt time.Time      `json:"submittedAt"`
	Error       string         `json:"error,omitempty"`
	Output      *engine.Output `json:"output,omitempty"`
}

// Server is the HTTP API server.
type Server struct {
	router      *gin.Engine
	httpServer  *http.Server
	config      config.ServerConfig
	engineCfg   config.EngineConfig
	repo        *database.Repository // nil when persistence is disabled
	candleCache *cache.CandleCache   // nil when redis is disabled
	hub         *progressHub
	logger      zerolog.Logger

	mu   sync.RWMutex
	runs map[string]*RunState
}

// NewServer builds the server and its routes. repo and candleCache may
// be nil.
func NewServer(cfg config.ServerConfig, engineCfg config.EngineConfig, repo *database.Repository, candleCache *cache.CandleCache, logger zerolog.Logger) *Server {
	if cfg.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type"}
	router.Use(cors.New(corsConfig))

	s := &Server{
		router:      router,
		config:      cfg,
		engineCfg:   engineCfg,
		repo:        repo,
		candleCache: candleCache,
		hub:         newProgressHub(logger),
		logger:      logger.With().Str("component", "api").Logger(),
		runs:        make(map[string]*RunState),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	apiGroup := s.router.Group("/api")
	{
		apiGroup.POST("/backtest", s.handleRunBacktest)
		apiGroup.GET("/backtest/:id", s.handleGetBacktest)
		apiGroup.GET("/backtests", s.handleListBacktests)
	}

	s.router.GET("/ws/backtest/:id", s.handleProgressStream)
}

// Start runs the HTTP server until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("API server listening")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

func (s *Server) getRun(id string) (*RunState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	return run, ok
}

func (s *Server) putRun(run *RunState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = run
}

func errorResponse(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"success": false, "error": message})
}

func successResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{"success": true, "data": data})
}
