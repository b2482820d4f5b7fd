package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"backtest-engine/internal/algo"
	"backtest-engine/internal/candle"
	"backtest-engine/internal/engine"
	"backtest-engine/internal/errs"
)

// runRequest is the POST /api/backtest body.
type runRequest struct {
	DataFile string           `json:"dataFile" binding:"required"`
	Algo     algo.Params      `json:"algo" binding:"required"`
	Run      algo.RunSettings `json:"run" binding:"required"`
}

// handleRunBacktest validates the request, loads candles, and executes
// the run in the background. The response carries the run id; progress
// streams over /ws/backtest/:id.
func (s *Server) handleRunBacktest(c *gin.Context) {
	var req runRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	s.applyDefaults(&req.Run)
	in := &engine.Input{Algo: &req.Algo, Run: &req.Run}
	if err := req.Algo.Validate(); err != nil {
		errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	if err := req.Run.Validate(); err != nil {
		errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	candles, err := s.loadCandles(c.Request.Context(), req.Run.Symbol, req.DataFile)
	if err != nil {
		status := http.StatusInternalServerError
		if errs.IsKind(err, errs.CandleFormatInvalid) {
			status = http.StatusBadRequest
		}
		errorResponse(c, status, err.Error())
		return
	}

	run := &RunState{
		ID:          uuid.New().String(),
		Status:      RunRunning,
		SubmittedAt: time.Now(),
	}
	s.putRun(run)

	go s.execute(run, candles, in)

	c.JSON(http.StatusAccepted, gin.H{"success": true, "data": gin.H{"id": run.ID}})
}

// execute drives one run to completion and fans progress out to
// websocket subscribers.
func (s *Server) execute(run *RunState, candles []candle.Candle, in *engine.Input) {
	out, err := engine.Run(candles, in,
		engine.WithLogger(s.logger),
		engine.WithProgress(func(p engine.Progress) {
			s.hub.broadcast(run.ID, p)
		}),
	)

	s.mu.Lock()
	if err != nil {
		run.Status = RunFailed
		run.Error = err.Error()
	} else {
		run.Status = RunCompleted
		run.Output = out
	}
	s.mu.Unlock()
	s.hub.finish(run.ID, run.Status)

	if err != nil {
		s.logger.Error().Str("run_id", run.ID).Err(err).Msg("Backtest run failed")
		return
	}
	if s.repo != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.repo.SaveOutput(ctx, run.ID, out); err != nil {
			s.logger.Error().Str("run_id", run.ID).Err(err).Msg("Failed to persist backtest result")
		}
	}
}

// loadCandles reads a candle file, going through the redis cache when
// available.
func (s *Server) loadCandles(ctx context.Context, symbol, path string) ([]candle.Candle, error) {
	candles, err := candle.LoadFile(path)
	if err != nil {
		return nil, err
	}
	if s.candleCache == nil {
		return candles, nil
	}
	digest := candle.Digest(candles)
	if cached, ok := s.candleCache.Get(ctx, symbol, digest); ok {
		return cached, nil
	}
	s.candleCache.Set(ctx, symbol, digest, candles)
	return candles, nil
}

func (s *Server) applyDefaults(r *algo.RunSettings) {
	if r.FeeBps == 0 {
		r.FeeBps = s.engineCfg.DefaultFeeBps
	}
	if r.SlippageBps == 0 {
		r.SlippageBps = s.engineCfg.DefaultSlippageBps
	}
	if r.MinSimResolution == 0 {
		r.MinSimResolution = s.engineCfg.MinSimResolutionSec
	}
	if r.AnnualizationPeriods == 0 {
		r.AnnualizationPeriods = s.engineCfg.AnnualizationPeriods
	}
}

// handleGetBacktest returns the state (and output, when complete) of a
// submitted run.
func (s *Server) handleGetBacktest(c *gin.Context) {
	id := c.Param("id")
	run, ok := s.getRun(id)
	if !ok {
		errorResponse(c, http.StatusNotFound, "run not found")
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	successResponse(c, run)
}

// handleListBacktests lists in-memory runs, and persisted summaries
// when a repository is configured.
func (s *Server) handleListBacktests(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	s.mu.RLock()
	inMemory := make([]gin.H, 0, len(s.runs))
	for _, run := range s.runs {
		inMemory = append(inMemory, gin.H{
			"id":          run.ID,
			"status":      run.Status,
			"submittedAt": run.SubmittedAt,
		})
	}
	s.mu.RUnlock()

	resp := gin.H{"active": inMemory}
	if s.repo != nil {
		persisted, err := s.repo.ListResults(c.Request.Context(), limit)
		if err != nil {
			s.logger.Warn().Err(err).Msg("Failed to list persisted results")
		} else {
			resp["persisted"] = persisted
		}
	}
	successResponse(c, resp)
}
