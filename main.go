package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"backtest-engine/config"
	"backtest-engine/internal/api"
	"backtest-engine/internal/cache"
	"backtest-engine/internal/candle"
	"backtest-engine/internal/database"
	"backtest-engine/internal/engine"
)

func main() {
	var (
		dataPath = flag.String("data", "", "path to the candle CSV file")
		algoPath = flag.String("algo", "", "path to the strategy JSON file (algo params + run settings)")
		serve    = flag.Bool("serve", false, "start the HTTP API server instead of a one-shot run")
		save     = flag.Bool("save", false, "persist the result to the configured database")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LoggingConfig)

	var db *database.DB
	var repo *database.Repository
	if cfg.DatabaseConfig.Enabled {
		db, err = database.NewDB(cfg.DatabaseConfig)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to connect to database")
		}
		defer db.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		if err := db.EnsureSchema(ctx); err != nil {
			cancel()
			logger.Fatal().Err(err).Msg("Failed to ensure database schema")
		}
		cancel()
		repo = database.NewRepository(db, logger)
	}

	var candleCache *cache.CandleCache
	if cfg.RedisConfig.Enabled {
		candleCache, err = cache.New(cfg.RedisConfig, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("Redis unavailable, continuing without candle cache")
		} else {
			defer candleCache.Close()
		}
	}

	if *serve {
		runServer(cfg, repo, candleCache, logger)
		return
	}

	if *dataPath == "" || *algoPath == "" {
		fmt.Fprintln(os.Stderr, "usage: backtest-engine -data <candles.csv> -algo <strategy.json> [-save]")
		os.Exit(2)
	}

	in, err := loadInput(*algoPath, cfg.EngineConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load strategy file")
	}
	candles, err := candle.LoadFile(*dataPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load candle file")
	}

	out, err := engine.Run(candles, in, engine.WithLogger(logger))
	if err != nil {
		logger.Fatal().Err(err).Msg("Backtest failed")
	}

	printResults(out)

	if *save {
		if repo == nil {
			logger.Fatal().Msg("-save requires database.enabled in config")
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		id := uuid.New().String()
		if err := repo.SaveOutput(ctx, id, out); err != nil {
			logger.Fatal().Err(err).Msg("Failed to persist result")
		}
		fmt.Printf("\nSaved result %s\n", id)
	}
}

func runServer(cfg *config.Config, repo *database.Repository, candleCache *cache.CandleCache, logger zerolog.Logger) {
	server := api.NewServer(cfg.ServerConfig, cfg.EngineConfig, repo, candleCache, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := server.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("API server failed")
	}
}

// loadInput parses the strategy file and applies engine defaults for
// unset run fields.
func loadInput(path string, engineCfg config.EngineConfig) (*engine.Input, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var in engine.Input
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("failed to parse strategy file %s: %w", path, err)
	}
	if in.Run != nil {
		if in.Run.FeeBps == 0 {
			in.Run.FeeBps = engineCfg.DefaultFeeBps
		}
		if in.Run.SlippageBps == 0 {
			in.Run.SlippageBps = engineCfg.DefaultSlippageBps
		}
		if in.Run.MinSimResolution == 0 {
			in.Run.MinSimResolution = engineCfg.MinSimResolutionSec
		}
		if in.Run.AnnualizationPeriods == 0 {
			in.Run.AnnualizationPeriods = engineCfg.AnnualizationPeriods
		}
	}
	return &in, nil
}

func newLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = zerolog.InfoLevel
	}
	var logger zerolog.Logger
	if cfg.Pretty {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(level).With().Timestamp().Logger()
}

func printResults(out *engine.Output) {
	m := out.SwapMetrics
	fmt.Println("\n=== BACKTEST RESULTS ===")
	fmt.Printf("Symbol: %s  Algo: %s\n", out.Config.Symbol, out.Config.AlgoID)
	fmt.Printf("Bars Processed: %d\n", out.TotalBarsProcessed)
	fmt.Printf("Total Trades: %d\n", m.TotalTrades)
	fmt.Printf("Winning Trades: %d (%.1f%%)\n", m.WinningTrades, m.WinRate*100)
	fmt.Printf("Total PnL: $%.2f\n", m.TotalPnlUSD)
	fmt.Printf("Total Fees: $%.2f\n", m.TotalFeesUSD)
	if math.IsInf(m.ProfitFactor, 1) {
		fmt.Println("Profit Factor: inf")
	} else {
		fmt.Printf("Profit Factor: %.2f\n", m.ProfitFactor)
	}
	fmt.Printf("Sharpe Ratio: %.2f\n", m.SharpeRatio)
	fmt.Printf("Sortino Ratio: %.2f\n", m.SortinoRatio)
	fmt.Printf("Max Drawdown: %.2f%% ($%.2f)\n", m.MaxDrawdownPct*100, m.MaxDrawdownUSD)
	fmt.Printf("Calmar Ratio: %.2f\n", m.CalmarRatio)
	fmt.Printf("Total Return: %.2f%%\n", m.TotalReturnPct*100)
	fmt.Printf("Long:  %d trades, %.1f%% win rate, $%.2f\n", m.Long.Trades, m.Long.WinRate*100, m.Long.PnlUSD)
	fmt.Printf("Short: %d trades, %.1f%% win rate, $%.2f\n", m.Short.Trades, m.Short.WinRate*100, m.Short.PnlUSD)

	fmt.Println("\n=== EXIT REASONS ===")
	for reason, count := range out.AlgoMetrics.ExitReasonCounts {
		fmt.Printf("%s: %d\n", reason, count)
	}
}
