package database

import (
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"backtest-engine/internal/engine"
)

// Repository saves and loads backtest outputs.
type Repository struct {
	db     *DB
	logger zerolog.Logger
}

// NewRepository creates a repository over a connection pool.
func NewRepository(db *DB, logger zerolog.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger.With().Str("component", "repository").Logger(),
	}
}

// SaveOutput persists a result, its trades, and its equity curve in a
// single transaction. resultID is the caller's handle (a uuid).
func (r *Repository) SaveOutput(ctx context.Context, resultID string, out *engine.Output) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	pf := out.SwapMetrics.ProfitFactor
	if math.IsInf(pf, 1) {
		pf = math.MaxFloat64
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO backtest_results (
			id, algo_id, version, symbol, start_time, end_time,
			starting_capital_usd, fee_bps, slippage_bps,
			total_trades, winning_trades, win_rate,
			total_pnl_usd, total_fees_usd, profit_factor,
			sharpe_ratio, sortino_ratio,
			max_drawdown_pct, max_drawdown_usd, calmar_ratio,
			total_return_pct, total_bars_processed, duration_ms
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23)`,
		resultID, out.Config.AlgoID, out.Config.Version, out.Config.Symbol,
		out.Config.StartTime, out.Config.EndTime,
		out.Config.StartingCapitalUSD, out.Config.FeeBps, out.Config.SlippageBps,
		out.SwapMetrics.TotalTrades, out.SwapMetrics.WinningTrades, out.SwapMetrics.WinRate,
		out.SwapMetrics.TotalPnlUSD, out.SwapMetrics.TotalFeesUSD, pf,
		out.SwapMetrics.SharpeRatio, out.SwapMetrics.SortinoRatio,
		out.SwapMetrics.MaxDrawdownPct, out.SwapMetrics.MaxDrawdownUSD, out.SwapMetrics.CalmarRatio,
		out.SwapMetrics.TotalReturnPct, out.TotalBarsProcessed, out.DurationMs,
	)
	if err != nil {
		return fmt.Errorf("failed to insert backtest result: %w", err)
	}

	for _, t := range out.Trades {
		_, err = tx.Exec(ctx, `
			INSERT INTO backtest_trades (
				result_id, trade_id, direction,
				entry_bar, entry_time, entry_price,
				exit_bar, exit_time, exit_price, exit_reason,
				pnl_usd, pnl_pct, duration_bars, duration_seconds, fees
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
			resultID, t.ID, t.Direction,
			t.EntrySwap.BarIndex, t.EntrySwap.Timestamp, t.EntrySwap.Price,
			t.ExitSwap.BarIndex, t.ExitSwap.Timestamp, t.ExitSwap.Price, t.ExitReason,
			t.PnlUSD, t.PnlPct, t.DurationBars, t.DurationSeconds,
			t.EntrySwap.Fees+t.ExitSwap.Fees,
		)
		if err != nil {
			return fmt.Errorf("failed to insert trade %d: %w", t.ID, err)
		}
	}

	for _, p := range out.EquityCurve {
		_, err = tx.Exec(ctx, `
			INSERT INTO backtest_equity (result_id, bar_index, ts, equity, drawdown_pct)
			VALUES ($1,$2,$3,$4,$5)`,
			resultID, p.BarIndex, p.Timestamp, p.Equity, p.DrawdownPct,
		)
		if err != nil {
			return fmt.Errorf("failed to insert equity point %d: %w", p.BarIndex, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit backtest result: %w", err)
	}
	r.logger.Info().
		Str("result_id", resultID).
		Int("trades", len(out.Trades)).
		Int("equity_points", len(out.EquityCurve)).
		Msg("Backtest result persisted")
	return nil
}

// ResultSummary is the persisted header row of a run.
type ResultSummary struct {
	ID             string  `json:"id"`
	AlgoID         string  `json:"algoId"`
	Symbol         string  `json:"symbol"`
	TotalTrades    int     `json:"totalTrades"`
	WinRate        float64 `json:"winRate"`
	TotalPnlUSD    float64 `json:"totalPnlUSD"`
	MaxDrawdownPct float64 `json:"maxDrawdownPct"`
	DurationMs     int64   `json:"durationMs"`
}

// ListResults returns persisted run summaries, newest first.
func (r *Repository) ListResults(ctx context.Context, limit int) ([]ResultSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id, algo_id, symbol, total_trades, win_rate, total_pnl_usd, max_drawdown_pct, duration_ms
		FROM backtest_results ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list results: %w", err)
	}
	defer rows.Close()

	var out []ResultSummary
	for rows.Next() {
		var s ResultSummary
		if err := rows.Scan(&s.ID, &s.AlgoID, &s.Symbol, &s.TotalTrades, &s.WinRate,
			&s.TotalPnlUSD, &s.MaxDrawdownPct, &s.DurationMs); err != nil {
			return nil, fmt.Errorf("failed to scan result row: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
