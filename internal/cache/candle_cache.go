// Package cache provides Redis-based caching of parsed candle series
// with graceful degradation: when Redis is unavailable, Get reports a
// miss and Set does nothing, so callers keep the series they parsed. A
// cache outage never fails a run.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"backtest-engine/config"
	"backtest-engine/internal/candle"
)

const (
	keyPrefix      = "candles:%s:%s" // symbol, source digest
	defaultTTL     = 24 * time.Hour
	maxFailures    = 3
	recoveryWindow = 30 * time.Second
)

// CandleCache caches parsed candle series keyed by symbol and source
// digest.
type CandleCache struct {
	client *redis.Client
	logger zerolog.Logger

	mu           sync.Mutex
	healthy      bool
	failureCount int
	lastFailure  time.Time
}

// New connects to Redis and verifies connectivity.
func New(cfg config.RedisConfig, logger zerolog.Logger) (*CandleCache, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("redis is not enabled in configuration")
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &CandleCache{
		client:  client,
		logger:  logger.With().Str("component", "candle_cache").Logger(),
		healthy: true,
	}, nil
}

// Get fetches a cached series. A miss or an unhealthy cache returns
// (nil, false).
func (c *CandleCache) Get(ctx context.Context, symbol, digest string) ([]candle.Candle, bool) {
	if !c.available() {
		return nil, false
	}
	key := fmt.Sprintf(keyPrefix, symbol, digest)
	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		c.recordFailure(err)
		return nil, false
	}
	c.recordSuccess()

	var candles []candle.Candle
	if err := json.Unmarshal(data, &candles); err != nil {
		c.logger.Warn().Str("key", key).Err(err).Msg("Corrupt cache entry, dropping")
		c.client.Del(ctx, key)
		return nil, false
	}
	return candles, true
}

// Set stores a parsed series. Failures degrade silently.
func (c *CandleCache) Set(ctx context.Context, symbol, digest string, candles []candle.Candle) {
	if !c.available() {
		return
	}
	data, err := json.Marshal(candles)
	if err != nil {
		return
	}
	key := fmt.Sprintf(keyPrefix, symbol, digest)
	if err := c.client.Set(ctx, key, data, defaultTTL).Err(); err != nil {
		c.recordFailure(err)
		return
	}
	c.recordSuccess()
}

// Close releases the client.
func (c *CandleCache) Close() error {
	return c.client.Close()
}

func (c *CandleCache) available() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.healthy {
		return true
	}
	// probe again after the recovery window
	return time.Since(c.lastFailure) > recoveryWindow
}

func (c *CandleCache) recordFailure(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failureCount++
	c.lastFailure = time.Now()
	if c.failureCount >= maxFailures && c.healthy {
		c.healthy = false
		c.logger.Warn().Err(err).Msg("Redis degraded, falling back to re-parsing")
	}
}

func (c *CandleCache) recordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.healthy {
		c.logger.Info().Msg("Redis recovered")
	}
	c.healthy = true
	c.failureCount = 0
}
