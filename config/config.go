// Package config loads engine configuration from an optional JSON file
// with environment variable overrides.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
)

type Config struct {
	ServerConfig   ServerConfig   `json:"server"`
	DatabaseConfig DatabaseConfig `json:"database"`
	RedisConfig    RedisConfig    `json:"redis"`
	LoggingConfig  LoggingConfig  `json:"logging"`
	EngineConfig   EngineConfig   `json:"engine"`
}

// ServerConfig holds the API server configuration.
type ServerConfig struct {
	Enabled        bool   `json:"enabled"`
	Host           string `json:"host"`
	Port           int    `json:"port"`
	ProductionMode bool   `json:"production_mode"`
}

// DatabaseConfig holds PostgreSQL connection settings. Persistence is
// optional; a run without a database keeps results in memory only.
type DatabaseConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
}

// RedisConfig holds candle-cache settings.
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Pretty bool   `json:"pretty"` // console writer instead of JSON
}

// EngineConfig carries run defaults applied when the request leaves
// them unset.
type EngineConfig struct {
	DefaultFeeBps        float64 `json:"default_fee_bps"`
	DefaultSlippageBps   float64 `json:"default_slippage_bps"`
	MinSimResolutionSec  int64   `json:"min_sim_resolution_sec"`
	AnnualizationPeriods int     `json:"annualization_periods"`
}

// Load reads the config file named by BACKTEST_CONFIG (default
// config.json when present) and applies environment overrides on top
// of the defaults.
func Load() (*Config, error) {
	cfg := defaults()

	path := getEnvOrDefault("BACKTEST_CONFIG", "config.json")
	if _, err := os.Stat(path); err == nil {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		ServerConfig: ServerConfig{
			Host: "0.0.0.0",
			Port: 8090,
		},
		DatabaseConfig: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "postgres",
			Database: "backtest",
			SSLMode:  "disable",
		},
		RedisConfig: RedisConfig{
			Address:  "localhost:6379",
			PoolSize: 10,
		},
		LoggingConfig: LoggingConfig{
			Level: "info",
		},
		EngineConfig: EngineConfig{
			DefaultFeeBps:      10,
			DefaultSlippageBps: 5,
		},
	}
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	cfg.ServerConfig.Host = getEnvOrDefault("SERVER_HOST", cfg.ServerConfig.Host)
	cfg.ServerConfig.Port = getEnvIntOrDefault("SERVER_PORT", cfg.ServerConfig.Port)
	if v := os.Getenv("SERVER_ENABLED"); v != "" {
		cfg.ServerConfig.Enabled = v == "true" || v == "1"
	}

	cfg.DatabaseConfig.Host = getEnvOrDefault("DB_HOST", cfg.DatabaseConfig.Host)
	cfg.DatabaseConfig.Port = getEnvIntOrDefault("DB_PORT", cfg.DatabaseConfig.Port)
	cfg.DatabaseConfig.User = getEnvOrDefault("DB_USER", cfg.DatabaseConfig.User)
	cfg.DatabaseConfig.Password = getEnvOrDefault("DB_PASSWORD", cfg.DatabaseConfig.Password)
	cfg.DatabaseConfig.Database = getEnvOrDefault("DB_NAME", cfg.DatabaseConfig.Database)
	cfg.DatabaseConfig.SSLMode = getEnvOrDefault("DB_SSL_MODE", cfg.DatabaseConfig.SSLMode)
	if v := os.Getenv("DB_ENABLED"); v != "" {
		cfg.DatabaseConfig.Enabled = v == "true" || v == "1"
	}

	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDRESS", cfg.RedisConfig.Address)
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)
	cfg.RedisConfig.DB = getEnvIntOrDefault("REDIS_DB", cfg.RedisConfig.DB)
	if v := os.Getenv("REDIS_ENABLED"); v != "" {
		cfg.RedisConfig.Enabled = v == "true" || v == "1"
	}

	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", cfg.LoggingConfig.Level)
	if v := os.Getenv("LOG_PRETTY"); v != "" {
		cfg.LoggingConfig.Pretty = v == "true" || v == "1"
	}

	cfg.EngineConfig.DefaultFeeBps = getEnvFloatOrDefault("DEFAULT_FEE_BPS", cfg.EngineConfig.DefaultFeeBps)
	cfg.EngineConfig.DefaultSlippageBps = getEnvFloatOrDefault("DEFAULT_SLIPPAGE_BPS", cfg.EngineConfig.DefaultSlippageBps)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
