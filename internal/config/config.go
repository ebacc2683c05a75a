package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultAppName         = "txengine"
	defaultLogLevel        = "info"
	defaultStrategy        = StrategyAuto
	defaultStore           = StoreBadger
	defaultMemoryFraction  = 0.5
	defaultSafetyFactor    = 3.0
	defaultRowBytes        = 24
	defaultRecordFootprint = 128
	timeoutSecondsEnvVar   = "RUN_TIMEOUT_SECONDS"
	timeoutDurationEnvVar  = "RUN_TIMEOUT"
)

// Strategy names accepted by TXENGINE_STRATEGY.
const (
	StrategyAuto   = "auto"
	StrategyMemory = "memory"
	StrategyDisk   = "disk"
)

// Scratch store backends accepted by TXENGINE_STORE.
const (
	StoreBadger = "badger"
	StoreRedis  = "redis"
)

// Config captures run configuration loaded from environment variables.
type Config struct {
	AppName  string
	LogLevel string

	Strategy   string
	Store      string
	ScratchDir string

	MemoryFraction  float64
	SafetyFactor    float64
	RowBytes        uint64
	RecordFootprint uint64
	// AvailableMemory replaces the host reading when non-zero.
	AvailableMemory uint64

	FreezeLocked bool

	RedisURL    string
	DatabaseURL string
	MetricsFile string
	RunTimeout  time.Duration
}

// Load reads configuration values from the environment and validates them.
func Load() (Config, error) {
	cfg := Config{
		AppName:         getEnv("APP_NAME", defaultAppName),
		LogLevel:        strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		Strategy:        strings.ToLower(getEnv("TXENGINE_STRATEGY", defaultStrategy)),
		Store:           strings.ToLower(getEnv("TXENGINE_STORE", defaultStore)),
		ScratchDir:      os.Getenv("TXENGINE_SCRATCH_DIR"),
		MemoryFraction:  defaultMemoryFraction,
		SafetyFactor:    defaultSafetyFactor,
		RowBytes:        defaultRowBytes,
		RecordFootprint: defaultRecordFootprint,
		FreezeLocked:    true,
		RedisURL:        os.Getenv("REDIS_URL"),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		MetricsFile:     os.Getenv("METRICS_FILE"),
	}

	var err error
	if cfg.MemoryFraction, err = floatEnv("TXENGINE_MEMORY_FRACTION", cfg.MemoryFraction); err != nil {
		return Config{}, err
	}
	if cfg.SafetyFactor, err = floatEnv("TXENGINE_SAFETY_FACTOR", cfg.SafetyFactor); err != nil {
		return Config{}, err
	}
	if cfg.RowBytes, err = uintEnv("TXENGINE_ROW_BYTES", cfg.RowBytes); err != nil {
		return Config{}, err
	}
	if cfg.RecordFootprint, err = uintEnv("TXENGINE_RECORD_FOOTPRINT", cfg.RecordFootprint); err != nil {
		return Config{}, err
	}
	if cfg.AvailableMemory, err = uintEnv("TXENGINE_AVAILABLE_MEMORY", 0); err != nil {
		return Config{}, err
	}

	if v := os.Getenv("TXENGINE_FREEZE_LOCKED"); v != "" {
		freeze, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid TXENGINE_FREEZE_LOCKED: %w", err)
		}
		cfg.FreezeLocked = freeze
	}

	if v := os.Getenv(timeoutSecondsEnvVar); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", timeoutSecondsEnvVar, err)
		}
		cfg.RunTimeout = time.Duration(seconds) * time.Second
	} else if v := os.Getenv(timeoutDurationEnvVar); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", timeoutDurationEnvVar, err)
		}
		cfg.RunTimeout = d
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks value ranges and cross-field requirements.
func (c Config) Validate() error {
	switch c.Strategy {
	case StrategyAuto, StrategyMemory, StrategyDisk:
	default:
		return fmt.Errorf("TXENGINE_STRATEGY must be one of auto, memory, disk; got %q", c.Strategy)
	}

	switch c.Store {
	case StoreBadger:
	case StoreRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL must be set when TXENGINE_STORE=redis")
		}
	default:
		return fmt.Errorf("TXENGINE_STORE must be badger or redis; got %q", c.Store)
	}

	if c.MemoryFraction <= 0 || c.MemoryFraction >= 1 {
		return fmt.Errorf("TXENGINE_MEMORY_FRACTION must be between 0 and 1 exclusive; got %v", c.MemoryFraction)
	}
	if c.SafetyFactor < 1 {
		return fmt.Errorf("TXENGINE_SAFETY_FACTOR must be at least 1; got %v", c.SafetyFactor)
	}
	if c.RowBytes == 0 {
		return fmt.Errorf("TXENGINE_ROW_BYTES must be positive")
	}
	if c.RecordFootprint == 0 {
		return fmt.Errorf("TXENGINE_RECORD_FOOTPRINT must be positive")
	}
	if c.RunTimeout < 0 {
		return fmt.Errorf("%s must not be negative", timeoutDurationEnvVar)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func floatEnv(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}

func uintEnv(key string, fallback uint64) (uint64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}
