package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sawpanic/simcore/internal/backtest/sim"
	"github.com/sawpanic/simcore/internal/infrastructure/db"
)

// AppConfig is the complete simcore configuration file
type AppConfig struct {
	Simulation sim.Config     `yaml:"simulation"`
	Database   db.Config      `yaml:"database"`
	Cache      CacheSection   `yaml:"cache"`
	Archive    ArchiveSection `yaml:"archive"`
	HTTP       HTTPSection    `yaml:"http"`
	Logging    LoggingSection `yaml:"logging"`
	Sweep      SweepSection   `yaml:"sweep"`
}

// Cache backends
const (
	CacheNone   = "none"
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

// CacheSection configures the run result cache
type CacheSection struct {
	Backend         string        `yaml:"backend"` // none, memory, redis
	TTL             time.Duration `yaml:"ttl"`
	MaxEntries      int           `yaml:"max_entries"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
	Redis           RedisSection  `yaml:"redis"`
}

// RedisSection holds Redis connection settings
type RedisSection struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// ArchiveSection guards archive writes
type ArchiveSection struct {
	WritesPerSecond     float64       `yaml:"writes_per_second"` // 0 = unlimited
	Burst               int           `yaml:"burst"`
	ConsecutiveFailures uint32        `yaml:"consecutive_failures"`
	BreakerTimeout      time.Duration `yaml:"breaker_timeout"`
}

// HTTPSection configures the read-only server
type HTTPSection struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// LoggingSection configures zerolog output
type LoggingSection struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"` // auto, json, console
	File       string `yaml:"file"`   // optional rotating log file
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// SweepSection configures parameter sweeps
type SweepSection struct {
	Concurrency int    `yaml:"concurrency"` // 0 = GOMAXPROCS
	Configs     string `yaml:"configs"`     // doublestar glob of job files
}

// Default returns the configuration used when no file is given
func Default() *AppConfig {
	return &AppConfig{
		Simulation: sim.DefaultConfig(),
		Database:   db.DefaultConfig(),
		Cache: CacheSection{
			Backend:         CacheMemory,
			TTL:             24 * time.Hour,
			MaxEntries:      256,
			CleanupInterval: time.Minute,
			Redis:           RedisSection{Addr: "localhost:6379"},
		},
		Archive: ArchiveSection{
			WritesPerSecond:     20,
			Burst:               5,
			ConsecutiveFailures: 3,
			BreakerTimeout:      time.Minute,
		},
		HTTP: HTTPSection{Host: "127.0.0.1", Port: 8080},
		Logging: LoggingSection{
			Level:      "info",
			Format:     "auto",
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// Load reads path (optional), applies environment overrides and validates.
// Keys missing from the file keep their defaults.
func Load(path string) (*AppConfig, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	cfg.Simulation = cfg.Simulation.WithDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate checks every section. Simulation problems come back as a
// *sim.ConfigurationError.
func (c *AppConfig) Validate() error {
	var errs []error
	if err := c.Simulation.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Database.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("database: %w", err))
	}
	switch c.Cache.Backend {
	case CacheNone, CacheMemory:
	case CacheRedis:
		if c.Cache.Redis.Addr == "" {
			errs = append(errs, errors.New("cache: redis.addr is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("cache: unknown backend %q", c.Cache.Backend))
	}
	if c.Archive.WritesPerSecond < 0 {
		errs = append(errs, fmt.Errorf("archive: writes_per_second cannot be negative, got %v", c.Archive.WritesPerSecond))
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		errs = append(errs, fmt.Errorf("http: port must be in 1..65535, got %d", c.HTTP.Port))
	}
	switch c.Logging.Format {
	case "auto", "json", "console":
	default:
		errs = append(errs, fmt.Errorf("logging: format must be auto, json or console, got %q", c.Logging.Format))
	}
	if c.Sweep.Concurrency < 0 {
		errs = append(errs, fmt.Errorf("sweep: concurrency cannot be negative, got %d", c.Sweep.Concurrency))
	}
	return errors.Join(errs...)
}

// applyEnvOverrides applies SIMCORE_*, PG_*, REDIS_* and HTTP_PORT variables
func applyEnvOverrides(cfg *AppConfig) error {
	var errs []error
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	float := func(key string, dst *float64) {
		if v := os.Getenv(key); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = f
		}
	}
	integer := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v := os.Getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	boolean := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}

	s := &cfg.Simulation
	float("SIMCORE_INITIAL_CAPITAL", &s.InitialCapital)
	float("SIMCORE_COMMISSION_RATE", &s.CommissionRate)
	float("SIMCORE_SLIPPAGE_BPS", &s.SlippageBps)
	integer("SIMCORE_MAX_POSITIONS", &s.MaxPositions)
	float("SIMCORE_LEVERAGE_LIMIT", &s.LeverageLimit)
	float("SIMCORE_ANNUALIZATION_FACTOR", &s.AnnualizationFactor)
	float("SIMCORE_RISK_FREE_RATE", &s.RiskFreeRate)
	if v := os.Getenv("SIMCORE_EXECUTION_TIMING"); v != "" {
		s.ExecutionTiming = sim.ExecutionTiming(v)
	}
	if v := os.Getenv("SIMCORE_MODE"); v != "" {
		s.Mode = sim.Mode(v)
	}

	str("SIMCORE_LOG_LEVEL", &cfg.Logging.Level)
	str("SIMCORE_LOG_FORMAT", &cfg.Logging.Format)
	str("SIMCORE_LOG_FILE", &cfg.Logging.File)
	str("SIMCORE_CACHE_BACKEND", &cfg.Cache.Backend)
	duration("SIMCORE_CACHE_TTL", &cfg.Cache.TTL)
	integer("SIMCORE_SWEEP_CONCURRENCY", &cfg.Sweep.Concurrency)
	str("SIMCORE_SWEEP_CONFIGS", &cfg.Sweep.Configs)

	d := &cfg.Database
	str("PG_DSN", &d.DSN)
	boolean("PG_ENABLED", &d.Enabled)
	integer("PG_MAX_OPEN_CONNS", &d.MaxOpenConns)
	integer("PG_MAX_IDLE_CONNS", &d.MaxIdleConns)
	duration("PG_CONN_MAX_LIFETIME", &d.ConnMaxLifetime)
	duration("PG_CONN_MAX_IDLE_TIME", &d.ConnMaxIdleTime)
	duration("PG_QUERY_TIMEOUT", &d.QueryTimeout)

	str("REDIS_ADDR", &cfg.Cache.Redis.Addr)
	str("REDIS_PASSWORD", &cfg.Cache.Redis.Password)
	integer("REDIS_DB", &cfg.Cache.Redis.DB)

	integer("HTTP_PORT", &cfg.HTTP.Port)

	return errors.Join(errs...)
}
