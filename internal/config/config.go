package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// Config holds the process configuration, read from the environment and an optional .env file
type Config struct {
	Environment string
	LogLevel    string
	Port        string
	RPSLimit    float64
	RPSBurst    int

	// StoreConfig is the JSON store description, e.g. {"db_type":"postgres","extra_details":{"conn_str":"..."}}
	StoreConfig string

	Redis     RedisConfig
	Provider  ProviderConfig
	Ingest    IngestConfig
	Detection DetectionConfig
	Rescrape  RescrapeConfig
}

type RedisConfig struct {
	Enabled  bool
	Address  string
	Password string
	DB       int
}

type ProviderConfig struct {
	BaseURL    string
	Login      string
	Password   string
	Timeout    time.Duration
	MaxResults int
}

type IngestConfig struct {
	MaxConcurrent int
	RequestDelay  time.Duration
}

type DetectionConfig struct {
	MinAppearances    int
	MinAuthorityScore float64
	AutoCreate        bool
}

type RescrapeConfig struct {
	MaxAge      time.Duration
	BatchSize   int
	Concurrency int
}

// ErrMissingProviderCredentials is returned when ingestion is requested without provider credentials
var ErrMissingProviderCredentials = errors.New("provider login and password are required")

// Load reads configuration, falling back to defaults for unset or invalid values
func Load(logger *zap.Logger) *Config {
	log := logger.Named("config")
	if err := godotenv.Load(); err != nil {
		log.Debug("no .env file loaded", zap.Error(err))
	}

	r := envReader{log: log}
	cfg := &Config{
		Environment: r.str("ENVIRONMENT", "development"),
		LogLevel:    strings.ToLower(r.str("LOG_LEVEL", "info")),
		Port:        r.str("PORT", "8080"),
		RPSLimit:    r.float("RPS_LIMIT", 10),
		RPSBurst:    r.int("RPS_BURST", 20),
		StoreConfig: r.str("STORE_CONFIG", ""),
		Redis: RedisConfig{
			Enabled:  r.bool("REDIS_ENABLED", false),
			Address:  r.str("REDIS_ADDRESS", "localhost:6379"),
			Password: r.str("REDIS_PASSWORD", ""),
			DB:       r.int("REDIS_DB", 0),
		},
		Provider: ProviderConfig{
			BaseURL:    r.str("PROVIDER_BASE_URL", "https://api.dataforseo.com/v3"),
			Login:      r.str("PROVIDER_LOGIN", ""),
			Password:   r.str("PROVIDER_PASSWORD", ""),
			Timeout:    r.duration("PROVIDER_TIMEOUT", 30*time.Second),
			MaxResults: r.int("PROVIDER_MAX_RESULTS", 100),
		},
		Ingest: IngestConfig{
			MaxConcurrent: r.int("MAX_CONCURRENT_REQUESTS", 5),
			RequestDelay:  r.duration("REQUEST_DELAY", time.Second),
		},
		Detection: DetectionConfig{
			MinAppearances:    r.int("DETECT_MIN_APPEARANCES", 2),
			MinAuthorityScore: r.float("DETECT_MIN_AUTHORITY", 20),
			AutoCreate:        r.bool("DETECT_AUTO_CREATE", true),
		},
		Rescrape: RescrapeConfig{
			MaxAge:      r.duration("RESCRAPE_MAX_AGE", 24*time.Hour),
			BatchSize:   r.int("RESCRAPE_BATCH", 100),
			Concurrency: r.int("RESCRAPE_CONCURRENCY", 10),
		},
	}

	if cfg.Ingest.MaxConcurrent < 1 {
		log.Warn("MAX_CONCURRENT_REQUESTS must be positive, using 1", zap.Int("value", cfg.Ingest.MaxConcurrent))
		cfg.Ingest.MaxConcurrent = 1
	}
	if cfg.Ingest.RequestDelay < 0 {
		cfg.Ingest.RequestDelay = 0
	}

	log.Info("configuration loaded",
		zap.String("environment", cfg.Environment),
		zap.String("port", cfg.Port),
		zap.Bool("redis_enabled", cfg.Redis.Enabled),
		zap.Int("max_concurrent", cfg.Ingest.MaxConcurrent),
		zap.Duration("request_delay", cfg.Ingest.RequestDelay),
	)
	return cfg
}

// RequireProvider checks that provider credentials are present
func (c *Config) RequireProvider() error {
	if c.Provider.Login == "" || c.Provider.Password == "" {
		return ErrMissingProviderCredentials
	}
	return nil
}

type envReader struct {
	log *zap.Logger
}

func (r envReader) str(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func (r envReader) int(key string, def int) int {
	raw := r.str(key, "")
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		r.log.Warn("invalid integer, using default", zap.String("key", key), zap.String("value", raw), zap.Int("default", def))
		return def
	}
	return v
}

func (r envReader) float(key string, def float64) float64 {
	raw := r.str(key, "")
	if raw == "" {
		return def
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		r.log.Warn("invalid number, using default", zap.String("key", key), zap.String("value", raw), zap.Float64("default", def))
		return def
	}
	return v
}

func (r envReader) bool(key string, def bool) bool {
	raw := r.str(key, "")
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		r.log.Warn("invalid boolean, using default", zap.String("key", key), zap.String("value", raw), zap.Bool("default", def))
		return def
	}
	return v
}

func (r envReader) duration(key string, def time.Duration) time.Duration {
	raw := r.str(key, "")
	if raw == "" {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		r.log.Warn("invalid duration, using default", zap.String("key", key), zap.String("value", raw), zap.Duration("default", def))
		return def
	}
	return v
}
