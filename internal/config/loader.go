package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "sentinel.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// The YAML file is optional; a missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "SENTINEL_PORT")
	setString(&cfg.Server.CORSOrigin, "SENTINEL_CORS_ORIGIN")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "SENTINEL_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "SENTINEL_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "SENTINEL_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "SENTINEL_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "SENTINEL_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setDuration(&cfg.Judges.Timeout, "SENTINEL_JUDGE_TIMEOUT")
	setInt(&cfg.Judges.MaxTokens, "SENTINEL_JUDGE_MAX_TOKENS")
	setInt64(&cfg.Guardian.CriticalValueMultiplier, "SENTINEL_CRITICAL_VALUE_MULTIPLIER")
	setInt64(&cfg.Guardian.CriticalMintMultiplier, "SENTINEL_CRITICAL_MINT_MULTIPLIER")
	setInt64(&cfg.Guardian.MediumValueMultiplier, "SENTINEL_MEDIUM_VALUE_MULTIPLIER")
	setDuration(&cfg.Guardian.MediumAppealWindow, "SENTINEL_MEDIUM_APPEAL_WINDOW")
	setDuration(&cfg.Guardian.LowAppealWindow, "SENTINEL_LOW_APPEAL_WINDOW")
	setInt64(&cfg.Guardian.AppealLeniency, "SENTINEL_APPEAL_LENIENCY")
	setDuration(&cfg.Guardian.DailyWindow, "SENTINEL_DAILY_WINDOW")
	setInt(&cfg.Guardian.IncidentCap, "SENTINEL_INCIDENT_CAP")
	setInt64(&cfg.Cache.PolicyMaxSizeMB, "SENTINEL_CACHE_POLICY_SIZE_MB")
	setDuration(&cfg.Cache.PolicyTTL, "SENTINEL_CACHE_POLICY_TTL")
	setString(&cfg.Logging.Level, "SENTINEL_LOG_LEVEL")
	setString(&cfg.Logging.Service, "SENTINEL_LOG_SERVICE")
	setInt(&cfg.Breaker.MaxFailures, "SENTINEL_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "SENTINEL_BREAKER_TIMEOUT")
	setFloat64(&cfg.Rate.RequestsPerSecond, "SENTINEL_RATE_RPS")
	setInt(&cfg.Rate.Burst, "SENTINEL_RATE_BURST")
	setString(&cfg.Telemetry.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setBool(&cfg.Telemetry.Insecure, "SENTINEL_OTEL_INSECURE")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.NATS.URL == "" {
		return errors.New("nats.url is required")
	}
	if len(cfg.Judges.Endpoints) < 2 {
		return errors.New("judges.endpoints requires at least two judges")
	}
	if cfg.Judges.Timeout <= 0 {
		return errors.New("judges.timeout must be positive")
	}
	if cfg.Guardian.CriticalValueMultiplier < cfg.Guardian.MediumValueMultiplier {
		return errors.New("guardian.critical_value_multiplier must be >= medium_value_multiplier")
	}
	if cfg.Guardian.IncidentCap < 100 {
		return errors.New("guardian.incident_cap must be >= 100")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Rate.Burst < 1 {
		return errors.New("rate.burst must be >= 1")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
