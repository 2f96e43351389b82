package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "cowork.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// The YAML path may be overridden with COWORK_CONFIG; a missing file is not
// an error.
func Load() (*Config, error) {
	path := DefaultConfigFile
	if v := os.Getenv("COWORK_CONFIG"); v != "" {
		path = v
	}
	return LoadFrom(path)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
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
	data, err := os.ReadFile(path) //nolint:gosec // G304: operator-supplied config path
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
	setString(&cfg.Server.Port, "COWORK_PORT")
	setString(&cfg.Server.CORSOrigin, "COWORK_CORS_ORIGIN")
	setDuration(&cfg.Server.ReadTimeout, "COWORK_READ_TIMEOUT")
	setDuration(&cfg.Server.ShutdownTimeout, "COWORK_SHUTDOWN_TIMEOUT")
	setFloat64(&cfg.Server.CheckRate, "COWORK_CHECK_RATE")
	setInt(&cfg.Server.CheckBurst, "COWORK_CHECK_BURST")
	setDuration(&cfg.Server.IdempotencyTTL, "COWORK_IDEMPOTENCY_TTL")

	setString(&cfg.Store.Driver, "COWORK_STORE_DRIVER")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "COWORK_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "COWORK_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "COWORK_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "COWORK_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "COWORK_PG_HEALTH_CHECK")
	setString(&cfg.SQLite.Path, "COWORK_SQLITE_PATH")

	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.NATS.SubjectPrefix, "COWORK_NATS_SUBJECT_PREFIX")
	setString(&cfg.NATS.PolicyBucket, "COWORK_NATS_POLICY_BUCKET")

	setString(&cfg.Logging.Level, "COWORK_LOG_LEVEL")
	setString(&cfg.Logging.Service, "COWORK_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "COWORK_LOG_ASYNC")

	setString(&cfg.Policy.WorkspaceRoot, "COWORK_WORKSPACE_ROOT")
	setInt64(&cfg.Policy.CacheSizeMB, "COWORK_POLICY_CACHE_MB")
	setDuration(&cfg.Policy.CacheTTL, "COWORK_POLICY_CACHE_TTL")

	setInt(&cfg.Audit.QueueSize, "COWORK_AUDIT_QUEUE_SIZE")
	setInt(&cfg.Audit.Workers, "COWORK_AUDIT_WORKERS")
	setInt(&cfg.Audit.Retries, "COWORK_AUDIT_RETRIES")
	setDuration(&cfg.Audit.RetryDelay, "COWORK_AUDIT_RETRY_DELAY")
	setString(&cfg.Audit.SpoolPath, "COWORK_AUDIT_SPOOL")
	setInt(&cfg.Audit.Breaker.MaxFailures, "COWORK_AUDIT_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Audit.Breaker.Timeout, "COWORK_AUDIT_BREAKER_TIMEOUT")

	setBool(&cfg.MCP.Enabled, "COWORK_MCP_ENABLED")
	setString(&cfg.MCP.Path, "COWORK_MCP_PATH")
	setString(&cfg.MCP.APIKey, "COWORK_MCP_API_KEY")

	setBool(&cfg.OTEL.Enabled, "COWORK_OTEL_ENABLED")
	setString(&cfg.OTEL.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setBool(&cfg.OTEL.Insecure, "COWORK_OTEL_INSECURE")
	setString(&cfg.OTEL.ServiceName, "OTEL_SERVICE_NAME")
	setFloat64(&cfg.OTEL.SampleRate, "COWORK_OTEL_SAMPLE_RATE")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Server.CheckRate < 0 {
		return errors.New("server.check_rate must be >= 0")
	}
	if cfg.Server.CheckRate > 0 && cfg.Server.CheckBurst < 1 {
		return errors.New("server.check_burst must be >= 1 when check_rate is set")
	}
	switch cfg.Store.Driver {
	case "postgres":
		if cfg.Postgres.DSN == "" {
			return errors.New("postgres.dsn is required")
		}
		if cfg.Postgres.MaxConns < 1 {
			return errors.New("postgres.max_conns must be >= 1")
		}
	case "sqlite":
		if cfg.SQLite.Path == "" {
			return errors.New("sqlite.path is required")
		}
	default:
		return fmt.Errorf("store.driver must be postgres or sqlite, got %q", cfg.Store.Driver)
	}
	if cfg.NATS.SubjectPrefix == "" || strings.ContainsAny(cfg.NATS.SubjectPrefix, "*> ") {
		return fmt.Errorf("nats.subject_prefix %q is not a valid subject prefix", cfg.NATS.SubjectPrefix)
	}
	if cfg.Policy.CacheSizeMB < 0 {
		return errors.New("policy.cache_size_mb must be >= 0")
	}
	if cfg.Audit.QueueSize < 1 {
		return errors.New("audit.queue_size must be >= 1")
	}
	if cfg.Audit.Workers < 1 {
		return errors.New("audit.workers must be >= 1")
	}
	if cfg.Audit.Retries < 0 {
		return errors.New("audit.retries must be >= 0")
	}
	if cfg.Audit.Breaker.MaxFailures < 1 {
		return errors.New("audit.breaker.max_failures must be >= 1")
	}
	if cfg.OTEL.SampleRate < 0 || cfg.OTEL.SampleRate > 1 {
		return errors.New("otel.sample_rate must be within [0,1]")
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
