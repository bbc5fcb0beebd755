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
const DefaultConfigFile = "contentcloud.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
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
	setString(&cfg.Server.Port, "CONTENTCLOUD_PORT")
	setString(&cfg.Server.CORSOrigin, "CONTENTCLOUD_CORS_ORIGIN")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "CONTENTCLOUD_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "CONTENTCLOUD_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "CONTENTCLOUD_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "CONTENTCLOUD_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "CONTENTCLOUD_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.LLMProxy.URL, "CONTENTCLOUD_LLM_URL")
	setString(&cfg.LLMProxy.MasterKey, "CONTENTCLOUD_LLM_MASTER_KEY")
	setString(&cfg.LLMProxy.TextModel, "CONTENTCLOUD_LLM_TEXT_MODEL")
	setString(&cfg.Logging.Level, "CONTENTCLOUD_LOG_LEVEL")
	setString(&cfg.Logging.Service, "CONTENTCLOUD_LOG_SERVICE")
	setInt64(&cfg.Cache.MaxSizeMB, "CONTENTCLOUD_CACHE_SIZE_MB")
	setDuration(&cfg.Cache.SubscriptionTTL, "CONTENTCLOUD_CACHE_SUBSCRIPTION_TTL")
	setInt(&cfg.Breaker.MaxFailures, "CONTENTCLOUD_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "CONTENTCLOUD_BREAKER_TIMEOUT")
	setDuration(&cfg.Orchestrator.IdleTimeout, "CONTENTCLOUD_ORCH_IDLE_TIMEOUT")
	setDuration(&cfg.Orchestrator.SweepInterval, "CONTENTCLOUD_ORCH_SWEEP_INTERVAL")
	setInt(&cfg.Orchestrator.MaxParallel, "CONTENTCLOUD_ORCH_MAX_PARALLEL")
	setDuration(&cfg.Orchestrator.TaskTimeout, "CONTENTCLOUD_ORCH_TASK_TIMEOUT")
	setBool(&cfg.Orchestrator.AllowAllAgents, "CONTENTCLOUD_ORCH_ALLOW_ALL_AGENTS")
	setDuration(&cfg.Scheduler.PostInterval, "CONTENTCLOUD_SCHED_POST_INTERVAL")
	setDuration(&cfg.Scheduler.RuleInterval, "CONTENTCLOUD_SCHED_RULE_INTERVAL")
	setInt(&cfg.Scheduler.PublishRetries, "CONTENTCLOUD_SCHED_PUBLISH_RETRIES")
	setDuration(&cfg.Scheduler.PublishBackoff, "CONTENTCLOUD_SCHED_PUBLISH_BACKOFF")
	setInt(&cfg.Scheduler.RuleFailureThreshold, "CONTENTCLOUD_SCHED_RULE_FAILURE_THRESHOLD")
	setString(&cfg.Platforms.TelegramBotToken, "CONTENTCLOUD_TELEGRAM_BOT_TOKEN")
	setString(&cfg.Platforms.TelegramChatID, "CONTENTCLOUD_TELEGRAM_CHAT_ID")
	setString(&cfg.Platforms.TwitterBearerToken, "CONTENTCLOUD_TWITTER_BEARER_TOKEN")
	setString(&cfg.Platforms.InstagramUserID, "CONTENTCLOUD_INSTAGRAM_USER_ID")
	setString(&cfg.Platforms.InstagramAccessToken, "CONTENTCLOUD_INSTAGRAM_ACCESS_TOKEN")
	setString(&cfg.Telemetry.OTLPEndpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setString(&cfg.Secrets.TokenKey, "CONTENTCLOUD_TOKEN_KEY")
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
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Orchestrator.MaxParallel < 1 {
		return errors.New("orchestrator.max_parallel must be >= 1")
	}
	if cfg.Scheduler.PostInterval <= 0 || cfg.Scheduler.RuleInterval <= 0 {
		return errors.New("scheduler intervals must be positive")
	}
	if cfg.Scheduler.RuleFailureThreshold < 1 {
		return errors.New("scheduler.rule_failure_threshold must be >= 1")
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
