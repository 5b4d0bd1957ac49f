package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "patternwatch.yaml"

// envPrefix prefixes every environment override.
const envPrefix = "PATTERNWATCH_"

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
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from the operator
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
	setString(&cfg.Server.Port, "PORT")
	setString(&cfg.Server.CORSOrigin, "CORS_ORIGIN")

	setString(&cfg.Remote.URL, "REMOTE_URL")
	setDuration(&cfg.Remote.ResponseHeaderTimeout, "REMOTE_HEADER_TIMEOUT")
	setInt(&cfg.Remote.ChunkSize, "REMOTE_CHUNK_SIZE")

	setString(&cfg.Logging.Level, "LOG_LEVEL")
	setString(&cfg.Logging.Service, "LOG_SERVICE")
	setBool(&cfg.Logging.Async, "LOG_ASYNC")

	setInt(&cfg.Breaker.MaxFailures, "BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "BREAKER_TIMEOUT")

	setInt64(&cfg.Cache.L1MaxSizeMB, "CACHE_L1_SIZE_MB")
	setDuration(&cfg.Cache.TTL, "CACHE_TTL")

	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.NATS.SubjectPrefix, "NATS_SUBJECT_PREFIX")

	setString(&cfg.Telemetry.OTLPEndpoint, "OTLP_ENDPOINT")
	setString(&cfg.Telemetry.ServiceName, "OTEL_SERVICE_NAME")

	setDuration(&cfg.Views.WorkerStartFallback, "WORKER_START_FALLBACK")
	setFloat64(&cfg.Views.MinBarWidth, "MIN_BAR_WIDTH")

	setInt(&cfg.Limits.MaxTaskLength, "MAX_TASK_LENGTH")
	setInt64(&cfg.Limits.MaxRequestBodySize, "MAX_REQUEST_BODY_SIZE")
	setFloat64(&cfg.Limits.SubmitRate, "SUBMIT_RATE")
	setInt(&cfg.Limits.SubmitBurst, "SUBMIT_BURST")
}

func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Remote.URL == "" {
		return errors.New("remote.url is required")
	}
	u, err := url.Parse(cfg.Remote.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("remote.url must be an absolute http(s) URL, got %q", cfg.Remote.URL)
	}
	if cfg.Remote.ChunkSize < 1 {
		return errors.New("remote.chunk_size must be >= 1")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Cache.L1MaxSizeMB < 1 {
		return errors.New("cache.l1_max_size_mb must be >= 1")
	}
	if cfg.NATS.URL != "" && strings.TrimSpace(cfg.NATS.SubjectPrefix) == "" {
		return errors.New("nats.subject_prefix is required when nats.url is set")
	}
	if cfg.Views.WorkerStartFallback < 0 {
		return errors.New("views.worker_start_fallback must be >= 0")
	}
	if cfg.Views.MinBarWidth < 0 || cfg.Views.MinBarWidth > 1 {
		return errors.New("views.min_bar_width must be within [0, 1]")
	}
	if cfg.Limits.MaxTaskLength < 1 {
		return errors.New("limits.max_task_length must be >= 1")
	}
	if cfg.Limits.MaxRequestBodySize < 1 {
		return errors.New("limits.max_request_body_size must be >= 1")
	}
	if cfg.Limits.SubmitRate < 0 {
		return errors.New("limits.submit_rate must be >= 0")
	}
	if cfg.Limits.SubmitRate > 0 && cfg.Limits.SubmitBurst < 1 {
		return errors.New("limits.submit_burst must be >= 1 when submit_rate is set")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(envPrefix + key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(envPrefix + key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(envPrefix + key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(envPrefix + key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(envPrefix + key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(envPrefix + key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

// CLIFlags holds command-line overrides. Nil fields were not set on the
// command line and leave the loaded value untouched.
type CLIFlags struct {
	ConfigPath *string
	Port       *string
	LogLevel   *string
	RemoteURL  *string
	NatsURL    *string
}

// LoadWithCLI loads the configuration with the full hierarchy:
// defaults < YAML < ENV < CLI flags. It returns the YAML path used.
func LoadWithCLI(flags CLIFlags) (*Config, string, error) {
	path := DefaultConfigFile
	if flags.ConfigPath != nil && *flags.ConfigPath != "" {
		path = *flags.ConfigPath
	}

	cfg := Defaults()
	if err := loadYAML(&cfg, path); err != nil {
		return nil, path, fmt.Errorf("config yaml: %w", err)
	}
	loadEnv(&cfg)
	applyCLI(&cfg, flags)

	if err := validate(&cfg); err != nil {
		return nil, path, fmt.Errorf("config validate: %w", err)
	}
	return &cfg, path, nil
}

func applyCLI(cfg *Config, flags CLIFlags) {
	if flags.Port != nil {
		cfg.Server.Port = *flags.Port
	}
	if flags.LogLevel != nil {
		cfg.Logging.Level = *flags.LogLevel
	}
	if flags.RemoteURL != nil {
		cfg.Remote.URL = *flags.RemoteURL
	}
	if flags.NatsURL != nil {
		cfg.NATS.URL = *flags.NatsURL
	}
}
