// Package config provides hierarchical configuration loading for patternwatch.
// Precedence: defaults < YAML file < environment variables.
package config

import (
	"time"

	"github.com/Strob0t/patternwatch/internal/domain/results"
)

// Config holds all runtime configuration for the patternwatch service and CLI.
type Config struct {
	Server    Server    `yaml:"server"`
	Remote    Remote    `yaml:"remote"`
	Logging   Logging   `yaml:"logging"`
	Breaker   Breaker   `yaml:"breaker"`
	Cache     Cache     `yaml:"cache"`
	NATS      NATS      `yaml:"nats"`
	Telemetry Telemetry `yaml:"telemetry"`
	Views     Views     `yaml:"views"`
	Limits    Limits    `yaml:"limits"`
}

// Server holds HTTP server configuration.
type Server struct {
	Port       string `yaml:"port"`
	CORSOrigin string `yaml:"cors_origin"`
}

// Remote holds the agent service endpoint.
type Remote struct {
	URL                   string        `yaml:"url"`
	ResponseHeaderTimeout time.Duration `yaml:"response_header_timeout"` // 0 = no limit
	ChunkSize             int           `yaml:"chunk_size"`              // read buffer for the event stream
}

// Logging holds structured logging configuration.
type Logging struct {
	Level   string `yaml:"level"`
	Service string `yaml:"service"`
	Async   bool   `yaml:"async"`
}

// Breaker holds circuit breaker configuration.
type Breaker struct {
	MaxFailures int           `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Cache holds the results cache configuration.
type Cache struct {
	L1MaxSizeMB int64         `yaml:"l1_max_size_mb"`
	TTL         time.Duration `yaml:"ttl"`
}

// NATS holds the step sink configuration. An empty URL disables the sink.
type NATS struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// Telemetry holds OpenTelemetry export configuration. An empty endpoint
// disables export; instruments still work against no-op providers.
type Telemetry struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	ServiceName  string `yaml:"service_name"`
}

// Views holds the timeline heuristics.
type Views struct {
	WorkerStartFallback time.Duration `yaml:"worker_start_fallback"`
	MinBarWidth         float64       `yaml:"min_bar_width"`
}

// Options converts the view settings to builder options.
func (v Views) Options() results.Options {
	return results.Options{
		WorkerStartFallback: v.WorkerStartFallback,
		MinWidth:            v.MinBarWidth,
	}
}

// Limits holds input limits.
type Limits struct {
	MaxTaskLength      int     `yaml:"max_task_length"` // runes
	MaxRequestBodySize int64   `yaml:"max_request_body_size"`
	SubmitRate         float64 `yaml:"submit_rate"` // submits per second per client; 0 disables
	SubmitBurst        int     `yaml:"submit_burst"`
}

// Defaults returns a Config with sensible default values for local development.
func Defaults() Config {
	viewDefaults := results.DefaultOptions()
	return Config{
		Server: Server{
			Port:       "8080",
			CORSOrigin: "http://localhost:3000",
		},
		Remote: Remote{
			URL:                   "http://localhost:8000",
			ResponseHeaderTimeout: 60 * time.Second,
			ChunkSize:             4096,
		},
		Logging: Logging{
			Level:   "info",
			Service: "patternwatch",
		},
		Breaker: Breaker{
			MaxFailures: 5,
			Timeout:     30 * time.Second,
		},
		Cache: Cache{
			L1MaxSizeMB: 16,
			TTL:         10 * time.Minute,
		},
		NATS: NATS{
			SubjectPrefix: "patternwatch",
		},
		Telemetry: Telemetry{
			ServiceName: "patternwatch",
		},
		Views: Views{
			WorkerStartFallback: viewDefaults.WorkerStartFallback,
			MinBarWidth:         viewDefaults.MinWidth,
		},
		Limits: Limits{
			MaxTaskLength:      500,
			MaxRequestBodySize: 1 << 20,
			SubmitRate:         1,
			SubmitBurst:        5,
		},
	}
}
