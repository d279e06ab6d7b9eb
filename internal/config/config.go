// Package config provides hierarchical configuration loading for eventgate.
// Precedence: defaults < YAML file < environment variables < CLI flags.
package config

import "time"

// Config holds all runtime configuration for the gateway process.
type Config struct {
	Server  Server  `yaml:"server"`
	WS      WS      `yaml:"ws"`
	Bridge  Bridge  `yaml:"bridge"`
	Breaker Breaker `yaml:"breaker"`
	Client  Client  `yaml:"client"`
	Logging Logging `yaml:"logging"`
	OTEL    OTEL    `yaml:"otel"`
}

// Server holds HTTP server configuration.
type Server struct {
	Port            string        `yaml:"port"`
	CORSOrigin      string        `yaml:"cors_origin"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// WS holds websocket connection settings.
type WS struct {
	WriteTimeout time.Duration `yaml:"write_timeout"` // Per-frame write deadline (default: 5s)
	ReadLimit    int64         `yaml:"read_limit"`    // Max inbound frame size in bytes (default: 64 KiB)
}

// Bridge holds the shared pub/sub backend configuration.
// An empty URL selects single-instance, local-only delivery.
type Bridge struct {
	URL           string        `yaml:"url"`             // nats://, redis://, rediss:// or empty
	ChannelPrefix string        `yaml:"channel_prefix"`  // Prepended to broadcast-all / broadcast-tenant
	QueueSize     int           `yaml:"queue_size"`      // Outbound publish queue capacity (default: 1024)
	DedupTTL      time.Duration `yaml:"dedup_ttl"`       // Window for dropping duplicate envelopes (default: 1m)
	DedupMaxBytes int64         `yaml:"dedup_max_bytes"` // Cost budget of the dedup cache (default: 4 MiB)
}

// Breaker holds circuit breaker configuration for the bridge backend.
type Breaker struct {
	MaxFailures int           `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Client holds reconnect settings for the client connection manager.
type Client struct {
	ReconnectDelay    time.Duration `yaml:"reconnect_delay"`     // First retry delay (default: 5s)
	MaxReconnectDelay time.Duration `yaml:"max_reconnect_delay"` // Backoff ceiling (default: 1m)
	MaxRetries        int           `yaml:"max_retries"`         // 0 = retry forever
}

// Logging holds structured logging configuration.
type Logging struct {
	Level   string `yaml:"level"`
	Service string `yaml:"service"`
	Async   bool   `yaml:"async"`
}

// OTEL holds OpenTelemetry exporter configuration.
type OTEL struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service_name"`
	Insecure    bool   `yaml:"insecure"`
}

// Defaults returns a Config with sensible default values for local development.
func Defaults() Config {
	return Config{
		Server: Server{
			Port:            "8080",
			CORSOrigin:      "http://localhost:3000",
			ShutdownTimeout: 10 * time.Second,
		},
		WS: WS{
			WriteTimeout: 5 * time.Second,
			ReadLimit:    64 << 10,
		},
		Bridge: Bridge{
			QueueSize:     1024,
			DedupTTL:      time.Minute,
			DedupMaxBytes: 4 << 20,
		},
		Breaker: Breaker{
			MaxFailures: 5,
			Timeout:     30 * time.Second,
		},
		Client: Client{
			ReconnectDelay:    5 * time.Second,
			MaxReconnectDelay: time.Minute,
		},
		Logging: Logging{
			Level:   "info",
			Service: "eventgate",
		},
		OTEL: OTEL{
			Endpoint:    "localhost:4317",
			ServiceName: "eventgate",
			Insecure:    true,
		},
	}
}
