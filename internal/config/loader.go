package config

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "eventgate.yaml"

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

// CLIFlags holds command-line overrides. Nil fields were not set.
type CLIFlags struct {
	ConfigPath *string
	Port       *string
	LogLevel   *string
	BridgeURL  *string
}

// ParseFlags parses serve flags from args. Only flags that were actually
// passed are populated.
func ParseFlags(args []string) (CLIFlags, error) {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)

	var (
		configPath, port, logLevel, bridgeURL string
	)
	fs.StringVar(&configPath, "config", "", "path to YAML config file")
	fs.StringVar(&configPath, "c", "", "path to YAML config file (shorthand)")
	fs.StringVar(&port, "port", "", "HTTP listen port")
	fs.StringVar(&port, "p", "", "HTTP listen port (shorthand)")
	fs.StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	fs.StringVar(&bridgeURL, "bridge-url", "", "shared pub/sub backend URL (nats://, redis://)")

	if err := fs.Parse(args); err != nil {
		return CLIFlags{}, err
	}

	var out CLIFlags
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "config", "c":
			out.ConfigPath = &configPath
		case "port", "p":
			out.Port = &port
		case "log-level":
			out.LogLevel = &logLevel
		case "bridge-url":
			out.BridgeURL = &bridgeURL
		}
	})
	return out, nil
}

// LoadWithCLI loads configuration with CLI flags as the highest precedence
// layer. It returns the resolved YAML path alongside the config.
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
	if flags.BridgeURL != nil {
		cfg.Bridge.URL = *flags.BridgeURL
	}
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is operator supplied
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
	setString(&cfg.Server.Port, "EVENTGATE_PORT")
	setString(&cfg.Server.CORSOrigin, "EVENTGATE_CORS_ORIGIN")
	setDuration(&cfg.Server.ShutdownTimeout, "EVENTGATE_SHUTDOWN_TIMEOUT")

	setDuration(&cfg.WS.WriteTimeout, "EVENTGATE_WS_WRITE_TIMEOUT")
	setInt64(&cfg.WS.ReadLimit, "EVENTGATE_WS_READ_LIMIT")

	// Bridge
	setString(&cfg.Bridge.URL, "BRIDGE_URL")
	setString(&cfg.Bridge.URL, "EVENTGATE_BRIDGE_URL")
	setString(&cfg.Bridge.ChannelPrefix, "EVENTGATE_BRIDGE_CHANNEL_PREFIX")
	setInt(&cfg.Bridge.QueueSize, "EVENTGATE_BRIDGE_QUEUE_SIZE")
	setDuration(&cfg.Bridge.DedupTTL, "EVENTGATE_BRIDGE_DEDUP_TTL")
	setInt64(&cfg.Bridge.DedupMaxBytes, "EVENTGATE_BRIDGE_DEDUP_MAX_BYTES")

	setInt(&cfg.Breaker.MaxFailures, "EVENTGATE_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "EVENTGATE_BREAKER_TIMEOUT")

	// Client
	setDuration(&cfg.Client.ReconnectDelay, "EVENTGATE_CLIENT_RECONNECT_DELAY")
	setDuration(&cfg.Client.MaxReconnectDelay, "EVENTGATE_CLIENT_MAX_RECONNECT_DELAY")
	setInt(&cfg.Client.MaxRetries, "EVENTGATE_CLIENT_MAX_RETRIES")

	setString(&cfg.Logging.Level, "EVENTGATE_LOG_LEVEL")
	setString(&cfg.Logging.Service, "EVENTGATE_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "EVENTGATE_LOG_ASYNC")

	// OpenTelemetry
	setBool(&cfg.OTEL.Enabled, "EVENTGATE_OTEL_ENABLED")
	setString(&cfg.OTEL.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setString(&cfg.OTEL.ServiceName, "OTEL_SERVICE_NAME")
	setBool(&cfg.OTEL.Insecure, "EVENTGATE_OTEL_INSECURE")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.WS.WriteTimeout <= 0 {
		return errors.New("ws.write_timeout must be > 0")
	}
	if cfg.Bridge.URL != "" {
		u, err := url.Parse(cfg.Bridge.URL)
		if err != nil {
			return fmt.Errorf("bridge.url: %w", err)
		}
		switch u.Scheme {
		case "nats", "tls", "redis", "rediss", "memory":
		default:
			return fmt.Errorf("bridge.url scheme %q is not supported", u.Scheme)
		}
	}
	if cfg.Bridge.QueueSize < 1 {
		return errors.New("bridge.queue_size must be >= 1")
	}
	if cfg.Bridge.DedupMaxBytes <= 0 {
		return errors.New("bridge.dedup_max_bytes must be > 0")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Client.ReconnectDelay <= 0 {
		return errors.New("client.reconnect_delay must be > 0")
	}
	if cfg.Client.MaxReconnectDelay < cfg.Client.ReconnectDelay {
		return errors.New("client.max_reconnect_delay must be >= client.reconnect_delay")
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
