// Package config provides a standardized way to load, validate, and access application configuration.
// It supports loading configuration from environment variables, files (JSON/YAML), and explicit overrides.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mcncl/rpc-middleware/pkg/errors"
)

// Config holds all application configuration
type Config struct {
	Server      ServerConfig      `json:"server" yaml:"server"`
	Deadline    DeadlineConfig    `json:"deadline" yaml:"deadline"`
	Logging     LoggingConfig     `json:"logging" yaml:"logging"`
	Metrics     MetricsConfig     `json:"metrics" yaml:"metrics"`
	Tracing     TracingConfig     `json:"tracing" yaml:"tracing"`
	Events      EventsConfig      `json:"events" yaml:"events"`
	Compression CompressionConfig `json:"compression" yaml:"compression"`
}

// ServerConfig holds HTTP server related configuration
type ServerConfig struct {
	Port            int           `json:"port" yaml:"port"`
	ReadTimeout     time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout" yaml:"write_timeout"`
	IdleTimeout     time.Duration `json:"idle_timeout" yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// DeadlineConfig holds the server-side gRPC deadline ceiling. A zero
// ServerTimeout leaves deadlines entirely to clients.
type DeadlineConfig struct {
	ServerTimeout time.Duration `json:"server_timeout" yaml:"server_timeout"`
}

// LoggingConfig holds logger configuration
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// MetricsConfig holds Prometheus configuration
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"`
}

// TracingConfig holds OpenTelemetry configuration
type TracingConfig struct {
	Enabled       bool    `json:"enabled" yaml:"enabled"`
	ServiceName   string  `json:"service_name" yaml:"service_name"`
	OTLPEndpoint  string  `json:"otlp_endpoint" yaml:"otlp_endpoint"`
	SamplingRatio float64 `json:"sampling_ratio" yaml:"sampling_ratio"`
}

// EventsConfig holds call event publishing configuration
type EventsConfig struct {
	Enabled          bool          `json:"enabled" yaml:"enabled"`
	ProjectID        string        `json:"project_id" yaml:"project_id"`
	TopicID          string        `json:"topic_id" yaml:"topic_id"`
	CredentialsFile  string        `json:"credentials_file" yaml:"credentials_file"`
	PublishTimeout   time.Duration `json:"publish_timeout" yaml:"publish_timeout"`
	BreakerThreshold int           `json:"breaker_threshold" yaml:"breaker_threshold"`
	BreakerTimeout   time.Duration `json:"breaker_timeout" yaml:"breaker_timeout"`
}

// CompressionConfig holds HTTP response compression configuration
type CompressionConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	Level   int  `json:"level" yaml:"level"`
	MinSize int  `json:"min_size" yaml:"min_size"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     5 * time.Second,
			WriteTimeout:    0, // streaming responses must not be cut off
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Tracing: TracingConfig{
			ServiceName:   "rpc-middleware",
			OTLPEndpoint:  "localhost:4317",
			SamplingRatio: 0.1,
		},
		Events: EventsConfig{
			PublishTimeout:   5 * time.Second,
			BreakerThreshold: 5,
			BreakerTimeout:   30 * time.Second,
		},
		Compression: CompressionConfig{
			Enabled: true,
			MinSize: 1024,
		},
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return errors.NewValidationError("Server.Port must be between 1 and 65535")
	}
	if c.Server.ReadTimeout < 0 || c.Server.WriteTimeout < 0 || c.Server.IdleTimeout < 0 || c.Server.ShutdownTimeout < 0 {
		return errors.NewValidationError("Server timeouts cannot be negative")
	}

	if c.Deadline.ServerTimeout < 0 {
		return errors.NewValidationError("Deadline.ServerTimeout cannot be negative")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if _, ok := validLogLevels[strings.ToLower(c.Logging.Level)]; !ok {
		return errors.NewValidationError("Logging.Level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{
		"json": true,
		"text": true,
		"dev":  true,
	}
	if _, ok := validFormats[strings.ToLower(c.Logging.Format)]; !ok {
		return errors.NewValidationError("Logging.Format must be one of: json, text, dev")
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return errors.NewValidationError("Metrics.Path must start with /")
	}

	if c.Tracing.Enabled {
		if c.Tracing.OTLPEndpoint == "" {
			return errors.NewValidationError("Tracing.OTLPEndpoint is required when tracing is enabled")
		}
		if c.Tracing.SamplingRatio < 0 || c.Tracing.SamplingRatio > 1 {
			return errors.NewValidationError("Tracing.SamplingRatio must be between 0 and 1")
		}
	}

	if c.Events.Enabled {
		if c.Events.ProjectID == "" {
			return errors.NewValidationError("Events.ProjectID is required when events are enabled")
		}
		if c.Events.TopicID == "" {
			return errors.NewValidationError("Events.TopicID is required when events are enabled")
		}
		if c.Events.PublishTimeout <= 0 {
			return errors.NewValidationError("Events.PublishTimeout must be positive")
		}
		if c.Events.BreakerThreshold < 1 {
			return errors.NewValidationError("Events.BreakerThreshold must be at least 1")
		}
	}

	if c.Compression.Level < -2 || c.Compression.Level > 9 {
		return errors.NewValidationError("Compression.Level must be between -2 and 9")
	}
	if c.Compression.MinSize < 0 {
		return errors.NewValidationError("Compression.MinSize cannot be negative")
	}

	return nil
}

// LoadFromEnv loads configuration from environment variables on top of the
// defaults.
func LoadFromEnv() (*Config, error) {
	cfg := DefaultConfig()
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overwrites cfg with every environment variable that is set.
func applyEnv(cfg *Config) error {
	// Server config
	if val := os.Getenv("PORT"); val != "" {
		port, err := strconv.Atoi(val)
		if err != nil {
			return errors.NewValidationError("PORT must be an integer")
		}
		cfg.Server.Port = port
	}
	if err := envDuration("READ_TIMEOUT", &cfg.Server.ReadTimeout); err != nil {
		return err
	}
	if err := envDuration("WRITE_TIMEOUT", &cfg.Server.WriteTimeout); err != nil {
		return err
	}
	if err := envDuration("IDLE_TIMEOUT", &cfg.Server.IdleTimeout); err != nil {
		return err
	}
	if err := envDuration("SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout); err != nil {
		return err
	}

	// Deadline config
	if err := envDuration("SERVER_TIMEOUT", &cfg.Deadline.ServerTimeout); err != nil {
		return err
	}

	// Logging config
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		cfg.Logging.Format = val
	}

	// Metrics config
	envBool("ENABLE_METRICS", &cfg.Metrics.Enabled)
	if val := os.Getenv("METRICS_PATH"); val != "" {
		cfg.Metrics.Path = val
	}

	// Tracing config
	envBool("ENABLE_TRACING", &cfg.Tracing.Enabled)
	if val := os.Getenv("OTEL_SERVICE_NAME"); val != "" {
		cfg.Tracing.ServiceName = val
	}
	if val := os.Getenv("OTLP_ENDPOINT"); val != "" {
		cfg.Tracing.OTLPEndpoint = val
	}
	if val := os.Getenv("TRACE_SAMPLING_RATIO"); val != "" {
		ratio, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return errors.NewValidationError("TRACE_SAMPLING_RATIO must be a number")
		}
		cfg.Tracing.SamplingRatio = ratio
	}

	// Events config
	envBool("ENABLE_EVENTS", &cfg.Events.Enabled)
	if val := os.Getenv("PROJECT_ID"); val != "" {
		cfg.Events.ProjectID = val
	}
	if val := os.Getenv("TOPIC_ID"); val != "" {
		cfg.Events.TopicID = val
	}
	if val := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); val != "" {
		cfg.Events.CredentialsFile = val
	}
	if err := envDuration("PUBLISH_TIMEOUT", &cfg.Events.PublishTimeout); err != nil {
		return err
	}
	if val := os.Getenv("BREAKER_THRESHOLD"); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil {
			return errors.NewValidationError("BREAKER_THRESHOLD must be an integer")
		}
		cfg.Events.BreakerThreshold = n
	}
	if err := envDuration("BREAKER_TIMEOUT", &cfg.Events.BreakerTimeout); err != nil {
		return err
	}

	// Compression config
	envBool("ENABLE_COMPRESSION", &cfg.Compression.Enabled)
	if val := os.Getenv("COMPRESSION_LEVEL"); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil {
			return errors.NewValidationError("COMPRESSION_LEVEL must be an integer")
		}
		cfg.Compression.Level = n
	}
	if val := os.Getenv("COMPRESSION_MIN_SIZE"); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil {
			return errors.NewValidationError("COMPRESSION_MIN_SIZE must be an integer")
		}
		cfg.Compression.MinSize = n
	}

	return nil
}

func envBool(key string, dst *bool) {
	if val := os.Getenv(key); val != "" {
		*dst = strings.ToLower(val) == "true" || val == "1"
	}
}

func envDuration(key string, dst *time.Duration) error {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	d, err := parseDuration(val)
	if err != nil {
		return errors.WithDetails(
			errors.NewValidationError(key+" must be a duration or a number of seconds"),
			map[string]interface{}{"value": val},
		)
	}
	*dst = d
	return nil
}

// parseDuration accepts either a whole number of seconds or a Go duration
// string.
func parseDuration(s string) (time.Duration, error) {
	if secs, err := strconv.Atoi(s); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return time.ParseDuration(s)
}

// fileConfig mirrors Config for decoding. Durations are strings and
// booleans are pointers so that a file can turn a default off.
type fileConfig struct {
	Server struct {
		Port            int    `json:"port" yaml:"port"`
		ReadTimeout     string `json:"read_timeout" yaml:"read_timeout"`
		WriteTimeout    string `json:"write_timeout" yaml:"write_timeout"`
		IdleTimeout     string `json:"idle_timeout" yaml:"idle_timeout"`
		ShutdownTimeout string `json:"shutdown_timeout" yaml:"shutdown_timeout"`
	} `json:"server" yaml:"server"`
	Deadline struct {
		ServerTimeout string `json:"server_timeout" yaml:"server_timeout"`
	} `json:"deadline" yaml:"deadline"`
	Logging struct {
		Level  string `json:"level" yaml:"level"`
		Format string `json:"format" yaml:"format"`
	} `json:"logging" yaml:"logging"`
	Metrics struct {
		Enabled *bool  `json:"enabled" yaml:"enabled"`
		Path    string `json:"path" yaml:"path"`
	} `json:"metrics" yaml:"metrics"`
	Tracing struct {
		Enabled       *bool    `json:"enabled" yaml:"enabled"`
		ServiceName   string   `json:"service_name" yaml:"service_name"`
		OTLPEndpoint  string   `json:"otlp_endpoint" yaml:"otlp_endpoint"`
		SamplingRatio *float64 `json:"sampling_ratio" yaml:"sampling_ratio"`
	} `json:"tracing" yaml:"tracing"`
	Events struct {
		Enabled          *bool  `json:"enabled" yaml:"enabled"`
		ProjectID        string `json:"project_id" yaml:"project_id"`
		TopicID          string `json:"topic_id" yaml:"topic_id"`
		CredentialsFile  string `json:"credentials_file" yaml:"credentials_file"`
		PublishTimeout   string `json:"publish_timeout" yaml:"publish_timeout"`
		BreakerThreshold int    `json:"breaker_threshold" yaml:"breaker_threshold"`
		BreakerTimeout   string `json:"breaker_timeout" yaml:"breaker_timeout"`
	} `json:"events" yaml:"events"`
	Compression struct {
		Enabled *bool `json:"enabled" yaml:"enabled"`
		Level   *int  `json:"level" yaml:"level"`
		MinSize *int  `json:"min_size" yaml:"min_size"`
	} `json:"compression" yaml:"compression"`
}

// LoadFromFile loads configuration from a JSON or YAML file on top of the
// defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}

	var fc fileConfig

	// Determine file type from extension
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json":
		if err := json.Unmarshal(data, &fc); err != nil {
			return nil, errors.Wrap(err, "failed to parse JSON config file")
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return nil, errors.Wrap(err, "failed to parse YAML config file")
		}
	default:
		return nil, errors.NewValidationError("unsupported config file format: " + ext)
	}

	cfg := DefaultConfig()
	if err := fc.apply(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (fc *fileConfig) apply(cfg *Config) error {
	durations := []struct {
		name string
		val  string
		dst  *time.Duration
	}{
		{"server.read_timeout", fc.Server.ReadTimeout, &cfg.Server.ReadTimeout},
		{"server.write_timeout", fc.Server.WriteTimeout, &cfg.Server.WriteTimeout},
		{"server.idle_timeout", fc.Server.IdleTimeout, &cfg.Server.IdleTimeout},
		{"server.shutdown_timeout", fc.Server.ShutdownTimeout, &cfg.Server.ShutdownTimeout},
		{"deadline.server_timeout", fc.Deadline.ServerTimeout, &cfg.Deadline.ServerTimeout},
		{"events.publish_timeout", fc.Events.PublishTimeout, &cfg.Events.PublishTimeout},
		{"events.breaker_timeout", fc.Events.BreakerTimeout, &cfg.Events.BreakerTimeout},
	}
	for _, d := range durations {
		if d.val == "" {
			continue
		}
		v, err := parseDuration(d.val)
		if err != nil {
			return errors.WithDetails(
				errors.NewValidationError("invalid duration in config file"),
				map[string]interface{}{"field": d.name, "value": d.val},
			)
		}
		*d.dst = v
	}

	if fc.Server.Port != 0 {
		cfg.Server.Port = fc.Server.Port
	}

	if fc.Logging.Level != "" {
		cfg.Logging.Level = fc.Logging.Level
	}
	if fc.Logging.Format != "" {
		cfg.Logging.Format = fc.Logging.Format
	}

	if fc.Metrics.Enabled != nil {
		cfg.Metrics.Enabled = *fc.Metrics.Enabled
	}
	if fc.Metrics.Path != "" {
		cfg.Metrics.Path = fc.Metrics.Path
	}

	if fc.Tracing.Enabled != nil {
		cfg.Tracing.Enabled = *fc.Tracing.Enabled
	}
	if fc.Tracing.ServiceName != "" {
		cfg.Tracing.ServiceName = fc.Tracing.ServiceName
	}
	if fc.Tracing.OTLPEndpoint != "" {
		cfg.Tracing.OTLPEndpoint = fc.Tracing.OTLPEndpoint
	}
	if fc.Tracing.SamplingRatio != nil {
		cfg.Tracing.SamplingRatio = *fc.Tracing.SamplingRatio
	}

	if fc.Events.Enabled != nil {
		cfg.Events.Enabled = *fc.Events.Enabled
	}
	if fc.Events.ProjectID != "" {
		cfg.Events.ProjectID = fc.Events.ProjectID
	}
	if fc.Events.TopicID != "" {
		cfg.Events.TopicID = fc.Events.TopicID
	}
	if fc.Events.CredentialsFile != "" {
		cfg.Events.CredentialsFile = fc.Events.CredentialsFile
	}
	if fc.Events.BreakerThreshold != 0 {
		cfg.Events.BreakerThreshold = fc.Events.BreakerThreshold
	}

	if fc.Compression.Enabled != nil {
		cfg.Compression.Enabled = *fc.Compression.Enabled
	}
	if fc.Compression.Level != nil {
		cfg.Compression.Level = *fc.Compression.Level
	}
	if fc.Compression.MinSize != nil {
		cfg.Compression.MinSize = *fc.Compression.MinSize
	}

	return nil
}

// MergeConfigs merges two configurations, with the second taking precedence.
// Only non-zero values override, so booleans can be switched on but not off.
func MergeConfigs(base, override *Config) *Config {
	result := *base

	// Only override non-zero values
	if override == nil {
		return &result
	}

	// Server config
	if override.Server.Port != 0 {
		result.Server.Port = override.Server.Port
	}
	if override.Server.ReadTimeout != 0 {
		result.Server.ReadTimeout = override.Server.ReadTimeout
	}
	if override.Server.WriteTimeout != 0 {
		result.Server.WriteTimeout = override.Server.WriteTimeout
	}
	if override.Server.IdleTimeout != 0 {
		result.Server.IdleTimeout = override.Server.IdleTimeout
	}
	if override.Server.ShutdownTimeout != 0 {
		result.Server.ShutdownTimeout = override.Server.ShutdownTimeout
	}

	// Deadline config
	if override.Deadline.ServerTimeout != 0 {
		result.Deadline.ServerTimeout = override.Deadline.ServerTimeout
	}

	// Logging config
	if override.Logging.Level != "" {
		result.Logging.Level = override.Logging.Level
	}
	if override.Logging.Format != "" {
		result.Logging.Format = override.Logging.Format
	}

	// Metrics config
	if override.Metrics.Enabled {
		result.Metrics.Enabled = true
	}
	if override.Metrics.Path != "" {
		result.Metrics.Path = override.Metrics.Path
	}

	// Tracing config
	if override.Tracing.Enabled {
		result.Tracing.Enabled = true
	}
	if override.Tracing.ServiceName != "" {
		result.Tracing.ServiceName = override.Tracing.ServiceName
	}
	if override.Tracing.OTLPEndpoint != "" {
		result.Tracing.OTLPEndpoint = override.Tracing.OTLPEndpoint
	}
	if override.Tracing.SamplingRatio != 0 {
		result.Tracing.SamplingRatio = override.Tracing.SamplingRatio
	}

	// Events config
	if override.Events.Enabled {
		result.Events.Enabled = true
	}
	if override.Events.ProjectID != "" {
		result.Events.ProjectID = override.Events.ProjectID
	}
	if override.Events.TopicID != "" {
		result.Events.TopicID = override.Events.TopicID
	}
	if override.Events.CredentialsFile != "" {
		result.Events.CredentialsFile = override.Events.CredentialsFile
	}
	if override.Events.PublishTimeout != 0 {
		result.Events.PublishTimeout = override.Events.PublishTimeout
	}
	if override.Events.BreakerThreshold != 0 {
		result.Events.BreakerThreshold = override.Events.BreakerThreshold
	}
	if override.Events.BreakerTimeout != 0 {
		result.Events.BreakerTimeout = override.Events.BreakerTimeout
	}

	// Compression config
	if override.Compression.Enabled {
		result.Compression.Enabled = true
	}
	if override.Compression.Level != 0 {
		result.Compression.Level = override.Compression.Level
	}
	if override.Compression.MinSize != 0 {
		result.Compression.MinSize = override.Compression.MinSize
	}

	return &result
}

// Load loads the configuration from multiple sources with the following precedence:
// 1. Override (highest precedence)
// 2. Environment variables
// 3. Config file
// 4. Default values (lowest precedence)
func Load(configFile string, override *Config) (*Config, error) {
	// Start with default configuration
	cfg := DefaultConfig()

	// Load from file if provided
	if configFile != "" {
		fileCfg, err := LoadFromFile(configFile)
		if err != nil {
			return nil, err
		}
		cfg = fileCfg
	}

	// Environment variables only replace what they set
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	// Apply explicit overrides
	if override != nil {
		cfg = MergeConfigs(cfg, override)
	}

	// Validate the final configuration
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// String returns a string representation of the configuration
// with sensitive fields masked
func (c *Config) String() string {
	// Create a copy to avoid modifying the original
	copy := *c

	// Mask sensitive fields
	if copy.Events.CredentialsFile != "" {
		copy.Events.CredentialsFile = "********"
	}

	// Convert to JSON
	bytes, err := json.MarshalIndent(copy, "", "  ")
	if err != nil {
		return fmt.Sprintf("Error marshaling config: %v", err)
	}

	return string(bytes)
}
