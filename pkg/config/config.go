// Package config loads and validates the gateway's configuration.
//
// Sources are layered in order of precedence: CLI flags > environment
// variables (GATEWAY_*) > YAML config file > built-in defaults, following
// the same viper/mapstructure layering the rest of this codebase's ambient
// stack uses for logging and telemetry.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/objectgate/gateway/internal/bytesize"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is the gateway's static configuration.
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (GATEWAY_*)
//  3. Configuration file (YAML)
//  4. Default values (lowest priority)
type Config struct {
	// Logging controls log output behavior.
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Telemetry controls OpenTelemetry distributed tracing.
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`

	// Server contains the HTTP server's own settings (shutdown timeout,
	// metrics port). The HTTP route surface itself (§6) is wired by the
	// out-of-scope handler layer.
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// Database configures the Postgres-backed metadata store.
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`

	// Storage configures the blob backend adapter.
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`

	// TUS configures the resumable upload subsystem.
	TUS TUSConfig `mapstructure:"tus" yaml:"tus"`

	// Upload configures object-upload limits enforced by the uploader.
	Upload UploadConfig `mapstructure:"upload" yaml:"upload"`

	// RateLimiter configures the render-path rate limiter.
	RateLimiter RateLimiterConfig `mapstructure:"rate_limiter" yaml:"rate_limiter"`

	// Request configures forwarded-header handling and multi-tenancy.
	Request RequestConfig `mapstructure:"request" yaml:"request"`

	// Signer configures JWT signing for render/resumable-upload URLs.
	Signer SignerConfig `mapstructure:"signer" yaml:"signer"`

	// Event configures the event dispatcher's webhook delivery.
	Event EventConfig `mapstructure:"event" yaml:"event"`
}

// ServerConfig contains the HTTP server process's own settings.
type ServerConfig struct {
	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`

	// Port is the HTTP listen port.
	Port int `mapstructure:"port" validate:"required,min=1,max=65535" yaml:"port"`

	// Metrics contains Prometheus metrics instrumentation configuration.
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// Profiling contains Pyroscope continuous profiling configuration.
	Profiling ProfilingConfig `mapstructure:"profiling" yaml:"profiling"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output.
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase).
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format. Valid values: text, json.
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written: stdout, stderr, or a file path.
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// TelemetryConfig controls OpenTelemetry distributed tracing.
type TelemetryConfig struct {
	// Enabled controls whether distributed tracing is enabled.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the OTLP collector endpoint (host:port).
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// Insecure controls whether to use an insecure (non-TLS) connection.
	Insecure bool `mapstructure:"insecure" yaml:"insecure"`

	// SampleRate controls the trace sampling rate (0.0 to 1.0).
	SampleRate float64 `mapstructure:"sample_rate" validate:"omitempty,gte=0,lte=1" yaml:"sample_rate"`
}

// ProfilingConfig controls Pyroscope continuous profiling.
type ProfilingConfig struct {
	// Enabled controls whether continuous profiling is enabled.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the Pyroscope server endpoint (URL).
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// ProfileTypes specifies which profile types to collect.
	ProfileTypes []string `mapstructure:"profile_types" yaml:"profile_types"`
}

// MetricsConfig configures inline Prometheus instrumentation.
// No HTTP /metrics endpoint is built by this repository (out of scope);
// this only toggles whether counters/histograms are recorded at all.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// DatabaseConfig configures the Postgres-backed metadata store connection
// pool, mirroring spec §6's databaseMaxConnections/databaseConnectionTimeout/
// databaseFreePoolAfterInactivity knobs.
type DatabaseConfig struct {
	// DSN is the Postgres connection string.
	DSN string `mapstructure:"dsn" validate:"required" yaml:"dsn"`

	// MaxConnections caps the pgxpool pool size, per tenant (§4.C).
	MaxConnections int32 `mapstructure:"max_connections" validate:"required,gt=0" yaml:"max_connections"`

	// ConnectionTimeout bounds how long opening a new database connection
	// may take (the pgx connect timeout). Waiting for a free pool connection
	// is bounded separately, by a fixed 10s, before surfacing DatabaseTimeout.
	ConnectionTimeout time.Duration `mapstructure:"connection_timeout" validate:"required,gt=0" yaml:"connection_timeout"`

	// FreePoolAfterInactivity is how long an idle tenant pool is kept open
	// by the Tenant Connection Manager (§4.C) before being disposed.
	FreePoolAfterInactivity time.Duration `mapstructure:"free_pool_after_inactivity" validate:"required,gt=0" yaml:"free_pool_after_inactivity"`
}

// StorageConfig configures the blob backend adapter (§4.A).
type StorageConfig struct {
	// Backend selects the blob backend adapter variant: s3, fs, memory.
	Backend string `mapstructure:"backend" validate:"required,oneof=s3 fs memory" yaml:"backend"`

	// S3 configures the S3-compatible variant. Required when Backend == "s3".
	S3 S3StorageConfig `mapstructure:"s3" yaml:"s3"`

	// FS configures the local filesystem variant. Required when Backend == "fs".
	FS FSStorageConfig `mapstructure:"fs" yaml:"fs"`
}

// S3StorageConfig configures the S3-compatible blob backend.
type S3StorageConfig struct {
	Bucket         string `mapstructure:"bucket" yaml:"bucket"`
	Endpoint       string `mapstructure:"endpoint" yaml:"endpoint"`
	Region         string `mapstructure:"region" yaml:"region"`
	ForcePathStyle bool   `mapstructure:"force_path_style" yaml:"force_path_style"`
	MaxSockets     int    `mapstructure:"max_sockets" yaml:"max_sockets"`
}

// FSStorageConfig configures the local filesystem blob backend.
type FSStorageConfig struct {
	// BasePath is the filesystem root; object keys are joined under it as
	// {tmpRoot}/{tenant}/{bucket}/{objectName}/{version}.
	BasePath string `mapstructure:"base_path" yaml:"base_path"`
}

// TUSConfig configures the resumable upload subsystem (§4.G).
type TUSConfig struct {
	// URLExpiryMs is the lifetime, in milliseconds, of a signed
	// resumable-upload URL issued by the signer (§4.J).
	URLExpiryMs int64 `mapstructure:"url_expiry_ms" validate:"required,gt=0" yaml:"url_expiry_ms"`

	// PartSize is the chunk size, in bytes, the resumable subsystem buffers
	// before flushing a part to the blob backend.
	PartSize bytesize.ByteSize `mapstructure:"part_size" validate:"required" yaml:"part_size"`

	// MaxConcurrentUploads bounds the number of resumable uploads a single
	// tenant may have in flight simultaneously.
	MaxConcurrentUploads int `mapstructure:"max_concurrent_uploads" validate:"required,gt=0" yaml:"max_concurrent_uploads"`

	// LockType selects the distributed locker backend: postgres or s3.
	LockType string `mapstructure:"lock_type" validate:"required,oneof=postgres s3" yaml:"lock_type"`

	// SweepInterval is how often the locker's sweeper scans for expired
	// locks; independent of each lock's own TTL (see DESIGN.md open
	// question decision).
	SweepInterval time.Duration `mapstructure:"sweep_interval" validate:"required,gt=0" yaml:"sweep_interval"`
}

// UploadConfig configures object-upload limits (§4.F).
type UploadConfig struct {
	// FileSizeLimit is the maximum accepted object size, in bytes.
	FileSizeLimit bytesize.ByteSize `mapstructure:"file_size_limit" validate:"required" yaml:"file_size_limit"`

	// ImageTransformationEnabled toggles the render pipeline's
	// width/height/resize query parameters (§6); when false, render
	// requests with transformation parameters are rejected.
	ImageTransformationEnabled bool `mapstructure:"image_transformation_enabled" yaml:"image_transformation_enabled"`
}

// RateLimiterConfig configures the render-path rate limiter.
type RateLimiterConfig struct {
	Enabled              bool `mapstructure:"enabled" yaml:"enabled"`
	RenderPathMaxReqSec  int  `mapstructure:"render_path_max_req_sec" validate:"omitempty,gt=0" yaml:"render_path_max_req_sec"`
}

// RequestConfig configures forwarded-header handling and multi-tenancy.
type RequestConfig struct {
	// AllowXForwardedPrefix toggles honoring X-Forwarded-Prefix.
	AllowXForwardedPrefix bool `mapstructure:"allow_x_forwarded_prefix" yaml:"allow_x_forwarded_prefix"`

	// IsMultitenant toggles tenant resolution via X-Forwarded-Host.
	IsMultitenant bool `mapstructure:"is_multitenant" yaml:"is_multitenant"`

	// XForwardedHostRegExp matches the host pattern tenants are resolved
	// from when IsMultitenant is true.
	XForwardedHostRegExp string `mapstructure:"x_forwarded_host_regexp" validate:"required_if=IsMultitenant true" yaml:"x_forwarded_host_regexp"`
}

// SignerConfig configures JWT-based signed URLs (§4.J).
type SignerConfig struct {
	// Secret is the HMAC signing secret.
	Secret string `mapstructure:"secret" validate:"required,min=32" yaml:"secret"`

	// Issuer is the token issuer claim.
	Issuer string `mapstructure:"issuer" validate:"required" yaml:"issuer"`
}

// EventConfig configures the Event Emitter's dispatch side (§4.I): the
// worker that claims queued rows and POSTs them to a webhook endpoint.
type EventConfig struct {
	// WebhookURL is the delivery target. Delivery is skipped entirely when empty.
	WebhookURL string `mapstructure:"webhook_url" yaml:"webhook_url"`

	// MaxAttempts is how many delivery attempts an event gets before being
	// moved to the dead-letter sink.
	MaxAttempts int `mapstructure:"max_attempts" validate:"omitempty,gt=0" yaml:"max_attempts"`

	// BatchSize is how many queued events are claimed per poll.
	BatchSize int `mapstructure:"batch_size" validate:"omitempty,gt=0" yaml:"batch_size"`

	// PollInterval is how often the dispatcher polls for newly queued events.
	PollInterval time.Duration `mapstructure:"poll_interval" validate:"omitempty,gt=0" yaml:"poll_interval"`
}

// Load loads configuration from file, environment, and defaults. When no
// config file is found, it returns GetDefaultConfig() as is: environment
// variables are not read and Validate is not run.
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	if !configFileFound {
		cfg := GetDefaultConfig()
		return cfg, nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration with helpful error messages when the config
// file is missing.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please create a configuration file first, or specify one:\n"+
				"  gateway <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("configuration file not found: %s", configPath)
		}
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to the specified file path in YAML.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// 0600: config carries the signer secret and database DSN.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// setupViper configures viper with environment variable and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use the GATEWAY_ prefix.
	// Example: GATEWAY_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("GATEWAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		configDir := getConfigDir()
		v.AddConfigPath(configDir)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
// Returns (fileFound, error) where fileFound indicates if a config file was found.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}

	return true, nil
}

// configDecodeHooks returns a combined decode hook for ByteSize and
// time.Duration parsing.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
	)
}

// byteSizeDecodeHook converts strings and numbers to bytesize.ByteSize,
// enabling config files to use human-readable sizes like "1Gi", "500Mi",
// "100MB", or plain numbers.
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return bytesize.ParseByteSize(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

// durationDecodeHook converts strings to time.Duration, enabling config
// files to use human-readable durations like "30s", "5m", "1h".
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns the configuration directory path.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "gateway")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "gateway")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default location.
func DefaultConfigExists() bool {
	path := GetDefaultConfigPath()
	_, err := os.Stat(path)
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for the CLI).
func GetConfigDir() string {
	return getConfigDir()
}
