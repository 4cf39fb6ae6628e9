package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Supported HTTP frameworks
const (
	FrameworkChi   = "chi"
	FrameworkFiber = "fiber"
)

// Config represents the complete application configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Notifier   NotifierConfig   `yaml:"notifier"`
	Dispatcher DispatcherConfig `yaml:"dispatcher"`
	Auth       AuthConfig       `yaml:"auth"`
	Logging    LoggingConfig    `yaml:"logging"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Addr           string   `yaml:"addr"`
	Framework      string   `yaml:"framework"`
	ReadTimeout    int      `yaml:"read_timeout"`
	WriteTimeout   int      `yaml:"write_timeout"`
	IdleTimeout    int      `yaml:"idle_timeout"`
	RequestTimeout int      `yaml:"request_timeout"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// StorageConfig contains storage engine settings
type StorageConfig struct {
	// Backend: memory, badger or sqlite
	Type    string `yaml:"type"`
	DataDir string `yaml:"data_dir"`

	CacheEnabled           bool `yaml:"cache_enabled"`
	CacheSize              int  `yaml:"cache_size"`
	CacheExpirationSeconds int  `yaml:"cache_expiration_seconds"`

	// Badger settings
	SyncWrites        bool    `yaml:"sync_writes"`
	MemTableSizeMB    int     `yaml:"mem_table_size_mb"`
	NumCompactors     int     `yaml:"num_compactors"`
	GCIntervalMinutes int     `yaml:"gc_interval_minutes"`
	GCDiscardRatio    float64 `yaml:"gc_discard_ratio"`
}

// NotifierConfig contains realtime session settings
type NotifierConfig struct {
	MaxIdleTime       int   `yaml:"max_idle_time"`
	HeartbeatInterval int   `yaml:"heartbeat_interval"`
	WriteTimeout      int   `yaml:"write_timeout"`
	SendBufferSize    int   `yaml:"send_buffer_size"`
	MaxConnections    int   `yaml:"max_connections"`
	MaxMessageSize    int64 `yaml:"max_message_size"`
}

// DispatcherConfig contains delivery settings
type DispatcherConfig struct {
	PushTimeoutMs int `yaml:"push_timeout_ms"`
}

// AuthConfig contains authentication settings
type AuthConfig struct {
	Enabled       bool   `yaml:"enabled"`
	JWTSecret     string `yaml:"jwt_secret"`
	Issuer        string `yaml:"issuer"`
	ProducerToken string `yaml:"producer_token"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level         string            `yaml:"level"`
	Format        string            `yaml:"format"`
	IncludeCaller bool              `yaml:"include_caller"`
	IncludeTrace  bool              `yaml:"include_trace"`
	GlobalFields  map[string]string `yaml:"global_fields"`

	// Per-component levels, e.g. notifier: debug
	Components map[string]string `yaml:"components"`
}

// TelemetryConfig contains OpenTelemetry settings
type TelemetryConfig struct {
	Enabled       bool              `yaml:"enabled"`
	ServiceName   string            `yaml:"service_name"`
	Environment   string            `yaml:"environment"`
	Endpoint      string            `yaml:"endpoint"`
	Insecure      bool              `yaml:"insecure"`
	SamplingRatio float64           `yaml:"sampling_ratio"`
	Attributes    map[string]string `yaml:"attributes"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:           ":8080",
			Framework:      FrameworkChi,
			ReadTimeout:    5,
			WriteTimeout:   10,
			IdleTimeout:    120,
			RequestTimeout: 30,
			AllowedOrigins: []string{"*"},
		},
		Storage: StorageConfig{
			Type:                   "badger",
			DataDir:                "./data",
			CacheEnabled:           true,
			CacheSize:              10000,
			CacheExpirationSeconds: 30,
			MemTableSizeMB:         64,
			NumCompactors:          4,
			GCIntervalMinutes:      10,
			GCDiscardRatio:         0.5,
		},
		Notifier: NotifierConfig{
			MaxIdleTime:       60,
			HeartbeatInterval: 20,
			WriteTimeout:      5,
			SendBufferSize:    64,
			MaxConnections:    10000,
			MaxMessageSize:    4096,
		},
		Dispatcher: DispatcherConfig{
			PushTimeoutMs: 2000,
		},
		Auth: AuthConfig{
			Enabled: false,
		},
		Logging: LoggingConfig{
			Level:         "info",
			Format:        "json",
			IncludeCaller: true,
			IncludeTrace:  true,
			GlobalFields:  map[string]string{},
			Components:    map[string]string{},
		},
		Telemetry: TelemetryConfig{
			Enabled:       false,
			ServiceName:   "notifyd",
			Environment:   "development",
			Endpoint:      "localhost:4317",
			Insecure:      true,
			SamplingRatio: 0.1,
			Attributes:    map[string]string{},
		},
	}
}

// LoadConfigFromFile loads configuration from a YAML file
func LoadConfigFromFile(filePath string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warn().Str("file", filePath).Msg("Configuration file not found, using defaults")
			return config, nil
		}
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return config, nil
}

// Overrides carries command line flags. Empty values are ignored.
type Overrides struct {
	DataDir     string
	ServerAddr  string
	LogLevel    string
	Framework   string
	StorageType string
}

// LoadConfig loads configuration from file, environment variables, and flags
func LoadConfig(configFile string, flags Overrides) (*Config, error) {
	var config *Config
	var err error

	if configFile != "" {
		config, err = LoadConfigFromFile(configFile)
		if err != nil {
			return nil, err
		}
	} else {
		config = DefaultConfig()
	}

	applyEnvOverrides(config)

	// Flags have the highest priority
	if flags.DataDir != "" {
		absDataDir, err := filepath.Abs(flags.DataDir)
		if err != nil {
			return nil, fmt.Errorf("failed to get absolute path for data directory: %w", err)
		}
		config.Storage.DataDir = absDataDir
	}
	if flags.ServerAddr != "" {
		config.Server.Addr = flags.ServerAddr
	}
	if flags.LogLevel != "" {
		config.Logging.Level = flags.LogLevel
	}
	if flags.Framework != "" {
		config.Server.Framework = flags.Framework
	}
	if flags.StorageType != "" {
		config.Storage.Type = flags.StorageType
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate rejects settings the service cannot start with
func (c *Config) Validate() error {
	switch c.Server.Framework {
	case FrameworkChi, FrameworkFiber:
	default:
		return fmt.Errorf("unsupported server framework: %q", c.Server.Framework)
	}

	switch c.Storage.Type {
	case "memory", "badger", "sqlite":
	default:
		return fmt.Errorf("unsupported storage type: %q", c.Storage.Type)
	}

	if c.Storage.CacheEnabled && c.Storage.CacheSize <= 0 {
		return fmt.Errorf("cache is enabled but cache_size is %d", c.Storage.CacheSize)
	}

	if c.Auth.Enabled && c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth is enabled but no jwt_secret is set")
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides to the configuration
func applyEnvOverrides(config *Config) {
	// Server
	setString("NOTIFYD_SERVER_ADDR", &config.Server.Addr)
	setString("NOTIFYD_SERVER_FRAMEWORK", &config.Server.Framework)
	if origins := os.Getenv("NOTIFYD_SERVER_ALLOWED_ORIGINS"); origins != "" {
		config.Server.AllowedOrigins = strings.Split(origins, ",")
	}

	// Storage
	setString("NOTIFYD_STORAGE_TYPE", &config.Storage.Type)
	setString("NOTIFYD_STORAGE_DATA_DIR", &config.Storage.DataDir)
	setBool("NOTIFYD_STORAGE_CACHE_ENABLED", &config.Storage.CacheEnabled)

	// Notifier
	setInt("NOTIFYD_NOTIFIER_MAX_CONNECTIONS", &config.Notifier.MaxConnections)
	setInt("NOTIFYD_NOTIFIER_HEARTBEAT_INTERVAL", &config.Notifier.HeartbeatInterval)
	setInt("NOTIFYD_NOTIFIER_MAX_IDLE_TIME", &config.Notifier.MaxIdleTime)

	// Dispatcher
	setInt("NOTIFYD_DISPATCHER_PUSH_TIMEOUT_MS", &config.Dispatcher.PushTimeoutMs)

	// Auth
	setBool("NOTIFYD_AUTH_ENABLED", &config.Auth.Enabled)
	setString("NOTIFYD_AUTH_JWT_SECRET", &config.Auth.JWTSecret)
	setString("NOTIFYD_AUTH_ISSUER", &config.Auth.Issuer)
	setString("NOTIFYD_AUTH_PRODUCER_TOKEN", &config.Auth.ProducerToken)

	// Logging
	setString("NOTIFYD_LOG_LEVEL", &config.Logging.Level)
	setString("NOTIFYD_LOG_FORMAT", &config.Logging.Format)

	// Telemetry
	setBool("NOTIFYD_TELEMETRY_ENABLED", &config.Telemetry.Enabled)
	setString("NOTIFYD_TELEMETRY_ENDPOINT", &config.Telemetry.Endpoint)
	setString("NOTIFYD_TELEMETRY_ENVIRONMENT", &config.Telemetry.Environment)
}

func setString(key string, dst *string) {
	if val := os.Getenv(key); val != "" {
		*dst = val
	}
}

func setInt(key string, dst *int) {
	raw := os.Getenv(key)
	if raw == "" {
		return
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		log.Warn().Str("key", key).Str("value", raw).Msg("Ignoring invalid integer override")
		return
	}
	*dst = val
}

func setBool(key string, dst *bool) {
	raw := os.Getenv(key)
	if raw == "" {
		return
	}
	val, err := strconv.ParseBool(raw)
	if err != nil {
		log.Warn().Str("key", key).Str("value", raw).Msg("Ignoring invalid boolean override")
		return
	}
	*dst = val
}
