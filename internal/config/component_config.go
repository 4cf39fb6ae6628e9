package config

import (
	"path/filepath"
	"time"

	"github.com/devcollab/notifyd/internal/api"
	"github.com/devcollab/notifyd/internal/api/chi"
	"github.com/devcollab/notifyd/internal/auth"
	"github.com/devcollab/notifyd/internal/dispatcher"
	"github.com/devcollab/notifyd/internal/logging"
	"github.com/devcollab/notifyd/internal/notifier"
	"github.com/devcollab/notifyd/internal/storage"
	"github.com/devcollab/notifyd/internal/storage/badger"
	"github.com/devcollab/notifyd/internal/telemetry"
)

// SQLiteFile is the database file name inside the data directory
const SQLiteFile = "notifyd.db"

// ToStorageConfig converts to the generic storage config
func (c *Config) ToStorageConfig() storage.Config {
	return storage.Config{
		Type:            c.Storage.Type,
		DataDir:         c.Storage.DataDir,
		CacheEnabled:    c.Storage.CacheEnabled,
		CacheSize:       c.Storage.CacheSize,
		CacheExpiration: time.Duration(c.Storage.CacheExpirationSeconds) * time.Second,
	}
}

// ToBadgerConfig converts to badger storage config
func (c *Config) ToBadgerConfig() badger.Config {
	return badger.Config{
		DataDir:        c.Storage.DataDir,
		SyncWrites:     c.Storage.SyncWrites,
		MemTableSize:   int64(c.Storage.MemTableSizeMB) << 20,
		NumCompactors:  c.Storage.NumCompactors,
		GCInterval:     time.Duration(c.Storage.GCIntervalMinutes) * time.Minute,
		GCDiscardRatio: c.Storage.GCDiscardRatio,
	}
}

// SQLitePath returns the sqlite database location
func (c *Config) SQLitePath() string {
	return filepath.Join(c.Storage.DataDir, SQLiteFile)
}

// ToNotifierConfig converts to notifier config
func (c *Config) ToNotifierConfig() notifier.Config {
	return notifier.Config{
		MaxIdleTime:       time.Duration(c.Notifier.MaxIdleTime) * time.Second,
		HeartbeatInterval: time.Duration(c.Notifier.HeartbeatInterval) * time.Second,
		WriteTimeout:      time.Duration(c.Notifier.WriteTimeout) * time.Second,
		SendBufferSize:    c.Notifier.SendBufferSize,
		MaxConnections:    c.Notifier.MaxConnections,
		MaxMessageSize:    c.Notifier.MaxMessageSize,
		AllowedOrigins:    c.Server.AllowedOrigins,
	}
}

// ToDispatcherConfig converts to dispatcher config
func (c *Config) ToDispatcherConfig() dispatcher.Config {
	return dispatcher.Config{
		PushTimeout: time.Duration(c.Dispatcher.PushTimeoutMs) * time.Millisecond,
	}
}

// ToAuthConfig converts to auth config
func (c *Config) ToAuthConfig() auth.Config {
	return auth.Config{
		Enabled:       c.Auth.Enabled,
		JWTSecret:     c.Auth.JWTSecret,
		Issuer:        c.Auth.Issuer,
		ProducerToken: c.Auth.ProducerToken,
	}
}

// ToChiAPIConfig converts to chi API config
func (c *Config) ToChiAPIConfig() chi.Config {
	return chi.Config{
		Addr:           c.Server.Addr,
		ReadTimeout:    time.Duration(c.Server.ReadTimeout) * time.Second,
		WriteTimeout:   time.Duration(c.Server.WriteTimeout) * time.Second,
		IdleTimeout:    time.Duration(c.Server.IdleTimeout) * time.Second,
		RequestTimeout: time.Duration(c.Server.RequestTimeout) * time.Second,
		AllowedOrigins: c.Server.AllowedOrigins,
	}
}

// ToAPIConfig converts to fiber API config
func (c *Config) ToAPIConfig() api.Config {
	return api.Config{
		Addr:           c.Server.Addr,
		ReadTimeout:    time.Duration(c.Server.ReadTimeout) * time.Second,
		WriteTimeout:   time.Duration(c.Server.WriteTimeout) * time.Second,
		IdleTimeout:    time.Duration(c.Server.IdleTimeout) * time.Second,
		AllowedOrigins: c.Server.AllowedOrigins,
	}
}

// logLevel maps a configured level name, defaulting to info
func logLevel(name string) logging.LogLevel {
	switch name {
	case "debug":
		return logging.LevelDebug
	case "warn":
		return logging.LevelWarn
	case "error":
		return logging.LevelError
	default:
		return logging.LevelInfo
	}
}

// ToLoggingConfig converts to logging config
func (c *Config) ToLoggingConfig() logging.Config {
	format := logging.FormatJSON
	if c.Logging.Format == "console" {
		format = logging.FormatConsole
	}

	components := make(map[string]logging.LogLevel, len(c.Logging.Components))
	for name, level := range c.Logging.Components {
		components[name] = logLevel(level)
	}

	fields := logging.DefaultConfig().GlobalFields
	for k, v := range c.Logging.GlobalFields {
		fields[k] = v
	}

	return logging.Config{
		Level:               logLevel(c.Logging.Level),
		ComponentLevels:     components,
		Format:              format,
		IncludeCaller:       c.Logging.IncludeCaller,
		IncludeStacktrace:   true,
		IncludeTraceContext: c.Logging.IncludeTrace,
		GlobalFields:        fields,
	}
}

// ToTelemetryConfig converts to telemetry config. The storage backend and
// HTTP framework are reported as resource attributes.
func (c *Config) ToTelemetryConfig() telemetry.Config {
	attrs := map[string]string{
		telemetry.AttrStorageType:     c.Storage.Type,
		telemetry.AttrServerFramework: c.Server.Framework,
	}
	for k, v := range c.Telemetry.Attributes {
		attrs[k] = v
	}

	return telemetry.Config{
		Enabled:        c.Telemetry.Enabled,
		ServiceName:    c.Telemetry.ServiceName,
		ServiceVersion: telemetry.DefaultConfig().ServiceVersion,
		Environment:    c.Telemetry.Environment,
		Endpoint:       c.Telemetry.Endpoint,
		Insecure:       c.Telemetry.Insecure,
		Timeout:        5 * time.Second,
		SamplingRatio:  c.Telemetry.SamplingRatio,
		Attributes:     attrs,
	}
}
