package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/rs/zerolog/pkgerrors"
	"go.opentelemetry.io/otel/trace"
)

// LogFormat represents the output format for logs
type LogFormat string

const (
	// FormatJSON outputs logs in JSON format
	FormatJSON LogFormat = "json"

	// FormatConsole outputs logs in a human-readable format
	FormatConsole LogFormat = "console"
)

// LogLevel represents the logging level
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// Config contains logger configuration
type Config struct {
	// Default level for every component
	Level LogLevel

	// Per-component levels keyed by the component field, e.g.
	// {"notifier": "debug"} to trace sessions without debugging storage
	ComponentLevels map[string]LogLevel

	// Output format (json or console)
	Format LogFormat

	// Whether to include caller information
	IncludeCaller bool

	// Whether to include stack traces for errors
	IncludeStacktrace bool

	// Whether request loggers carry trace_id and span_id
	IncludeTraceContext bool

	// Output writer (defaults to os.Stdout)
	Output io.Writer

	// Fields added to every entry; service and version are always present
	GlobalFields map[string]string
}

// settings is the part of Config consulted after Setup
type settings struct {
	componentLevels     map[string]zerolog.Level
	includeTraceContext bool
}

var current atomic.Pointer[settings]

// DefaultConfig returns a default configuration
func DefaultConfig() Config {
	return Config{
		Level:               LevelInfo,
		Format:              FormatJSON,
		IncludeCaller:       true,
		IncludeStacktrace:   true,
		IncludeTraceContext: true,
		Output:              os.Stdout,
		GlobalFields:        map[string]string{"service": "notifyd"},
	}
}

// Setup configures the global logger
func Setup(config Config) error {
	base, err := parseLevel(config.Level)
	if err != nil {
		return err
	}

	// The global level is the lowest level any component asks for; each
	// logger then filters at its own level
	global := base
	levels := make(map[string]zerolog.Level, len(config.ComponentLevels))
	for name, raw := range config.ComponentLevels {
		level, err := parseLevel(raw)
		if err != nil {
			return fmt.Errorf("component %s: %w", name, err)
		}
		levels[name] = level
		if level < global {
			global = level
		}
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano
	if config.IncludeStacktrace {
		zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack
	}

	ctx := zerolog.New(newWriter(config)).With().Timestamp()
	if config.IncludeCaller {
		ctx = ctx.Caller()
	}
	fields := map[string]string{"service": "notifyd", "version": buildVersion()}
	for k, v := range config.GlobalFields {
		fields[k] = v
	}
	for k, v := range fields {
		ctx = ctx.Str(k, v)
	}

	log.Logger = ctx.Logger().Level(base)
	zerolog.SetGlobalLevel(global)
	current.Store(&settings{
		componentLevels:     levels,
		includeTraceContext: config.IncludeTraceContext,
	})
	return nil
}

func newWriter(config Config) io.Writer {
	out := config.Output
	if out == nil {
		out = os.Stdout
	}
	if config.Format == FormatConsole {
		return zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return out
}

// buildVersion reports the main module version the binary was built from
func buildVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "unknown"
}

// parseLevel converts a LogLevel to zerolog.Level
func parseLevel(level LogLevel) (zerolog.Level, error) {
	switch level {
	case LevelDebug:
		return zerolog.DebugLevel, nil
	case LevelInfo, "":
		return zerolog.InfoLevel, nil
	case LevelWarn:
		return zerolog.WarnLevel, nil
	case LevelError:
		return zerolog.ErrorLevel, nil
	default:
		return zerolog.InfoLevel, fmt.Errorf("invalid log level: %s", level)
	}
}

// FromContext returns the request logger, falling back to the global
// logger, with trace context if enabled and available
func FromContext(ctx context.Context) zerolog.Logger {
	base := log.Ctx(ctx)
	if base.GetLevel() == zerolog.Disabled {
		base = &log.Logger
	}

	s := current.Load()
	if s != nil && !s.includeTraceContext {
		return *base
	}

	logger := base.With()
	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
		logger = logger.Str("trace_id", sc.TraceID().String()).Str("span_id", sc.SpanID().String())
	}
	return logger.Logger()
}

// WithContext returns a context with the given logger attached
func WithContext(ctx context.Context, logger zerolog.Logger) context.Context {
	return logger.WithContext(ctx)
}

// Component returns a logger tagged with name, at the component's own level
// when one is configured
func Component(name string) zerolog.Logger {
	logger := log.With().Str("component", name).Logger()
	if s := current.Load(); s != nil {
		if level, ok := s.componentLevels[name]; ok {
			return logger.Level(level)
		}
	}
	return logger
}
