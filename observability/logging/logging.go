package logging

import (
	"log/slog"
	"os"
	"strings"
)

// EnvLogLevel overrides the environment-derived log level when set. Accepts
// the slog level names (debug, info, warn, error).
const EnvLogLevel = "WORKCHAIN_LOG_LEVEL"

// Setup installs the process-wide JSON logger and returns it. Development
// style environments log at debug, everything else at info; EnvLogLevel wins
// over both. The severity, timestamp and message keys follow the field names
// the log pipeline indexes on.
func Setup(service, env string) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: levelFor(env),
		ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
			switch attr.Key {
			case slog.TimeKey:
				attr.Key = "timestamp"
			case slog.LevelKey:
				attr = slog.String("severity", strings.ToUpper(attr.Value.String()))
			case slog.MessageKey:
				attr.Key = "message"
			}
			return attr
		},
	})

	base := slog.New(handler).With(slog.String("service", strings.TrimSpace(service)))
	if env = strings.TrimSpace(env); env != "" {
		base = base.With(slog.String("env", env))
	}
	slog.SetDefault(base)
	return base
}

// Component derives a child logger tagged with the subsystem name so node,
// rpc and gateway lines can be told apart in a merged stream.
func Component(base *slog.Logger, name string) *slog.Logger {
	if base == nil {
		base = slog.Default()
	}
	return base.With(slog.String("component", name))
}

func levelFor(env string) slog.Level {
	if override := strings.TrimSpace(os.Getenv(EnvLogLevel)); override != "" {
		var lvl slog.Level
		if err := lvl.UnmarshalText([]byte(override)); err == nil {
			return lvl
		}
	}
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "dev", "development", "local", "test":
		return slog.LevelDebug
	}
	return slog.LevelInfo
}
