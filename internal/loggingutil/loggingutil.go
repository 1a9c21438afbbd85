package loggingutil

import (
	"context"
	"strings"

	"pkt.systems/pslog"
)

// SubsystemKey tags every entry emitted through WithSubsystem.
const SubsystemKey = pslog.TrustedString("sys")

// EnsureLogger returns l when non-nil, otherwise a disabled logger.
func EnsureLogger(l pslog.Logger) pslog.Logger {
	if l != nil {
		return l
	}
	return pslog.NoopLogger()
}

// Subsystem joins the non-empty parts into a dot-delimited subsystem path.
func Subsystem(parts ...string) string {
	filtered := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.Trim(part, ". ")
		if part == "" {
			continue
		}
		filtered = append(filtered, part)
	}
	return strings.Join(filtered, ".")
}

// WithSubsystem attaches a subsystem tag to every entry logged through the
// returned logger.
func WithSubsystem(logger pslog.Logger, subsystem string) pslog.Logger {
	logger = EnsureLogger(logger)
	subsystem = strings.Trim(subsystem, ". ")
	if subsystem == "" {
		return logger
	}
	return logger.With(SubsystemKey, subsystem)
}

// FromContext prefers a logger installed on ctx with pslog.ContextWithLogger
// and falls back to fallback. pslog reports a missing logger as its noop
// logger, so that value selects the fallback too.
func FromContext(ctx context.Context, fallback pslog.Logger) pslog.Logger {
	if ctx != nil {
		if l := pslog.LoggerFromContext(ctx); l != nil && l != pslog.NoopLogger() {
			return l
		}
	}
	return EnsureLogger(fallback)
}
