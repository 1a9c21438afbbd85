package lockbank

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"pkt.systems/lockbank/internal/core"
)

const (
	// DefaultFairness is the grant policy for blocked withdrawals.
	DefaultFairness = string(core.DefaultFairness)
	// DefaultTrackStages is the number of stages a participant drives per run.
	DefaultTrackStages = core.DefaultTrackStages
	// DefaultStageDelay paces each stage in CLI runs.
	DefaultStageDelay = core.DefaultStageDelay
	// DefaultMetricsListen is the default metrics endpoint (Prometheus scrape).
	// Empty disables metrics unless explicitly configured.
	DefaultMetricsListen = ""
	// DefaultPprofListen is the default pprof debug listener (empty disables).
	DefaultPprofListen = ""
	// DefaultShutdownTimeout caps how long Close waits for telemetry to flush.
	DefaultShutdownTimeout = 5 * time.Second
	// DefaultConfigFileName is the config file searched for when --config is omitted.
	DefaultConfigFileName = "config.yaml"
)

// Config captures kernel configuration.
type Config struct {
	// Fairness selects the grant policy: "arrival" (default) or "none".
	Fairness string
	// TrackStages is the number of stages per track run.
	TrackStages int
	// StageDelay paces every stage. Zero runs stages back to back.
	StageDelay time.Duration

	MetricsListen          string
	PprofListen            string
	OTLPEndpoint           string
	EnableProfilingMetrics bool
	ShutdownTimeout        time.Duration
}

// DefaultConfig returns the configuration the CLI starts from.
func DefaultConfig() Config {
	return Config{
		Fairness:        DefaultFairness,
		TrackStages:     DefaultTrackStages,
		StageDelay:      DefaultStageDelay,
		MetricsListen:   DefaultMetricsListen,
		PprofListen:     DefaultPprofListen,
		ShutdownTimeout: DefaultShutdownTimeout,
	}
}

// Validate normalises the configuration and fills defaults.
func (c *Config) Validate() error {
	fairness, err := core.ParseFairness(c.Fairness)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	c.Fairness = string(fairness)
	if c.TrackStages == 0 {
		c.TrackStages = DefaultTrackStages
	} else if c.TrackStages < 0 {
		return fmt.Errorf("config: track stages must be > 0")
	}
	if c.StageDelay < 0 {
		return fmt.Errorf("config: stage delay must be >= 0")
	}
	c.MetricsListen = strings.TrimSpace(c.MetricsListen)
	c.PprofListen = strings.TrimSpace(c.PprofListen)
	c.OTLPEndpoint = strings.TrimSpace(c.OTLPEndpoint)
	if c.EnableProfilingMetrics && c.MetricsListen == "" {
		return fmt.Errorf("config: profiling metrics require metrics-listen")
	}
	if c.OTLPEndpoint != "" {
		if _, err := resolveOTLPTarget(c.OTLPEndpoint); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
	return nil
}

// TelemetryEnabled reports whether the kernel starts any exporter or listener.
func (c Config) TelemetryEnabled() bool {
	return c.OTLPEndpoint != "" || c.MetricsListen != "" || c.PprofListen != "" || c.EnableProfilingMetrics
}

// DefaultConfigDir returns the default configuration directory ($HOME/.lockbank).
func DefaultConfigDir() (string, error) {
	if override := strings.TrimSpace(os.Getenv("LOCKBANK_CONFIG_DIR")); override != "" {
		if filepath.IsAbs(override) {
			return override, nil
		}
		abs, err := filepath.Abs(override)
		if err != nil {
			return "", err
		}
		return abs, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".lockbank"), nil
}

// DefaultConfigPath returns the default config file location.
func DefaultConfigPath() (string, error) {
	dir, err := DefaultConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, DefaultConfigFileName), nil
}
