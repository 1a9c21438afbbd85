package lockbank

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"pkt.systems/lockbank/internal/clock"
	"pkt.systems/lockbank/internal/core"
	"pkt.systems/lockbank/internal/loggingutil"
	"pkt.systems/lockbank/internal/scenario"
	"pkt.systems/pslog"
)

// ErrClosed is returned by kernel methods called after Close.
var ErrClosed = errors.New("lockbank: kernel closed")

// Kernel owns configuration, telemetry and the ledgers and tracks built from
// them.
type Kernel struct {
	cfg       Config
	logger    pslog.Logger
	clock     clock.Clock
	telemetry *telemetryBundle

	mu      sync.Mutex
	closed  bool
	ledgers []*core.Ledger
}

// Option configures kernel instances.
type Option func(*options)

type options struct {
	Logger pslog.Logger
	Clock  clock.Clock
}

// WithLogger supplies a custom logger.
func WithLogger(l pslog.Logger) Option {
	return func(o *options) {
		o.Logger = l
	}
}

// WithClock injects a custom clock implementation.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		o.Clock = c
	}
}

// NewKernel validates cfg and starts configured telemetry.
func NewKernel(cfg Config, opts ...Option) (*Kernel, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := loggingutil.EnsureLogger(o.Logger)
	telemetry, err := setupTelemetry(context.Background(), cfg, loggingutil.WithSubsystem(logger, "telemetry"))
	if err != nil {
		return nil, err
	}
	k := &Kernel{
		cfg:       cfg,
		logger:    logger,
		clock:     clock.Or(o.Clock),
		telemetry: telemetry,
	}
	loggingutil.WithSubsystem(logger, "kernel").Info("kernel.start",
		"fairness", cfg.Fairness,
		"track_stages", cfg.TrackStages,
		"stage_delay", cfg.StageDelay,
		"telemetry", cfg.TelemetryEnabled(),
	)
	return k, nil
}

// Config returns the validated configuration.
func (k *Kernel) Config() Config {
	return k.cfg
}

// MetricsAddr returns the bound Prometheus listener address, or "" when
// metrics are disabled.
func (k *Kernel) MetricsAddr() string {
	if s := k.telemetry.server("metrics"); s != nil {
		return s.Addr()
	}
	return ""
}

// NewLedger opens a ledger with the configured fairness policy. The kernel
// releases its telemetry registrations on Close.
func (k *Kernel) NewLedger(name string, opening decimal.Decimal) (*core.Ledger, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return nil, ErrClosed
	}
	l, err := core.NewLedger(core.LedgerConfig{
		Name:     name,
		Opening:  opening,
		Fairness: core.Fairness(k.cfg.Fairness),
		Logger:   k.logger,
		Clock:    k.clock,
	})
	if err != nil {
		return nil, err
	}
	k.ledgers = append(k.ledgers, l)
	return l, nil
}

// NewTrack builds a track with the configured stage count and pacing.
func (k *Kernel) NewTrack(name string, observer func(core.StageEvent)) (*core.Track, error) {
	if k.isClosed() {
		return nil, ErrClosed
	}
	return core.NewTrack(core.TrackConfig{
		Name:       name,
		Stages:     k.cfg.TrackStages,
		StageDelay: k.cfg.StageDelay,
		Clock:      k.clock,
		Logger:     k.logger,
		Observer:   observer,
	})
}

// RunScenario executes a catalogue scenario under the kernel's configuration.
func (k *Kernel) RunScenario(ctx context.Context, name string, onStage func(core.StageEvent)) (*scenario.Report, error) {
	if k.isClosed() {
		return nil, ErrClosed
	}
	return scenario.Run(ctx, name, k.env(onStage))
}

// Race runs cars concurrently on a fresh track.
func (k *Kernel) Race(ctx context.Context, name string, cars []string, onStage func(core.StageEvent)) (*scenario.Report, error) {
	if k.isClosed() {
		return nil, ErrClosed
	}
	return scenario.Race(ctx, k.env(onStage), name, cars)
}

// Close releases ledger registrations and shuts telemetry down. It is safe to
// call more than once.
func (k *Kernel) Close(ctx context.Context) error {
	k.mu.Lock()
	if k.closed {
		k.mu.Unlock()
		return nil
	}
	k.closed = true
	ledgers := k.ledgers
	k.ledgers = nil
	k.mu.Unlock()

	var errs []error
	for _, l := range ledgers {
		if err := l.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close ledger %s: %w", l.Name(), err))
		}
	}
	if k.telemetry != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, k.cfg.ShutdownTimeout)
		defer cancel()
		if err := k.telemetry.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (k *Kernel) isClosed() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.closed
}

func (k *Kernel) env(onStage func(core.StageEvent)) scenario.Env {
	return scenario.Env{
		Logger:     k.logger,
		Clock:      k.clock,
		Fairness:   core.Fairness(k.cfg.Fairness),
		Stages:     k.cfg.TrackStages,
		StageDelay: k.cfg.StageDelay,
		OnStage:    onStage,
	}
}
