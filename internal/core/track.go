package core

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"pkt.systems/lockbank/internal/clock"
	"pkt.systems/lockbank/internal/identity"
	"pkt.systems/lockbank/internal/loggingutil"
	"pkt.systems/lockbank/internal/monitor"
	"pkt.systems/pslog"
)

// StageEvent reports a participant entering one stage of the section.
type StageEvent struct {
	Track       string
	Participant string
	Stage       int
	Stages      int
}

// TrackConfig configures a Track.
type TrackConfig struct {
	Name       string
	Stages     int
	StageDelay time.Duration
	Clock      clock.Clock
	Logger     pslog.Logger
	// Observer, when set, is called for every stage while the section is
	// held. It must not call back into the track.
	Observer func(StageEvent)
}

// Track is a single-occupancy section. Each Run holds the section for all of
// its stages; concurrent participants are admitted one at a time in the
// order they queued.
type Track struct {
	name     string
	stages   int
	delay    time.Duration
	mon      *monitor.Monitor
	clock    clock.Clock
	logger   pslog.Logger
	observer func(StageEvent)
	metrics  *trackMetrics

	// Guarded by mon.
	occupied bool
	occupant string
	finished int
}

// NewTrack constructs a Track. Zero Stages selects DefaultTrackStages.
func NewTrack(cfg TrackConfig) (*Track, error) {
	stages := cfg.Stages
	if stages == 0 {
		stages = DefaultTrackStages
	}
	if stages < 0 {
		return nil, Failure{Code: CodeInvalidConfig, Detail: fmt.Sprintf("track stages must be positive, got %d", cfg.Stages)}
	}
	if cfg.StageDelay < 0 {
		return nil, Failure{Code: CodeInvalidConfig, Detail: fmt.Sprintf("stage delay must not be negative, got %s", cfg.StageDelay)}
	}
	name := cfg.Name
	if name == "" {
		name = "track"
	}
	logger := loggingutil.WithSubsystem(cfg.Logger, "core.track").With("track", name)
	return &Track{
		name:     name,
		stages:   stages,
		delay:    cfg.StageDelay,
		mon:      monitor.New(),
		clock:    clock.Or(cfg.Clock),
		logger:   logger,
		observer: cfg.Observer,
		metrics:  newTrackMetrics(name, logger),
	}, nil
}

// Name returns the track name.
func (t *Track) Name() string {
	return t.name
}

// Stages returns the number of stages per run.
func (t *Track) Stages() int {
	return t.stages
}

// Run waits for the section, executes every stage and returns the
// participant's 1-based finishing position. When ctx ends mid-run the
// participant is not counted and the section is handed to the next in line.
func (t *Track) Run(ctx context.Context, participant string) (position int, err error) {
	participant = identity.Resolve(ctx, participant)
	ctx, span := tracer().Start(ctx, "track.run", trace.WithAttributes(
		attribute.String("lockbank.track", t.name),
		attribute.String("lockbank.participant", participant),
	))
	start := t.clock.Now()
	defer func() {
		t.metrics.recordRun(ctx, t.clock.Now().Sub(start), err)
		span.SetAttributes(attribute.Int("lockbank.position", position))
		endSpan(span, err)
	}()
	logger := loggingutil.FromContext(ctx, t.logger)

	err = t.mon.WithLock(ctx, func(g *monitor.Guard) error {
		if t.occupied {
			invariant("track %s admitted %s while occupied by %s", t.name, participant, t.occupant)
		}
		t.occupied = true
		t.occupant = participant
		defer func() {
			t.occupied = false
			t.occupant = ""
		}()
		logger.Info("track.run.enter", "participant", participant, "stages", t.stages)

		for stage := 1; stage <= t.stages; stage++ {
			if err := g.Context().Err(); err != nil {
				return err
			}
			if t.observer != nil {
				t.observer(StageEvent{Track: t.name, Participant: participant, Stage: stage, Stages: t.stages})
			}
			logger.Debug("track.run.stage", "participant", participant, "stage", stage, "stages", t.stages)
			if err := clock.Sleep(g.Context(), t.clock, t.delay); err != nil {
				return err
			}
		}
		t.finished++
		position = t.finished
		return nil
	})
	if err != nil {
		logger.Info("track.run.cancelled", "participant", participant, "error", err)
		return 0, cancelled("track run", err)
	}
	logger.Info("track.run.finish", "participant", participant, "position", position)
	return position, nil
}

// Finished returns how many runs have completed.
func (t *Track) Finished(ctx context.Context) (int, error) {
	var n int
	err := t.mon.WithLock(ctx, func(*monitor.Guard) error {
		n = t.finished
		return nil
	})
	if err != nil {
		return 0, cancelled("finished", err)
	}
	return n, nil
}
