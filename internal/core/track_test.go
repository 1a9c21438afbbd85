package core_test

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"pkt.systems/lockbank/internal/clock"
	"pkt.systems/lockbank/internal/core"
)

type stageLog struct {
	mu     sync.Mutex
	events []core.StageEvent
}

func (s *stageLog) record(ev core.StageEvent) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *stageLog) snapshot() []core.StageEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.StageEvent, len(s.events))
	copy(out, s.events)
	return out
}

func TestTrackRunsParticipantsOneAtATime(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)
	var log stageLog
	track, err := core.NewTrack(core.TrackConfig{
		Name:       "common-section",
		StageDelay: time.Millisecond,
		Observer:   log.record,
	})
	if err != nil {
		t.Fatalf("new track: %v", err)
	}

	cars := []string{"Ferrari", "Lamborghini", "Porsche"}
	positions := make([]int, len(cars))
	g, gctx := errgroup.WithContext(ctx)
	for i, car := range cars {
		g.Go(func() error {
			pos, err := track.Run(gctx, car)
			positions[i] = pos
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("race: %v", err)
	}

	sorted := append([]int(nil), positions...)
	sort.Ints(sorted)
	for i, pos := range sorted {
		if pos != i+1 {
			t.Fatalf("positions are not a permutation of 1..3: %v", positions)
		}
	}
	finished, err := track.Finished(ctx)
	if err != nil {
		t.Fatalf("finished: %v", err)
	}
	if finished != 3 {
		t.Fatalf("expected 3 finished, got %d", finished)
	}

	events := log.snapshot()
	stages := track.Stages()
	if len(events) != len(cars)*stages {
		t.Fatalf("expected %d stage events, got %d", len(cars)*stages, len(events))
	}
	for block := 0; block < len(cars); block++ {
		run := events[block*stages : (block+1)*stages]
		for i, ev := range run {
			if ev.Participant != run[0].Participant || ev.Stage != i+1 {
				t.Fatalf("stages interleaved in block %d: %+v", block, run)
			}
		}
	}
}

func TestTrackFinishingPositionsFollowCompletionOrder(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)
	track, err := core.NewTrack(core.TrackConfig{Stages: 2})
	if err != nil {
		t.Fatalf("new track: %v", err)
	}
	for want := 1; want <= 4; want++ {
		pos, err := track.Run(ctx, "solo")
		if err != nil {
			t.Fatalf("run: %v", err)
		}
		if pos != want {
			t.Fatalf("expected position %d, got %d", want, pos)
		}
	}
}

func TestTrackCancellationMidRunIsNotCounted(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	var log stageLog
	track, err := core.NewTrack(core.TrackConfig{
		Observer: func(ev core.StageEvent) {
			log.record(ev)
			if ev.Participant == "crasher" && ev.Stage == 2 {
				cancel()
			}
		},
	})
	if err != nil {
		t.Fatalf("new track: %v", err)
	}

	_, err = track.Run(runCtx, "crasher")
	if !errors.Is(err, core.ErrOperationCancelled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if n := len(log.snapshot()); n != 2 {
		t.Fatalf("expected run to stop after stage 2, saw %d stages", n)
	}

	pos, err := track.Run(ctx, "finisher")
	if err != nil {
		t.Fatalf("run after cancellation: %v", err)
	}
	if pos != 1 {
		t.Fatalf("cancelled run must not count, got position %d", pos)
	}
}

func TestTrackQueuedParticipantCanGiveUp(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	track, err := core.NewTrack(core.TrackConfig{
		Stages: 1,
		Observer: func(ev core.StageEvent) {
			if ev.Participant == "holder" {
				once.Do(func() { close(entered) })
				<-release
			}
		},
	})
	if err != nil {
		t.Fatalf("new track: %v", err)
	}

	holder := make(chan error, 1)
	go func() {
		_, err := track.Run(ctx, "holder")
		holder <- err
	}()
	<-entered

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if _, err := track.Run(waitCtx, "impatient"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	close(release)
	if err := <-holder; err != nil {
		t.Fatalf("holder: %v", err)
	}
	finished, err := track.Finished(ctx)
	if err != nil || finished != 1 {
		t.Fatalf("expected 1 finished, got %d (%v)", finished, err)
	}
}

func TestTrackStageDelayUsesClock(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)
	start := time.Unix(1_700_000_000, 0)
	manual := clock.NewManual(start)
	track, err := core.NewTrack(core.TrackConfig{
		Stages:     3,
		StageDelay: time.Second,
		Clock:      manual,
	})
	if err != nil {
		t.Fatalf("new track: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := track.Run(ctx, "paced")
		done <- err
	}()
	for {
		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("run: %v", err)
			}
			if elapsed := manual.Now().Sub(start); elapsed != 3*time.Second {
				t.Fatalf("expected 3s of stage pacing, got %v", elapsed)
			}
			return
		case <-ctx.Done():
			t.Fatal("run did not finish")
		default:
		}
		if manual.Pending() > 0 {
			manual.Advance(time.Second)
			continue
		}
		time.Sleep(time.Millisecond)
	}
}

func TestNewTrackValidation(t *testing.T) {
	t.Parallel()

	if _, err := core.NewTrack(core.TrackConfig{Stages: -1}); !errors.Is(err, core.ErrInvalidConfig) {
		t.Fatalf("expected invalid config, got %v", err)
	}
	if _, err := core.NewTrack(core.TrackConfig{StageDelay: -time.Second}); !errors.Is(err, core.ErrInvalidConfig) {
		t.Fatalf("expected invalid config, got %v", err)
	}
	track, err := core.NewTrack(core.TrackConfig{})
	if err != nil {
		t.Fatalf("new track: %v", err)
	}
	if track.Stages() != core.DefaultTrackStages || track.Name() != "track" {
		t.Fatalf("unexpected defaults: %d %s", track.Stages(), track.Name())
	}
}

func TestTrackLogsRunLifecycle(t *testing.T) {
	t.Parallel()
	ctx := testContext(t)
	var buf logBuffer
	track, err := core.NewTrack(core.TrackConfig{Name: "logged", Stages: 2, Logger: newBufferLogger(&buf)})
	if err != nil {
		t.Fatalf("new track: %v", err)
	}
	if _, err := track.Run(ctx, "Ferrari"); err != nil {
		t.Fatalf("run: %v", err)
	}
	expectLogged(t, &buf, "track.run.enter", "track.run.finish", "Ferrari", "core.track")
	if strings.Contains(buf.String(), "track.run.stage") {
		t.Fatalf("stage events are debug level:\n%s", buf.String())
	}
}
