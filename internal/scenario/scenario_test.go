package scenario_test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"pkt.systems/lockbank/internal/core"
	"pkt.systems/lockbank/internal/scenario"
)

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestCatalogue(t *testing.T) {
	t.Parallel()
	want := []string{"refill", "invalid-amount", "race", "contention", "basic-banking", "multi-customer", "grand-prix"}
	got := scenario.Names()
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
		if summary, ok := scenario.Summary(got[i]); !ok || summary == "" {
			t.Fatalf("missing summary for %s", got[i])
		}
	}
}

func TestRunUnknown(t *testing.T) {
	t.Parallel()
	if _, err := scenario.Run(testContext(t), "nope", scenario.Env{}); !errors.Is(err, scenario.ErrUnknown) {
		t.Fatalf("expected unknown scenario, got %v", err)
	}
}

func TestLedgerScenarios(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name    string
		balance int64
	}{
		{"refill", 500},
		{"invalid-amount", 100},
		{"contention", 0},
		{"basic-banking", 5000},
		{"multi-customer", 4000},
	}
	for _, fairness := range []core.Fairness{core.FairnessArrival, core.FairnessNone} {
		for _, tc := range cases {
			t.Run(string(fairness)+"/"+tc.name, func(t *testing.T) {
				t.Parallel()
				report, err := scenario.Run(testContext(t), tc.name, scenario.Env{Fairness: fairness})
				if err != nil {
					t.Fatalf("run: %v", err)
				}
				if report.RunID == "" || report.Scenario != tc.name || report.Fairness != fairness {
					t.Fatalf("unexpected report header: %+v", report)
				}
				if report.Balance == nil || !report.Balance.Equal(decimal.NewFromInt(tc.balance)) {
					t.Fatalf("expected final balance %d, got %v", tc.balance, report.Balance)
				}
				if len(report.Steps) == 0 {
					t.Fatal("expected recorded steps")
				}
			})
		}
	}
}

func TestRefillRecordsBlockedWithdrawal(t *testing.T) {
	t.Parallel()
	report, err := scenario.Run(testContext(t), "refill", scenario.Env{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	var found bool
	for _, step := range report.Steps {
		if step.Action == "withdraw" {
			found = true
			if !step.Blocked || !step.Balance.Equal(decimal.NewFromInt(500)) {
				t.Fatalf("unexpected withdrawal step: %+v", step)
			}
		}
	}
	if !found {
		t.Fatal("withdrawal step missing")
	}
}

func TestInvalidAmountRecordsRejection(t *testing.T) {
	t.Parallel()
	report, err := scenario.Run(testContext(t), "invalid-amount", scenario.Env{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	rejected := 0
	for _, step := range report.Steps {
		if step.Err != "" {
			rejected++
		}
	}
	if rejected != 2 {
		t.Fatalf("expected 2 rejected steps, got %d: %+v", rejected, report.Steps)
	}
}

func TestRaceScenarios(t *testing.T) {
	t.Parallel()
	for name, cars := range map[string]int{"race": 3, "grand-prix": 5} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			var mu sync.Mutex
			var events []core.StageEvent
			env := scenario.Env{
				Stages:     2,
				StageDelay: time.Millisecond,
				OnStage: func(ev core.StageEvent) {
					mu.Lock()
					events = append(events, ev)
					mu.Unlock()
				},
			}
			report, err := scenario.Run(testContext(t), name, env)
			if err != nil {
				t.Fatalf("run: %v", err)
			}
			if len(report.Finishers) != cars {
				t.Fatalf("expected %d finishers, got %+v", cars, report.Finishers)
			}
			for i, f := range report.Finishers {
				if f.Position != i+1 {
					t.Fatalf("finishers not ordered by position: %+v", report.Finishers)
				}
			}
			mu.Lock()
			defer mu.Unlock()
			if len(events) != cars*2 {
				t.Fatalf("expected %d stage events, got %d", cars*2, len(events))
			}
			for i := 0; i < len(events); i += 2 {
				if events[i].Participant != events[i+1].Participant {
					t.Fatalf("stages interleaved: %+v", events)
				}
			}
		})
	}
}

func TestRaceCustomCars(t *testing.T) {
	t.Parallel()
	cars := []string{"Ferrari", "Porsche"}
	report, err := scenario.Race(testContext(t), scenario.Env{Stages: 1}, "custom", cars)
	if err != nil {
		t.Fatalf("race: %v", err)
	}
	var names []string
	for _, f := range report.Finishers {
		names = append(names, f.Participant)
	}
	sort.Strings(names)
	if len(names) != 2 || names[0] != "Ferrari" || names[1] != "Porsche" {
		t.Fatalf("unexpected finishers: %+v", report.Finishers)
	}
	if _, err := scenario.Race(testContext(t), scenario.Env{}, "empty", nil); !errors.Is(err, scenario.ErrUnexpected) {
		t.Fatalf("expected error for empty field, got %v", err)
	}
}

func TestRunHonoursCancellation(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(testContext(t))
	cancel()
	_, err := scenario.Run(ctx, "refill", scenario.Env{})
	if !errors.Is(err, core.ErrOperationCancelled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}
