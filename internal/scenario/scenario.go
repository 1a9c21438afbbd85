// Package scenario drives the ledger and track with concurrent callers. Each
// scenario orders its steps with explicit synchronisation points (pending
// demand counts, joins) and checks the outcome it expects, so a run doubles
// as an end-to-end assertion.
package scenario

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/xid"
	"github.com/shopspring/decimal"

	"pkt.systems/lockbank/internal/clock"
	"pkt.systems/lockbank/internal/core"
	"pkt.systems/lockbank/internal/loggingutil"
	"pkt.systems/pslog"
)

// ErrUnknown is returned for names missing from the catalogue.
var ErrUnknown = errors.New("scenario: unknown scenario")

// ErrUnexpected reports an outcome that differs from what the scenario
// guarantees.
var ErrUnexpected = errors.New("scenario: unexpected outcome")

// Env carries the collaborators shared by every scenario run.
type Env struct {
	Logger     pslog.Logger
	Clock      clock.Clock
	Fairness   core.Fairness
	Stages     int
	StageDelay time.Duration
	// OnStage receives track stage events, e.g. for progress output.
	OnStage func(core.StageEvent)
}

// Step is one completed (or rejected) operation in a run.
type Step struct {
	Actor   string
	Action  string
	Amount  decimal.Decimal
	Balance decimal.Decimal
	Blocked bool
	Err     string
}

// Finisher is a track participant and its finishing position.
type Finisher struct {
	Participant string
	Position    int
}

// Report summarises a scenario run.
type Report struct {
	RunID     string
	Scenario  string
	Fairness  core.Fairness
	Steps     []Step
	Balance   *decimal.Decimal
	Finishers []Finisher
	Elapsed   time.Duration
}

type scenario struct {
	name    string
	summary string
	run     func(ctx context.Context, env Env, rec *recorder) error
}

var catalogue = []scenario{
	{"refill", "withdrawal blocks until a second deposit covers it", runRefill},
	{"invalid-amount", "non-positive amounts are rejected without touching the balance", runInvalidAmount},
	{"race", "three cars share a single-occupancy track section", runRace},
	{"contention", "one deposit covers only one of two blocked withdrawals", runContention},
	{"basic-banking", "a 15000 withdrawal waits through two 10000 deposits", runBasicBanking},
	{"multi-customer", "four customers trade concurrently against an opening balance", runMultiCustomer},
	{"grand-prix", "five cars share a single-occupancy track section", runGrandPrix},
}

// Names lists the catalogue in presentation order.
func Names() []string {
	out := make([]string, 0, len(catalogue))
	for _, s := range catalogue {
		out = append(out, s.name)
	}
	return out
}

// Summary returns the one-line description of name.
func Summary(name string) (string, bool) {
	for _, s := range catalogue {
		if s.name == name {
			return s.summary, true
		}
	}
	return "", false
}

// Run executes the named scenario and returns its report. The report is
// returned alongside an error as far as the run progressed.
func Run(ctx context.Context, name string, env Env) (*Report, error) {
	var sc *scenario
	for i := range catalogue {
		if catalogue[i].name == name {
			sc = &catalogue[i]
			break
		}
	}
	if sc == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknown, name)
	}
	return execute(ctx, sc.name, env, sc.run)
}

// Race runs cars concurrently on a fresh track named name and reports each
// finishing position.
func Race(ctx context.Context, env Env, name string, cars []string) (*Report, error) {
	if len(cars) == 0 {
		return nil, fmt.Errorf("%w: race needs at least one car", ErrUnexpected)
	}
	return execute(ctx, name, env, func(ctx context.Context, env Env, rec *recorder) error {
		return race(ctx, env, rec, name, cars)
	})
}

func execute(ctx context.Context, name string, env Env, run func(context.Context, Env, *recorder) error) (*Report, error) {
	if env.Fairness == "" {
		env.Fairness = core.DefaultFairness
	}
	env.Clock = clock.Or(env.Clock)
	runID := xid.New().String()
	env.Logger = loggingutil.EnsureLogger(env.Logger).With("run_id", runID)
	logger := loggingutil.WithSubsystem(env.Logger, "scenario").With("scenario", name)

	rec := &recorder{}
	start := env.Clock.Now()
	logger.Info("scenario.run.begin", "fairness", string(env.Fairness))
	err := run(ctx, env, rec)
	report := rec.report(runID, name, env.Fairness)
	report.Elapsed = env.Clock.Now().Sub(start)
	if err != nil {
		logger.Warn("scenario.run.failed", "error", err)
		return report, fmt.Errorf("scenario %s: %w", name, err)
	}
	logger.Info("scenario.run.complete", "steps", len(report.Steps), "elapsed", report.Elapsed)
	return report, nil
}

type recorder struct {
	mu        sync.Mutex
	steps     []Step
	balance   *decimal.Decimal
	finishers []Finisher
}

func (r *recorder) step(s Step) {
	r.mu.Lock()
	r.steps = append(r.steps, s)
	r.mu.Unlock()
}

func (r *recorder) finish(participant string, position int) {
	r.mu.Lock()
	r.finishers = append(r.finishers, Finisher{Participant: participant, Position: position})
	r.mu.Unlock()
}

func (r *recorder) final(balance decimal.Decimal) {
	r.mu.Lock()
	r.balance = &balance
	r.mu.Unlock()
}

func (r *recorder) report(runID, name string, fairness core.Fairness) *Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	finishers := append([]Finisher(nil), r.finishers...)
	sort.Slice(finishers, func(i, j int) bool { return finishers[i].Position < finishers[j].Position })
	return &Report{
		RunID:     runID,
		Scenario:  name,
		Fairness:  fairness,
		Steps:     append([]Step(nil), r.steps...),
		Balance:   r.balance,
		Finishers: finishers,
	}
}

func unexpected(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUnexpected, fmt.Sprintf(format, args...))
}
