package core

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"pkt.systems/lockbank/internal/clock"
	"pkt.systems/lockbank/internal/identity"
	"pkt.systems/lockbank/internal/loggingutil"
	"pkt.systems/lockbank/internal/monitor"
	"pkt.systems/pslog"
)

// LedgerConfig configures a Ledger.
type LedgerConfig struct {
	Name     string
	Opening  decimal.Decimal
	Fairness Fairness
	Logger   pslog.Logger
	Clock    clock.Clock
}

// Ledger is a balance guarded by a monitor. Withdrawals that the balance
// cannot cover block until deposits make them grantable under the configured
// fairness policy.
type Ledger struct {
	name     string
	fairness Fairness
	mon      *monitor.Monitor
	logger   pslog.Logger
	clock    clock.Clock
	metrics  *ledgerMetrics

	// Guarded by mon.
	balance   decimal.Decimal
	opening   decimal.Decimal
	deposited decimal.Decimal
	withdrawn decimal.Decimal
	pending   PendingSet
}

// Totals is a consistent view of the ledger's accounting.
type Totals struct {
	Opening   decimal.Decimal
	Deposited decimal.Decimal
	Withdrawn decimal.Decimal
	Balance   decimal.Decimal
	Pending   int
}

// Receipt describes a completed withdrawal.
type Receipt struct {
	Requester string
	Amount    decimal.Decimal
	Remaining decimal.Decimal
	Blocked   bool
	Waited    time.Duration
}

// NewLedger constructs a Ledger opened with cfg.Opening.
func NewLedger(cfg LedgerConfig) (*Ledger, error) {
	if cfg.Opening.IsNegative() {
		return nil, Failure{Code: CodeInvalidAmount, Detail: "opening balance must not be negative, got " + cfg.Opening.String()}
	}
	fairness, err := ParseFairness(string(cfg.Fairness))
	if err != nil {
		return nil, err
	}
	name := cfg.Name
	if name == "" {
		name = "ledger"
	}
	logger := loggingutil.WithSubsystem(cfg.Logger, "core.ledger").With("ledger", name)
	return &Ledger{
		name:      name,
		fairness:  fairness,
		mon:       monitor.New(),
		logger:    logger,
		clock:     clock.Or(cfg.Clock),
		metrics:   newLedgerMetrics(name, logger),
		balance:   cfg.Opening,
		opening:   cfg.Opening,
		deposited: decimal.Zero,
		withdrawn: decimal.Zero,
	}, nil
}

// Name returns the ledger name.
func (l *Ledger) Name() string {
	return l.name
}

// Fairness returns the active grant policy.
func (l *Ledger) Fairness() Fairness {
	return l.fairness
}

// Close releases telemetry registrations.
func (l *Ledger) Close() error {
	return l.metrics.close()
}

// Deposit adds amount and wakes every blocked withdrawal so each re-checks
// its demand against the new balance. It returns the balance after the
// deposit.
func (l *Ledger) Deposit(ctx context.Context, amount decimal.Decimal) (balance decimal.Decimal, err error) {
	ctx, span := tracer().Start(ctx, "ledger.deposit", trace.WithAttributes(
		attribute.String("lockbank.ledger", l.name),
		attribute.String("lockbank.amount", amount.String()),
	))
	defer func() {
		l.metrics.recordDeposit(ctx, err)
		endSpan(span, err)
	}()
	if !amount.IsPositive() {
		return decimal.Zero, invalidAmount("deposit", amount)
	}
	requester := identity.Resolve(ctx, "")
	logger := loggingutil.FromContext(ctx, l.logger)

	var pending int
	err = l.mon.WithLock(ctx, func(g *monitor.Guard) error {
		l.balance = l.balance.Add(amount)
		l.deposited = l.deposited.Add(amount)
		l.checkLocked()
		balance = l.balance
		pending = l.pending.Len()
		g.SignalAll()
		return nil
	})
	if err != nil {
		return decimal.Zero, cancelled("deposit", err)
	}
	logger.Info("ledger.deposit.applied",
		"requester", requester,
		"amount", amount.String(),
		"balance", balance.String(),
		"pending", pending,
	)
	return balance, nil
}

// Withdraw removes amount, blocking while the withdrawal is not grantable.
// A blocked withdrawal is registered as a PendingDemand until it completes or
// ctx ends; cancellation leaves the balance untouched.
func (l *Ledger) Withdraw(ctx context.Context, amount decimal.Decimal) (receipt Receipt, err error) {
	ctx, span := tracer().Start(ctx, "ledger.withdraw", trace.WithAttributes(
		attribute.String("lockbank.ledger", l.name),
		attribute.String("lockbank.amount", amount.String()),
	))
	defer func() {
		l.metrics.recordWithdraw(ctx, receipt.Blocked, receipt.Waited, err)
		span.SetAttributes(attribute.Bool("lockbank.withdraw.blocked", receipt.Blocked))
		endSpan(span, err)
	}()
	if !amount.IsPositive() {
		return Receipt{}, invalidAmount("withdraw", amount)
	}
	requester := identity.Resolve(ctx, "")
	logger := loggingutil.FromContext(ctx, l.logger)
	receipt = Receipt{Requester: requester, Amount: amount}

	var waitErr error
	err = l.mon.WithLock(ctx, func(g *monitor.Guard) error {
		if l.immediateLocked(amount) {
			l.debitLocked(amount)
			receipt.Remaining = l.balance
			return nil
		}

		demand := l.pending.Add(amount, requester, l.clock.Now())
		l.metrics.setPending(l.pending.Len())
		receipt.Blocked = true
		logger.Info("ledger.withdraw.blocked",
			"requester", requester,
			"seq", demand.Seq,
			"amount", amount.String(),
			"balance", l.balance.String(),
			"pending", l.pending.Len(),
		)
		// Observers in AwaitPending watch the demand count.
		g.SignalAll()

		waitErr = g.WaitUntil(func() bool { return l.grantableLocked(demand) })
		l.pending.Remove(demand.Seq)
		l.metrics.setPending(l.pending.Len())
		receipt.Waited = l.clock.Now().Sub(demand.Since)
		if waitErr == nil {
			l.debitLocked(amount)
			receipt.Remaining = l.balance
		}
		// The next demand in arrival order may be grantable now.
		g.SignalAll()
		return waitErr
	})
	if err != nil {
		logger.Info("ledger.withdraw.cancelled",
			"requester", requester,
			"amount", amount.String(),
			"blocked", receipt.Blocked,
			"error", err,
		)
		return Receipt{Requester: requester, Amount: amount, Blocked: receipt.Blocked, Waited: receipt.Waited}, cancelled("withdraw", err)
	}
	logger.Info("ledger.withdraw.granted",
		"requester", requester,
		"amount", amount.String(),
		"balance", receipt.Remaining.String(),
		"blocked", receipt.Blocked,
		"waited_ms", receipt.Waited.Milliseconds(),
	)
	return receipt, nil
}

// Balance returns the balance observed under the lock.
func (l *Ledger) Balance(ctx context.Context) (decimal.Decimal, error) {
	totals, err := l.Totals(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return totals.Balance, nil
}

// Totals returns a consistent snapshot of the ledger's accounting.
func (l *Ledger) Totals(ctx context.Context) (Totals, error) {
	var out Totals
	err := l.mon.WithLock(ctx, func(*monitor.Guard) error {
		out = Totals{
			Opening:   l.opening,
			Deposited: l.deposited,
			Withdrawn: l.withdrawn,
			Balance:   l.balance,
			Pending:   l.pending.Len(),
		}
		return nil
	})
	if err != nil {
		return Totals{}, cancelled("totals", err)
	}
	return out, nil
}

// Pending returns the blocked withdrawals in arrival order.
func (l *Ledger) Pending(ctx context.Context) ([]PendingDemand, error) {
	var out []PendingDemand
	err := l.mon.WithLock(ctx, func(*monitor.Guard) error {
		out = l.pending.Snapshot()
		return nil
	})
	if err != nil {
		return nil, cancelled("pending", err)
	}
	return out, nil
}

// AwaitPending blocks until at least n withdrawals are blocked on the ledger.
// Drivers use it to order steps without sleeping.
func (l *Ledger) AwaitPending(ctx context.Context, n int) error {
	err := l.mon.WithLock(ctx, func(g *monitor.Guard) error {
		return g.WaitUntil(func() bool { return l.pending.Len() >= n })
	})
	if err != nil {
		return cancelled("await pending", err)
	}
	return nil
}

// immediateLocked reports whether a new withdrawal may skip the pending set.
func (l *Ledger) immediateLocked(amount decimal.Decimal) bool {
	if l.balance.LessThan(amount) {
		return false
	}
	return l.fairness == FairnessNone || l.pending.Len() == 0
}

func (l *Ledger) grantableLocked(d PendingDemand) bool {
	if l.balance.LessThan(d.Amount) {
		return false
	}
	if l.fairness == FairnessNone {
		return true
	}
	head, ok := l.pending.Head()
	return ok && head.Seq == d.Seq
}

func (l *Ledger) debitLocked(amount decimal.Decimal) {
	l.balance = l.balance.Sub(amount)
	l.withdrawn = l.withdrawn.Add(amount)
	l.checkLocked()
}

func (l *Ledger) checkLocked() {
	if l.balance.IsNegative() {
		invariant("ledger %s balance %s is negative", l.name, l.balance)
	}
	want := l.opening.Add(l.deposited).Sub(l.withdrawn)
	if !l.balance.Equal(want) {
		invariant("ledger %s balance %s != opening+deposited-withdrawn %s", l.name, l.balance, want)
	}
}
