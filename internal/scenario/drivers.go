package scenario

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"pkt.systems/lockbank/internal/core"
	"pkt.systems/lockbank/internal/identity"
)

func newLedger(env Env, name string, opening int64) (*core.Ledger, error) {
	return core.NewLedger(core.LedgerConfig{
		Name:     name,
		Opening:  decimal.NewFromInt(opening),
		Fairness: env.Fairness,
		Logger:   env.Logger,
		Clock:    env.Clock,
	})
}

func deposit(ctx context.Context, rec *recorder, l *core.Ledger, actor string, amount int64) error {
	amt := decimal.NewFromInt(amount)
	balance, err := l.Deposit(identity.With(ctx, actor), amt)
	step := Step{Actor: actor, Action: "deposit", Amount: amt, Balance: balance}
	if err != nil {
		step.Err = err.Error()
	}
	rec.step(step)
	return err
}

func withdraw(ctx context.Context, rec *recorder, l *core.Ledger, actor string, amount int64) error {
	amt := decimal.NewFromInt(amount)
	receipt, err := l.Withdraw(identity.With(ctx, actor), amt)
	step := Step{Actor: actor, Action: "withdraw", Amount: amt, Balance: receipt.Remaining, Blocked: receipt.Blocked}
	if err != nil {
		step.Err = err.Error()
	}
	rec.step(step)
	return err
}

func expectBalance(ctx context.Context, rec *recorder, l *core.Ledger, want int64) error {
	balance, err := l.Balance(ctx)
	if err != nil {
		return err
	}
	rec.final(balance)
	if !balance.Equal(decimal.NewFromInt(want)) {
		return unexpected("final balance %s, want %d", balance, want)
	}
	return nil
}

func expectPending(ctx context.Context, l *core.Ledger, want int) error {
	pending, err := l.Pending(ctx)
	if err != nil {
		return err
	}
	if len(pending) != want {
		return unexpected("%d withdrawals pending, want %d", len(pending), want)
	}
	return nil
}

// runRefill: opening 0, deposit 1000, withdraw 1500 blocks, deposit 1000
// releases it leaving 500.
func runRefill(ctx context.Context, env Env, rec *recorder) error {
	l, err := newLedger(env, "refill", 0)
	if err != nil {
		return err
	}
	defer l.Close()

	if err := deposit(ctx, rec, l, "depositor", 1000); err != nil {
		return err
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return withdraw(gctx, rec, l, "withdrawer", 1500) })
	if err := l.AwaitPending(gctx, 1); err != nil {
		return errors.Join(err, g.Wait())
	}
	if err := deposit(gctx, rec, l, "depositor", 1000); err != nil {
		return errors.Join(err, g.Wait())
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return expectBalance(ctx, rec, l, 500)
}

// runInvalidAmount: a withdrawal of -5 is rejected and the balance stays put.
func runInvalidAmount(ctx context.Context, env Env, rec *recorder) error {
	l, err := newLedger(env, "invalid-amount", 0)
	if err != nil {
		return err
	}
	defer l.Close()

	if err := deposit(ctx, rec, l, "depositor", 100); err != nil {
		return err
	}
	err = withdraw(ctx, rec, l, "withdrawer", -5)
	if !errors.Is(err, core.ErrInvalidAmount) {
		return unexpected("withdraw(-5) returned %v, want invalid amount", err)
	}
	err = deposit(ctx, rec, l, "depositor", 0)
	if !errors.Is(err, core.ErrInvalidAmount) {
		return unexpected("deposit(0) returned %v, want invalid amount", err)
	}
	return expectBalance(ctx, rec, l, 100)
}

// runContention: withdrawals of 3000 and 4000 block on an empty ledger, a
// 5000 deposit satisfies exactly one of them and a 2000 top-up the other.
func runContention(ctx context.Context, env Env, rec *recorder) error {
	l, err := newLedger(env, "contention", 0)
	if err != nil {
		return err
	}
	defer l.Close()

	g, gctx := errgroup.WithContext(ctx)
	done := make(chan string, 2)
	start := func(actor string, amount int64, waitFor int) error {
		g.Go(func() error {
			if err := withdraw(gctx, rec, l, actor, amount); err != nil {
				return err
			}
			done <- actor
			return nil
		})
		return l.AwaitPending(gctx, waitFor)
	}
	if err := start("withdrawer-3000", 3000, 1); err != nil {
		return errors.Join(err, g.Wait())
	}
	if err := start("withdrawer-4000", 4000, 2); err != nil {
		return errors.Join(err, g.Wait())
	}

	if err := deposit(gctx, rec, l, "depositor", 5000); err != nil {
		return errors.Join(err, g.Wait())
	}
	var first string
	select {
	case first = <-done:
	case <-gctx.Done():
		return errors.Join(gctx.Err(), g.Wait())
	}
	if env.Fairness == core.FairnessArrival && first != "withdrawer-3000" {
		return errors.Join(unexpected("%s granted ahead of the earlier withdrawer-3000", first), topUp(gctx, rec, l, g))
	}
	if err := expectPending(gctx, l, 1); err != nil {
		return errors.Join(err, topUp(gctx, rec, l, g))
	}
	if err := topUp(gctx, rec, l, g); err != nil {
		return err
	}
	return expectBalance(ctx, rec, l, 0)
}

// topUp covers whichever withdrawal is still blocked and joins the group.
func topUp(ctx context.Context, rec *recorder, l *core.Ledger, g *errgroup.Group) error {
	if err := deposit(ctx, rec, l, "depositor", 2000); err != nil {
		return errors.Join(err, g.Wait())
	}
	return g.Wait()
}

// runBasicBanking: a 15000 withdrawal stays blocked after the first 10000
// deposit and completes after the second, leaving 5000.
func runBasicBanking(ctx context.Context, env Env, rec *recorder) error {
	l, err := newLedger(env, "basic-banking", 0)
	if err != nil {
		return err
	}
	defer l.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return withdraw(gctx, rec, l, "alice", 15000) })
	if err := l.AwaitPending(gctx, 1); err != nil {
		return errors.Join(err, g.Wait())
	}
	if err := deposit(gctx, rec, l, "bob", 10000); err != nil {
		return errors.Join(err, g.Wait())
	}
	if err := expectPending(gctx, l, 1); err != nil {
		return errors.Join(err, deposit(gctx, rec, l, "bob", 10000), g.Wait())
	}
	if err := deposit(gctx, rec, l, "bob", 10000); err != nil {
		return errors.Join(err, g.Wait())
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return expectBalance(ctx, rec, l, 5000)
}

// runMultiCustomer: opening 5000; Bob deposits 3000 while Charlie withdraws
// 6000, then Diana deposits 4000 and Bob withdraws 2000, leaving 4000.
func runMultiCustomer(ctx context.Context, env Env, rec *recorder) error {
	l, err := newLedger(env, "multi-customer", 5000)
	if err != nil {
		return err
	}
	defer l.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return deposit(gctx, rec, l, "bob", 3000) })
	g.Go(func() error { return withdraw(gctx, rec, l, "charlie", 6000) })
	if err := g.Wait(); err != nil {
		return err
	}

	g, gctx = errgroup.WithContext(ctx)
	g.Go(func() error { return deposit(gctx, rec, l, "diana", 4000) })
	g.Go(func() error { return withdraw(gctx, rec, l, "bob", 2000) })
	if err := g.Wait(); err != nil {
		return err
	}
	return expectBalance(ctx, rec, l, 4000)
}

func runRace(ctx context.Context, env Env, rec *recorder) error {
	return race(ctx, env, rec, "common-section", []string{"Ferrari", "Lamborghini", "Porsche"})
}

func runGrandPrix(ctx context.Context, env Env, rec *recorder) error {
	return race(ctx, env, rec, "grand-prix", []string{"Red Bull Racing", "Mercedes AMG", "McLaren", "Aston Martin", "Alpine F1"})
}

func race(ctx context.Context, env Env, rec *recorder, name string, cars []string) error {
	track, err := core.NewTrack(core.TrackConfig{
		Name:       name,
		Stages:     env.Stages,
		StageDelay: env.StageDelay,
		Clock:      env.Clock,
		Logger:     env.Logger,
		Observer:   env.OnStage,
	})
	if err != nil {
		return err
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, car := range cars {
		g.Go(func() error {
			pos, err := track.Run(gctx, car)
			if err != nil {
				return err
			}
			rec.finish(car, pos)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	finished, err := track.Finished(ctx)
	if err != nil {
		return err
	}
	if finished != len(cars) {
		return unexpected("%d cars finished, want %d", finished, len(cars))
	}
	return nil
}
