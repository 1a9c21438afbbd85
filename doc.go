// Package lockbank hosts a guarded ledger whose withdrawals block until funds
// arrive, and a single-occupancy track that admits one participant at a time.
// Both are built on a monitor: a FIFO lock paired with a broadcast wait set,
// where every waiter re-checks its own condition after each wakeup.
//
// # Kernel
//
// A Kernel validates configuration, starts optional telemetry (OTLP traces,
// a Prometheus scrape endpoint, pprof) and builds ledgers and tracks that
// share its logger, clock and policy:
//
//	k, err := lockbank.NewKernel(lockbank.Config{Fairness: "arrival"})
//	if err != nil { log.Fatal(err) }
//	defer k.Close(context.Background())
//
//	acct, _ := k.NewLedger("checking", decimal.Zero)
//	go acct.Withdraw(ctx, decimal.NewFromInt(1500)) // blocks
//	acct.Deposit(ctx, decimal.NewFromInt(1000))
//	acct.Deposit(ctx, decimal.NewFromInt(1000))    // releases the withdrawal
//
// # Fairness
//
// With the default "arrival" policy blocked withdrawals are granted strictly
// in the order they arrived, and new withdrawals queue behind existing ones
// even when the balance would cover them. The "none" policy grants any
// withdrawal the balance covers, which can starve large demands.
//
// # Cancellation
//
// Every blocking call takes a context. A withdrawal whose context ends while
// blocked is removed from the pending set and leaves the balance untouched;
// a track run cancelled mid-section does not receive a finishing position.
//
// # Scenarios
//
// RunScenario executes named, self-checking concurrent runs (refill,
// invalid-amount, race, contention, basic-banking, multi-customer,
// grand-prix). The lockbank command exposes them as `lockbank scenario run`.
package lockbank
