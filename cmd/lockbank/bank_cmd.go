package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"pkt.systems/lockbank/internal/core"
	"pkt.systems/lockbank/internal/identity"
	"pkt.systems/pslog"
)

type bankOp struct {
	kind      string // "deposit" or "withdraw"
	amount    decimal.Decimal
	requester string
}

// parseBankOp accepts KIND:AMOUNT[@REQUESTER] where KIND is deposit (d) or
// withdraw (w).
func parseBankOp(raw string) (bankOp, error) {
	trimmed := strings.TrimSpace(raw)
	kind, rest, ok := strings.Cut(trimmed, ":")
	if !ok {
		return bankOp{}, fmt.Errorf("operation %q: want KIND:AMOUNT[@REQUESTER]", raw)
	}
	var op bankOp
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "deposit", "d":
		op.kind = "deposit"
	case "withdraw", "w":
		op.kind = "withdraw"
	default:
		return bankOp{}, fmt.Errorf("operation %q: unknown kind %q", raw, kind)
	}
	amount, requester, _ := strings.Cut(rest, "@")
	value, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return bankOp{}, fmt.Errorf("operation %q: amount: %w", raw, err)
	}
	op.amount = value
	if requester = strings.TrimSpace(requester); requester != "" {
		normalized, ok := identity.Normalize(requester)
		if !ok {
			return bankOp{}, fmt.Errorf("operation %q: invalid requester %q", raw, requester)
		}
		op.requester = normalized
	}
	return op, nil
}

func newBankCommand(baseLogger pslog.Logger) *cobra.Command {
	var rawOps []string
	var opening string
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "bank",
		Short: "Apply deposits and withdrawals concurrently to one ledger",
		Long: `Every --op runs in its own goroutine against a single ledger. Withdrawals the
balance cannot cover block until deposits make them grantable. When --timeout
expires, withdrawals that are still blocked give up and are reported.`,
		Example: `  lockbank bank --op deposit:1000 --op withdraw:1500@alice --op deposit:1000
  lockbank bank --opening 5000 --op w:6000@charlie --op d:3000@bob --timeout 5s`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(rawOps) == 0 {
				return fmt.Errorf("at least one --op is required")
			}
			ops := make([]bankOp, 0, len(rawOps))
			for _, raw := range rawOps {
				op, err := parseBankOp(raw)
				if err != nil {
					return err
				}
				ops = append(ops, op)
			}
			openingBalance, err := decimal.NewFromString(strings.TrimSpace(opening))
			if err != nil {
				return fmt.Errorf("opening balance: %w", err)
			}

			kernel, logger, err := openKernel(cmd, baseLogger)
			if err != nil {
				return err
			}
			defer closeKernel(kernel, logger)

			ledger, err := kernel.NewLedger("bank", openingBalance)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			out := &syncWriter{w: cmd.OutOrStdout()}
			blocked, failed := applyBankOps(ctx, ledger, ops, out)

			totals, err := ledger.Totals(context.Background())
			if err != nil {
				return err
			}
			out.printf("final balance %s (opening %s, deposited %s, withdrawn %s)\n",
				formatAmount(totals.Balance), formatAmount(totals.Opening),
				formatAmount(totals.Deposited), formatAmount(totals.Withdrawn))
			var errs []error
			if blocked > 0 {
				errs = append(errs, fmt.Errorf("%d withdrawal(s) still blocked when the deadline expired", blocked))
			}
			if failed > 0 {
				errs = append(errs, fmt.Errorf("%d operation(s) rejected", failed))
			}
			return errors.Join(errs...)
		},
	}
	cmd.Flags().StringArrayVar(&rawOps, "op", nil, "operation KIND:AMOUNT[@REQUESTER], KIND is deposit|withdraw (repeatable)")
	cmd.Flags().StringVar(&opening, "opening", "0", "opening balance")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "give up on blocked withdrawals after this long (0 waits indefinitely)")
	return cmd
}

// applyBankOps runs every op concurrently and returns how many withdrawals
// were still blocked when ctx ended and how many ops were rejected.
func applyBankOps(ctx context.Context, ledger *core.Ledger, ops []bankOp, out *syncWriter) (blocked, failed int) {
	type outcome struct {
		blocked bool
		failed  bool
	}
	outcomes := make([]outcome, len(ops))
	var g errgroup.Group
	for i, op := range ops {
		g.Go(func() error {
			opCtx := ctx
			if op.requester != "" {
				opCtx = identity.With(ctx, op.requester)
			}
			switch op.kind {
			case "deposit":
				balance, err := ledger.Deposit(opCtx, op.amount)
				if err != nil {
					outcomes[i].failed = true
					out.printf("deposit  %10s  rejected: %v\n", formatAmount(op.amount), err)
					return nil
				}
				out.printf("deposit  %10s  balance %s\n", formatAmount(op.amount), formatAmount(balance))
			case "withdraw":
				receipt, err := ledger.Withdraw(opCtx, op.amount)
				switch {
				case errors.Is(err, core.ErrOperationCancelled) && receipt.Blocked:
					outcomes[i].blocked = true
					out.printf("withdraw %10s  by %s still blocked after %s\n", formatAmount(op.amount), receipt.Requester, formatWait(receipt.Waited))
				case err != nil:
					outcomes[i].failed = true
					out.printf("withdraw %10s  rejected: %v\n", formatAmount(op.amount), err)
				case receipt.Blocked:
					out.printf("withdraw %10s  by %s balance %s (waited %s)\n", formatAmount(op.amount), receipt.Requester, formatAmount(receipt.Remaining), formatWait(receipt.Waited))
				default:
					out.printf("withdraw %10s  by %s balance %s\n", formatAmount(op.amount), receipt.Requester, formatAmount(receipt.Remaining))
				}
			}
			return nil
		})
	}
	_ = g.Wait()
	for _, o := range outcomes {
		if o.blocked {
			blocked++
		}
		if o.failed {
			failed++
		}
	}
	return blocked, failed
}
