package main

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"

	"pkt.systems/lockbank/internal/core"
	"pkt.systems/lockbank/internal/scenario"
)

// formatAmount renders d with thousands separators and no trailing zeros.
func formatAmount(d decimal.Decimal) string {
	if d.IsNegative() {
		return "-" + formatAmount(d.Neg())
	}
	whole := d.Truncate(0)
	out := humanize.Comma(whole.IntPart())
	if frac := d.Sub(whole); !frac.IsZero() {
		out += strings.TrimPrefix(frac.String(), "0")
	}
	return out
}

func formatWait(d time.Duration) string {
	if d < time.Millisecond {
		return d.String()
	}
	return d.Round(time.Millisecond).String()
}

// syncWriter serialises lines written from concurrent callers.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) printf(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.w, format, args...)
}

func stagePrinter(out *syncWriter) func(core.StageEvent) {
	return func(ev core.StageEvent) {
		out.printf("  %-16s stage %d/%d\n", ev.Participant, ev.Stage, ev.Stages)
	}
}

func printReport(out *syncWriter, report *scenario.Report) {
	if report == nil {
		return
	}
	for _, step := range report.Steps {
		switch {
		case step.Err != "":
			out.printf("  %-16s %-8s %10s  rejected: %s\n", step.Actor, step.Action, formatAmount(step.Amount), step.Err)
		case step.Blocked:
			out.printf("  %-16s %-8s %10s  balance %s (was blocked)\n", step.Actor, step.Action, formatAmount(step.Amount), formatAmount(step.Balance))
		default:
			out.printf("  %-16s %-8s %10s  balance %s\n", step.Actor, step.Action, formatAmount(step.Amount), formatAmount(step.Balance))
		}
	}
	for _, f := range report.Finishers {
		out.printf("  %s place: %s\n", humanize.Ordinal(f.Position), f.Participant)
	}
	if report.Balance != nil {
		out.printf("  final balance %s\n", formatAmount(*report.Balance))
	}
	out.printf("  run %s finished in %s\n", report.RunID, formatWait(report.Elapsed))
}
