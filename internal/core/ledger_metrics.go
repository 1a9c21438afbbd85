package core

import (
	"context"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"pkt.systems/pslog"
)

type ledgerMetrics struct {
	ledger        string
	depositCount  metric.Int64Counter
	withdrawCount metric.Int64Counter
	waitDuration  metric.Int64Histogram
	pendingGauge  metric.Int64ObservableGauge
	registration  metric.Registration
	pending       atomic.Int64
}

func newLedgerMetrics(name string, logger pslog.Logger) *ledgerMetrics {
	meter := otel.Meter("pkt.systems/lockbank/ledger")
	m := &ledgerMetrics{ledger: name}
	var err error

	m.depositCount, err = meter.Int64Counter(
		"lockbank.ledger.deposit",
		metric.WithDescription("Ledger deposits"),
	)
	logMetricInitError(logger, "lockbank.ledger.deposit", err)

	m.withdrawCount, err = meter.Int64Counter(
		"lockbank.ledger.withdraw",
		metric.WithDescription("Ledger withdrawals"),
	)
	logMetricInitError(logger, "lockbank.ledger.withdraw", err)

	m.waitDuration, err = meter.Int64Histogram(
		"lockbank.ledger.withdraw.wait_ms",
		metric.WithDescription("Time a withdrawal spent blocked on insufficient funds"),
		metric.WithUnit("ms"),
	)
	logMetricInitError(logger, "lockbank.ledger.withdraw.wait_ms", err)

	m.pendingGauge, err = meter.Int64ObservableGauge(
		"lockbank.ledger.pending",
		metric.WithDescription("Blocked withdrawal demands"),
	)
	logMetricInitError(logger, "lockbank.ledger.pending", err)

	if m.pendingGauge != nil {
		reg, err := meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
			o.ObserveInt64(m.pendingGauge, m.pending.Load(), metric.WithAttributes(attribute.String("lockbank.ledger", m.ledger)))
			return nil
		}, m.pendingGauge)
		if err != nil && logger != nil {
			logger.Warn("telemetry.metric.callback_failed", "name", "lockbank.ledger.pending", "error", err)
		}
		m.registration = reg
	}
	return m
}

func (m *ledgerMetrics) close() error {
	if m == nil || m.registration == nil {
		return nil
	}
	return m.registration.Unregister()
}

func (m *ledgerMetrics) setPending(n int) {
	if m == nil {
		return
	}
	m.pending.Store(int64(n))
}

func (m *ledgerMetrics) recordDeposit(ctx context.Context, err error) {
	if m == nil || m.depositCount == nil {
		return
	}
	m.depositCount.Add(metricContext(ctx), 1, metric.WithAttributes(
		attribute.String("lockbank.ledger", m.ledger),
		attribute.String("lockbank.result", metricResultLabel(err)),
	))
}

func (m *ledgerMetrics) recordWithdraw(ctx context.Context, blocked bool, waited time.Duration, err error) {
	if m == nil {
		return
	}
	ctx = metricContext(ctx)
	attrs := []attribute.KeyValue{
		attribute.String("lockbank.ledger", m.ledger),
		attribute.String("lockbank.result", metricResultLabel(err)),
		attribute.String("lockbank.withdraw.blocked", boolLabel(blocked)),
	}
	if m.withdrawCount != nil {
		m.withdrawCount.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	if blocked && m.waitDuration != nil {
		m.waitDuration.Record(ctx, waited.Milliseconds(), metric.WithAttributes(attrs...))
	}
}
