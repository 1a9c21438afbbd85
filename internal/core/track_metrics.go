package core

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"pkt.systems/pslog"
)

type trackMetrics struct {
	track       string
	runCount    metric.Int64Counter
	runDuration metric.Int64Histogram
}

func newTrackMetrics(name string, logger pslog.Logger) *trackMetrics {
	meter := otel.Meter("pkt.systems/lockbank/track")
	m := &trackMetrics{track: name}
	var err error

	m.runCount, err = meter.Int64Counter(
		"lockbank.track.run",
		metric.WithDescription("Track runs"),
	)
	logMetricInitError(logger, "lockbank.track.run", err)

	m.runDuration, err = meter.Int64Histogram(
		"lockbank.track.run.duration_ms",
		metric.WithDescription("Track run duration including the wait for the section"),
		metric.WithUnit("ms"),
	)
	logMetricInitError(logger, "lockbank.track.run.duration_ms", err)
	return m
}

func (m *trackMetrics) recordRun(ctx context.Context, duration time.Duration, err error) {
	if m == nil {
		return
	}
	ctx = metricContext(ctx)
	attrs := metric.WithAttributes(
		attribute.String("lockbank.track", m.track),
		attribute.String("lockbank.result", metricResultLabel(err)),
	)
	if m.runCount != nil {
		m.runCount.Add(ctx, 1, attrs)
	}
	if m.runDuration != nil {
		m.runDuration.Record(ctx, duration.Milliseconds(), attrs)
	}
}
