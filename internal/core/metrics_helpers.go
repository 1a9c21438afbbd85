package core

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"pkt.systems/pslog"
)

const instrumentationName = "pkt.systems/lockbank/core"

func metricResultLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ErrOperationCancelled):
		return "cancelled"
	default:
		return "error"
	}
}

func boolLabel(value bool) string {
	if value {
		return "true"
	}
	return "false"
}

func metricContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

func logMetricInitError(logger pslog.Logger, name string, err error) {
	if err == nil || logger == nil {
		return
	}
	logger.Warn("telemetry.metric.init_failed", "name", name, "error", err)
}

func tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, metricResultLabel(err))
	}
	span.End()
}
