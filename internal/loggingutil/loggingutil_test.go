package loggingutil_test

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"pkt.systems/lockbank/internal/loggingutil"
	"pkt.systems/pslog"
)

func TestSubsystemSkipsEmptyParts(t *testing.T) {
	t.Parallel()

	cases := []struct {
		parts []string
		want  string
	}{
		{nil, ""},
		{[]string{"core", "", "ledger"}, "core.ledger"},
		{[]string{".core.", " track "}, "core.track"},
	}
	for _, tc := range cases {
		if got := loggingutil.Subsystem(tc.parts...); got != tc.want {
			t.Fatalf("Subsystem(%q) = %q, want %q", tc.parts, got, tc.want)
		}
	}
}

func TestEnsureLoggerNeverNil(t *testing.T) {
	t.Parallel()

	if loggingutil.EnsureLogger(nil) == nil {
		t.Fatal("expected noop logger")
	}
	if loggingutil.WithSubsystem(nil, "core") == nil {
		t.Fatal("expected logger with subsystem")
	}
	if loggingutil.FromContext(context.Background(), nil) == nil {
		t.Fatal("expected fallback logger")
	}
}

func TestFromContextFallsBackWhenContextHasNoLogger(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	fallback := pslog.NewWithOptions(&buf, pslog.Options{Mode: pslog.ModeStructured, NoColor: true})
	loggingutil.FromContext(context.Background(), fallback).Info("fallback.used")
	if !strings.Contains(buf.String(), "fallback.used") {
		t.Fatalf("expected entry on fallback logger, got %q", buf.String())
	}
}

func TestFromContextPrefersContextLogger(t *testing.T) {
	t.Parallel()

	var ctxBuf, fallbackBuf bytes.Buffer
	ctxLogger := pslog.NewWithOptions(&ctxBuf, pslog.Options{Mode: pslog.ModeStructured, NoColor: true})
	fallback := pslog.NewWithOptions(&fallbackBuf, pslog.Options{Mode: pslog.ModeStructured, NoColor: true})
	ctx := pslog.ContextWithLogger(context.Background(), ctxLogger)
	loggingutil.FromContext(ctx, fallback).Info("context.used")
	if !strings.Contains(ctxBuf.String(), "context.used") {
		t.Fatalf("expected entry on context logger, got %q", ctxBuf.String())
	}
	if fallbackBuf.Len() != 0 {
		t.Fatalf("fallback logger should stay silent, got %q", fallbackBuf.String())
	}
}
