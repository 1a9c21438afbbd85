package core_test

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"pkt.systems/pslog"
)

// logBuffer collects structured log output written from several goroutines.
type logBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *logBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newBufferLogger(buf *logBuffer) pslog.Logger {
	return pslog.NewWithOptions(buf, pslog.Options{
		Mode:     pslog.ModeStructured,
		NoColor:  true,
		MinLevel: pslog.InfoLevel,
	})
}

func expectLogged(t *testing.T, buf *logBuffer, events ...string) {
	t.Helper()
	out := buf.String()
	for _, event := range events {
		if !strings.Contains(out, event) {
			t.Fatalf("expected %s in log output:\n%s", event, out)
		}
	}
}
