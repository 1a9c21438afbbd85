package identity_test

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"

	"pkt.systems/lockbank/internal/identity"
)

func TestGenerateReturnsUUIDv7(t *testing.T) {
	t.Parallel()

	raw := identity.Generate()
	parsed, err := uuid.Parse(raw)
	if err != nil {
		t.Fatalf("uuid.Parse: %v", err)
	}
	if parsed.Version() != 7 {
		t.Fatalf("expected version 7, got %d", parsed.Version())
	}
	if raw == identity.Generate() {
		t.Fatal("expected unique identifiers")
	}
}

func TestWithAndFromContext(t *testing.T) {
	t.Parallel()

	ctx := identity.With(context.Background(), "  alice ")
	if got := identity.FromContext(ctx); got != "alice" {
		t.Fatalf("expected alice, got %q", got)
	}
	if got := identity.FromContext(identity.With(context.Background(), "bad\nid")); got != "" {
		t.Fatalf("expected invalid id to be dropped, got %q", got)
	}
}

func TestResolvePrecedence(t *testing.T) {
	t.Parallel()

	ctx := identity.With(context.Background(), "ctx-user")
	if got := identity.Resolve(ctx, "explicit"); got != "explicit" {
		t.Fatalf("expected explicit, got %q", got)
	}
	if got := identity.Resolve(ctx, ""); got != "ctx-user" {
		t.Fatalf("expected ctx-user, got %q", got)
	}
	if got := identity.Resolve(context.Background(), ""); got == "" {
		t.Fatal("expected generated identity")
	}
}

func TestNormalizeRejectsOversizedIDs(t *testing.T) {
	t.Parallel()

	if _, ok := identity.Normalize(strings.Repeat("a", identity.MaxLength+1)); ok {
		t.Fatal("expected oversized id to be rejected")
	}
	if _, ok := identity.Normalize(strings.Repeat("a", identity.MaxLength)); !ok {
		t.Fatal("expected id at max length to be accepted")
	}
}
