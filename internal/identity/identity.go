// Package identity carries opaque requester and participant identifiers on a
// context. Identifiers are printable ASCII; missing ones are generated as
// time-ordered UUIDv7 strings so arrival order is visible in logs.
package identity

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// MaxLength bounds accepted identifiers.
const MaxLength = 128

type contextKey struct{}

// With returns ctx carrying id. Invalid identifiers leave ctx unchanged.
func With(ctx context.Context, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	normalized, ok := Normalize(id)
	if !ok {
		return ctx
	}
	return context.WithValue(ctx, contextKey{}, normalized)
}

// FromContext returns the identity stored on ctx, if any.
func FromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(contextKey{}).(string)
	return id
}

// Resolve picks explicit when valid, then the identity on ctx, and finally a
// freshly generated one.
func Resolve(ctx context.Context, explicit string) string {
	if id, ok := Normalize(explicit); ok {
		return id
	}
	if id := FromContext(ctx); id != "" {
		return id
	}
	return Generate()
}

// Normalize trims id and reports whether it is acceptable.
func Normalize(id string) (string, bool) {
	id = strings.TrimSpace(id)
	if id == "" || len(id) > MaxLength {
		return "", false
	}
	for _, r := range id {
		if r < 0x20 || r > 0x7e {
			return "", false
		}
	}
	return id, true
}

// Generate returns a new UUIDv7 string.
func Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}
