package xid

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestNewIsPrefixedAndUnique(t *testing.T) {
	a, b := New("audit"), New("audit")
	if !strings.HasPrefix(a, "audit-") {
		t.Fatalf("expected audit- prefix, got %q", a)
	}
	if _, err := uuid.Parse(strings.TrimPrefix(a, "audit-")); err != nil {
		t.Fatalf("expected uuid suffix in %q: %v", a, err)
	}
	if a == b {
		t.Fatalf("expected distinct ids, got %q twice", a)
	}
}

func TestNewFallsBackToTimestampWithoutEntropy(t *testing.T) {
	original := newRandom
	newRandom = func() (uuid.UUID, error) { return uuid.Nil, errors.New("entropy unavailable") }
	defer func() { newRandom = original }()

	id := New("ws")
	if !strings.HasPrefix(id, "ws-") || len(id) <= len("ws-") {
		t.Fatalf("expected timestamp fallback id, got %q", id)
	}
	if strings.Count(id, "-") != 1 {
		t.Fatalf("expected non-uuid fallback id, got %q", id)
	}
}
