package uuid

import (
	"testing"

	"github.com/google/uuid"
)

func TestGeneratorNewID(t *testing.T) {
	t.Parallel()

	gen := NewUUIDGenerator()
	first, err := gen.NewID()
	if err != nil {
		t.Fatalf("NewID() error = %v", err)
	}
	second, err := gen.NewID()
	if err != nil {
		t.Fatalf("NewID() error = %v", err)
	}
	if first == second {
		t.Fatalf("expected unique ids, got %s twice", first)
	}
	parsed, err := uuid.Parse(first)
	if err != nil {
		t.Fatalf("parse %q: %v", first, err)
	}
	if parsed.Version() != 7 {
		t.Fatalf("expected version 7, got %d", parsed.Version())
	}
	if first > second {
		t.Fatalf("expected time-ordered ids, got %s then %s", first, second)
	}
}

func TestShort(t *testing.T) {
	t.Parallel()

	if got := Short("0190f1c2-7a3b-7c4d-8e5f-a1b2c3d4e5f6"); got != "c3d4e5f6" {
		t.Fatalf("Short() = %q", got)
	}
	if got := Short("abc"); got != "abc" {
		t.Fatalf("Short() = %q", got)
	}
}
