package uuid

import (
	"testing"

	goUUID "github.com/google/uuid"
)

func TestNewIDGeneratesValidUUIDs(t *testing.T) {
	t.Parallel()

	gen := New()
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

	parsed, err := goUUID.Parse(first)
	if err != nil {
		t.Fatalf("id %q is not a valid UUID: %v", first, err)
	}
	if parsed.Version() != 7 {
		t.Fatalf("expected a v7 UUID, got v%d", parsed.Version())
	}
}
