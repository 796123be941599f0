package ids

import (
	"testing"
	"time"
)

func TestNewULID(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	a, err := NewULID(now)
	if err != nil {
		t.Fatalf("NewULID: %v", err)
	}
	b, err := NewULID(now)
	if err != nil {
		t.Fatalf("NewULID: %v", err)
	}

	if len(a) != 26 {
		t.Fatalf("len=%d want 26", len(a))
	}
	if a == b {
		t.Fatalf("expected distinct ids")
	}
	if !Valid(a) || !Valid(b) {
		t.Fatalf("generated ids must validate")
	}
}

func TestValid(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want bool
	}{
		{"", false},
		{"not-a-ulid", false},
		{"01HZY3S8Q2C4B6D8E0F2G4H6J8", true},
		{"01HZY3S8Q2C4B6D8E0F2G4H6J", false},
	}
	for _, tc := range cases {
		if got := Valid(tc.in); got != tc.want {
			t.Fatalf("Valid(%q)=%v want %v", tc.in, got, tc.want)
		}
	}
}
