package id

import "testing"

func TestNewLength(t *testing.T) {
	got := New()
	if len(got) != 26 {
		t.Fatalf("expected 26-character id, got %d (%q)", len(got), got)
	}
}

func TestNewLowercase(t *testing.T) {
	got := New()
	for _, r := range got {
		if r >= 'A' && r <= 'Z' {
			t.Fatalf("expected lowercase id, got %q", got)
		}
	}
}

func TestNewUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		v := New()
		if seen[v] {
			t.Fatalf("duplicate id %q", v)
		}
		seen[v] = true
	}
}
