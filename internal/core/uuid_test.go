package core

import "testing"

func TestNewUUIDv7(t *testing.T) {
	id := NewUUIDv7()
	if id == "" {
		t.Fatal("NewUUIDv7() returned empty string")
	}
	if !IsValidUUIDv7(id) {
		t.Errorf("NewUUIDv7() = %q, not a valid UUIDv7", id)
	}
}

func TestNewUUIDv7_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewUUIDv7()
		if seen[id] {
			t.Errorf("NewUUIDv7() produced duplicate: %s", id)
		}
		seen[id] = true
	}
}

func TestIsValidUUIDv7(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{NewUUIDv7(), true},
		{"01908a9c-e4a5-7c8b-8d3e-0a1b2c3d4e5f", true},
		{"550e8400-e29b-41d4-a716-446655440000", false},
		{"", false},
		{"not-a-uuid", false},
		{"01908a9c-e4a5-7c8b-0d3e-0a1b2c3d4e5f", false}, // variant bits wrong
	}

	for _, tt := range tests {
		if got := IsValidUUIDv7(tt.input); got != tt.want {
			t.Errorf("IsValidUUIDv7(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}
