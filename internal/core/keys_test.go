package core

import (
	"errors"
	"testing"
)

func TestParseKey(t *testing.T) {
	tests := []struct {
		input   string
		want    Key
		wantErr bool
	}{
		{"g:j1", Key{"g", "j1"}, false},
		{"g:a:b", Key{"g", "a:b"}, false},
		{"solo", Key{DefaultGroup, "solo"}, false},
		{"g:", Key{}, true},
		{":n", Key{}, true},
		{"", Key{}, true},
	}

	for _, tt := range tests {
		got, err := ParseKey(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseKey(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if err != nil && !errors.Is(err, ErrInvalidKey) {
			t.Errorf("ParseKey(%q) error = %v, want ErrInvalidKey", tt.input, err)
		}
		if got != tt.want {
			t.Errorf("ParseKey(%q) = %+v, want %+v", tt.input, got, tt.want)
		}
	}
}

func TestKeyStringRoundTrip(t *testing.T) {
	k := NewKey("reports", "daily:summary")
	got, err := ParseKey(k.String())
	if err != nil {
		t.Fatalf("ParseKey() error = %v", err)
	}
	if got != k {
		t.Errorf("ParseKey(String()) = %+v, want %+v", got, k)
	}
}

func TestNewKey_DefaultGroup(t *testing.T) {
	if got := NewKey("", "x").Group; got != DefaultGroup {
		t.Errorf("NewKey().Group = %q, want %q", got, DefaultGroup)
	}
}

func TestGroupMatcher(t *testing.T) {
	tests := []struct {
		m     GroupMatcher
		group string
		want  bool
	}{
		{GroupEquals("a"), "a", true},
		{GroupEquals("a"), "ab", false},
		{GroupStartsWith("rep"), "reports", true},
		{GroupEndsWith("orts"), "reports", true},
		{GroupContains("por"), "reports", true},
		{GroupContains("x"), "reports", false},
		{AnyGroup(), "", true},
		{GroupMatcher{Operator: "BOGUS"}, "a", false},
	}

	for _, tt := range tests {
		if got := tt.m.Matches(tt.group); got != tt.want {
			t.Errorf("%v.Matches(%q) = %v, want %v", tt.m, tt.group, got, tt.want)
		}
	}
}

func TestCompletedExecutionInstructionNames(t *testing.T) {
	for i := InstructionNoop; i <= InstructionSetAllJobTriggersError; i++ {
		got, ok := ParseInstruction(i.String())
		if !ok || got != i {
			t.Errorf("ParseInstruction(%q) = %v, %v; want %v", i.String(), got, ok, i)
		}
	}
	if _, ok := ParseInstruction("NOPE"); ok {
		t.Error("ParseInstruction(NOPE) ok = true, want false")
	}
}
