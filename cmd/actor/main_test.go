package main

import (
	"strings"
	"testing"
)

func TestFirstNonEmpty(t *testing.T) {
	tests := []struct {
		name   string
		values []string
		want   string
	}{
		{"first wins", []string{"claude-sonnet-4-20250514", "fallback"}, "claude-sonnet-4-20250514"},
		{"skips leading empties", []string{"", "", "llama3"}, "llama3"},
		{"all empty", []string{"", ""}, ""},
		{"no values", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := firstNonEmpty(tt.values...); got != tt.want {
				t.Errorf("firstNonEmpty(%v) = %q, want %q", tt.values, got, tt.want)
			}
		})
	}
}

func TestNewSessionIDIncludesProjectName(t *testing.T) {
	id := newSessionID("echo")
	if !strings.HasPrefix(id, "echo-") {
		t.Errorf("newSessionID(%q) = %q, want prefix %q", "echo", id, "echo-")
	}
}

func TestVersionIsSet(t *testing.T) {
	if version == "" {
		t.Error("version should not be empty")
	}
}
