package whitelist

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTableMatch(t *testing.T) {
	tests := []struct {
		table Table
		name  string
		want  bool
	}{
		{C, "translate.c", true},
		{C, "translate.h", true},
		{C, "Makefile", true},
		{C, "translate.rs", false},
		{Rust, "lib.rs", true},
		{Rust, "Cargo.toml", true},
		{Rust, "lib.c", false},
		{Tests, "testcmp.sh", true},
		{Tests, "tests_0.jsonl", true},
		{Tests, "seed_tests.jsonl", true},
		{Tests, "notes.txt", false},
		{Logs, "translator.log", true},
		{Logs, "translator.txt", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.table.Match(tt.name))
		})
	}
}
