// Package whitelist defines the fixed file-pattern tables that gate which
// basenames participate in a workspace mirror (see pkg/snapshot).
package whitelist

import "path/filepath"

// Table is an immutable, ordered list of basename glob patterns.
type Table []string

// Match reports whether name (a basename, not a path) matches any pattern
// in the table.
func (t Table) Match(name string) bool {
	for _, pattern := range t {
		ok, err := filepath.Match(pattern, name)
		if err == nil && ok {
			return true
		}
	}
	return false
}

// C is the whitelist for committed C sources (c_files/).
var C = Table{"*.c", "*.h", "*.1", "*.6", "*.7", "*.8", "Makefile"}

// Rust is the whitelist for committed Rust artifacts (rs_files/).
var Rust = Table{"*.rs", "Cargo.toml", "Cargo.lock"}

// Tests is the whitelist for committed discriminator artifacts (test_cases/).
var Tests = Table{
	"testcmp.sh",
	"norm_rules.jsonl",
	"seed_tests.jsonl",
	"tests*.jsonl",
	"fuzzer_template.py",
	"test_cases_record.md",
}

// Logs is the whitelist for agent transcripts (log_files/).
var Logs = Table{"*.log"}
