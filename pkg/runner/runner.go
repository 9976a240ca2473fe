// Package runner drives one LLM-agent session to completion, over either
// an LPS-managed proxy (ExternalRunner) or an in-process REPL loop
// (InProcessRunner) — the two interchangeable Agent Runner implementations
// of spec.md §4.C. Both expose the same contract to pkg/workers: given a
// task prompt, drive to completion or fatal failure.
package runner

import (
	"context"
	"strings"
)

// Outcome is the result type a runner's step returns, replacing the
// source's exception-based control flow (spec.md §9: NonTerminating /
// Terminating / Submitted / FormatError / LimitsExceeded collapse into a
// tagged sum type).
type Outcome struct {
	Done    bool
	Success bool
	Message string
}

// Continue produces a non-terminal outcome carrying a corrective message
// to feed back into the session.
func Continue(msg string) Outcome { return Outcome{Done: false, Message: msg} }

// Succeeded produces a terminal, successful outcome.
func Succeeded(msg string) Outcome { return Outcome{Done: true, Success: true, Message: msg} }

// Failed produces a terminal, unsuccessful outcome.
func Failed(msg string) Outcome { return Outcome{Done: true, Success: false, Message: msg} }

// Runner drives one agent session to completion.
type Runner interface {
	// Run seeds the session with prompt and drives it to completion,
	// writing its rendered transcript to logPath.
	Run(ctx context.Context, sessionName, prompt, logPath string) (Outcome, error)
}

// SafetyPatterns are banned code fragments, matched as plain substrings:
// ExternalRunner checks a final result's text against them, and
// InProcessRunner checks each fenced action before executing it (spec.md
// §4.C.1 step 4b, §4.C.2 "sanity-check the action against a banned-pattern
// set"). Files the agent wrote into the sandbox are not scanned.
var SafetyPatterns = []string{
	"std::process::exit",
	"unsafe impl Send",
	"unsafe impl Sync",
	"#![allow(unsafe_code)]",
	"std::mem::transmute",
}

// ScanForViolations reports every safety pattern found in content.
func ScanForViolations(content string) []string {
	var hits []string
	for _, pattern := range SafetyPatterns {
		if strings.Contains(content, pattern) {
			hits = append(hits, pattern)
		}
	}
	return hits
}
