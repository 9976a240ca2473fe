// Package workers implements the Translator and Discriminator roles
// (spec.md §4.D): each drives an Agent Runner session with a role-specific
// prompt, validates the resulting sandbox, retries up to three times with
// recovery on invalid, and commits artifacts on success.
package workers

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"github.com/ternarybob/actor/pkg/runner"
	"github.com/ternarybob/actor/pkg/workspace"
)

// MaxAttempts is the number of worker attempts before an iteration
// surrenders, returning the last diagnostic (spec.md §4.D "Recovery on
// invalid").
const MaxAttempts = 3

// Role tags which worker contract an attempt is run under.
type Role string

const (
	RoleTranslator    Role = "translator"
	RoleDiscriminator Role = "discriminator"
)

// Result is the outcome of one complete worker pass (up to MaxAttempts
// retried attempts).
type Result struct {
	Valid      bool
	Attempts   int
	Diagnostic string
}

// Worker runs one role's pass over a workspace for one iteration.
type Worker struct {
	Role      Role
	Runner    runner.Runner
	Workspace *workspace.Workspace
	KNew      int // new test cases the Discriminator must add (default 3)
}

// promptTemplate renders the fixed agent prompt for this role, substituting
// the placeholders named in spec.md §6 literally.
func (w *Worker) promptTemplate(projectName string, version, previousTestCount int) string {
	switch w.Role {
	case RoleTranslator:
		return fmt.Sprintf(
			"Initialize or fix a Rust crate under sandbox/ts/ whose binary is named exactly %q. "+
				"sandbox/ is the only writable area. Version: %d. "+
				"Your work must pass `./testcmp.sh compare ./ts/target/release/%s`.",
			projectName, version, projectName)
	case RoleDiscriminator:
		return fmt.Sprintf(
			"Add exactly %d new test cases to testsNN.jsonl files under sandbox/ (splitting across files "+
				"when any file would exceed 15 cases). Current test case count: %d. Version: %d. "+
				"Each test must distinguish C and Rust behavior; C-vs-C must still pass.",
			w.KNew, previousTestCount, version)
	default:
		return ""
	}
}

// Run drives up to MaxAttempts worker attempts for this role against the
// current iteration, returning the first valid result or the last
// diagnostic after exhaustion.
func (w *Worker) Run(ctx context.Context, projectName string, iteration, previousTestCount int, logDir string) Result {
	var last string

	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		prompt := w.promptTemplate(projectName, attempt, previousTestCount)
		sessionName := fmt.Sprintf("%s_%s_iter_%d_worker_%d", projectName, w.Role, iteration, attempt)
		logPath := filepath.Join(logDir, sessionName+"_output.log")

		outcome, err := w.Runner.Run(ctx, sessionName, prompt, logPath)
		if err != nil || !outcome.Success {
			last = diagnosticFor(outcome, err)
			w.recover()
			continue
		}

		validation := w.validate(projectName, previousTestCount, attempt == MaxAttempts)
		if validation.Valid {
			w.commit()
			return Result{Valid: true, Attempts: attempt, Diagnostic: validation.Diagnostic}
		}

		last = validation.Diagnostic
		w.recover()
	}

	return Result{Valid: false, Attempts: MaxAttempts, Diagnostic: last}
}

func diagnosticFor(outcome runner.Outcome, err error) string {
	if err != nil {
		return err.Error()
	}
	return outcome.Message
}

// recover implements spec.md §4.D's "Recovery on invalid": remove every
// test-case file from sandbox/ and re-hydrate from the committed area.
func (w *Worker) recover() {
	_ = w.Workspace.RemoveTestFiles()
	w.Workspace.HydrateSandboxFromCommitted(true)
}

// commit snapshots the role's output subset of sandbox/ back into its
// committed area (spec.md §4.D "Commit on valid").
func (w *Worker) commit() {
	switch w.Role {
	case RoleTranslator:
		w.Workspace.CommitRust()
	case RoleDiscriminator:
		w.Workspace.CommitTests()
	}
}

type validation struct {
	Valid      bool
	Diagnostic string
}

// validate runs the validation protocol of spec.md §4.D: anti-cheat
// hydrate, C build, anti-cheat sanitize, (translator) Rust build, then the
// testcmp.sh harness, finishing with the role-specific pass/fail check.
func (w *Worker) validate(projectName string, previousTestCount int, isLastAttempt bool) validation {
	includeTests := w.Role == RoleTranslator
	w.Workspace.HydrateSandboxFromCommitted(includeTests)

	if out, err := runIn(w.Workspace.Sandbox(), "make", "clean"); err != nil {
		return validation{Diagnostic: "make clean failed: " + out}
	}
	if out, err := runIn(w.Workspace.Sandbox(), "make", "all"); err != nil {
		return validation{Diagnostic: "C build failed: " + out}
	}

	if err := w.Workspace.SanitizeMain(); err != nil {
		return validation{Diagnostic: "sanitize failed: " + err.Error()}
	}

	if w.Role == RoleTranslator {
		tsDir := filepath.Join(w.Workspace.Sandbox(), "ts")
		if out, err := runIn(tsDir, "cargo", "clean"); err != nil {
			return validation{Diagnostic: "cargo clean failed: " + out}
		}
		if out, err := runIn(tsDir, "cargo", "build", "--release"); err != nil {
			return validation{Diagnostic: classifyRustFailure(out)}
		}
	}

	switch w.Role {
	case RoleTranslator:
		rustHarness, err := runHarness(w.Workspace.Sandbox(), "./ts/target/release/"+projectName)
		if err != nil {
			return validation{Diagnostic: "harness execution failed: " + err.Error()}
		}
		if rustHarness.AllPassed {
			return validation{Valid: true, Diagnostic: rustHarness.Raw}
		}
		return validation{Diagnostic: "harness did not report all tests passed: " + rustHarness.Raw}

	case RoleDiscriminator:
		// Two separate runs against two different binaries (spec.md §4.D
		// step 5, grounded on SWE-Sonnet-4-ACToR.py's validate_test): the
		// new cases must still pass the original C binary, and must make
		// the Rust binary fail at least one of them.
		cHarness, err := runHarness(w.Workspace.Sandbox(), resolveCBinary(w.Workspace.Sandbox(), projectName))
		if err != nil {
			return validation{Diagnostic: "C harness execution failed: " + err.Error()}
		}

		wantCount := previousTestCount + w.KNew
		if cHarness.TotalTests != wantCount {
			return validation{Diagnostic: fmt.Sprintf(
				"test count mismatch: want %d, got %d", wantCount, cHarness.TotalTests)}
		}
		if !cHarness.AllPassed {
			return validation{Diagnostic: "harness against C failed: " + cHarness.Raw}
		}

		rustHarness, err := runHarness(w.Workspace.Sandbox(), "./ts/target/release/"+projectName)
		if err != nil {
			return validation{Diagnostic: "Rust harness execution failed: " + err.Error()}
		}
		if !rustHarness.RustFailedAny && !isLastAttempt {
			return validation{Diagnostic: "new tests did not distinguish C from Rust"}
		}
		return validation{Valid: true, Diagnostic: rustHarness.Raw}
	}

	return validation{Diagnostic: "unknown role"}
}

func runIn(dir string, name string, args ...string) (string, error) {
	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	return string(out), err
}

// closingTokenErrorPattern distinguishes a genuine compile error from build
// corruption so the worker's diagnostic is actionable (spec.md §4.D step 4:
// "distinguish compile error from corruption (closing-token errors)").
var closingTokenErrorPattern = regexp.MustCompile(`(?i)unexpected closing delimiter|mismatched closing delimiter|expected one of.*found`)

func classifyRustFailure(out string) string {
	if closingTokenErrorPattern.MatchString(out) {
		return "rust build corrupted (closing-token error): " + out
	}
	return "rust build failed (compile error): " + out
}

// harnessResult is testcmp.sh's parsed output (spec.md §4.D step 5).
type harnessResult struct {
	Raw           string
	TotalTests    int
	Passed        int
	Failed        int
	AllPassed     bool
	RustFailedAny bool
}

var loadedPattern = regexp.MustCompile(`Loaded (\d+) tests total`)
var resultsPattern = regexp.MustCompile(`Results: (\d+) passed, (\d+) failed out of (\d+) tests`)
var allPassedPattern = regexp.MustCompile(`All tests (passed|done)[.!]`)

// runHarness runs testcmp.sh against binaryArg (e.g. "./foo" or
// "./ts/target/release/foo"), the argument form testcmp.sh itself expects.
func runHarness(sandbox, binaryArg string) (harnessResult, error) {
	cmd := exec.Command("./testcmp.sh", "compare", binaryArg)
	cmd.Dir = sandbox
	out, _ := cmd.CombinedOutput() // non-zero exit is a normal "not all passed" outcome

	return parseHarnessOutput(string(out))
}

// resolveCBinary finds the compiled C binary testcmp.sh should compare
// against: projectName's own binary, falling back to "binary1" when the
// build produced a differently-named artifact (spec.md §4.D step 1,
// grounded on SWE-Sonnet-4-ACToR.py's validate_test binary resolution).
func resolveCBinary(sandbox, projectName string) string {
	if _, err := os.Stat(filepath.Join(sandbox, projectName)); err == nil {
		return "./" + projectName
	}
	return "./binary1"
}

// parseHarnessOutput parses testcmp.sh's textual report (spec.md §4.D
// step 5): a "Loaded N tests total" line and a "Results: X passed, Y
// failed out of Z tests" line, the latter's X+Y required to equal Z.
func parseHarnessOutput(text string) (harnessResult, error) {
	result := harnessResult{Raw: text}

	if m := loadedPattern.FindStringSubmatch(text); m != nil {
		result.TotalTests, _ = strconv.Atoi(m[1])
	}
	if m := resultsPattern.FindStringSubmatch(text); m != nil {
		result.Passed, _ = strconv.Atoi(m[1])
		result.Failed, _ = strconv.Atoi(m[2])
		total, _ := strconv.Atoi(m[3])
		if result.Passed+result.Failed != total {
			return result, fmt.Errorf("harness reported inconsistent counts: %d + %d != %d", result.Passed, result.Failed, total)
		}
		if result.TotalTests == 0 {
			result.TotalTests = total
		}
		result.RustFailedAny = result.Failed > 0
	}
	result.AllPassed = allPassedPattern.MatchString(text)

	return result, nil
}

// timeoutCommand runs a command with a wall-clock timeout.
func timeoutCommand(ctx context.Context, timeout time.Duration, dir, name string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	return string(out), err
}
