package runner

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ternarybob/actor/pkg/llm"
)

// CompletionSentinel marks a fenced action's output as the final answer
// (spec.md §4.C.2).
const CompletionSentinel = "COMPLETE_TASK_AND_SUBMIT_FINAL_OUTPUT"

var fencedActionPattern = regexp.MustCompile("(?s)```(?:bash|sh)?\\n(.*?)\\n```")

// InProcessRunner is the minimal REPL-style agent used when the target
// agent does not expose a stream-JSONL CLI (spec.md §4.C.2): it queries an
// llm.Provider directly, parses a single fenced shell action out of the
// reply, executes it in WorkDir, and feeds the rendered output back as the
// next user message.
type InProcessRunner struct {
	Provider llm.Provider
	Model    string
	WorkDir  string

	MaxSteps       int
	ActionTimeout  time.Duration
	CostCeilingUSD float64
	CostPerToken   float64
}

// NewInProcessRunner builds an InProcessRunner with spec.md §4.C.2's
// defaults: a $5 cost ceiling and a 2-minute per-action timeout.
func NewInProcessRunner(provider llm.Provider, model, workDir string) *InProcessRunner {
	return &InProcessRunner{
		Provider:       provider,
		Model:          model,
		WorkDir:        workDir,
		MaxSteps:       40,
		ActionTimeout:  2 * time.Minute,
		CostCeilingUSD: 5.0,
		CostPerToken:   0.000003,
	}
}

// Run drives the query/act/observe loop until CompletionSentinel appears,
// a terminating limit is exceeded, or ctx is cancelled.
func (r *InProcessRunner) Run(ctx context.Context, sessionName, prompt, logPath string) (Outcome, error) {
	convo := llm.NewTranscript(llm.UserMessage(prompt))
	var log strings.Builder
	var spentUSD float64

	for step := 0; step < r.MaxSteps; step++ {
		select {
		case <-ctx.Done():
			return Failed("context cancelled"), ctx.Err()
		default:
		}

		resp, err := r.Provider.Complete(ctx, &llm.CompletionRequest{
			Model:    r.Model,
			Messages: convo.Messages(),
		})
		if err != nil {
			return Failed(fmt.Sprintf("llm completion: %v", err)), err
		}

		spentUSD += float64(resp.Usage.TotalTokens) * r.CostPerToken
		log.WriteString(fmt.Sprintf("--- assistant (step %d) ---\n%s\n", step, resp.Content))
		convo.AddAssistant(resp.Content)

		if spentUSD > r.CostCeilingUSD {
			_ = writeLog(logPath, []byte(log.String()))
			return Failed(fmt.Sprintf("cost ceiling exceeded: $%.4f > $%.2f", spentUSD, r.CostCeilingUSD)), nil
		}

		actions := fencedActionPattern.FindAllStringSubmatch(resp.Content, -1)
		if len(actions) != 1 {
			convo.AddUser(formatErrorNote(len(actions)))
			log.WriteString("--- format error, retrying ---\n")
			continue
		}

		action := actions[0][1]
		if violations := ScanForViolations(action); len(violations) > 0 {
			convo.AddUser(violationNote(violations))
			log.WriteString(fmt.Sprintf("--- action rejected: %s ---\n", strings.Join(violations, ", ")))
			continue
		}

		output, outErr := r.execute(ctx, action)
		log.WriteString(fmt.Sprintf("--- action output ---\n%s\n", output))

		firstLine := firstLineOf(output)
		if firstLine == CompletionSentinel {
			_ = writeLog(logPath, []byte(log.String()))
			return Succeeded(output), nil
		}

		if outErr != nil {
			convo.AddUser(timeoutNote(outErr))
			continue
		}

		convo.AddUser(renderObservation(output))
	}

	_ = writeLog(logPath, []byte(log.String()))
	return Failed("step limit exceeded"), nil
}

func (r *InProcessRunner) execute(ctx context.Context, action string) (string, error) {
	actionCtx, cancel := context.WithTimeout(ctx, r.ActionTimeout)
	defer cancel()

	cmd := exec.CommandContext(actionCtx, "bash", "-c", action)
	cmd.Dir = r.WorkDir

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	return out.String(), err
}

func formatErrorNote(count int) string {
	if count == 0 {
		return "format error: no fenced bash action found in your reply; wrap exactly one action in a ```bash ... ``` block"
	}
	return fmt.Sprintf("format error: found %d fenced actions, expected exactly one", count)
}

func timeoutNote(err error) string {
	return fmt.Sprintf("action failed or timed out: %v", err)
}

func violationNote(violations []string) string {
	return fmt.Sprintf("action rejected: matches banned pattern(s): %s; revise and resubmit", strings.Join(violations, ", "))
}

func renderObservation(output string) string {
	return "observed output:\n```\n" + output + "\n```"
}

func firstLineOf(s string) string {
	trimmed := strings.TrimSpace(s)
	if idx := strings.IndexByte(trimmed, '\n'); idx >= 0 {
		return trimmed[:idx]
	}
	return trimmed
}

// EstimateTokenCost renders a human-readable cost estimate.
func EstimateTokenCost(tokens int, perToken float64) string {
	return "$" + strconv.FormatFloat(float64(tokens)*perToken, 'f', 4, 64)
}
