package runner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/actor/pkg/llm"
)

func TestScanForViolationsFindsBannedPattern(t *testing.T) {
	hits := ScanForViolations("fn main() { unsafe impl Send for Foo {} }")
	assert.Contains(t, hits, "unsafe impl Send")
}

func TestScanForViolationsCleanContent(t *testing.T) {
	assert.Empty(t, ScanForViolations("fn main() { println!(\"hi\"); }"))
}

func TestParseSentinelStripsTag(t *testing.T) {
	variant, stripped := ParseSentinel("please continue [CLAUDIX:FORCE_RESTART] now")
	assert.Equal(t, VariantForceRestart, variant)
	assert.Equal(t, "please continue  now", stripped)
}

// TestRestartControllerForceRestartScenario mirrors scenario S4: three user
// messages sent (expected=3), one result observed (seen=1), then a
// FORCE_RESTART sentinel arrives. Two synthesized failures must be
// produced and the sentinel-stripped message forwarded.
func TestRestartControllerForceRestartScenario(t *testing.T) {
	c := &RestartController{}
	c.ObserveUserMessage()
	c.ObserveUserMessage()
	c.ObserveUserMessage()
	c.ObserveResult()

	action := c.Trigger("[CLAUDIX:FORCE_RESTART] please retry")

	assert.Equal(t, VariantForceRestart, action.Variant)
	assert.Equal(t, 2, action.SynthesizedFails)
	assert.True(t, action.KillChild)
	assert.True(t, action.RestartChild)
	assert.True(t, action.ForwardMessage)
	assert.Equal(t, "please retry", action.ForwardedText)
}

func TestRestartControllerForceRestartNoSendDoesNotForward(t *testing.T) {
	c := &RestartController{Expected: 1, Seen: 0}
	action := c.Trigger("[CLAUDIX:FORCE_RESTART_NO_SEND]")
	assert.False(t, action.ForwardMessage)
	assert.Equal(t, 1, action.SynthesizedFails)
}

func TestRestartControllerResumeDegradesWithoutSessionID(t *testing.T) {
	c := &RestartController{Expected: 1, Seen: 0}
	action := c.Trigger("[CLAUDIX:FORCE_RESTART_RESUME]")
	assert.Empty(t, action.ResumeSessionID)
	assert.NotEmpty(t, action.Warning)
}

func TestRestartControllerResumeUsesCapturedSessionID(t *testing.T) {
	c := &RestartController{Expected: 1, Seen: 0}
	c.CaptureSessionID("sess-123")
	action := c.Trigger("[CLAUDIX:FORCE_RESTART_RESUME]")
	assert.Equal(t, "sess-123", action.ResumeSessionID)
}

func TestSynthesizeFailLinesCount(t *testing.T) {
	lines := SynthesizeFailLines(2, "killed mid-turn")
	assert.Len(t, lines, 2)
	for _, l := range lines {
		assert.Contains(t, l, "CLAUDIX_FAIL")
	}
}

type fakeProvider struct {
	responses []string
	call      int
}

func (f *fakeProvider) Name() string          { return "fake" }
func (f *fakeProvider) Models() []string      { return []string{"fake-model"} }
func (f *fakeProvider) CountTokens(s string) (int, error) { return len(s), nil }
func (f *fakeProvider) Stream(ctx context.Context, req *llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	return nil, nil
}
func (f *fakeProvider) Complete(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	resp := f.responses[f.call]
	f.call++
	return &llm.CompletionResponse{Content: resp}, nil
}

func TestInProcessRunnerCompletesOnSentinel(t *testing.T) {
	provider := &fakeProvider{responses: []string{
		"```bash\necho " + CompletionSentinel + "\n```",
	}}
	r := NewInProcessRunner(provider, "fake-model", t.TempDir())

	outcome, err := r.Run(context.Background(), "session", "do the thing", t.TempDir()+"/log.txt")
	require.NoError(t, err)
	assert.True(t, outcome.Done)
	assert.True(t, outcome.Success)
}

func TestInProcessRunnerRejectsBannedActionBeforeExecuting(t *testing.T) {
	provider := &fakeProvider{responses: []string{
		"```bash\nunsafe impl Send for Foo {}\n```",
		"```bash\necho " + CompletionSentinel + "\n```",
	}}
	r := NewInProcessRunner(provider, "fake-model", t.TempDir())

	outcome, err := r.Run(context.Background(), "session", "do the thing", t.TempDir()+"/log.txt")
	require.NoError(t, err)
	assert.True(t, outcome.Success)
	// Only the second, clean action should have reached execute(): the
	// first response's action was rejected pre-execution.
	assert.Equal(t, 2, provider.call)
}

func TestInProcessRunnerRetriesOnFormatError(t *testing.T) {
	provider := &fakeProvider{responses: []string{
		"no fenced action here",
		"```bash\necho " + CompletionSentinel + "\n```",
	}}
	r := NewInProcessRunner(provider, "fake-model", t.TempDir())

	outcome, err := r.Run(context.Background(), "session", "do the thing", t.TempDir()+"/log.txt")
	require.NoError(t, err)
	assert.True(t, outcome.Success)
}
