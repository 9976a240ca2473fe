package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/actor/internal/logger"
	"github.com/ternarybob/actor/pkg/lproc"
)

// Restart sentinels the proxy watches for in outbound user messages
// (spec.md §4.C.1 step 2, §4.C.3).
const (
	SentinelRestart                = "[CLAUDIX:RESTART]"
	SentinelForceRestart            = "[CLAUDIX:FORCE_RESTART]"
	SentinelForceRestartNoSend      = "[CLAUDIX:FORCE_RESTART_NO_SEND]"
	SentinelForceRestartResume      = "[CLAUDIX:FORCE_RESTART_RESUME]"
	SentinelForceRestartResumeNoSend = "[CLAUDIX:FORCE_RESTART_RESUME_NO_SEND]"
)

// stallThreshold is the AGE_ANY_IO ceiling past which the drive loop issues
// a force-restart-with-resume (spec.md §4.C.1 step 4c).
const stallThreshold = 180 * time.Second

const pollInterval = 5 * time.Second

// ExternalRunner drives an LLM CLI over an LPS-managed proxy talking
// stream-JSONL (spec.md §4.C.1).
type ExternalRunner struct {
	LProc      *lproc.Manager
	ProxyCmd   string // shell command template; "{{NAME}}" and "{{RESUME}}" are substituted
	SessionFmt string // e.g. "%s_%s_iter_%d_worker_%d"

	Controller *RestartController
}

// NewExternalRunner builds an ExternalRunner over mgr, using proxyCmd as
// the command the LProc pipeline runs (the proxy script wrapping the LLM
// CLI, per spec.md §4.C.1 step 2).
func NewExternalRunner(mgr *lproc.Manager, proxyCmd string) *ExternalRunner {
	return &ExternalRunner{LProc: mgr, ProxyCmd: proxyCmd, Controller: &RestartController{}}
}

// renderCmd fills ProxyCmd's "{{NAME}}"/"{{RESUME}}" placeholders for one
// session start; resumeID is empty on a fresh (non-resumed) start.
func (r *ExternalRunner) renderCmd(sessionName, resumeID string) string {
	cmd := strings.ReplaceAll(r.ProxyCmd, "{{NAME}}", sessionName)
	return strings.ReplaceAll(cmd, "{{RESUME}}", resumeID)
}

// Run resets any stale LProc under sessionName, starts a fresh one, seeds
// the prompt, and drives the 5-second poll loop described in
// spec.md §4.C.1 steps 1-4 until a final result arrives, an error occurs,
// or ctx is cancelled.
func (r *ExternalRunner) Run(ctx context.Context, sessionName, prompt, logPath string) (Outcome, error) {
	if r.Controller == nil {
		r.Controller = &RestartController{}
	}

	_ = r.LProc.Kill(sessionName)
	_, _ = r.LProc.Delete(sessionName)

	if _, err := r.LProc.Start(sessionName, r.renderCmd(sessionName, "")); err != nil {
		return Failed(fmt.Sprintf("start proxy: %v", err)), err
	}
	defer r.teardown(sessionName, logPath)

	if err := r.sendUser(sessionName, prompt); err != nil {
		return Failed(fmt.Sprintf("seed prompt: %v", err)), err
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return Failed("context cancelled"), ctx.Err()
		case <-ticker.C:
			outcome, done, err := r.poll(sessionName)
			if err != nil {
				return Failed(err.Error()), err
			}
			if done {
				return outcome, nil
			}
		}
	}
}

// sendUser appends a plain user-turn stream-JSONL line and records it with
// the RestartController so its expected/seen counters stay accurate
// (spec.md §4.C.3 step 3).
func (r *ExternalRunner) sendUser(sessionName, text string) error {
	line := mustJSONLine(map[string]any{
		"type": "user",
		"message": map[string]any{
			"content": []map[string]any{{"type": "text", "text": text}},
		},
	})
	if err := r.LProc.Append(sessionName, 1, []byte(line)); err != nil {
		return err
	}
	r.Controller.ObserveUserMessage()
	return nil
}

func (r *ExternalRunner) poll(sessionName string) (Outcome, bool, error) {
	var buf bytes.Buffer
	if err := r.LProc.Pretty(sessionName, lproc.StreamStdout, 1, "un", nil, &buf); err != nil {
		return Outcome{}, false, err
	}

	var last struct {
		Type      string `json:"type"`
		Result    string `json:"result"`
		IsError   bool   `json:"is_error"`
		SessionID string `json:"session_id"`
	}
	if json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &last) == nil && last.Type == "result" {
		r.Controller.ObserveResult()
		r.Controller.CaptureSessionID(last.SessionID)

		if violations := ScanForViolations(last.Result); len(violations) > 0 {
			if err := r.sendUser(sessionName, "banned pattern detected: "+strings.Join(violations, ", ")+"; please remove it"); err != nil {
				return Outcome{}, false, err
			}
			return Outcome{}, false, nil
		}
		if last.IsError {
			return Failed(last.Result), true, nil
		}
		return Succeeded(last.Result), true, nil
	}

	info, err := r.LProc.Info(sessionName)
	if err != nil {
		return Outcome{}, false, err
	}
	if info.AgeAnyIO > stallThreshold {
		return r.restart(sessionName, SentinelForceRestartResume)
	}
	return Outcome{}, false, nil
}

// restart executes a RestartController decision against the live LProc
// session: synthesizing fail lines for results the child never sent, then
// killing and relaunching the child, resuming it when a session id was
// captured (spec.md §4.C.3).
func (r *ExternalRunner) restart(sessionName, sentinel string) (Outcome, bool, error) {
	action := r.Controller.Trigger(sentinel)

	if action.Warning != "" {
		logger.GetLogger().Warn().Str("session", sessionName).Msg(action.Warning)
	}

	if action.SynthesizedFails > 0 {
		for _, line := range SynthesizeFailLines(action.SynthesizedFails, "stalled: force-restarted") {
			if err := r.LProc.Append(sessionName, 1, []byte(line+"\n")); err != nil {
				return Outcome{}, false, err
			}
		}
	}

	if action.KillChild {
		_ = r.LProc.Kill(sessionName)
	}
	if action.RestartChild {
		_, _ = r.LProc.Delete(sessionName)
		if _, err := r.LProc.Start(sessionName, r.renderCmd(sessionName, action.ResumeSessionID)); err != nil {
			return Outcome{}, false, err
		}
	}

	if action.ForwardMessage {
		if err := r.sendUser(sessionName, action.ForwardedText); err != nil {
			return Outcome{}, false, err
		}
	}

	return Outcome{}, false, nil
}

func (r *ExternalRunner) teardown(sessionName, logPath string) {
	var buf bytes.Buffer
	_ = r.LProc.Pretty(sessionName, lproc.StreamStdout, -1, "cc", nil, &buf)
	_ = writeLog(logPath, buf.Bytes())

	_ = r.LProc.Kill(sessionName)
	_, _ = r.LProc.Delete(sessionName)
}

func mustJSONLine(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "{}\n"
	}
	return string(data) + "\n"
}
