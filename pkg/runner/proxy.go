package runner

import (
	"fmt"
	"regexp"
	"strings"
)

var sentinelPattern = regexp.MustCompile(`\[CLAUDIX:(RESTART|FORCE_RESTART|FORCE_RESTART_NO_SEND|FORCE_RESTART_RESUME|FORCE_RESTART_RESUME_NO_SEND)\]`)

// RestartVariant is the parsed sentinel kind a user message may carry
// (spec.md §4.C.3).
type RestartVariant string

const (
	VariantNone                   RestartVariant = ""
	VariantRestart                RestartVariant = "RESTART"
	VariantForceRestart            RestartVariant = "FORCE_RESTART"
	VariantForceRestartNoSend      RestartVariant = "FORCE_RESTART_NO_SEND"
	VariantForceRestartResume      RestartVariant = "FORCE_RESTART_RESUME"
	VariantForceRestartResumeNoSend RestartVariant = "FORCE_RESTART_RESUME_NO_SEND"
)

// ParseSentinel extracts the restart variant from text, if any, returning
// the sentinel-stripped text alongside it.
func ParseSentinel(text string) (RestartVariant, string) {
	match := sentinelPattern.FindStringSubmatch(text)
	if match == nil {
		return VariantNone, text
	}
	stripped := strings.TrimSpace(sentinelPattern.ReplaceAllString(text, ""))
	return RestartVariant(match[1]), stripped
}

// RestartController tracks the proxy's expected/seen result counters and
// decides the restart action for each inbound sentinel (spec.md §4.C.3).
// A RESTART sentinel kills and restarts the child as soon as it arrives;
// it does not wait for Seen to reach Expected first.
type RestartController struct {
	Expected        int
	Seen            int
	LastSessionID   string
}

// RestartAction is what the proxy must do in response to one sentinel.
type RestartAction struct {
	Variant          RestartVariant
	KillChild        bool
	RestartChild     bool
	ResumeSessionID  string
	SynthesizedFails int
	ForwardMessage   bool
	ForwardedText    string
	Warning          string
}

// ObserveUserMessage increments Expected for every plain user turn sent to
// the child (spec.md §4.C.3 step 3).
func (c *RestartController) ObserveUserMessage() { c.Expected++ }

// ObserveResult increments Seen for every observed type:"result" line.
func (c *RestartController) ObserveResult() { c.Seen++ }

// Trigger computes the action for an inbound message carrying a sentinel.
func (c *RestartController) Trigger(rawText string) RestartAction {
	variant, stripped := ParseSentinel(rawText)
	action := RestartAction{Variant: variant, ForwardedText: stripped}

	switch variant {
	case VariantRestart:
		action.KillChild = true
		action.RestartChild = true
		action.ForwardMessage = true
		c.Expected++

	case VariantForceRestart, VariantForceRestartNoSend, VariantForceRestartResume, VariantForceRestartResumeNoSend:
		missing := c.Expected - c.Seen
		if missing < 0 {
			missing = 0
		}
		action.SynthesizedFails = missing
		action.KillChild = true
		action.RestartChild = true
		c.Seen = c.Expected // synthesized results settle the counters

		wantsResume := variant == VariantForceRestartResume || variant == VariantForceRestartResumeNoSend
		if wantsResume {
			if c.LastSessionID == "" {
				action.Warning = "no session id captured; degrading to FORCE_RESTART"
			} else {
				action.ResumeSessionID = c.LastSessionID
			}
		}

		action.ForwardMessage = variant == VariantForceRestart || variant == VariantForceRestartResume
		if action.ForwardMessage {
			c.Expected++
		}
	}

	return action
}

// SynthesizeFailLines renders n synthesized type:"result" subtype
// "CLAUDIX_FAIL" stream-JSONL lines (spec.md §4.C.3 FORCE_RESTART).
func SynthesizeFailLines(n int, reason string) []string {
	lines := make([]string, 0, n)
	for i := 0; i < n; i++ {
		lines = append(lines, fmt.Sprintf(`{"type":"result","subtype":"CLAUDIX_FAIL","is_error":true,"result":%q}`, reason))
	}
	return lines
}

// CaptureSessionID records session id fields observed in proxy traffic, so
// a subsequent FORCE_RESTART_RESUME can use it (spec.md §4.C.1 step 2).
func (c *RestartController) CaptureSessionID(id string) {
	if id != "" {
		c.LastSessionID = id
	}
}
