package llm

import (
	"strings"
)

// Transcript is the running message history for a single runner attempt:
// one seed message (the task prompt) followed by alternating assistant
// responses and user corrections (format errors, timeouts, safety-scan
// rejections). InProcessRunner owns one per attempt and hands its
// Messages() to the provider on every turn.
type Transcript struct {
	messages []Message
}

// NewTranscript starts a transcript from a seed message, typically the
// initial task prompt handed to the translator or discriminator role.
func NewTranscript(seed Message) *Transcript {
	return &Transcript{messages: []Message{seed}}
}

// AddUser appends a user-role message (a correction or follow-up prompt).
func (t *Transcript) AddUser(content string) *Transcript {
	t.messages = append(t.messages, UserMessage(content))
	return t
}

// AddAssistant appends an assistant-role message (a model response).
func (t *Transcript) AddAssistant(content string) *Transcript {
	t.messages = append(t.messages, AssistantMessage(content))
	return t
}

// Messages returns the transcript in request order.
func (t *Transcript) Messages() []Message {
	return t.messages
}

// Len reports how many messages the transcript holds.
func (t *Transcript) Len() int {
	return len(t.messages)
}

// EstimateTokens provides a rough token estimate for text, roughly 4
// characters per token for English text. Used by providers whose APIs
// don't expose a real tokenizer endpoint.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

// TruncateToTokens truncates text to approximately the given token limit,
// preferring a word boundary so the cut doesn't land mid-token.
func TruncateToTokens(text string, maxTokens int) string {
	maxChars := maxTokens * 4
	if len(text) <= maxChars {
		return text
	}
	truncated := text[:maxChars]
	lastSpace := strings.LastIndex(truncated, " ")
	if lastSpace > maxChars*3/4 {
		return truncated[:lastSpace] + "..."
	}
	return truncated + "..."
}
