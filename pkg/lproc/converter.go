package lproc

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
)

// Stream names the three LProc fan-out files a pretty request can read.
type Stream string

const (
	StreamStdin  Stream = "stdin"
	StreamStdout Stream = "stdout"
	StreamStderr Stream = "stderr"
)

// Converter transforms raw stream text into human-readable output
// (spec.md §4.B.4 "pretty"). Its contract: input arrives as text, output
// is written to w; a non-nil error signals failure.
type Converter func(input string, args []string, w io.Writer) error

// Converters is the registered converter set. `un` is raw passthrough;
// `cc` renders a stream-JSONL agent transcript.
var Converters = map[string]Converter{
	"un": passthroughConverter,
	"cc": transcriptConverter,
}

func (m *Manager) streamPath(name string, stream Stream) string {
	files := m.files(name)
	switch stream {
	case StreamStdin:
		return files.Stdin
	case StreamStdout:
		return files.Stdout
	case StreamStderr:
		return files.Stderr
	default:
		return ""
	}
}

// Pretty reads the last n lines of stream (or the whole file when n == -1),
// feeds them to the named converter, and writes the converter's rendered
// output to w (spec.md §4.B.4 "pretty").
func (m *Manager) Pretty(name string, stream Stream, n int, converter string, args []string, w io.Writer) error {
	path := m.streamPath(name, stream)
	if path == "" {
		return fmt.Errorf("lproc: pretty: unknown stream %q", stream)
	}

	conv, ok := Converters[converter]
	if !ok {
		return fmt.Errorf("lproc: pretty: unknown converter %q", converter)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			data = nil
		} else {
			return fmt.Errorf("lproc: pretty: read %q: %w", path, err)
		}
	}

	text := string(data)
	if n >= 0 {
		text = lastNLines(text, n)
	}

	return conv(text, args, w)
}

func lastNLines(text string, n int) string {
	if n == 0 {
		return ""
	}
	trimmed := strings.TrimRight(text, "\n")
	if trimmed == "" {
		return ""
	}
	lines := strings.Split(trimmed, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n") + "\n"
}

func passthroughConverter(input string, args []string, w io.Writer) error {
	_, err := io.WriteString(w, input)
	return err
}

// transcriptLine mirrors the recognized stream-JSONL shapes from
// spec.md §6 ("Converter stream-JSONL schema").
type transcriptLine struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype"`
	Message struct {
		Content []contentItem `json:"content"`
	} `json:"message"`
	Result string `json:"result"`
}

type contentItem struct {
	Type      string          `json:"type"`
	Text      string          `json:"text"`
	Name      string          `json:"name"`
	Input     json.RawMessage `json:"input"`
	ToolUseID string          `json:"tool_use_id"`
	IsError   bool            `json:"is_error"`
	Content   json.RawMessage `json:"content"`
}

// transcriptConverter renders a stream-JSONL agent transcript: headers per
// role, fenced code blocks for multi-line bodies. The `--color` flag is
// accepted but rendering stays plain; ANSI role coloring is a presentation
// concern the spec treats as external (§9, "CLI REPL with rich tables").
func transcriptConverter(input string, args []string, w io.Writer) error {
	scanner := bufio.NewScanner(strings.NewReader(input))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	for scanner.Scan() {
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}

		var line transcriptLine
		if err := json.Unmarshal(raw, &line); err != nil {
			fmt.Fprintf(w, "%s\n", raw)
			continue
		}

		switch line.Type {
		case "system":
			fmt.Fprintf(w, "=== system (%s) ===\n", line.Subtype)
		case "assistant":
			fmt.Fprintln(w, "--- assistant ---")
			renderContent(w, line.Message.Content)
		case "user":
			fmt.Fprintln(w, "--- user ---")
			renderContent(w, line.Message.Content)
		case "result":
			fmt.Fprintf(w, "=== result (%s) ===\n%s\n", line.Subtype, line.Result)
		case "error":
			fmt.Fprintf(w, "!!! error: %s\n", line.Result)
		default:
			fmt.Fprintf(w, "%s\n", raw)
		}
	}
	return scanner.Err()
}

func renderContent(w io.Writer, items []contentItem) {
	for _, item := range items {
		switch item.Type {
		case "text":
			if strings.Contains(item.Text, "\n") {
				fmt.Fprintf(w, "```\n%s\n```\n", item.Text)
			} else {
				fmt.Fprintln(w, item.Text)
			}
		case "tool_use":
			fmt.Fprintf(w, "[tool_use %s] %s(%s)\n", item.Name, item.Name, item.Input)
		case "tool_result":
			status := "ok"
			if item.IsError {
				status = "error"
			}
			fmt.Fprintf(w, "[tool_result %s %s] %s\n", item.ToolUseID, status, item.Content)
		}
	}
}
