package chatstream

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/sashabaranov/go-openai"
)

const defaultLabel = "message"

// isHeartbeat reports whether a frame is a keep-alive marker sent by the
// upstream. Whitespace after the field colon is ignored.
func isHeartbeat(text string) bool {
	trimmed := strings.TrimSpace(text)
	if compact(trimmed) == "event:ping" || compact(trimmed) == ":heartbeat" {
		return true
	}
	for _, line := range strings.Split(trimmed, "\n") {
		switch compact(line) {
		case "event:heartbeat", "data:heartbeat":
			return true
		}
	}
	return false
}

func compact(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), ""))
}

// eventLabel returns the value of the first event: field, or "message".
func eventLabel(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		if v, ok := strings.CutPrefix(line, "event:"); ok {
			if label := strings.ToLower(strings.TrimSpace(v)); label != "" {
				return label
			}
		}
	}
	return defaultLabel
}

// dataPayload collects the data: lines of a frame up to the next event:
// field. Only fields at the start of a line count, so JSON text mentioning
// "data:" is not mistaken for a frame. Continuation data: lines are joined
// without a separator so a JSON object split across frames reassembles byte
// for byte.
func dataPayload(text string) (string, bool) {
	lines := strings.Split(text, "\n")
	first := slices.IndexFunc(lines, func(line string) bool {
		return strings.HasPrefix(line, "data:")
	})
	if first < 0 {
		return "", false
	}
	var b strings.Builder
	for n, line := range lines[first:] {
		line = strings.TrimRight(line, "\r")
		if n > 0 && strings.HasPrefix(line, "event:") {
			break
		}
		if v, ok := strings.CutPrefix(line, "data:"); ok {
			line = strings.TrimPrefix(v, " ")
		} else if strings.HasPrefix(line, ":") || strings.HasPrefix(line, "id:") || strings.HasPrefix(line, "retry:") {
			continue
		}
		b.WriteString(line)
	}
	return strings.TrimSpace(b.String()), true
}

// isDoneMarker reports whether a frame ends the stream.
func isDoneMarker(label, payload string, hasData bool, text string) bool {
	if label == "done" {
		return true
	}
	if hasData && payload == "[DONE]" {
		return true
	}
	return !hasData && strings.TrimSpace(text) == "[DONE]"
}

// completionPayload is the subset of a chat completion chunk the stream cares
// about. Both streaming (delta) and non-streaming (message) shapes decode.
type completionPayload struct {
	Choices []struct {
		Delta   *openai.ChatCompletionMessage `json:"delta,omitempty"`
		Message *openai.ChatCompletionMessage `json:"message,omitempty"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// decodePayload decodes exactly one JSON value. A truncated value yields a
// *ParseError with Incomplete set; anything else that fails, including bytes
// left over after the value, is malformed. Valid JSON that is not an object
// decodes to an empty payload.
func decodePayload(s string) (*completionPayload, error) {
	var raw json.RawMessage
	dec := json.NewDecoder(strings.NewReader(s))
	if err := dec.Decode(&raw); err != nil {
		return nil, &ParseError{
			Payload:    s,
			Incomplete: errors.Is(err, io.ErrUnexpectedEOF),
			Err:        err,
		}
	}
	end := dec.InputOffset()
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, &ParseError{
			Payload: s,
			Err:     fmt.Errorf("unexpected data after JSON value at offset %d", end),
		}
	}
	p := &completionPayload{}
	if len(raw) == 0 || raw[0] != '{' {
		return p, nil
	}
	if err := json.Unmarshal(raw, p); err != nil {
		return nil, &ParseError{Payload: s, Err: err}
	}
	return p, nil
}

// message returns the first choice's delta, falling back to its message.
func (p *completionPayload) message() *openai.ChatCompletionMessage {
	if len(p.Choices) == 0 {
		return nil
	}
	c := p.Choices[0]
	if c.Delta != nil {
		return c.Delta
	}
	return c.Message
}

// errorMessage returns error.message, or the top-level message when the
// payload is a bare error frame.
func (p *completionPayload) errorMessage() string {
	if p.Error != nil && p.Error.Message != "" {
		return p.Error.Message
	}
	return p.Message
}
