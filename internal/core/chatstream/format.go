package chatstream

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/markdave123-py/Sunlytics/internal/models"
)

// Format is the wire format negotiated with the client.
type Format int

const (
	FormatNDJSON Format = iota
	FormatSSE
)

func (f Format) String() string {
	if f == FormatSSE {
		return "sse"
	}
	return "ndjson"
}

// NegotiateFormat picks SSE when the client asks for text/event-stream in
// Accept or sets ?format=sse, ND-JSON otherwise.
func NegotiateFormat(r *http.Request) Format {
	if strings.EqualFold(r.URL.Query().Get("format"), "sse") {
		return FormatSSE
	}
	if strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
		return FormatSSE
	}
	return FormatNDJSON
}

// OutputMessage is the unit written to the client.
type OutputMessage struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Tool      string `json:"tool,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

// Formatter serializes output units for one wire format.
type Formatter interface {
	ContentType() string
	Message(msg OutputMessage) ([]byte, error)
	End(sessionID string) []byte
	KeepAlive() []byte
}

func NewFormatter(f Format) Formatter {
	if f == FormatSSE {
		return sseFormatter{}
	}
	return ndjsonFormatter{}
}

type ndjsonFormatter struct{}

func (ndjsonFormatter) ContentType() string { return "application/x-ndjson" }

// Message writes one JSON object per line. The session id travels in the
// X-Session-Id header; only error lines repeat it.
func (ndjsonFormatter) Message(msg OutputMessage) ([]byte, error) {
	if msg.Role != models.RoleError {
		msg.SessionID = ""
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

func (ndjsonFormatter) End(string) []byte { return []byte("\n") }

func (ndjsonFormatter) KeepAlive() []byte { return nil }

type sseFormatter struct{}

func (sseFormatter) ContentType() string { return "text/event-stream" }

func (sseFormatter) Message(msg OutputMessage) ([]byte, error) {
	b, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf("event: message\ndata: %s\n\n", b)), nil
}

func (sseFormatter) End(sessionID string) []byte {
	b, _ := json.Marshal(struct {
		SessionID string `json:"sessionId"`
	}{sessionID})
	return []byte(fmt.Sprintf("event: done\ndata: %s\n\n", b))
}

func (sseFormatter) KeepAlive() []byte { return []byte(": ping\n\n") }

// SetStreamHeaders prepares w for a streamed response in format f.
func SetStreamHeaders(w http.ResponseWriter, f Formatter, sessionID string) {
	h := w.Header()
	h.Set("Content-Type", f.ContentType())
	h.Set("Cache-Control", "no-cache")
	h.Set("X-Accel-Buffering", "no")
	if _, ok := f.(sseFormatter); ok {
		h.Set("Connection", "keep-alive")
	}
	if sessionID != "" {
		h.Set("X-Session-Id", sessionID)
	}
}
