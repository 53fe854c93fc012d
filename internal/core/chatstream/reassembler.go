package chatstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/markdave123-py/Sunlytics/internal/models"
)

type state int

const (
	stateIdle state = iota
	stateBuffering
)

// maxBuffered bounds how much text may accumulate while waiting for the rest
// of a split payload.
const maxBuffered = 1 << 20

// Reassembler turns raw upstream chunks into normalized events. It holds the
// partial-payload buffer of a single stream and must not be shared between
// streams.
type Reassembler struct {
	state  state
	buf    strings.Builder
	bare   bool // buffer holds a split ND-JSON line, not an SSE frame
	err    error
	logger *slog.Logger
}

func NewReassembler(logger *slog.Logger) *Reassembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reassembler{logger: logger}
}

// Buffering reports whether a split payload is waiting for more bytes.
func (r *Reassembler) Buffering() bool { return r.state == stateBuffering }

// Err returns the upstream error that ended the last Transform, if any.
func (r *Reassembler) Err() error { return r.err }

func (r *Reassembler) reset() {
	r.state = stateIdle
	r.bare = false
	r.buf.Reset()
}

// Feed processes one raw chunk and returns at most one event. It never
// panics: a failure while handling the chunk becomes an error event and the
// buffer is cleared.
func (r *Reassembler) Feed(chunk []byte) (ev Event) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("chatstream: chunk processing panicked", "panic", rec)
			r.reset()
			ev = errorEvent(fmt.Sprintf("internal error while processing stream: %v", rec))
		}
	}()

	text := string(chunk)
	if strings.TrimSpace(text) == "" {
		if r.state == stateBuffering {
			r.buf.WriteString(text)
		}
		return skip
	}
	if isHeartbeat(text) {
		return skip
	}

	label := eventLabel(text)
	payload, hasData := dataPayload(text)
	if isDoneMarker(label, payload, hasData, text) {
		r.reset()
		return doneEvent()
	}

	if r.state == stateBuffering {
		return r.continueBuffer(text)
	}

	switch label {
	case "heartbeat", "ping", "keep-alive", "keepalive":
		return skip
	case "error":
		return r.errorFrame(payload, hasData)
	}

	if !hasData {
		return r.bareChunk(text)
	}
	if payload == "" {
		return skip
	}

	p, err := decodePayload(payload)
	if err != nil {
		var pe *ParseError
		if errors.As(err, &pe) && pe.Incomplete {
			r.state = stateBuffering
			r.buf.WriteString(text)
			return skip
		}
		r.logger.Warn("chatstream: malformed data payload", "error", err, "payload", truncate(payload, 200))
		return errorEvent(err.Error())
	}
	return classifyPayload(p)
}

// continueBuffer appends text to the pending buffer and tries again to decode
// the whole thing.
func (r *Reassembler) continueBuffer(text string) Event {
	if !r.bare && strings.HasPrefix(text, "data:") && !strings.HasSuffix(r.buf.String(), "\n") {
		r.buf.WriteByte('\n')
	}
	r.buf.WriteString(text)
	acc := r.buf.String()

	candidate := strings.TrimSpace(acc)
	if !r.bare {
		if payload, ok := dataPayload(acc); ok {
			candidate = payload
		}
	}
	p, err := decodePayload(candidate)
	if err == nil {
		r.reset()
		return classifyPayload(p)
	}

	var pe *ParseError
	if errors.As(err, &pe) && !pe.Incomplete {
		// The pending bytes can never become valid. Drop them and treat
		// this chunk as the start of a new frame.
		r.logger.Warn("chatstream: discarding corrupt buffered payload", "error", err, "bytes", len(acc)-len(text))
		r.reset()
		return r.Feed([]byte(text))
	}
	if len(acc) > maxBuffered {
		r.reset()
		return errorEvent("stream payload exceeded buffer limit")
	}
	return skip
}

// bareChunk handles a chunk with no data: field, as sent by ND-JSON
// upstreams. A truncated object is buffered like a split data payload;
// anything else that fails to decode is ignored.
func (r *Reassembler) bareChunk(text string) Event {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "{") {
		return skip
	}
	p, err := decodePayload(trimmed)
	if err != nil {
		var pe *ParseError
		if errors.As(err, &pe) && pe.Incomplete {
			r.state = stateBuffering
			r.bare = true
			r.buf.WriteString(text)
		}
		return skip
	}
	return classifyPayload(p)
}

func (r *Reassembler) errorFrame(payload string, hasData bool) Event {
	if !hasData || payload == "" {
		return errorEvent("parse error")
	}
	p, err := decodePayload(payload)
	if err != nil {
		return errorEvent("parse error")
	}
	if msg := p.errorMessage(); msg != "" {
		return errorEvent(msg)
	}
	return errorEvent("parse error")
}

// Transform lazily maps the chunks of src to events, dropping skips. The
// sequence ends after a done event, at the end of src, or when ctx is
// cancelled. A read failure is surfaced as one final error event and kept
// in Err. Partially buffered state is discarded when the sequence ends.
func (r *Reassembler) Transform(ctx context.Context, src ChunkSource) iter.Seq[Event] {
	return func(yield func(Event) bool) {
		defer r.reset()
		r.err = nil
		for {
			if ctx.Err() != nil {
				return
			}
			chunk, err := src.Next(ctx)
			if len(chunk) > 0 {
				ev := r.Feed(chunk)
				if ev.Kind != KindSkip {
					if !yield(ev) || ev.Kind == KindDone {
						return
					}
				}
			}
			if err == nil {
				continue
			}
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				if r.Buffering() {
					r.logger.Debug("chatstream: stream ended with partial payload", "bytes", r.buf.Len())
				}
				return
			}
			r.err = err
			yield(errorEvent(fmt.Sprintf("upstream stream error: %v", err)))
			return
		}
	}
}

func classifyPayload(p *completionPayload) Event {
	if p.Error != nil && p.Error.Message != "" {
		return errorEvent(p.Error.Message)
	}
	msg := p.message()
	if msg == nil {
		return skip
	}
	return classifyMessage(msg)
}

// classifyMessage maps an extracted delta or message to an event.
func classifyMessage(msg *openai.ChatCompletionMessage) Event {
	role := msg.Role
	switch {
	case role == models.RoleTool:
		return Event{Kind: KindDelta, Role: models.RoleTool, Content: msg.Content}
	case len(msg.ToolCalls) > 0 && (role == "" || role == models.RoleAssistant):
		tc := msg.ToolCalls[0]
		if tc.Function.Name == "" {
			// Argument fragment of a call announced in an earlier delta.
			return skip
		}
		return Event{
			Kind:      KindToolCall,
			Role:      models.RoleAssistant,
			ToolCalls: msg.ToolCalls,
			Tool: &ToolCall{
				ID:          tc.ID,
				Name:        tc.Function.Name,
				Arguments:   tc.Function.Arguments,
				Description: DescribeToolCall(tc.Function.Name, tc.Function.Arguments),
			},
		}
	case role == "" || role == models.RoleAssistant:
		return Event{Kind: KindDelta, Role: models.RoleAssistant, Content: msg.Content}
	case role == models.RoleError:
		return Event{Kind: KindDelta, Role: models.RoleError, Content: "Error: " + msg.Content}
	default:
		return Event{Kind: KindDelta, Role: role, Content: msg.Content}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
