package chatstream

import "github.com/sashabaranov/go-openai"

// Kind tells what a normalized stream event carries.
type Kind int

const (
	KindSkip Kind = iota
	KindDelta
	KindToolCall
	KindError
	KindDone
)

func (k Kind) String() string {
	switch k {
	case KindSkip:
		return "skip"
	case KindDelta:
		return "delta"
	case KindToolCall:
		return "tool_call"
	case KindError:
		return "error"
	case KindDone:
		return "done"
	}
	return "unknown"
}

// ToolCall is the first tool call found on an assistant message together
// with the progress line shown to the user while it runs.
type ToolCall struct {
	ID          string
	Name        string
	Arguments   string
	Description string
}

// Event is one normalized unit produced from the upstream completion stream.
// Which fields are set depends on Kind:
//
//	KindDelta    Role, Content and optionally ToolCalls
//	KindToolCall Tool
//	KindError    Message
//	KindDone     nothing
//	KindSkip     nothing, never leaves this package
type Event struct {
	Kind      Kind
	Role      string
	Content   string
	ToolCalls []openai.ToolCall
	Tool      *ToolCall
	Message   string
}

var skip = Event{Kind: KindSkip}

func doneEvent() Event { return Event{Kind: KindDone} }

func errorEvent(msg string) Event { return Event{Kind: KindError, Message: msg} }
