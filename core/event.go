package core

import (
	"time"

	"github.com/google/uuid"
)

// EventType discriminates the lifecycle event variants emitted while a chat
// request is processed.
type EventType string

const (
	// EventToolCall reports progress of a single tool invocation.
	EventToolCall EventType = "tool_call"
	// EventText carries an incremental fragment of the final answer.
	EventText EventType = "text"
	// EventDone terminates a successful request. Exactly one terminal event
	// (done or error) is emitted per request.
	EventDone EventType = "done"
	// EventError terminates a failed request.
	EventError EventType = "error"
)

// ToolCallStatus tracks the phases of one tool invocation.
type ToolCallStatus string

const (
	// ToolCallCalling is emitted before the tool is dispatched.
	ToolCallCalling ToolCallStatus = "calling"
	// ToolCallComplete is emitted after a successful invocation.
	ToolCallComplete ToolCallStatus = "complete"
	// ToolCallError is emitted after a failed invocation.
	ToolCallError ToolCallStatus = "error"
)

// AgentEvent is the immutable unit of the event stream produced by the
// orchestrator and serialized by the stream encoder. Only the fields
// belonging to the event's Type are populated.
type AgentEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Tool      string         `json:"tool,omitempty"`    // tool_call
	Status    ToolCallStatus `json:"status,omitempty"`  // tool_call
	Args      map[string]any `json:"args,omitempty"`    // tool_call (calling only)
	Delta     string         `json:"delta,omitempty"`   // text
	Message   string         `json:"message,omitempty"` // error, tool_call(error)
}

// NewID generates a unique identifier for events, turns and tool calls.
func NewID() string { return uuid.NewString() }

func newEvent(t EventType) AgentEvent {
	return AgentEvent{ID: NewID(), Type: t, Timestamp: time.Now().UTC()}
}

// NewToolCallingEvent announces that the named tool is about to be invoked.
func NewToolCallingEvent(tool string, args map[string]any) AgentEvent {
	e := newEvent(EventToolCall)
	e.Tool = tool
	e.Status = ToolCallCalling
	e.Args = args
	return e
}

// NewToolCompleteEvent reports a successful tool invocation.
func NewToolCompleteEvent(tool string) AgentEvent {
	e := newEvent(EventToolCall)
	e.Tool = tool
	e.Status = ToolCallComplete
	return e
}

// NewToolErrorEvent reports a failed tool invocation. The failure is not
// terminal: the result is fed back to the model which may still recover.
func NewToolErrorEvent(tool, message string) AgentEvent {
	e := newEvent(EventToolCall)
	e.Tool = tool
	e.Status = ToolCallError
	e.Message = message
	return e
}

// NewTextEvent carries one incremental fragment of the final answer.
func NewTextEvent(delta string) AgentEvent {
	e := newEvent(EventText)
	e.Delta = delta
	return e
}

// NewDoneEvent terminates a successful request.
func NewDoneEvent() AgentEvent { return newEvent(EventDone) }

// NewErrorEvent terminates a failed request with a human-readable reason.
func NewErrorEvent(message string) AgentEvent {
	e := newEvent(EventError)
	e.Message = message
	return e
}

// IsTerminal reports whether the event ends the stream for its request.
func (e AgentEvent) IsTerminal() bool {
	return e.Type == EventDone || e.Type == EventError
}
