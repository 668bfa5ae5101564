// Package stream encodes agent events onto the wire as Server-Sent Events.
// Each event is written as an "event:" line naming the type followed by a
// "data:" line carrying a JSON payload, so browsers can consume the stream
// with EventSource and incremental UIs render tool activity as it happens.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/marketlens/marketagent/core"
)

// Encoder writes agent events as SSE frames.
type Encoder struct {
	w       io.Writer
	flusher http.Flusher
}

// NewEncoder prepares an HTTP response for SSE and returns an encoder over
// it. Headers are set immediately; the caller must not write them again.
func NewEncoder(w http.ResponseWriter) *Encoder {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")

	enc := &Encoder{w: w}
	if f, ok := w.(http.Flusher); ok {
		enc.flusher = f
	}
	return enc
}

// NewWriterEncoder returns an encoder over a plain writer, without HTTP
// headers or flushing. Intended for tests and transcript capture.
func NewWriterEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// toolCallPayload is the wire shape of a tool_call event.
type toolCallPayload struct {
	Tool   string         `json:"tool"`
	Status string         `json:"status"`
	Args   map[string]any `json:"args,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// textPayload is the wire shape of a text event.
type textPayload struct {
	Delta string `json:"delta"`
}

// errorPayload is the wire shape of an error event.
type errorPayload struct {
	Message string `json:"message"`
}

// Encode writes one event as an SSE frame and flushes it so deltas reach
// the client immediately.
func (e *Encoder) Encode(ev core.AgentEvent) error {
	payload, err := marshalPayload(ev)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", ev.Type, err)
	}
	if _, err := fmt.Fprintf(e.w, "event: %s\ndata: %s\n\n", ev.Type, payload); err != nil {
		return fmt.Errorf("write %s event: %w", ev.Type, err)
	}
	if e.flusher != nil {
		e.flusher.Flush()
	}
	return nil
}

// EncodeStream drains an event channel onto the wire until the channel
// closes, the context ends, or a write fails.
func (e *Encoder) EncodeStream(ctx context.Context, events <-chan core.AgentEvent) error {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := e.Encode(ev); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func marshalPayload(ev core.AgentEvent) ([]byte, error) {
	switch ev.Type {
	case core.EventToolCall:
		p := toolCallPayload{Tool: ev.Tool, Status: string(ev.Status)}
		if ev.Status == core.ToolCallCalling {
			p.Args = ev.Args
		}
		if ev.Status == core.ToolCallError {
			p.Error = ev.Message
		}
		return json.Marshal(p)
	case core.EventText:
		return json.Marshal(textPayload{Delta: ev.Delta})
	case core.EventError:
		return json.Marshal(errorPayload{Message: ev.Message})
	case core.EventDone:
		return []byte("{}"), nil
	default:
		return nil, fmt.Errorf("unknown event type %q", ev.Type)
	}
}
