package stream

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketlens/marketagent/core"
)

func TestEncodeToolCallCalling(t *testing.T) {
	var buf bytes.Buffer
	enc := NewWriterEncoder(&buf)

	ev := core.NewToolCallingEvent("get_stock_quote", map[string]any{"ticker": "AAPL"})
	require.NoError(t, enc.Encode(ev))

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "event: tool_call\n"))
	assert.Contains(t, out, `"tool":"get_stock_quote"`)
	assert.Contains(t, out, `"status":"calling"`)
	assert.Contains(t, out, `"args":{"ticker":"AAPL"}`)
	assert.True(t, strings.HasSuffix(out, "\n\n"))
}

func TestEncodeToolCallComplete(t *testing.T) {
	var buf bytes.Buffer
	enc := NewWriterEncoder(&buf)

	require.NoError(t, enc.Encode(core.NewToolCompleteEvent("get_news")))

	out := buf.String()
	assert.Contains(t, out, `"status":"complete"`)
	assert.NotContains(t, out, `"args"`)
	assert.NotContains(t, out, `"error"`)
}

func TestEncodeToolCallError(t *testing.T) {
	var buf bytes.Buffer
	enc := NewWriterEncoder(&buf)

	require.NoError(t, enc.Encode(core.NewToolErrorEvent("get_news", "upstream unavailable")))

	out := buf.String()
	assert.Contains(t, out, `"status":"error"`)
	assert.Contains(t, out, `"error":"upstream unavailable"`)
}

func TestEncodeTextAndDone(t *testing.T) {
	var buf bytes.Buffer
	enc := NewWriterEncoder(&buf)

	require.NoError(t, enc.Encode(core.NewTextEvent("The close was ")))
	require.NoError(t, enc.Encode(core.NewDoneEvent()))

	out := buf.String()
	assert.Contains(t, out, "event: text\ndata: {\"delta\":\"The close was \"}\n\n")
	assert.Contains(t, out, "event: done\ndata: {}\n\n")
}

func TestEncodeError(t *testing.T) {
	var buf bytes.Buffer
	enc := NewWriterEncoder(&buf)

	require.NoError(t, enc.Encode(core.NewErrorEvent("model failed")))

	assert.Contains(t, buf.String(), "event: error\ndata: {\"message\":\"model failed\"}\n\n")
}

func TestNewEncoderSetsHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	enc := NewEncoder(rec)

	require.NoError(t, enc.Encode(core.NewDoneEvent()))

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.True(t, rec.Flushed)
}

func TestEncodeStreamDrainsUntilClose(t *testing.T) {
	var buf bytes.Buffer
	enc := NewWriterEncoder(&buf)

	events := make(chan core.AgentEvent, 3)
	events <- core.NewTextEvent("a")
	events <- core.NewTextEvent("b")
	events <- core.NewDoneEvent()
	close(events)

	require.NoError(t, enc.EncodeStream(context.Background(), events))

	assert.Equal(t, 3, strings.Count(buf.String(), "event: "))
}

func TestEncodeStreamStopsOnContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	enc := NewWriterEncoder(&bytes.Buffer{})
	events := make(chan core.AgentEvent) // never written to

	err := enc.EncodeStream(ctx, events)
	assert.ErrorIs(t, err, context.Canceled)
}
