package agent

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketlens/marketagent/conversation"
	"github.com/marketlens/marketagent/core"
	"github.com/marketlens/marketagent/model"
	"github.com/marketlens/marketagent/tool"
	"github.com/marketlens/marketagent/toolcache"
)

func newQuoteTool() tool.Tool {
	return tool.NewFunctionTool(
		"get_stock_quote",
		"latest quote",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"ticker": map[string]any{"type": "string"},
			},
			"required": []string{"ticker"},
		},
		func(ctx context.Context, args map[string]any) (any, error) {
			return map[string]any{"ticker": args["ticker"], "close": 187.4}, nil
		},
	)
}

func newFailingTool(name string) tool.Tool {
	return tool.NewFunctionTool(
		name,
		"always fails",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"ticker": map[string]any{"type": "string"},
			},
			"required": []string{"ticker"},
		},
		func(ctx context.Context, args map[string]any) (any, error) {
			return nil, errors.New("upstream unavailable")
		},
	)
}

func newTestOrchestrator(t *testing.T, client model.Client, tools []tool.Tool, optFns ...func(o *Options)) (*Orchestrator, *conversation.Manager) {
	t.Helper()
	reg := tool.NewRegistry()
	for _, tl := range tools {
		require.NoError(t, reg.Register(tl))
	}
	exec := tool.NewExecutor(reg, toolcache.New())
	convs := conversation.NewManager()
	return New(client, reg, exec, convs, optFns...), convs
}

func collect(t *testing.T, events <-chan core.AgentEvent) []core.AgentEvent {
	t.Helper()
	var out []core.AgentEvent
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("timed out draining event stream")
		}
	}
}

func joinText(events []core.AgentEvent) string {
	var b strings.Builder
	for _, ev := range events {
		if ev.Type == core.EventText {
			b.WriteString(ev.Delta)
		}
	}
	return b.String()
}

func terminalEvents(events []core.AgentEvent) []core.AgentEvent {
	var out []core.AgentEvent
	for _, ev := range events {
		if ev.IsTerminal() {
			out = append(out, ev)
		}
	}
	return out
}

// =============================================================================
// Direct answers
// =============================================================================

func TestRunDirectAnswer(t *testing.T) {
	client := model.NewMockClient()
	client.EnqueueText("AAPL closed at $187.40.")
	orch, convs := newTestOrchestrator(t, client, nil)

	events := collect(t, orch.Run(context.Background(), Request{
		ConversationID: "c1",
		Ticker:         "aapl",
		Message:        "What did AAPL close at?",
	}))

	require.NotEmpty(t, events)
	assert.Equal(t, "AAPL closed at $187.40.", joinText(events))

	terms := terminalEvents(events)
	require.Len(t, terms, 1)
	assert.Equal(t, core.EventDone, terms[0].Type)
	assert.Equal(t, core.EventDone, events[len(events)-1].Type)

	turns := convs.Export("c1")
	require.Len(t, turns, 2)
	assert.Equal(t, core.RoleUser, turns[0].Role)
	assert.Equal(t, core.RoleModel, turns[1].Role)
	assert.Equal(t, "AAPL closed at $187.40.", turns[1].Content.Text())
}

func TestRunInstructionsCarryTicker(t *testing.T) {
	client := model.NewMockClient()
	client.EnqueueText("ok")
	orch, _ := newTestOrchestrator(t, client, []tool.Tool{newQuoteTool()})

	collect(t, orch.Run(context.Background(), Request{Ticker: "nvda", Message: "hi"}))

	req := client.Request(0)
	assert.Contains(t, req.Instructions, "NVDA")
	require.Len(t, req.Tools, 1)
	assert.Equal(t, "get_stock_quote", req.Tools[0].Function.Name)
	assert.True(t, req.Stream)
}

func TestRunEmptyAnswerFallback(t *testing.T) {
	client := model.NewMockClient()
	client.EnqueueText("")
	orch, _ := newTestOrchestrator(t, client, nil)

	events := collect(t, orch.Run(context.Background(), Request{Ticker: "AAPL", Message: "hi"}))

	assert.Equal(t, fallbackAnswer, joinText(events))
	terms := terminalEvents(events)
	require.Len(t, terms, 1)
	assert.Equal(t, core.EventDone, terms[0].Type)
}

// =============================================================================
// Tool loop
// =============================================================================

func TestRunToolCallThenAnswer(t *testing.T) {
	client := model.NewMockClient()
	client.EnqueueToolCalls(core.FunctionCall{
		ID: "call-1", Name: "get_stock_quote", Arguments: `{"ticker":"AAPL"}`,
	})
	client.EnqueueText("The close was $187.40.")
	orch, convs := newTestOrchestrator(t, client, []tool.Tool{newQuoteTool()})

	events := collect(t, orch.Run(context.Background(), Request{
		ConversationID: "c1",
		Ticker:         "AAPL",
		Message:        "price?",
	}))

	var statuses []core.ToolCallStatus
	for _, ev := range events {
		if ev.Type == core.EventToolCall {
			statuses = append(statuses, ev.Status)
			assert.Equal(t, "get_stock_quote", ev.Tool)
		}
	}
	assert.Equal(t, []core.ToolCallStatus{core.ToolCallCalling, core.ToolCallComplete}, statuses)
	assert.Equal(t, "The close was $187.40.", joinText(events))
	require.Len(t, terminalEvents(events), 1)

	// Second model request must include the call and its result.
	require.Equal(t, 2, client.Calls())
	second := client.Request(1)
	last := second.Contents[len(second.Contents)-1]
	responses := last.FunctionResponses()
	require.Len(t, responses, 1)
	assert.Equal(t, "call-1", responses[0].ID)

	turns := convs.Export("c1")
	require.Len(t, turns, 4) // user, model calls, tool results, model text
	assert.Equal(t, core.RoleModel, turns[1].Role)
	assert.Equal(t, core.RoleTool, turns[2].Role)
}

func TestRunCallTurnKeepsInterleavedText(t *testing.T) {
	client := model.NewMockClient()
	client.EnqueueTextAndToolCalls("Checking the latest close.", core.FunctionCall{
		ID: "call-1", Name: "get_stock_quote", Arguments: `{"ticker":"AAPL"}`,
	})
	client.EnqueueText("The close was $187.40.")
	orch, convs := newTestOrchestrator(t, client, []tool.Tool{newQuoteTool()})

	events := collect(t, orch.Run(context.Background(), Request{
		ConversationID: "c1",
		Ticker:         "AAPL",
		Message:        "price?",
	}))
	require.Len(t, terminalEvents(events), 1)

	// Commentary text produced alongside the calls is kept in the call
	// turn, so exported history matches what the provider produced.
	turns := convs.Export("c1")
	require.Len(t, turns, 4)
	callTurn := turns[1]
	assert.Equal(t, core.RoleModel, callTurn.Role)
	assert.Equal(t, "Checking the latest close.", callTurn.Content.Text())
	assert.Len(t, callTurn.Content.FunctionCalls(), 1)

	// The next model request sees the commentary too.
	require.Equal(t, 2, client.Calls())
	second := client.Request(1)
	callContent := second.Contents[len(second.Contents)-2]
	assert.Equal(t, "Checking the latest close.", callContent.Text())
}

func TestRunToolErrorFedBack(t *testing.T) {
	client := model.NewMockClient()
	client.EnqueueToolCalls(core.FunctionCall{
		ID: "call-1", Name: "get_news", Arguments: `{"ticker":"AAPL"}`,
	})
	client.EnqueueText("News is unavailable right now.")
	orch, _ := newTestOrchestrator(t, client, []tool.Tool{newFailingTool("get_news")})

	events := collect(t, orch.Run(context.Background(), Request{Ticker: "AAPL", Message: "news?"}))

	var sawError bool
	for _, ev := range events {
		if ev.Type == core.EventToolCall && ev.Status == core.ToolCallError {
			sawError = true
			assert.Contains(t, ev.Message, "upstream unavailable")
		}
	}
	assert.True(t, sawError)

	// The failure is reported to the model, which still answers.
	assert.Equal(t, "News is unavailable right now.", joinText(events))
	terms := terminalEvents(events)
	require.Len(t, terms, 1)
	assert.Equal(t, core.EventDone, terms[0].Type)
}

func TestRunParallelCallsKeepOrder(t *testing.T) {
	client := model.NewMockClient()
	client.EnqueueToolCalls(
		core.FunctionCall{ID: "1", Name: "get_stock_quote", Arguments: `{"ticker":"AAPL"}`},
		core.FunctionCall{ID: "2", Name: "get_news", Arguments: `{"ticker":"AAPL"}`},
	)
	client.EnqueueText("done")
	orch, _ := newTestOrchestrator(t, client, []tool.Tool{newQuoteTool(), newFailingTool("get_news")})

	events := collect(t, orch.Run(context.Background(), Request{Ticker: "AAPL", Message: "both"}))

	var order []string
	for _, ev := range events {
		if ev.Type == core.EventToolCall {
			order = append(order, ev.Tool+"/"+string(ev.Status))
		}
	}
	assert.Equal(t, []string{
		"get_stock_quote/calling",
		"get_news/calling",
		"get_stock_quote/complete",
		"get_news/error",
	}, order)
}

// =============================================================================
// Failure modes
// =============================================================================

func TestRunIterationCapEmitsError(t *testing.T) {
	client := model.NewMockClient()
	for i := 0; i < 3; i++ {
		client.EnqueueToolCalls(core.FunctionCall{
			ID: "c", Name: "get_stock_quote", Arguments: `{"ticker":"AAPL"}`,
		})
	}
	orch, _ := newTestOrchestrator(t, client, []tool.Tool{newQuoteTool()}, func(o *Options) {
		o.MaxIterations = 3
	})

	events := collect(t, orch.Run(context.Background(), Request{Ticker: "AAPL", Message: "loop"}))

	terms := terminalEvents(events)
	require.Len(t, terms, 1)
	assert.Equal(t, core.EventError, terms[0].Type)
	assert.Contains(t, terms[0].Message, "did not converge")
	assert.Equal(t, 3, client.Calls())
}

func TestRunTransportErrorEmitsError(t *testing.T) {
	client := model.NewMockClient()
	client.EnqueueError(errors.New("rate limited"))
	orch, convs := newTestOrchestrator(t, client, nil)

	events := collect(t, orch.Run(context.Background(), Request{
		ConversationID: "c1",
		Ticker:         "AAPL",
		Message:        "hi",
	}))

	terms := terminalEvents(events)
	require.Len(t, terms, 1)
	assert.Equal(t, core.EventError, terms[0].Type)
	assert.Contains(t, terms[0].Message, "rate limited")

	// The user turn is retained; no partial model output is.
	turns := convs.Export("c1")
	require.Len(t, turns, 1)
	assert.Equal(t, core.RoleUser, turns[0].Role)
}

func TestRunCancelledContextEmitsNoTerminal(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := model.NewMockClient()
	client.EnqueueText("never delivered")
	orch, _ := newTestOrchestrator(t, client, nil)

	events := collect(t, orch.Run(ctx, Request{Ticker: "AAPL", Message: "hi"}))

	assert.Empty(t, terminalEvents(events))
}

// =============================================================================
// Chunking for non-streaming providers
// =============================================================================

// finalOnlyClient answers with a single non-partial response, the way a
// provider without streaming support does.
type finalOnlyClient struct{ text string }

func (c *finalOnlyClient) Generate(ctx context.Context, req model.Request) (<-chan model.Response, <-chan error) {
	respCh := make(chan model.Response, 1)
	errCh := make(chan error)
	respCh <- model.Response{
		Content: core.Content{
			Role:  "assistant",
			Parts: []core.Part{core.TextPart{Text: c.text}},
		},
		FinishReason: "stop",
	}
	close(respCh)
	close(errCh)
	return respCh, errCh
}

func (c *finalOnlyClient) Info() model.Info {
	return model.Info{Name: "final-only", Provider: "test"}
}

func TestRunChunksNonStreamedAnswer(t *testing.T) {
	text := strings.Repeat("abcdefghij", 5) // 50 bytes
	orch, _ := newTestOrchestrator(t, &finalOnlyClient{text: text}, nil, func(o *Options) {
		o.ChunkSize = 20
	})

	events := collect(t, orch.Run(context.Background(), Request{Ticker: "AAPL", Message: "hi"}))

	var deltas []string
	for _, ev := range events {
		if ev.Type == core.EventText {
			deltas = append(deltas, ev.Delta)
		}
	}
	require.Len(t, deltas, 3)
	assert.Len(t, deltas[0], 20)
	assert.Len(t, deltas[1], 20)
	assert.Len(t, deltas[2], 10)
	assert.Equal(t, text, strings.Join(deltas, ""))
}

func TestRunChunksKeepRuneBoundaries(t *testing.T) {
	text := strings.Repeat("株価は上昇中", 4)
	orch, _ := newTestOrchestrator(t, &finalOnlyClient{text: text}, nil, func(o *Options) {
		o.ChunkSize = 20
	})

	events := collect(t, orch.Run(context.Background(), Request{Ticker: "7203", Message: "トヨタの株価は？"}))

	var deltas []string
	for _, ev := range events {
		if ev.Type == core.EventText {
			deltas = append(deltas, ev.Delta)
		}
	}
	require.NotEmpty(t, deltas)
	// Every delta must survive independent JSON encoding, so no delta may
	// end mid-rune.
	for _, d := range deltas {
		assert.True(t, utf8.ValidString(d))
	}
	assert.Equal(t, text, strings.Join(deltas, ""))
}

func TestChunks(t *testing.T) {
	assert.Equal(t, []string{"abc"}, chunks("abc", 5))
	assert.Equal(t, []string{"ab", "cd", "e"}, chunks("abcde", 2))
	assert.Equal(t, []string{""}, chunks("", 3))
	assert.Equal(t, []string{"株価", "は上", "昇"}, chunks("株価は上昇", 2))
}
