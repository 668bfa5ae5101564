package model

import (
	"context"
	"sync"

	"github.com/marketlens/marketagent/core"
)

// MockClient is a scripted in-memory Client for tests and examples. Each
// Generate call consumes the next scripted step in order; when the script
// runs out, a plain text response is produced. Scripted errors are wrapped
// as transport failures.
type MockClient struct {
	mu       sync.Mutex
	steps    []mockStep
	requests []Request
}

type mockStep struct {
	content core.Content
	err     error
}

var _ Client = (*MockClient)(nil)

// NewMockClient constructs an empty mock.
func NewMockClient() *MockClient { return &MockClient{} }

// EnqueueText scripts a final text answer.
func (m *MockClient) EnqueueText(text string) {
	m.enqueue(mockStep{content: core.Content{
		Role:  "assistant",
		Parts: []core.Part{core.TextPart{Text: text}},
	}})
}

// EnqueueToolCalls scripts a response requesting the given tool calls.
func (m *MockClient) EnqueueToolCalls(calls ...core.FunctionCall) {
	parts := make([]core.Part, 0, len(calls))
	for _, fc := range calls {
		parts = append(parts, core.FunctionCallPart{FunctionCall: fc})
	}
	m.enqueue(mockStep{content: core.Content{Role: "assistant", Parts: parts}})
}

// EnqueueTextAndToolCalls scripts a response carrying commentary text
// together with tool call requests, the way streaming providers interleave
// them.
func (m *MockClient) EnqueueTextAndToolCalls(text string, calls ...core.FunctionCall) {
	parts := make([]core.Part, 0, len(calls)+1)
	if text != "" {
		parts = append(parts, core.TextPart{Text: text})
	}
	for _, fc := range calls {
		parts = append(parts, core.FunctionCallPart{FunctionCall: fc})
	}
	m.enqueue(mockStep{content: core.Content{Role: "assistant", Parts: parts}})
}

// EnqueueError scripts a transport failure.
func (m *MockClient) EnqueueError(err error) {
	m.enqueue(mockStep{err: err})
}

func (m *MockClient) enqueue(s mockStep) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps = append(m.steps, s)
}

// Calls reports how many Generate calls were made.
func (m *MockClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Request returns a copy of the i-th recorded request.
func (m *MockClient) Request(i int) Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests[i]
}

// Generate implements Client; emits optional streaming chunks then the
// final scripted response.
func (m *MockClient) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	var step mockStep
	if len(m.steps) > 0 {
		step = m.steps[0]
		m.steps = m.steps[1:]
	} else {
		step = mockStep{content: core.Content{
			Role:  "assistant",
			Parts: []core.Part{core.TextPart{Text: "mock answer"}},
		}}
	}
	m.mu.Unlock()

	respCh := make(chan Response, 16)
	errCh := make(chan error, 1)
	go func() {
		defer close(respCh)
		defer close(errCh)
		if step.err != nil {
			errCh <- TransportError(step.err)
			return
		}
		if req.Stream && len(step.content.FunctionCalls()) == 0 {
			for _, r := range step.content.Text() {
				select {
				case <-ctx.Done():
					errCh <- TransportError(ctx.Err())
					return
				case respCh <- Response{
					Partial: true,
					Content: core.Content{
						Role:  "assistant",
						Parts: []core.Part{core.TextPart{Text: string(r)}},
					},
				}:
				}
			}
		}
		finish := "stop"
		if len(step.content.FunctionCalls()) > 0 {
			finish = "tool_calls"
		}
		select {
		case <-ctx.Done():
			errCh <- TransportError(ctx.Err())
		case respCh <- Response{Partial: false, Content: step.content, FinishReason: finish}:
		}
	}()
	return respCh, errCh
}

// Info implements Client.
func (m *MockClient) Info() Info {
	return Info{Name: "mock", Provider: "mock", SupportsTools: true}
}
