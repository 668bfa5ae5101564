// Package agent implements the bounded tool-calling loop that turns a user
// message into a stream of incremental events. Each iteration asks the model
// to either answer directly or request tool calls; tool results are fed back
// until the model produces a final text answer or the iteration cap is hit.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/marketlens/marketagent/conversation"
	"github.com/marketlens/marketagent/core"
	"github.com/marketlens/marketagent/logging"
	"github.com/marketlens/marketagent/model"
	"github.com/marketlens/marketagent/tool"
)

const (
	// DefaultMaxIterations caps the reason/act cycles per message.
	DefaultMaxIterations = 5
	// DefaultChunkSize is the delta size used when a provider returns a
	// complete answer instead of streaming it.
	DefaultChunkSize = 20
	// DefaultModelTimeout bounds a single model generation call.
	DefaultModelTimeout = 2 * time.Minute
)

// fallbackAnswer is emitted when the model finishes without producing text.
const fallbackAnswer = "I wasn't able to generate a response. Please try again."

// ErrMaxIterations reports that a run hit its iteration cap before the
// model produced a final answer.
var ErrMaxIterations = errors.New("max iterations reached without a final answer")

const instructionsTemplate = `You are an expert stock market analyst assistant for MarketLens.
You have access to tools that provide real-time stock data, financial statements,
news, sentiment analysis, and price forecasts.

When answering questions:
- Use your tools to fetch relevant data before answering. Do not guess prices or financial figures.
- You may call multiple tools if the question requires different types of data.
- Be concise and data-driven. Cite specific numbers from tool results.
- Format numbers with proper units (e.g., $1.5B, 10.5M shares).
- If a tool returns an error, acknowledge the issue and work with whatever data you have.
- Do not include markdown formatting syntax. Write in plain text.
- The user is currently viewing the stock ticker: %s. Use this ticker for tool calls unless the user explicitly asks about a different stock.
- For general questions that do not require data (e.g., "what is a P/E ratio?"), respond directly without calling tools.`

// phase tracks where a run is in its lifecycle. A run stays in reasoning
// while the model keeps requesting tools, then exactly one of answered or
// failed ends it; leaving the loop still in reasoning means the iteration
// cap was hit.
type phase string

const (
	phaseReasoning phase = "reasoning"
	phaseAnswered  phase = "answered"
	phaseFailed    phase = "failed"
)

// Request is one user message addressed to the agent.
type Request struct {
	// ConversationID selects the session; empty starts a fresh one.
	ConversationID string
	// Ticker is the symbol the user is currently viewing.
	Ticker string
	// Message is the user's question.
	Message string
	// Context carries values the caller already holds, served without any
	// cache or live lookup.
	Context *tool.CallerContext
}

// Options configures an Orchestrator.
type Options struct {
	// MaxIterations caps reason/act cycles per message.
	MaxIterations int
	// ChunkSize is the delta size for chunking non-streamed answers.
	ChunkSize int
	// ModelTimeout bounds each individual model call.
	ModelTimeout time.Duration
	// Logger receives loop telemetry. Defaults to NoOpLogger.
	Logger logging.Logger
}

// Orchestrator drives the reason/act loop over a model, a tool executor and
// conversation state.
type Orchestrator struct {
	client        model.Client
	registry      *tool.Registry
	executor      *tool.Executor
	conversations *conversation.Manager
	opts          Options
}

// New constructs an orchestrator.
func New(client model.Client, registry *tool.Registry, executor *tool.Executor, conversations *conversation.Manager, optFns ...func(o *Options)) *Orchestrator {
	opts := Options{
		MaxIterations: DefaultMaxIterations,
		ChunkSize:     DefaultChunkSize,
		ModelTimeout:  DefaultModelTimeout,
		Logger:        logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultMaxIterations
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.ModelTimeout <= 0 {
		opts.ModelTimeout = DefaultModelTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	return &Orchestrator{
		client:        client,
		registry:      registry,
		executor:      executor,
		conversations: conversations,
		opts:          opts,
	}
}

// Run processes one user message and returns the event stream for it. The
// channel is closed when the run ends; every run emits exactly one terminal
// event (done or error) unless the context is cancelled first.
func (o *Orchestrator) Run(ctx context.Context, req Request) <-chan core.AgentEvent {
	events := make(chan core.AgentEvent, 16)
	go func() {
		defer close(events)
		o.run(ctx, req, events)
	}()
	return events
}

// emitter serializes event delivery and enforces the single-terminal rule.
type emitter struct {
	ctx      context.Context
	ch       chan<- core.AgentEvent
	terminal bool
}

// send delivers an event unless a terminal event was already emitted or the
// context is done. It reports whether delivery happened.
func (e *emitter) send(ev core.AgentEvent) bool {
	if e.terminal || e.ctx.Err() != nil {
		return false
	}
	select {
	case e.ch <- ev:
		if ev.IsTerminal() {
			e.terminal = true
		}
		return true
	case <-e.ctx.Done():
		return false
	}
}

func (o *Orchestrator) run(ctx context.Context, req Request, events chan<- core.AgentEvent) {
	em := &emitter{ctx: ctx, ch: events}

	convID := req.ConversationID
	if convID == "" {
		convID = core.NewID()
	}
	ticker := strings.ToUpper(strings.TrimSpace(req.Ticker))

	log := o.opts.Logger
	log.Info("agent.run.start", "conversation_id", convID, "ticker", ticker)

	// Transcript starts from the retained window plus the new user turn.
	// The user turn is persisted up front so it survives even if the run
	// fails mid-way.
	userTurn := core.NewUserTurn(req.Message)
	o.conversations.Append(convID, userTurn)
	contents := turnsToContents(o.conversations.HistoryWindow(convID))

	modelReq := model.Request{
		Instructions: fmt.Sprintf(instructionsTemplate, ticker),
		Contents:     contents,
		Tools:        o.toolDefinitions(),
		Stream:       true,
	}

	state := phaseReasoning
	for iteration := 1; iteration <= o.opts.MaxIterations && state == phaseReasoning; iteration++ {
		log.Info("agent.iteration", "conversation_id", convID, "n", iteration, "max", o.opts.MaxIterations)

		final, streamed, err := o.generate(ctx, em, modelReq)
		if err != nil {
			if ctx.Err() != nil {
				log.Warn("agent.run.cancelled", "conversation_id", convID)
				return
			}
			state = phaseFailed
			log.Error("agent.run.model_error", "conversation_id", convID, "error", err.Error())
			em.send(core.NewErrorEvent(fmt.Sprintf("An error occurred: %v", err)))
			continue
		}

		calls := final.Content.FunctionCalls()
		if len(calls) == 0 {
			state = phaseAnswered
			text := final.Content.Text()
			if text == "" {
				text = fallbackAnswer
			}
			// Providers that answered in one piece still stream to the
			// caller; chunk the text into fixed-size deltas.
			if !streamed {
				for _, delta := range chunks(text, o.opts.ChunkSize) {
					if !em.send(core.NewTextEvent(delta)) {
						return
					}
				}
			}
			if !em.send(core.NewDoneEvent()) {
				return
			}
			o.conversations.Append(convID, core.NewModelTextTurn(text))
			log.Info("agent.run.answered", "conversation_id", convID, "iterations", iteration)
			continue
		}

		responses, ok := o.act(ctx, em, calls, req.Context)
		if !ok {
			return
		}

		// Persist the call/response pair and extend the working transcript
		// so the next iteration sees the tool results. Any commentary text
		// the provider streamed alongside the calls stays with them.
		callTurn := core.NewModelCallTurn(final.Content.Text(), calls)
		toolTurn := core.NewToolTurn(responses)
		o.conversations.Append(convID, callTurn)
		o.conversations.Append(convID, toolTurn)
		modelReq.Contents = append(modelReq.Contents, callTurn.Content, toolTurn.Content)
	}

	// Falling out of the loop still in the reasoning phase means the
	// iteration cap was reached without a final answer.
	if state == phaseReasoning {
		log.Warn("agent.run.exhausted", "conversation_id", convID, "max", o.opts.MaxIterations, "error", ErrMaxIterations)
		em.send(core.NewErrorEvent(fmt.Sprintf("The agent did not converge within %d analysis steps. Please try a more specific question.", o.opts.MaxIterations)))
	}
}

// generate performs one model call, forwarding partial text as events. It
// returns the final response and whether any partial text was streamed.
func (o *Orchestrator) generate(ctx context.Context, em *emitter, req model.Request) (model.Response, bool, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.opts.ModelTimeout)
	defer cancel()

	respCh, errCh := o.client.Generate(callCtx, req)

	var (
		final    model.Response
		gotFinal bool
		streamed bool
	)
	for respCh != nil || errCh != nil {
		select {
		case resp, ok := <-respCh:
			if !ok {
				respCh = nil
				continue
			}
			if resp.Partial {
				if delta := resp.Content.Text(); delta != "" {
					streamed = true
					if !em.send(core.NewTextEvent(delta)) {
						return model.Response{}, streamed, ctx.Err()
					}
				}
				continue
			}
			final = resp
			gotFinal = true
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil {
				return model.Response{}, streamed, err
			}
		case <-ctx.Done():
			return model.Response{}, streamed, ctx.Err()
		}
	}
	if !gotFinal {
		return model.Response{}, streamed, model.TransportError(errors.New("stream ended without a final response"))
	}
	return final, streamed, nil
}

// act executes one batch of requested tool calls, emitting calling events
// before execution and per-call outcome events after, both in call order.
// It reports false when the run should stop (context cancelled).
func (o *Orchestrator) act(ctx context.Context, em *emitter, calls []core.FunctionCall, callerCtx *tool.CallerContext) ([]core.FunctionResponse, bool) {
	for _, fc := range calls {
		if !em.send(core.NewToolCallingEvent(fc.Name, fc.ParsedArguments())) {
			return nil, false
		}
	}

	results := o.executor.ExecuteBatch(ctx, calls, callerCtx)
	if ctx.Err() != nil {
		return nil, false
	}

	responses := make([]core.FunctionResponse, 0, len(calls))
	for i, fc := range calls {
		res := results[i]
		if res.OK {
			if !em.send(core.NewToolCompleteEvent(fc.Name)) {
				return nil, false
			}
		} else {
			if !em.send(core.NewToolErrorEvent(fc.Name, res.Error)) {
				return nil, false
			}
		}
		responses = append(responses, res.Response(fc.ID, fc.Name))
	}
	return responses, true
}

// toolDefinitions builds the declaration set advertised to the model.
func (o *Orchestrator) toolDefinitions() []model.ToolDefinition {
	tools := o.registry.Tools()
	defs := make([]model.ToolDefinition, 0, len(tools))
	for _, t := range tools {
		defs = append(defs, model.ToolDefinition{
			Type: "function",
			Function: model.FunctionDefinition{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}
	return defs
}

// turnsToContents projects retained turns into model contents.
func turnsToContents(turns []core.Turn) []core.Content {
	contents := make([]core.Content, 0, len(turns))
	for _, t := range turns {
		contents = append(contents, t.Content)
	}
	return contents
}

// chunks splits s into pieces of at most size runes. Splitting on rune
// boundaries keeps every delta valid UTF-8, so concatenating the deltas
// reproduces s exactly.
func chunks(s string, size int) []string {
	if size <= 0 || s == "" {
		return []string{s}
	}
	var out []string
	runes := []rune(s)
	for len(runes) > size {
		out = append(out, string(runes[:size]))
		runes = runes[size:]
	}
	return append(out, string(runes))
}
