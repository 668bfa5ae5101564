// Package marketagent provides a high-level façade over the tool-calling
// agent loop and its supporting services (tool registry, result cache,
// conversation state and the HTTP/SSE surface). Most applications interact
// with this package by:
//  1. Creating an Agent via New() with a model client and data collaborators
//  2. Streaming answers with Process(), or
//  3. Mounting Handler() to serve the chat API over HTTP
//
// The façade delegates orchestration to agent.Orchestrator while keeping
// setup ergonomics concise. All defaults are safe for local development;
// production deployments typically supply a structured logger and real data
// backends.
package marketagent

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/marketlens/marketagent/agent"
	"github.com/marketlens/marketagent/conversation"
	"github.com/marketlens/marketagent/core"
	"github.com/marketlens/marketagent/logging"
	"github.com/marketlens/marketagent/model"
	"github.com/marketlens/marketagent/server"
	"github.com/marketlens/marketagent/tool"
	"github.com/marketlens/marketagent/toolcache"
)

// Options configures an Agent instance.
type Options struct {
	// MarketData backs the quote, reference and price history tools.
	MarketData tool.MarketData
	// Sentiment backs the analyze_sentiment tool.
	Sentiment tool.SentimentAnalyzer
	// Forecaster backs the get_price_forecast tool.
	Forecaster tool.Forecaster
	// Knowledge backs the search_knowledge_base tool.
	Knowledge tool.KnowledgeSearcher

	// ExtraTools are registered alongside the builtin tools.
	ExtraTools []tool.Tool

	// MaxIterations caps reason/act cycles per message.
	MaxIterations int
	// HistoryWindow is the number of recent user exchanges sent to the model.
	HistoryWindow int
	// ConversationTTL evicts conversations idle longer than this.
	ConversationTTL time.Duration
	// ToolTTL is the default cache lifetime for tool results.
	ToolTTL time.Duration
	// ToolTTLs overrides the lifetime per tool; an explicit zero disables
	// caching for that tool.
	ToolTTLs map[string]time.Duration

	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
}

// Agent is the high-level façade aggregating the loop and its services.
type Agent struct {
	opts          Options
	orchestrator  *agent.Orchestrator
	conversations *conversation.Manager
	registry      *tool.Registry
	server        *server.Server
}

// New creates an Agent around the given model client. Builtin tools are
// registered for every collaborator that is supplied; the knowledge search
// tool is exempted from result caching since its results vary per query.
func New(client model.Client, optFns ...func(o *Options)) (*Agent, error) {
	if client == nil {
		return nil, errors.New("marketagent: model client is required")
	}
	opts := Options{
		MaxIterations:   agent.DefaultMaxIterations,
		HistoryWindow:   conversation.DefaultWindow,
		ConversationTTL: conversation.DefaultTTL,
		ToolTTL:         tool.DefaultTTL,
		Logger:          logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	registry := tool.NewRegistry()
	if err := tool.RegisterBuiltins(registry, tool.BuiltinDeps{
		MarketData: opts.MarketData,
		Sentiment:  opts.Sentiment,
		Forecaster: opts.Forecaster,
		Knowledge:  opts.Knowledge,
	}); err != nil {
		return nil, err
	}
	for _, t := range opts.ExtraTools {
		if err := registry.Register(t); err != nil {
			return nil, err
		}
	}

	ttls := map[string]time.Duration{
		// Reference data changes on corporate-action timescales, not
		// intraday; keep it around much longer than quotes.
		"get_company_info": time.Hour,
		"get_financials":   time.Hour,
		"get_dividends":    time.Hour,
		"get_stock_splits": time.Hour,
		// Query-shaped results; a cache would only ever hit on the exact
		// same free-text query.
		"search_knowledge_base": 0,
	}
	for name, ttl := range opts.ToolTTLs {
		ttls[name] = ttl
	}

	executor := tool.NewExecutor(registry, toolcache.New(), func(o *tool.Options) {
		o.DefaultTTL = opts.ToolTTL
		o.TTLs = ttls
		o.Logger = opts.Logger
	})
	conversations := conversation.NewManager(func(o *conversation.Options) {
		o.Window = opts.HistoryWindow
		o.TTL = opts.ConversationTTL
	})
	orchestrator := agent.New(client, registry, executor, conversations, func(o *agent.Options) {
		o.MaxIterations = opts.MaxIterations
		o.Logger = opts.Logger
	})

	return &Agent{
		opts:          opts,
		orchestrator:  orchestrator,
		conversations: conversations,
		registry:      registry,
		server: server.New(orchestrator, conversations, func(o *server.Options) {
			o.Logger = opts.Logger
		}),
	}, nil
}

// Process streams the agent's response to one user message.
func (a *Agent) Process(ctx context.Context, req agent.Request) <-chan core.AgentEvent {
	return a.orchestrator.Run(ctx, req)
}

// Conversations exposes the conversation manager for history export,
// clearing, and sweeps.
func (a *Agent) Conversations() *conversation.Manager {
	return a.conversations
}

// Registry exposes the tool registry.
func (a *Agent) Registry() *tool.Registry {
	return a.registry
}

// Handler returns the HTTP surface for the chat API.
func (a *Agent) Handler() http.Handler {
	return a.server
}
