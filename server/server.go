// Package server exposes the agent over HTTP: a streaming chat endpoint
// plus conversation inspection, clearing and health checks.
package server

import (
	"encoding/json"
	"net/http"

	"github.com/marketlens/marketagent/agent"
	"github.com/marketlens/marketagent/conversation"
	"github.com/marketlens/marketagent/core"
	"github.com/marketlens/marketagent/logging"
	"github.com/marketlens/marketagent/stream"
	"github.com/marketlens/marketagent/tool"
)

// Options configures a Server.
type Options struct {
	// Logger receives request telemetry. Defaults to NoOpLogger.
	Logger logging.Logger
}

var _ http.Handler = (*Server)(nil)

// Server routes chat requests to the orchestrator and streams results back
// as Server-Sent Events.
type Server struct {
	orchestrator  *agent.Orchestrator
	conversations *conversation.Manager
	mux           *http.ServeMux
	opts          Options
}

// New constructs the HTTP surface over an orchestrator.
func New(orchestrator *agent.Orchestrator, conversations *conversation.Manager, optFns ...func(o *Options)) *Server {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	s := &Server{
		orchestrator:  orchestrator,
		conversations: conversations,
		mux:           http.NewServeMux(),
		opts:          opts,
	}
	s.mux.HandleFunc("POST /api/chat/message", s.handleMessage)
	s.mux.HandleFunc("GET /api/chat/conversations/{id}", s.handleGetConversation)
	s.mux.HandleFunc("DELETE /api/chat/clear/{id}", s.handleClearConversation)
	s.mux.HandleFunc("GET /api/chat/health", s.handleHealth)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// messageRequest is the chat endpoint request body.
type messageRequest struct {
	Ticker         string         `json:"ticker"`
	Message        string         `json:"message"`
	Context        map[string]any `json:"context"`
	ConversationID string         `json:"conversation_id"`
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Ticker == "" || req.Message == "" {
		writeJSONError(w, http.StatusBadRequest, "Missing required fields")
		return
	}
	convID := req.ConversationID
	if convID == "" {
		convID = "default"
	}

	s.opts.Logger.Info("server.chat.message",
		"conversation_id", convID,
		"ticker", req.Ticker,
		"context_keys", len(req.Context),
	)

	events := s.orchestrator.Run(r.Context(), agent.Request{
		ConversationID: convID,
		Ticker:         req.Ticker,
		Message:        req.Message,
		Context:        ContextFromFrontend(req.Ticker, req.Context),
	})

	enc := stream.NewEncoder(w)
	if err := enc.EncodeStream(r.Context(), events); err != nil {
		// Client went away or the pipe broke; nothing else to send.
		s.opts.Logger.Warn("server.chat.stream_interrupted", "conversation_id", convID, "error", err.Error())
	}
}

// conversationMessage is one retained exchange entry in the export shape.
type conversationMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	turns := s.conversations.Export(id)

	// Only user questions and final answers are part of the export shape;
	// intermediate tool traffic stays internal.
	messages := make([]conversationMessage, 0, len(turns))
	for _, t := range turns {
		text := t.Content.Text()
		if text == "" {
			continue
		}
		role := "assistant"
		if t.Role == core.RoleUser {
			role = "user"
		}
		messages = append(messages, conversationMessage{Role: role, Content: text})
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

func (s *Server) handleClearConversation(w http.ResponseWriter, r *http.Request) {
	s.conversations.Delete(r.PathValue("id"))
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "healthy",
		"components": map[string]string{
			"agent":         "ok",
			"tools":         "ok",
			"conversations": "ok",
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// frontendKeyMap maps tool names to the keys the frontend uses in its
// context blob. Quote and company details are nested under "overview".
var frontendKeyMap = map[string]string{
	"get_stock_quote":   "previousClose",
	"get_company_info":  "details",
	"get_financials":    "financials",
	"get_news":          "news",
	"get_dividends":     "dividends",
	"get_stock_splits":  "splits",
	"analyze_sentiment": "sentiment",
}

// ContextFromFrontend converts the frontend's context blob into caller
// context entries so tool calls for data the page already shows resolve
// without touching the cache or upstream APIs.
func ContextFromFrontend(ticker string, blob map[string]any) *tool.CallerContext {
	cc := tool.NewCallerContext()
	if len(blob) == 0 {
		return cc
	}
	overview, _ := blob["overview"].(map[string]any)

	args := map[string]any{"ticker": ticker}
	for toolName, key := range frontendKeyMap {
		var data any
		switch key {
		case "previousClose", "details":
			if overview != nil {
				data = overview[key]
			}
		default:
			data = blob[key]
		}
		if data == nil {
			continue
		}
		cc.Put(toolName, args, data)
	}
	return cc
}
