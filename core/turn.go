package core

import (
	"sync"
	"time"
)

// Role attributes a turn to one of the three conversation participants.
type Role string

const (
	// RoleUser marks a turn authored by the human caller.
	RoleUser Role = "user"
	// RoleModel marks a turn authored by the language model (final text or
	// tool-call requests).
	RoleModel Role = "model"
	// RoleTool marks a turn carrying tool results. Kept distinct from
	// RoleUser so provider adapters can satisfy the remote API role contract.
	RoleTool Role = "tool"
)

// Turn is one message unit in a conversation. Index is assigned by the
// owning Conversation on append and is strictly increasing.
type Turn struct {
	Role      Role      `json:"role"`
	Index     int       `json:"index"`
	Content   Content   `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// NewUserTurn creates a user turn with a single text part.
func NewUserTurn(text string) Turn {
	return Turn{
		Role:      RoleUser,
		Content:   Content{Role: "user", Parts: []Part{TextPart{Text: text}}},
		CreatedAt: time.Now().UTC(),
	}
}

// NewModelTextTurn creates a model turn carrying final answer text.
func NewModelTextTurn(text string) Turn {
	return Turn{
		Role:      RoleModel,
		Content:   Content{Role: "assistant", Parts: []Part{TextPart{Text: text}}},
		CreatedAt: time.Now().UTC(),
	}
}

// NewModelCallTurn creates a model turn requesting one or more tool calls.
// Providers may interleave commentary text with the calls; a non-empty text
// travels in the same turn so the persisted history matches what the caller
// saw.
func NewModelCallTurn(text string, calls []FunctionCall) Turn {
	parts := make([]Part, 0, len(calls)+1)
	if text != "" {
		parts = append(parts, TextPart{Text: text})
	}
	for _, fc := range calls {
		parts = append(parts, FunctionCallPart{FunctionCall: fc})
	}
	return Turn{
		Role:      RoleModel,
		Content:   Content{Role: "assistant", Parts: parts},
		CreatedAt: time.Now().UTC(),
	}
}

// NewToolTurn creates a tool turn answering a preceding model call turn. All
// responses for one model turn travel in a single tool turn so the pairing
// invariant (result immediately follows its call) holds by construction.
func NewToolTurn(responses []FunctionResponse) Turn {
	parts := make([]Part, 0, len(responses))
	for _, fr := range responses {
		parts = append(parts, FunctionResponsePart{FunctionResponse: fr})
	}
	return Turn{
		Role:      RoleTool,
		Content:   Content{Role: "tool", Parts: parts},
		CreatedAt: time.Now().UTC(),
	}
}

// Conversation tracks an append-only ordered turn history for one session id.
// It is safe for concurrent access.
//
// Contract:
//   - AppendTurn assigns the next ordering index and bumps LastActiveAt
//   - Turns / Window return defensive copies
//   - Clone performs deep copies for safe divergence
type Conversation struct {
	ID           string    `json:"id"`
	Turns        []Turn    `json:"turns"`
	CreatedAt    time.Time `json:"created_at"`
	LastActiveAt time.Time `json:"last_active_at"`
	mu           sync.RWMutex
}

// NewConversation creates an empty conversation with the given id.
func NewConversation(id string) *Conversation {
	now := time.Now().UTC()
	return &Conversation{ID: id, Turns: []Turn{}, CreatedAt: now, LastActiveAt: now}
}

// AppendTurn appends a turn, assigning its ordering index.
func (c *Conversation) AppendTurn(t Turn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t.Index = len(c.Turns)
	c.Turns = append(c.Turns, t)
	c.LastActiveAt = time.Now().UTC()
}

// TurnCount returns the number of retained turns.
func (c *Conversation) TurnCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.Turns)
}

// AllTurns returns a defensive copy of the full turn history.
func (c *Conversation) AllTurns() []Turn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	turns := make([]Turn, len(c.Turns))
	copy(turns, c.Turns)
	return turns
}

// Window returns the turns belonging to the last n user exchanges. A window
// boundary always falls on a user turn so tool turns are never orphaned from
// the model turn that requested them.
func (c *Conversation) Window(n int) []Turn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if n <= 0 {
		return nil
	}
	start := 0
	seen := 0
	for i := len(c.Turns) - 1; i >= 0; i-- {
		if c.Turns[i].Role == RoleUser {
			seen++
			if seen == n {
				start = i
				break
			}
		}
	}
	turns := make([]Turn, len(c.Turns)-start)
	copy(turns, c.Turns[start:])
	return turns
}

// Clone returns a deep copy of the conversation safe for independent mutation.
func (c *Conversation) Clone() *Conversation {
	c.mu.RLock()
	defer c.mu.RUnlock()
	clone := &Conversation{
		ID:           c.ID,
		Turns:        make([]Turn, len(c.Turns)),
		CreatedAt:    c.CreatedAt,
		LastActiveAt: c.LastActiveAt,
	}
	copy(clone.Turns, c.Turns)
	return clone
}
