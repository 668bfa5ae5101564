package conversation

import (
	"sync"
	"time"

	"github.com/marketlens/marketagent/core"
)

const (
	// DefaultWindow is the number of recent user exchanges exposed to the
	// model. Turns beyond the window stay retained for export.
	DefaultWindow = 5
	// DefaultTTL is the absolute idle lifetime of a conversation.
	DefaultTTL = 24 * time.Hour
	// sweepInterval throttles the opportunistic expiry sweep.
	sweepInterval = time.Minute
)

// Options configures a Manager.
type Options struct {
	// Window is the number of user exchanges included in HistoryWindow.
	Window int
	// TTL is the idle duration after which a conversation is evicted.
	TTL time.Duration
}

// Manager is a volatile conversation store backed by a process-local map.
// It is safe for concurrent access from multiple in-flight requests; each
// returned conversation is cloned to prevent external mutation of internal
// state. Expiry runs opportunistically on access rather than as a dedicated
// background task.
type Manager struct {
	mu            sync.RWMutex
	conversations map[string]*core.Conversation
	window        int
	ttl           time.Duration
	lastSweep     time.Time

	now func() time.Time // overridable in tests
}

// NewManager constructs an empty conversation manager.
func NewManager(optFns ...func(o *Options)) *Manager {
	opts := Options{Window: DefaultWindow, TTL: DefaultTTL}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	return &Manager{
		conversations: make(map[string]*core.Conversation),
		window:        opts.Window,
		ttl:           opts.TTL,
		now:           time.Now,
	}
}

// Get returns an existing conversation (clone) or creates a new one lazily.
func (m *Manager) Get(id string) *core.Conversation {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweepLocked()
	if conv, ok := m.conversations[id]; ok {
		return conv.Clone()
	}
	return m.createLocked(id).Clone()
}

// Append adds a turn to an existing or newly created conversation.
func (m *Manager) Append(id string, turn core.Turn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweepLocked()
	conv, ok := m.conversations[id]
	if !ok {
		conv = m.createLocked(id)
	}
	conv.AppendTurn(turn)
}

// HistoryWindow returns the ordered turns of the last configured number of
// user exchanges, bounding prompt size regardless of conversation length.
func (m *Manager) HistoryWindow(id string) []core.Turn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conv, ok := m.conversations[id]
	if !ok {
		return nil
	}
	return conv.Window(m.window)
}

// Export returns the full retained turn history, including turns outside
// the model window.
func (m *Manager) Export(id string) []core.Turn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conv, ok := m.conversations[id]
	if !ok {
		return nil
	}
	return conv.AllTurns()
}

// Delete removes a conversation if present.
func (m *Manager) Delete(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.conversations, id)
}

// Len reports the number of live conversations.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conversations)
}

// Sweep evicts conversations idle past the TTL and reports how many were
// removed. Access paths call this opportunistically; it is exported for
// callers wanting explicit lifecycle control (tests, shutdown flushes).
func (m *Manager) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.forceSweepLocked()
}

// createLocked allocates and stores a new conversation; caller must hold
// the write lock.
func (m *Manager) createLocked(id string) *core.Conversation {
	conv := core.NewConversation(id)
	m.conversations[id] = conv
	return conv
}

// sweepLocked runs the expiry sweep at most once per sweepInterval.
func (m *Manager) sweepLocked() {
	now := m.now()
	if now.Sub(m.lastSweep) < sweepInterval {
		return
	}
	m.forceSweepLocked()
}

func (m *Manager) forceSweepLocked() int {
	now := m.now()
	m.lastSweep = now
	removed := 0
	for id, conv := range m.conversations {
		if now.Sub(conv.LastActiveAt) > m.ttl {
			delete(m.conversations, id)
			removed++
		}
	}
	return removed
}
