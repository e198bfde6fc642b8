package bus

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/caselane/caselane/pkg/models"
)

// ErrInboxFull is returned by an inbox that has no capacity left.
// Dispatch treats it as transient: senders may retry with backoff.
var ErrInboxFull = fmt.Errorf("inbox full")

// ErrUnknownRecipient is returned when a message names an unregistered
// agent. It is permanent; retrying cannot succeed.
type ErrUnknownRecipient struct {
	Name string
}

func (e *ErrUnknownRecipient) Error() string {
	return "unknown recipient: " + e.Name
}

// Inbox is the receiving side of an agent. Receive must be non-blocking:
// it either accepts the message or returns ErrInboxFull.
type Inbox interface {
	Name() string
	Receive(msg Message) error
}

// Router owns the agent registry and the bounded message history. It is
// constructed explicitly and passed to agents as a dependency, so tests
// can run isolated instances.
type Router struct {
	mu          sync.RWMutex
	agents      map[string]Inbox
	history     []Message
	historyCap  int
	totalRouted int64
	typeCounts  map[string]int
	lastAt      time.Time
}

// DefaultHistoryCap bounds the retained message history.
const DefaultHistoryCap = 1000

// NewRouter creates a router with the given history cap (0 means
// DefaultHistoryCap).
func NewRouter(historyCap int) *Router {
	if historyCap <= 0 {
		historyCap = DefaultHistoryCap
	}
	return &Router{
		agents:     make(map[string]Inbox),
		historyCap: historyCap,
		typeCounts: make(map[string]int),
	}
}

// Register adds an agent to the registry. Names are routing keys and
// must be unique.
func (r *Router) Register(a Inbox) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := a.Name()
	if name == "" {
		return fmt.Errorf("agent has empty name")
	}
	if _, exists := r.agents[name]; exists {
		return fmt.Errorf("agent %q already registered", name)
	}
	r.agents[name] = a
	return nil
}

// Route delivers a message to the named recipient and records it.
//
// Structurally invalid messages are dropped with a warning: no history
// entry, no error to the caller. An unknown recipient is an error and
// leaves history untouched. A full inbox surfaces ErrInboxFull so the
// sender can back off and retry.
func (r *Router) Route(msg Message) error {
	if err := msg.Validate(); err != nil {
		log.Warn().Err(err).Str("from", msg.From).Str("to", msg.To).Msg("Dropping malformed message")
		return nil
	}

	r.mu.RLock()
	recipient, ok := r.agents[msg.To]
	r.mu.RUnlock()
	if !ok {
		return &ErrUnknownRecipient{Name: msg.To}
	}

	if err := recipient.Receive(msg); err != nil {
		return fmt.Errorf("deliver to %s: %w", msg.To, err)
	}

	r.mu.Lock()
	r.history = append(r.history, msg)
	if len(r.history) > r.historyCap {
		r.history = r.history[len(r.history)-r.historyCap:]
	}
	r.totalRouted++
	r.typeCounts[string(msg.Type)]++
	r.lastAt = msg.Timestamp
	r.mu.Unlock()

	log.Debug().
		Str("message_id", msg.ID).
		Str("from", msg.From).
		Str("to", msg.To).
		Str("type", string(msg.Type)).
		Str("priority", string(msg.Priority)).
		Msg("Message routed")

	return nil
}

// History returns up to limit most recent messages, oldest first.
// limit <= 0 returns the full retained window.
func (r *Router) History(limit int) []Message {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := len(r.history)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Message, n)
	copy(out, r.history[len(r.history)-n:])
	return out
}

// AgentNames returns the registered routing keys.
func (r *Router) AgentNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.agents))
	for name := range r.agents {
		names = append(names, name)
	}
	return names
}

// Stats returns a read-only snapshot of routing activity.
func (r *Router) Stats() models.SystemStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := models.SystemStats{
		TotalAgents:     len(r.agents),
		MessagesRouted:  r.totalRouted,
		ActiveAgents:    make([]string, 0, len(r.agents)),
		MessageTypes:    make(map[string]int, len(r.typeCounts)),
		HistoryRetained: len(r.history),
	}
	for name := range r.agents {
		stats.ActiveAgents = append(stats.ActiveAgents, name)
	}
	for t, n := range r.typeCounts {
		stats.MessageTypes[t] = n
	}
	if !r.lastAt.IsZero() {
		last := r.lastAt
		stats.LastActivity = &last
	}
	if r.totalRouted > 0 {
		stats.ErrorRatePct = float64(r.typeCounts[string(TypeErrorReport)]) / float64(r.totalRouted) * 100
	}
	return stats
}
