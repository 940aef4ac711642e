package chat

import (
	"sync"
	"time"
)

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry in a session's conversation history.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Ordinal   int       `json:"ordinal"`
	Timestamp time.Time `json:"timestamp"`
}

// Session holds the ordered conversation history for one logical
// conversation. All access is serialized through an internal mutex so
// a pipeline can append while earlier snapshots are being read.
type Session struct {
	mu      sync.Mutex
	id      string
	next    int
	history []Message
	variant string
}

// NewSession creates an empty session with the given identifier.
func NewSession(id string) *Session {
	return &Session{id: id}
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Append adds a message to the history and returns its ordinal.
// Ordinals are strictly increasing within a session and survive Clear.
func (s *Session) Append(role Role, content string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	ord := s.next
	s.next++
	s.history = append(s.history, Message{
		Role:      role,
		Content:   content,
		Ordinal:   ord,
		Timestamp: time.Now(),
	})
	return ord
}

// History returns a snapshot copy of the conversation. The copy is safe
// to read while later turns append concurrently.
func (s *Session) History() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Message, len(s.history))
	copy(out, s.history)
	return out
}

// Clear resets the history to a single system message rendered from the
// named prompt variant. The variant is remembered for diagnostics only.
func (s *Session) Clear(variant, systemPrompt string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	ord := s.next
	s.next++
	s.variant = variant
	s.history = []Message{{
		Role:      RoleSystem,
		Content:   systemPrompt,
		Ordinal:   ord,
		Timestamp: time.Now(),
	}}
	return ord
}

// Variant reports the prompt variant applied by the last Clear.
func (s *Session) Variant() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.variant
}

// Len reports the number of messages currently held.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.history)
}

// DefaultSessionID names the implicit process-wide session used by the
// legacy single-conversation API.
const DefaultSessionID = "default"

// Registry owns the live sessions, keyed by id. Sessions are created on
// first use and kept for the lifetime of the process.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Get returns the session with the given id, creating it if needed.
// An empty id resolves to the default session.
func (r *Registry) Get(id string) *Session {
	if id == "" {
		id = DefaultSessionID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[id]
	if !ok {
		sess = NewSession(id)
		r.sessions[id] = sess
	}
	return sess
}

// Default returns the implicit process-wide session.
func (r *Registry) Default() *Session {
	return r.Get(DefaultSessionID)
}
