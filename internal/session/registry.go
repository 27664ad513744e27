// ABOUTME: Bounded registry mapping conversation ids to sessions
// ABOUTME: Uses an expirable LRU so idle sessions age out and capacity is enforced

package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// RegistryConfig bounds the registry.
type RegistryConfig struct {
	// MaxSessions is the LRU capacity. Zero means unbounded.
	MaxSessions int
	// IdleTTL is how long a session survives without access. Zero means forever.
	IdleTTL time.Duration
	// Model is pinned on every session the registry creates.
	Model string
}

// Registry owns every live Session. Lookups refresh a session's idle timer.
type Registry struct {
	mu     sync.Mutex
	cache  *expirable.LRU[string, *Session]
	model  string
	logger *slog.Logger
}

// NewRegistry creates a registry with the given bounds.
func NewRegistry(cfg RegistryConfig, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		model:  cfg.Model,
		logger: logger.With("component", "sessions"),
	}
	r.cache = expirable.NewLRU[string, *Session](cfg.MaxSessions, r.onEvict, cfg.IdleTTL)
	return r
}

func (r *Registry) onEvict(id string, s *Session) {
	r.logger.Debug("session evicted", "conversation_id", id, "messages", s.Len())
}

// GetOrCreate returns the session for id, creating it if absent.
// created is true only for the caller that created it.
func (r *Registry) GetOrCreate(id string) (s *Session, created bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.cache.Get(id); ok {
		// Re-adding resets the expiry
		r.cache.Add(id, s)
		return s, false
	}

	s = New(id, r.model)
	r.cache.Add(id, s)
	r.logger.Debug("session created", "conversation_id", id, "model", r.model)
	return s, true
}

// Get returns the session for id without creating one.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.cache.Get(id)
	if ok {
		r.cache.Add(id, s)
	}
	return s, ok
}

// Exists reports whether a live session exists for id.
func (r *Registry) Exists(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	// Peek skips entries that have expired but not yet been swept
	_, ok := r.cache.Peek(id)
	return ok
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cache.Len()
}
