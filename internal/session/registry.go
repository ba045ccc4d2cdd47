package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"portfolioagent/internal/assistant"
)

// DefaultIdleTTL is how long a session survives without being looked up.
const DefaultIdleTTL = 30 * time.Minute

// entry is a registered session with its idle deadline.
type entry struct {
	session   *Session
	expiresAt time.Time
}

type RegistryOption func(*Registry)

// WithIdleTTL sets how long an untouched session is kept. Zero or less
// keeps sessions until they are deleted.
func WithIdleTTL(ttl time.Duration) RegistryOption {
	return func(r *Registry) {
		r.ttl = ttl
	}
}

func WithRegistryClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// Registry keeps one Session per visitor so no two visitors share a thread.
// Sessions nobody has looked up for the idle TTL are dropped by Sweep.
type Registry struct {
	peer        assistant.Peer
	assistantID string
	ttl         time.Duration
	now         func() time.Time

	mu      sync.RWMutex
	entries map[string]entry
}

func NewRegistry(peer assistant.Peer, assistantID string, opts ...RegistryOption) *Registry {
	r := &Registry{
		peer:        peer,
		assistantID: assistantID,
		ttl:         DefaultIdleTTL,
		now:         time.Now,
		entries:     make(map[string]entry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create opens a new session and registers it.
func (r *Registry) Create(ctx context.Context) (*Session, error) {
	s := New(r.peer, r.assistantID)
	if err := s.Open(ctx); err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.entries[s.ID] = entry{session: s, expiresAt: r.deadline()}
	r.mu.Unlock()
	log.Info().Str("session", s.ID).Msg("session created")
	return s, nil
}

// Get returns a live session and pushes its idle deadline back.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok || (r.expired(e) && !e.session.Busy()) {
		return nil, false
	}
	e.expiresAt = r.deadline()
	r.entries[id] = e
	return e.session, true
}

// Delete forgets the session. It reports whether it existed.
func (r *Registry) Delete(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[id]; !ok {
		return false
	}
	delete(r.entries, id)
	return true
}

// Sweep removes expired sessions and returns how many went. A session in
// the middle of a turn is kept until the turn ends.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, e := range r.entries {
		if !r.expired(e) || e.session.Busy() {
			continue
		}
		delete(r.entries, id)
		removed++
		log.Debug().Str("session", id).Msg("idle session expired")
	}
	return removed
}

// Expire sweeps periodically until ctx is done. It returns at once when
// sessions never expire.
func (r *Registry) Expire(ctx context.Context) {
	if r.ttl <= 0 {
		return
	}
	interval := max(r.ttl/4, time.Second)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(); n > 0 {
				log.Info().Int("expired", n).Int("live", r.Len()).Msg("swept idle sessions")
			}
		}
	}
}

// Len counts registered sessions, expired ones not yet swept included.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func (r *Registry) deadline() time.Time {
	if r.ttl <= 0 {
		return time.Time{}
	}
	return r.now().Add(r.ttl)
}

func (r *Registry) expired(e entry) bool {
	return !e.expiresAt.IsZero() && r.now().After(e.expiresAt)
}
