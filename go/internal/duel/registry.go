package duel

import (
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// RegistryConfig holds the settings shared by every session of a registry.
type RegistryConfig struct {
	Puzzles          PuzzleSource
	SubmissionWindow time.Duration
	// ResolvedTTL is how long a resolved duel is kept around. Zero keeps it
	// until the process exits.
	ResolvedTTL time.Duration
	// IdleTTL evicts unresolved duels with no activity for that long. Zero
	// disables idle eviction.
	IdleTTL time.Duration
	Clock   clockwork.Clock
}

// Registry maps room ids to sessions. Sessions are created on first
// reference and removed only by Evict.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	config   RegistryConfig
}

// NewRegistry creates an empty registry.
func NewRegistry(config RegistryConfig) *Registry {
	if config.Clock == nil {
		config.Clock = clockwork.NewRealClock()
	}
	if config.SubmissionWindow <= 0 {
		config.SubmissionWindow = DefaultSubmissionWindow
	}
	return &Registry{
		sessions: make(map[string]*Session),
		config:   config,
	}
}

// GetOrCreate returns the session for roomID, creating it if needed. Only
// one session is ever created per room id, even under concurrent calls.
func (r *Registry) GetOrCreate(roomID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[roomID]; ok {
		return s
	}

	s := NewSession(roomID, r.config.Puzzles, r.config.SubmissionWindow, r.config.Clock.Now())
	r.sessions[roomID] = s

	log.Info().
		Str("room_id", roomID).
		Str("session_id", s.ID().String()).
		Int("total_rooms", len(r.sessions)).
		Msg("room created")

	return s
}

// Get returns the session for roomID if one exists.
func (r *Registry) Get(roomID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[roomID]
	return s, ok
}

// Len returns the number of live rooms.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// RoomIDs returns the live room ids, sorted.
func (r *Registry) RoomIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Evict removes rooms resolved longer than ResolvedTTL ago and unresolved
// rooms idle for longer than IdleTTL. It returns the evicted room ids.
func (r *Registry) Evict(now time.Time) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var evicted []string
	for id, s := range r.sessions {
		if r.expired(s, now) {
			delete(r.sessions, id)
			evicted = append(evicted, id)
		}
	}
	sort.Strings(evicted)

	if len(evicted) > 0 {
		log.Info().
			Strs("room_ids", evicted).
			Int("remaining", len(r.sessions)).
			Msg("evicted rooms")
	}
	return evicted
}

func (r *Registry) expired(s *Session, now time.Time) bool {
	if at, ok := s.ResolvedAt(); ok {
		return r.config.ResolvedTTL > 0 && now.Sub(at) >= r.config.ResolvedTTL
	}
	return r.config.IdleTTL > 0 && now.Sub(s.LastActivity()) >= r.config.IdleTTL
}
