package usecase

import (
	"hash/fnv"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"clarvis/internal/domain"
)

const sessionShards = 16

// SessionStore maps session IDs to conversations. Entries are created on
// demand, evicted by TTL, and accessed concurrently; the map is sharded
// so unrelated sessions never contend on one lock. Sessions live only in
// memory; there is no persistence.
type SessionStore struct {
	shards   [sessionShards]*sessionShard
	ttl      time.Duration
	maxTurns int
	logger   *slog.Logger
	now      func() time.Time // for testing
}

type sessionShard struct {
	mu       sync.Mutex
	sessions map[string]*domain.Conversation
}

// NewSessionStore creates a store with the given session TTL and per-
// session turn cap.
func NewSessionStore(ttl time.Duration, maxTurns int, logger *slog.Logger) *SessionStore {
	s := &SessionStore{
		ttl:      ttl,
		maxTurns: maxTurns,
		logger:   logger,
		now:      time.Now,
	}
	for i := range s.shards {
		s.shards[i] = &sessionShard{sessions: make(map[string]*domain.Conversation)}
	}
	return s
}

func (s *SessionStore) shardFor(id string) *sessionShard {
	h := fnv.New32a()
	h.Write([]byte(id))
	return s.shards[h.Sum32()%sessionShards]
}

// newSessionID mints a fresh ULID.
func (s *SessionStore) newSessionID() string {
	t := s.now()
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

func (s *SessionStore) expired(c *domain.Conversation) bool {
	return s.now().Sub(c.LastActivity()) > s.ttl
}

// GetOrCreate returns the conversation for id when it exists and has not
// expired; otherwise it creates a conversation under a freshly minted ID.
// An expired id therefore behaves exactly like an absent one. Expiry is
// checked lazily on access, so a stale entry is reaped here even between
// sweeps.
func (s *SessionStore) GetOrCreate(id string) *domain.Conversation {
	if id != "" {
		shard := s.shardFor(id)
		shard.mu.Lock()
		if c, ok := shard.sessions[id]; ok {
			if !s.expired(c) {
				c.Touch()
				shard.mu.Unlock()
				return c
			}
			delete(shard.sessions, id)
			s.logger.Debug("session expired on access", "session_id", id)
		}
		shard.mu.Unlock()
	}

	newID := s.newSessionID()
	c := domain.NewConversation(newID, s.maxTurns)
	shard := s.shardFor(newID)
	shard.mu.Lock()
	shard.sessions[newID] = c
	shard.mu.Unlock()
	return c
}

// Get returns the conversation for id, or nil when absent or expired.
func (s *SessionStore) Get(id string) *domain.Conversation {
	shard := s.shardFor(id)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	c, ok := shard.sessions[id]
	if !ok || s.expired(c) {
		return nil
	}
	return c
}

// Sweep removes expired sessions and returns how many were evicted.
// Called periodically by the scheduler; safe to call at any time.
func (s *SessionStore) Sweep() int {
	evicted := 0
	for _, shard := range s.shards {
		shard.mu.Lock()
		for id, c := range shard.sessions {
			if s.expired(c) {
				delete(shard.sessions, id)
				evicted++
			}
		}
		shard.mu.Unlock()
	}
	if evicted > 0 {
		s.logger.Debug("session sweep", "evicted", evicted)
	}
	return evicted
}

// Len returns the number of live sessions. Only the tests call it.
func (s *SessionStore) Len() int {
	n := 0
	for _, shard := range s.shards {
		shard.mu.Lock()
		n += len(shard.sessions)
		shard.mu.Unlock()
	}
	return n
}
