package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mfalda/parla/internal/mode"
)

var ErrNotFound = errors.New("session not found")

// Message is one conversational turn entry.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Session holds the state of one ongoing conversation.
type Session struct {
	ID             string    `json:"session_id"`
	Mode           mode.Mode `json:"mode"`
	VoiceID        string    `json:"voice_id"`
	Language       string    `json:"language"`
	Messages       []Message `json:"messages"`
	ExchangeCount  int       `json:"exchange_count"`
	Generating     bool      `json:"generating"`
	StartedAt      time.Time `json:"started_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// Store persists per-conversation state. Distinct sessions are fully
// independent; implementations must keep concurrent access on the same key
// from corrupting a record.
type Store interface {
	Get(ctx context.Context, id string) (*Session, error)
	Put(ctx context.Context, s *Session) error
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
	SweepExpired(ctx context.Context, timeout time.Duration) (int, error)
}

// MemoryStore is the in-process backend, also used as the fail-open fallback
// when Redis is unreachable.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*Session)}
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(s), nil
}

func (m *MemoryStore) Put(_ context.Context, s *Session) error {
	now := time.Now().UTC()
	m.mu.Lock()
	defer m.mu.Unlock()
	c := clone(s)
	c.LastActivityAt = now
	if c.StartedAt.IsZero() {
		c.StartedAt = now
	}
	m.sessions[c.ID] = c
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

func (m *MemoryStore) Count(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions), nil
}

func (m *MemoryStore) SweepExpired(_ context.Context, timeout time.Duration) (int, error) {
	now := time.Now().UTC()
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, s := range m.sessions {
		if now.Sub(s.LastActivityAt) > timeout {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed, nil
}

// StartJanitor sweeps expired sessions until ctx is done.
func StartJanitor(ctx context.Context, store Store, timeout, interval time.Duration, onExpire func(removed int)) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				removed, err := store.SweepExpired(ctx, timeout)
				if err == nil && removed > 0 && onExpire != nil {
					onExpire(removed)
				}
			}
		}
	}()
}

func clone(s *Session) *Session {
	c := *s
	c.Messages = append([]Message(nil), s.Messages...)
	return &c
}
