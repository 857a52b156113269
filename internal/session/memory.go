package session

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// MemoryStore is the process-wide in-memory Store. Records are copied on the
// way in and out so no caller holds a reference to stored state.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	now      func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
}

func (m *MemoryStore) Put(_ context.Context, id string, data *Session) error {
	if data == nil {
		return ErrNilSession
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.sessions[id] = data.Clone()
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok || s.IsExpired(m.now()) {
		return nil, nil
	}
	return s.Clone(), nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions, id)
	return nil
}

func (m *MemoryStore) Ping(context.Context) error {
	return nil
}

// Len returns the number of stored records, expired ones included.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Prune drops every record expired at now and returns how many were removed.
func (m *MemoryStore) Prune(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, s := range m.sessions {
		if s.IsExpired(now) {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed
}

// RunJanitor prunes expired records every interval until ctx is done.
func (m *MemoryStore) RunJanitor(ctx context.Context, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Prune(m.now()); n > 0 && logger != nil {
				logger.Debug("pruned expired sessions", slog.Int("count", n))
			}
		}
	}
}
