package registry

import (
	"context"
	"sort"
	"sync"
)

// MemoryBackend keeps the registry in process memory. It serves tests and
// the single-process development setup.
type MemoryBackend struct {
	mu     sync.RWMutex
	byConn map[string]Connection
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{byConn: make(map[string]Connection)}
}

func (m *MemoryBackend) Open(context.Context) (Session, error) {
	return memorySession{m}, nil
}

func (m *MemoryBackend) Close() error { return nil }

// Len returns the number of records.
func (m *MemoryBackend) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byConn)
}

type memorySession struct {
	m *MemoryBackend
}

func (s memorySession) Close() error { return nil }

func (s memorySession) DeleteByUser(_ context.Context, userID string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for id, c := range s.m.byConn {
		if c.UserID == userID {
			delete(s.m.byConn, id)
		}
	}
	return nil
}

func (s memorySession) Insert(_ context.Context, c Connection) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	s.m.byConn[c.ConnectionID] = c
	return nil
}

func (s memorySession) DeleteByConnection(_ context.Context, connectionID string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	delete(s.m.byConn, connectionID)
	return nil
}

func (s memorySession) UserByConnection(_ context.Context, connectionID string) (string, bool, error) {
	s.m.mu.RLock()
	defer s.m.mu.RUnlock()
	c, ok := s.m.byConn[connectionID]
	return c.UserID, ok, nil
}

func (s memorySession) List(context.Context) ([]Connection, error) {
	s.m.mu.RLock()
	out := make([]Connection, 0, len(s.m.byConn))
	for _, c := range s.m.byConn {
		out = append(out, c)
	}
	s.m.mu.RUnlock()
	sortConnections(out)
	return out, nil
}

func sortConnections(list []Connection) {
	sort.Slice(list, func(i, j int) bool {
		if !list[i].ConnectedAt.Equal(list[j].ConnectedAt) {
			return list[i].ConnectedAt.Before(list[j].ConnectedAt)
		}
		return list[i].ConnectionID < list[j].ConnectionID
	})
}
