package store

import (
	"context"
	"slices"
	"sync"
)

type memoryBackend struct {
	mu       sync.RWMutex
	sessions map[int64]string
	blocked  map[int64]struct{}
	threads  map[int64][]int
}

// NewMemory returns a Backend that keeps state in process memory.
func NewMemory() Backend {
	return &memoryBackend{
		sessions: make(map[int64]string),
		blocked:  make(map[int64]struct{}),
		threads:  make(map[int64][]int),
	}
}

func (m *memoryBackend) GetSession(_ context.Context, userID int64) (Session, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ref, ok := m.sessions[userID]
	if !ok {
		return Session{}, false, nil
	}
	return Session{UserID: userID, ProductRef: ref}, true, nil
}

func (m *memoryBackend) ListSessions(_ context.Context) (map[int64]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[int64]string, len(m.sessions))
	for id, ref := range m.sessions {
		out[id] = ref
	}
	return out, nil
}

func (m *memoryBackend) UpsertSession(_ context.Context, userID int64, productRef string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, existed := m.sessions[userID]
	m.sessions[userID] = productRef
	return !existed, nil
}

func (m *memoryBackend) DeleteSession(_ context.Context, userID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[userID]; !ok {
		return false, nil
	}
	delete(m.sessions, userID)
	return true, nil
}

func (m *memoryBackend) IsBlocked(_ context.Context, userID int64) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.blocked[userID]
	return ok, nil
}

func (m *memoryBackend) ListBlocked(_ context.Context) ([]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]int64, 0, len(m.blocked))
	for id := range m.blocked {
		out = append(out, id)
	}
	slices.Sort(out)
	return out, nil
}

func (m *memoryBackend) AddBlocked(_ context.Context, userID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.blocked[userID]; ok {
		return false, nil
	}
	m.blocked[userID] = struct{}{}
	return true, nil
}

func (m *memoryBackend) DeleteBlocked(_ context.Context, userID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.blocked[userID]; !ok {
		return false, nil
	}
	delete(m.blocked, userID)
	return true, nil
}

func (m *memoryBackend) ListThread(_ context.Context, userID int64) ([]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.threads[userID]), nil
}

func (m *memoryBackend) AppendThread(_ context.Context, userID int64, handle int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if slices.Contains(m.threads[userID], handle) {
		return false, nil
	}
	m.threads[userID] = append(m.threads[userID], handle)
	return true, nil
}

func (m *memoryBackend) ClearThread(_ context.Context, userID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.threads[userID])
	delete(m.threads, userID)
	return n, nil
}

func (m *memoryBackend) Close() error { return nil }
