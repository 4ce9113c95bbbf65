package gamestore

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for tests and ephemeral runs.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*SessionRecord
	turns    map[string][]TurnRecord
	endings  []*EndingRecord
	// seq breaks recency ties when saves land on the same millisecond.
	seq   int64
	order map[string]int64
}

var _ Store = &MemoryStore{}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: map[string]*SessionRecord{},
		turns:    map[string][]TurnRecord{},
		order:    map[string]int64{},
	}
}

func (m *MemoryStore) SaveSession(_ context.Context, rec *SessionRecord) error {
	if rec == nil || rec.SessionID == "" || rec.OwnerID == "" {
		return ErrNotFound
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	if cp.State != nil {
		cp.State = cp.State.Clone()
	}
	now := time.Now()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	m.sessions[rec.SessionID] = &cp
	m.seq++
	m.order[rec.SessionID] = m.seq
	return nil
}

func (m *MemoryStore) LoadSession(_ context.Context, sessionID, ownerID string) (*SessionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.sessions[sessionID]
	if !ok || rec.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	cp := *rec
	if cp.State != nil {
		cp.State = cp.State.Clone()
	}
	return &cp, nil
}

func (m *MemoryStore) ListSessions(_ context.Context, ownerID string) ([]*SessionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []*SessionRecord{}
	for _, rec := range m.sessions {
		if rec.OwnerID != ownerID {
			continue
		}
		cp := *rec
		if cp.State != nil {
			cp.State = cp.State.Clone()
		}
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return m.order[out[i].SessionID] > m.order[out[j].SessionID]
	})
	return out, nil
}

func (m *MemoryStore) DeleteSession(_ context.Context, sessionID, ownerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.sessions[sessionID]
	if !ok || rec.OwnerID != ownerID {
		return ErrNotFound
	}
	delete(m.sessions, sessionID)
	delete(m.turns, sessionID)
	delete(m.order, sessionID)
	for _, e := range m.endings {
		if e.SessionID != nil && *e.SessionID == sessionID {
			e.SessionID = nil
		}
	}
	return nil
}

func (m *MemoryStore) AppendTurn(_ context.Context, sessionID, role, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns[sessionID] = append(m.turns[sessionID], TurnRecord{
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
	})
	return nil
}

func (m *MemoryStore) History(_ context.Context, sessionID string) ([]TurnRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]TurnRecord{}, m.turns[sessionID]...), nil
}

func (m *MemoryStore) SaveEnding(_ context.Context, rec *EndingRecord) error {
	if rec == nil {
		return ErrNotFound
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	m.endings = append(m.endings, &cp)
	return nil
}

func (m *MemoryStore) ListEndings(_ context.Context, ownerID string) ([]*EndingRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []*EndingRecord{}
	for i := len(m.endings) - 1; i >= 0; i-- {
		if m.endings[i].OwnerID == ownerID {
			cp := *m.endings[i]
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryStore) Close() error { return nil }
