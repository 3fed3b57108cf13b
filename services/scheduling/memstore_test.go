package scheduling

import (
	"context"
	"fmt"
	"sync"
)

// memStore is an in-memory Store used by the engine tests.
type memStore struct {
	mu         sync.Mutex
	sessions   map[uint]Session
	nextID     uint
	failUpdate map[uint]error
	failInsert error
	writes     int
}

func newMemStore(seed ...Session) *memStore {
	m := &memStore{sessions: make(map[uint]Session), failUpdate: make(map[uint]error)}
	for _, s := range seed {
		if s.ID == 0 {
			m.nextID++
			s.ID = m.nextID
		} else if s.ID > m.nextID {
			m.nextID = s.ID
		}
		m.sessions[s.ID] = s
	}
	return m
}

func (m *memStore) ListSessions(_ context.Context, f SessionFilter) ([]Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Session
	for _, s := range m.sessions {
		if f.Matches(s) {
			out = append(out, s)
		}
	}
	sortSessions(out)
	return out, nil
}

func (m *memStore) InsertSessions(_ context.Context, sessions []Session) ([]Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failInsert != nil {
		return nil, m.failInsert
	}
	out := make([]Session, 0, len(sessions))
	for _, s := range sessions {
		m.nextID++
		s.ID = m.nextID
		m.sessions[s.ID] = s
		out = append(out, s)
	}
	m.writes++
	return out, nil
}

func (m *memStore) UpdateSession(_ context.Context, id uint, p SessionPatch) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failUpdate[id]; err != nil {
		return Session{}, err
	}
	s, ok := m.sessions[id]
	if !ok {
		return Session{}, fmt.Errorf("%w: session %d", ErrNotFound, id)
	}
	if p.SessionDate != nil {
		s.SessionDate = *p.SessionDate
	}
	if p.StartTime != nil {
		s.StartTime = *p.StartTime
	}
	if p.EndTime != nil {
		s.EndTime = *p.EndTime
	}
	if p.VehicleID != nil {
		s.VehicleID = *p.VehicleID
	}
	if p.Status != nil {
		s.Status = *p.Status
	}
	if p.OriginalSessionID != nil {
		id := *p.OriginalSessionID
		s.OriginalSessionID = &id
	}
	m.sessions[s.ID] = s
	m.writes++
	return s, nil
}

func (m *memStore) DeleteSessions(_ context.Context, ids []uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.sessions, id)
	}
	m.writes++
	return nil
}

// Transaction snapshots the map and restores it when fn fails.
func (m *memStore) Transaction(ctx context.Context, fn func(tx Store) error) error {
	m.mu.Lock()
	snapshot := make(map[uint]Session, len(m.sessions))
	for k, v := range m.sessions {
		snapshot[k] = v
	}
	nextID := m.nextID
	m.mu.Unlock()

	if err := fn(m); err != nil {
		m.mu.Lock()
		m.sessions = snapshot
		m.nextID = nextID
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *memStore) all() []Session {
	out, _ := m.ListSessions(context.Background(), SessionFilter{})
	return out
}

// recordingSink keeps published events.
type recordingSink struct {
	mu     sync.Mutex
	events []SessionEvent
}

func (r *recordingSink) Publish(_ context.Context, ev SessionEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingSink) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventKind, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Kind)
	}
	return out
}
