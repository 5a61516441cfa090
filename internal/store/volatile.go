package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/soyeahso/mailroom/internal/domain"
)

// VolatileCheckpoints is an in-process CheckpointStore. States are kept in
// encoded form so callers never share memory with the store.
type VolatileCheckpoints struct {
	mu      sync.RWMutex
	threads map[string][]byte
}

// NewVolatileCheckpoints creates an empty in-memory checkpoint store.
func NewVolatileCheckpoints() *VolatileCheckpoints {
	return &VolatileCheckpoints{threads: make(map[string][]byte)}
}

func (s *VolatileCheckpoints) Save(_ context.Context, threadID string, state *domain.ConversationState) error {
	data, err := encodeState(threadID, state)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threads[threadID] = data
	return nil
}

func (s *VolatileCheckpoints) Load(_ context.Context, threadID string) (*domain.ConversationState, error) {
	s.mu.RLock()
	data, ok := s.threads[threadID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return decodeState(data)
}

func (s *VolatileCheckpoints) List(_ context.Context, filter ListFilter) ([]ThreadSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ThreadSummary, 0, len(s.threads))
	for _, data := range s.threads {
		st, err := decodeState(data)
		if err != nil {
			return nil, err
		}
		if filter.Status != "" && st.Status != filter.Status {
			continue
		}
		out = append(out, summarize(st))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if len(out) > filter.limit() {
		out = out[:filter.limit()]
	}
	return out, nil
}

// VolatileMemory is an in-process MemoryStore.
type VolatileMemory struct {
	mu      sync.Mutex
	records map[domain.Namespace]MemoryRecord
}

// NewVolatileMemory creates an empty in-memory preference store.
func NewVolatileMemory() *VolatileMemory {
	return &VolatileMemory{records: make(map[domain.Namespace]MemoryRecord)}
}

func (m *VolatileMemory) Get(_ context.Context, ns domain.Namespace, def string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.records[ns]; ok {
		return rec.Text, nil
	}
	m.records[ns] = MemoryRecord{Namespace: ns, Text: def, UpdatedAt: time.Now().UTC()}
	return def, nil
}

func (m *VolatileMemory) Put(_ context.Context, ns domain.Namespace, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[ns] = MemoryRecord{Namespace: ns, Text: text, UpdatedAt: time.Now().UTC()}
	return nil
}

func (m *VolatileMemory) List(_ context.Context) ([]MemoryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MemoryRecord, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Namespace.String() < out[j].Namespace.String() })
	return out, nil
}

func (m *VolatileMemory) Delete(_ context.Context, ns domain.Namespace) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, ns)
	return nil
}
