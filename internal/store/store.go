// Package store persists thread checkpoints and preference memory.
//
// Three backends implement the same two contracts: a volatile in-process
// store, SQLite (modernc.org/sqlite) and Postgres (pgx). Retrying wraps any
// of them with backoff so transient persistence failures never lose a
// parked thread.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/soyeahso/mailroom/internal/domain"
)

// ErrNotFound is returned when no checkpoint exists for a thread.
var ErrNotFound = errors.New("not found")

// MemoryStore holds one free-text preference record per namespace.
type MemoryStore interface {
	// Get returns the stored text, or stores def and returns it when the
	// namespace has never been written.
	Get(ctx context.Context, ns domain.Namespace, def string) (string, error)

	// Put overwrites the namespace.
	Put(ctx context.Context, ns domain.Namespace, text string) error
}

// MemoryAdmin is implemented by memory stores that support listing and
// resetting records.
type MemoryAdmin interface {
	List(ctx context.Context) ([]MemoryRecord, error)
	Delete(ctx context.Context, ns domain.Namespace) error
}

// MemoryRecord is a stored preference blob.
type MemoryRecord struct {
	Namespace domain.Namespace `json:"namespace"`
	Text      string           `json:"text"`
	UpdatedAt time.Time        `json:"updatedAt"`
}

// CheckpointStore persists ConversationState snapshots by thread id.
type CheckpointStore interface {
	Save(ctx context.Context, threadID string, state *domain.ConversationState) error
	Load(ctx context.Context, threadID string) (*domain.ConversationState, error)
	List(ctx context.Context, filter ListFilter) ([]ThreadSummary, error)
}

// ListFilter narrows checkpoint listings. Zero values match everything.
type ListFilter struct {
	Status domain.Status
	Limit  int
}

func (f ListFilter) limit() int {
	if f.Limit <= 0 {
		return 100
	}
	return f.Limit
}

// ThreadSummary is the listing view of a checkpoint.
type ThreadSummary struct {
	ThreadID       string                `json:"threadId"`
	Status         domain.Status         `json:"status"`
	Node           domain.Node           `json:"node"`
	Classification domain.Classification `json:"classification"`
	Subject        string                `json:"subject"`
	From           string                `json:"from"`
	UpdatedAt      time.Time             `json:"updatedAt"`
	ArchivedAt     *time.Time            `json:"archivedAt,omitempty"`
}

func summarize(s *domain.ConversationState) ThreadSummary {
	return ThreadSummary{
		ThreadID:       s.ThreadID,
		Status:         s.Status,
		Node:           s.Node,
		Classification: s.Classification,
		Subject:        s.Email.Subject,
		From:           s.Email.From,
		UpdatedAt:      s.UpdatedAt,
		ArchivedAt:     s.ArchivedAt,
	}
}

func encodeState(threadID string, s *domain.ConversationState) ([]byte, error) {
	if s == nil {
		return nil, fmt.Errorf("nil state for thread %s", threadID)
	}
	if s.ThreadID != threadID {
		return nil, fmt.Errorf("state thread id %q does not match %q", s.ThreadID, threadID)
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encoding checkpoint: %w", err)
	}
	return data, nil
}

func decodeState(data []byte) (*domain.ConversationState, error) {
	var s domain.ConversationState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decoding checkpoint: %w", err)
	}
	return &s, nil
}
