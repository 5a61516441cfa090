package store

import (
	"context"
	"errors"

	"github.com/soyeahso/mailroom/internal/domain"
	"github.com/soyeahso/mailroom/internal/logging"
	"github.com/soyeahso/mailroom/internal/retry"
)

// RetryingCheckpoints retries a CheckpointStore with backoff. ErrNotFound
// and invalid input are returned without retrying.
type RetryingCheckpoints struct {
	next CheckpointStore
	cfg  retry.Config
	log  *logging.Logger
}

// WithCheckpointRetry wraps cs with retries.
func WithCheckpointRetry(cs CheckpointStore, cfg retry.Config, log *logging.Logger) *RetryingCheckpoints {
	return &RetryingCheckpoints{next: cs, cfg: cfg, log: log.Sub("store.retry")}
}

func (r *RetryingCheckpoints) Save(ctx context.Context, threadID string, state *domain.ConversationState) error {
	if _, err := encodeState(threadID, state); err != nil {
		return err
	}
	return retry.Do(ctx, r.cfg, r.log, "checkpoint.save", func(ctx context.Context) error {
		return r.next.Save(ctx, threadID, state)
	})
}

func (r *RetryingCheckpoints) Load(ctx context.Context, threadID string) (*domain.ConversationState, error) {
	var out *domain.ConversationState
	err := retry.Do(ctx, r.cfg, r.log, "checkpoint.load", func(ctx context.Context) error {
		s, err := r.next.Load(ctx, threadID)
		if errors.Is(err, ErrNotFound) {
			return retry.Permanent(err)
		}
		out = s
		return err
	})
	return out, err
}

func (r *RetryingCheckpoints) List(ctx context.Context, filter ListFilter) ([]ThreadSummary, error) {
	var out []ThreadSummary
	err := retry.Do(ctx, r.cfg, r.log, "checkpoint.list", func(ctx context.Context) error {
		s, err := r.next.List(ctx, filter)
		out = s
		return err
	})
	return out, err
}

// RetryingMemory retries a MemoryStore with backoff.
type RetryingMemory struct {
	next MemoryStore
	cfg  retry.Config
	log  *logging.Logger
}

// WithMemoryRetry wraps ms with retries.
func WithMemoryRetry(ms MemoryStore, cfg retry.Config, log *logging.Logger) *RetryingMemory {
	return &RetryingMemory{next: ms, cfg: cfg, log: log.Sub("store.retry")}
}

func (r *RetryingMemory) Get(ctx context.Context, ns domain.Namespace, def string) (string, error) {
	var out string
	err := retry.Do(ctx, r.cfg, r.log, "memory.get", func(ctx context.Context) error {
		s, err := r.next.Get(ctx, ns, def)
		out = s
		return err
	})
	return out, err
}

func (r *RetryingMemory) Put(ctx context.Context, ns domain.Namespace, text string) error {
	return retry.Do(ctx, r.cfg, r.log, "memory.put", func(ctx context.Context) error {
		return r.next.Put(ctx, ns, text)
	})
}

// List delegates to the wrapped store when it supports administration.
func (r *RetryingMemory) List(ctx context.Context) ([]MemoryRecord, error) {
	admin, ok := r.next.(MemoryAdmin)
	if !ok {
		return nil, errors.ErrUnsupported
	}
	var out []MemoryRecord
	err := retry.Do(ctx, r.cfg, r.log, "memory.list", func(ctx context.Context) error {
		s, err := admin.List(ctx)
		out = s
		return err
	})
	return out, err
}

// Delete delegates to the wrapped store when it supports administration.
func (r *RetryingMemory) Delete(ctx context.Context, ns domain.Namespace) error {
	admin, ok := r.next.(MemoryAdmin)
	if !ok {
		return errors.ErrUnsupported
	}
	return retry.Do(ctx, r.cfg, r.log, "memory.delete", func(ctx context.Context) error {
		return admin.Delete(ctx, ns)
	})
}
