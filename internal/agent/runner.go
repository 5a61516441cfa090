// Package agent runs the email workflow: triage, the generate/dispatch
// response loop, human review of tool calls and preference distillation.
//
// Every thread is a sequential state machine persisted after each node.
// A thread waiting on a reviewer holds no goroutine; Resume reloads it from
// the checkpoint store, possibly in another process.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/soyeahso/mailroom/internal/domain"
	"github.com/soyeahso/mailroom/internal/hooks"
	"github.com/soyeahso/mailroom/internal/llm"
	"github.com/soyeahso/mailroom/internal/logging"
	"github.com/soyeahso/mailroom/internal/store"
	"github.com/soyeahso/mailroom/internal/tools"
)

// DefaultMaxSteps bounds node executions per thread.
const DefaultMaxSteps = 100

var (
	// ErrThreadExists is returned by Start for a thread id already in use.
	ErrThreadExists = errors.New("thread already exists")

	// ErrNotSuspended is returned when a thread has no pending review.
	ErrNotSuspended = errors.New("thread is not awaiting review")

	// ErrThreadClosed is returned when driving a completed or failed thread.
	ErrThreadClosed = errors.New("thread is closed")

	// ErrMaxSteps fails a thread that never reaches a terminal node.
	ErrMaxSteps = errors.New("maximum workflow steps exceeded")
)

// MarkReader marks a mailbox message as processed.
type MarkReader interface {
	MarkRead(ctx context.Context, id string) error
}

// Deps are the collaborators a Runner is built from.
type Deps struct {
	Client      llm.Client
	Tools       *tools.Registry
	Memory      store.MemoryStore
	Checkpoints store.CheckpointStore
	Mailbox     MarkReader     // optional
	Hooks       *hooks.Manager // optional
}

// Options tune a Runner.
type Options struct {
	MaxSteps    int
	MaxTokens   int
	Temperature float64
	Now         func() time.Time
}

// Outcome is what a driver run hands back to its caller.
type Outcome struct {
	ThreadID       string                    `json:"threadId"`
	Status         domain.Status             `json:"status"`
	Classification domain.Classification     `json:"classification,omitempty"`
	Interrupt      []domain.InterruptRequest `json:"interrupt,omitempty"`
	Executed       []domain.ExecutedCall     `json:"executed,omitempty"`
	Error          string                    `json:"error,omitempty"`
}

// Runner drives threads through the workflow graph.
type Runner struct {
	client      llm.Client
	tools       *tools.Registry
	memory      store.MemoryStore
	checkpoints store.CheckpointStore
	mailbox     MarkReader
	hooks       *hooks.Manager
	distiller   *Distiller
	opts        Options
	log         *logging.Logger

	mu    sync.Mutex
	locks map[string]*threadLock
}

type threadLock struct {
	mu   sync.Mutex
	refs int
}

// NewRunner creates a Runner.
func NewRunner(deps Deps, opts Options, log *logging.Logger) (*Runner, error) {
	switch {
	case deps.Client == nil:
		return nil, errors.New("agent: model client is required")
	case deps.Tools == nil:
		return nil, errors.New("agent: tool registry is required")
	case deps.Memory == nil:
		return nil, errors.New("agent: memory store is required")
	case deps.Checkpoints == nil:
		return nil, errors.New("agent: checkpoint store is required")
	}
	if opts.MaxSteps <= 0 {
		opts.MaxSteps = DefaultMaxSteps
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	log = log.Sub("agent")
	return &Runner{
		client:      deps.Client,
		tools:       deps.Tools,
		memory:      deps.Memory,
		checkpoints: deps.Checkpoints,
		mailbox:     deps.Mailbox,
		hooks:       deps.Hooks,
		distiller:   NewDistiller(deps.Client, deps.Memory, deps.Hooks, opts.MaxTokens, log),
		opts:        opts,
		log:         log,
		locks:       make(map[string]*threadLock),
	}, nil
}

// lock serializes driver runs on one thread. The returned func releases it.
func (r *Runner) lock(threadID string) func() {
	r.mu.Lock()
	l, ok := r.locks[threadID]
	if !ok {
		l = &threadLock{}
		r.locks[threadID] = l
	}
	l.refs++
	r.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		r.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(r.locks, threadID)
		}
		r.mu.Unlock()
	}
}

// Start creates a thread for email and drives it until it suspends or
// terminates. An empty threadID gets a generated one.
func (r *Runner) Start(ctx context.Context, threadID string, email domain.Email) (*Outcome, error) {
	if err := email.Validate(); err != nil {
		return nil, err
	}
	if threadID == "" {
		threadID = uuid.NewString()
	}
	unlock := r.lock(threadID)
	defer unlock()

	if _, err := r.checkpoints.Load(ctx, threadID); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrThreadExists, threadID)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("loading thread %s: %w", threadID, err)
	}

	st := domain.NewConversationState(threadID, email)
	if err := r.save(ctx, st); err != nil {
		return nil, err
	}
	r.log.Info().
		Str("thread", threadID).
		Str("from", email.From).
		Str("subject", email.Subject).
		Msg("thread started")
	r.hooks.Emit(ctx, hooks.EventThreadStarted, map[string]any{
		"thread":  threadID,
		"from":    email.From,
		"subject": email.Subject,
	})
	return r.drive(ctx, st, nil)
}

// Resume applies a reviewer verdict to a suspended thread and drives it
// on.
func (r *Runner) Resume(ctx context.Context, threadID string, resp domain.InterruptResponse) (*Outcome, error) {
	unlock := r.lock(threadID)
	defer unlock()

	st, err := r.load(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if st.Status != domain.StatusAwaitingReview || st.Pending == nil {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotSuspended, threadID, st.Status)
	}
	if err := resp.Validate(); err != nil {
		return r.fail(ctx, st, err)
	}

	r.log.Info().
		Str("thread", threadID).
		Str("verdict", string(resp.Type)).
		Str("node", string(st.Node)).
		Msg("resuming thread")
	r.hooks.Emit(ctx, hooks.EventThreadResumed, map[string]any{
		"thread":  threadID,
		"verdict": string(resp.Type),
	})
	st.Status = domain.StatusRunning
	return r.drive(ctx, st, &resp)
}

// Continue re-drives a running thread from its last checkpoint, e.g. after
// a model outage interrupted it.
func (r *Runner) Continue(ctx context.Context, threadID string) (*Outcome, error) {
	unlock := r.lock(threadID)
	defer unlock()

	st, err := r.load(ctx, threadID)
	if err != nil {
		return nil, err
	}
	switch st.Status {
	case domain.StatusRunning:
		return r.drive(ctx, st, nil)
	case domain.StatusAwaitingReview:
		return r.outcome(st), nil
	default:
		return nil, fmt.Errorf("%w: %s is %s", ErrThreadClosed, threadID, st.Status)
	}
}

// Get returns the persisted state of a thread.
func (r *Runner) Get(ctx context.Context, threadID string) (*domain.ConversationState, error) {
	return r.load(ctx, threadID)
}

// Interrupt rebuilds the pending InterruptRequest of a suspended thread
// from its checkpoint.
func (r *Runner) Interrupt(ctx context.Context, threadID string) ([]domain.InterruptRequest, error) {
	st, err := r.load(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if st.Status != domain.StatusAwaitingReview || st.Pending == nil {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotSuspended, threadID, st.Status)
	}
	return r.interruptFor(st)
}

// List returns thread summaries.
func (r *Runner) List(ctx context.Context, filter store.ListFilter) ([]store.ThreadSummary, error) {
	return r.checkpoints.List(ctx, filter)
}

func (r *Runner) load(ctx context.Context, threadID string) (*domain.ConversationState, error) {
	st, err := r.checkpoints.Load(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("loading thread %s: %w", threadID, err)
	}
	return st, nil
}

func (r *Runner) save(ctx context.Context, st *domain.ConversationState) error {
	st.UpdatedAt = r.opts.Now().UTC()
	if err := r.checkpoints.Save(ctx, st.ThreadID, st); err != nil {
		return fmt.Errorf("saving thread %s: %w", st.ThreadID, err)
	}
	return nil
}

func (r *Runner) outcome(st *domain.ConversationState) *Outcome {
	out := &Outcome{
		ThreadID:       st.ThreadID,
		Status:         st.Status,
		Classification: st.Classification,
		Executed:       st.Executed,
		Error:          st.Error,
	}
	if st.Status == domain.StatusAwaitingReview {
		if req, err := r.interruptFor(st); err == nil {
			out.Interrupt = req
		}
	}
	return out
}
