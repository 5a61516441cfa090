package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/soyeahso/mailroom/internal/domain"
	"github.com/soyeahso/mailroom/internal/hooks"
)

// Step is the result of running one node: messages folded into the
// transcript through domain.ApplyMessage, and where to go next.
type Step struct {
	Messages []domain.Message
	Next     domain.Node

	// Suspend parks the thread on Next until a verdict arrives.
	Suspend *domain.PendingReview

	// Status is the terminal status when Next is NodeEnd. Zero means
	// completed.
	Status domain.Status
}

// nodeFunc runs one node. verdict is non-nil only for the first node of a
// Resume run.
type nodeFunc func(ctx context.Context, st *domain.ConversationState, verdict *domain.InterruptResponse) (Step, error)

func (r *Runner) node(n domain.Node) (nodeFunc, error) {
	switch n {
	case domain.NodeTriage:
		return r.triage, nil
	case domain.NodeTriageReview:
		return r.triageReview, nil
	case domain.NodeGenerate:
		return r.generate, nil
	case domain.NodeDispatch:
		return r.dispatch, nil
	case domain.NodeReview:
		return r.review, nil
	case domain.NodeMarkRead:
		return r.markRead, nil
	default:
		return nil, fmt.Errorf("unknown workflow node %q", n)
	}
}

// drive runs nodes until the thread suspends, terminates or a step fails.
// State is saved after every transition and before a suspension is
// returned.
func (r *Runner) drive(ctx context.Context, st *domain.ConversationState, verdict *domain.InterruptResponse) (*Outcome, error) {
	for {
		if st.Status.Terminal() {
			return r.outcome(st), nil
		}
		if st.Steps >= r.opts.MaxSteps {
			return r.fail(ctx, st, fmt.Errorf("%w (%d)", ErrMaxSteps, r.opts.MaxSteps))
		}

		fn, err := r.node(st.Node)
		if err != nil {
			return r.fail(ctx, st, err)
		}

		r.log.Debug().
			Str("thread", st.ThreadID).
			Str("node", string(st.Node)).
			Int("step", st.Steps).
			Msg("running node")

		step, err := fn(ctx, st, verdict)
		verdict = nil
		if err != nil {
			if domain.IsFatal(err) {
				return r.fail(ctx, st, err)
			}
			// Transient: the last checkpoint stays authoritative and the
			// thread can be continued.
			return nil, fmt.Errorf("thread %s at %s: %w", st.ThreadID, st.Node, err)
		}

		tr, err := domain.ApplyMessages(st.Transcript, step.Messages...)
		if err != nil {
			return r.fail(ctx, st, err)
		}
		st.Transcript = tr
		st.Steps++

		if step.Suspend != nil {
			return r.suspend(ctx, st, step)
		}

		st.Pending = nil
		st.Node = step.Next
		if st.Node == domain.NodeEnd {
			status := step.Status
			if status == "" {
				status = domain.StatusCompleted
			}
			return r.finish(ctx, st, status)
		}
		if err := r.save(ctx, st); err != nil {
			return nil, err
		}
	}
}

func (r *Runner) suspend(ctx context.Context, st *domain.ConversationState, step Step) (*Outcome, error) {
	pending := *step.Suspend
	pending.Since = r.opts.Now().UTC()
	st.Pending = &pending
	st.Node = step.Next
	st.Status = domain.StatusAwaitingReview

	req, err := r.interruptFor(st)
	if err != nil {
		return r.fail(ctx, st, err)
	}
	if err := r.save(ctx, st); err != nil {
		return nil, err
	}

	r.log.Info().
		Str("thread", st.ThreadID).
		Str("action", req[0].ActionRequest.Action).
		Msg("thread suspended for review")
	r.hooks.Emit(ctx, hooks.EventThreadSuspended, map[string]any{
		"thread":  st.ThreadID,
		"action":  req[0].ActionRequest.Action,
		"subject": st.Email.Subject,
	})
	return &Outcome{
		ThreadID:       st.ThreadID,
		Status:         st.Status,
		Classification: st.Classification,
		Interrupt:      req,
		Executed:       st.Executed,
	}, nil
}

func (r *Runner) finish(ctx context.Context, st *domain.ConversationState, status domain.Status) (*Outcome, error) {
	st.Archive(status)
	if err := r.save(ctx, st); err != nil {
		return nil, err
	}
	r.log.Info().
		Str("thread", st.ThreadID).
		Str("classification", string(st.Classification)).
		Int("executed", len(st.Executed)).
		Msg("thread completed")
	r.hooks.Emit(ctx, hooks.EventThreadCompleted, map[string]any{
		"thread":         st.ThreadID,
		"classification": string(st.Classification),
		"executed":       len(st.Executed),
	})
	return r.outcome(st), nil
}

// fail archives the thread as failed and returns cause wrapped. If the
// failure cannot be persisted the save error is joined to cause.
func (r *Runner) fail(ctx context.Context, st *domain.ConversationState, cause error) (*Outcome, error) {
	st.Error = cause.Error()
	st.Archive(domain.StatusFailed)

	r.log.Error().
		Err(cause).
		Str("thread", st.ThreadID).
		Msg("thread failed")

	if err := r.save(ctx, st); err != nil {
		return nil, errors.Join(fmt.Errorf("thread %s failed: %w", st.ThreadID, cause), err)
	}
	r.hooks.Emit(ctx, hooks.EventThreadFailed, map[string]any{
		"thread": st.ThreadID,
		"error":  cause.Error(),
	})
	return r.outcome(st), fmt.Errorf("thread %s failed: %w", st.ThreadID, cause)
}
