// Package jobqueue feeds inbound email into the workflow runner, either
// through an in-process worker pool or a durable River queue on Postgres.
package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/soyeahso/mailroom/internal/agent"
	"github.com/soyeahso/mailroom/internal/domain"
	"github.com/soyeahso/mailroom/internal/logging"
)

// DefaultWorkers is the pool size used when none is configured.
const DefaultWorkers = 4

// Starter starts or re-drives workflow threads. *agent.Runner implements it.
type Starter interface {
	Start(ctx context.Context, threadID string, email domain.Email) (*agent.Outcome, error)
	Continue(ctx context.Context, threadID string) (*agent.Outcome, error)
}

// ThreadIDFor derives a stable thread id for a mailbox email so that
// processing the same message twice finds the existing thread. Emails
// without an id get a generated thread id.
func ThreadIDFor(e domain.Email) string {
	if e.ID == "" {
		return ""
	}
	if e.Source == "" {
		return e.ID
	}
	return e.Source + ":" + e.ID
}

// startOrContinue starts thread id for e, or re-drives it when a previous
// attempt already created it.
func startOrContinue(ctx context.Context, s Starter, id string, e domain.Email) (*agent.Outcome, error) {
	out, err := s.Start(ctx, id, e)
	if !errors.Is(err, agent.ErrThreadExists) {
		return out, err
	}
	out, err = s.Continue(ctx, id)
	if errors.Is(err, agent.ErrThreadClosed) {
		return nil, nil
	}
	return out, err
}

// Result is the outcome of one email processed by a Pool.
type Result struct {
	Email   domain.Email
	Outcome *agent.Outcome // nil when the thread was already closed
	Err     error
}

// Pool processes a batch of emails concurrently with bounded workers.
type Pool struct {
	starter Starter
	workers int
	log     *logging.Logger
}

// NewPool creates a Pool.
func NewPool(starter Starter, workers int, log *logging.Logger) *Pool {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Pool{starter: starter, workers: workers, log: log.Sub("pool")}
}

// Process runs every email through the workflow. A failing thread is
// reported in its Result and does not stop the others; the returned error
// is only set when ctx ends before the batch does.
func (p *Pool) Process(ctx context.Context, emails []domain.Email) ([]Result, error) {
	results := make([]Result, len(emails))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)

	for i, e := range emails {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out, err := startOrContinue(gctx, p.starter, ThreadIDFor(e), e)

			mu.Lock()
			results[i] = Result{Email: e, Outcome: out, Err: err}
			mu.Unlock()

			ev := p.log.Info()
			if err != nil {
				ev = p.log.Warn().Err(err)
			}
			if out != nil {
				ev = ev.Str("thread", out.ThreadID).Str("status", string(out.Status))
			}
			ev.Str("email", e.ID).Str("subject", e.Subject).Msg("email processed")

			if ctxErr := gctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
				return ctxErr
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, fmt.Errorf("processing batch: %w", err)
	}
	return results, nil
}
