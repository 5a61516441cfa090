package jobqueue

import (
	"context"
	"fmt"
	"time"

	"github.com/soyeahso/mailroom/internal/domain"
	"github.com/soyeahso/mailroom/internal/logging"
)

// Fetcher is an inbound mail source. mailbox.Mailbox implements it.
type Fetcher interface {
	Fetch(ctx context.Context, max int) ([]domain.Email, error)
}

// Submitter hands a batch of emails to the workflow. Pool runs them
// inline; RiverQueue persists them as jobs.
type Submitter interface {
	Submit(ctx context.Context, emails []domain.Email) error
}

// Submit processes emails through the pool and logs a summary.
func (p *Pool) Submit(ctx context.Context, emails []domain.Email) error {
	results, err := p.Process(ctx, emails)
	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	p.log.Info().Int("emails", len(emails)).Int("failed", failed).Msg("batch processed")
	return err
}

// Submit queues one triage job per email.
func (q *RiverQueue) Submit(ctx context.Context, emails []domain.Email) error {
	_, err := q.Enqueue(ctx, emails...)
	return err
}

// Poller fetches unread mail on an interval and submits it. Emails that
// stay unread (awaiting review) are fetched again and resolve to their
// existing threads.
type Poller struct {
	source   Fetcher
	sink     Submitter
	max      int
	interval time.Duration
	log      *logging.Logger
}

// NewPoller creates a Poller fetching up to max emails per round.
func NewPoller(source Fetcher, sink Submitter, max int, interval time.Duration, log *logging.Logger) *Poller {
	if max <= 0 {
		max = 20
	}
	return &Poller{source: source, sink: sink, max: max, interval: interval, log: log.Sub("poller")}
}

// PollOnce fetches one batch and submits it, returning the batch size.
func (p *Poller) PollOnce(ctx context.Context) (int, error) {
	emails, err := p.source.Fetch(ctx, p.max)
	if err != nil {
		return 0, fmt.Errorf("fetching mail: %w", err)
	}
	if len(emails) == 0 {
		p.log.Debug().Msg("no new mail")
		return 0, nil
	}
	p.log.Info().Int("emails", len(emails)).Msg("fetched mail")
	if err := p.sink.Submit(ctx, emails); err != nil {
		return len(emails), err
	}
	return len(emails), nil
}

// Run polls until ctx is done. Round failures are logged and retried on
// the next tick.
func (p *Poller) Run(ctx context.Context) error {
	if p.interval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s", p.interval)
	}
	p.log.Info().Dur("interval", p.interval).Int("max", p.max).Msg("polling mailbox")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		if _, err := p.PollOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			p.log.Warn().Err(err).Msg("poll failed")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
