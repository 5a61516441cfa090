package jobqueue

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"

	"github.com/soyeahso/mailroom/internal/domain"
	"github.com/soyeahso/mailroom/internal/logging"
)

// TriageArgs is the River job that starts a thread for one email.
type TriageArgs struct {
	ThreadID string       `json:"thread_id"`
	Email    domain.Email `json:"email"`
}

// triageArgsFor builds the job for e. The thread id is fixed at insert
// time so every retry of the job re-drives the same thread.
func triageArgsFor(e domain.Email) TriageArgs {
	id := ThreadIDFor(e)
	if id == "" {
		id = uuid.NewString()
	}
	return TriageArgs{ThreadID: id, Email: e}
}

// Kind returns the job kind for River.
func (TriageArgs) Kind() string { return "mailroom_triage" }

// InsertOpts deduplicates jobs for the same thread.
func (TriageArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		MaxAttempts: 10,
		UniqueOpts:  river.UniqueOpts{ByArgs: true},
	}
}

type triageWorker struct {
	river.WorkerDefaults[TriageArgs]
	starter Starter
	log     *logging.Logger
}

// Work drives the thread until it suspends or terminates. Fatal workflow
// errors cancel the job; anything else is retried by River and picks up
// from the last checkpoint.
func (w *triageWorker) Work(ctx context.Context, job *river.Job[TriageArgs]) error {
	email := job.Args.Email
	out, err := startOrContinue(ctx, w.starter, job.Args.ThreadID, email)
	if err != nil {
		if domain.IsFatal(err) {
			w.log.Error().Err(err).Str("subject", email.Subject).Msg("triage job failed permanently")
			return river.JobCancel(err)
		}
		return fmt.Errorf("triage job: %w", err)
	}
	if out != nil {
		w.log.Info().
			Str("thread", out.ThreadID).
			Str("status", string(out.Status)).
			Msg("triage job done")
	}
	return nil
}

// Migrate applies River's schema to the database behind pool.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		return fmt.Errorf("creating river migrator: %w", err)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		return fmt.Errorf("migrating river schema: %w", err)
	}
	return nil
}

// RiverQueue is a durable queue of triage jobs on Postgres.
type RiverQueue struct {
	client *river.Client[pgx.Tx]
	log    *logging.Logger
}

// NewRiverQueue creates a queue whose workers hand jobs to starter.
func NewRiverQueue(pool *pgxpool.Pool, starter Starter, workers int, log *logging.Logger) (*RiverQueue, error) {
	if pool == nil {
		return nil, errors.New("river queue requires a postgres pool")
	}
	if workers <= 0 {
		workers = DefaultWorkers
	}
	log = log.Sub("river")

	ws := river.NewWorkers()
	if err := river.AddWorkerSafely(ws, &triageWorker{starter: starter, log: log}); err != nil {
		return nil, fmt.Errorf("registering triage worker: %w", err)
	}

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues:  map[string]river.QueueConfig{river.QueueDefault: {MaxWorkers: workers}},
		Workers: ws,
	})
	if err != nil {
		return nil, fmt.Errorf("creating river client: %w", err)
	}
	return &RiverQueue{client: client, log: log}, nil
}

// Start starts the queue workers.
func (q *RiverQueue) Start(ctx context.Context) error {
	return q.client.Start(ctx)
}

// Stop waits for running jobs and stops the workers.
func (q *RiverQueue) Stop(ctx context.Context) error {
	return q.client.Stop(ctx)
}

// Enqueue inserts one triage job per email.
func (q *RiverQueue) Enqueue(ctx context.Context, emails ...domain.Email) (int, error) {
	n := 0
	for _, e := range emails {
		res, err := q.client.Insert(ctx, triageArgsFor(e), nil)
		if err != nil {
			return n, fmt.Errorf("queueing %q: %w", e.Subject, err)
		}
		if !res.UniqueSkippedAsDuplicate {
			n++
		}
	}
	q.log.Info().Int("queued", n).Int("emails", len(emails)).Msg("triage jobs queued")
	return n, nil
}
