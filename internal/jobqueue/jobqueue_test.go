package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/riverqueue/river"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/soyeahso/mailroom/internal/agent"
	"github.com/soyeahso/mailroom/internal/domain"
	"github.com/soyeahso/mailroom/internal/logging"
	"github.com/soyeahso/mailroom/internal/mailbox"
	"github.com/soyeahso/mailroom/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeStarter struct {
	mu        sync.Mutex
	started   map[string]bool
	closed    map[string]bool
	inflight  atomic.Int32
	peak      atomic.Int32
	delay     time.Duration
	failWith  map[string]error
	continued []string
}

func newFakeStarter() *fakeStarter {
	return &fakeStarter{started: map[string]bool{}, closed: map[string]bool{}, failWith: map[string]error{}}
}

func (f *fakeStarter) Start(ctx context.Context, threadID string, e domain.Email) (*agent.Outcome, error) {
	n := f.inflight.Add(1)
	defer f.inflight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.started[threadID] {
		return nil, fmt.Errorf("%w: %s", agent.ErrThreadExists, threadID)
	}
	f.started[threadID] = true
	if err := f.failWith[e.Subject]; err != nil {
		return nil, err
	}
	return &agent.Outcome{ThreadID: threadID, Status: domain.StatusCompleted}, nil
}

func (f *fakeStarter) Continue(_ context.Context, threadID string) (*agent.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.continued = append(f.continued, threadID)
	if f.closed[threadID] {
		return nil, fmt.Errorf("%w: %s", agent.ErrThreadClosed, threadID)
	}
	return &agent.Outcome{ThreadID: threadID, Status: domain.StatusAwaitingReview}, nil
}

func emails(n int) []domain.Email {
	out := make([]domain.Email, n)
	for i := range out {
		out[i] = domain.Email{
			ID:      fmt.Sprintf("m-%d", i),
			Source:  "memory",
			From:    "a@example.com",
			Subject: fmt.Sprintf("subject %d", i),
		}
	}
	return out
}

func TestThreadIDFor(t *testing.T) {
	assert.Equal(t, "gmail:abc", ThreadIDFor(domain.Email{ID: "abc", Source: "gmail"}))
	assert.Equal(t, "abc", ThreadIDFor(domain.Email{ID: "abc"}))
	assert.Equal(t, "", ThreadIDFor(domain.Email{}))
}

func TestPool_ProcessesAllWithBoundedWorkers(t *testing.T) {
	s := newFakeStarter()
	s.delay = 10 * time.Millisecond
	s.failWith["subject 3"] = domain.Fatalf(domain.FatalClassification, "bad")

	p := NewPool(s, 2, logging.New(nil, "silent"))
	results, err := p.Process(context.Background(), emails(6))
	require.NoError(t, err)
	require.Len(t, results, 6)

	for i, r := range results {
		assert.Equal(t, fmt.Sprintf("m-%d", i), r.Email.ID)
		if i == 3 {
			assert.True(t, domain.IsFatal(r.Err))
			continue
		}
		require.NoError(t, r.Err)
		assert.Equal(t, "memory:"+r.Email.ID, r.Outcome.ThreadID)
	}
	assert.LessOrEqual(t, s.peak.Load(), int32(2))
}

func TestPool_ExistingThreadIsContinued(t *testing.T) {
	s := newFakeStarter()
	batch := emails(2)
	s.started["memory:m-0"] = true
	s.started["memory:m-1"] = true
	s.closed["memory:m-1"] = true

	results, err := NewPool(s, 1, logging.New(nil, "silent")).Process(context.Background(), batch)
	require.NoError(t, err)
	require.NotNil(t, results[0].Outcome)
	assert.Equal(t, domain.StatusAwaitingReview, results[0].Outcome.Status)
	assert.NoError(t, results[1].Err)
	assert.Nil(t, results[1].Outcome)
	assert.ElementsMatch(t, []string{"memory:m-0", "memory:m-1"}, s.continued)
}

func TestPool_CanceledContext(t *testing.T) {
	s := newFakeStarter()
	s.delay = time.Second
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewPool(s, 2, logging.New(nil, "silent")).Process(ctx, emails(3))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTriageWorker(t *testing.T) {
	s := newFakeStarter()
	s.failWith["bad"] = domain.Fatalf(domain.FatalClassification, "nope")
	s.failWith["flaky"] = fmt.Errorf("model unavailable")
	w := &triageWorker{starter: s, log: logging.New(nil, "silent")}
	ctx := context.Background()

	err := w.Work(ctx, &river.Job[TriageArgs]{Args: TriageArgs{ThreadID: "t-1", Email: domain.Email{Subject: "ok"}}})
	assert.NoError(t, err)

	err = w.Work(ctx, &river.Job[TriageArgs]{Args: TriageArgs{ThreadID: "t-2", Email: domain.Email{Subject: "bad"}}})
	require.Error(t, err)
	assert.True(t, domain.IsFatal(err))

	err = w.Work(ctx, &river.Job[TriageArgs]{Args: TriageArgs{ThreadID: "t-3", Email: domain.Email{Subject: "flaky"}}})
	require.Error(t, err)
	assert.False(t, domain.IsFatal(err))

	// A retried job finds its thread and re-drives it.
	err = w.Work(ctx, &river.Job[TriageArgs]{Args: TriageArgs{ThreadID: "t-3", Email: domain.Email{Subject: "flaky"}}})
	assert.NoError(t, err)
	assert.Contains(t, s.continued, "t-3")
}

func TestTriageArgs(t *testing.T) {
	args := TriageArgs{}
	assert.Equal(t, "mailroom_triage", args.Kind())
	assert.True(t, args.InsertOpts().UniqueOpts.ByArgs)
}

func TestTriageArgsForEmailWithoutID(t *testing.T) {
	withID := triageArgsFor(domain.Email{ID: "abc", Source: "gmail"})
	assert.Equal(t, "gmail:abc", withID.ThreadID)

	e := domain.Email{From: "a@example.com", Subject: "flaky"}
	first, second := triageArgsFor(e), triageArgsFor(e)
	require.NotEmpty(t, first.ThreadID)
	assert.NotEqual(t, first.ThreadID, second.ThreadID, "each insert gets its own thread")

	// Retries of one job land on the thread its first attempt created.
	s := newFakeStarter()
	s.failWith["flaky"] = fmt.Errorf("model unavailable")
	w := &triageWorker{starter: s, log: logging.New(nil, "silent")}
	job := &river.Job[TriageArgs]{Args: first}
	require.Error(t, w.Work(context.Background(), job))
	require.NoError(t, w.Work(context.Background(), job))

	assert.Len(t, s.started, 1)
	assert.True(t, s.started[first.ThreadID])
	assert.Equal(t, []string{first.ThreadID}, s.continued)
}

func TestRiverQueue_Postgres(t *testing.T) {
	dsn := os.Getenv("MAILROOM_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("MAILROOM_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	log := logging.New(nil, "silent")

	pg, err := store.OpenPostgres(ctx, dsn, log)
	require.NoError(t, err)
	defer pg.Close()
	require.NoError(t, Migrate(ctx, pg.Pool()))

	s := newFakeStarter()
	q, err := NewRiverQueue(pg.Pool(), s, 2, log)
	require.NoError(t, err)
	require.NoError(t, q.Start(ctx))
	defer func() { require.NoError(t, q.Stop(ctx)) }()

	batch := emails(1)
	batch[0].ID = fmt.Sprintf("river-%d", time.Now().UnixNano())
	n, err := q.Enqueue(ctx, batch...)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.started[ThreadIDFor(batch[0])]
	}, 10*time.Second, 50*time.Millisecond)
}

// --- Poller ---

type failingFetcher struct{ err error }

func (f failingFetcher) Fetch(context.Context, int) ([]domain.Email, error) { return nil, f.err }

type recordingSink struct {
	mu      sync.Mutex
	batches [][]domain.Email
}

func (r *recordingSink) Submit(_ context.Context, emails []domain.Email) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, emails)
	return nil
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batches)
}

func TestPoller_UnreadMailResolvesToExistingThreads(t *testing.T) {
	log := logging.New(nil, "silent")
	box := mailbox.NewMemory(emails(3)...)
	fs := newFakeStarter()
	p := NewPoller(box, NewPool(fs, 2, log), 10, time.Minute, log)

	n, err := p.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Len(t, fs.started, 3)
	assert.Empty(t, fs.continued)

	n, err = p.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Len(t, fs.continued, 3, "second round re-drives instead of duplicating")
}

func TestPoller_RespectsMax(t *testing.T) {
	log := logging.New(nil, "silent")
	sink := &recordingSink{}
	p := NewPoller(mailbox.NewMemory(emails(5)...), sink, 2, time.Minute, log)

	n, err := p.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, sink.batches, 1)
	assert.Len(t, sink.batches[0], 2)
}

func TestPoller_EmptyMailboxSubmitsNothing(t *testing.T) {
	sink := &recordingSink{}
	p := NewPoller(mailbox.NewMemory(), sink, 10, time.Minute, logging.New(nil, "silent"))

	n, err := p.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, sink.count())
}

func TestPoller_FetchErrorIsReturned(t *testing.T) {
	boom := errors.New("imap down")
	p := NewPoller(failingFetcher{err: boom}, &recordingSink{}, 10, time.Minute, logging.New(nil, "silent"))

	_, err := p.PollOnce(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestPoller_RunStopsWithContext(t *testing.T) {
	sink := &recordingSink{}
	p := NewPoller(mailbox.NewMemory(emails(1)...), sink, 10, 10*time.Millisecond, logging.New(nil, "silent"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool { return sink.count() >= 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not stop")
	}
}

func TestPoller_RunRejectsZeroInterval(t *testing.T) {
	p := NewPoller(mailbox.NewMemory(), &recordingSink{}, 10, 0, logging.New(nil, "silent"))
	assert.Error(t, p.Run(context.Background()))
}
