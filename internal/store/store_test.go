package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/soyeahso/mailroom/internal/config"
	"github.com/soyeahso/mailroom/internal/domain"
	"github.com/soyeahso/mailroom/internal/logging"
	"github.com/soyeahso/mailroom/internal/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	log := logging.New(nil, "silent")
	db, err := Open(":memory:", log)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func sampleState(t *testing.T, id string) *domain.ConversationState {
	t.Helper()
	s := domain.NewConversationState(id, domain.Email{
		From:    "alice@example.com",
		To:      "me@example.com",
		Subject: "Quarterly planning",
		Body:    "Can we meet next week?",
	})
	tr, err := domain.NewTranscript(
		domain.UserMessage("Respond to the email"),
		domain.Message{ID: "ai-1", Role: domain.RoleAssistant, ToolCalls: []domain.ToolCall{
			{ID: "call-1", Name: "schedule_meeting", Args: map[string]any{"duration_minutes": 45.0}},
		}},
	)
	require.NoError(t, err)
	s.Transcript = tr
	s.Classification = domain.ClassificationRespond
	return s
}

// --- DB/Migration tests ---

func TestMigrations_IdempotentAndVersioned(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	require.NoError(t, db.migrate(ctx))

	var count int
	require.NoError(t, db.sql.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
	assert.Equal(t, len(migrations), count)

	v, err := db.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, latestMigration(), v)
}

func TestSchema_TablesExist(t *testing.T) {
	db := testDB(t)

	for _, table := range []string{"checkpoints", "memories"} {
		var name string
		err := db.sql.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		require.NoError(t, err, "table %s should exist", table)
		assert.Equal(t, table, name)
	}
}

// --- Contract tests shared by every backend ---

type backend struct {
	name        string
	checkpoints CheckpointStore
	memory      MemoryStore
}

func backends(t *testing.T) []backend {
	t.Helper()
	db := testDB(t)
	out := []backend{
		{"volatile", NewVolatileCheckpoints(), NewVolatileMemory()},
		{"sqlite", NewSQLiteCheckpoints(db), NewSQLiteMemory(db)},
	}
	if dsn := os.Getenv("MAILROOM_TEST_POSTGRES_DSN"); dsn != "" {
		pg, err := OpenPostgres(context.Background(), dsn, logging.New(nil, "silent"))
		require.NoError(t, err)
		t.Cleanup(pg.Close)
		out = append(out, backend{"postgres", NewPostgresCheckpoints(pg), NewPostgresMemory(pg)})
	}
	return out
}

func TestCheckpoints_SaveLoad(t *testing.T) {
	ctx := context.Background()
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			id := uuid.NewString()
			state := sampleState(t, id)
			state.Pending = &domain.PendingReview{Kind: domain.ReviewTool, MessageID: "ai-1", ToolCallID: "call-1"}
			state.Status = domain.StatusAwaitingReview
			state.Node = domain.NodeReview

			require.NoError(t, b.checkpoints.Save(ctx, id, state))

			loaded, err := b.checkpoints.Load(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, domain.StatusAwaitingReview, loaded.Status)
			assert.Equal(t, domain.NodeReview, loaded.Node)
			require.NotNil(t, loaded.Pending)
			assert.Equal(t, "call-1", loaded.Pending.ToolCallID)
			assert.Equal(t, state.Transcript.Messages()[1].ToolCalls, loaded.Transcript.Messages()[1].ToolCalls)

			// Overwrite keeps a single row.
			loaded.Archive(domain.StatusCompleted)
			require.NoError(t, b.checkpoints.Save(ctx, id, loaded))
			again, err := b.checkpoints.Load(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, domain.StatusCompleted, again.Status)
			assert.NotNil(t, again.ArchivedAt)
		})
	}
}

func TestCheckpoints_LoadMissing(t *testing.T) {
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			_, err := b.checkpoints.Load(context.Background(), "missing-"+uuid.NewString())
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestCheckpoints_SaveRejectsMismatchedID(t *testing.T) {
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			err := b.checkpoints.Save(context.Background(), "a", sampleState(t, "b"))
			assert.Error(t, err)
		})
	}
}

func TestCheckpoints_ListFiltersByStatus(t *testing.T) {
	ctx := context.Background()
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			parked := sampleState(t, uuid.NewString())
			parked.Status = domain.StatusAwaitingReview
			done := sampleState(t, uuid.NewString())
			done.Archive(domain.StatusCompleted)
			require.NoError(t, b.checkpoints.Save(ctx, parked.ThreadID, parked))
			require.NoError(t, b.checkpoints.Save(ctx, done.ThreadID, done))

			list, err := b.checkpoints.List(ctx, ListFilter{Status: domain.StatusAwaitingReview, Limit: 1000})
			require.NoError(t, err)
			ids := make([]string, 0, len(list))
			for _, s := range list {
				assert.Equal(t, domain.StatusAwaitingReview, s.Status)
				ids = append(ids, s.ThreadID)
			}
			assert.Contains(t, ids, parked.ThreadID)
			assert.NotContains(t, ids, done.ThreadID)
		})
	}
}

func TestMemory_GetOrDefaultIsIdempotent(t *testing.T) {
	ctx := context.Background()
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			ns := domain.Namespace{Scope: "test-" + uuid.NewString(), Category: domain.CategoryTriage}

			first, err := b.memory.Get(ctx, ns, "default A")
			require.NoError(t, err)
			assert.Equal(t, "default A", first)

			// The first default was persisted; a different default is ignored.
			second, err := b.memory.Get(ctx, ns, "default B")
			require.NoError(t, err)
			assert.Equal(t, "default A", second)
		})
	}
}

func TestMemory_PutOverwrites(t *testing.T) {
	ctx := context.Background()
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			ns := domain.Namespace{Scope: "test-" + uuid.NewString(), Category: domain.CategoryResponse}
			require.NoError(t, b.memory.Put(ctx, ns, "v1"))
			require.NoError(t, b.memory.Put(ctx, ns, "v2"))

			got, err := b.memory.Get(ctx, ns, "default")
			require.NoError(t, err)
			assert.Equal(t, "v2", got)
		})
	}
}

func TestMemory_AdminListAndDelete(t *testing.T) {
	ctx := context.Background()
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			admin, ok := b.memory.(MemoryAdmin)
			require.True(t, ok)

			ns := domain.Namespace{Scope: "test-" + uuid.NewString(), Category: domain.CategoryCalendar}
			require.NoError(t, b.memory.Put(ctx, ns, "30 minute meetings"))

			recs, err := admin.List(ctx)
			require.NoError(t, err)
			found := false
			for _, r := range recs {
				if r.Namespace == ns {
					found = true
					assert.Equal(t, "30 minute meetings", r.Text)
				}
			}
			assert.True(t, found)

			require.NoError(t, admin.Delete(ctx, ns))
			got, err := b.memory.Get(ctx, ns, "reseeded")
			require.NoError(t, err)
			assert.Equal(t, "reseeded", got)
		})
	}
}

func TestMemory_ConcurrentFirstGetAgrees(t *testing.T) {
	ctx := context.Background()
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			ns := domain.Namespace{Scope: "test-" + uuid.NewString(), Category: domain.CategoryBackground}
			var wg sync.WaitGroup
			results := make([]string, 8)
			for i := range results {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					v, err := b.memory.Get(ctx, ns, string(rune('a'+i)))
					assert.NoError(t, err)
					results[i] = v
				}(i)
			}
			wg.Wait()
			for _, r := range results {
				assert.Equal(t, results[0], r)
			}
		})
	}
}

// --- SQLite durability ---

func TestSQLite_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "mailroom.db")
	log := logging.New(nil, "silent")

	db, err := Open(path, log)
	require.NoError(t, err)
	state := sampleState(t, "thread-durable")
	require.NoError(t, NewSQLiteCheckpoints(db).Save(ctx, state.ThreadID, state))
	require.NoError(t, NewSQLiteMemory(db).Put(ctx, domain.NS(domain.CategoryTriage), "learned"))
	require.NoError(t, db.Close())

	db2, err := Open(path, log)
	require.NoError(t, err)
	defer db2.Close()

	loaded, err := NewSQLiteCheckpoints(db2).Load(ctx, "thread-durable")
	require.NoError(t, err)
	assert.Equal(t, "Quarterly planning", loaded.Email.Subject)

	text, err := NewSQLiteMemory(db2).Get(ctx, domain.NS(domain.CategoryTriage), "default")
	require.NoError(t, err)
	assert.Equal(t, "learned", text)
}

// --- Retrying adapter ---

type flakyCheckpoints struct {
	CheckpointStore
	failures atomic.Int32
}

func (f *flakyCheckpoints) Save(ctx context.Context, id string, s *domain.ConversationState) error {
	if f.failures.Add(-1) >= 0 {
		return errors.New("database is locked")
	}
	return f.CheckpointStore.Save(ctx, id, s)
}

func fastRetry(n int) retry.Config {
	return retry.Config{MaxRetries: n, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
}

func TestRetryingCheckpoints_RecoversFromTransientErrors(t *testing.T) {
	flaky := &flakyCheckpoints{CheckpointStore: NewVolatileCheckpoints()}
	flaky.failures.Store(2)
	rs := WithCheckpointRetry(flaky, fastRetry(3), logging.New(nil, "silent"))

	state := sampleState(t, "t-1")
	require.NoError(t, rs.Save(context.Background(), "t-1", state))

	loaded, err := rs.Load(context.Background(), "t-1")
	require.NoError(t, err)
	assert.Equal(t, "t-1", loaded.ThreadID)
}

func TestRetryingCheckpoints_ExhaustedIsReported(t *testing.T) {
	flaky := &flakyCheckpoints{CheckpointStore: NewVolatileCheckpoints()}
	flaky.failures.Store(100)
	rs := WithCheckpointRetry(flaky, fastRetry(2), logging.New(nil, "silent"))

	err := rs.Save(context.Background(), "t-1", sampleState(t, "t-1"))
	assert.ErrorIs(t, err, retry.ErrExhausted)
}

func TestRetryingCheckpoints_NotFoundIsNotRetried(t *testing.T) {
	calls := 0
	counting := &countingLoads{CheckpointStore: NewVolatileCheckpoints(), calls: &calls}
	rs := WithCheckpointRetry(counting, fastRetry(5), logging.New(nil, "silent"))

	_, err := rs.Load(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 1, calls)
}

type countingLoads struct {
	CheckpointStore
	calls *int
}

func (c *countingLoads) Load(ctx context.Context, id string) (*domain.ConversationState, error) {
	*c.calls++
	return c.CheckpointStore.Load(ctx, id)
}

func TestRetryingMemory_DelegatesAdmin(t *testing.T) {
	rm := WithMemoryRetry(NewVolatileMemory(), fastRetry(1), logging.New(nil, "silent"))
	ctx := context.Background()

	v, err := rm.Get(ctx, domain.NS(domain.CategoryResponse), "d")
	require.NoError(t, err)
	assert.Equal(t, "d", v)

	recs, err := rm.List(ctx)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
	require.NoError(t, rm.Delete(ctx, domain.NS(domain.CategoryResponse)))
}

// --- OpenBackends tests ---

func TestOpenBackends(t *testing.T) {
	log := logging.New(nil, "silent")
	ctx := context.Background()
	paths := config.Paths{Data: t.TempDir()}

	b, err := OpenBackends(ctx, config.StorageConfig{Backend: "memory"}, paths, log)
	require.NoError(t, err)
	assert.IsType(t, &VolatileCheckpoints{}, b.Checkpoints)
	assert.NoError(t, b.Close())

	b, err = OpenBackends(ctx, config.StorageConfig{Backend: "sqlite"}, paths, log)
	require.NoError(t, err)
	assert.IsType(t, &RetryingCheckpoints{}, b.Checkpoints)
	assert.Nil(t, b.PG)
	require.NoError(t, b.Checkpoints.Save(ctx, "t-1", sampleState(t, "t-1")))
	require.NoError(t, b.Close())
	assert.FileExists(t, filepath.Join(paths.Data, "mailroom.db"))

	_, err = OpenBackends(ctx, config.StorageConfig{Backend: "postgres"}, paths, log)
	assert.ErrorContains(t, err, "postgresDsn")

	_, err = OpenBackends(ctx, config.StorageConfig{Backend: "etcd"}, paths, log)
	assert.ErrorContains(t, err, "unknown storage backend")
}

func TestRetryConfigOverrides(t *testing.T) {
	def := retry.DefaultConfig()
	assert.Equal(t, def, RetryConfig(config.RetryConfig{}))

	rc := RetryConfig(config.RetryConfig{MaxRetries: 9, BaseDelayMs: 10, MaxDelayMs: 100})
	assert.Equal(t, 9, rc.MaxRetries)
	assert.Equal(t, 10*time.Millisecond, rc.BaseDelay)
	assert.Equal(t, 100*time.Millisecond, rc.MaxDelay)
	assert.Equal(t, def.Multiplier, rc.Multiplier)
}
