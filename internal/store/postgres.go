package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/soyeahso/mailroom/internal/domain"
	"github.com/soyeahso/mailroom/internal/logging"
)

// pgSchema is applied idempotently on open.
const pgSchema = `
CREATE TABLE IF NOT EXISTS mailroom_checkpoints (
	thread_id      TEXT PRIMARY KEY,
	status         TEXT NOT NULL,
	node           TEXT NOT NULL,
	classification TEXT NOT NULL DEFAULT '',
	subject        TEXT NOT NULL DEFAULT '',
	sender         TEXT NOT NULL DEFAULT '',
	state          JSONB NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL,
	archived_at    TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_mailroom_checkpoints_status
	ON mailroom_checkpoints (status, updated_at DESC);

CREATE TABLE IF NOT EXISTS mailroom_memories (
	scope      TEXT NOT NULL,
	category   TEXT NOT NULL,
	content    TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (scope, category)
);
`

// PG wraps a pgx connection pool shared by the Postgres stores and the
// River job queue.
type PG struct {
	pool *pgxpool.Pool
	log  *logging.Logger
}

// OpenPostgres connects to dsn and ensures the schema exists.
func OpenPostgres(ctx context.Context, dsn string, log *logging.Logger) (*PG, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, pgSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	pg := &PG{pool: pool, log: log.Sub("store.postgres")}
	pg.log.Info().Msg("postgres connected")
	return pg, nil
}

// Pool returns the underlying pool.
func (pg *PG) Pool() *pgxpool.Pool { return pg.pool }

// Close releases all connections.
func (pg *PG) Close() {
	pg.log.Info().Msg("closing postgres pool")
	pg.pool.Close()
}

// PostgresCheckpoints implements CheckpointStore on Postgres.
type PostgresCheckpoints struct {
	pg *PG
}

// NewPostgresCheckpoints creates a checkpoint store on the given pool.
func NewPostgresCheckpoints(pg *PG) *PostgresCheckpoints {
	return &PostgresCheckpoints{pg: pg}
}

func (s *PostgresCheckpoints) Save(ctx context.Context, threadID string, state *domain.ConversationState) error {
	data, err := encodeState(threadID, state)
	if err != nil {
		return err
	}
	_, err = s.pg.pool.Exec(ctx, `
		INSERT INTO mailroom_checkpoints (thread_id, status, node, classification, subject, sender, state, created_at, updated_at, archived_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (thread_id) DO UPDATE SET
			status = EXCLUDED.status,
			node = EXCLUDED.node,
			classification = EXCLUDED.classification,
			state = EXCLUDED.state,
			updated_at = EXCLUDED.updated_at,
			archived_at = EXCLUDED.archived_at`,
		threadID, string(state.Status), string(state.Node), string(state.Classification),
		state.Email.Subject, state.Email.From, data,
		state.CreatedAt, state.UpdatedAt, state.ArchivedAt,
	)
	if err != nil {
		return fmt.Errorf("saving checkpoint %s: %w", threadID, err)
	}
	return nil
}

func (s *PostgresCheckpoints) Load(ctx context.Context, threadID string) (*domain.ConversationState, error) {
	var data []byte
	err := s.pg.pool.QueryRow(ctx,
		`SELECT state FROM mailroom_checkpoints WHERE thread_id = $1`, threadID,
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading checkpoint %s: %w", threadID, err)
	}
	return decodeState(data)
}

func (s *PostgresCheckpoints) List(ctx context.Context, filter ListFilter) ([]ThreadSummary, error) {
	rows, err := s.pg.pool.Query(ctx, `
		SELECT thread_id, status, node, classification, subject, sender, updated_at, archived_at
		FROM mailroom_checkpoints
		WHERE ($1 = '' OR status = $1)
		ORDER BY updated_at DESC
		LIMIT $2`,
		string(filter.Status), filter.limit(),
	)
	if err != nil {
		return nil, fmt.Errorf("listing checkpoints: %w", err)
	}
	defer rows.Close()

	var out []ThreadSummary
	for rows.Next() {
		var (
			sum                 ThreadSummary
			status, node, class string
			archived            *time.Time
		)
		if err := rows.Scan(&sum.ThreadID, &status, &node, &class, &sum.Subject, &sum.From, &sum.UpdatedAt, &archived); err != nil {
			return nil, err
		}
		sum.Status = domain.Status(status)
		sum.Node = domain.Node(node)
		sum.Classification = domain.Classification(class)
		sum.ArchivedAt = archived
		out = append(out, sum)
	}
	return out, rows.Err()
}

// PostgresMemory implements MemoryStore on Postgres.
type PostgresMemory struct {
	pg *PG
}

// NewPostgresMemory creates a preference store on the given pool.
func NewPostgresMemory(pg *PG) *PostgresMemory {
	return &PostgresMemory{pg: pg}
}

func (m *PostgresMemory) Get(ctx context.Context, ns domain.Namespace, def string) (string, error) {
	if _, err := m.pg.pool.Exec(ctx, `
		INSERT INTO mailroom_memories (scope, category, content) VALUES ($1, $2, $3)
		ON CONFLICT (scope, category) DO NOTHING`,
		ns.Scope, string(ns.Category), def,
	); err != nil {
		return "", fmt.Errorf("initializing memory %s: %w", ns, err)
	}

	var text string
	if err := m.pg.pool.QueryRow(ctx,
		`SELECT content FROM mailroom_memories WHERE scope = $1 AND category = $2`,
		ns.Scope, string(ns.Category),
	).Scan(&text); err != nil {
		return "", fmt.Errorf("reading memory %s: %w", ns, err)
	}
	return text, nil
}

func (m *PostgresMemory) Put(ctx context.Context, ns domain.Namespace, text string) error {
	_, err := m.pg.pool.Exec(ctx, `
		INSERT INTO mailroom_memories (scope, category, content, updated_at) VALUES ($1, $2, $3, now())
		ON CONFLICT (scope, category) DO UPDATE SET content = EXCLUDED.content, updated_at = now()`,
		ns.Scope, string(ns.Category), text,
	)
	if err != nil {
		return fmt.Errorf("writing memory %s: %w", ns, err)
	}
	return nil
}

func (m *PostgresMemory) List(ctx context.Context) ([]MemoryRecord, error) {
	rows, err := m.pg.pool.Query(ctx,
		`SELECT scope, category, content, updated_at FROM mailroom_memories ORDER BY scope, category`)
	if err != nil {
		return nil, fmt.Errorf("listing memories: %w", err)
	}
	defer rows.Close()

	var out []MemoryRecord
	for rows.Next() {
		var rec MemoryRecord
		var category string
		if err := rows.Scan(&rec.Namespace.Scope, &category, &rec.Text, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		rec.Namespace.Category = domain.Category(category)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (m *PostgresMemory) Delete(ctx context.Context, ns domain.Namespace) error {
	_, err := m.pg.pool.Exec(ctx,
		`DELETE FROM mailroom_memories WHERE scope = $1 AND category = $2`, ns.Scope, string(ns.Category))
	if err != nil {
		return fmt.Errorf("deleting memory %s: %w", ns, err)
	}
	return nil
}
