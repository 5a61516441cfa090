package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/soyeahso/mailroom/internal/domain"
)

// SQLiteCheckpoints implements CheckpointStore backed by SQLite.
type SQLiteCheckpoints struct {
	db *DB
}

// NewSQLiteCheckpoints creates a checkpoint store using the given database.
func NewSQLiteCheckpoints(db *DB) *SQLiteCheckpoints {
	return &SQLiteCheckpoints{db: db}
}

// Save upserts the thread's latest state.
func (s *SQLiteCheckpoints) Save(ctx context.Context, threadID string, state *domain.ConversationState) error {
	data, err := encodeState(threadID, state)
	if err != nil {
		return err
	}

	var archived sql.NullString
	if state.ArchivedAt != nil {
		archived = sql.NullString{String: state.ArchivedAt.UTC().Format(time.RFC3339Nano), Valid: true}
	}

	_, err = s.db.sql.ExecContext(ctx,
		`INSERT INTO checkpoints (thread_id, status, node, classification, subject, sender, state, created_at, updated_at, archived_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(thread_id) DO UPDATE SET
		   status = excluded.status,
		   node = excluded.node,
		   classification = excluded.classification,
		   state = excluded.state,
		   updated_at = excluded.updated_at,
		   archived_at = excluded.archived_at`,
		threadID, string(state.Status), string(state.Node), string(state.Classification),
		state.Email.Subject, state.Email.From, string(data),
		state.CreatedAt.UTC().Format(time.RFC3339Nano),
		state.UpdatedAt.UTC().Format(time.RFC3339Nano),
		archived,
	)
	if err != nil {
		return fmt.Errorf("saving checkpoint %s: %w", threadID, err)
	}
	return nil
}

// Load returns the latest state for a thread, or ErrNotFound.
func (s *SQLiteCheckpoints) Load(ctx context.Context, threadID string) (*domain.ConversationState, error) {
	var data string
	err := s.db.sql.QueryRowContext(ctx,
		`SELECT state FROM checkpoints WHERE thread_id = ?`, threadID,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading checkpoint %s: %w", threadID, err)
	}
	return decodeState([]byte(data))
}

// List returns summaries ordered by most recent update.
func (s *SQLiteCheckpoints) List(ctx context.Context, filter ListFilter) ([]ThreadSummary, error) {
	query := `SELECT thread_id, status, node, classification, subject, sender, updated_at, archived_at
	          FROM checkpoints`
	args := []any{}
	if filter.Status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY updated_at DESC LIMIT ?`
	args = append(args, filter.limit())

	rows, err := s.db.sql.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing checkpoints: %w", err)
	}
	defer rows.Close()

	var out []ThreadSummary
	for rows.Next() {
		var (
			sum                 ThreadSummary
			status, node, class string
			updated             string
			archived            sql.NullString
		)
		if err := rows.Scan(&sum.ThreadID, &status, &node, &class, &sum.Subject, &sum.From, &updated, &archived); err != nil {
			return nil, err
		}
		sum.Status = domain.Status(status)
		sum.Node = domain.Node(node)
		sum.Classification = domain.Classification(class)
		sum.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
		if archived.Valid {
			t, err := time.Parse(time.RFC3339Nano, archived.String)
			if err == nil {
				sum.ArchivedAt = &t
			}
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}
