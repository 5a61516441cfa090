package store

import (
	"context"
	"fmt"
	"time"

	"github.com/soyeahso/mailroom/internal/domain"
)

// SQLiteMemory implements MemoryStore backed by SQLite.
type SQLiteMemory struct {
	db *DB
}

// NewSQLiteMemory creates a preference store using the given database.
func NewSQLiteMemory(db *DB) *SQLiteMemory {
	return &SQLiteMemory{db: db}
}

// Get inserts def if the namespace is empty, then reads the stored text.
// The insert is a no-op when a record exists, so concurrent first reads
// agree on a single value.
func (m *SQLiteMemory) Get(ctx context.Context, ns domain.Namespace, def string) (string, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := m.db.sql.ExecContext(ctx,
		`INSERT INTO memories (scope, category, content, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(scope, category) DO NOTHING`,
		ns.Scope, string(ns.Category), def, now,
	); err != nil {
		return "", fmt.Errorf("initializing memory %s: %w", ns, err)
	}

	var text string
	if err := m.db.sql.QueryRowContext(ctx,
		`SELECT content FROM memories WHERE scope = ? AND category = ?`,
		ns.Scope, string(ns.Category),
	).Scan(&text); err != nil {
		return "", fmt.Errorf("reading memory %s: %w", ns, err)
	}
	return text, nil
}

// Put overwrites the namespace.
func (m *SQLiteMemory) Put(ctx context.Context, ns domain.Namespace, text string) error {
	_, err := m.db.sql.ExecContext(ctx,
		`INSERT INTO memories (scope, category, content, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(scope, category) DO UPDATE SET
		   content = excluded.content,
		   updated_at = excluded.updated_at`,
		ns.Scope, string(ns.Category), text, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("writing memory %s: %w", ns, err)
	}
	return nil
}

// List returns every stored record.
func (m *SQLiteMemory) List(ctx context.Context) ([]MemoryRecord, error) {
	rows, err := m.db.sql.QueryContext(ctx,
		`SELECT scope, category, content, updated_at FROM memories ORDER BY scope, category`)
	if err != nil {
		return nil, fmt.Errorf("listing memories: %w", err)
	}
	defer rows.Close()

	var out []MemoryRecord
	for rows.Next() {
		var rec MemoryRecord
		var category, updated string
		if err := rows.Scan(&rec.Namespace.Scope, &category, &rec.Text, &updated); err != nil {
			return nil, err
		}
		rec.Namespace.Category = domain.Category(category)
		rec.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Delete removes a namespace so the next Get re-seeds its default.
func (m *SQLiteMemory) Delete(ctx context.Context, ns domain.Namespace) error {
	_, err := m.db.sql.ExecContext(ctx,
		`DELETE FROM memories WHERE scope = ? AND category = ?`, ns.Scope, string(ns.Category))
	if err != nil {
		return fmt.Errorf("deleting memory %s: %w", ns, err)
	}
	return nil
}
