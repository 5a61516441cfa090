package store

// migration represents a single schema migration.
type migration struct {
	Version int
	Name    string
	SQL     string
}

// migrations is the ordered list of all schema migrations.
var migrations = []migration{
	{
		Version: 1,
		Name:    "create checkpoints",
		SQL: `
			CREATE TABLE checkpoints (
				thread_id      TEXT PRIMARY KEY,
				status         TEXT NOT NULL,
				node           TEXT NOT NULL,
				classification TEXT NOT NULL DEFAULT '',
				subject        TEXT NOT NULL DEFAULT '',
				sender         TEXT NOT NULL DEFAULT '',
				state          TEXT NOT NULL,
				created_at     TEXT NOT NULL,
				updated_at     TEXT NOT NULL,
				archived_at    TEXT
			);

			CREATE INDEX idx_checkpoints_status ON checkpoints (status, updated_at);
		`,
	},
	{
		Version: 2,
		Name:    "create preference memories",
		SQL: `
			CREATE TABLE memories (
				scope       TEXT NOT NULL,
				category    TEXT NOT NULL,
				content     TEXT NOT NULL,
				updated_at  TEXT NOT NULL,
				PRIMARY KEY (scope, category)
			);
		`,
	},
}

func latestMigration() int {
	v := 0
	for _, m := range migrations {
		if m.Version > v {
			v = m.Version
		}
	}
	return v
}
