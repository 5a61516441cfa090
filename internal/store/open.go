package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/soyeahso/mailroom/internal/config"
	"github.com/soyeahso/mailroom/internal/logging"
	"github.com/soyeahso/mailroom/internal/retry"
)

// Memory is a preference store that also supports listing and resets.
type Memory interface {
	MemoryStore
	MemoryAdmin
}

// Backends bundles the stores selected by configuration.
type Backends struct {
	Checkpoints CheckpointStore
	Memory      Memory

	// PG is set for the postgres backend so the River queue can share its
	// pool.
	PG *PG

	close func() error
}

// Close releases the underlying database handles.
func (b *Backends) Close() error {
	if b == nil || b.close == nil {
		return nil
	}
	return b.close()
}

// RetryConfig converts the configured backoff into a retry.Config. Zero
// fields keep the defaults.
func RetryConfig(cfg config.RetryConfig) retry.Config {
	rc := retry.DefaultConfig()
	if cfg.MaxRetries > 0 {
		rc.MaxRetries = cfg.MaxRetries
	}
	if cfg.BaseDelayMs > 0 {
		rc.BaseDelay = time.Duration(cfg.BaseDelayMs) * time.Millisecond
	}
	if cfg.MaxDelayMs > 0 {
		rc.MaxDelay = time.Duration(cfg.MaxDelayMs) * time.Millisecond
	}
	return rc
}

// OpenBackends opens the storage backend named by cfg.Backend. Persistent
// backends are wrapped with retries.
func OpenBackends(ctx context.Context, cfg config.StorageConfig, paths config.Paths, log *logging.Logger) (*Backends, error) {
	switch cfg.Backend {
	case "memory":
		log.Warn().Msg("volatile storage: threads and preferences are lost on exit")
		return &Backends{
			Checkpoints: NewVolatileCheckpoints(),
			Memory:      NewVolatileMemory(),
		}, nil

	case "", "sqlite":
		db, err := Open(paths.SQLitePath(cfg), log)
		if err != nil {
			return nil, err
		}
		return wrapRetry(&Backends{
			Checkpoints: NewSQLiteCheckpoints(db),
			Memory:      NewSQLiteMemory(db),
			close:       db.Close,
		}, cfg, log), nil

	case "postgres":
		if cfg.PostgresDSN == "" {
			return nil, errors.New("storage.postgresDsn is required for the postgres backend")
		}
		pg, err := OpenPostgres(ctx, cfg.PostgresDSN, log)
		if err != nil {
			return nil, err
		}
		return wrapRetry(&Backends{
			Checkpoints: NewPostgresCheckpoints(pg),
			Memory:      NewPostgresMemory(pg),
			PG:          pg,
			close: func() error {
				pg.Close()
				return nil
			},
		}, cfg, log), nil

	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

func wrapRetry(b *Backends, cfg config.StorageConfig, log *logging.Logger) *Backends {
	rc := RetryConfig(cfg.Retry)
	b.Checkpoints = WithCheckpointRetry(b.Checkpoints, rc, log)
	b.Memory = WithMemoryRetry(b.Memory, rc, log)
	return b
}
