package kv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/fineu/fineu-core/internal/database"
)

const defaultPollInterval = 500 * time.Millisecond

// SQLite stores keys in a single-file database. Writes append to a change log that
// watchers in other processes poll.
type SQLite struct {
	db           *sql.DB
	log          *slog.Logger
	origin       string
	pollInterval time.Duration
}

var (
	_ Backend = (*SQLite)(nil)
	_ Watcher = (*SQLite)(nil)
)

// OpenSQLite opens (or creates) the database at path and applies migrations.
// Use ":memory:" for a private in-memory database.
func OpenSQLite(ctx context.Context, path string, pollInterval time.Duration, log *slog.Logger) (*SQLite, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if log == nil {
		log = slog.Default()
	}
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	dsn := path
	if path != ":memory:" {
		dsn = filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if path == ":memory:" {
		// Every pooled connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	if err := database.NewMigrator(db, log).Apply(ctx, database.Migrations()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{
		db:           db,
		log:          log,
		origin:       uuid.NewString(),
		pollInterval: pollInterval,
	}, nil
}

// Fork returns another execution context over the same database handle.
func (s *SQLite) Fork() *SQLite {
	return &SQLite{
		db:           s.db,
		log:          s.log,
		origin:       uuid.NewString(),
		pollInterval: s.pollInterval,
	}
}

// Origin identifies this execution context in the change log.
func (s *SQLite) Origin() string {
	return s.origin
}

// DB exposes the handle for health checks.
func (s *SQLite) DB() *sql.DB {
	return s.db
}

// Close closes the database handle shared by every fork.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Get returns the value stored under key or ErrNotFound.
func (s *SQLite) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		s.log.Error("failed to read key from sqlite", slog.String("key", key), slog.Any("error", err))
		return "", fmt.Errorf("select %s: %w", key, err)
	}
	return value, nil
}

// Set upserts value and records the change in one transaction.
func (s *SQLite) Set(ctx context.Context, key, value string) error {
	return s.write(ctx, key, func(tx *sql.Tx, now int64) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			key, value, now)
		return err
	})
}

// Delete removes key and records the change in one transaction.
func (s *SQLite) Delete(ctx context.Context, key string) error {
	return s.write(ctx, key, func(tx *sql.Tx, _ int64) error {
		_, err := tx.ExecContext(ctx, "DELETE FROM kv WHERE key = ?", key)
		return err
	})
}

// Watch polls the change log for writes from other contexts made after the call.
func (s *SQLite) Watch(ctx context.Context) (<-chan Change, error) {
	var last int64
	if err := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(seq), 0) FROM kv_changes").Scan(&last); err != nil {
		return nil, fmt.Errorf("read change log head: %w", err)
	}

	out := make(chan Change, watchBuffer)
	go func() {
		defer close(out)

		ticker := time.NewTicker(s.pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				changes, head, err := s.changesSince(ctx, last)
				if err != nil {
					if ctx.Err() == nil {
						s.log.Warn("failed to poll change log", slog.Any("error", err))
					}
					continue
				}
				last = head

				for _, change := range changes {
					select {
					case out <- change:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()

	return out, nil
}

func (s *SQLite) changesSince(ctx context.Context, after int64) ([]Change, int64, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT seq, key, origin FROM kv_changes WHERE seq > ? ORDER BY seq", after)
	if err != nil {
		return nil, after, err
	}
	defer rows.Close()

	head := after
	var changes []Change
	for rows.Next() {
		var (
			seq    int64
			change Change
		)
		if err := rows.Scan(&seq, &change.Key, &change.Origin); err != nil {
			return nil, after, err
		}
		head = seq
		if change.Origin != s.origin {
			changes = append(changes, change)
		}
	}
	return changes, head, rows.Err()
}

func (s *SQLite) write(ctx context.Context, key string, apply func(tx *sql.Tx, now int64) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin write %s: %w", key, err)
	}

	now := time.Now().UTC().UnixMilli()
	if err := apply(tx, now); err != nil {
		_ = tx.Rollback()
		s.log.Error("failed to write key to sqlite", slog.String("key", key), slog.Any("error", err))
		return fmt.Errorf("write %s: %w", key, err)
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO kv_changes (key, origin, changed_at) VALUES (?, ?, ?)",
		key, s.origin, now); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("append change log for %s: %w", key, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit write %s: %w", key, err)
	}
	return nil
}
