package checkpoint

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore keeps checkpoints in an embedded SQLite database. Monotonicity
// is enforced in SQL so concurrent processes sharing the file cannot regress
// each other's offsets.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or initializes) a SQLite-backed checkpoint store.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint database: %w", err)
	}

	const ddl = `CREATE TABLE IF NOT EXISTS checkpoints (
		partition INTEGER PRIMARY KEY,
		committed_offset INTEGER NOT NULL,
		updated_at TEXT NOT NULL DEFAULT (datetime('now'))
	)`
	if _, err := db.Exec(ddl); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create checkpoints table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Load implements Store.
func (s *SQLiteStore) Load(ctx context.Context, partition int32) (int64, error) {
	var off int64
	err := s.db.QueryRowContext(ctx,
		`SELECT committed_offset FROM checkpoints WHERE partition = ?`, partition).Scan(&off)
	if err == sql.ErrNoRows {
		return NoCheckpoint, nil
	}
	if err != nil {
		return NoCheckpoint, fmt.Errorf("failed to load checkpoint for partition %d: %w", partition, err)
	}
	return off, nil
}

// Advance implements Store.
func (s *SQLiteStore) Advance(ctx context.Context, partition int32, offset int64) error {
	cur, err := s.Load(ctx, partition)
	if err != nil {
		return err
	}
	if cur != NoCheckpoint && offset < cur {
		return fmt.Errorf("%w: partition %d stored %d, got %d", ErrRegression, partition, cur, offset)
	}

	// The WHERE guard keeps the stored offset monotonic even under a
	// concurrent writer that advanced between the read above and this write.
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (partition, committed_offset, updated_at)
		VALUES (?, ?, datetime('now'))
		ON CONFLICT(partition) DO UPDATE SET
			committed_offset = excluded.committed_offset,
			updated_at = excluded.updated_at
		WHERE excluded.committed_offset >= checkpoints.committed_offset`,
		partition, offset)
	if err != nil {
		return fmt.Errorf("failed to advance checkpoint for partition %d: %w", partition, err)
	}
	return nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
