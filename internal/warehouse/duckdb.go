package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"go.uber.org/zap"

	"github.com/tasteflow/order-ingester/internal/model"
)

// DuckDBWriter commits batches into a DuckDB fact table. DuckDB is a
// single-writer engine, so all commits are serialized through one writer
// mutex; concurrent partition loops queue here rather than corrupting the
// WAL. Readers are unaffected.
type DuckDBWriter struct {
	mu     sync.Mutex
	db     *sql.DB
	table  string
	logger *zap.Logger
}

// NewDuckDBWriter opens the DuckDB database at path.
func NewDuckDBWriter(path, table string, logger *zap.Logger) (*DuckDBWriter, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open DuckDB at %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to DuckDB at %s: %w", path, err)
	}

	// Writes are serialized by w.mu; a small pool serves readers.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)

	return &DuckDBWriter{db: db, table: table, logger: logger}, nil
}

// DB exposes the underlying handle for read-only consumers.
func (w *DuckDBWriter) DB() *sql.DB {
	return w.db
}

// ValidateSchema implements Writer.
func (w *DuckDBWriter) ValidateSchema(ctx context.Context) error {
	probe := fmt.Sprintf("SELECT %s FROM %s LIMIT 0", strings.Join(factColumns, ", "), w.table)
	if _, err := w.db.ExecContext(ctx, probe); err != nil {
		return fatal(fmt.Errorf("fact table %s missing or mismatched: %w", w.table, err))
	}
	return nil
}

// Commit implements Writer.
func (w *DuckDBWriter) Commit(ctx context.Context, batch *model.CommitBatch) error {
	if batch.Empty() {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return retryable(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, w.upsertSQL())
	if err != nil {
		return classifyDuckDB(fmt.Errorf("failed to prepare upsert: %w", err))
	}
	defer stmt.Close()

	commitTime := time.Now().UTC()
	for _, rec := range batch.Records {
		if _, err := stmt.ExecContext(ctx,
			rec.OrderID,
			rec.CustomerID,
			rec.RestaurantID,
			rec.RiderID,
			rec.CuisineType,
			rec.OrderValue.String(),
			string(rec.Status),
			rec.PlacedAt.UTC(),
			nullableTime(rec.DeliveredAt),
			commitTime,
			rec.SourcePartition,
			rec.SourceOffset,
		); err != nil {
			return classifyDuckDB(fmt.Errorf("failed to upsert order %s: %w", rec.OrderID, err))
		}
	}

	if err := tx.Commit(); err != nil {
		return classifyDuckDB(fmt.Errorf("failed to commit batch: %w", err))
	}

	w.logger.Debug("batch committed",
		zap.Int32("partition", batch.Partition),
		zap.Int64("start_offset", batch.StartOffset),
		zap.Int64("end_offset", batch.EndOffset),
		zap.Int("records", len(batch.Records)),
	)
	return nil
}

func (w *DuckDBWriter) upsertSQL() string {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(factColumns)), ", ")

	var updates []string
	for _, col := range factColumns {
		if col == "order_id" {
			continue
		}
		updates = append(updates, fmt.Sprintf("%s = excluded.%s", col, col))
	}

	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (order_id) DO UPDATE SET %s",
		w.table,
		strings.Join(factColumns, ", "),
		placeholders,
		strings.Join(updates, ", "),
	)
}

// Close implements Writer.
func (w *DuckDBWriter) Close() error {
	return w.db.Close()
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}

// classifyDuckDB maps DuckDB error text onto the commit taxonomy. The driver
// does not expose structured codes, so this keys on the error category prefix
// DuckDB puts in every message.
func classifyDuckDB(err error) error {
	msg := err.Error()
	for _, fatalPrefix := range []string{
		"Constraint Error",
		"Conversion Error",
		"Binder Error",
		"Catalog Error",
		"Parser Error",
		"Not implemented Error",
	} {
		if strings.Contains(msg, fatalPrefix) {
			return fatal(err)
		}
	}
	return retryable(err)
}
