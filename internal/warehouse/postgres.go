package warehouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/tasteflow/order-ingester/internal/model"
)

// PostgresWriter commits batches into a Postgres fact table. Unlike DuckDB,
// Postgres handles concurrent transactions, so partition loops commit in
// parallel through the pool.
type PostgresWriter struct {
	db     *sql.DB
	table  string
	logger *zap.Logger
}

// NewPostgresWriter connects to Postgres with the given DSN.
func NewPostgresWriter(dsn, table string, logger *zap.Logger) (*PostgresWriter, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &PostgresWriter{db: db, table: table, logger: logger}, nil
}

// ValidateSchema implements Writer.
func (w *PostgresWriter) ValidateSchema(ctx context.Context) error {
	var exists bool
	err := w.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT FROM information_schema.tables
			WHERE table_name = $1
		)`, w.table).Scan(&exists)
	if err != nil {
		return retryable(fmt.Errorf("failed to check fact table: %w", err))
	}
	if !exists {
		return fatal(fmt.Errorf("fact table %s does not exist", w.table))
	}

	probe := fmt.Sprintf("SELECT %s FROM %s LIMIT 0", strings.Join(factColumns, ", "), w.table)
	if _, err := w.db.ExecContext(ctx, probe); err != nil {
		return fatal(fmt.Errorf("fact table %s column mismatch: %w", w.table, err))
	}
	return nil
}

// Commit implements Writer.
func (w *PostgresWriter) Commit(ctx context.Context, batch *model.CommitBatch) error {
	if batch.Empty() {
		return nil
	}

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return retryable(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, w.upsertSQL())
	if err != nil {
		return classifyPostgres(fmt.Errorf("failed to prepare upsert: %w", err))
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
			return classifyPostgres(fmt.Errorf("failed to upsert order %s: %w", rec.OrderID, err))
		}
	}

	if err := tx.Commit(); err != nil {
		return classifyPostgres(fmt.Errorf("failed to commit batch: %w", err))
	}

	w.logger.Debug("batch committed",
		zap.Int32("partition", batch.Partition),
		zap.Int64("start_offset", batch.StartOffset),
		zap.Int64("end_offset", batch.EndOffset),
		zap.Int("records", len(batch.Records)),
	)
	return nil
}

func (w *PostgresWriter) upsertSQL() string {
	placeholders := make([]string, len(factColumns))
	for i := range factColumns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	var updates []string
	for _, col := range factColumns {
		if col == "order_id" {
			continue
		}
		updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", col, col))
	}

	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (order_id) DO UPDATE SET %s",
		w.table,
		strings.Join(factColumns, ", "),
		strings.Join(placeholders, ", "),
		strings.Join(updates, ", "),
	)
}

// Close implements Writer.
func (w *PostgresWriter) Close() error {
	return w.db.Close()
}

// classifyPostgres maps SQLSTATE classes onto the commit taxonomy.
func classifyPostgres(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return retryable(err)
	}

	class := string(pqErr.Code.Class())
	switch class {
	case "08", // connection exceptions
		"40", // transaction rollback (serialization, deadlock)
		"53", // insufficient resources
		"55", // object not in prerequisite state (lock not available)
		"57": // operator intervention / shutdown
		return retryable(err)
	case "22", // data exceptions
		"23", // integrity constraint violations
		"42": // syntax error or access rule violation (schema mismatch)
		return fatal(err)
	}
	return retryable(err)
}
