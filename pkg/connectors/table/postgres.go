package table

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/stepflow/pkg/persistence/sqlbase"
	"github.com/lib/pq"
)

func postgresMigrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE table_rows (
				table_id VARCHAR(255) NOT NULL,
				id VARCHAR(255) NOT NULL,
				data JSONB NOT NULL,
				seq BIGSERIAL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				PRIMARY KEY (table_id, id)
			);

			CREATE INDEX idx_table_rows_table_seq ON table_rows(table_id, seq);
			CREATE INDEX idx_table_rows_data ON table_rows USING GIN (data jsonb_path_ops);
		`,
	}
}

// PostgresStore keeps every logical table as JSONB rows of one shared table.
// Rows are returned in insertion order.
type PostgresStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresStore connects to databaseURL and applies the table store migrations.
func NewPostgresStore(ctx context.Context, logger *slog.Logger, databaseURL string) (*PostgresStore, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	err = sqlbase.NewMigrationManager(logger, database, postgresMigrations()).
		WithTable("table_store_migrations").
		RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &PostgresStore{db: database, logger: logger}, nil
}

func (s *PostgresStore) Query(ctx context.Context, tableID string, query Query) ([]map[string]any, error) {
	filter := query.Filter
	if filter == nil {
		filter = map[string]any{}
	}

	filterJSON, err := json.Marshal(filter)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidQuery, err)
	}

	statement := `
		SELECT data
		FROM table_rows
		WHERE table_id = $1 AND data @> $2::jsonb
		ORDER BY seq
	`
	args := []any{tableID, string(filterJSON)}

	if query.Limit > 0 {
		statement += " LIMIT $3"

		args = append(args, query.Limit)
	}

	rows, err := s.db.QueryContext(ctx, statement, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query rows: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			s.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	result := make([]map[string]any, 0)

	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		var row map[string]any
		if err := json.Unmarshal(data, &row); err != nil {
			return nil, fmt.Errorf("failed to decode row: %w", err)
		}

		result = append(result, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return result, nil
}

func (s *PostgresStore) Write(ctx context.Context, tableID string, write Write) (WriteResult, error) {
	result := WriteResult{IDs: make([]string, 0, len(write.Rows))}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		_ = tx.Rollback()
	}()

	for _, row := range write.Rows {
		stored, err := normalize(row)
		if err != nil {
			return WriteResult{}, fmt.Errorf("%w: %w", ErrInvalidRow, err)
		}

		if write.Mode == WriteDelete {
			id, _ := stored[IDField].(string)

			res, err := tx.ExecContext(ctx, `DELETE FROM table_rows WHERE table_id = $1 AND id = $2`, tableID, id)
			if err != nil {
				return WriteResult{}, fmt.Errorf("failed to delete row: %w", err)
			}

			if n, _ := res.RowsAffected(); n > 0 {
				result.Affected++
				result.IDs = append(result.IDs, id)
			}

			continue
		}

		id, err := ensureID(stored)
		if err != nil {
			return WriteResult{}, err
		}

		data, err := json.Marshal(stored)
		if err != nil {
			return WriteResult{}, fmt.Errorf("%w: %w", ErrInvalidRow, err)
		}

		statement := `INSERT INTO table_rows (table_id, id, data) VALUES ($1, $2, $3)`
		if write.Mode == WriteUpsert {
			statement += ` ON CONFLICT (table_id, id) DO UPDATE SET data = EXCLUDED.data, updated_at = NOW()`
		}

		if _, err := tx.ExecContext(ctx, statement, tableID, id, string(data)); err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code == "23505" {
				return WriteResult{}, fmt.Errorf("%w: row %q already exists", ErrInvalidRow, id)
			}

			return WriteResult{}, fmt.Errorf("failed to write row: %w", err)
		}

		result.Affected++
		result.IDs = append(result.IDs, id)
	}

	if err := tx.Commit(); err != nil {
		return WriteResult{}, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return result, nil
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
