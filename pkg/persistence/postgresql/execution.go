package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
)

// ExecutionRepository records execution results.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewExecutionRepository creates a new execution repository.
func NewExecutionRepository(db *sql.DB, logger *slog.Logger) *ExecutionRepository {
	return &ExecutionRepository{db: db, logger: logger}
}

// SaveExecution inserts or replaces an execution record.
func (r *ExecutionRepository) SaveExecution(ctx context.Context, record *models.ExecutionRecord) error {
	if record == nil || record.ID == "" {
		return &persistence.ExecutionError{Op: "SaveExecution", Err: persistence.ErrInvalidID}
	}

	result, err := json.Marshal(record.Result)
	if err != nil {
		return fmt.Errorf("failed to marshal execution %s: %w", record.ID, err)
	}

	var state models.PipelineState
	if record.Result != nil {
		state = record.Result.State
	}

	query := `
		INSERT INTO executions (id, workflow_id, version, state, result, started_at, ended_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			state = EXCLUDED.state
		  , result = EXCLUDED.result
		  , ended_at = EXCLUDED.ended_at
	`

	_, err = r.db.ExecContext(ctx, query,
		record.ID, record.WorkflowID, record.Version, string(state), result, record.StartedAt, record.EndedAt)
	if err != nil {
		return fmt.Errorf("failed to save execution %s: %w", record.ID, err)
	}

	return nil
}

// Executions returns the records of a workflow, newest first.
func (r *ExecutionRepository) Executions(ctx context.Context, workflowID string) ([]*models.ExecutionRecord, error) {
	query := `
		SELECT
			id
		  , workflow_id
		  , version
		  , result
		  , started_at
		  , ended_at
		FROM executions
		WHERE workflow_id = $1
		ORDER BY started_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	records := make([]*models.ExecutionRecord, 0)

	for rows.Next() {
		var (
			record             models.ExecutionRecord
			result             []byte
			startedAt, endedAt time.Time
		)

		if err := rows.Scan(&record.ID, &record.WorkflowID, &record.Version, &result, &startedAt, &endedAt); err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}

		if err := json.Unmarshal(result, &record.Result); err != nil {
			return nil, fmt.Errorf("failed to unmarshal execution %s: %w", record.ID, err)
		}

		record.StartedAt = startedAt.UTC()
		record.EndedAt = endedAt.UTC()
		records = append(records, &record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}

	return records, nil
}
