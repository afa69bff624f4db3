package file

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
)

const executionsDir = "executions"

// ExecutionRepository stores each execution record as executions/{id}.json.
type ExecutionRepository struct {
	root string
}

// NewExecutionRepository creates a new execution repository.
func NewExecutionRepository(root string) *ExecutionRepository {
	return &ExecutionRepository{root: root}
}

// SaveExecution writes a record, replacing any earlier record with the same id.
func (er *ExecutionRepository) SaveExecution(_ context.Context, record *models.ExecutionRecord) error {
	if record == nil {
		return &persistence.ExecutionError{Op: "SaveExecution", Err: persistence.ErrInvalidID}
	}

	if err := persistence.ValidateID(record.ID); err != nil {
		return &persistence.ExecutionError{Op: "SaveExecution", ExecutionID: record.ID, Err: err}
	}

	dir := filepath.Join(er.root, executionsDir)

	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create executions directory: %w", err)
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal execution %s: %w", record.ID, err)
	}

	return writeFile(filepath.Join(dir, record.ID+".json"), data)
}

// Executions returns the records of a workflow, newest first.
func (er *ExecutionRepository) Executions(_ context.Context, workflowID string) ([]*models.ExecutionRecord, error) {
	root := os.DirFS(filepath.Join(er.root, executionsDir))

	jsonFiles, err := fs.Glob(root, "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list execution files: %w", err)
	}

	records := make([]*models.ExecutionRecord, 0)

	for _, file := range jsonFiles {
		body, err := fs.ReadFile(root, file)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}

			return nil, fmt.Errorf("failed to read execution %s: %w", file, err)
		}

		var record models.ExecutionRecord

		if err := json.Unmarshal(body, &record); err != nil {
			return nil, fmt.Errorf("failed to unmarshal execution %s: %w", file, err)
		}

		if record.WorkflowID == workflowID {
			records = append(records, &record)
		}
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].StartedAt.After(records[j].StartedAt)
	})

	return records, nil
}
