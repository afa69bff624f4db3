package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
	"github.com/google/uuid"
)

// DefinitionRepository handles workflow definition database operations.
// The whole definition is kept as one JSONB document; version and
// last_modified live in their own columns and win over the document.
type DefinitionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewDefinitionRepository creates a new definition repository.
func NewDefinitionRepository(db *sql.DB, logger *slog.Logger) *DefinitionRepository {
	return &DefinitionRepository{db: db, logger: logger}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDefinition(row rowScanner) (*models.WorkflowDefinition, error) {
	var (
		document     []byte
		version      int
		lastModified time.Time
	)

	if err := row.Scan(&document, &version, &lastModified); err != nil {
		return nil, err
	}

	var definition models.WorkflowDefinition

	if err := json.Unmarshal(document, &definition); err != nil {
		return nil, fmt.Errorf("failed to unmarshal definition: %w", err)
	}

	definition.Version = version
	definition.LastModified = lastModified.UTC()

	return &definition, nil
}

// Load returns a definition by its ID.
func (r *DefinitionRepository) Load(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	query := `
		SELECT
			definition
		  , version
		  , last_modified
		FROM workflow_definitions
		WHERE id = $1 AND deleted_at IS NULL
	`

	definition, err := scanDefinition(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewDefinitionError("Load", id, persistence.ErrDefinitionNotFound)
		}

		return nil, fmt.Errorf("failed to scan workflow %s: %w", id, err)
	}

	return definition, nil
}

// Save upserts a definition. Saving over a deleted definition restores it.
func (r *DefinitionRepository) Save(ctx context.Context, definition *models.WorkflowDefinition) error {
	if definition == nil {
		return persistence.ErrNilDefinition
	}

	if definition.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate workflow ID: %w", err)
		}

		definition.ID = id.String()
	}

	now := time.Now().UTC()

	document, err := json.Marshal(definition)
	if err != nil {
		return fmt.Errorf("failed to marshal workflow %s: %w", definition.ID, err)
	}

	query := `
		INSERT INTO workflow_definitions (id, name, version, definition, last_modified)
		VALUES ($1, $2, 1, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name
		  , version = workflow_definitions.version + 1
		  , definition = EXCLUDED.definition
		  , last_modified = EXCLUDED.last_modified
		  , deleted_at = NULL
		RETURNING version
	`

	var version int

	err = r.db.QueryRowContext(ctx, query, definition.ID, definition.Name, document, now).Scan(&version)
	if err != nil {
		return fmt.Errorf("failed to save workflow %s: %w", definition.ID, err)
	}

	definition.Version = version
	definition.LastModified = now

	r.logger.DebugContext(ctx, "Workflow definition saved", "workflow_id", definition.ID, "version", version)

	return nil
}

// List returns all live definitions ordered by id.
func (r *DefinitionRepository) List(ctx context.Context) ([]*models.WorkflowDefinition, error) {
	query := `
		SELECT
			definition
		  , version
		  , last_modified
		FROM workflow_definitions
		WHERE deleted_at IS NULL
		ORDER BY id
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflows: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	definitions := make([]*models.WorkflowDefinition, 0)

	for rows.Next() {
		definition, err := scanDefinition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}

		definitions = append(definitions, definition)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating workflows: %w", err)
	}

	return definitions, nil
}

// Delete soft deletes a definition by setting deleted_at.
func (r *DefinitionRepository) Delete(ctx context.Context, id string) error {
	query := `UPDATE workflow_definitions SET deleted_at = $2 WHERE id = $1 AND deleted_at IS NULL`

	result, err := r.db.ExecContext(ctx, query, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to delete workflow %s: %w", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete workflow %s: %w", id, err)
	}

	if affected == 0 {
		return persistence.NewDefinitionError("Delete", id, persistence.ErrDefinitionNotFound)
	}

	return nil
}
