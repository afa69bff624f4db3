package file

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
	"github.com/google/uuid"
)

const definitionsDir = "workflows"

// DefinitionRepository stores each definition as workflows/{id}.json.
type DefinitionRepository struct {
	root string
	mu   sync.Mutex // serializes read-modify-write in Save
}

// NewDefinitionRepository creates a new definition repository.
func NewDefinitionRepository(root string) *DefinitionRepository {
	return &DefinitionRepository{root: root}
}

func (dr *DefinitionRepository) path(id string) string {
	return filepath.Join(dr.root, definitionsDir, id+".json")
}

// Load retrieves a definition by its ID from the file system.
func (dr *DefinitionRepository) Load(_ context.Context, id string) (*models.WorkflowDefinition, error) {
	if err := persistence.ValidateID(id); err != nil {
		return nil, persistence.NewDefinitionError("Load", id, err)
	}

	return dr.read(id)
}

func (dr *DefinitionRepository) read(id string) (*models.WorkflowDefinition, error) {
	body, err := os.ReadFile(dr.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.NewDefinitionError("Load", id, persistence.ErrDefinitionNotFound)
		}

		return nil, fmt.Errorf("failed to read workflow %s: %w", id, err)
	}

	var definition models.WorkflowDefinition

	if err := json.Unmarshal(body, &definition); err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow %s: %w", id, err)
	}

	return &definition, nil
}

// Save writes a definition to the file system.
func (dr *DefinitionRepository) Save(_ context.Context, definition *models.WorkflowDefinition) error {
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

	if err := persistence.ValidateID(definition.ID); err != nil {
		return persistence.NewDefinitionError("Save", definition.ID, err)
	}

	dr.mu.Lock()
	defer dr.mu.Unlock()

	if err := os.MkdirAll(filepath.Join(dr.root, definitionsDir), 0750); err != nil {
		return fmt.Errorf("failed to create workflows directory: %w", err)
	}

	version := 1

	existing, err := dr.read(definition.ID)
	switch {
	case err == nil:
		version = existing.Version + 1
	case !persistence.IsDefinitionNotFound(err):
		return err
	}

	definition.Version = version
	definition.LastModified = time.Now().UTC()

	data, err := json.MarshalIndent(definition, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal workflow %s: %w", definition.ID, err)
	}

	return writeFile(dr.path(definition.ID), data)
}

// List returns every stored definition ordered by id.
func (dr *DefinitionRepository) List(_ context.Context) ([]*models.WorkflowDefinition, error) {
	root := os.DirFS(filepath.Join(dr.root, definitionsDir))

	jsonFiles, err := fs.Glob(root, "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list workflow files: %w", err)
	}

	definitions := make([]*models.WorkflowDefinition, 0, len(jsonFiles))

	for _, file := range jsonFiles {
		definition, err := dr.read(strings.TrimSuffix(file, ".json"))
		if err != nil {
			if persistence.IsDefinitionNotFound(err) {
				continue
			}

			return nil, err
		}

		definitions = append(definitions, definition)
	}

	sort.Slice(definitions, func(i, j int) bool {
		return definitions[i].ID < definitions[j].ID
	})

	return definitions, nil
}

// Delete removes a definition by its ID.
func (dr *DefinitionRepository) Delete(_ context.Context, id string) error {
	if err := persistence.ValidateID(id); err != nil {
		return persistence.NewDefinitionError("Delete", id, err)
	}

	err := os.Remove(dr.path(id))
	if os.IsNotExist(err) {
		return persistence.NewDefinitionError("Delete", id, persistence.ErrDefinitionNotFound)
	}

	if err != nil {
		return fmt.Errorf("failed to delete workflow %s: %w", id, err)
	}

	return nil
}

// writeFile replaces path atomically so readers never observe a partial file.
func writeFile(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("failed to close %s: %w", path, err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("failed to replace %s: %w", path, err)
	}

	return nil
}
