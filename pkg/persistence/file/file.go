// Package file provides file-based persistence for workflow definitions and
// execution records.
package file

import (
	"context"
	"os"
	"strings"

	"github.com/dukex/stepflow/pkg/persistence"
)

// Persistence implements persistence.Persistence using JSON files under a
// root directory.
type Persistence struct {
	root string
	*DefinitionRepository
	*ExecutionRepository
}

// NewPersistence creates a new instance of Persistence with the specified root directory.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	return &Persistence{
		root:                 cleanRoot,
		DefinitionRepository: NewDefinitionRepository(cleanRoot),
		ExecutionRepository:  NewExecutionRepository(cleanRoot),
	}
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck checks if the file persistence layer is healthy by verifying the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

var _ persistence.Persistence = (*Persistence)(nil)
