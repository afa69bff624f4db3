package persistence_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/dukex/stepflow/pkg/persistence"
	"github.com/stretchr/testify/assert"
)

func TestStandardizedErrors(t *testing.T) {
	t.Parallel()

	t.Run("definition error unwraps to sentinel", func(t *testing.T) {
		err := persistence.NewDefinitionError("Load", "wf-123", persistence.ErrDefinitionNotFound)

		assert.True(t, persistence.IsDefinitionNotFound(err))
		assert.True(t, persistence.IsDefinitionNotFound(fmt.Errorf("service: %w", err)))
		assert.True(t, errors.Is(err, persistence.ErrDefinitionNotFound))
		assert.False(t, persistence.IsDefinitionNotFound(persistence.ErrInvalidID))
	})

	t.Run("definition error contains context", func(t *testing.T) {
		err := persistence.NewDefinitionError("Delete", "wf-123", persistence.ErrDefinitionNotFound)

		assert.Contains(t, err.Error(), "Delete")
		assert.Contains(t, err.Error(), "wf-123")
		assert.Contains(t, err.Error(), "workflow definition not found")
	})

	t.Run("execution error contains context", func(t *testing.T) {
		err := &persistence.ExecutionError{Op: "SaveExecution", ExecutionID: "ex-1", Err: persistence.ErrInvalidID}

		assert.Contains(t, err.Error(), "ex-1")
		assert.ErrorIs(t, err, persistence.ErrInvalidID)
	})
}

func TestValidateID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		id    string
		valid bool
	}{
		{"newsletter", true},
		{"0190f4c2-7b1e-7c3a-9a41-5d1f0e3b2a10", true},
		{"weekly_digest.v2", true},
		{"", false},
		{".", false},
		{"..", false},
		{"../etc/passwd", false},
		{"a/b", false},
		{`a\b`, false},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			err := persistence.ValidateID(tt.id)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, persistence.ErrInvalidID)
			}
		})
	}
}
