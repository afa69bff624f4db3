package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/persistence"
	cli "github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

const localWorkflowID = "local"

var errReadOnly = errors.New("definitions read from a file are read-only")

func readDefinition(command *cli.Command) (*models.WorkflowDefinition, error) {
	path := command.String("file")

	var (
		data []byte
		err  error
	)

	if path == "-" {
		data, err = io.ReadAll(command.Root().Reader)
	} else {
		data, err = os.ReadFile(path)
	}

	if err != nil {
		return nil, fmt.Errorf("reading definition: %w", err)
	}

	if ext := filepath.Ext(path); ext == ".yaml" || ext == ".yml" {
		data, err = yamlToJSON(data)
		if err != nil {
			return nil, fmt.Errorf("parsing definition %s: %w", path, err)
		}
	}

	var definition models.WorkflowDefinition
	if err := json.Unmarshal(data, &definition); err != nil {
		return nil, fmt.Errorf("parsing definition %s: %w", path, err)
	}

	if definition.ID == "" {
		definition.ID = localWorkflowID
	}

	return &definition, nil
}

// yamlToJSON re-encodes a YAML document as JSON so definitions keep a single
// set of field names.
func yamlToJSON(data []byte) ([]byte, error) {
	var document any
	if err := yaml.Unmarshal(data, &document); err != nil {
		return nil, err
	}

	return json.Marshal(document)
}

// parseBindings turns key=value pairs into a map.
func parseBindings(pairs []string) (map[string]string, error) {
	bindings := make(map[string]string, len(pairs))

	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" || value == "" {
			return nil, fmt.Errorf("expected key=value, got %q", pair)
		}

		bindings[key] = value
	}

	return bindings, nil
}

// singleDefinition serves one definition read from disk as a read-only store.
type singleDefinition struct {
	definition *models.WorkflowDefinition
}

func (s singleDefinition) Load(_ context.Context, id string) (*models.WorkflowDefinition, error) {
	if id != s.definition.ID {
		return nil, persistence.NewDefinitionError("Load", id, persistence.ErrDefinitionNotFound)
	}

	return s.definition, nil
}

func (s singleDefinition) Save(context.Context, *models.WorkflowDefinition) error {
	return errReadOnly
}

func (s singleDefinition) List(context.Context) ([]*models.WorkflowDefinition, error) {
	return []*models.WorkflowDefinition{s.definition}, nil
}

func (s singleDefinition) Delete(context.Context, string) error {
	return errReadOnly
}

var _ persistence.DefinitionStore = singleDefinition{}
