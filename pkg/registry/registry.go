// Package registry resolves step connectors by step type and toolkit slug.
package registry

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"plugin"
	"slices"
	"strings"
	"sync"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/protocol"
)

// Registry maps step types to connectors. Remote tool steps may additionally
// be served by a toolkit-specific connector, which takes precedence over the
// generic remote tool connector.
type Registry struct {
	logger     *slog.Logger
	mu         sync.RWMutex
	connectors map[models.StepType]protocol.Connector
	toolkits   map[string]protocol.Connector
	factories  map[string]protocol.ConnectorFactory
	catalog    *Catalog
}

func NewRegistry(log *slog.Logger, catalog *Catalog) *Registry {
	if catalog == nil {
		catalog = NewCatalog()
	}

	return &Registry{
		logger:     log,
		connectors: make(map[models.StepType]protocol.Connector),
		toolkits:   make(map[string]protocol.Connector),
		factories:  make(map[string]protocol.ConnectorFactory),
		catalog:    catalog,
	}
}

// Register sets the connector for a step type, replacing any previous one.
func (r *Registry) Register(stepType models.StepType, connector protocol.Connector) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.connectors[stepType] = connector
}

// RegisterToolkit sets a toolkit-specific connector for remote tool steps.
func (r *Registry) RegisterToolkit(toolkitSlug string, connector protocol.Connector) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.toolkits[toolkitSlug] = connector
}

// RegisterFactory creates a toolkit connector from factory and registers it under the factory ID.
func (r *Registry) RegisterFactory(ctx context.Context, factory protocol.ConnectorFactory, config map[string]any) error {
	connector, err := factory.Create(ctx, config)
	if err != nil {
		return fmt.Errorf("creating connector for toolkit %s: %w", factory.ID(), err)
	}

	r.mu.Lock()
	r.factories[factory.ID()] = factory
	r.mu.Unlock()

	r.RegisterToolkit(factory.ID(), connector)

	return nil
}

// Resolve returns the connector that executes steps of the given type.
func (r *Registry) Resolve(stepType models.StepType, toolkitSlug string) (protocol.Connector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if stepType == models.StepTypeRemoteTool && toolkitSlug != "" {
		if connector, ok := r.toolkits[toolkitSlug]; ok {
			return connector, nil
		}
	}

	connector, ok := r.connectors[stepType]
	if !ok {
		return nil, fmt.Errorf("%w for step type '%s'", protocol.ErrNoConnector, stepType)
	}

	return connector, nil
}

// ResolveNode resolves the connector for a node.
func (r *Registry) ResolveNode(node *models.StepNode) (protocol.Connector, error) {
	return r.Resolve(node.Type, node.ToolkitSlug)
}

// Catalog returns the read-only action catalog.
func (r *Registry) Catalog() *Catalog {
	return r.catalog
}

// StepTypes returns the registered step types in sorted order.
func (r *Registry) StepTypes() []models.StepType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]models.StepType, 0, len(r.connectors))
	for stepType := range r.connectors {
		types = append(types, stepType)
	}

	slices.Sort(types)

	return types
}

// Toolkits returns the slugs with a toolkit-specific connector in sorted order.
func (r *Registry) Toolkits() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	slugs := make([]string, 0, len(r.toolkits))
	for slug := range r.toolkits {
		slugs = append(slugs, slug)
	}

	slices.Sort(slugs)

	return slugs
}

// Factory returns the factory registered for a toolkit slug.
func (r *Registry) Factory(toolkitSlug string) (protocol.ConnectorFactory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, ok := r.factories[toolkitSlug]

	return factory, ok
}

// LoadConnectorPlugins opens every *.so under pluginsPath/connectors and returns
// the protocol.ConnectorFactory each one exports as "Connector".
func (r *Registry) LoadConnectorPlugins(pluginsPath string) ([]protocol.ConnectorFactory, error) {
	return loadPlugin[protocol.ConnectorFactory](r.logger, pluginsPath, "Connector")
}

func loadPlugin[T any](logger *slog.Logger, pluginsPath string, symbolName string) ([]T, error) {
	rootPath := pluginsPath + "/" + strings.ToLower(symbolName) + "s"
	root := os.DirFS(rootPath)

	pluginPathList, err := fs.Glob(root, "*/*.so")
	if err != nil {
		return nil, err
	}

	l := logger.With(slog.String("path", pluginsPath), slog.String("type", symbolName))
	l.Info("Loading plugins")

	pluginList := make([]T, 0, len(pluginPathList))

	for _, p := range pluginPathList {
		plg, err := plugin.Open(rootPath + "/" + p)
		if err != nil {
			return nil, fmt.Errorf("opening plugin %s: %w", p, err)
		}

		v, err := plg.Lookup(symbolName)
		if err != nil {
			return nil, fmt.Errorf("looking up %s in plugin %s: %w", symbolName, p, err)
		}

		castV, ok := v.(T)
		if !ok {
			// Exported variables are looked up as pointers.
			ptr, isPtr := v.(*T)
			if !isPtr {
				return nil, fmt.Errorf("plugin %s: symbol %s has unexpected type %T", p, symbolName, v)
			}

			castV = *ptr
		}

		pluginList = append(pluginList, castV)

		l.Info("Loaded plugin", slog.String("plugin", p))
	}

	return pluginList, nil
}
