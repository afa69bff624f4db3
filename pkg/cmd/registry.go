// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/stepflow/pkg/connectors/controlflow"
	"github.com/dukex/stepflow/pkg/connectors/customcode"
	"github.com/dukex/stepflow/pkg/connectors/remotetool"
	"github.com/dukex/stepflow/pkg/connectors/table"
	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/registry"
)

// RegistryConfig selects the connectors NewRegistry installs.
type RegistryConfig struct {
	// CatalogPath is a JSON file of remote actions. Empty means an empty catalog.
	CatalogPath string
	// ActionsURL is the actions service base URL. Empty leaves remote tool
	// steps without a generic connector.
	ActionsURL    string
	ActionsAPIKey string
	PluginsPath   string
	TableStore    table.Store
	// CustomCode holds the functions custom code steps may call; nil gets a
	// connector with none registered.
	CustomCode *customcode.Connector
}

func registerConnectorPlugins(ctx context.Context, reg *registry.Registry, pluginsPath string) error {
	if pluginsPath == "" {
		return nil
	}

	factories, err := reg.LoadConnectorPlugins(pluginsPath)
	if err != nil {
		return err
	}

	for _, factory := range factories {
		if err := reg.RegisterFactory(ctx, factory, nil); err != nil {
			return err
		}
	}

	return nil
}

func registerNativeConnectors(reg *registry.Registry, logger *slog.Logger, cfg RegistryConfig) {
	if cfg.ActionsURL != "" {
		client := remotetool.NewHTTPActionClient(cfg.ActionsURL, remotetool.WithAPIKey(cfg.ActionsAPIKey))
		reg.Register(models.StepTypeRemoteTool, remotetool.NewConnector(client, reg.Catalog(), logger))
	}

	customCode := cfg.CustomCode
	if customCode == nil {
		customCode = customcode.NewConnector()
	}

	reg.Register(models.StepTypeCustomCode, customCode)

	store := cfg.TableStore
	if store == nil {
		store = table.NewMemoryStore()
	}

	tables := table.NewConnector(store, logger)
	reg.Register(models.StepTypeTableQuery, tables)
	reg.Register(models.StepTypeTableWrite, tables)

	reg.Register(models.StepTypeControlFlow, controlflow.NewConnector())
}

func NewRegistry(ctx context.Context, logger *slog.Logger, cfg RegistryConfig) (*registry.Registry, error) {
	catalog := registry.NewCatalog()

	if cfg.CatalogPath != "" {
		var err error

		catalog, err = registry.LoadCatalog(cfg.CatalogPath)
		if err != nil {
			return nil, err
		}
	}

	reg := registry.NewRegistry(logger, catalog)

	registerNativeConnectors(reg, logger, cfg)

	if err := registerConnectorPlugins(ctx, reg, cfg.PluginsPath); err != nil {
		return nil, fmt.Errorf("failed to load connector plugins: %w", err)
	}

	logger.InfoContext(ctx, "Registry ready",
		"step_types", reg.StepTypes(),
		"toolkits", reg.Toolkits(),
		"actions", len(catalog.Entries()),
	)

	return reg, nil
}
