package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/dukex/stepflow/pkg/models"
)

// CatalogEntry describes one remote action a toolkit offers.
type CatalogEntry struct {
	ToolkitSlug  string             `json:"toolkit_slug"`
	ActionID     string             `json:"action_id"`
	Name         string             `json:"name,omitempty"`
	Description  string             `json:"description,omitempty"`
	InputSchema  *models.JSONSchema `json:"input_schema,omitempty"`
	OutputSchema *models.JSONSchema `json:"output_schema,omitempty"`
}

type catalogKey struct {
	toolkit string
	action  string
}

// Catalog is the read-only set of known remote actions.
type Catalog struct {
	entries map[catalogKey]*CatalogEntry
}

func NewCatalog(entries ...*CatalogEntry) *Catalog {
	c := &Catalog{entries: make(map[catalogKey]*CatalogEntry, len(entries))}

	for _, entry := range entries {
		c.entries[catalogKey{toolkit: entry.ToolkitSlug, action: entry.ActionID}] = entry
	}

	return c
}

// LoadCatalog reads a JSON array of catalog entries from path.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog: %w", err)
	}

	var entries []*CatalogEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parsing catalog %s: %w", path, err)
	}

	for i, entry := range entries {
		if entry == nil || entry.ToolkitSlug == "" || entry.ActionID == "" {
			return nil, fmt.Errorf("catalog entry %d: toolkit_slug and action_id are required", i)
		}
	}

	return NewCatalog(entries...), nil
}

// Lookup returns the catalog entry for an action.
func (c *Catalog) Lookup(toolkitSlug, actionID string) (*CatalogEntry, bool) {
	if c == nil {
		return nil, false
	}

	entry, ok := c.entries[catalogKey{toolkit: toolkitSlug, action: actionID}]

	return entry, ok
}

// Entries returns every entry sorted by toolkit then action.
func (c *Catalog) Entries() []*CatalogEntry {
	if c == nil {
		return nil
	}

	entries := make([]*CatalogEntry, 0, len(c.entries))
	for _, entry := range c.entries {
		entries = append(entries, entry)
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].ToolkitSlug != entries[j].ToolkitSlug {
			return entries[i].ToolkitSlug < entries[j].ToolkitSlug
		}

		return entries[i].ActionID < entries[j].ActionID
	})

	return entries
}

// Annotate returns a copy of def where remote tool nodes without declared
// schemas take them from the catalog.
func (c *Catalog) Annotate(def *models.WorkflowDefinition) *models.WorkflowDefinition {
	out := def.Clone()
	if out == nil {
		return nil
	}

	for _, node := range out.Nodes {
		if node == nil || node.Type != models.StepTypeRemoteTool {
			continue
		}

		entry, ok := c.Lookup(node.ToolkitSlug, node.ActionID)
		if !ok {
			continue
		}

		if node.InputSchema == nil {
			node.InputSchema = entry.InputSchema.Clone()
		}

		if node.OutputSchema == nil {
			node.OutputSchema = entry.OutputSchema.Clone()
		}
	}

	return out
}
