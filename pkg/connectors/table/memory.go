package table

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore keeps tables in process memory. Rows are returned in insertion order.
type MemoryStore struct {
	mu     sync.RWMutex
	tables map[string]*memoryTable
}

type memoryTable struct {
	order []string
	rows  map[string]map[string]any
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tables: make(map[string]*memoryTable)}
}

func (s *MemoryStore) Query(_ context.Context, tableID string, query Query) ([]map[string]any, error) {
	filter, err := normalize(query.Filter)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidQuery, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := make([]map[string]any, 0)

	t, ok := s.tables[tableID]
	if !ok {
		return rows, nil
	}

	for _, id := range t.order {
		row := t.rows[id]
		if !matches(row, filter) {
			continue
		}

		copied, err := normalize(row)
		if err != nil {
			return nil, err
		}

		rows = append(rows, copied)
	}

	return limit(rows, query.Limit), nil
}

func (s *MemoryStore) Write(_ context.Context, tableID string, write Write) (WriteResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tables[tableID]
	if !ok {
		t = &memoryTable{rows: make(map[string]map[string]any)}
		s.tables[tableID] = t
	}

	result := WriteResult{IDs: make([]string, 0, len(write.Rows))}

	for _, row := range write.Rows {
		stored, err := normalize(row)
		if err != nil {
			return result, fmt.Errorf("%w: %w", ErrInvalidRow, err)
		}

		if write.Mode == WriteDelete {
			id, _ := stored[IDField].(string)
			if _, exists := t.rows[id]; exists {
				delete(t.rows, id)
				t.order = remove(t.order, id)
				result.Affected++
				result.IDs = append(result.IDs, id)
			}

			continue
		}

		id, err := ensureID(stored)
		if err != nil {
			return result, err
		}

		_, exists := t.rows[id]
		if exists && write.Mode != WriteUpsert {
			return result, fmt.Errorf("%w: row %q already exists", ErrInvalidRow, id)
		}

		if !exists {
			t.order = append(t.order, id)
		}

		t.rows[id] = stored
		result.Affected++
		result.IDs = append(result.IDs, id)
	}

	return result, nil
}

func remove(list []string, v string) []string {
	for i, item := range list {
		if item == v {
			return append(list[:i], list[i+1:]...)
		}
	}

	return list
}
