// Package table reads and writes external tabular stores for table steps.
package table

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"slices"

	"github.com/google/uuid"
)

// IDField is the row key every store maintains.
const IDField = "id"

var (
	// ErrInvalidRow is returned for rows that cannot be stored.
	ErrInvalidRow = errors.New("invalid row")

	// ErrInvalidQuery is returned for malformed query or write input.
	ErrInvalidQuery = errors.New("invalid table request")
)

// Query selects rows whose top-level fields equal every filter value.
type Query struct {
	Filter map[string]any
	Limit  int // 0 means no limit
}

// WriteMode selects how Write treats existing rows.
type WriteMode string

const (
	WriteInsert WriteMode = "insert" // Fails on an existing id
	WriteUpsert WriteMode = "upsert" // Replaces an existing row with the same id
	WriteDelete WriteMode = "delete" // Removes rows by id
)

// Write is a batch of row changes.
type Write struct {
	Mode WriteMode
	Rows []map[string]any
}

// WriteResult reports the outcome of a Write.
type WriteResult struct {
	Affected int
	IDs      []string
}

// Store is an external tabular store addressed by table id.
type Store interface {
	Query(ctx context.Context, tableID string, query Query) ([]map[string]any, error)
	Write(ctx context.Context, tableID string, write Write) (WriteResult, error)
}

// ensureID returns the row's id, assigning a new one when absent.
func ensureID(row map[string]any) (string, error) {
	switch id := row[IDField].(type) {
	case nil:
		generated := uuid.NewString()
		row[IDField] = generated

		return generated, nil
	case string:
		if id == "" {
			return "", ErrInvalidRow
		}

		return id, nil
	default:
		return "", ErrInvalidRow
	}
}

// normalize round-trips a row through JSON so stored values have the same
// shapes a JSON-backed store would return.
func normalize(row map[string]any) (map[string]any, error) {
	data, err := json.Marshal(row)
	if err != nil {
		return nil, err
	}

	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}

	return out, nil
}

// matches reports whether row satisfies every filter entry.
func matches(row map[string]any, filter map[string]any) bool {
	for key, want := range filter {
		got, ok := row[key]
		if !ok || !reflect.DeepEqual(got, want) {
			return false
		}
	}

	return true
}

// sortByID orders rows by id for stable output from unordered stores.
func sortByID(rows []map[string]any) {
	slices.SortFunc(rows, func(a, b map[string]any) int {
		idA, _ := a[IDField].(string)
		idB, _ := b[IDField].(string)

		switch {
		case idA < idB:
			return -1
		case idA > idB:
			return 1
		default:
			return 0
		}
	})
}

func limit(rows []map[string]any, n int) []map[string]any {
	if n > 0 && len(rows) > n {
		return rows[:n]
	}

	return rows
}
