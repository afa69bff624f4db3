package table

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "stepflow:table:"

// RedisStore keeps each table as one hash of id -> JSON row. Query filters
// rows client-side and returns them ordered by id.
type RedisStore struct {
	client redis.UniversalClient
	logger *slog.Logger
}

// NewRedisStore connects to the Redis server at redisURL (redis://...).
func NewRedisStore(ctx context.Context, logger *slog.Logger, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return NewRedisStoreWithClient(client, logger), nil
}

func NewRedisStoreWithClient(client redis.UniversalClient, logger *slog.Logger) *RedisStore {
	return &RedisStore{client: client, logger: logger}
}

func (s *RedisStore) key(tableID string) string {
	return redisKeyPrefix + tableID
}

func (s *RedisStore) Query(ctx context.Context, tableID string, query Query) ([]map[string]any, error) {
	filter, err := normalize(query.Filter)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidQuery, err)
	}

	entries, err := s.client.HGetAll(ctx, s.key(tableID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read table %s: %w", tableID, err)
	}

	rows := make([]map[string]any, 0, len(entries))

	for id, raw := range entries {
		var row map[string]any
		if err := json.Unmarshal([]byte(raw), &row); err != nil {
			s.logger.WarnContext(ctx, "skipping undecodable row", "table_id", tableID, "row_id", id, "error", err)

			continue
		}

		if matches(row, filter) {
			rows = append(rows, row)
		}
	}

	sortByID(rows)

	return limit(rows, query.Limit), nil
}

func (s *RedisStore) Write(ctx context.Context, tableID string, write Write) (WriteResult, error) {
	result := WriteResult{IDs: make([]string, 0, len(write.Rows))}
	key := s.key(tableID)

	for _, row := range write.Rows {
		stored, err := normalize(row)
		if err != nil {
			return result, fmt.Errorf("%w: %w", ErrInvalidRow, err)
		}

		if write.Mode == WriteDelete {
			id, _ := stored[IDField].(string)

			removed, err := s.client.HDel(ctx, key, id).Result()
			if err != nil {
				return result, fmt.Errorf("failed to delete row %s: %w", id, err)
			}

			if removed > 0 {
				result.Affected++
				result.IDs = append(result.IDs, id)
			}

			continue
		}

		id, err := ensureID(stored)
		if err != nil {
			return result, err
		}

		data, err := json.Marshal(stored)
		if err != nil {
			return result, fmt.Errorf("%w: %w", ErrInvalidRow, err)
		}

		if write.Mode == WriteUpsert {
			if err := s.client.HSet(ctx, key, id, string(data)).Err(); err != nil {
				return result, fmt.Errorf("failed to write row %s: %w", id, err)
			}
		} else {
			created, err := s.client.HSetNX(ctx, key, id, string(data)).Result()
			if err != nil {
				return result, fmt.Errorf("failed to write row %s: %w", id, err)
			}

			if !created {
				return result, fmt.Errorf("%w: row %q already exists", ErrInvalidRow, id)
			}
		}

		result.Affected++
		result.IDs = append(result.IDs, id)
	}

	return result, nil
}

// Close closes the Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
