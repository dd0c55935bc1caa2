package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"taskManager/api/database"
	"taskManager/api/dto"
)

const (
	statusKeyPrefix = "task:status:"
	statusTTL       = 10 * time.Minute
)

// KV is the subset of *database.Cache the status cache needs.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, expiration time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// StatusCache keeps the latest task update per task so status reads can
// skip the store.
type StatusCache struct {
	cache KV
	ttl   time.Duration
}

func NewStatusCache(cache KV) *StatusCache {
	return &StatusCache{cache: cache, ttl: statusTTL}
}

func statusKey(taskID string) string {
	return fmt.Sprintf("%s%s", statusKeyPrefix, taskID)
}

// Get returns the cached update, or nil with no error on a miss.
func (sc *StatusCache) Get(ctx context.Context, taskID string) (*dto.TaskUpdate, error) {
	data, err := sc.cache.Get(ctx, statusKey(taskID))
	if err != nil {
		if database.IsMiss(err) {
			return nil, nil
		}
		return nil, err
	}

	var update dto.TaskUpdate
	if err := json.Unmarshal(data, &update); err != nil {
		return nil, fmt.Errorf("decode cached status: %w", err)
	}
	return &update, nil
}

func (sc *StatusCache) Set(ctx context.Context, update dto.TaskUpdate) error {
	data, err := json.Marshal(update)
	if err != nil {
		return err
	}
	return sc.cache.Set(ctx, statusKey(update.TaskID), data, sc.ttl)
}

// Notify stores every update the lifecycle emits.
func (sc *StatusCache) Notify(ctx context.Context, update dto.TaskUpdate) error {
	return sc.Set(ctx, update)
}

func (sc *StatusCache) Delete(ctx context.Context, taskID string) error {
	return sc.cache.Del(ctx, statusKey(taskID))
}
