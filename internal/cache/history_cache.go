package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redisv9 "github.com/redis/go-redis/v9"

	"chatpdf/internal/model"
)

const (
	defaultHistoryTTL = 10 * time.Minute
	defaultDirtyTTL   = 5 * time.Second
)

// HistoryCache keeps recently read chat histories in Redis. A dirty marker
// set on every save keeps readers off the cache until the persist worker has
// written the new snapshot.
type HistoryCache struct {
	client     *redisv9.Client
	historyTTL time.Duration
	dirtyTTL   time.Duration
}

func NewHistoryCache(client *redisv9.Client, historyTTL, dirtyTTL time.Duration) *HistoryCache {
	if historyTTL <= 0 {
		historyTTL = defaultHistoryTTL
	}
	if dirtyTTL <= 0 {
		dirtyTTL = defaultDirtyTTL
	}
	return &HistoryCache{client: client, historyTTL: historyTTL, dirtyTTL: dirtyTTL}
}

func (c *HistoryCache) GetHistory(ctx context.Context, sessionID string) (*model.HistorySnapshot, bool, error) {
	raw, err := c.client.Get(ctx, historyKey(sessionID)).Bytes()
	if errors.Is(err, redisv9.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get history failed: %w", err)
	}

	var snapshot model.HistorySnapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return nil, false, fmt.Errorf("unmarshal cached history failed: %w", err)
	}
	return &snapshot, true, nil
}

func (c *HistoryCache) SetHistory(ctx context.Context, snapshot *model.HistorySnapshot) error {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal history cache failed: %w", err)
	}
	if err := c.client.Set(ctx, historyKey(snapshot.SessionID), payload, c.historyTTL).Err(); err != nil {
		return fmt.Errorf("redis set history failed: %w", err)
	}
	return nil
}

func (c *HistoryCache) DeleteHistory(ctx context.Context, sessionID string) error {
	if err := c.client.Del(ctx, historyKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("redis delete history failed: %w", err)
	}
	return nil
}

func (c *HistoryCache) MarkDirty(ctx context.Context, sessionID string) error {
	if err := c.client.Set(ctx, dirtyKey(sessionID), "1", c.dirtyTTL).Err(); err != nil {
		return fmt.Errorf("redis set dirty marker failed: %w", err)
	}
	return nil
}

// ClearDirty drops the marker once the snapshot is persisted.
func (c *HistoryCache) ClearDirty(ctx context.Context, sessionID string) error {
	if err := c.client.Del(ctx, dirtyKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("redis clear dirty marker failed: %w", err)
	}
	return nil
}

func (c *HistoryCache) IsDirty(ctx context.Context, sessionID string) (bool, error) {
	exists, err := c.client.Exists(ctx, dirtyKey(sessionID)).Result()
	if err != nil {
		return false, fmt.Errorf("redis check dirty marker failed: %w", err)
	}
	return exists > 0, nil
}

func historyKey(sessionID string) string {
	return "chat:history:" + sessionID
}

func dirtyKey(sessionID string) string {
	return "chat:history:dirty:" + sessionID
}
