package balances

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// Cache keeps balance snapshots in Redis under a per-company version.
// Bumping the version orphans every cached snapshot of the company.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
}

// NewCache instantiates the cache helper. A nil client disables caching.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cache{client: client, ttl: ttl}
}

func versionKey(companyID int64) string {
	return "ledger:balances:" + strconv.FormatInt(companyID, 10) + ":version"
}

// Version returns the current cache version, initialising when missing.
func (c *Cache) Version(ctx context.Context, companyID int64) (int64, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	ver, err := c.client.Get(ctx, versionKey(companyID)).Int64()
	if errors.Is(err, redis.Nil) {
		if err := c.client.SetNX(ctx, versionKey(companyID), 1, 0).Err(); err != nil {
			return 0, err
		}
		return c.client.Get(ctx, versionKey(companyID)).Int64()
	}
	return ver, err
}

// SnapshotKey composes the cache key for one balance row.
func (c *Cache) SnapshotKey(ctx context.Context, companyID int64, key Key) (string, error) {
	ver, err := c.Version(ctx, companyID)
	if err != nil {
		return "", err
	}
	return strings.Join([]string{"ledger", "balance", strconv.FormatInt(companyID, 10), key.String(), strconv.FormatInt(ver, 10)}, ":"), nil
}

// Snapshot returns the cached snapshot or loads it once per key across
// concurrent callers.
func (c *Cache) Snapshot(ctx context.Context, companyID int64, key Key, loader func(context.Context) (Snapshot, error)) (Snapshot, error) {
	if c == nil || c.client == nil {
		return loader(ctx)
	}
	cacheKey, err := c.SnapshotKey(ctx, companyID, key)
	if err != nil {
		return loader(ctx)
	}
	payload, err := c.client.Get(ctx, cacheKey).Bytes()
	if err == nil {
		var snap Snapshot
		if err := json.Unmarshal(payload, &snap); err == nil {
			return snap, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		return loader(ctx)
	}
	ch := c.group.DoChan(cacheKey, func() (any, error) {
		snap, err := loader(ctx)
		if err != nil {
			return Snapshot{}, err
		}
		if raw, err := json.Marshal(snap); err == nil {
			_ = c.client.Set(ctx, cacheKey, raw, c.ttl).Err()
		}
		return snap, nil
	})
	select {
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Snapshot{}, res.Err
		}
		return res.Val.(Snapshot), nil
	}
}

// Bump invalidates the company's snapshots by moving to a new version.
func (c *Cache) Bump(ctx context.Context, companyID int64) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Incr(ctx, versionKey(companyID)).Err()
}
