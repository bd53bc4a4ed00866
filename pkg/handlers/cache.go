package handlers

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/cuemby/shutter/pkg/config"
	"github.com/cuemby/shutter/pkg/events"
	"github.com/redis/go-redis/v9"
)

// ErrCacheMiss is returned when no snapshot is cached for a camera
var ErrCacheMiss = errors.New("snapshot not cached")

// CachedSnapshot is the latest image of a camera
type CachedSnapshot struct {
	Image      []byte
	CapturedAt time.Time
}

// SnapshotCache keeps the latest snapshot per camera
type SnapshotCache interface {
	Put(ctx context.Context, exid string, snap CachedSnapshot) error
	Get(ctx context.Context, exid string) (*CachedSnapshot, error)
}

// CacheHandler stores every captured snapshot in a SnapshotCache
type CacheHandler struct {
	cache SnapshotCache
}

// NewCacheHandler creates a cache handler
func NewCacheHandler(cache SnapshotCache) *CacheHandler {
	return &CacheHandler{cache: cache}
}

func (h *CacheHandler) Name() string { return config.HandlerCache }

func (h *CacheHandler) Handle(ctx context.Context, ev *events.Event) error {
	if ev.Type != events.EventSnapshotCaptured || len(ev.Image) == 0 {
		return nil
	}
	return h.cache.Put(ctx, ev.CameraExID, CachedSnapshot{
		Image:      ev.Image,
		CapturedAt: ev.Timestamp,
	})
}

type memoryEntry struct {
	snap    CachedSnapshot
	expires time.Time
}

// MemoryCache is an in-process SnapshotCache
type MemoryCache struct {
	mu    sync.RWMutex
	items map[string]memoryEntry
	ttl   time.Duration
	now   func() time.Time
}

// NewMemoryCache creates a memory cache. A zero ttl keeps entries forever.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		items: make(map[string]memoryEntry),
		ttl:   ttl,
		now:   time.Now,
	}
}

func (c *MemoryCache) Put(ctx context.Context, exid string, snap CachedSnapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := memoryEntry{snap: snap}
	if c.ttl > 0 {
		entry.expires = c.now().Add(c.ttl)
	}
	c.items[exid] = entry
	return nil
}

func (c *MemoryCache) Get(ctx context.Context, exid string) (*CachedSnapshot, error) {
	c.mu.RLock()
	entry, ok := c.items[exid]
	c.mu.RUnlock()

	if !ok || (!entry.expires.IsZero() && c.now().After(entry.expires)) {
		return nil, ErrCacheMiss
	}
	snap := entry.snap
	return &snap, nil
}

// RedisCache stores snapshots in Redis hashes keyed snapshot:<exid>
type RedisCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisCache creates a Redis-backed cache
func NewRedisCache(client redis.UniversalClient, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func redisKey(exid string) string {
	return "snapshot:" + exid
}

func (c *RedisCache) Put(ctx context.Context, exid string, snap CachedSnapshot) error {
	key := redisKey(exid)
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"image", snap.Image,
			"captured_at", strconv.FormatInt(snap.CapturedAt.UnixMilli(), 10),
		)
		if c.ttl > 0 {
			pipe.Expire(ctx, key, c.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to cache snapshot for %s: %w", exid, err)
	}
	return nil
}

func (c *RedisCache) Get(ctx context.Context, exid string) (*CachedSnapshot, error) {
	fields, err := c.client.HGetAll(ctx, redisKey(exid)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read cached snapshot for %s: %w", exid, err)
	}

	image, ok := fields["image"]
	if !ok {
		return nil, ErrCacheMiss
	}

	snap := &CachedSnapshot{Image: []byte(image)}
	if ms, err := strconv.ParseInt(fields["captured_at"], 10, 64); err == nil {
		snap.CapturedAt = time.UnixMilli(ms).UTC()
	}
	return snap, nil
}

// Ping checks the Redis connection
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis client
func (c *RedisCache) Close() error {
	return c.client.Close()
}
