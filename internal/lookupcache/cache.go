// Package lookupcache caches external product database lookups so repeated
// searches for the same product do not spend request quota.
package lookupcache

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/dupe-finder/pkg/upcitemdb"
)

const keyPrefix = "dupes:upc:"

// Cache stores lookup results by query. A cached miss is stored as a nil
// item with found=true so that it is not looked up again.
type Cache interface {
	Get(ctx context.Context, key string) (item *upcitemdb.Item, found bool, err error)
	Set(ctx context.Context, key string, item *upcitemdb.Item) error
}

// Key normalizes a lookup query into a cache key.
func Key(kind, query string) string {
	return keyPrefix + kind + ":" + strings.ToLower(strings.Join(strings.Fields(query), " "))
}

// Redis is a Cache backed by a redis server.
type Redis struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedis connects to url (redis://...) and verifies the connection.
func NewRedis(ctx context.Context, url string, ttl time.Duration) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, eris.Wrap(err, "lookupcache: parse redis url")
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = 5 * time.Second
	}
	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, eris.Wrap(err, "lookupcache: redis ping")
	}
	return &Redis{rdb: rdb, ttl: ttl}, nil
}

// Get implements Cache.
func (r *Redis) Get(ctx context.Context, key string) (*upcitemdb.Item, bool, error) {
	raw, err := r.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if eris.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, eris.Wrapf(err, "lookupcache: get %s", key)
	}
	var item *upcitemdb.Item
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, false, eris.Wrapf(err, "lookupcache: decode %s", key)
	}
	return item, true, nil
}

// Set implements Cache. Misses expire after a quarter of the ttl.
func (r *Redis) Set(ctx context.Context, key string, item *upcitemdb.Item) error {
	raw, err := json.Marshal(item)
	if err != nil {
		return eris.Wrap(err, "lookupcache: encode item")
	}
	ttl := r.ttl
	if item == nil {
		ttl /= 4
	}
	return eris.Wrapf(r.rdb.Set(ctx, key, raw, ttl).Err(), "lookupcache: set %s", key)
}

// Close closes the redis connection.
func (r *Redis) Close() error {
	return r.rdb.Close()
}

type memEntry struct {
	item    *upcitemdb.Item
	expires time.Time
}

// Memory is an in-process Cache used when no redis url is configured.
type Memory struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]memEntry
}

// NewMemory creates an in-process cache.
func NewMemory(ttl time.Duration) *Memory {
	return &Memory{ttl: ttl, now: time.Now, entries: make(map[string]memEntry)}
}

// Get implements Cache.
func (m *Memory) Get(_ context.Context, key string) (*upcitemdb.Item, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	if m.now().After(e.expires) {
		delete(m.entries, key)
		return nil, false, nil
	}
	return e.item, true, nil
}

// Set implements Cache.
func (m *Memory) Set(_ context.Context, key string, item *upcitemdb.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = memEntry{item: item, expires: m.now().Add(m.ttl)}
	return nil
}

// Client wraps a upcitemdb.Client with a Cache. Cache errors are logged and
// fall through to the underlying client.
type Client struct {
	next  upcitemdb.Client
	cache Cache
}

// Wrap returns next unchanged when cache is nil.
func Wrap(next upcitemdb.Client, cache Cache) upcitemdb.Client {
	if cache == nil {
		return next
	}
	return &Client{next: next, cache: cache}
}

// Search implements upcitemdb.Client.
func (c *Client) Search(ctx context.Context, query string) (*upcitemdb.Item, error) {
	return c.cached(ctx, Key("search", query), func() (*upcitemdb.Item, error) {
		return c.next.Search(ctx, query)
	})
}

// Lookup implements upcitemdb.Client.
func (c *Client) Lookup(ctx context.Context, upc string) (*upcitemdb.Item, error) {
	return c.cached(ctx, Key("lookup", upc), func() (*upcitemdb.Item, error) {
		return c.next.Lookup(ctx, upc)
	})
}

func (c *Client) cached(ctx context.Context, key string, fetch func() (*upcitemdb.Item, error)) (*upcitemdb.Item, error) {
	item, found, err := c.cache.Get(ctx, key)
	if err != nil {
		zap.L().Warn("lookupcache: get failed", zap.String("key", key), zap.Error(err))
	} else if found {
		return item, nil
	}

	item, err = fetch()
	if err != nil {
		return nil, err
	}
	if err := c.cache.Set(ctx, key, item); err != nil {
		zap.L().Warn("lookupcache: set failed", zap.String("key", key), zap.Error(err))
	}
	return item, nil
}
