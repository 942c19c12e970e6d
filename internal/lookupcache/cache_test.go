package lookupcache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/dupe-finder/pkg/upcitemdb"
)

type countingClient struct {
	item  *upcitemdb.Item
	err   error
	calls int
}

func (c *countingClient) Search(context.Context, string) (*upcitemdb.Item, error) {
	c.calls++
	return c.item, c.err
}

func (c *countingClient) Lookup(context.Context, string) (*upcitemdb.Item, error) {
	c.calls++
	return c.item, c.err
}

type brokenCache struct{}

func (brokenCache) Get(context.Context, string) (*upcitemdb.Item, bool, error) {
	return nil, false, errors.New("redis down")
}

func (brokenCache) Set(context.Context, string, *upcitemdb.Item) error {
	return errors.New("redis down")
}

func TestKey(t *testing.T) {
	assert.Equal(t, "dupes:upc:search:tarte shape tape", Key("search", "  Tarte   Shape TAPE "))
	assert.Equal(t, Key("lookup", "0123"), Key("lookup", "0123 "))
}

func TestClient_CachesHit(t *testing.T) {
	next := &countingClient{item: &upcitemdb.Item{Title: "Shape Tape", UPC: "846733005123"}}
	c := Wrap(next, NewMemory(time.Hour))

	for i := 0; i < 3; i++ {
		item, err := c.Search(context.Background(), "Tarte Shape Tape")
		require.NoError(t, err)
		assert.Equal(t, "846733005123", item.UPC)
	}
	assert.Equal(t, 1, next.calls)
}

func TestClient_CachesMiss(t *testing.T) {
	next := &countingClient{}
	c := Wrap(next, NewMemory(time.Hour))

	for i := 0; i < 2; i++ {
		item, err := c.Lookup(context.Background(), "000")
		require.NoError(t, err)
		assert.Nil(t, item)
	}
	assert.Equal(t, 1, next.calls)
}

func TestClient_ErrorsAreNotCached(t *testing.T) {
	next := &countingClient{err: errors.New("429")}
	c := Wrap(next, NewMemory(time.Hour))

	_, err := c.Search(context.Background(), "x")
	require.Error(t, err)
	_, err = c.Search(context.Background(), "x")
	require.Error(t, err)
	assert.Equal(t, 2, next.calls)
}

func TestClient_BrokenCacheFallsThrough(t *testing.T) {
	next := &countingClient{item: &upcitemdb.Item{Title: "Fit Me"}}
	c := Wrap(next, brokenCache{})

	item, err := c.Search(context.Background(), "fit me")
	require.NoError(t, err)
	assert.Equal(t, "Fit Me", item.Title)
}

func TestWrap_NilCache(t *testing.T) {
	next := &countingClient{}
	assert.Same(t, next, Wrap(next, nil))
}

func TestMemory_Expiry(t *testing.T) {
	m := NewMemory(time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	require.NoError(t, m.Set(context.Background(), "k", &upcitemdb.Item{Title: "a"}))
	_, found, _ := m.Get(context.Background(), "k")
	assert.True(t, found)

	now = now.Add(2 * time.Minute)
	_, found, _ = m.Get(context.Background(), "k")
	assert.False(t, found)
}

func TestNewRedis_BadURL(t *testing.T) {
	_, err := NewRedis(context.Background(), "not-a-url", time.Hour)
	assert.Error(t, err)
}
