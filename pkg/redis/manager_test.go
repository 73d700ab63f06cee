package redis

import (
	"context"
	"strconv"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) (*Manager, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.Host = mr.Host()
	cfg.Port = port

	m, err := NewManager(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m, mr
}

type row struct {
	ID   int64
	Name string
}

func TestGetSetValue(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Ping(ctx))

	key := m.Key("app", "posts", "find_by_id", "1")
	var got row
	err := m.GetValue(ctx, key, &got)
	assert.True(t, IsKeyNotFound(err))

	require.NoError(t, m.SetValue(ctx, key, row{ID: 1, Name: "hello"}))
	require.NoError(t, m.GetValue(ctx, key, &got))
	assert.Equal(t, row{ID: 1, Name: "hello"}, got)

	ok, err := m.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)

	snap := m.GetMetrics()
	assert.Equal(t, uint64(1), snap.CacheHits)
	assert.Equal(t, uint64(1), snap.CacheMisses)
	assert.Equal(t, uint64(1), snap.SetOperations)
}

func TestInvalidateTable(t *testing.T) {
	m, mr := newTestManager(t)
	ctx := context.Background()

	for _, k := range []string{
		m.Key("app", "posts", "find_by_id", "1"),
		m.Key("app", "posts", "find_all"),
		m.Key("app", "comments", "find_all"),
		m.Key("other", "posts", "find_all"),
	} {
		require.NoError(t, m.Set(ctx, k, []byte("x")))
	}

	require.NoError(t, m.InvalidateTable(ctx, "app", "posts"))

	assert.False(t, mr.Exists("cascade4go:app:posts:find_by_id:1"))
	assert.False(t, mr.Exists("cascade4go:app:posts:find_all"))
	assert.True(t, mr.Exists("cascade4go:app:comments:find_all"))
	assert.True(t, mr.Exists("cascade4go:other:posts:find_all"))

	snap := m.GetMetrics()
	assert.Equal(t, uint64(1), snap.InvalidationCount)
	assert.Equal(t, uint64(2), snap.InvalidatedKeys)
}

func TestDelete(t *testing.T) {
	m, mr := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "a", []byte("1")))
	require.NoError(t, m.Set(ctx, "b", []byte("2")))
	require.NoError(t, m.Delete(ctx, "a", "b"))
	require.NoError(t, m.Delete(ctx))

	assert.False(t, mr.Exists("a"))
	assert.False(t, mr.Exists("b"))
}

func TestValueTooLarge(t *testing.T) {
	m, _ := newTestManager(t)
	m.config.MaxValueSize = 4

	err := m.Set(context.Background(), "k", []byte("12345"))
	assert.ErrorIs(t, err, ErrValueTooLarge)
}

func TestSerializationFailure(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k", []byte{0xc1}))
	var got row
	assert.ErrorIs(t, m.GetValue(ctx, "k", &got), ErrSerializationFailed)
}

func TestDisabledCache(t *testing.T) {
	m, err := NewManager(&Config{Enabled: false})
	require.NoError(t, err)
	ctx := context.Background()

	assert.NoError(t, m.Ping(ctx))
	assert.True(t, IsCacheDisabled(m.Set(ctx, "k", nil)))
	_, err = m.Get(ctx, "k")
	assert.True(t, IsCacheDisabled(err))
	assert.True(t, IsCacheDisabled(m.InvalidateTable(ctx, "app", "posts")))
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())

	cfg.Host = ""
	assert.Error(t, cfg.Validate())

	cfg.Cluster = ClusterConfig{Enabled: true, Addresses: []string{"a:1", "b:1"}}
	assert.NoError(t, cfg.Validate())
	assert.True(t, cfg.IsClusterMode())

	cfg = DefaultConfig()
	cfg.DefaultTTL = 0
	assert.Error(t, cfg.Validate())

	_, err := NewManager(nil)
	assert.Error(t, err)
}

func TestQueryHash(t *testing.T) {
	a := QueryHash("author_id = ?", 7)
	assert.Len(t, a, 12)
	assert.Equal(t, a, QueryHash("author_id = ?", 7))
	assert.NotEqual(t, a, QueryHash("author_id = ?", 8))

	m1 := QueryHash(map[string]any{"a": 1, "b": 2})
	m2 := QueryHash(map[string]any{"b": 2, "a": 1})
	assert.Equal(t, m1, m2)
}
