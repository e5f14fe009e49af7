package storage

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisKV(t *testing.T) *RedisKV {
	t.Helper()
	srv := miniredis.RunT(t)

	kv, err := NewRedisKV(Config{RedisURL: "redis://" + srv.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })
	return kv
}

func TestRedisKV_RawRoundTrip(t *testing.T) {
	ctx := context.Background()
	kv := newTestRedisKV(t)

	_, err := kv.GetRaw(ctx, "cdn/npm/uikit/3.21.0/index.js")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, kv.PutRaw(ctx, "cdn/npm/uikit/3.21.0/index.js", []byte("bytes")))

	got, err := kv.GetRaw(ctx, "cdn/npm/uikit/3.21.0/index.js")
	require.NoError(t, err)
	assert.Equal(t, []byte("bytes"), got)
}

func TestRedisKV_MetaMerge(t *testing.T) {
	ctx := context.Background()
	kv := newTestRedisKV(t)

	_, err := kv.GetMeta(ctx, "cdn/npm/uikit/3.21.0")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, kv.SetMeta(ctx, "cdn/npm/uikit/3.21.0", map[string]string{"a": "1", "b": "2"}))
	require.NoError(t, kv.SetMeta(ctx, "cdn/npm/uikit/3.21.0", map[string]string{"b": "3", "c": "4"}))

	meta, err := kv.GetMeta(ctx, "cdn/npm/uikit/3.21.0")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "1", "b": "3", "c": "4"}, meta)
}

func TestRedisKV_RemovePrefix(t *testing.T) {
	ctx := context.Background()
	kv := newTestRedisKV(t)

	require.NoError(t, kv.PutRaw(ctx, "cdn/npm/react/18.3.1/index.js", []byte("a")))
	require.NoError(t, kv.PutRaw(ctx, "cdn/npm/react/18.3.1/cjs/react.js", []byte("b")))
	require.NoError(t, kv.PutRaw(ctx, "cdn/npm/react-dom/18.3.1/index.js", []byte("c")))
	require.NoError(t, kv.SetMeta(ctx, "cdn/npm/react/18.3.1", map[string]string{"manifest": "{}"}))

	require.NoError(t, kv.Remove(ctx, "cdn/npm/react/18.3.1"))

	_, err := kv.GetRaw(ctx, "cdn/npm/react/18.3.1/index.js")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = kv.GetRaw(ctx, "cdn/npm/react/18.3.1/cjs/react.js")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = kv.GetMeta(ctx, "cdn/npm/react/18.3.1")
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := kv.GetRaw(ctx, "cdn/npm/react-dom/18.3.1/index.js")
	require.NoError(t, err)
	assert.Equal(t, []byte("c"), got)
}

func TestNewRedisKV_BadURL(t *testing.T) {
	_, err := NewRedisKV(Config{RedisURL: "not-a-url"})
	assert.Error(t, err)
}
