package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client, "fieldsync:")
}

func TestRedisKVRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestRedis(t)

	val, err := s.Get(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, val, "absent key returns nil, nil")

	require.NoError(t, s.Set(ctx, TokenKey("p1"), []byte("token-123")))
	val, err = s.Get(ctx, TokenKey("p1"))
	require.NoError(t, err)
	assert.Equal(t, []byte("token-123"), val)

	require.NoError(t, s.Delete(ctx, TokenKey("p1")))
	val, err = s.Get(ctx, TokenKey("p1"))
	require.NoError(t, err)
	assert.Nil(t, val)
}

func TestRedisKeyPrefix(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	s := NewRedisStore(client, "fieldsync:")
	require.NoError(t, s.Set(ctx, KeyQueue, []byte(`[]`)))

	raw, err := mr.Get("fieldsync:" + KeyQueue)
	require.NoError(t, err)
	assert.Equal(t, `[]`, raw)
}

func TestPing(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, Ping(context.Background(), client))

	unreachable := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond})
	t.Cleanup(func() { _ = unreachable.Close() })
	assert.Error(t, Ping(context.Background(), unreachable))
}

func TestRedisNilClient(t *testing.T) {
	s := NewRedisStore(nil, "")
	_, err := s.Get(context.Background(), "k")
	assert.Error(t, err)
	assert.Error(t, s.Set(context.Background(), "k", nil))
}
