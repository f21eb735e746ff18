package cadastre

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stwalsh4118/plotsync/internal/models"
)

type countingResolver struct {
	info  *models.CadastralInfo
	err   error
	calls int
}

func (c *countingResolver) Resolve(context.Context, string) (*models.CadastralInfo, error) {
	c.calls++
	return c.info, c.err
}

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestCachedLookup_CachesSuccess(t *testing.T) {
	mr, client := setupTestRedis(t)
	next := &countingResolver{info: &models.CadastralInfo{
		Settlement: "пос. Поддубное",
		CenterLat:  models.FloatPtr(54.7),
		CenterLon:  models.FloatPtr(20.6),
		HasContour: models.BoolPtr(true),
	}}
	cached := NewCachedLookup(next, client, time.Hour, nil)
	ctx := context.Background()

	first, err := cached.Resolve(ctx, "39:03:090913:541")
	require.NoError(t, err)
	second, err := cached.Resolve(ctx, "39:03:090913:541")
	require.NoError(t, err)

	assert.Equal(t, 1, next.calls)
	assert.Equal(t, first.Settlement, second.Settlement)
	require.True(t, second.HasCenter())
	assert.Equal(t, 54.7, *second.CenterLat)
	assert.True(t, *second.HasContour)
	assert.True(t, mr.Exists(KeyPrefix+"39:03:090913:541"))
	assert.Equal(t, time.Hour, mr.TTL(KeyPrefix+"39:03:090913:541"))
}

func TestCachedLookup_ExpiredEntryRefetched(t *testing.T) {
	mr, client := setupTestRedis(t)
	next := &countingResolver{info: &models.CadastralInfo{Settlement: "X"}}
	cached := NewCachedLookup(next, client, time.Minute, nil)
	ctx := context.Background()

	_, err := cached.Resolve(ctx, "a")
	require.NoError(t, err)
	mr.FastForward(2 * time.Minute)
	_, err = cached.Resolve(ctx, "a")
	require.NoError(t, err)

	assert.Equal(t, 2, next.calls)
}

func TestCachedLookup_FailuresNotCached(t *testing.T) {
	mr, client := setupTestRedis(t)
	next := &countingResolver{err: ErrNotFound}
	cached := NewCachedLookup(next, client, time.Hour, nil)

	_, err := cached.Resolve(context.Background(), "a")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = cached.Resolve(context.Background(), "a")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Equal(t, 2, next.calls)
	assert.False(t, mr.Exists(KeyPrefix+"a"))
}

func TestCachedLookup_RedisDownFallsThrough(t *testing.T) {
	mr, client := setupTestRedis(t)
	mr.Close()
	next := &countingResolver{info: &models.CadastralInfo{Settlement: "X"}}

	info, err := NewCachedLookup(next, client, time.Hour, nil).Resolve(context.Background(), "a")

	require.NoError(t, err)
	assert.Equal(t, "X", info.Settlement)
	assert.Equal(t, 1, next.calls)
}

func TestCachedLookup_UnreadableEntryIgnored(t *testing.T) {
	mr, client := setupTestRedis(t)
	require.NoError(t, mr.Set(KeyPrefix+"a", "not json"))
	next := &countingResolver{info: &models.CadastralInfo{Settlement: "X"}}

	info, err := NewCachedLookup(next, client, time.Hour, nil).Resolve(context.Background(), "a")

	require.NoError(t, err)
	assert.Equal(t, "X", info.Settlement)
	assert.Equal(t, 1, next.calls)
}

func TestNewRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := NewRedisClient(context.Background(), mr.Addr(), "", 0)
	require.NoError(t, err)
	client.Close()

	mr.Close()
	_, err = NewRedisClient(context.Background(), mr.Addr(), "", 0)
	assert.Error(t, err)
	assert.False(t, errors.Is(err, redis.Nil))
}
