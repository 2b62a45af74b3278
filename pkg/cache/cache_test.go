package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	Total int    `json:"total"`
	Name  string `json:"name"`
}

func newTestCache(t *testing.T, ttl time.Duration) (*Cache, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return New(client, ttl), mr
}

func TestCache_RoundTrip(t *testing.T) {
	c, _ := newTestCache(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, c.SetJSON(ctx, KeyDecisionQueue, payload{Total: 7, Name: "queue"}))

	var out payload
	hit, err := c.GetJSON(ctx, KeyDecisionQueue, &out)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, payload{Total: 7, Name: "queue"}, out)
}

func TestCache_MissIsNotAnError(t *testing.T) {
	c, _ := newTestCache(t, time.Minute)

	var out payload
	hit, err := c.GetJSON(context.Background(), "nope", &out)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestCache_EntriesExpire(t *testing.T) {
	c, mr := newTestCache(t, 45*time.Second)
	ctx := context.Background()

	require.NoError(t, c.SetJSON(ctx, KeyPortfolioRollup, payload{Total: 1}))
	mr.FastForward(46 * time.Second)

	var out payload
	hit, err := c.GetJSON(ctx, KeyPortfolioRollup, &out)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestCache_Invalidate(t *testing.T) {
	c, _ := newTestCache(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, c.SetJSON(ctx, KeyDecisionQueue, payload{Total: 3}))
	require.NoError(t, c.Invalidate(ctx, KeyDecisionQueue, KeyPortfolioRollup))

	var out payload
	hit, err := c.GetJSON(ctx, KeyDecisionQueue, &out)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestCache_CorruptEntryIsAMiss(t *testing.T) {
	c, mr := newTestCache(t, time.Minute)

	require.NoError(t, mr.Set(KeyDecisionQueue, "{not json"))

	var out payload
	hit, err := c.GetJSON(context.Background(), KeyDecisionQueue, &out)
	require.NoError(t, err)
	assert.False(t, hit)
}
