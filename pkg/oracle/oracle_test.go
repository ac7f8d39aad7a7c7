package oracle

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"max.com/perpvault/pkg/fixedpoint"
)

func fixedClock(ts int64) func() time.Time {
	return func() time.Time { return time.Unix(ts, 0) }
}

func TestMemoryOracle_Fresh(t *testing.T) {
	o := NewMemoryOracle(DefaultConfig(), fixedClock(1_000))
	o.SetPrice(fixedpoint.Units(1000), 990)

	p, err := o.GetPrice(context.Background())
	require.NoError(t, err)
	assert.True(t, p.Price.Equal(fixedpoint.Units(1000)))
	assert.Equal(t, int64(990), p.Timestamp)
}

func TestMemoryOracle_Stale(t *testing.T) {
	o := NewMemoryOracle(DefaultConfig(), fixedClock(1_000))
	o.SetPrice(fixedpoint.Units(1000), 900)

	_, err := o.GetPriceMaxAge(context.Background(), 60*time.Second)
	assert.ErrorIs(t, err, ErrPriceStale)

	// 刚好等于 maxAge 仍然有效
	_, err = o.GetPriceMaxAge(context.Background(), 100*time.Second)
	assert.NoError(t, err)
}

func TestMemoryOracle_Invalid(t *testing.T) {
	o := NewMemoryOracle(DefaultConfig(), fixedClock(1_000))

	// 未设置
	_, err := o.GetPrice(context.Background())
	assert.ErrorIs(t, err, ErrInvalidPrice)

	o.SetPrice(fixedpoint.Zero(), 1_000)
	_, err = o.GetPrice(context.Background())
	assert.ErrorIs(t, err, ErrInvalidPrice)

	o.SetPrice(fixedpoint.Units(1), 1_001)
	_, err = o.GetPrice(context.Background())
	assert.ErrorIs(t, err, ErrInvalidPrice)
}

func TestMemoryOracle_Deviation(t *testing.T) {
	o := NewMemoryOracle(DefaultConfig(), fixedClock(1_000))
	o.SetReferencePrice(fixedpoint.Units(1000))

	o.SetPrice(fixedpoint.Units(1005), 1_000)
	_, err := o.GetPrice(context.Background())
	assert.NoError(t, err)

	o.SetPrice(fixedpoint.Units(1020), 1_000)
	_, err = o.GetPrice(context.Background())
	assert.ErrorIs(t, err, ErrExcessivePriceDeviation)
}

func setupRedis(t *testing.T) *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("skipping test; redis not available: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRedisOracle_PublishAndRead(t *testing.T) {
	client := setupRedis(t)
	ctx := context.Background()

	o := NewRedisOracle(client, "test-eth", DefaultConfig())
	o.now = fixedClock(2_000)
	client.Del(ctx, o.key())
	defer client.Del(ctx, o.key())

	_, err := o.GetPrice(ctx)
	assert.ErrorIs(t, err, ErrInvalidPrice)

	require.NoError(t, o.Publish(ctx, fixedpoint.Units(1500), 1_990))
	p, err := o.GetPrice(ctx)
	require.NoError(t, err)
	assert.True(t, p.Price.Equal(fixedpoint.Units(1500)))

	_, err = o.GetPriceMaxAge(ctx, 5*time.Second)
	assert.ErrorIs(t, err, ErrPriceStale)

	require.NoError(t, o.PublishReference(ctx, fixedpoint.Units(1000)))
	_, err = o.GetPrice(ctx)
	assert.ErrorIs(t, err, ErrExcessivePriceDeviation)
}
