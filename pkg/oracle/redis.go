// 文件: pkg/oracle/redis.go
// Redis 预言机
//
// 【数据格式】
// 外部喂价服务写入 Hash: oracle:{market}
//   price      1e18 定点整数字符串
//   timestamp  Unix 秒
//   reference  参考价格 (可选，链上价格等)

package oracle

import (
	"context"
	"fmt"
	"strconv"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/redis/go-redis/v9"
)

const oracleKeyPrefix = "oracle:"

// RedisOracle 从 Redis 读取最新价格
type RedisOracle struct {
	client *redis.Client
	market string
	config Config
	now    func() time.Time
}

func NewRedisOracle(client *redis.Client, market string, cfg Config) *RedisOracle {
	return &RedisOracle{
		client: client,
		market: market,
		config: cfg,
		now:    time.Now,
	}
}

// WithClock 替换时间来源 (模拟器使用虚拟时钟)
func (o *RedisOracle) WithClock(now func() time.Time) *RedisOracle {
	if now != nil {
		o.now = now
	}
	return o
}

func (o *RedisOracle) key() string {
	return oracleKeyPrefix + o.market
}

// Publish 写入价格 (喂价服务 / 测试使用)
func (o *RedisOracle) Publish(ctx context.Context, price sdkmath.Int, timestamp int64) error {
	return o.client.HSet(ctx, o.key(),
		"price", price.String(),
		"timestamp", strconv.FormatInt(timestamp, 10),
	).Err()
}

// PublishReference 写入参考价格
func (o *RedisOracle) PublishReference(ctx context.Context, price sdkmath.Int) error {
	return o.client.HSet(ctx, o.key(), "reference", price.String()).Err()
}

func (o *RedisOracle) GetPrice(ctx context.Context) (Price, error) {
	return o.GetPriceMaxAge(ctx, o.config.MaxAge)
}

func (o *RedisOracle) GetPriceMaxAge(ctx context.Context, maxAge time.Duration) (Price, error) {
	fields, err := o.client.HGetAll(ctx, o.key()).Result()
	if err != nil {
		return Price{}, fmt.Errorf("read oracle %s: %w", o.market, err)
	}
	if len(fields) == 0 {
		return Price{}, fmt.Errorf("%w: no price for %s", ErrInvalidPrice, o.market)
	}

	price, ok := sdkmath.NewIntFromString(fields["price"])
	if !ok {
		return Price{}, fmt.Errorf("%w: malformed price %q", ErrInvalidPrice, fields["price"])
	}
	ts, err := strconv.ParseInt(fields["timestamp"], 10, 64)
	if err != nil {
		return Price{}, fmt.Errorf("%w: malformed timestamp: %v", ErrInvalidPrice, err)
	}

	p := Price{Price: price, Timestamp: ts}
	if err := validate(p, o.now(), maxAge); err != nil {
		return Price{}, err
	}

	if raw, ok := fields["reference"]; ok {
		if ref, ok := sdkmath.NewIntFromString(raw); ok {
			if err := checkDeviation(price, ref, o.config.MaxDeviation); err != nil {
				return Price{}, err
			}
		}
	}
	return p, nil
}
