// 文件: pkg/oracle/oracle.go
// 价格预言机接口
//
// 【说明】
// 价格聚合、链下喂价不在本模块范围内
// 这里只定义引擎需要的能力: 取价 + 过期/异常检查

package oracle

import (
	"context"
	"errors"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"

	"max.com/perpvault/pkg/fixedpoint"
)

// =============================================================================
// 错误定义
// =============================================================================

var (
	ErrPriceStale              = errors.New("oracle: price stale")
	ErrInvalidPrice            = errors.New("oracle: invalid price")
	ErrExcessivePriceDeviation = errors.New("oracle: excessive price deviation")
)

// =============================================================================
// 接口
// =============================================================================

// Price 价格 + 时间戳 (Unix 秒)
type Price struct {
	Price     sdkmath.Int
	Timestamp int64
}

// PriceOracle 价格预言机
type PriceOracle interface {
	// GetPrice 使用默认最大时效取价
	GetPrice(ctx context.Context) (Price, error)

	// GetPriceMaxAge 要求价格不早于 now - maxAge
	GetPriceMaxAge(ctx context.Context, maxAge time.Duration) (Price, error)
}

// Config 校验参数
type Config struct {
	// MaxAge 默认最大时效
	MaxAge time.Duration

	// MaxDeviation 与参考价格的最大偏离 (1e18 = 100%)，为 0 表示不检查
	MaxDeviation sdkmath.Int
}

// DefaultConfig 默认 24 小时时效，偏离 1%
func DefaultConfig() Config {
	return Config{
		MaxAge:       24 * time.Hour,
		MaxDeviation: fixedpoint.MustFromDecimalString("0.01"),
	}
}

// =============================================================================
// 校验
// =============================================================================

// validate 价格有效性 + 时效
func validate(p Price, now time.Time, maxAge time.Duration) error {
	if p.Price.IsNil() || !p.Price.IsPositive() {
		return fmt.Errorf("%w: %v", ErrInvalidPrice, p.Price)
	}
	if p.Timestamp > now.Unix() {
		return fmt.Errorf("%w: timestamp %d in the future", ErrInvalidPrice, p.Timestamp)
	}
	if now.Unix()-p.Timestamp > int64(maxAge/time.Second) {
		return fmt.Errorf("%w: age %ds > %s", ErrPriceStale, now.Unix()-p.Timestamp, maxAge)
	}
	return nil
}

// checkDeviation |price - reference| / reference <= maxDeviation
func checkDeviation(price, reference, maxDeviation sdkmath.Int) error {
	if maxDeviation.IsNil() || maxDeviation.IsZero() || reference.IsNil() || !reference.IsPositive() {
		return nil
	}
	diff := fixedpoint.DivDecimal(price.Sub(reference).Abs(), reference)
	if diff.GT(maxDeviation) {
		return fmt.Errorf("%w: %s vs reference %s", ErrExcessivePriceDeviation,
			fixedpoint.Format(price), fixedpoint.Format(reference))
	}
	return nil
}
