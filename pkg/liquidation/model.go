// 文件: pkg/liquidation/model.go
// 强平参数 / 结果 / 错误定义

package liquidation

import (
	"errors"

	sdkmath "cosmossdk.io/math"

	"max.com/perpvault/pkg/fixedpoint"
	"max.com/perpvault/pkg/perp"
	"max.com/perpvault/pkg/registry"
)

// =============================================================================
// 错误定义
// =============================================================================

var (
	ErrNotLiquidatable = errors.New("liquidation: position not liquidatable")
	ErrInvalidValue    = errors.New("liquidation: invalid value")
	ErrInvalidBounds   = errors.New("liquidation: invalid fee bounds")
)

// =============================================================================
// 参数
// =============================================================================

// DefaultParams 强平费 0.5%，缓冲 0.5%，费用区间 [1, 100] USD
func DefaultParams() perp.LiquidationParams {
	return perp.LiquidationParams{
		FeeRatio:      fixedpoint.MustFromDecimalString("0.005"),
		BufferRatio:   fixedpoint.MustFromDecimalString("0.005"),
		FeeUpperBound: fixedpoint.Units(100),
		FeeLowerBound: fixedpoint.Units(1),
	}
}

func validateParams(p perp.LiquidationParams) error {
	if p.FeeRatio.IsNil() || !p.FeeRatio.IsPositive() {
		return ErrInvalidValue
	}
	if p.BufferRatio.IsNil() || !p.BufferRatio.IsPositive() {
		return ErrInvalidValue
	}
	return validateBounds(p.FeeLowerBound, p.FeeUpperBound)
}

func validateBounds(lower, upper sdkmath.Int) error {
	if lower.IsNil() || upper.IsNil() || !lower.IsPositive() || !upper.IsPositive() {
		return ErrInvalidValue
	}
	if lower.GTE(upper) {
		return ErrInvalidBounds
	}
	return nil
}

// =============================================================================
// 结果
// =============================================================================

// Result 一次强平的结算结果
type Result struct {
	TokenID    uint64
	Liquidator registry.Address
	Price      sdkmath.Int

	// Fee 实际支付给清算人的费用 (抵押品)
	Fee sdkmath.Int

	// PoolDelta 计入 LP 流动性的变化
	PoolDelta sdkmath.Int

	Recap perp.PositionRecap
}
