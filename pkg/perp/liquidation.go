// 文件: pkg/perp/liquidation.go
// 强平公式
//
// 【强平条件】
// 结算后保证金 <= 最低强平保证金
// 最低强平保证金 = 仓位大小 × 缓冲率 + 强平费
//
// 【强平费上下限】
// 强平费按仓位价值收取，但限制在 [下限, 上限] (USD) 内
// 价格极端时，既不会让强平人无利可图，也不会让费用过高

package perp

import (
	sdkmath "cosmossdk.io/math"

	"max.com/perpvault/pkg/fixedpoint"
)

// LiquidationFee 强平费 (以抵押品计价)
func LiquidationFee(size, feeRatio, upperBound, lowerBound, price sdkmath.Int) sdkmath.Int {
	if !price.IsPositive() {
		return sdkmath.ZeroInt()
	}

	positionValue := fixedpoint.MulDecimal(size, price)
	fee := fixedpoint.MulDecimal(positionValue, feeRatio)

	// 先上限，再下限
	if fee.GT(upperBound) {
		fee = upperBound
	}
	if fee.LT(lowerBound) {
		fee = lowerBound
	}

	return fixedpoint.DivDecimal(fee, price)
}

// LiquidationMargin 最低强平保证金
func LiquidationMargin(size sdkmath.Int, params LiquidationParams, price sdkmath.Int) sdkmath.Int {
	buffer := fixedpoint.MulDecimal(size, params.BufferRatio)
	fee := LiquidationFee(size, params.FeeRatio, params.FeeUpperBound, params.FeeLowerBound, price)
	return buffer.Add(fee)
}

// CanLiquidate 仓位是否可被强平
func CanLiquidate(position Position, price, nextFundingEntry sdkmath.Int, params LiquidationParams) bool {
	if position.IsZero() {
		return false
	}

	recap := GetPositionRecap(position, nextFundingEntry, price)
	minMargin := LiquidationMargin(position.AdditionalSize, params, price)

	return recap.SettledMargin.LTE(minMargin)
}
