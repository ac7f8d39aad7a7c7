// 文件: pkg/perp/position.go
// 仓位盈亏 / 资金费 / 结算摘要

package perp

import (
	sdkmath "cosmossdk.io/math"

	"max.com/perpvault/pkg/fixedpoint"
)

// ProfitLoss 仓位未实现盈亏 (以抵押品计价)
//
// 【公式】
// pnl×10 = 仓位大小 × (当前价 - 开仓均价) × 10 / 当前价
// 不能整除 10 时: pnl×10/10 - 1 (多扣 1，偏向 LP 池)
// 能整除 10 时:   pnl×10/10
func ProfitLoss(position Position, price sdkmath.Int) sdkmath.Int {
	if !price.IsPositive() || position.IsZero() {
		return sdkmath.ZeroInt()
	}

	priceShift := price.Sub(position.AverageEntryPrice)
	profitLossTimesTen := position.AdditionalSize.Mul(priceShift).MulRaw(10).Quo(price)

	ten := sdkmath.NewInt(10)
	if !fixedpoint.Rem(profitLossTimesTen, ten).IsZero() {
		return profitLossTimesTen.Quo(ten).SubRaw(1)
	}
	return profitLossTimesTen.Quo(ten)
}

// ProfitLossTotal 全局仓位自上次标记价格 (LastPrice) 以来的盈亏
//
// price 必须是当前市场价，调用方随后把 LastPrice 更新为 price
// 用单个仓位的开仓价调用会把整个全局仓位标记到错误价格
func ProfitLossTotal(global GlobalPositions, price sdkmath.Int) sdkmath.Int {
	if !price.IsPositive() || global.LastPrice.IsNil() || !global.LastPrice.IsPositive() {
		return sdkmath.ZeroInt()
	}
	priceShift := price.Sub(global.LastPrice)
	return fixedpoint.DivDecimal(fixedpoint.MulDecimal(global.TotalOpenedPositions, priceShift), price)
}

// AccruedFunding 开仓以来累计的资金费 (正=收入，负=支出)
func AccruedFunding(position Position, nextFundingEntry sdkmath.Int) sdkmath.Int {
	if position.IsZero() {
		return sdkmath.ZeroInt()
	}
	return fixedpoint.MulDecimal(position.AdditionalSize, position.EntryCumulativeFunding.Sub(nextFundingEntry))
}

// GetPositionRecap 仓位结算摘要
func GetPositionRecap(position Position, nextFundingEntry, price sdkmath.Int) PositionRecap {
	profitLoss := ProfitLoss(position, price)
	accruedFunding := AccruedFunding(position, nextFundingEntry)

	return PositionRecap{
		ProfitLoss:     profitLoss,
		AccruedFunding: accruedFunding,
		SettledMargin:  fixedpoint.OrZero(position.MarginDeposited).Add(profitLoss).Add(accruedFunding),
	}
}
