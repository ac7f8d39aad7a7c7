// 文件: pkg/vault/pool.go
// 资金池 / 全局仓位更新 (仅授权模块在事务内调用)

package vault

import (
	"fmt"

	sdkmath "cosmossdk.io/math"

	"max.com/perpvault/pkg/fixedpoint"
	"max.com/perpvault/pkg/perp"
)

// UpdateLpTotalDepositedLiquidity 调整 LP 流动性，结果为负时失败
func (tx *Tx) UpdateLpTotalDepositedLiquidity(delta sdkmath.Int) error {
	if err := tx.requireModule(); err != nil {
		return err
	}
	s := &tx.v.state
	next := s.Pool.LpTotalDepositedLiquidity.Add(delta)
	if next.IsNegative() {
		return fmt.Errorf("%w: %s + %s", ErrLiquidityNegative,
			fixedpoint.Format(s.Pool.LpTotalDepositedLiquidity), fixedpoint.Format(delta))
	}
	s.Pool.LpTotalDepositedLiquidity = next
	return nil
}

// UpdateGlobalPositionData 按 price 标记全局仓位后叠加本次变化
//
// price 必须是当前市场价: 自上次标记以来多头的总盈亏从 LP 侧转到保证金侧，LastPrice = price
// 移除单个仓位不要用这里，见 RemoveGlobalPosition
func (tx *Tx) UpdateGlobalPositionData(price, marginDelta, sizeDelta sdkmath.Int) error {
	if err := tx.requireModule(); err != nil {
		return err
	}
	if price.IsNil() || !price.IsPositive() {
		return fmt.Errorf("%w: price %v", ErrInvalidValue, price)
	}

	s := &tx.v.state
	plTotal := perp.ProfitLossTotal(s.Global, price)

	margin := s.Global.TotalDepositedMargin.Add(marginDelta).Add(plTotal)
	if margin.IsNegative() {
		return fmt.Errorf("%w: margin total would be %s", ErrInsufficientGlobalMargin, fixedpoint.Format(margin))
	}
	size := s.Global.TotalOpenedPositions.Add(sizeDelta)
	if size.IsNegative() {
		return fmt.Errorf("%w: opened positions would be %s", perp.ErrInvariantViolation, fixedpoint.Format(size))
	}
	liquidity := s.Pool.LpTotalDepositedLiquidity.Sub(plTotal)
	if liquidity.IsNegative() {
		return fmt.Errorf("%w: long pnl %s exceeds liquidity", ErrLiquidityNegative, fixedpoint.Format(plTotal))
	}

	s.Global = perp.GlobalPositions{
		TotalDepositedMargin: margin,
		TotalOpenedPositions: size,
		LastPrice:            price,
	}
	s.Pool.LpTotalDepositedLiquidity = liquidity
	return nil
}

// RemoveGlobalPosition 从全局仓位中移除一个仓位 (强平)
//
// 只减保证金和仓位大小，不按任何价格重新标记: LastPrice 不变，LP 侧不发生盈亏转移
// 被移除仓位的盈亏由调用方直接结算给 LP 池
func (tx *Tx) RemoveGlobalPosition(margin, size sdkmath.Int) error {
	if err := tx.requireModule(); err != nil {
		return err
	}
	if size.IsNil() || size.IsNegative() || margin.IsNil() {
		return fmt.Errorf("%w: remove margin %v size %v", ErrInvalidValue, margin, size)
	}

	s := &tx.v.state
	nextMargin := s.Global.TotalDepositedMargin.Sub(margin)
	if nextMargin.IsNegative() {
		return fmt.Errorf("%w: margin total would be %s", ErrInsufficientGlobalMargin, fixedpoint.Format(nextMargin))
	}
	nextSize := s.Global.TotalOpenedPositions.Sub(size)
	if nextSize.IsNegative() {
		return fmt.Errorf("%w: opened positions would be %s", perp.ErrInvariantViolation, fixedpoint.Format(nextSize))
	}

	s.Global.TotalDepositedMargin = nextMargin
	s.Global.TotalOpenedPositions = nextSize
	return nil
}

// CheckCollateralCap 存入后不得超过上限
func (tx *Tx) CheckCollateralCap(amount sdkmath.Int) error {
	p := tx.v.state.Pool
	if p.LpTotalDepositedLiquidity.Add(amount).GT(p.LpTotalDepositedLiquidityCap) {
		return fmt.Errorf("%w: cap %s", ErrDepositCapReached, fixedpoint.Format(p.LpTotalDepositedLiquidityCap))
	}
	return nil
}

// CheckSkewMax (多头规模 + additionalSkew) / LP 流动性 <= SkewFractionMax
//
// 流动性为 0 时不检查
func (tx *Tx) CheckSkewMax(additionalSkew sdkmath.Int) error {
	s := tx.v.state
	if s.Pool.LpTotalDepositedLiquidity.IsZero() {
		return nil
	}
	fraction := fixedpoint.DivDecimal(s.Global.TotalOpenedPositions.Add(additionalSkew), s.Pool.LpTotalDepositedLiquidity)
	if fraction.GT(s.SkewFractionMax) {
		return fmt.Errorf("%w: %s > %s", ErrMaxSkewReached, fixedpoint.Format(fraction), fixedpoint.Format(s.SkewFractionMax))
	}
	return nil
}
