// 文件: pkg/perp/funding.go
// 资金费率公式 (纯函数)
//
// 【核心公式】
// 比例偏斜   pSkew    = clamp(skew / 总流动性, -1, 1)
// 资金速度   velocity = pSkew × maxFundingVelocity / maxSkewVelocity   (pSkew > 0, 有上限)
//                     = pSkew × maxFundingVelocity                    (pSkew <= 0, 无下限)
// 经过天数   elapsed  = (now - 上次时间) / 86400
// 费率变化   change   = velocity × elapsed
// 当前费率   current  = prev + change
// 未记录资金 unrecorded = (current + prev) / 2 × elapsed   (梯形积分)
// 累计费率   cumulative += unrecorded
//
// 【为什么负向不设上限？】
// 偏斜为负 (LP 多于交易者) 时让费率更快回归，鼓励交易者开仓

package perp

import (
	"fmt"

	sdkmath "cosmossdk.io/math"

	"max.com/perpvault/pkg/fixedpoint"
)

// =============================================================================
// 偏斜与速度
// =============================================================================

// ProportionalSkew 比例偏斜，结果落在 [-UNIT, UNIT]
//
// 流动性为 0 时 skew 必须为 0，否则是内部状态不一致
func ProportionalSkew(skew, totalLiquidity sdkmath.Int) (sdkmath.Int, error) {
	if totalLiquidity.IsPositive() {
		pSkew := fixedpoint.DivDecimal(skew, totalLiquidity)
		return fixedpoint.Clamp(pSkew, fixedpoint.Unit.Neg(), fixedpoint.Unit), nil
	}
	if !skew.IsZero() {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: skew %s with zero liquidity", ErrInvariantViolation, skew)
	}
	return sdkmath.ZeroInt(), nil
}

// AccruedFundingVelocity 资金费率变化速度 (每天)
func AccruedFundingVelocity(pSkew, maxFundingVelocity, maxSkewVelocity sdkmath.Int) sdkmath.Int {
	if pSkew.IsPositive() {
		velocity := fixedpoint.DivDecimal(fixedpoint.MulDecimal(pSkew, maxFundingVelocity), maxSkewVelocity)
		return fixedpoint.Clamp(velocity, maxFundingVelocity.Neg(), maxFundingVelocity)
	}
	return fixedpoint.MulDecimal(pSkew, maxFundingVelocity)
}

// ProportionalElapsedTime 距离上次重算经过的天数 (1e18 精度)
func ProportionalElapsedTime(prevTimestamp, now int64) sdkmath.Int {
	return sdkmath.NewInt(now - prevTimestamp).Mul(fixedpoint.Unit).QuoRaw(fixedpoint.SecondsPerDay)
}

// =============================================================================
// 费率
// =============================================================================

// FundingChangeSinceRecomputed 上次重算以来的费率变化
func FundingChangeSinceRecomputed(velocity, elapsed sdkmath.Int) sdkmath.Int {
	return fixedpoint.MulDecimal(velocity, elapsed)
}

// CurrentFundingRate 当前资金费率
func CurrentFundingRate(prevFundingRate, change sdkmath.Int) sdkmath.Int {
	return prevFundingRate.Add(change)
}

// UnrecordedFunding 上次重算以来未计入累计的资金 (梯形面积)
func UnrecordedFunding(currentFundingRate, prevFundingRate, elapsed sdkmath.Int) sdkmath.Int {
	avg := currentFundingRate.Add(prevFundingRate).QuoRaw(2)
	return fixedpoint.MulDecimal(avg, elapsed)
}

// NextFundingEntry 新的累计资金费率 (updateCumulativeFundingRate)
func NextFundingEntry(unrecordedFunding, cumulativeFundingRate sdkmath.Int) sdkmath.Int {
	return unrecordedFunding.Add(cumulativeFundingRate)
}

// AccruedTotalFundingByLongs 所有杠杆仓位累计应收 (正) / 应付 (负) 的资金费
//
// 结果非 0 时固定 +1，让舍入误差偏向 LP 池
func AccruedTotalFundingByLongs(totalOpenedPositions, unrecordedFunding sdkmath.Int) sdkmath.Int {
	accrued := fixedpoint.MulDecimal(totalOpenedPositions, unrecordedFunding).Neg()
	if !accrued.IsZero() {
		accrued = accrued.AddRaw(1)
	}
	return accrued
}

// =============================================================================
// 组合计算
// =============================================================================

// FundingInput 一次资金费计算需要的状态快照
type FundingInput struct {
	Skew                           sdkmath.Int
	TotalLiquidity                 sdkmath.Int
	LastRecomputedFundingRate      sdkmath.Int
	LastRecomputedFundingTimestamp int64
	MaxFundingVelocity             sdkmath.Int
	MaxSkewVelocity                sdkmath.Int
	Now                            int64
}

// FundingOutput 计算结果
type FundingOutput struct {
	FundingChangeSinceRecomputed sdkmath.Int
	UnrecordedFunding            sdkmath.Int
}

// ComputeUnrecordedFunding 按公式链计算 (change, unrecorded)
//
// 账本结算和强平预估 (calcNextFundingEntry) 共用这一条链，保证两边结果一致
func ComputeUnrecordedFunding(in FundingInput) (FundingOutput, error) {
	pSkew, err := ProportionalSkew(in.Skew, in.TotalLiquidity)
	if err != nil {
		return FundingOutput{}, err
	}

	velocity := AccruedFundingVelocity(pSkew, in.MaxFundingVelocity, in.MaxSkewVelocity)
	elapsed := ProportionalElapsedTime(in.LastRecomputedFundingTimestamp, in.Now)
	change := FundingChangeSinceRecomputed(velocity, elapsed)
	current := CurrentFundingRate(in.LastRecomputedFundingRate, change)

	return FundingOutput{
		FundingChangeSinceRecomputed: change,
		UnrecordedFunding:            UnrecordedFunding(current, in.LastRecomputedFundingRate, elapsed),
	}, nil
}
