// 文件: pkg/vault/funding.go
// 资金费结算
//
// 【流程】
// 1. skew = 多头保证金 - LP 流动性，计算 proportionalSkew
// 2. 按上次费率 / 时间戳 / 速度上限算出 change 和 unrecorded
// 3. 累计费率 += unrecorded，上次费率 += change，时间戳 = now
// 4. 多头应付资金费记入保证金，反向记入 LP 流动性 (两者都不得为负)
// 5. 发出 FundingFeesSettled

package vault

import (
	"fmt"

	sdkmath "cosmossdk.io/math"

	"max.com/perpvault/pkg/event"
	"max.com/perpvault/pkg/fixedpoint"
	"max.com/perpvault/pkg/perp"
)

// SettleFundingFees 结算资金费
//
// 同一时刻重复调用: elapsed = 0，所有增量为 0，状态不变
func (tx *Tx) SettleFundingFees() error {
	s := &tx.v.state
	last := s.Funding.LastRecomputedFundingTimestamp
	if tx.now < last {
		return fmt.Errorf("%w: now %d before last funding timestamp %d", perp.ErrInvariantViolation, tx.now, last)
	}
	if tx.now == last {
		return nil
	}

	out, err := perp.ComputeUnrecordedFunding(s.fundingInput(tx.now))
	if err != nil {
		return err
	}

	fees := perp.AccruedTotalFundingByLongs(s.Global.TotalOpenedPositions, out.UnrecordedFunding)
	liquidity := s.Pool.LpTotalDepositedLiquidity.Sub(fees)
	if liquidity.IsNegative() {
		return fmt.Errorf("%w: funding fees %s exceed liquidity %s",
			ErrLiquidityNegative, fees, s.Pool.LpTotalDepositedLiquidity)
	}

	margin := s.Global.TotalDepositedMargin.Add(fees)
	if margin.IsNegative() {
		return fmt.Errorf("%w: %w: funding fees %s leave margin total %s",
			perp.ErrInvariantViolation, ErrInsufficientGlobalMargin, fixedpoint.Format(fees), fixedpoint.Format(margin))
	}

	s.Funding.CumulativeFundingRate = perp.NextFundingEntry(out.UnrecordedFunding, s.Funding.CumulativeFundingRate)
	s.Funding.LastRecomputedFundingRate = s.Funding.LastRecomputedFundingRate.Add(out.FundingChangeSinceRecomputed)
	s.Funding.LastRecomputedFundingTimestamp = tx.now
	s.Global.TotalDepositedMargin = margin
	s.Pool.LpTotalDepositedLiquidity = liquidity

	tx.Emit(event.FundingFeesSettled{
		SettledFundingFee:     fees,
		CumulativeFundingRate: s.Funding.CumulativeFundingRate,
		FundingRate:           s.Funding.LastRecomputedFundingRate,
		Timestamp:             tx.now,
	})

	tx.v.logger.Debug().
		Str("fees", fixedpoint.Format(fees)).
		Str("cumulative", fixedpoint.Format(s.Funding.CumulativeFundingRate)).
		Int64("elapsed", tx.now-last).
		Msg("funding settled")
	return nil
}

// NextFundingEntry 如果现在结算，累计资金费率会是多少
func (tx *Tx) NextFundingEntry() (sdkmath.Int, error) {
	s := tx.v.state
	if tx.now <= s.Funding.LastRecomputedFundingTimestamp {
		return s.Funding.CumulativeFundingRate, nil
	}

	out, err := perp.ComputeUnrecordedFunding(s.fundingInput(tx.now))
	if err != nil {
		return sdkmath.Int{}, err
	}
	return perp.NextFundingEntry(out.UnrecordedFunding, s.Funding.CumulativeFundingRate), nil
}

// VerifyGlobalMarginStatus 全局保证金不得为负
func (tx *Tx) VerifyGlobalMarginStatus() error {
	margin := tx.v.state.Global.TotalDepositedMargin
	if margin.IsNegative() {
		return fmt.Errorf("%w: %s", ErrInsufficientGlobalMargin, fixedpoint.Format(margin))
	}
	return nil
}
