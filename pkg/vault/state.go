// 文件: pkg/vault/state.go
// 金库账本状态
//
// sdkmath.Int 的运算都返回新值，State 按值复制即得到完整快照

package vault

import (
	sdkmath "cosmossdk.io/math"

	"max.com/perpvault/pkg/fixedpoint"
	"max.com/perpvault/pkg/perp"
)

// FundingState 资金费率账本
type FundingState struct {
	// CumulativeFundingRate 市场开启以来的累计资金费率
	CumulativeFundingRate sdkmath.Int `json:"cumulative_funding_rate"`

	LastRecomputedFundingRate sdkmath.Int `json:"last_recomputed_funding_rate"`

	// LastRecomputedFundingTimestamp 上次结算时间 (Unix 秒，单调不减)
	LastRecomputedFundingTimestamp int64 `json:"last_recomputed_funding_timestamp"`

	MaxFundingVelocity sdkmath.Int `json:"max_funding_velocity"`
	MaxSkewVelocity    sdkmath.Int `json:"max_skew_velocity"`
}

// Pool LP 资金池
type Pool struct {
	// LpTotalDepositedLiquidity 全部 LP 份额背后的抵押品，永不为负
	LpTotalDepositedLiquidity sdkmath.Int `json:"lp_total_deposited_liquidity"`

	// LpTotalDepositedLiquidityCap 存入上限
	LpTotalDepositedLiquidityCap sdkmath.Int `json:"lp_total_deposited_liquidity_cap"`
}

// State 金库全部可变状态
type State struct {
	Global  perp.GlobalPositions `json:"global"`
	Funding FundingState         `json:"funding"`
	Pool    Pool                 `json:"pool"`

	// SkewFractionMax 多头规模 / LP 流动性 的上限
	SkewFractionMax sdkmath.Int `json:"skew_fraction_max"`
}

// Skew 多头保证金 - LP 流动性
func (s State) Skew() sdkmath.Int {
	return s.Global.TotalDepositedMargin.Sub(s.Pool.LpTotalDepositedLiquidity)
}

// fundingInput 当前状态下的资金费公式输入
func (s State) fundingInput(now int64) perp.FundingInput {
	return perp.FundingInput{
		Skew:                           s.Skew(),
		TotalLiquidity:                 s.Pool.LpTotalDepositedLiquidity,
		LastRecomputedFundingRate:      s.Funding.LastRecomputedFundingRate,
		LastRecomputedFundingTimestamp: s.Funding.LastRecomputedFundingTimestamp,
		MaxFundingVelocity:             s.Funding.MaxFundingVelocity,
		MaxSkewVelocity:                s.Funding.MaxSkewVelocity,
		Now:                            now,
	}
}

func newState(params Params, now int64) State {
	return State{
		Global: perp.GlobalPositions{
			TotalDepositedMargin: fixedpoint.Zero(),
			TotalOpenedPositions: fixedpoint.Zero(),
			LastPrice:            fixedpoint.Zero(),
		},
		Funding: FundingState{
			CumulativeFundingRate:          fixedpoint.Zero(),
			LastRecomputedFundingRate:      fixedpoint.Zero(),
			LastRecomputedFundingTimestamp: now,
			MaxFundingVelocity:             params.MaxFundingVelocity,
			MaxSkewVelocity:                params.MaxSkewVelocity,
		},
		Pool: Pool{
			LpTotalDepositedLiquidity:    fixedpoint.Zero(),
			LpTotalDepositedLiquidityCap: params.LpTotalDepositedLiquidityCap,
		},
		SkewFractionMax: params.SkewFractionMax,
	}
}
