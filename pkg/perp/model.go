// 文件: pkg/perp/model.go
// 永续仓位 / 全局仓位数据结构
//
// 所有字段都是 1e18 定点数 (见 pkg/fixedpoint)

package perp

import (
	"errors"

	sdkmath "cosmossdk.io/math"
)

// =============================================================================
// 错误定义
// =============================================================================

var (
	// ErrInvariantViolation 内部一致性被破坏 (代码缺陷，不是用户错误)
	ErrInvariantViolation = errors.New("perp: invariant violation")
)

// =============================================================================
// Position - 单个杠杆仓位
// =============================================================================

// Position 杠杆仓位 (以仓位 ID 为键，由外部模块创建)
type Position struct {
	AverageEntryPrice sdkmath.Int `json:"average_entry_price"`
	MarginDeposited   sdkmath.Int `json:"margin_deposited"`
	AdditionalSize    sdkmath.Int `json:"additional_size"`

	// EntryCumulativeFunding 开仓时的累计资金费率快照
	// 资金费 = 仓位大小 × (快照 - 当前累计)
	EntryCumulativeFunding sdkmath.Int `json:"entry_cumulative_funding"`
}

// IsZero 仓位已关闭
func (p Position) IsZero() bool {
	return p.AdditionalSize.IsNil() || p.AdditionalSize.IsZero()
}

// =============================================================================
// GlobalPositions - 全局聚合仓位
// =============================================================================

// GlobalPositions 所有杠杆仓位的聚合
type GlobalPositions struct {
	// TotalDepositedMargin 所有仓位的保证金总和 (结算后必须 >= 0)
	TotalDepositedMargin sdkmath.Int `json:"total_deposited_margin"`

	// TotalOpenedPositions 所有仓位的名义大小总和 (资金费乘数)
	TotalOpenedPositions sdkmath.Int `json:"total_opened_positions"`

	// LastPrice 上次更新全局数据时的价格，用于计算全局未实现盈亏
	LastPrice sdkmath.Int `json:"last_price"`
}

// PositionRecap 仓位结算摘要
type PositionRecap struct {
	ProfitLoss     sdkmath.Int `json:"profit_loss"`
	AccruedFunding sdkmath.Int `json:"accrued_funding"`

	// SettledMargin = 保证金 + 盈亏 + 资金费
	SettledMargin sdkmath.Int `json:"settled_margin"`
}

// LiquidationParams 强平参数
type LiquidationParams struct {
	FeeRatio      sdkmath.Int // 强平费率 (按仓位价值)
	BufferRatio   sdkmath.Int // 强平缓冲 (按仓位大小)
	FeeUpperBound sdkmath.Int // 强平费上限 (USD)
	FeeLowerBound sdkmath.Int // 强平费下限 (USD)
}
