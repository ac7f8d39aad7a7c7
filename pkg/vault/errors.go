// 文件: pkg/vault/errors.go
// 金库错误定义

package vault

import "errors"

var (
	// ===== 事务 =====
	ErrReentrantCall = errors.New("vault: reentrant call")
	ErrTxClosed      = errors.New("vault: transaction already closed")

	// ===== 经济约束 =====
	ErrInsufficientGlobalMargin = errors.New("vault: insufficient global margin")
	ErrLiquidityNegative        = errors.New("vault: lp liquidity would go negative")
	ErrDepositCapReached        = errors.New("vault: deposit cap reached")
	ErrMaxSkewReached           = errors.New("vault: max skew reached")

	// ===== 参数 =====
	ErrInvalidValue = errors.New("vault: invalid value")
)
