// 文件: pkg/order/errors.go
// 订单错误定义

package order

import (
	"errors"

	"max.com/perpvault/pkg/stable"
)

var (
	// ===== 参数 =====
	ErrAmountTooSmall = stable.ErrAmountTooSmall
	ErrZeroValue      = errors.New("order: zero value")

	// ===== 经济约束 =====
	ErrHighSlippage                = stable.ErrHighSlippage
	ErrInvalidFee                  = errors.New("order: keeper fee below minimum")
	ErrWithdrawTooSmall            = errors.New("order: withdraw too small")
	ErrNotEnoughBalanceForWithdraw = errors.New("order: not enough balance for withdraw")
	ErrNotEnoughMarginForFees      = errors.New("order: not enough margin for fees")

	// ===== 时间 =====
	ErrOrderHasExpired            = errors.New("order: order has expired")
	ErrExecutableAtTimeNotReached = errors.New("order: executable at time not reached")
	ErrOrderHasNotExpired         = errors.New("order: order has not expired")

	ErrNoExistingOrder = errors.New("order: no existing order")
)
