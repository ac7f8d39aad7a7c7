// 文件: pkg/order/model.go
// 延迟订单模型
//
// 【状态】
// 每个账户一个订单槽: None -> Pending(Deposit | Withdraw) -> None
// 公告写入槽位，执行 / 取消 / 再次公告清空槽位

package order

import (
	sdkmath "cosmossdk.io/math"

	"max.com/perpvault/pkg/registry"
)

// =============================================================================
// 订单类型
// =============================================================================

type Type int8

const (
	TypeNone Type = iota
	TypeDeposit
	TypeWithdraw
)

func (t Type) String() string {
	switch t {
	case TypeNone:
		return "NONE"
	case TypeDeposit:
		return "DEPOSIT"
	case TypeWithdraw:
		return "WITHDRAW"
	}
	return "UNKNOWN"
}

// =============================================================================
// 订单数据 (只有两种变体)
// =============================================================================

// Data 订单负载，DepositData 或 WithdrawData
type Data interface {
	orderType() Type
}

// DepositData 存入抵押品
type DepositData struct {
	Amount       sdkmath.Int // 抵押品数量
	MinAmountOut sdkmath.Int // 最少获得份额
}

// WithdrawData 提取抵押品
type WithdrawData struct {
	Amount       sdkmath.Int // 销毁份额数量
	MinAmountOut sdkmath.Int // 扣除费用后最少获得抵押品
}

func (DepositData) orderType() Type  { return TypeDeposit }
func (WithdrawData) orderType() Type { return TypeWithdraw }

// =============================================================================
// Order
// =============================================================================

type Order struct {
	ID               int64 // 雪花ID
	Account          registry.Address
	Data             Data
	KeeperFee        sdkmath.Int
	ExecutableAtTime int64 // Unix 秒
}

// Type 订单类型
func (o Order) Type() Type {
	if o.Data == nil {
		return TypeNone
	}
	return o.Data.orderType()
}

// Expired now 是否已超过可执行窗口
func (o Order) Expired(now int64, maxAge int64) bool {
	return now > o.ExecutableAtTime+maxAge
}
