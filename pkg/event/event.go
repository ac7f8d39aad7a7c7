// 文件: pkg/event/event.go
// 金库领域事件
//
// 【发布时机】
// 事件在事务内缓冲，只有事务提交后才会发出
// 失败回滚的操作不会产生任何事件

package event

import (
	"encoding/json"
	"fmt"

	sdkmath "cosmossdk.io/math"

	"max.com/perpvault/pkg/perp"
	"max.com/perpvault/pkg/registry"
)

// Type 事件类型
type Type string

const (
	TypeFundingFeesSettled Type = "FundingFeesSettled"
	TypeOrderAnnounced     Type = "OrderAnnounced"
	TypeOrderExecuted      Type = "OrderExecuted"
	TypeOrderCancelled     Type = "OrderCancelled"
	TypeDeposit            Type = "Deposit"
	TypeWithdraw           Type = "Withdraw"
	TypePositionLiquidated Type = "PositionLiquidated"
)

// Event 所有事件实现此接口
type Event interface {
	EventType() Type
}

// =============================================================================
// 事件定义
// =============================================================================

// FundingFeesSettled 资金费结算
type FundingFeesSettled struct {
	SettledFundingFee     sdkmath.Int `json:"settled_funding_fee"`
	CumulativeFundingRate sdkmath.Int `json:"cumulative_funding_rate"`
	FundingRate           sdkmath.Int `json:"funding_rate"`
	Timestamp             int64       `json:"timestamp"`
}

// OrderAnnounced 订单公告
type OrderAnnounced struct {
	OrderID          int64            `json:"order_id"`
	Account          registry.Address `json:"account"`
	OrderType        string           `json:"order_type"`
	KeeperFee        sdkmath.Int      `json:"keeper_fee"`
	ExecutableAtTime int64            `json:"executable_at_time"`
}

// OrderExecuted 订单执行
type OrderExecuted struct {
	OrderID   int64            `json:"order_id"`
	Account   registry.Address `json:"account"`
	OrderType string           `json:"order_type"`
	Keeper    registry.Address `json:"keeper"`
	KeeperFee sdkmath.Int      `json:"keeper_fee"`
}

// OrderCancelled 订单取消 (过期取消或被新公告替换)
type OrderCancelled struct {
	OrderID   int64            `json:"order_id"`
	Account   registry.Address `json:"account"`
	OrderType string           `json:"order_type"`
	Reason    string           `json:"reason"`
}

// Deposit LP 存入
type Deposit struct {
	Account       registry.Address `json:"account"`
	DepositAmount sdkmath.Int      `json:"deposit_amount"`
	MintedAmount  sdkmath.Int      `json:"minted_amount"`
}

// Withdraw LP 提取
type Withdraw struct {
	Account        registry.Address `json:"account"`
	WithdrawAmount sdkmath.Int      `json:"withdraw_amount"`
	BurnedAmount   sdkmath.Int      `json:"burned_amount"`
	WithdrawFee    sdkmath.Int      `json:"withdraw_fee"`
}

// PositionLiquidated 仓位被清算
type PositionLiquidated struct {
	TokenID        uint64             `json:"token_id"`
	Liquidator     registry.Address   `json:"liquidator"`
	LiquidationFee sdkmath.Int        `json:"liquidation_fee"`
	ClosePrice     sdkmath.Int        `json:"close_price"`
	Summary        perp.PositionRecap `json:"summary"`
}

func (FundingFeesSettled) EventType() Type { return TypeFundingFeesSettled }
func (OrderAnnounced) EventType() Type     { return TypeOrderAnnounced }
func (OrderExecuted) EventType() Type      { return TypeOrderExecuted }
func (OrderCancelled) EventType() Type     { return TypeOrderCancelled }
func (Deposit) EventType() Type            { return TypeDeposit }
func (Withdraw) EventType() Type           { return TypeWithdraw }
func (PositionLiquidated) EventType() Type { return TypePositionLiquidated }

// =============================================================================
// 序列化
// =============================================================================

// Envelope 传输格式 (NATS / Kafka / 审计表)
type Envelope struct {
	Type    Type            `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Marshal 编码为 Envelope JSON
func Marshal(e Event) ([]byte, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", e.EventType(), err)
	}
	return json.Marshal(Envelope{Type: e.EventType(), Payload: payload})
}

// Unmarshal 解码 Envelope，返回值类型的事件 (与发布时一致)
func Unmarshal(data []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}

	switch env.Type {
	case TypeFundingFeesSettled:
		return decode[FundingFeesSettled](env)
	case TypeOrderAnnounced:
		return decode[OrderAnnounced](env)
	case TypeOrderExecuted:
		return decode[OrderExecuted](env)
	case TypeOrderCancelled:
		return decode[OrderCancelled](env)
	case TypeDeposit:
		return decode[Deposit](env)
	case TypeWithdraw:
		return decode[Withdraw](env)
	case TypePositionLiquidated:
		return decode[PositionLiquidated](env)
	default:
		return nil, fmt.Errorf("unknown event type %q", env.Type)
	}
}

func decode[T Event](env Envelope) (Event, error) {
	var v T
	if err := json.Unmarshal(env.Payload, &v); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", env.Type, err)
	}
	return v, nil
}

// Key 事件归属 (账户地址或仓位 ID)，用作分区 key 和审计索引
func Key(e Event) string {
	switch v := e.(type) {
	case OrderAnnounced:
		return string(v.Account)
	case OrderExecuted:
		return string(v.Account)
	case OrderCancelled:
		return string(v.Account)
	case Deposit:
		return string(v.Account)
	case Withdraw:
		return string(v.Account)
	case PositionLiquidated:
		return fmt.Sprintf("position-%d", v.TokenID)
	default:
		return string(e.EventType())
	}
}
