// 文件: pkg/vault/tx.go
// 金库事务
//
// 【语义】
// - Begin 加锁并记录状态快照
// - 事务内所有检查 + 修改直接作用在金库状态上
// - Commit 后 End 发布缓冲的事件
// - 未 Commit 的事务在 End 时恢复快照，并逆序执行外部协作者注册的补偿
//
// 【权限】
// Begin 开启的事务是匿名的，只能做无权限操作 (结算资金费 / 检查)
// BeginAs 以模块身份开启，修改流动性和全局仓位需要 PermModule
//
// 【重入】
// 事务 ctx 携带金库标记，协作者若带着该 ctx 回调金库，Begin 直接失败 (ErrReentrantCall)
// 金库锁不可重入: 事务内调用协作者必须传 tx.Context()，换成新 ctx 回调金库会死锁

package vault

import (
	"context"
	"fmt"

	"max.com/perpvault/pkg/event"
	"max.com/perpvault/pkg/perp"
	"max.com/perpvault/pkg/registry"
)

type txKey struct{ v *Vault }

// Tx 金库事务 (不可跨 goroutine 使用)
type Tx struct {
	v        *Vault
	ctx      context.Context
	caller   registry.Address
	now      int64
	snapshot State

	events    []event.Event
	rollbacks []func(ctx context.Context) error

	committed bool
	closed    bool
}

// Begin 开启匿名事务
func (v *Vault) Begin(ctx context.Context) (*Tx, error) {
	return v.BeginAs(ctx, registry.ZeroAddress)
}

// BeginAs 以 caller 身份开启事务
//
// 只能通过 ctx 识别重入，事务内的协作者必须使用 tx.Context()
func (v *Vault) BeginAs(ctx context.Context, caller registry.Address) (*Tx, error) {
	if ctx.Value(txKey{v}) != nil {
		return nil, ErrReentrantCall
	}

	v.mu.Lock()
	return &Tx{
		v:        v,
		ctx:      context.WithValue(ctx, txKey{v}, true),
		caller:   caller,
		now:      v.clock().Unix(),
		snapshot: v.state,
	}, nil
}

// Context 调用协作者时使用的 ctx
func (tx *Tx) Context() context.Context {
	return tx.ctx
}

// Now 事务时间 (整个事务内不变)
func (tx *Tx) Now() int64 {
	return tx.now
}

// Vault 所属金库
func (tx *Tx) Vault() *Vault {
	return tx.v
}

// State 当前事务内状态
func (tx *Tx) State() State {
	return tx.v.state
}

// Caller 事务发起者
func (tx *Tx) Caller() registry.Address {
	return tx.caller
}

func (tx *Tx) requireModule() error {
	return tx.v.registry.Authorize(tx.caller, registry.PermModule)
}

// Emit 缓冲事件，提交后发布
func (tx *Tx) Emit(e event.Event) {
	tx.events = append(tx.events, e)
}

// OnRollback 注册补偿操作 (撤销已完成的外部写入)
func (tx *Tx) OnRollback(fn func(ctx context.Context) error) {
	tx.rollbacks = append(tx.rollbacks, fn)
}

// Commit 校验不变量并标记提交
func (tx *Tx) Commit() error {
	if tx.closed || tx.committed {
		return ErrTxClosed
	}
	if err := tx.checkInvariants(); err != nil {
		return err
	}
	tx.committed = true
	return nil
}

// End 结束事务 (defer 调用)
func (tx *Tx) End() {
	if tx.closed {
		return
	}
	tx.closed = true
	defer tx.v.mu.Unlock()

	if !tx.committed {
		tx.v.state = tx.snapshot
		tx.compensate()
		return
	}

	for _, e := range tx.events {
		if err := tx.v.emitter.Emit(tx.ctx, e); err != nil {
			tx.v.logger.Error().Err(err).Str("event", string(e.EventType())).Msg("emit event failed")
		}
	}
}

func (tx *Tx) compensate() {
	for i := len(tx.rollbacks) - 1; i >= 0; i-- {
		if err := tx.rollbacks[i](tx.ctx); err != nil {
			tx.v.logger.Error().Err(err).Int("step", i).Msg("rollback compensation failed")
		}
	}
}

func (tx *Tx) checkInvariants() error {
	s := tx.v.state
	if s.Pool.LpTotalDepositedLiquidity.IsNegative() {
		return fmt.Errorf("%w: lp liquidity %s", perp.ErrInvariantViolation, s.Pool.LpTotalDepositedLiquidity)
	}
	if s.Global.TotalDepositedMargin.IsNegative() {
		return fmt.Errorf("%w: %w: margin total %s", perp.ErrInvariantViolation, ErrInsufficientGlobalMargin, s.Global.TotalDepositedMargin)
	}
	if s.Global.TotalOpenedPositions.IsNegative() {
		return fmt.Errorf("%w: opened positions %s", perp.ErrInvariantViolation, s.Global.TotalOpenedPositions)
	}
	ts, prev := s.Funding.LastRecomputedFundingTimestamp, tx.snapshot.Funding.LastRecomputedFundingTimestamp
	if ts != prev && (ts < prev || ts > tx.now) {
		return fmt.Errorf("%w: funding timestamp %d", perp.ErrInvariantViolation, ts)
	}
	return nil
}
