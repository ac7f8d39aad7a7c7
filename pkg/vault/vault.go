// 文件: pkg/vault/vault.go
// LP 金库 - 资金费账本 + 资金池 + 全局仓位
//
// 【职责】
// 1. 持有全部共享可变状态 (State)
// 2. 所有修改都在 Tx 内完成，要么全部生效，要么全部回滚
// 3. 对外提供结算资金费、全局保证金检查、授权模块更新、参数设置
//
// 【调用方式】
//
//	tx, err := v.Begin(ctx)
//	if err != nil {
//	    return err
//	}
//	defer tx.End()
//
//	if err := tx.SettleFundingFees(); err != nil {
//	    return err
//	}
//	...
//	return tx.Commit()

package vault

import (
	"context"
	"fmt"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog"

	"max.com/perpvault/pkg/event"
	"max.com/perpvault/pkg/fixedpoint"
	"max.com/perpvault/pkg/registry"
)

// Clock 时间来源
type Clock func() time.Time

// =============================================================================
// 参数
// =============================================================================

// Params 金库参数
type Params struct {
	MaxFundingVelocity           sdkmath.Int
	MaxSkewVelocity              sdkmath.Int
	LpTotalDepositedLiquidityCap sdkmath.Int
	SkewFractionMax              sdkmath.Int
}

// DefaultParams 默认参数
func DefaultParams() Params {
	return Params{
		MaxFundingVelocity:           fixedpoint.MustFromDecimalString("0.03"),
		MaxSkewVelocity:              fixedpoint.MustFromDecimalString("0.1"),
		LpTotalDepositedLiquidityCap: fixedpoint.Units(1_000_000),
		SkewFractionMax:              fixedpoint.MustFromDecimalString("1.2"),
	}
}

// Validate 参数检查
func (p Params) Validate() error {
	for name, v := range map[string]sdkmath.Int{
		"max_funding_velocity": p.MaxFundingVelocity,
		"max_skew_velocity":    p.MaxSkewVelocity,
		"skew_fraction_max":    p.SkewFractionMax,
	} {
		if v.IsNil() || !v.IsPositive() {
			return fmt.Errorf("%w: %s must be positive", ErrInvalidValue, name)
		}
	}
	if p.LpTotalDepositedLiquidityCap.IsNil() || p.LpTotalDepositedLiquidityCap.IsNegative() {
		return fmt.Errorf("%w: lp_total_deposited_liquidity_cap", ErrInvalidValue)
	}
	return nil
}

// =============================================================================
// Vault
// =============================================================================

// Vault LP 金库
type Vault struct {
	mu    sync.Mutex
	state State

	registry *registry.Registry
	clock    Clock
	emitter  event.Emitter
	logger   zerolog.Logger
}

// Option 构造选项
type Option func(*Vault)

func WithClock(c Clock) Option {
	return func(v *Vault) { v.clock = c }
}

func WithEmitter(e event.Emitter) Option {
	return func(v *Vault) { v.emitter = e }
}

func WithLogger(l zerolog.Logger) Option {
	return func(v *Vault) { v.logger = l }
}

// New 创建金库，资金费时间戳从当前时间开始
func New(reg *registry.Registry, params Params, opts ...Option) (*Vault, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	v := &Vault{
		registry: reg,
		clock:    time.Now,
		emitter:  event.Nop,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(v)
	}
	v.logger = v.logger.With().Str("module", "vault").Logger()
	v.state = newState(params, v.clock().Unix())
	return v, nil
}

// Snapshot 当前状态副本 (读取时加锁，不在事务内调用)
func (v *Vault) Snapshot() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// Registry 模块注册表
func (v *Vault) Registry() *registry.Registry {
	return v.registry
}

// Now 当前时间 (Unix 秒)
func (v *Vault) Now() int64 {
	return v.clock().Unix()
}

// Logger 模块日志 (子模块派生用)
func (v *Vault) Logger() zerolog.Logger {
	return v.logger
}

// =============================================================================
// 对外入口 (单步事务)
// =============================================================================

// SettleFundingFees 结算资金费，任何人都可以调用
func (v *Vault) SettleFundingFees(ctx context.Context) error {
	return v.run(ctx, func(tx *Tx) error {
		return tx.SettleFundingFees()
	})
}

// VerifyGlobalMarginStatus 全局保证金非负检查
func (v *Vault) VerifyGlobalMarginStatus(ctx context.Context) error {
	return v.run(ctx, func(tx *Tx) error {
		return tx.VerifyGlobalMarginStatus()
	})
}

// UpdateLpTotalDepositedLiquidity 授权模块调整 LP 流动性
func (v *Vault) UpdateLpTotalDepositedLiquidity(ctx context.Context, caller registry.Address, delta sdkmath.Int) error {
	return v.runAs(ctx, caller, func(tx *Tx) error {
		return tx.UpdateLpTotalDepositedLiquidity(delta)
	})
}

// UpdateGlobalPositionData 授权模块更新全局仓位
func (v *Vault) UpdateGlobalPositionData(ctx context.Context, caller registry.Address, price, marginDelta, sizeDelta sdkmath.Int) error {
	return v.runAs(ctx, caller, func(tx *Tx) error {
		return tx.UpdateGlobalPositionData(price, marginDelta, sizeDelta)
	})
}

// NextFundingEntry 假设现在结算时的累计资金费率 (不修改状态)
func (v *Vault) NextFundingEntry(ctx context.Context) (sdkmath.Int, error) {
	var entry sdkmath.Int
	err := v.run(ctx, func(tx *Tx) error {
		var err error
		entry, err = tx.NextFundingEntry()
		return err
	})
	return entry, err
}

func (v *Vault) run(ctx context.Context, fn func(tx *Tx) error) error {
	return v.runAs(ctx, registry.ZeroAddress, fn)
}

func (v *Vault) runAs(ctx context.Context, caller registry.Address, fn func(tx *Tx) error) error {
	tx, err := v.BeginAs(ctx, caller)
	if err != nil {
		return err
	}
	defer tx.End()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// =============================================================================
// 参数设置 (仅 Owner)
// =============================================================================

func (v *Vault) SetMaxFundingVelocity(ctx context.Context, caller registry.Address, velocity sdkmath.Int) error {
	return v.ownerSet(ctx, caller, func(tx *Tx) error {
		if velocity.IsNil() || !velocity.IsPositive() {
			return fmt.Errorf("%w: max funding velocity", ErrInvalidValue)
		}
		// 先按旧参数结算，避免新参数追溯生效
		if err := tx.SettleFundingFees(); err != nil {
			return err
		}
		tx.v.state.Funding.MaxFundingVelocity = velocity
		return nil
	})
}

func (v *Vault) SetMaxSkewVelocity(ctx context.Context, caller registry.Address, velocity sdkmath.Int) error {
	return v.ownerSet(ctx, caller, func(tx *Tx) error {
		if velocity.IsNil() || !velocity.IsPositive() {
			return fmt.Errorf("%w: max skew velocity", ErrInvalidValue)
		}
		if err := tx.SettleFundingFees(); err != nil {
			return err
		}
		tx.v.state.Funding.MaxSkewVelocity = velocity
		return nil
	})
}

func (v *Vault) SetLpTotalDepositedLiquidityCap(ctx context.Context, caller registry.Address, limit sdkmath.Int) error {
	return v.ownerSet(ctx, caller, func(tx *Tx) error {
		if limit.IsNil() || limit.IsNegative() {
			return fmt.Errorf("%w: liquidity cap", ErrInvalidValue)
		}
		tx.v.state.Pool.LpTotalDepositedLiquidityCap = limit
		return nil
	})
}

func (v *Vault) SetSkewFractionMax(ctx context.Context, caller registry.Address, fraction sdkmath.Int) error {
	return v.ownerSet(ctx, caller, func(tx *Tx) error {
		if fraction.IsNil() || !fraction.IsPositive() {
			return fmt.Errorf("%w: skew fraction max", ErrInvalidValue)
		}
		tx.v.state.SkewFractionMax = fraction
		return nil
	})
}

func (v *Vault) ownerSet(ctx context.Context, caller registry.Address, fn func(tx *Tx) error) error {
	if err := v.registry.Authorize(caller, registry.PermOwner); err != nil {
		return err
	}
	return v.run(ctx, fn)
}
