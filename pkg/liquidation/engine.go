// 文件: pkg/liquidation/engine.go
// 强平引擎
//
// 【流程】
// 1. 结算资金费
// 2. 读取仓位、价格、当前累计资金费率
// 3. 结算保证金 <= 最低维持保证金 才能强平
// 4. 结算保证金 > 0: 清算人拿 min(强平费, 结算保证金)，剩余保证金 - 仓位盈亏 回到 LP 池
//    结算保证金 <= 0: 不付费，结算保证金 - 仓位盈亏 由 LP 池吸收
// 5. 从全局仓位中移除该仓位，删除仓位
//
// 扫描哪些仓位需要强平由外部 keeper 负责，引擎只做单个仓位的判断和结算

package liquidation

import (
	"context"
	"errors"
	"fmt"
	"sync"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog"

	"max.com/perpvault/pkg/collateral"
	"max.com/perpvault/pkg/event"
	"max.com/perpvault/pkg/fixedpoint"
	"max.com/perpvault/pkg/oracle"
	"max.com/perpvault/pkg/perp"
	"max.com/perpvault/pkg/position"
	"max.com/perpvault/pkg/registry"
	"max.com/perpvault/pkg/vault"
)

// Engine 强平引擎
type Engine struct {
	addr      registry.Address
	vault     *vault.Vault
	registry  *registry.Registry
	positions position.Store
	custody   collateral.Custody
	logger    zerolog.Logger

	mu     sync.RWMutex
	params perp.LiquidationParams
}

// NewEngine addr 为强平模块地址，需在注册表中注册为 KeyLiquidation
func NewEngine(addr registry.Address, v *vault.Vault, positions position.Store, custody collateral.Custody, params perp.LiquidationParams, logger zerolog.Logger) (*Engine, error) {
	if err := validateParams(params); err != nil {
		return nil, err
	}
	return &Engine{
		addr:      addr,
		vault:     v,
		registry:  v.Registry(),
		positions: positions,
		custody:   custody,
		params:    params,
		logger:    logger.With().Str("module", "liquidation").Logger(),
	}, nil
}

// Params 当前强平参数
func (e *Engine) Params() perp.LiquidationParams {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.params
}

func (e *Engine) oracle() (oracle.PriceOracle, error) {
	return registry.Lookup[oracle.PriceOracle](e.registry, registry.KeyOracle)
}

// =============================================================================
// 查询
// =============================================================================

// CalcNextFundingEntry 不修改账本，计算现在的累计资金费率
func (e *Engine) CalcNextFundingEntry(ctx context.Context) (sdkmath.Int, error) {
	return e.vault.NextFundingEntry(ctx)
}

// IsLiquidatable 使用预言机当前价格判断
func (e *Engine) IsLiquidatable(ctx context.Context, tokenID uint64) (bool, error) {
	o, err := e.oracle()
	if err != nil {
		return false, err
	}
	price, err := o.GetPrice(ctx)
	if err != nil {
		return false, err
	}
	return e.IsLiquidatableAt(ctx, tokenID, price.Price)
}

// IsLiquidatableAt 使用给定价格判断
func (e *Engine) IsLiquidatableAt(ctx context.Context, tokenID uint64, price sdkmath.Int) (bool, error) {
	pos, err := e.positions.Get(ctx, tokenID)
	if errors.Is(err, position.ErrPositionNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	next, err := e.CalcNextFundingEntry(ctx)
	if err != nil {
		return false, err
	}
	return perp.CanLiquidate(pos, price, next, e.Params()), nil
}

// =============================================================================
// 强平
// =============================================================================

// Liquidate 强平仓位，费用支付给 liquidator
func (e *Engine) Liquidate(ctx context.Context, liquidator registry.Address, tokenID uint64) (Result, error) {
	if liquidator.IsZero() {
		return Result{}, registry.ErrZeroAddress
	}
	if err := e.registry.WhenNotPaused(registry.KeyLiquidation); err != nil {
		return Result{}, err
	}

	tx, err := e.vault.BeginAs(ctx, e.addr)
	if err != nil {
		return Result{}, err
	}
	defer tx.End()

	if err := tx.SettleFundingFees(); err != nil {
		return Result{}, err
	}

	pos, err := e.positions.Get(tx.Context(), tokenID)
	if errors.Is(err, position.ErrPositionNotFound) {
		return Result{}, fmt.Errorf("%w: position %d not found", ErrNotLiquidatable, tokenID)
	}
	if err != nil {
		return Result{}, err
	}

	o, err := e.oracle()
	if err != nil {
		return Result{}, err
	}
	price, err := o.GetPrice(tx.Context())
	if err != nil {
		return Result{}, err
	}
	next, err := tx.NextFundingEntry()
	if err != nil {
		return Result{}, err
	}

	params := e.Params()
	if !perp.CanLiquidate(pos, price.Price, next, params) {
		return Result{}, fmt.Errorf("%w: position %d", ErrNotLiquidatable, tokenID)
	}

	recap := perp.GetPositionRecap(pos, next, price.Price)
	fee := fixedpoint.Zero()
	poolDelta := recap.SettledMargin.Sub(recap.ProfitLoss)
	if recap.SettledMargin.IsPositive() {
		expected := perp.LiquidationFee(pos.AdditionalSize, params.FeeRatio, params.FeeUpperBound, params.FeeLowerBound, price.Price)
		fee = fixedpoint.Min(expected, recap.SettledMargin)
		poolDelta = poolDelta.Sub(fee)
	}

	if err := tx.UpdateLpTotalDepositedLiquidity(poolDelta); err != nil {
		return Result{}, err
	}

	// 仓位盈亏已直接结算给 LP 池，全局仓位只减去保证金和大小，不重新标记
	err = tx.RemoveGlobalPosition(pos.MarginDeposited.Add(recap.AccruedFunding), pos.AdditionalSize)
	if err != nil {
		return Result{}, err
	}

	if err := e.positions.Delete(tx.Context(), tokenID); err != nil {
		return Result{}, fmt.Errorf("delete position %d: %w", tokenID, err)
	}
	tx.OnRollback(func(ctx context.Context) error {
		return e.positions.Save(ctx, tokenID, pos)
	})

	if fee.IsPositive() {
		if err := e.custody.TransferOut(tx.Context(), liquidator, fee); err != nil {
			return Result{}, fmt.Errorf("pay liquidation fee: %w", err)
		}
		tx.OnRollback(func(ctx context.Context) error {
			return e.custody.TransferIn(ctx, liquidator, fee)
		})
	}

	tx.Emit(event.PositionLiquidated{
		TokenID:        tokenID,
		Liquidator:     liquidator,
		LiquidationFee: fee,
		ClosePrice:     price.Price,
		Summary:        recap,
	})
	if err := tx.Commit(); err != nil {
		return Result{}, err
	}

	e.logger.Info().
		Uint64("token_id", tokenID).
		Str("liquidator", string(liquidator)).
		Str("price", fixedpoint.Format(price.Price)).
		Str("settled_margin", fixedpoint.Format(recap.SettledMargin)).
		Str("fee", fixedpoint.Format(fee)).
		Msg("position liquidated")

	return Result{
		TokenID:    tokenID,
		Liquidator: liquidator,
		Price:      price.Price,
		Fee:        fee,
		PoolDelta:  poolDelta,
		Recap:      recap,
	}, nil
}

// =============================================================================
// 参数设置 (仅 Owner)
// =============================================================================

func (e *Engine) SetLiquidationFeeRatio(caller registry.Address, ratio sdkmath.Int) error {
	return e.update(caller, func(p *perp.LiquidationParams) error {
		if ratio.IsNil() || !ratio.IsPositive() {
			return fmt.Errorf("%w: fee ratio", ErrInvalidValue)
		}
		p.FeeRatio = ratio
		return nil
	})
}

func (e *Engine) SetLiquidationBufferRatio(caller registry.Address, ratio sdkmath.Int) error {
	return e.update(caller, func(p *perp.LiquidationParams) error {
		if ratio.IsNil() || !ratio.IsPositive() {
			return fmt.Errorf("%w: buffer ratio", ErrInvalidValue)
		}
		p.BufferRatio = ratio
		return nil
	})
}

func (e *Engine) SetLiquidationFeeBounds(caller registry.Address, lower, upper sdkmath.Int) error {
	return e.update(caller, func(p *perp.LiquidationParams) error {
		if err := validateBounds(lower, upper); err != nil {
			return err
		}
		p.FeeLowerBound = lower
		p.FeeUpperBound = upper
		return nil
	})
}

func (e *Engine) update(caller registry.Address, fn func(p *perp.LiquidationParams) error) error {
	if err := e.registry.Authorize(caller, registry.PermOwner); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	next := e.params
	if err := fn(&next); err != nil {
		return err
	}
	e.params = next
	return nil
}
