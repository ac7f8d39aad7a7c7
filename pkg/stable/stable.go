// 文件: pkg/stable/stable.go
// LP 份额模块 - 报价 / 存入执行 / 提取执行
//
// 【份额价格】
//   collateralPerShare = LP 流动性 × 1e18 / 份额总量  (总量为 0 时 = 1e18)
//
// 【调用约定】
// 所有函数都在订单模块开启的金库事务内调用
// 份额铸造 / 销毁 / 解锁完成后注册补偿，事务回滚时撤销

package stable

import (
	"context"
	"errors"
	"fmt"
	"sync"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog"

	"max.com/perpvault/pkg/event"
	"max.com/perpvault/pkg/fixedpoint"
	"max.com/perpvault/pkg/registry"
	"max.com/perpvault/pkg/share"
	"max.com/perpvault/pkg/vault"
)

// =============================================================================
// 错误定义
// =============================================================================

var (
	ErrHighSlippage   = errors.New("stable: high slippage")
	ErrAmountTooSmall = errors.New("stable: amount too small")
	ErrInvalidFee     = errors.New("stable: invalid fee")
)

// MinLiquidity 份额总量下限 (最小单位)
var MinLiquidity = sdkmath.NewInt(10_000)

// MaxWithdrawFee 提取费上限 1%
var MaxWithdrawFee = fixedpoint.MustFromDecimalString("0.01")

// Module LP 份额模块
type Module struct {
	vault  *vault.Vault
	token  share.Token
	logger zerolog.Logger

	mu          sync.RWMutex
	withdrawFee sdkmath.Int
}

func New(v *vault.Vault, token share.Token, withdrawFee sdkmath.Int, logger zerolog.Logger) (*Module, error) {
	if err := validateWithdrawFee(withdrawFee); err != nil {
		return nil, err
	}
	return &Module{
		vault:       v,
		token:       token,
		withdrawFee: withdrawFee,
		logger:      logger.With().Str("module", "stable").Logger(),
	}, nil
}

// Token 份额代币
func (m *Module) Token() share.Token {
	return m.token
}

// WithdrawFee 当前提取费率
func (m *Module) WithdrawFee() sdkmath.Int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.withdrawFee
}

// SetWithdrawCollateralFee 设置提取费率 (仅 Owner，0 ~ 1%)
func (m *Module) SetWithdrawCollateralFee(caller registry.Address, fee sdkmath.Int) error {
	if err := m.vault.Registry().Authorize(caller, registry.PermOwner); err != nil {
		return err
	}
	if err := validateWithdrawFee(fee); err != nil {
		return err
	}

	m.mu.Lock()
	m.withdrawFee = fee
	m.mu.Unlock()

	m.logger.Info().Str("fee", fixedpoint.Format(fee)).Msg("withdraw fee updated")
	return nil
}

func validateWithdrawFee(fee sdkmath.Int) error {
	if fee.IsNil() || fee.IsNegative() || fee.GT(MaxWithdrawFee) {
		return fmt.Errorf("%w: withdraw fee %v", ErrInvalidFee, fee)
	}
	return nil
}

// =============================================================================
// 报价
// =============================================================================

// CollateralPerShare 每份额对应的抵押品
func (m *Module) CollateralPerShare(tx *vault.Tx) (sdkmath.Int, error) {
	supply, err := m.token.TotalSupply(tx.Context())
	if err != nil {
		return sdkmath.Int{}, err
	}
	if !supply.IsPositive() {
		return fixedpoint.Unit, nil
	}
	return fixedpoint.DivDecimal(tx.State().Pool.LpTotalDepositedLiquidity, supply), nil
}

// DepositQuote 存入 amount 可以得到的份额
func (m *Module) DepositQuote(tx *vault.Tx, amount sdkmath.Int) (sdkmath.Int, error) {
	perShare, err := m.CollateralPerShare(tx)
	if err != nil {
		return sdkmath.Int{}, err
	}
	return fixedpoint.SafeDivDecimal(amount, perShare)
}

// WithdrawQuote 销毁 shares 可以取回的抵押品及提取费
//
// 最后一笔提取 (提取后份额总量为 0) 不收费
func (m *Module) WithdrawQuote(tx *vault.Tx, shares sdkmath.Int) (amountOut, fee sdkmath.Int, err error) {
	perShare, err := m.CollateralPerShare(tx)
	if err != nil {
		return sdkmath.Int{}, sdkmath.Int{}, err
	}
	supply, err := m.token.TotalSupply(tx.Context())
	if err != nil {
		return sdkmath.Int{}, sdkmath.Int{}, err
	}

	amountOut = fixedpoint.MulDecimal(shares, perShare)
	fee = fixedpoint.Zero()
	if supply.Sub(shares).IsPositive() {
		fee = fixedpoint.MulDecimal(m.WithdrawFee(), amountOut)
	}
	return amountOut, fee, nil
}

// =============================================================================
// 执行
// =============================================================================

// ExecuteDeposit 铸造份额，抵押品计入 LP 流动性
func (m *Module) ExecuteDeposit(tx *vault.Tx, account registry.Address, amount, minAmountOut sdkmath.Int) (sdkmath.Int, error) {
	minted, err := m.DepositQuote(tx, amount)
	if err != nil {
		return sdkmath.Int{}, err
	}
	if minted.LT(minAmountOut) {
		return sdkmath.Int{}, fmt.Errorf("%w: minted %s < min %s", ErrHighSlippage, minted, minAmountOut)
	}

	if err := tx.UpdateLpTotalDepositedLiquidity(amount); err != nil {
		return sdkmath.Int{}, err
	}

	if err := m.token.Mint(tx.Context(), account, minted); err != nil {
		return sdkmath.Int{}, fmt.Errorf("mint shares: %w", err)
	}
	tx.OnRollback(func(ctx context.Context) error {
		return m.token.Burn(ctx, account, minted)
	})

	supply, err := m.token.TotalSupply(tx.Context())
	if err != nil {
		return sdkmath.Int{}, err
	}
	if supply.LT(MinLiquidity) {
		return sdkmath.Int{}, fmt.Errorf("%w: total supply %s < %s", ErrAmountTooSmall, supply, MinLiquidity)
	}

	tx.Emit(event.Deposit{
		Account:       account,
		DepositAmount: amount,
		MintedAmount:  minted,
	})
	m.logger.Info().
		Str("account", string(account)).
		Str("amount", fixedpoint.Format(amount)).
		Str("minted", fixedpoint.Format(minted)).
		Msg("deposit executed")
	return minted, nil
}

// ExecuteWithdraw 解锁并销毁份额，LP 流动性扣除取回的抵押品
//
// 返回 (amountOut, withdrawFee)，提取费留在池内，
// 实际转给账户的金额由调用方扣除 keeper 费和提取费后决定
func (m *Module) ExecuteWithdraw(tx *vault.Tx, account registry.Address, shares sdkmath.Int) (amountOut, fee sdkmath.Int, err error) {
	amountOut, fee, err = m.WithdrawQuote(tx, shares)
	if err != nil {
		return sdkmath.Int{}, sdkmath.Int{}, err
	}

	ctx := tx.Context()
	if err := m.token.Unlock(ctx, account, shares); err != nil {
		return sdkmath.Int{}, sdkmath.Int{}, fmt.Errorf("unlock shares: %w", err)
	}
	tx.OnRollback(func(ctx context.Context) error {
		return m.token.Lock(ctx, account, shares)
	})

	if err := m.token.Burn(ctx, account, shares); err != nil {
		return sdkmath.Int{}, sdkmath.Int{}, fmt.Errorf("burn shares: %w", err)
	}
	tx.OnRollback(func(ctx context.Context) error {
		return m.token.Mint(ctx, account, shares)
	})

	if err := tx.UpdateLpTotalDepositedLiquidity(amountOut.Neg().Add(fee)); err != nil {
		return sdkmath.Int{}, sdkmath.Int{}, err
	}

	supply, err := m.token.TotalSupply(ctx)
	if err != nil {
		return sdkmath.Int{}, sdkmath.Int{}, err
	}
	if supply.IsPositive() && supply.LT(MinLiquidity) {
		return sdkmath.Int{}, sdkmath.Int{}, fmt.Errorf("%w: remaining supply %s < %s", ErrAmountTooSmall, supply, MinLiquidity)
	}

	if err := tx.CheckSkewMax(fixedpoint.Zero()); err != nil {
		return sdkmath.Int{}, sdkmath.Int{}, err
	}

	tx.Emit(event.Withdraw{
		Account:        account,
		WithdrawAmount: amountOut,
		BurnedAmount:   shares,
		WithdrawFee:    fee,
	})
	m.logger.Info().
		Str("account", string(account)).
		Str("shares", fixedpoint.Format(shares)).
		Str("amount_out", fixedpoint.Format(amountOut)).
		Str("fee", fixedpoint.Format(fee)).
		Msg("withdraw executed")
	return amountOut, fee, nil
}
