// 文件: pkg/order/book.go
// 延迟订单簿 - 公告 / 执行 / 取消
//
// 【流程】
//
//   账户 AnnounceDeposit / AnnounceWithdraw
//          │   结算资金费 + 全局保证金检查 + 报价 + 滑点
//          │   托管抵押品 或 锁定份额，写入订单槽
//          ▼
//   等待 minExecutabilityAge
//          │
//          ▼
//   Keeper ExecuteOrder
//          │   时间窗口检查 -> 删除槽位 -> 新鲜价格检查
//          │   铸造 / 销毁份额，支付 keeper 费
//          ▼
//   超过 maxExecutabilityAge 未执行: 任何人 CancelExistingOrder 退回托管
//
// 【原子性】
// 每个入口一个金库事务，任一步失败则状态、份额、托管全部回滚

package order

import (
	"context"
	"fmt"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog"

	"max.com/perpvault/pkg/collateral"
	"max.com/perpvault/pkg/event"
	"max.com/perpvault/pkg/fixedpoint"
	"max.com/perpvault/pkg/keeperfee"
	"max.com/perpvault/pkg/oracle"
	"max.com/perpvault/pkg/registry"
	"max.com/perpvault/pkg/share"
	"max.com/perpvault/pkg/stable"
	"max.com/perpvault/pkg/vault"
)

// =============================================================================
// 配置
// =============================================================================

type Config struct {
	// 公告后至少等待多久才能执行
	MinExecutabilityAge time.Duration

	// 可执行窗口长度，超过即过期
	MaxExecutabilityAge time.Duration

	// MinDeposit 最小存入 (抵押品最小单位)
	MinDeposit sdkmath.Int
}

func DefaultConfig() Config {
	return Config{
		MinExecutabilityAge: 10 * time.Second,
		MaxExecutabilityAge: 60 * time.Second,
		MinDeposit:          sdkmath.NewInt(1_000_000),
	}
}

// =============================================================================
// Book
// =============================================================================

type Book struct {
	addr     registry.Address
	vault    *vault.Vault
	registry *registry.Registry
	stable   *stable.Module
	shares   share.Token
	custody  collateral.Custody
	ids      *IDGenerator
	logger   zerolog.Logger

	slots *slots

	mu     sync.RWMutex
	config Config
}

// NewBook addr 为订单模块地址，需在注册表中注册为 KeyDelayedOrder
func NewBook(addr registry.Address, v *vault.Vault, sm *stable.Module, custody collateral.Custody, ids *IDGenerator, cfg Config, logger zerolog.Logger) (*Book, error) {
	if cfg.MinExecutabilityAge <= 0 || cfg.MaxExecutabilityAge <= 0 {
		return nil, fmt.Errorf("%w: executability age", ErrZeroValue)
	}
	if cfg.MinDeposit.IsNil() || cfg.MinDeposit.IsNegative() {
		return nil, fmt.Errorf("%w: min deposit", ErrZeroValue)
	}
	return &Book{
		addr:     addr,
		vault:    v,
		registry: v.Registry(),
		stable:   sm,
		shares:   sm.Token(),
		custody:  custody,
		ids:      ids,
		logger:   logger.With().Str("module", "order").Logger(),
		slots:    newSlots(),
		config:   cfg,
	}, nil
}

func (b *Book) cfg() Config {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.config
}

// GetAnnouncedOrder 账户当前挂起的订单
func (b *Book) GetAnnouncedOrder(account registry.Address) (Order, bool) {
	return b.slots.get(account)
}

// PendingCount 挂起订单数
func (b *Book) PendingCount() int {
	return b.slots.len()
}

func (b *Book) begin(ctx context.Context) (*vault.Tx, error) {
	if err := b.registry.WhenNotPaused(registry.KeyDelayedOrder); err != nil {
		return nil, err
	}
	return b.vault.BeginAs(ctx, b.addr)
}

// =============================================================================
// 公告
// =============================================================================

// AnnounceDeposit 公告存入 amount 抵押品，至少获得 minAmountOut 份额
func (b *Book) AnnounceDeposit(ctx context.Context, account registry.Address, amount, minAmountOut, keeperFee sdkmath.Int) (Order, error) {
	if account.IsZero() {
		return Order{}, registry.ErrZeroAddress
	}
	cfg := b.cfg()
	if amount.LT(cfg.MinDeposit) {
		return Order{}, fmt.Errorf("%w: %s < %s", ErrAmountTooSmall, amount, cfg.MinDeposit)
	}

	tx, err := b.begin(ctx)
	if err != nil {
		return Order{}, err
	}
	defer tx.End()

	if err := tx.CheckCollateralCap(amount); err != nil {
		return Order{}, err
	}
	if err := b.checkKeeperFee(tx, keeperFee); err != nil {
		return Order{}, err
	}
	if err := b.settle(tx); err != nil {
		return Order{}, err
	}

	quoted, err := b.stable.DepositQuote(tx, amount)
	if err != nil {
		return Order{}, err
	}
	if quoted.LT(minAmountOut) {
		return Order{}, fmt.Errorf("%w: quoted %s < min %s", ErrHighSlippage, quoted, minAmountOut)
	}

	if err := b.releaseExisting(tx, account, "replaced"); err != nil {
		return Order{}, err
	}

	escrow := amount.Add(keeperFee)
	if err := b.custody.TransferIn(tx.Context(), account, escrow); err != nil {
		return Order{}, fmt.Errorf("escrow deposit: %w", err)
	}
	tx.OnRollback(func(ctx context.Context) error {
		return b.custody.TransferOut(ctx, account, escrow)
	})

	o := Order{
		ID:               b.ids.Next(),
		Account:          account,
		Data:             DepositData{Amount: amount, MinAmountOut: minAmountOut},
		KeeperFee:        keeperFee,
		ExecutableAtTime: tx.Now() + int64(cfg.MinExecutabilityAge/time.Second),
	}
	b.store(tx, o)

	if err := tx.Commit(); err != nil {
		return Order{}, err
	}
	return o, nil
}

// AnnounceWithdraw 公告销毁 amount 份额，扣除费用后至少获得 minAmountOut 抵押品
func (b *Book) AnnounceWithdraw(ctx context.Context, account registry.Address, amount, minAmountOut, keeperFee sdkmath.Int) (Order, error) {
	if account.IsZero() {
		return Order{}, registry.ErrZeroAddress
	}
	if amount.IsNil() || !amount.IsPositive() {
		return Order{}, fmt.Errorf("%w: withdraw amount", ErrAmountTooSmall)
	}
	cfg := b.cfg()

	tx, err := b.begin(ctx)
	if err != nil {
		return Order{}, err
	}
	defer tx.End()

	balance, err := b.shares.BalanceOf(tx.Context(), account)
	if err != nil {
		return Order{}, err
	}
	if balance.LT(amount) {
		return Order{}, fmt.Errorf("%w: balance %s < %s", ErrNotEnoughBalanceForWithdraw, balance, amount)
	}
	if err := b.checkKeeperFee(tx, keeperFee); err != nil {
		return Order{}, err
	}
	if err := b.settle(tx); err != nil {
		return Order{}, err
	}

	amountOut, withdrawFee, err := b.stable.WithdrawQuote(tx, amount)
	if err != nil {
		return Order{}, err
	}
	expected := amountOut.Sub(withdrawFee)
	if expected.LTE(keeperFee) {
		return Order{}, fmt.Errorf("%w: expected %s <= keeper fee %s", ErrWithdrawTooSmall, expected, keeperFee)
	}
	if expected.Sub(keeperFee).LT(minAmountOut) {
		return Order{}, fmt.Errorf("%w: expected %s < min %s", ErrHighSlippage, expected.Sub(keeperFee), minAmountOut)
	}

	if err := b.releaseExisting(tx, account, "replaced"); err != nil {
		return Order{}, err
	}

	if err := b.shares.Lock(tx.Context(), account, amount); err != nil {
		return Order{}, fmt.Errorf("lock shares: %w", err)
	}
	tx.OnRollback(func(ctx context.Context) error {
		return b.shares.Unlock(ctx, account, amount)
	})

	o := Order{
		ID:               b.ids.Next(),
		Account:          account,
		Data:             WithdrawData{Amount: amount, MinAmountOut: minAmountOut},
		KeeperFee:        keeperFee,
		ExecutableAtTime: tx.Now() + int64(cfg.MinExecutabilityAge/time.Second),
	}
	b.store(tx, o)

	if err := tx.Commit(); err != nil {
		return Order{}, err
	}
	return o, nil
}

// =============================================================================
// 执行
// =============================================================================

// ExecuteOrder keeper 执行账户挂起的订单，没有订单时什么都不做
func (b *Book) ExecuteOrder(ctx context.Context, keeper, account registry.Address) error {
	if keeper.IsZero() {
		return registry.ErrZeroAddress
	}

	tx, err := b.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.End()

	o, ok := b.slots.get(account)
	if !ok {
		return tx.Commit()
	}

	if err := tx.SettleFundingFees(); err != nil {
		return err
	}
	if err := b.checkTimeValidity(tx, o); err != nil {
		return err
	}

	// 先删除槽位，保证最多执行一次
	b.remove(tx, o)

	maxAge := time.Duration(tx.Now()-o.ExecutableAtTime) * time.Second
	priceOracle, err := registry.Lookup[oracle.PriceOracle](b.registry, registry.KeyOracle)
	if err != nil {
		return err
	}
	if _, err := priceOracle.GetPriceMaxAge(tx.Context(), maxAge); err != nil {
		return err
	}

	switch data := o.Data.(type) {
	case DepositData:
		err = b.executeDeposit(tx, keeper, o, data)
	case WithdrawData:
		err = b.executeWithdraw(tx, keeper, o, data)
	default:
		err = fmt.Errorf("unknown order data %T", o.Data)
	}
	if err != nil {
		return err
	}

	tx.Emit(event.OrderExecuted{
		OrderID:   o.ID,
		Account:   account,
		OrderType: o.Type().String(),
		Keeper:    keeper,
		KeeperFee: o.KeeperFee,
	})
	if err := tx.Commit(); err != nil {
		return err
	}

	b.logger.Info().
		Int64("order_id", o.ID).
		Str("type", o.Type().String()).
		Str("account", string(account)).
		Str("keeper", string(keeper)).
		Msg("order executed")
	return nil
}

func (b *Book) executeDeposit(tx *vault.Tx, keeper registry.Address, o Order, data DepositData) error {
	if err := tx.CheckCollateralCap(data.Amount); err != nil {
		return err
	}
	if _, err := b.stable.ExecuteDeposit(tx, o.Account, data.Amount, data.MinAmountOut); err != nil {
		return err
	}
	return b.payOut(tx, keeper, o.KeeperFee)
}

func (b *Book) executeWithdraw(tx *vault.Tx, keeper registry.Address, o Order, data WithdrawData) error {
	amountOut, withdrawFee, err := b.stable.ExecuteWithdraw(tx, o.Account, data.Amount)
	if err != nil {
		return err
	}

	totalFee := o.KeeperFee.Add(withdrawFee)
	if amountOut.LTE(totalFee) {
		return fmt.Errorf("%w: amount out %s <= fees %s", ErrNotEnoughMarginForFees, amountOut, totalFee)
	}
	remaining := amountOut.Sub(totalFee)
	if remaining.LT(data.MinAmountOut) {
		return fmt.Errorf("%w: amount out %s < min %s", ErrHighSlippage, remaining, data.MinAmountOut)
	}

	if err := b.payOut(tx, keeper, o.KeeperFee); err != nil {
		return err
	}
	return b.payOut(tx, o.Account, remaining)
}

// =============================================================================
// 取消
// =============================================================================

// CancelExistingOrder 取消已过期的订单，退回托管的抵押品或解锁份额
func (b *Book) CancelExistingOrder(ctx context.Context, account registry.Address) error {
	tx, err := b.vault.BeginAs(ctx, b.addr)
	if err != nil {
		return err
	}
	defer tx.End()

	o, ok := b.slots.get(account)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoExistingOrder, account)
	}
	if !o.Expired(tx.Now(), int64(b.cfg().MaxExecutabilityAge/time.Second)) {
		return fmt.Errorf("%w: order %d", ErrOrderHasNotExpired, o.ID)
	}

	if err := b.releaseExisting(tx, account, "expired"); err != nil {
		return err
	}
	return tx.Commit()
}

// =============================================================================
// 参数设置 (仅 Owner)
// =============================================================================

func (b *Book) SetExecutabilityAge(caller registry.Address, minAge, maxAge time.Duration) error {
	if err := b.registry.Authorize(caller, registry.PermOwner); err != nil {
		return err
	}
	if minAge < time.Second || maxAge < time.Second {
		return fmt.Errorf("%w: executability age", ErrZeroValue)
	}

	b.mu.Lock()
	b.config.MinExecutabilityAge = minAge
	b.config.MaxExecutabilityAge = maxAge
	b.mu.Unlock()
	return nil
}

func (b *Book) SetMinDeposit(caller registry.Address, amount sdkmath.Int) error {
	if err := b.registry.Authorize(caller, registry.PermOwner); err != nil {
		return err
	}
	if amount.IsNil() || amount.IsNegative() {
		return fmt.Errorf("%w: min deposit", ErrZeroValue)
	}

	b.mu.Lock()
	b.config.MinDeposit = amount
	b.mu.Unlock()
	return nil
}

// =============================================================================
// 内部
// =============================================================================

// settle 结算资金费并检查全局保证金
func (b *Book) settle(tx *vault.Tx) error {
	if err := tx.SettleFundingFees(); err != nil {
		return err
	}
	return tx.VerifyGlobalMarginStatus()
}

func (b *Book) checkKeeperFee(tx *vault.Tx, keeperFee sdkmath.Int) error {
	if keeperFee.IsNil() || keeperFee.IsNegative() {
		return fmt.Errorf("%w: %v", ErrInvalidFee, keeperFee)
	}
	provider, err := registry.Lookup[keeperfee.Provider](b.registry, registry.KeyKeeperFee)
	if err != nil {
		return err
	}
	minFee, err := provider.KeeperFee(tx.Context())
	if err != nil {
		return err
	}
	if keeperFee.LT(minFee) {
		return fmt.Errorf("%w: %s < %s", ErrInvalidFee, keeperFee, minFee)
	}
	return nil
}

func (b *Book) checkTimeValidity(tx *vault.Tx, o Order) error {
	maxAge := int64(b.cfg().MaxExecutabilityAge / time.Second)
	if o.Expired(tx.Now(), maxAge) {
		return fmt.Errorf("%w: order %d executable at %d", ErrOrderHasExpired, o.ID, o.ExecutableAtTime)
	}
	if tx.Now() < o.ExecutableAtTime {
		return fmt.Errorf("%w: order %d executable at %d", ErrExecutableAtTimeNotReached, o.ID, o.ExecutableAtTime)
	}
	return nil
}

// releaseExisting 退回账户挂起订单的托管并清空槽位
//
// 存入: 退回 amount + keeperFee
// 提取: 解锁份额
func (b *Book) releaseExisting(tx *vault.Tx, account registry.Address, reason string) error {
	o, ok := b.slots.get(account)
	if !ok {
		return nil
	}

	switch data := o.Data.(type) {
	case DepositData:
		if err := b.payOut(tx, account, data.Amount.Add(o.KeeperFee)); err != nil {
			return err
		}
	case WithdrawData:
		if err := b.shares.Unlock(tx.Context(), account, data.Amount); err != nil {
			return fmt.Errorf("unlock shares: %w", err)
		}
		tx.OnRollback(func(ctx context.Context) error {
			return b.shares.Lock(ctx, account, data.Amount)
		})
	}

	b.remove(tx, o)
	tx.Emit(event.OrderCancelled{
		OrderID:   o.ID,
		Account:   account,
		OrderType: o.Type().String(),
		Reason:    reason,
	})
	b.logger.Info().Int64("order_id", o.ID).Str("account", string(account)).Str("reason", reason).Msg("order released")
	return nil
}

// payOut 从金库转出抵押品
func (b *Book) payOut(tx *vault.Tx, to registry.Address, amount sdkmath.Int) error {
	if amount.IsZero() {
		return nil
	}
	if err := b.custody.TransferOut(tx.Context(), to, amount); err != nil {
		return fmt.Errorf("transfer %s to %s: %w", fixedpoint.Format(amount), to, err)
	}
	tx.OnRollback(func(ctx context.Context) error {
		return b.custody.TransferIn(ctx, to, amount)
	})
	return nil
}

func (b *Book) store(tx *vault.Tx, o Order) {
	b.slots.put(o)
	tx.OnRollback(func(context.Context) error {
		b.slots.remove(o.Account)
		return nil
	})
	tx.Emit(event.OrderAnnounced{
		OrderID:          o.ID,
		Account:          o.Account,
		OrderType:        o.Type().String(),
		KeeperFee:        o.KeeperFee,
		ExecutableAtTime: o.ExecutableAtTime,
	})
}

func (b *Book) remove(tx *vault.Tx, o Order) {
	b.slots.remove(o.Account)
	tx.OnRollback(func(context.Context) error {
		b.slots.put(o)
		return nil
	})
}
