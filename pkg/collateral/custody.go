// 文件: pkg/collateral/custody.go
// 抵押品托管
//
// 金库持有全部抵押品 (rETH 等)
// 账户 -> 金库: TransferIn (公告订单时托管)
// 金库 -> 账户: TransferOut (提现 / Keeper 费 / 清算费)

package collateral

import (
	"context"
	"errors"
	"fmt"
	"sync"

	sdkmath "cosmossdk.io/math"

	"max.com/perpvault/pkg/registry"
)

// =============================================================================
// 错误定义
// =============================================================================

var (
	ErrInsufficientBalance = errors.New("collateral: insufficient balance")
	ErrInsufficientReserve = errors.New("collateral: insufficient vault reserve")
	ErrInvalidAmount       = errors.New("collateral: invalid amount")
)

// Custody 抵押品托管接口
type Custody interface {
	// TransferIn 从账户转入金库
	TransferIn(ctx context.Context, from registry.Address, amount sdkmath.Int) error

	// TransferOut 从金库转出到账户
	TransferOut(ctx context.Context, to registry.Address, amount sdkmath.Int) error

	// BalanceOf 账户钱包余额 (不含金库托管部分)
	BalanceOf(ctx context.Context, addr registry.Address) (sdkmath.Int, error)
}

// =============================================================================
// Ledger - 内存账本实现
// =============================================================================

// Ledger 内存抵押品账本
//
// accounts 为各账户钱包余额，reserve 为金库托管余额
// 两者之和只在 Mint 时增加
type Ledger struct {
	mu       sync.RWMutex
	accounts map[registry.Address]sdkmath.Int
	reserve  sdkmath.Int
}

func NewLedger() *Ledger {
	return &Ledger{
		accounts: make(map[registry.Address]sdkmath.Int),
		reserve:  sdkmath.ZeroInt(),
	}
}

// Mint 给账户发放抵押品 (模拟器 / 测试)
func (l *Ledger) Mint(addr registry.Address, amount sdkmath.Int) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.accounts[addr] = l.balance(addr).Add(amount)
	return nil
}

func (l *Ledger) balance(addr registry.Address) sdkmath.Int {
	if b, ok := l.accounts[addr]; ok {
		return b
	}
	return sdkmath.ZeroInt()
}

func (l *Ledger) TransferIn(_ context.Context, from registry.Address, amount sdkmath.Int) error {
	if amount.IsNegative() {
		return ErrInvalidAmount
	}
	if amount.IsZero() {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	bal := l.balance(from)
	if bal.LT(amount) {
		return fmt.Errorf("%w: %s has %s, need %s", ErrInsufficientBalance, from, bal, amount)
	}
	l.accounts[from] = bal.Sub(amount)
	l.reserve = l.reserve.Add(amount)
	return nil
}

func (l *Ledger) TransferOut(_ context.Context, to registry.Address, amount sdkmath.Int) error {
	if amount.IsNegative() {
		return ErrInvalidAmount
	}
	if amount.IsZero() {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.reserve.LT(amount) {
		return fmt.Errorf("%w: reserve %s, need %s", ErrInsufficientReserve, l.reserve, amount)
	}
	l.reserve = l.reserve.Sub(amount)
	l.accounts[to] = l.balance(to).Add(amount)
	return nil
}

func (l *Ledger) BalanceOf(_ context.Context, addr registry.Address) (sdkmath.Int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balance(addr), nil
}

// Reserve 金库托管余额
func (l *Ledger) Reserve() sdkmath.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.reserve
}
