// 文件: pkg/share/token.go
// LP 份额代币
//
// 【锁定】
// 公告提现时锁定份额，执行 / 取消时解锁
// 锁定部分不可转账、不可销毁，语义同资金账户的冻结余额:
//   可用 = 余额 - 锁定

package share

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
	ErrInsufficientBalance = errors.New("share: insufficient unlocked balance")
	ErrInsufficientLocked  = errors.New("share: insufficient locked balance")
	ErrInvalidAmount       = errors.New("share: invalid amount")
)

// Token LP 份额代币接口
type Token interface {
	Mint(ctx context.Context, to registry.Address, amount sdkmath.Int) error
	Burn(ctx context.Context, from registry.Address, amount sdkmath.Int) error
	Lock(ctx context.Context, addr registry.Address, amount sdkmath.Int) error
	Unlock(ctx context.Context, addr registry.Address, amount sdkmath.Int) error
	Transfer(ctx context.Context, from, to registry.Address, amount sdkmath.Int) error

	BalanceOf(ctx context.Context, addr registry.Address) (sdkmath.Int, error)
	LockedOf(ctx context.Context, addr registry.Address) (sdkmath.Int, error)
	TotalSupply(ctx context.Context) (sdkmath.Int, error)
}

// holding 单个账户持仓
type holding struct {
	balance sdkmath.Int
	locked  sdkmath.Int
}

func (h holding) available() sdkmath.Int {
	return h.balance.Sub(h.locked)
}

// =============================================================================
// Ledger - 内存实现
// =============================================================================

type Ledger struct {
	mu       sync.RWMutex
	holdings map[registry.Address]holding
	supply   sdkmath.Int
}

func NewLedger() *Ledger {
	return &Ledger{
		holdings: make(map[registry.Address]holding),
		supply:   sdkmath.ZeroInt(),
	}
}

func (l *Ledger) get(addr registry.Address) holding {
	if h, ok := l.holdings[addr]; ok {
		return h
	}
	return holding{balance: sdkmath.ZeroInt(), locked: sdkmath.ZeroInt()}
}

func checkAmount(amount sdkmath.Int) error {
	if amount.IsNil() || amount.IsNegative() {
		return ErrInvalidAmount
	}
	return nil
}

func (l *Ledger) Mint(_ context.Context, to registry.Address, amount sdkmath.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	h := l.get(to)
	h.balance = h.balance.Add(amount)
	l.holdings[to] = h
	l.supply = l.supply.Add(amount)
	return nil
}

func (l *Ledger) Burn(_ context.Context, from registry.Address, amount sdkmath.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	h := l.get(from)
	if h.available().LT(amount) {
		return fmt.Errorf("%w: %s available %s, burn %s", ErrInsufficientBalance, from, h.available(), amount)
	}
	h.balance = h.balance.Sub(amount)
	l.holdings[from] = h
	l.supply = l.supply.Sub(amount)
	return nil
}

// Lock 可用 -> 锁定
func (l *Ledger) Lock(_ context.Context, addr registry.Address, amount sdkmath.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	h := l.get(addr)
	if h.available().LT(amount) {
		return fmt.Errorf("%w: %s available %s, lock %s", ErrInsufficientBalance, addr, h.available(), amount)
	}
	h.locked = h.locked.Add(amount)
	l.holdings[addr] = h
	return nil
}

// Unlock 锁定 -> 可用
func (l *Ledger) Unlock(_ context.Context, addr registry.Address, amount sdkmath.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	h := l.get(addr)
	if h.locked.LT(amount) {
		return fmt.Errorf("%w: %s locked %s, unlock %s", ErrInsufficientLocked, addr, h.locked, amount)
	}
	h.locked = h.locked.Sub(amount)
	l.holdings[addr] = h
	return nil
}

func (l *Ledger) Transfer(_ context.Context, from, to registry.Address, amount sdkmath.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	src := l.get(from)
	if src.available().LT(amount) {
		return fmt.Errorf("%w: %s available %s, transfer %s", ErrInsufficientBalance, from, src.available(), amount)
	}
	src.balance = src.balance.Sub(amount)
	l.holdings[from] = src

	dst := l.get(to)
	dst.balance = dst.balance.Add(amount)
	l.holdings[to] = dst
	return nil
}

func (l *Ledger) BalanceOf(_ context.Context, addr registry.Address) (sdkmath.Int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.get(addr).balance, nil
}

func (l *Ledger) LockedOf(_ context.Context, addr registry.Address) (sdkmath.Int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.get(addr).locked, nil
}

func (l *Ledger) TotalSupply(_ context.Context) (sdkmath.Int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.supply, nil
}
