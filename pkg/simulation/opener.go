// 文件: pkg/simulation/opener.go
// 合成杠杆模块 - 模拟器用来开多头仓位
//
// 【开仓】
// 1. 结算资金费
// 2. 检查 skew 上限
// 3. 全局仓位 += (保证金, 仓位)，记录开仓时的累计资金费率
// 4. 保证金转入托管，保存仓位

package simulation

import (
	"context"
	"fmt"
	"sync"

	sdkmath "cosmossdk.io/math"

	"max.com/perpvault/pkg/collateral"
	"max.com/perpvault/pkg/oracle"
	"max.com/perpvault/pkg/perp"
	"max.com/perpvault/pkg/position"
	"max.com/perpvault/pkg/registry"
	"max.com/perpvault/pkg/vault"
)

// KeyLeverage 合成杠杆模块
const KeyLeverage registry.ModuleKey = "LEVERAGE"

// Opener 合成杠杆模块
type Opener struct {
	addr      registry.Address
	vault     *vault.Vault
	positions position.Store
	custody   collateral.Custody

	mu   sync.Mutex
	next uint64
}

func NewOpener(addr registry.Address, v *vault.Vault, positions position.Store, custody collateral.Custody) *Opener {
	return &Opener{
		addr:      addr,
		vault:     v,
		positions: positions,
		custody:   custody,
		next:      1,
	}
}

// Open 按预言机价格开多头，返回仓位 ID
func (o *Opener) Open(ctx context.Context, trader registry.Address, margin, size sdkmath.Int) (uint64, error) {
	po, err := registry.Lookup[oracle.PriceOracle](o.vault.Registry(), registry.KeyOracle)
	if err != nil {
		return 0, err
	}

	tx, err := o.vault.BeginAs(ctx, o.addr)
	if err != nil {
		return 0, err
	}
	defer tx.End()

	if err := tx.SettleFundingFees(); err != nil {
		return 0, err
	}
	price, err := po.GetPrice(tx.Context())
	if err != nil {
		return 0, err
	}
	if err := tx.CheckSkewMax(size); err != nil {
		return 0, err
	}
	entry, err := tx.NextFundingEntry()
	if err != nil {
		return 0, err
	}
	if err := tx.UpdateGlobalPositionData(price.Price, margin, size); err != nil {
		return 0, err
	}

	if err := o.custody.TransferIn(tx.Context(), trader, margin); err != nil {
		return 0, fmt.Errorf("deposit margin: %w", err)
	}
	tx.OnRollback(func(ctx context.Context) error {
		return o.custody.TransferOut(ctx, trader, margin)
	})

	o.mu.Lock()
	tokenID := o.next
	o.next++
	o.mu.Unlock()

	err = o.positions.Save(tx.Context(), tokenID, perp.Position{
		AverageEntryPrice:      price.Price,
		MarginDeposited:        margin,
		AdditionalSize:         size,
		EntryCumulativeFunding: entry,
	})
	if err != nil {
		return 0, err
	}
	tx.OnRollback(func(ctx context.Context) error {
		return o.positions.Delete(ctx, tokenID)
	})

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return tokenID, nil
}
