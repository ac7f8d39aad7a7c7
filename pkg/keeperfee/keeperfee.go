// 文件: pkg/keeperfee/keeperfee.go
// Keeper 费用
//
// 订单公告时声明的 keeperFee 不得低于这里给出的下限

package keeperfee

import (
	"context"
	"sync"

	sdkmath "cosmossdk.io/math"

	"max.com/perpvault/pkg/fixedpoint"
)

// Provider 返回当前最低 Keeper 费 (抵押品单位)
type Provider interface {
	KeeperFee(ctx context.Context) (sdkmath.Int, error)
}

// StaticKeeperFee 固定费用，可由运维调整
type StaticKeeperFee struct {
	mu  sync.RWMutex
	fee sdkmath.Int
}

func NewStatic(fee sdkmath.Int) *StaticKeeperFee {
	return &StaticKeeperFee{fee: fixedpoint.OrZero(fee)}
}

func (s *StaticKeeperFee) KeeperFee(context.Context) (sdkmath.Int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fee, nil
}

func (s *StaticKeeperFee) Set(fee sdkmath.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fee = fixedpoint.OrZero(fee)
}
