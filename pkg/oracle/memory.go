// 文件: pkg/oracle/memory.go
// 内存预言机 (测试 / 模拟器 / 由外部推送价格)

package oracle

import (
	"context"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
)

// MemoryOracle 内存价格
//
// 价格由外部推送 (SetPrice)，引擎读取时做时效检查
type MemoryOracle struct {
	mu        sync.RWMutex
	price     Price
	reference sdkmath.Int
	config    Config
	now       func() time.Time
}

func NewMemoryOracle(cfg Config, now func() time.Time) *MemoryOracle {
	if now == nil {
		now = time.Now
	}
	return &MemoryOracle{
		config:    cfg,
		now:       now,
		reference: sdkmath.ZeroInt(),
	}
}

// SetPrice 推送价格
func (o *MemoryOracle) SetPrice(price sdkmath.Int, timestamp int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.price = Price{Price: price, Timestamp: timestamp}
}

// SetReferencePrice 参考价格 (用于偏离检查)
func (o *MemoryOracle) SetReferencePrice(price sdkmath.Int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.reference = price
}

func (o *MemoryOracle) GetPrice(ctx context.Context) (Price, error) {
	return o.GetPriceMaxAge(ctx, o.config.MaxAge)
}

func (o *MemoryOracle) GetPriceMaxAge(ctx context.Context, maxAge time.Duration) (Price, error) {
	o.mu.RLock()
	p, ref := o.price, o.reference
	o.mu.RUnlock()

	if err := validate(p, o.now(), maxAge); err != nil {
		return Price{}, err
	}
	if err := checkDeviation(p.Price, ref, o.config.MaxDeviation); err != nil {
		return Price{}, err
	}
	return p, nil
}
