// 文件: pkg/order/slots.go
// 订单槽位存储 (每账户一个)

package order

import (
	"sync"

	"max.com/perpvault/pkg/registry"
)

type slots struct {
	mu     sync.RWMutex
	orders map[registry.Address]Order
}

func newSlots() *slots {
	return &slots{orders: make(map[registry.Address]Order)}
}

func (s *slots) get(account registry.Address) (Order, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[account]
	return o, ok
}

func (s *slots) put(o Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[o.Account] = o
}

func (s *slots) remove(account registry.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.orders, account)
}

func (s *slots) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.orders)
}
