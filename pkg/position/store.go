// 文件: pkg/position/store.go
// 杠杆仓位存储
//
// 仓位的开平仓逻辑不在本模块范围，这里只负责读写
// 清算模块读取仓位、清算后删除

package position

import (
	"context"
	"errors"
	"sort"
	"sync"

	"max.com/perpvault/pkg/perp"
)

var ErrPositionNotFound = errors.New("position: not found")

// Store 仓位存储接口
type Store interface {
	Get(ctx context.Context, tokenID uint64) (perp.Position, error)
	Save(ctx context.Context, tokenID uint64, pos perp.Position) error
	Delete(ctx context.Context, tokenID uint64) error

	// IDs 全部仓位 ID (升序)
	IDs(ctx context.Context) ([]uint64, error)
}

// =============================================================================
// MemoryStore
// =============================================================================

type MemoryStore struct {
	mu        sync.RWMutex
	positions map[uint64]perp.Position
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{positions: make(map[uint64]perp.Position)}
}

func (s *MemoryStore) Get(_ context.Context, tokenID uint64) (perp.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pos, ok := s.positions[tokenID]
	if !ok {
		return perp.Position{}, ErrPositionNotFound
	}
	return pos, nil
}

func (s *MemoryStore) Save(_ context.Context, tokenID uint64, pos perp.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[tokenID] = pos
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, tokenID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.positions[tokenID]; !ok {
		return ErrPositionNotFound
	}
	delete(s.positions, tokenID)
	return nil
}

func (s *MemoryStore) IDs(_ context.Context) ([]uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]uint64, 0, len(s.positions))
	for id := range s.positions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}
