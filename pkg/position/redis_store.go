// 文件: pkg/position/redis_store.go
// 仓位 Redis 存储
//
// position:{tokenID}  JSON
// position:ids        Set，全部仓位 ID

package position

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/redis/go-redis/v9"

	"max.com/perpvault/pkg/perp"
)

var _ Store = (*RedisStore)(nil)

const (
	positionKeyPattern = "%sposition:%d"
	positionIDsPattern = "%sposition:ids"
)

type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore prefix 用于多个金库共用一个 Redis 实例
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) positionKey(tokenID uint64) string {
	return fmt.Sprintf(positionKeyPattern, s.prefix, tokenID)
}

func (s *RedisStore) idsKey() string {
	return fmt.Sprintf(positionIDsPattern, s.prefix)
}

func (s *RedisStore) Get(ctx context.Context, tokenID uint64) (perp.Position, error) {
	data, err := s.client.Get(ctx, s.positionKey(tokenID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return perp.Position{}, ErrPositionNotFound
	}
	if err != nil {
		return perp.Position{}, fmt.Errorf("get position %d: %w", tokenID, err)
	}

	var pos perp.Position
	if err := json.Unmarshal(data, &pos); err != nil {
		return perp.Position{}, fmt.Errorf("decode position %d: %w", tokenID, err)
	}
	return pos, nil
}

func (s *RedisStore) Save(ctx context.Context, tokenID uint64, pos perp.Position) error {
	data, err := json.Marshal(pos)
	if err != nil {
		return fmt.Errorf("encode position %d: %w", tokenID, err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.positionKey(tokenID), data, 0)
	pipe.SAdd(ctx, s.idsKey(), tokenID)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) Delete(ctx context.Context, tokenID uint64) error {
	pipe := s.client.TxPipeline()
	del := pipe.Del(ctx, s.positionKey(tokenID))
	pipe.SRem(ctx, s.idsKey(), tokenID)
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}
	if del.Val() == 0 {
		return ErrPositionNotFound
	}
	return nil
}

func (s *RedisStore) IDs(ctx context.Context) ([]uint64, error) {
	members, err := s.client.SMembers(ctx, s.idsKey()).Result()
	if err != nil {
		return nil, err
	}
	ids := make([]uint64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseUint(m, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}
