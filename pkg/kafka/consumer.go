// 文件: pkg/kafka/consumer.go
// Kafka 事件消费者
//
// 订阅事件 topic，Envelope 解码后交给下游 event.Emitter (审计写入、指标)
// 解码或下游失败只记日志，offset 照常提交，坏消息不会卡住分区

package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"

	"max.com/perpvault/pkg/event"
)

type ConsumerConfig struct {
	Brokers       []string
	GroupID       string
	Topics        []string
	OffsetInitial int64 // sarama.OffsetOldest / OffsetNewest
	AutoCommit    bool
}

// DefaultConsumerConfig 从最早的 offset 开始，审计库需要完整事件流
func DefaultConsumerConfig(brokers []string, groupID string, topics []string) ConsumerConfig {
	return ConsumerConfig{
		Brokers:       brokers,
		GroupID:       groupID,
		Topics:        topics,
		OffsetInitial: sarama.OffsetOldest,
		AutoCommit:    true,
	}
}

type Consumer struct {
	group   sarama.ConsumerGroup
	topics  []string
	handler event.Emitter
	logger  zerolog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup

	decoded atomic.Int64
	dropped atomic.Int64
}

func NewConsumer(cfg ConsumerConfig, handler event.Emitter, logger zerolog.Logger) (*Consumer, error) {
	sc := sarama.NewConfig()
	sc.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	sc.Consumer.Offsets.Initial = cfg.OffsetInitial
	sc.Consumer.Offsets.AutoCommit.Enable = cfg.AutoCommit

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, sc)
	if err != nil {
		return nil, fmt.Errorf("create consumer group %s: %w", cfg.GroupID, err)
	}
	return newConsumer(group, cfg, handler, logger), nil
}

func newConsumer(group sarama.ConsumerGroup, cfg ConsumerConfig, handler event.Emitter, logger zerolog.Logger) *Consumer {
	return &Consumer{
		group:   group,
		topics:  cfg.Topics,
		handler: handler,
		logger:  logger.With().Str("module", "kafka").Str("group", cfg.GroupID).Logger(),
		cancel:  func() {},
	}
}

// Start 后台加入消费者组，重平衡后自动重新加入，直到 ctx 结束或 Stop
func (c *Consumer) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		h := groupHandler{c}
		for ctx.Err() == nil {
			err := c.group.Consume(ctx, c.topics, h)
			if err != nil && !errors.Is(err, sarama.ErrClosedConsumerGroup) {
				c.logger.Error().Err(err).Msg("consume")
			}
		}
	}()
}

func (c *Consumer) Stop() error {
	c.cancel()
	c.wg.Wait()
	return c.group.Close()
}

// Counts 已解码 / 无法解码的消息数
func (c *Consumer) Counts() (decoded, dropped int64) {
	return c.decoded.Load(), c.dropped.Load()
}

// dispatch 解码一条消息交给下游
func (c *Consumer) dispatch(ctx context.Context, msg *sarama.ConsumerMessage) error {
	e, err := event.Unmarshal(msg.Value)
	if err != nil {
		c.dropped.Add(1)
		return fmt.Errorf("decode %s/%d@%d: %w", msg.Topic, msg.Partition, msg.Offset, err)
	}
	c.decoded.Add(1)
	return c.handler.Emit(ctx, e)
}

// groupHandler sarama.ConsumerGroupHandler
type groupHandler struct{ c *Consumer }

func (groupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := h.c.dispatch(session.Context(), msg); err != nil {
				h.c.logger.Error().Err(err).Msg("dispatch")
			}
			session.MarkMessage(msg, "")
		case <-session.Context().Done():
			return nil
		}
	}
}
