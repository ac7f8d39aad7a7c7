// 文件: pkg/kafka/producer.go
// Kafka 事件生产者
//
// 异步写入，金库事件提交后由 Emit 投递到 topic
// 分区 key 为账户地址 / 仓位 ID，同一账户的事件在分区内有序
// 发送失败只记日志和计数，不影响已提交的金库状态

package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"

	"max.com/perpvault/pkg/event"
)

// DefaultTopic 默认事件 topic
const DefaultTopic = "perpvault.events"

// ErrProducerClosed 生产者已关闭
var ErrProducerClosed = errors.New("kafka: producer is closed")

// =============================================================================
// 事件消息
// =============================================================================

// EventMessage 一条待写入的金库事件
type EventMessage struct {
	topic string
	Event event.Event
}

func NewEventMessage(topic string, e event.Event) EventMessage {
	return EventMessage{topic: topic, Event: e}
}

func (m EventMessage) Topic() string          { return m.topic }
func (m EventMessage) Key() string            { return event.Key(m.Event) }
func (m EventMessage) Value() ([]byte, error) { return event.Marshal(m.Event) }

func (m EventMessage) encode() (*sarama.ProducerMessage, error) {
	data, err := m.Value()
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Event.EventType(), err)
	}
	return &sarama.ProducerMessage{
		Topic: m.topic,
		Key:   sarama.StringEncoder(m.Key()),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(m.Event.EventType())},
		},
	}, nil
}

// =============================================================================
// 配置
// =============================================================================

type ProducerConfig struct {
	Brokers        []string
	Topic          string
	RequiredAcks   int    // 0 / 1 / -1(全部副本)
	Compression    string // none, gzip, snappy, lz4, zstd
	FlushFrequency time.Duration
	FlushMessages  int
	MaxRetries     int
}

func DefaultProducerConfig(brokers []string) ProducerConfig {
	return ProducerConfig{
		Brokers:        brokers,
		Topic:          DefaultTopic,
		RequiredAcks:   1,
		Compression:    "snappy",
		FlushFrequency: 100 * time.Millisecond,
		FlushMessages:  100,
		MaxRetries:     3,
	}
}

var (
	acksModes = map[int]sarama.RequiredAcks{
		0:  sarama.NoResponse,
		1:  sarama.WaitForLocal,
		-1: sarama.WaitForAll,
	}
	compressionCodecs = map[string]sarama.CompressionCodec{
		"gzip":   sarama.CompressionGZIP,
		"snappy": sarama.CompressionSnappy,
		"lz4":    sarama.CompressionLZ4,
		"zstd":   sarama.CompressionZSTD,
	}
)

// SaramaConfig 生产者配置转换为 Sarama 配置，未知取值回落到 leader 确认 / 不压缩
func SaramaConfig(cfg ProducerConfig) *sarama.Config {
	sc := sarama.NewConfig()

	sc.Producer.RequiredAcks = sarama.WaitForLocal
	if acks, ok := acksModes[cfg.RequiredAcks]; ok {
		sc.Producer.RequiredAcks = acks
	}
	sc.Producer.Compression = sarama.CompressionNone
	if codec, ok := compressionCodecs[cfg.Compression]; ok {
		sc.Producer.Compression = codec
	}

	sc.Producer.Flush.Frequency = cfg.FlushFrequency
	sc.Producer.Flush.Messages = cfg.FlushMessages
	sc.Producer.Retry.Max = cfg.MaxRetries
	sc.Producer.Partitioner = sarama.NewHashPartitioner

	sc.Producer.Return.Successes = false
	sc.Producer.Return.Errors = true
	return sc
}

// =============================================================================
// Producer
// =============================================================================

type Producer struct {
	producer sarama.AsyncProducer
	topic    string
	logger   zerolog.Logger

	sent   atomic.Int64
	failed atomic.Int64

	// closeMu 保证 Close 之后不再写 Input()
	closeMu sync.RWMutex
	closed  bool
	done    chan struct{}
}

func NewProducer(cfg ProducerConfig, logger zerolog.Logger) (*Producer, error) {
	ap, err := sarama.NewAsyncProducer(cfg.Brokers, SaramaConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return NewProducerWithClient(ap, cfg, logger), nil
}

// NewProducerWithClient 包装已有的 AsyncProducer (测试传入 mocks)
func NewProducerWithClient(ap sarama.AsyncProducer, cfg ProducerConfig, logger zerolog.Logger) *Producer {
	topic := cfg.Topic
	if topic == "" {
		topic = DefaultTopic
	}
	p := &Producer{
		producer: ap,
		topic:    topic,
		logger:   logger.With().Str("module", "kafka").Str("topic", topic).Logger(),
		done:     make(chan struct{}),
	}
	go p.drainErrors()
	return p
}

// Emit 实现 event.Emitter
func (p *Producer) Emit(ctx context.Context, e event.Event) error {
	p.closeMu.RLock()
	defer p.closeMu.RUnlock()
	if p.closed {
		return ErrProducerClosed
	}

	msg, err := NewEventMessage(p.topic, e).encode()
	if err != nil {
		return err
	}

	select {
	case p.producer.Input() <- msg:
		p.sent.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Producer) drainErrors() {
	defer close(p.done)
	for perr := range p.producer.Errors() {
		p.failed.Add(1)
		p.logger.Error().Err(perr.Err).Msg("send failed")
	}
}

type ProducerStats struct {
	SentCount  int64
	ErrorCount int64
}

func (p *Producer) Stats() ProducerStats {
	return ProducerStats{SentCount: p.sent.Load(), ErrorCount: p.failed.Load()}
}

// Close 刷出缓冲并关闭，可重复调用
func (p *Producer) Close() error {
	p.closeMu.Lock()
	if p.closed {
		p.closeMu.Unlock()
		return nil
	}
	p.closed = true
	p.closeMu.Unlock()

	err := p.producer.Close()
	<-p.done
	return err
}
