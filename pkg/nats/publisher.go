// 文件: pkg/nats/publisher.go
// NATS 事件发布者
// 轻量级替代 Kafka，适合本地开发
//
// 主题: {prefix}.{事件类型}，例如 perpvault.events.Deposit
// 消息体: event.Envelope JSON

package nats

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"max.com/perpvault/pkg/event"
)

// DefaultSubjectPrefix 默认主题前缀
const DefaultSubjectPrefix = "perpvault.events"

// Publisher NATS 发布者，实现 event.Emitter
type Publisher struct {
	conn   *nats.Conn
	prefix string
	logger zerolog.Logger
}

// NewPublisher 连接 NATS 并创建发布者
func NewPublisher(url, prefix string, logger zerolog.Logger) (*Publisher, error) {
	conn, err := nats.Connect(url, nats.Name("perpvault-publisher"))
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return NewPublisherWithConn(conn, prefix, logger), nil
}

// NewPublisherWithConn 复用已有连接
func NewPublisherWithConn(conn *nats.Conn, prefix string, logger zerolog.Logger) *Publisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &Publisher{
		conn:   conn,
		prefix: prefix,
		logger: logger.With().Str("module", "nats").Logger(),
	}
}

// Subject 事件类型对应的主题
func (p *Publisher) Subject(t event.Type) string {
	return p.prefix + "." + string(t)
}

// Wildcard 订阅全部事件的主题
func (p *Publisher) Wildcard() string {
	return p.prefix + ".>"
}

// Emit 发布事件
func (p *Publisher) Emit(_ context.Context, e event.Event) error {
	data, err := event.Marshal(e)
	if err != nil {
		return err
	}
	subject := p.Subject(e.EventType())
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	p.logger.Debug().Str("subject", subject).Int("bytes", len(data)).Msg("event published")
	return nil
}

// Flush 等待服务端确认已收到之前发布的消息
func (p *Publisher) Flush() error {
	return p.conn.Flush()
}

// Close 关闭连接
func (p *Publisher) Close() {
	p.conn.Close()
}
