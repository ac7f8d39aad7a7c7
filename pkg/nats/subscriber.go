// 文件: pkg/nats/subscriber.go
// NATS 事件订阅者
//
// 收到的 Envelope 解码后交给下游 event.Emitter (审计写入、指标等)

package nats

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"max.com/perpvault/pkg/event"
)

// Subscriber NATS 订阅者
type Subscriber struct {
	conn    *nats.Conn
	subs    []*nats.Subscription
	handler event.Emitter
	logger  zerolog.Logger
}

// NewSubscriber 连接 NATS 并创建订阅者
func NewSubscriber(url string, handler event.Emitter, logger zerolog.Logger) (*Subscriber, error) {
	conn, err := nats.Connect(url, nats.Name("perpvault-subscriber"))
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return NewSubscriberWithConn(conn, handler, logger), nil
}

// NewSubscriberWithConn 复用已有连接
func NewSubscriberWithConn(conn *nats.Conn, handler event.Emitter, logger zerolog.Logger) *Subscriber {
	return &Subscriber{
		conn:    conn,
		handler: handler,
		logger:  logger.With().Str("module", "nats").Logger(),
	}
}

// Subscribe 订阅主题
func (s *Subscriber) Subscribe(subjects ...string) error {
	for _, subject := range subjects {
		sub, err := s.conn.Subscribe(subject, s.handle)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
		s.subs = append(s.subs, sub)
	}
	return nil
}

// SubscribeQueue 队列订阅 (负载均衡)
func (s *Subscriber) SubscribeQueue(subject, queue string) error {
	sub, err := s.conn.QueueSubscribe(subject, queue, s.handle)
	if err != nil {
		return fmt.Errorf("queue subscribe %s: %w", subject, err)
	}
	s.subs = append(s.subs, sub)
	return nil
}

func (s *Subscriber) handle(msg *nats.Msg) {
	e, err := event.Unmarshal(msg.Data)
	if err != nil {
		s.logger.Error().Err(err).Str("subject", msg.Subject).Msg("decode event failed")
		return
	}
	if err := s.handler.Emit(context.Background(), e); err != nil {
		s.logger.Error().Err(err).Str("subject", msg.Subject).Msg("handle event failed")
	}
}

// Close 取消订阅并关闭连接
func (s *Subscriber) Close() error {
	for _, sub := range s.subs {
		if err := sub.Unsubscribe(); err != nil {
			s.logger.Warn().Err(err).Str("subject", sub.Subject).Msg("unsubscribe failed")
		}
	}
	s.conn.Close()
	return nil
}
