package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"chatify/pkg/metrics"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// 路由键
const (
	RoutingMessageCreated  = "message.created"
	RoutingUserRegistered  = "user.registered"
	defaultPublishDeadline = 3 * time.Second
)

// Publisher 领域事件发布器（推送、邮件等外部worker消费）
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
	Close() error
}

// Envelope 事件外层结构
type Envelope struct {
	Type       string    `json:"type"`
	OccurredAt time.Time `json:"occurredAt"`
	Payload    any       `json:"payload"`
}

// NewPublisher 连接RabbitMQ；url为空或连接失败时退化为noop发布器
func NewPublisher(url, exchange string, log *zap.Logger) Publisher {
	if url == "" {
		log.Info("rabbitmq未配置，使用noop发布器")
		return noopPublisher{reason: "empty amqp url", log: log}
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		log.Warn("rabbitmq连接失败，使用noop发布器", zap.Error(err))
		return noopPublisher{reason: err.Error(), log: log}
	}

	ch, err := conn.Channel()
	if err != nil {
		log.Warn("rabbitmq打开channel失败，使用noop发布器", zap.Error(err))
		_ = conn.Close()
		return noopPublisher{reason: err.Error(), log: log}
	}

	if err := ch.ExchangeDeclare(
		exchange,
		"topic",
		true,  // durable
		false, // autoDelete
		false, // internal
		false, // noWait
		nil,
	); err != nil {
		log.Warn("rabbitmq声明交换机失败，使用noop发布器", zap.Error(err))
		_ = ch.Close()
		_ = conn.Close()
		return noopPublisher{reason: err.Error(), log: log}
	}

	log.Info("rabbitmq已连接", zap.String("exchange", exchange))
	return &amqpPublisher{conn: conn, ch: ch, exchange: exchange, log: log}
}

type amqpPublisher struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	log      *zap.Logger
}

func (p *amqpPublisher) Publish(ctx context.Context, routingKey string, event any) error {
	body, err := json.Marshal(Envelope{Type: routingKey, OccurredAt: time.Now().UTC(), Payload: event})
	if err != nil {
		return fmt.Errorf("序列化事件失败: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, defaultPublishDeadline)
	defer cancel()

	err = p.ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err != nil {
		metrics.IncAMQPPublishError()
		p.log.Warn("rabbitmq发布失败", zap.String("routing_key", routingKey), zap.Error(err))
	}
	return err
}

func (p *amqpPublisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

type noopPublisher struct {
	reason string
	log    *zap.Logger
}

func (n noopPublisher) Publish(_ context.Context, routingKey string, _ any) error {
	if n.log != nil {
		n.log.Debug("noop发布事件", zap.String("routing_key", routingKey))
	}
	return nil
}

func (noopPublisher) Close() error {
	return nil
}

// NewNoop 返回不投递任何事件的发布器
func NewNoop() Publisher {
	return noopPublisher{reason: "disabled"}
}

// Mode 返回发布器模式，用于启动日志
func Mode(p Publisher) string {
	switch publisher := p.(type) {
	case *amqpPublisher:
		return "amqp"
	case noopPublisher:
		return "noop(" + publisher.reason + ")"
	default:
		return "unknown"
	}
}
