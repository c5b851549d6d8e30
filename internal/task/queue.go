package task

import (
	"context"
	"strings"
	"time"

	xerrors "Nexus-Chain/internal/errors"
)

// Handler 处理来自消息队列的任务载荷。
type Handler func(ctx context.Context, payload []byte) error

// Producer 负责向队列投递任务。
type Producer interface {
	Publish(ctx context.Context, payload []byte) error
	Close() error
}

// Consumer 负责从队列中消费任务。
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Queue 同时具备生产者与消费者能力。
type Queue interface {
	Producer
	Consumer
}

// QueueConfig 选择队列驱动及其参数。
type QueueConfig struct {
	Driver   string
	Size     int
	Redis    RedisQueueConfig
	RabbitMQ RabbitMQConfig
	NATS     NATSConfig
}

// NewQueue 根据驱动名创建队列：memory、redis、rabbitmq 或 nats。
func NewQueue(ctx context.Context, cfg QueueConfig) (Queue, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "memory":
		return NewMemoryQueue(cfg.Size), nil
	case "redis":
		q, err := NewRedisQueue(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		return q, nil
	case "rabbitmq":
		q, err := NewRabbitMQQueue(cfg.RabbitMQ)
		if err != nil {
			return nil, err
		}
		return q, nil
	case "nats":
		q, err := NewNATSQueue(cfg.NATS)
		if err != nil {
			return nil, err
		}
		return q, nil
	default:
		return nil, xerrors.New(xerrors.CodeConfiguration, "未知的队列驱动: "+cfg.Driver)
	}
}

func blockWait(d time.Duration) time.Duration {
	if d <= 0 {
		return 5 * time.Second
	}
	return d
}
