package task

import (
	"context"
	"sync"

	"github.com/nats-io/nats.go"

	xerrors "Nexus-Chain/internal/errors"
)

// NATSConfig 描述 NATS 主题与队列组。
type NATSConfig struct {
	URL        string
	Subject    string
	QueueGroup string
}

// NATSQueue 基于 NATS 队列组分发任务，同组内每条消息只投递给一个订阅者。
type NATSQueue struct {
	conn    *nats.Conn
	subject string
	group   string
}

// NewNATSQueue 连接 NATS。
func NewNATSQueue(cfg NATSConfig) (*NATSQueue, error) {
	url := cfg.URL
	if url == "" {
		url = nats.DefaultURL
	}
	subject := cfg.Subject
	if subject == "" {
		subject = "nexus.completions"
	}
	group := cfg.QueueGroup
	if group == "" {
		group = "nexus-events"
	}
	conn, err := nats.Connect(url, nats.Name("nexus-events"))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "连接 NATS 失败")
	}
	return &NATSQueue{conn: conn, subject: subject, group: group}, nil
}

// Publish 将任务发布到主题。
func (q *NATSQueue) Publish(ctx context.Context, payload []byte) error {
	if q == nil || q.conn == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "NATS 队列未初始化")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := q.conn.Publish(q.subject, payload); err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "NATS 发布任务失败")
	}
	return nil
}

// Consume 以队列组订阅主题，并由 workerCount 个协程处理消息。处理失败的消息会重新发布。
func (q *NATSQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if q == nil || q.conn == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "NATS 队列未初始化")
	}
	if workerCount <= 0 {
		workerCount = 1
	}
	msgs := make(chan *nats.Msg, workerCount*16)
	sub, err := q.conn.ChanQueueSubscribe(q.subject, q.group, msgs)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "订阅 NATS 主题失败")
	}
	defer sub.Unsubscribe()

	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case msg := <-msgs:
					if err := handler(ctx, msg.Data); err != nil {
						_ = q.conn.Publish(q.subject, msg.Data)
					}
				}
			}
		}()
	}

	<-ctx.Done()
	wg.Wait()
	return ctx.Err()
}

// Close 排空并关闭连接。
func (q *NATSQueue) Close() error {
	if q == nil || q.conn == nil {
		return nil
	}
	return q.conn.Drain()
}
