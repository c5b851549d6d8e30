package task

import (
	"context"
	"log/slog"

	xerrors "Nexus-Chain/internal/errors"
	"Nexus-Chain/internal/events"
	"Nexus-Chain/pkg/logger"
)

// Dispatcher 把监听器解码出的请求写入队列，由 Processor 异步处理。
type Dispatcher struct {
	producer Producer
}

// NewDispatcher 构造队列分发器。
func NewDispatcher(producer Producer) (*Dispatcher, error) {
	if producer == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置任务生产者")
	}
	return &Dispatcher{producer: producer}, nil
}

// Dispatch 将请求封装为任务并入队。入队失败会中断事件循环，避免游标越过未投递的事件。
func (d *Dispatcher) Dispatch(ctx context.Context, req events.CompletionRequest) error {
	job := NewJob(req)
	payload, err := job.Encode()
	if err != nil {
		return err
	}
	if err := d.producer.Publish(ctx, payload); err != nil {
		logger.L().Error("任务入队失败", slog.Any("error", err), slog.String("job_id", job.ID))
		return xerrors.Wrap(CodeTaskPublish, err, "发布任务到队列失败")
	}
	logger.Audit().Info("任务入队成功",
		slog.String("job_id", job.ID),
		slog.String("event", req.EventID.String()),
		slog.String("execution", req.ExecutionID),
	)
	return nil
}
