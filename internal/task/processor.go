package task

import (
	"context"
	"fmt"
	"log/slog"

	xerrors "Nexus-Chain/internal/errors"
	"Nexus-Chain/internal/events"
	"Nexus-Chain/pkg/logger"
)

// Executor 定义了处理器所需的补全处理能力。
type Executor interface {
	Handle(ctx context.Context, req events.CompletionRequest) events.Result
}

// Processor 负责从队列消费任务并交给 Executor 执行。
type Processor struct {
	executor    Executor
	consumer    Consumer
	producer    Producer
	workerCount int
	maxAttempts int
	logger      *slog.Logger
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithProcessorLogger 指定日志输出。
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithMaxAttempts 设置提交之前失败时的最大尝试次数。
func WithMaxAttempts(attempts int) ProcessorOption {
	return func(p *Processor) {
		if attempts > 0 {
			p.maxAttempts = attempts
		}
	}
}

// NewProcessor 构造 Processor。
func NewProcessor(executor Executor, consumer Consumer, producer Producer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		executor:    executor,
		consumer:    consumer,
		producer:    producer,
		workerCount: 1,
		maxAttempts: 3,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Start 启动任务处理循环，直到 ctx 取消。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil || p.executor == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "处理器未初始化")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.handle)
}

func (p *Processor) handle(ctx context.Context, payload []byte) error {
	job, err := DecodeJob(payload)
	if err != nil {
		logger.L().Error("丢弃无法解析的任务", slog.Any("error", err))
		return nil
	}
	job.Attempts++

	res := p.executor.Handle(ctx, job.Request)
	if res.Err == nil {
		p.logDebug("任务执行成功", slog.String("job_id", job.ID), slog.String("digest", res.Digest))
		return nil
	}

	if res.Retryable && job.Attempts < p.maxAttempts && p.producer != nil {
		retry, encErr := job.Encode()
		if encErr != nil {
			return encErr
		}
		if pubErr := p.requeue(ctx, retry); pubErr != nil {
			logger.Audit().Warn("任务重投失败，已丢弃",
				slog.String("job_id", job.ID),
				slog.String("event", job.Request.EventID.String()),
				slog.String("error", pubErr.Error()),
				slog.Int("attempts", job.Attempts),
			)
			return xerrors.Wrap(CodeTaskPublish, pubErr, fmt.Sprintf("任务 %s 重投失败", job.ID))
		}
		p.logDebug("任务已重新排队", slog.String("job_id", job.ID), slog.Int("attempts", job.Attempts))
		return nil
	}

	code := xerrors.CodeOf(res.Err)
	if code == xerrors.CodeUnknown {
		code = CodeTaskProcessing
	}
	if res.Retryable {
		code = CodeTaskExhausted
	}
	logger.Audit().Warn("任务执行失败",
		slog.String("job_id", job.ID),
		slog.String("event", job.Request.EventID.String()),
		slog.String("outcome", res.Outcome),
		slog.String("error", res.Err.Error()),
		slog.String("error_code", string(code)),
		slog.Int("attempts", job.Attempts),
		slog.Int("max_attempts", p.maxAttempts),
	)
	return nil
}

// tryPublisher 由支持非阻塞投递的队列实现。
type tryPublisher interface {
	TryPublish(payload []byte) error
}

// requeue 在消费协程内重投任务，不能阻塞在自身消费的队列上。
func (p *Processor) requeue(ctx context.Context, payload []byte) error {
	if tp, ok := p.producer.(tryPublisher); ok {
		return tp.TryPublish(payload)
	}
	return p.producer.Publish(ctx, payload)
}

func (p *Processor) logDebug(msg string, attrs ...slog.Attr) {
	if p.logger != nil {
		args := make([]any, len(attrs))
		for i, attr := range attrs {
			args[i] = attr
		}
		p.logger.Debug(msg, args...)
	}
}
