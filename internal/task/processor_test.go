package task

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	xerrors "Nexus-Chain/internal/errors"
	"Nexus-Chain/internal/events"
	"Nexus-Chain/internal/web3"
)

type fakeExecutor struct {
	processed atomic.Int32
	latency   time.Duration
	failFirst atomic.Int32
}

func (f *fakeExecutor) Handle(ctx context.Context, req events.CompletionRequest) events.Result {
	if f.latency > 0 {
		select {
		case <-time.After(f.latency):
		case <-ctx.Done():
			return events.Result{Outcome: "failed", Err: ctx.Err()}
		}
	}
	if f.failFirst.Add(-1) >= 0 {
		return events.Result{Outcome: "failed", Err: errors.New("inference unavailable"), Retryable: true}
	}
	f.processed.Add(1)
	return events.Result{Outcome: "submitted", Digest: "d-" + req.ExecutionID}
}

func request(i int) events.CompletionRequest {
	return events.CompletionRequest{
		EventID:     web3.EventID{TxDigest: "tx", EventSeq: fmt.Sprint(i)},
		ExecutionID: fmt.Sprintf("0xexec%d", i),
		ModelName:   "llama",
		Prompt:      "hi",
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatalf("%s", msg)
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestProcessorHandlesConcurrentJobs(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	queue := NewMemoryQueue(1024)
	executor := &fakeExecutor{latency: 10 * time.Millisecond}
	dispatcher, err := NewDispatcher(queue)
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	processor := NewProcessor(executor, queue, queue, WithWorkerCount(8))

	go func() {
		if err := processor.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("processor exited: %v", err)
		}
	}()

	total := 200
	for i := 0; i < total; i++ {
		if err := dispatcher.Dispatch(ctx, request(i)); err != nil {
			t.Fatalf("dispatch failed: %v", err)
		}
	}

	waitFor(t, func() bool { return int(executor.processed.Load()) >= total },
		"jobs were not processed in time")
	cancel()
}

func TestProcessorRetriesBeforeSubmission(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	queue := NewMemoryQueue(16)
	executor := &fakeExecutor{}
	executor.failFirst.Store(2)
	processor := NewProcessor(executor, queue, queue, WithMaxAttempts(3))
	go processor.Start(ctx)

	payload, _ := NewJob(request(1)).Encode()
	if err := queue.Publish(ctx, payload); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	waitFor(t, func() bool { return executor.processed.Load() == 1 },
		"job should succeed on the third attempt")
}

func TestProcessorStopsAfterMaxAttempts(t *testing.T) {
	queue := NewMemoryQueue(16)
	executor := &fakeExecutor{}
	executor.failFirst.Store(10)
	processor := NewProcessor(executor, queue, queue, WithMaxAttempts(2))

	payload, _ := NewJob(request(1)).Encode()
	ctx := context.Background()
	if err := processor.handle(ctx, payload); err != nil {
		t.Fatalf("first attempt: %v", err)
	}
	retry := <-queue.ch
	job, err := DecodeJob(retry)
	if err != nil || job.Attempts != 1 {
		t.Fatalf("unexpected retry job: %+v %v", job, err)
	}
	if err := processor.handle(ctx, retry); err != nil {
		t.Fatalf("second attempt: %v", err)
	}
	select {
	case extra := <-queue.ch:
		t.Fatalf("job should not be requeued after max attempts: %s", extra)
	default:
	}
}

func TestProcessorDropsMalformedJobs(t *testing.T) {
	executor := &fakeExecutor{}
	processor := NewProcessor(executor, NewMemoryQueue(1), nil)
	if err := processor.handle(context.Background(), []byte("not json")); err != nil {
		t.Fatalf("malformed job should be dropped, got %v", err)
	}
	if executor.processed.Load() != 0 {
		t.Fatalf("executor should not run")
	}
}

func TestDecodeJob(t *testing.T) {
	job := NewJob(request(7))
	payload, err := job.Encode()
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	decoded, err := DecodeJob(payload)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if decoded.ID != job.ID || decoded.Request.EventID.EventSeq != "7" {
		t.Fatalf("unexpected job: %+v", decoded)
	}
	if _, err := DecodeJob([]byte(`{"id":"x","request":{}}`)); !errors.Is(err, ErrTaskDecode) {
		t.Fatalf("expected decode error, got %v", err)
	}
}

func TestMemoryQueuePublishAfterClose(t *testing.T) {
	q := NewMemoryQueue(1)
	_ = q.Close()
	if err := q.Publish(context.Background(), []byte("x")); xerrors.CodeOf(err) != xerrors.CodeQueueFailure {
		t.Fatalf("expected queue failure, got %v", err)
	}
}

func TestNewQueueRejectsUnknownDriver(t *testing.T) {
	if _, err := NewQueue(context.Background(), QueueConfig{Driver: "kafka"}); xerrors.CodeOf(err) != xerrors.CodeConfiguration {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if _, err := NewQueue(context.Background(), QueueConfig{Driver: "redis"}); xerrors.CodeOf(err) != xerrors.CodeConfiguration {
		t.Fatalf("redis without address should be a configuration error, got %v", err)
	}
}

type gatedExecutor struct {
	gate      chan struct{}
	calls     atomic.Int32
	processed atomic.Int32
}

func (g *gatedExecutor) Handle(ctx context.Context, req events.CompletionRequest) events.Result {
	if g.calls.Add(1) == 1 {
		select {
		case <-g.gate:
		case <-ctx.Done():
		}
		return events.Result{Outcome: "failed", Err: errors.New("inference unavailable"), Retryable: true}
	}
	g.processed.Add(1)
	return events.Result{Outcome: "submitted", Digest: "d-" + req.ExecutionID}
}

func TestProcessorRetryDoesNotStallFullQueue(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	queue := NewMemoryQueue(1)
	executor := &gatedExecutor{gate: make(chan struct{})}
	dispatcher, err := NewDispatcher(queue)
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	processor := NewProcessor(executor, queue, queue, WithWorkerCount(1))
	go processor.Start(ctx)

	if err := dispatcher.Dispatch(ctx, request(1)); err != nil {
		t.Fatalf("dispatch 1: %v", err)
	}
	waitFor(t, func() bool { return executor.calls.Load() == 1 }, "first job was not picked up")
	if err := dispatcher.Dispatch(ctx, request(2)); err != nil {
		t.Fatalf("dispatch 2: %v", err)
	}

	blocked := make(chan error, 1)
	go func() { blocked <- dispatcher.Dispatch(ctx, request(3)) }()
	close(executor.gate)

	select {
	case err := <-blocked:
		if err != nil {
			t.Fatalf("dispatch 3: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("dispatch blocked while the worker was re-queueing")
	}
	waitFor(t, func() bool { return executor.processed.Load() >= 2 }, "queued jobs were not processed")
}

func TestMemoryQueueTryPublishWhenFull(t *testing.T) {
	q := NewMemoryQueue(1)
	if err := q.TryPublish([]byte("a")); err != nil {
		t.Fatalf("first publish: %v", err)
	}
	if err := q.TryPublish([]byte("b")); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected queue full, got %v", err)
	}
}

func TestMemoryQueueCloseReleasesBlockedPublisher(t *testing.T) {
	q := NewMemoryQueue(1)
	if err := q.Publish(context.Background(), []byte("a")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	blocked := make(chan error, 1)
	go func() { blocked <- q.Publish(context.Background(), []byte("b")) }()
	time.Sleep(20 * time.Millisecond)

	closed := make(chan struct{})
	go func() {
		_ = q.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(3 * time.Second):
		t.Fatalf("close blocked on a pending publisher")
	}
	select {
	case err := <-blocked:
		if xerrors.CodeOf(err) != xerrors.CodeQueueFailure {
			t.Fatalf("expected queue failure, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("publisher was not released")
	}
}
