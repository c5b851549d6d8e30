package task

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	xerrors "Nexus-Chain/internal/errors"
	"Nexus-Chain/internal/events"
)

// Job 是队列中传递的补全任务。
type Job struct {
	ID         string                   `json:"id"`
	Attempts   int                      `json:"attempts"`
	Request    events.CompletionRequest `json:"request"`
	EnqueuedAt int64                    `json:"enqueued_at"`
}

const (
	CodeTaskDecode     xerrors.Code = "TASK_DECODE_FAILED"
	CodeTaskExhausted  xerrors.Code = "TASK_RETRIES_EXHAUSTED"
	CodeTaskPublish    xerrors.Code = "TASK_PUBLISH_FAILED"
	CodeTaskProcessing xerrors.Code = "TASK_PROCESSING_FAILED"
)

var (
	// ErrTaskDecode 表示队列消息不是合法的任务。
	ErrTaskDecode = xerrors.Sentinel(CodeTaskDecode)
	// ErrTaskExhausted 表示任务的重试次数已经耗尽。
	ErrTaskExhausted = xerrors.Sentinel(CodeTaskExhausted)
)

func init() {
	xerrors.Register(CodeTaskDecode, xerrors.Attributes{
		Message:   "task payload malformed",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeTaskExhausted, xerrors.Attributes{
		Message:   "task retries exhausted",
		Severity:  xerrors.SeverityCritical,
		Retryable: false,
		Alert:     true,
	})
	xerrors.Register(CodeTaskPublish, xerrors.Attributes{
		Message:   "failed to publish task",
		Severity:  xerrors.SeverityCritical,
		Retryable: true,
		Alert:     true,
	})
	xerrors.Register(CodeTaskProcessing, xerrors.Attributes{
		Message:   "task execution failed",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     true,
	})
}

// NewJob 为请求生成新的任务。
func NewJob(req events.CompletionRequest) Job {
	return Job{
		ID:         uuid.NewString(),
		Request:    req,
		EnqueuedAt: time.Now().Unix(),
	}
}

// Encode 序列化任务。
func (j Job) Encode() ([]byte, error) {
	payload, err := json.Marshal(j)
	if err != nil {
		return nil, xerrors.Wrap(CodeTaskPublish, err, "序列化任务失败")
	}
	return payload, nil
}

// DecodeJob 解析队列消息。
func DecodeJob(payload []byte) (Job, error) {
	var job Job
	if err := json.Unmarshal(payload, &job); err != nil {
		return Job{}, xerrors.Wrap(CodeTaskDecode, err, "解析任务失败")
	}
	if job.ID == "" || job.Request.ExecutionID == "" {
		return Job{}, xerrors.New(CodeTaskDecode, "任务缺少 ID 或执行 ID")
	}
	return job, nil
}
