package nexus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	xerrors "Nexus-Chain/internal/errors"
	"Nexus-Chain/internal/web3"
)

// ExecutionStatus 是集群执行对象的状态字段。
type ExecutionStatus string

const (
	StatusIdle    ExecutionStatus = "IDLE"
	StatusRunning ExecutionStatus = "RUNNING"
	StatusSuccess ExecutionStatus = "SUCCESS"
	StatusFailed  ExecutionStatus = "FAILED"
)

// Terminal 表示状态不会再变化。
func (s ExecutionStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// Execution 是一次集群执行的链上状态。
type Execution struct {
	ID              string          `json:"id"`
	Status          ExecutionStatus `json:"status"`
	ClusterResponse string          `json:"cluster_response"`
	ErrorMessage    string          `json:"error_message"`
}

// WaitOptions 控制轮询执行结果的节奏。
type WaitOptions struct {
	MaxWait  time.Duration
	Interval time.Duration
}

// DefaultWaitOptions 最多等待 180 秒，每 5 秒查询一次。
var DefaultWaitOptions = WaitOptions{MaxWait: 180 * time.Second, Interval: 5 * time.Second}

// Execute 以给定输入启动集群执行，返回执行对象 ID。
func (c *Client) Execute(ctx context.Context, clusterID, input string) (string, error) {
	if clusterID == "" {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "集群 ID 不能为空")
	}
	res, err := c.call(ctx, "cluster", "execute", 0, clusterID, input)
	if err != nil {
		return "", err
	}
	// 交易会发出两个事件，分别携带 execution 或 cluster_execution 字段。
	return eventField(res, "execution", "cluster_execution")
}

// GetExecution 读取执行对象的当前状态。
func (c *Client) GetExecution(ctx context.Context, executionID string) (Execution, error) {
	obj, err := c.chain.GetObject(ctx, executionID)
	if err != nil {
		return Execution{}, err
	}
	var fields struct {
		Status          *string `json:"status"`
		ClusterResponse string  `json:"cluster_response"`
		ErrorMessage    string  `json:"error_message"`
	}
	if err := json.Unmarshal(obj.Fields, &fields); err != nil {
		return Execution{}, xerrors.Wrap(xerrors.CodeMalformed, err, "解析执行对象失败")
	}
	if fields.Status == nil {
		return Execution{}, xerrors.New(xerrors.CodeMalformed, "执行对象缺少 status 字段")
	}
	status := ExecutionStatus(strings.ToUpper(strings.TrimSpace(*fields.Status)))
	switch status {
	case StatusIdle, StatusRunning, StatusSuccess, StatusFailed:
	default:
		return Execution{}, xerrors.New(xerrors.CodeMalformed, fmt.Sprintf("未知的执行状态 %q", *fields.Status))
	}
	return Execution{
		ID:              executionID,
		Status:          status,
		ClusterResponse: fields.ClusterResponse,
		ErrorMessage:    fields.ErrorMessage,
	}, nil
}

// WaitForExecution 轮询直到执行结束。SUCCESS 返回 nil 错误；FAILED 返回
// EXECUTION_FAILED；超过 MaxWait 返回 TIMEOUT。
func (c *Client) WaitForExecution(ctx context.Context, executionID string, opts WaitOptions) (Execution, error) {
	if opts.MaxWait <= 0 {
		opts.MaxWait = DefaultWaitOptions.MaxWait
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultWaitOptions.Interval
	}
	deadline := time.Now().Add(opts.MaxWait)

	for {
		exec, err := c.GetExecution(ctx, executionID)
		if err != nil {
			return Execution{}, err
		}
		switch exec.Status {
		case StatusSuccess:
			return exec, nil
		case StatusFailed:
			return exec, xerrors.New(CodeExecutionFailed, "集群执行失败: "+exec.ErrorMessage,
				xerrors.WithMetadata("execution_id", executionID))
		case StatusIdle:
			c.logger.Info("集群执行尚未开始", slog.String("execution_id", executionID))
		case StatusRunning:
			c.logger.Info("集群执行中",
				slog.String("execution_id", executionID),
				slog.Duration("until_timeout", time.Until(deadline).Round(time.Second)))
		}

		if time.Now().Add(opts.Interval).After(deadline) {
			return exec, xerrors.New(xerrors.CodeTimeout,
				fmt.Sprintf("集群执行未在 %s 内完成", opts.MaxWait),
				xerrors.WithMetadata("execution_id", executionID))
		}
		timer := time.NewTimer(opts.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return exec, ctx.Err()
		case <-timer.C:
		}
	}
}

// SubmitCompletion 以模型所有者身份提交补全结果。
func (c *Client) SubmitCompletion(ctx context.Context, executionID, modelOwnerCapID, completion string) (web3.TransactionResult, error) {
	if executionID == "" || modelOwnerCapID == "" {
		return web3.TransactionResult{}, xerrors.New(xerrors.CodeInvalidArgument, "执行 ID 与模型凭证不能为空")
	}
	return c.call(ctx, "cluster", "submit_completion_as_model_owner", 0,
		executionID,
		modelOwnerCapID,
		completion,
	)
}
