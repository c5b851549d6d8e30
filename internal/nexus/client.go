// Package nexus wraps the on-chain agent-cluster contracts: nodes, models,
// clusters with their agents and tasks, executions and completion
// submission. Every operation is a single Move call followed by strict
// decoding of the emitted events.
package nexus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	xerrors "Nexus-Chain/internal/errors"
	"Nexus-Chain/internal/web3"
	"Nexus-Chain/pkg/logger"
)

const (
	// GasBudget 等于 1 SUI，用于集群相关交易。
	GasBudget uint64 = 1_000_000_000
	// CreateGasBudget 用于节点与模型的创建。
	CreateGasBudget uint64 = 10_000_000
)

// CodeExecutionFailed 表示集群执行在链上以 FAILED 结束。
const CodeExecutionFailed xerrors.Code = "EXECUTION_FAILED"

func init() {
	xerrors.Register(CodeExecutionFailed, xerrors.Attributes{
		Message:  "cluster execution failed",
		Severity: xerrors.SeverityWarning,
	})
}

// 调用方通过 errors.Is 区分的错误类别。
var (
	ErrNotFound        = xerrors.Sentinel(xerrors.CodeNotFound)
	ErrRejected        = xerrors.Sentinel(xerrors.CodeRejected)
	ErrMalformed       = xerrors.Sentinel(xerrors.CodeMalformed)
	ErrTransport       = xerrors.Sentinel(xerrors.CodeTransport)
	ErrTimeout         = xerrors.Sentinel(xerrors.CodeTimeout)
	ErrExecutionFailed = xerrors.Sentinel(CodeExecutionFailed)
)

// Client 封装合约调用。
type Client struct {
	chain     web3.Client
	packageID string
	gasBudget uint64
	logger    *slog.Logger
}

// Option 定义可选配置。
type Option func(*Client)

// WithGasBudget 覆盖集群交易的 gas 预算。
func WithGasBudget(budget uint64) Option {
	return func(c *Client) {
		if budget > 0 {
			c.gasBudget = budget
		}
	}
}

// WithLogger 指定日志输出。
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// New 创建 SDK 客户端。
func New(chain web3.Client, packageID string, opts ...Option) (*Client, error) {
	if chain == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置链客户端")
	}
	packageID = strings.TrimSpace(packageID)
	if packageID == "" {
		return nil, xerrors.New(xerrors.CodeConfiguration, "合约包 ID 不能为空")
	}
	c := &Client{chain: chain, packageID: packageID, gasBudget: GasBudget}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if c.logger == nil {
		c.logger = logger.Named("nexus")
	}
	return c, nil
}

// PackageID 返回合约包 ID。
func (c *Client) PackageID() string {
	return c.packageID
}

// FetchObject 读取任意对象。
func (c *Client) FetchObject(ctx context.Context, id string) (web3.Object, error) {
	return c.chain.GetObject(ctx, id)
}

func (c *Client) call(ctx context.Context, module, function string, budget uint64, args ...any) (web3.TransactionResult, error) {
	if budget == 0 {
		budget = c.gasBudget
	}
	call := web3.MoveCall{
		Package:   c.packageID,
		Module:    module,
		Function:  function,
		Args:      args,
		GasBudget: budget,
	}
	res, err := c.chain.ExecuteMoveCall(ctx, call)
	if err != nil {
		c.logger.Warn("合约调用失败",
			slog.String("target", call.Target()),
			slog.String("digest", res.Digest),
			slog.String("chain_error", res.Error),
			slog.Any("error", err))
		return res, err
	}
	c.logger.Debug("合约调用成功", slog.String("target", call.Target()), slog.String("digest", res.Digest))
	return res, nil
}

// eventField 在交易事件中查找第一个包含任一字段的事件，并返回该字段的字符串值。
func eventField(res web3.TransactionResult, keys ...string) (string, error) {
	if len(res.Events) == 0 {
		return "", xerrors.New(xerrors.CodeNotFound, "交易未产生事件", xerrors.WithMetadata("digest", res.Digest))
	}
	for _, ev := range res.Events {
		fields, err := decodeFields(ev.ParsedJSON)
		if err != nil {
			return "", err
		}
		for _, key := range keys {
			raw, ok := fields[key]
			if !ok {
				continue
			}
			var value string
			if err := json.Unmarshal(raw, &value); err != nil || value == "" {
				return "", xerrors.New(xerrors.CodeMalformed, fmt.Sprintf("事件字段 %s 不是有效的对象 ID", key),
					xerrors.WithMetadata("event_type", ev.Type))
			}
			return value, nil
		}
	}
	return "", xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("交易事件中没有字段 %s", strings.Join(keys, "/")),
		xerrors.WithMetadata("digest", res.Digest))
}

func decodeFields(raw json.RawMessage) (map[string]json.RawMessage, error) {
	if len(raw) == 0 {
		return map[string]json.RawMessage{}, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeMalformed, err, "事件内容不是 JSON 对象")
	}
	return fields, nil
}
