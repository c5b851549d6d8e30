package events

import (
	"bytes"
	"encoding/json"
	"fmt"

	xerrors "Nexus-Chain/internal/errors"
	"Nexus-Chain/internal/web3"
)

// PayloadVersion 是当前唯一支持的事件载荷版本，缺省 version 字段视为该版本。
const PayloadVersion = "v1"

// ErrMalformed 表示事件载荷无法解码。
var ErrMalformed = xerrors.Sentinel(xerrors.CodeMalformed)

// ToolCall 是事件中附带的工具调用，参数按位置排列。
type ToolCall struct {
	Name string   `json:"name"`
	Args []string `json:"args"`
}

// CompletionRequest 是解码后的补全请求，同时作为队列任务的 JSON 载荷。
type CompletionRequest struct {
	EventID     web3.EventID `json:"event_id"`
	ExecutionID string       `json:"execution_id"`
	ModelID     string       `json:"model,omitempty"`
	ModelName   string       `json:"model_name"`
	Prompt      string       `json:"prompt"`
	MaxTokens   uint64       `json:"max_tokens"`
	Temperature float64      `json:"temperature"`
	Tool        *ToolCall    `json:"tool,omitempty"`
}

type wireRequest struct {
	Version          *string         `json:"version"`
	ClusterExecution *string         `json:"cluster_execution"`
	Model            string          `json:"model"`
	ModelName        *string         `json:"model_name"`
	PromptContents   *string         `json:"prompt_contents"`
	MaxTokens        *web3.U64       `json:"max_tokens"`
	Temperature      *web3.U64       `json:"temperature"`
	Tool             json.RawMessage `json:"tool"`
}

type wireTool struct {
	Fields *struct {
		Name *string  `json:"name"`
		Args []string `json:"args"`
	} `json:"fields"`
}

// DecodeRequest 严格解码 RequestForCompletionEvent 的 parsedJson。
// u64 字段可以是字符串或数字，temperature 为百分制整数。未知字段会被忽略，
// 缺少必填字段或版本不受支持时返回 MALFORMED 错误。
func DecodeRequest(ev web3.Event) (CompletionRequest, error) {
	raw := bytes.TrimSpace(ev.ParsedJSON)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return CompletionRequest{}, malformed(ev, "事件缺少 parsedJson", nil)
	}

	var wire wireRequest
	if err := json.Unmarshal(raw, &wire); err != nil {
		return CompletionRequest{}, malformed(ev, "parsedJson 不是合法的 JSON 对象", err)
	}
	if wire.Version != nil && *wire.Version != PayloadVersion {
		return CompletionRequest{}, malformed(ev, fmt.Sprintf("不支持的载荷版本 %q", *wire.Version), nil)
	}

	var missing []string
	if wire.ClusterExecution == nil || *wire.ClusterExecution == "" {
		missing = append(missing, "cluster_execution")
	}
	if wire.ModelName == nil || *wire.ModelName == "" {
		missing = append(missing, "model_name")
	}
	if wire.PromptContents == nil {
		missing = append(missing, "prompt_contents")
	}
	if wire.MaxTokens == nil {
		missing = append(missing, "max_tokens")
	}
	if wire.Temperature == nil {
		missing = append(missing, "temperature")
	}
	if len(missing) > 0 {
		return CompletionRequest{}, malformed(ev, fmt.Sprintf("缺少字段 %v", missing), nil)
	}

	req := CompletionRequest{
		EventID:     ev.ID,
		ExecutionID: *wire.ClusterExecution,
		ModelID:     wire.Model,
		ModelName:   *wire.ModelName,
		Prompt:      *wire.PromptContents,
		MaxTokens:   uint64(*wire.MaxTokens),
		Temperature: float64(*wire.Temperature) / 100,
	}

	tool, err := decodeTool(wire.Tool)
	if err != nil {
		return CompletionRequest{}, malformed(ev, "tool 字段格式错误", err)
	}
	req.Tool = tool
	return req, nil
}

func decodeTool(raw json.RawMessage) (*ToolCall, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	var wire wireTool
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, err
	}
	if wire.Fields == nil || wire.Fields.Name == nil || *wire.Fields.Name == "" {
		return nil, fmt.Errorf("tool.fields.name 缺失")
	}
	args := wire.Fields.Args
	if args == nil {
		args = []string{}
	}
	return &ToolCall{Name: *wire.Fields.Name, Args: args}, nil
}

func malformed(ev web3.Event, message string, cause error) error {
	opts := []xerrors.Option{
		xerrors.WithMetadata("event", ev.ID.String()),
	}
	if cause != nil {
		return xerrors.Wrap(xerrors.CodeMalformed, cause, message, opts...)
	}
	return xerrors.New(xerrors.CodeMalformed, message, opts...)
}
