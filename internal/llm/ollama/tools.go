package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ollama/ollama/api"

	xerrors "Nexus-Chain/internal/errors"
	"Nexus-Chain/internal/llm"
)

var _ llm.ToolChooser = (*Client)(nil)

const toolPrompt = "Answer the following question, using the provided tools if necessary. Always use a tool before answering: %s"

// ChooseTool 将工具绑定到 chat 请求，返回模型选中的第一个工具调用。
// 模型未走函数调用时，尝试从 {"tool": ..., "tool_input": {...}} 形式的回答中解析。
func (c *Client) ChooseTool(ctx context.Context, req llm.Request, specs []llm.ToolSpec) (*llm.ToolChoice, error) {
	req = req.Normalize()
	tools, err := toAPITools(specs)
	if err != nil {
		return nil, err
	}
	stream := false
	chatReq := &api.ChatRequest{
		Model:    req.Model,
		Messages: []api.Message{{Role: "user", Content: fmt.Sprintf(toolPrompt, req.Prompt)}},
		Stream:   &stream,
		Tools:    tools,
		Options: map[string]any{
			"temperature": req.Temperature,
			"num_predict": req.MaxTokens,
		},
	}

	var model string
	var text strings.Builder
	var calls []api.ToolCall
	err = c.api.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
		model = resp.Model
		text.WriteString(resp.Message.Content)
		calls = append(calls, resp.Message.ToolCalls...)
		return nil
	})
	if err != nil {
		return nil, classify(err, "调用 Ollama 工具选择失败")
	}

	choice := &llm.ToolChoice{Text: text.String(), Model: model}
	if len(calls) > 0 {
		choice.Call = &llm.ToolCall{
			Name: calls[0].Function.Name,
			Args: map[string]any(calls[0].Function.Arguments),
		}
		return choice, nil
	}
	choice.Call = parseToolJSON(choice.Text)
	return choice, nil
}

// toAPITools 通过 JSON 构造 api.Tool，参数均为必填字符串。
func toAPITools(specs []llm.ToolSpec) (api.Tools, error) {
	out := make(api.Tools, 0, len(specs))
	for _, spec := range specs {
		props := make(map[string]any, len(spec.Params))
		for _, p := range spec.Params {
			props[p] = map[string]any{"type": "string"}
		}
		required := spec.Params
		if required == nil {
			required = []string{}
		}
		raw, err := json.Marshal(map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        spec.Name,
				"description": spec.Description,
				"parameters": map[string]any{
					"type":       "object",
					"properties": props,
					"required":   required,
				},
			},
		})
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "序列化工具描述失败")
		}
		var tool api.Tool
		if err := json.Unmarshal(raw, &tool); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, fmt.Sprintf("工具 %s 描述无效", spec.Name))
		}
		out = append(out, tool)
	}
	return out, nil
}

func parseToolJSON(text string) *llm.ToolCall {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "{") {
		return nil
	}
	var decoded struct {
		Tool      string         `json:"tool"`
		ToolInput map[string]any `json:"tool_input"`
	}
	// 小模型常丢失结尾的括号，最多补齐两个。
	var err error
	for _, suffix := range []string{"", "}", "}}"} {
		if err = json.Unmarshal([]byte(text+suffix), &decoded); err == nil {
			break
		}
	}
	if err != nil || decoded.Tool == "" {
		return nil
	}
	if decoded.ToolInput == nil {
		decoded.ToolInput = map[string]any{}
	}
	return &llm.ToolCall{Name: decoded.Tool, Args: decoded.ToolInput}
}
