package llm

import (
	"context"
	"encoding/json"
	"time"
)

const (
	// DefaultTemperature 在温度越界时使用。
	DefaultTemperature = 1.0
	// MaxTemperature 是允许的温度上限，下限为 0。
	MaxTemperature = 2.0
	// DefaultMaxTokens 与链下推理服务的默认值一致。
	DefaultMaxTokens = 1000
)

// Request 描述一次补全请求。
type Request struct {
	Prompt      string
	Model       string
	MaxTokens   int
	Temperature float64
}

// Response 是运行时返回的补全结果。Raw 保留运行时的原始响应。
type Response struct {
	Text       string
	Model      string
	DoneReason string
	CreatedAt  time.Time
	Raw        json.RawMessage
}

// ModelDetails 描述本地模型的格式与规模。
type ModelDetails struct {
	ParentModel       string   `json:"parent_model,omitempty"`
	Format            string   `json:"format"`
	Family            string   `json:"family"`
	Families          []string `json:"families,omitempty"`
	ParameterSize     string   `json:"parameter_size"`
	QuantizationLevel string   `json:"quantization_level"`
}

// ModelInfo 是运行时中可用的模型。
type ModelInfo struct {
	Name       string       `json:"name"`
	ModifiedAt time.Time    `json:"modified_at"`
	Size       int64        `json:"size"`
	Digest     string       `json:"digest"`
	Details    ModelDetails `json:"details"`
}

// Client 定义了调用大模型运行时的统一接口。
type Client interface {
	Generate(ctx context.Context, req Request) (*Response, error)
	ListModels(ctx context.Context) ([]ModelInfo, error)
}

// NormalizeTemperature 将 [0, 2] 之外的温度替换为 1.0。
func NormalizeTemperature(t float64) float64 {
	if t < 0 || t > MaxTemperature || t != t {
		return DefaultTemperature
	}
	return t
}

// Normalize 返回补全默认值并修正温度后的请求副本。
func (r Request) Normalize() Request {
	if r.MaxTokens <= 0 {
		r.MaxTokens = DefaultMaxTokens
	}
	r.Temperature = NormalizeTemperature(r.Temperature)
	return r
}

// ToolSpec 是提供给模型选择的工具描述，所有参数均为必填字符串。
type ToolSpec struct {
	Name        string
	Description string
	Params      []string
}

// ToolCall 是模型选中的工具及其参数。
type ToolCall struct {
	Name string
	Args map[string]any
}

// ToolChoice 是一次工具选择的结果。Call 为空时 Text 为模型的直接回答。
type ToolChoice struct {
	Call  *ToolCall
	Text  string
	Model string
}

// ToolChooser 由支持函数调用的运行时实现。
type ToolChooser interface {
	ChooseTool(ctx context.Context, req Request, tools []ToolSpec) (*ToolChoice, error)
}
