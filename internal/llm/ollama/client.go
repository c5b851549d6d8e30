package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/ollama/ollama/api"

	xerrors "Nexus-Chain/internal/errors"
	"Nexus-Chain/internal/llm"
)

const defaultHost = "http://localhost:11434"

// Config 描述本地 Ollama 运行时的地址。
type Config struct {
	Host       string
	HTTPClient *http.Client
}

// Client 通过 Ollama 的 chat 接口生成补全。
type Client struct {
	api *api.Client
}

// NewClient 根据配置创建客户端，Host 为空时使用本机默认端口。
func NewClient(cfg Config) (*Client, error) {
	host := strings.TrimSpace(cfg.Host)
	if host == "" {
		host = defaultHost
	}
	if !strings.Contains(host, "://") {
		host = "http://" + host
	}
	base, err := url.Parse(strings.TrimRight(host, "/"))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConfiguration, err, "解析 Ollama 地址失败")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{api: api.NewClient(base, httpClient)}, nil
}

// Generate 发送单条用户消息并等待完整响应。
func (c *Client) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	req = req.Normalize()
	stream := false
	chatReq := &api.ChatRequest{
		Model:    req.Model,
		Messages: []api.Message{{Role: "user", Content: req.Prompt}},
		Stream:   &stream,
		Options: map[string]any{
			"temperature": req.Temperature,
			"num_predict": req.MaxTokens,
		},
	}

	var final api.ChatResponse
	var text strings.Builder
	err := c.api.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
		text.WriteString(resp.Message.Content)
		final = resp
		return nil
	})
	if err != nil {
		return nil, classify(err, "调用 Ollama chat 失败")
	}
	final.Message.Content = text.String()

	raw, err := json.Marshal(final)
	if err != nil {
		return nil, fmt.Errorf("序列化 Ollama 响应失败: %w", err)
	}
	return &llm.Response{
		Text:       final.Message.Content,
		Model:      final.Model,
		DoneReason: final.DoneReason,
		CreatedAt:  final.CreatedAt,
		Raw:        raw,
	}, nil
}

// ListModels 返回本地已拉取的模型。
func (c *Client) ListModels(ctx context.Context) ([]llm.ModelInfo, error) {
	resp, err := c.api.List(ctx)
	if err != nil {
		return nil, classify(err, "获取 Ollama 模型列表失败")
	}
	models := make([]llm.ModelInfo, 0, len(resp.Models))
	for _, m := range resp.Models {
		models = append(models, llm.ModelInfo{
			Name:       m.Name,
			ModifiedAt: m.ModifiedAt,
			Size:       m.Size,
			Digest:     m.Digest,
			Details: llm.ModelDetails{
				ParentModel:       m.Details.ParentModel,
				Format:            m.Details.Format,
				Family:            m.Details.Family,
				Families:          m.Details.Families,
				ParameterSize:     m.Details.ParameterSize,
				QuantizationLevel: m.Details.QuantizationLevel,
			},
		})
	}
	return models, nil
}

func classify(err error, message string) error {
	var status api.StatusError
	if errors.As(err, &status) {
		code := xerrors.CodeTransport
		switch {
		case status.StatusCode == http.StatusNotFound:
			code = xerrors.CodeNotFound
		case status.StatusCode >= 400 && status.StatusCode < 500:
			code = xerrors.CodeInvalidArgument
		}
		return xerrors.Wrap(code, err, message, xerrors.WithMetadata("status", strconv.Itoa(status.StatusCode)))
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return xerrors.Wrap(xerrors.CodeTimeout, err, message)
	}
	return xerrors.Wrap(xerrors.CodeTransport, err, message)
}
