package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	xerrors "Nexus-Chain/internal/errors"
	"Nexus-Chain/internal/llm"
)

const (
	defaultModelName = "gpt-4o-mini"
	defaultTimeout   = 60 * time.Second
)

// Config 描述了调用 OpenAI 兼容接口所需的信息。
type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client 通过 go-openai 调用 Chat Completions 等接口。
type Client struct {
	api   *goopenai.Client
	model string
}

// NewClient 根据配置创建 OpenAI 客户端。
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, xerrors.New(xerrors.CodeConfiguration, "未提供 OpenAI API Key")
	}

	clientCfg := goopenai.DefaultConfig(apiKey)
	if baseURL := strings.TrimSpace(cfg.BaseURL); baseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	clientCfg.HTTPClient = httpClient

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModelName
	}
	return &Client{api: goopenai.NewClientWithConfig(clientCfg), model: model}, nil
}

// Generate 调用 Chat Completions 生成补全。请求未指定模型时使用配置的默认模型。
func (c *Client) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	req = req.Normalize()
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = c.model
	}
	resp, err := c.api.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model: model,
		Messages: []goopenai.ChatCompletionMessage{
			{Role: goopenai.ChatMessageRoleUser, Content: req.Prompt},
		},
		MaxTokens:   req.MaxTokens,
		Temperature: float32(req.Temperature),
	})
	if err != nil {
		return nil, classify(err, "调用 OpenAI 失败")
	}
	if len(resp.Choices) == 0 {
		return nil, xerrors.New(xerrors.CodeMalformed, "OpenAI 响应中没有有效的 choices")
	}

	raw, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("序列化 OpenAI 响应失败: %w", err)
	}
	choice := resp.Choices[0]
	return &llm.Response{
		Text:       choice.Message.Content,
		Model:      resp.Model,
		DoneReason: string(choice.FinishReason),
		CreatedAt:  time.Unix(resp.Created, 0).UTC(),
		Raw:        raw,
	}, nil
}

// ListModels 返回账号可用的模型。OpenAI 不提供大小与摘要信息。
func (c *Client) ListModels(ctx context.Context) ([]llm.ModelInfo, error) {
	list, err := c.api.ListModels(ctx)
	if err != nil {
		return nil, classify(err, "获取 OpenAI 模型列表失败")
	}
	models := make([]llm.ModelInfo, 0, len(list.Models))
	for _, m := range list.Models {
		models = append(models, llm.ModelInfo{
			Name:       m.ID,
			ModifiedAt: time.Unix(m.CreatedAt, 0).UTC(),
			Details:    llm.ModelDetails{Family: m.OwnedBy},
		})
	}
	return models, nil
}

// DescribeImage 使用视觉模型回答关于图片的问题。
func (c *Client) DescribeImage(ctx context.Context, imageURL, prompt string) (string, error) {
	resp, err := c.api.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model: goopenai.GPT4o,
		Messages: []goopenai.ChatCompletionMessage{{
			Role: goopenai.ChatMessageRoleUser,
			MultiContent: []goopenai.ChatMessagePart{
				{Type: goopenai.ChatMessagePartTypeText, Text: prompt},
				{Type: goopenai.ChatMessagePartTypeImageURL, ImageURL: &goopenai.ChatMessageImageURL{
					URL:    imageURL,
					Detail: goopenai.ImageURLDetailAuto,
				}},
			},
		}},
		MaxTokens: 300,
	})
	if err != nil {
		return "", classify(err, "调用视觉模型失败")
	}
	if len(resp.Choices) == 0 {
		return "", xerrors.New(xerrors.CodeMalformed, "视觉模型响应为空")
	}
	return resp.Choices[0].Message.Content, nil
}

// GenerateImage 生成一张 1024x1024 图片并返回其 URL。
func (c *Client) GenerateImage(ctx context.Context, prompt string) (string, error) {
	resp, err := c.api.CreateImage(ctx, goopenai.ImageRequest{
		Prompt:         prompt,
		Model:          goopenai.CreateImageModelDallE3,
		N:              1,
		Size:           goopenai.CreateImageSize1024x1024,
		ResponseFormat: goopenai.CreateImageResponseFormatURL,
	})
	if err != nil {
		return "", classify(err, "生成图片失败")
	}
	if len(resp.Data) == 0 || resp.Data[0].URL == "" {
		return "", xerrors.New(xerrors.CodeMalformed, "图片生成响应为空")
	}
	return resp.Data[0].URL, nil
}

// Embed 返回文本的向量表示。
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := c.api.CreateEmbeddings(ctx, goopenai.EmbeddingRequest{
		Input: []string{text},
		Model: goopenai.AdaEmbeddingV2,
	})
	if err != nil {
		return nil, classify(err, "生成向量失败")
	}
	if len(resp.Data) == 0 {
		return nil, xerrors.New(xerrors.CodeMalformed, "向量响应为空")
	}
	return resp.Data[0].Embedding, nil
}

func classify(err error, message string) error {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		code := xerrors.CodeTransport
		switch {
		case apiErr.HTTPStatusCode == http.StatusNotFound:
			code = xerrors.CodeNotFound
		case apiErr.HTTPStatusCode == http.StatusTooManyRequests:
			code = xerrors.CodeTransport
		case apiErr.HTTPStatusCode >= 400 && apiErr.HTTPStatusCode < 500:
			code = xerrors.CodeRejected
		}
		return xerrors.Wrap(code, err, message, xerrors.WithMetadata("status", strconv.Itoa(apiErr.HTTPStatusCode)))
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		return xerrors.Wrap(xerrors.CodeTransport, err, message, xerrors.WithMetadata("status", strconv.Itoa(reqErr.HTTPStatusCode)))
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return xerrors.Wrap(xerrors.CodeTimeout, err, message)
	}
	return xerrors.Wrap(xerrors.CodeTransport, err, message)
}
