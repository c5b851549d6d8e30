// Package nexus is a Go client for the inference proxy: completions, tool
// calls and the local model listing. The event listener uses it to reach the
// proxy, and it can be embedded in other Go programs the same way.
package nexus

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client. Completions on a local model can be slow, so it is
// longer than a typical REST timeout.
const DefaultHTTPTimeout = 5 * time.Minute

var (
	// ErrUnknownTool is returned when the proxy does not know the tool (HTTP 400).
	ErrUnknownTool = errors.New("nexus: unknown tool")
	// ErrInvalidArguments is returned when the request fails validation (HTTP 422).
	ErrInvalidArguments = errors.New("nexus: invalid arguments")
)

// PredictRequest is the body of POST /predict.
type PredictRequest struct {
	Prompt      string  `json:"prompt"`
	Model       string  `json:"model"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
}

// PredictResponse is the completion returned by POST /predict. Raw carries
// the runtime's own response document.
type PredictResponse struct {
	Completion string          `json:"completion"`
	Model      string          `json:"model"`
	DoneReason string          `json:"done_reason,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
	Raw        json.RawMessage `json:"raw,omitempty"`
}

// ToolRequest is the body of POST /tool/use.
type ToolRequest struct {
	ToolName string         `json:"tool_name"`
	Args     map[string]any `json:"args"`
}

// ToolResponse is the result of a tool call.
type ToolResponse struct {
	Result string `json:"result"`
}

// ModelDetails describes the format and size of a local model.
type ModelDetails struct {
	ParentModel       string   `json:"parent_model,omitempty"`
	Format            string   `json:"format"`
	Family            string   `json:"family"`
	Families          []string `json:"families,omitempty"`
	ParameterSize     string   `json:"parameter_size"`
	QuantizationLevel string   `json:"quantization_level"`
}

// Model is one entry of GET /models.
type Model struct {
	Name       string       `json:"name"`
	ModifiedAt time.Time    `json:"modified_at"`
	Size       int64        `json:"size"`
	Digest     string       `json:"digest"`
	Details    ModelDetails `json:"details"`
}

// ModelsResponse is the body of GET /models.
type ModelsResponse struct {
	Models []Model `json:"models"`
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("nexus api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("nexus api error (%d): %s", e.StatusCode, e.Message)
}

// Unwrap maps the HTTP status onto the package sentinels.
func (e *APIError) Unwrap() error {
	if e == nil {
		return nil
	}
	switch e.StatusCode {
	case http.StatusBadRequest:
		return ErrUnknownTool
	case http.StatusUnprocessableEntity:
		return ErrInvalidArguments
	}
	return nil
}

// Client wraps the HTTP interactions with the inference proxy.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	predictURL string
	toolURL    string
}

// Option customises a Client.
type Option func(*Client)

// WithPredictURL overrides the full completion endpoint, e.g. when the
// runtime is reachable under a different host than the tools.
func WithPredictURL(u string) Option {
	return func(c *Client) { c.predictURL = u }
}

// WithToolURL overrides the full tool endpoint.
func WithToolURL(u string) Option {
	return func(c *Client) { c.toolURL = u }
}

// NewClient instantiates a client for the proxy at rawURL. When httpClient is
// nil, a default client with DefaultHTTPTimeout is used.
func NewClient(rawURL string, httpClient *http.Client, opts ...Option) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	c := &Client{baseURL: parsed, httpClient: httpClient}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// Predict requests a completion.
func (c *Client) Predict(ctx context.Context, req PredictRequest) (PredictResponse, error) {
	var resp PredictResponse
	if err := c.post(ctx, c.endpoint(c.predictURL, "/predict"), req, &resp); err != nil {
		return PredictResponse{}, err
	}
	return resp, nil
}

// UseTool runs a tool on the proxy and returns its textual result.
func (c *Client) UseTool(ctx context.Context, name string, args map[string]any) (string, error) {
	if args == nil {
		args = map[string]any{}
	}
	var resp ToolResponse
	if err := c.post(ctx, c.endpoint(c.toolURL, "/tool/use"), ToolRequest{ToolName: name, Args: args}, &resp); err != nil {
		return "", err
	}
	return resp.Result, nil
}

// ListModels returns the models available to the proxy's runtime.
func (c *Client) ListModels(ctx context.Context) ([]Model, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("", "/models"), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	var resp ModelsResponse
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	return resp.Models, nil
}

func (c *Client) endpoint(override, rel string) string {
	if override != "" {
		return override
	}
	u := c.baseURL.ResolveReference(&url.URL{Path: path.Join(c.baseURL.Path, rel)})
	return u.String()
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &struct {
				Error *APIError `json:"error"`
			}{Error: apiErr}); err != nil {
				_ = json.Unmarshal(data, apiErr)
			}
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
