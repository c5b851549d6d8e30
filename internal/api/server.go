package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	xerrors "Nexus-Chain/internal/errors"
	"Nexus-Chain/internal/llm"
	"Nexus-Chain/internal/observability/metrics"
	"Nexus-Chain/internal/tools"
	"Nexus-Chain/pkg/logger"
)

const requestIDHeader = "X-Request-ID"

// ToolRegistry 是推理代理可执行的工具集合。
type ToolRegistry interface {
	Lookup(name string) (*tools.Tool, bool)
	Names() []string
	Use(ctx context.Context, name string, args map[string]any) (string, error)
}

// Server 暴露推理代理的 REST 接口。
type Server struct {
	addr   string
	model  llm.Client
	tools  ToolRegistry
	engine *gin.Engine
	logger *slog.Logger
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, model llm.Client, registry ToolRegistry) *Server {
	s := &Server{
		addr:   addr,
		model:  model,
		tools:  registry,
		logger: logger.Named("api"),
	}
	s.engine = s.routes()
	return s
}

// Handler 返回完整的路由，便于测试或嵌入其他服务。
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestID(), s.observe())

	r.POST("/predict", s.handlePredict)
	r.POST("/tool/use", s.handleToolUse)
	r.POST("/prompt_tools", s.handlePromptTools)
	r.GET("/models", s.handleModels)
	r.GET("/tools", s.handleTools)
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(metrics.Handler()))
	return r
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("推理代理已启动", slog.String("addr", s.addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

type predictRequest struct {
	Prompt      string   `json:"prompt" binding:"required"`
	Model       string   `json:"model" binding:"required"`
	MaxTokens   int      `json:"max_tokens" binding:"gte=0"`
	Temperature *float64 `json:"temperature"`
}

type predictResponse struct {
	Completion string    `json:"completion"`
	Model      string    `json:"model"`
	DoneReason string    `json:"done_reason,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	Raw        any       `json:"raw,omitempty"`
}

func (s *Server) handlePredict(c *gin.Context) {
	var body predictRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, http.StatusUnprocessableEntity, string(xerrors.CodeInvalidArgument), err.Error())
		return
	}

	temperature := llm.DefaultTemperature
	if body.Temperature != nil {
		temperature = *body.Temperature
	}
	req := llm.Request{
		Prompt:      body.Prompt,
		Model:       body.Model,
		MaxTokens:   body.MaxTokens,
		Temperature: temperature,
	}.Normalize()
	if req.Temperature != temperature {
		s.logger.Warn("温度超出范围，使用默认值",
			slog.Float64("temperature", temperature),
			slog.Float64("default", req.Temperature))
	}

	start := time.Now()
	resp, err := s.model.Generate(c.Request.Context(), req)
	metrics.ObserveInference(time.Since(start))
	if err != nil {
		s.logger.Error("模型推理失败", slog.String("model", req.Model), slog.Any("error", err))
		writeError(c, http.StatusInternalServerError, string(xerrors.CodeOf(err)), err.Error())
		return
	}

	out := predictResponse{
		Completion: resp.Text,
		Model:      resp.Model,
		DoneReason: resp.DoneReason,
		Timestamp:  resp.CreatedAt,
	}
	if out.Model == "" {
		out.Model = req.Model
	}
	if out.Timestamp.IsZero() {
		out.Timestamp = time.Now().UTC()
	}
	if len(resp.Raw) > 0 {
		out.Raw = resp.Raw
	}
	c.JSON(http.StatusOK, out)
}

type toolRequest struct {
	ToolName string         `json:"tool_name" binding:"required"`
	Args     map[string]any `json:"args"`
}

func (s *Server) handleToolUse(c *gin.Context) {
	var body toolRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, http.StatusUnprocessableEntity, string(xerrors.CodeInvalidArgument), err.Error())
		return
	}
	if body.Args == nil {
		body.Args = map[string]any{}
	}

	start := time.Now()
	result, err := s.tools.Use(c.Request.Context(), body.ToolName, body.Args)
	metrics.ObserveToolCall(body.ToolName, err, time.Since(start))
	if err != nil {
		status := toolStatus(err)
		if status == http.StatusInternalServerError {
			s.logger.Error("工具执行失败", slog.String("tool", body.ToolName), slog.Any("error", err))
		}
		writeError(c, status, string(xerrors.CodeOf(err)), err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": result})
}

type promptToolsRequest struct {
	Prompt      string   `json:"prompt" binding:"required"`
	Model       string   `json:"model" binding:"required"`
	MaxTokens   int      `json:"max_tokens" binding:"gte=0"`
	Temperature *float64 `json:"temperature"`
	Tools       []string `json:"tools"`
}

const emptyToolAnswer = "The model did not generate any output. Please try again."

// handlePromptTools 让模型在选定的工具中挑选一个并执行，返回工具结果。
func (s *Server) handlePromptTools(c *gin.Context) {
	var body promptToolsRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		writeError(c, http.StatusUnprocessableEntity, string(xerrors.CodeInvalidArgument), err.Error())
		return
	}
	chooser, ok := s.model.(llm.ToolChooser)
	if !ok {
		writeError(c, http.StatusNotImplemented, string(xerrors.CodeConfiguration), "当前模型运行时不支持工具调用")
		return
	}

	specs := make([]llm.ToolSpec, 0, len(body.Tools))
	for _, name := range body.Tools {
		tool, found := s.tools.Lookup(name)
		if !found {
			writeError(c, http.StatusInternalServerError, string(tools.CodeUnknownTool), fmt.Sprintf("Unknown tool: %s", name))
			return
		}
		specs = append(specs, llm.ToolSpec{Name: tool.Name, Description: tool.Description, Params: tool.Params()})
	}

	temperature := llm.DefaultTemperature
	if body.Temperature != nil {
		temperature = *body.Temperature
	}
	req := llm.Request{
		Prompt:      body.Prompt,
		Model:       body.Model,
		MaxTokens:   body.MaxTokens,
		Temperature: temperature,
	}.Normalize()

	start := time.Now()
	choice, err := chooser.ChooseTool(c.Request.Context(), req, specs)
	metrics.ObserveInference(time.Since(start))
	if err != nil {
		s.logger.Error("工具选择失败", slog.String("model", req.Model), slog.Any("error", err))
		writeError(c, http.StatusInternalServerError, string(xerrors.CodeOf(err)), err.Error())
		return
	}

	completion := choice.Text
	if choice.Call != nil {
		start = time.Now()
		result, err := s.tools.Use(c.Request.Context(), choice.Call.Name, choice.Call.Args)
		metrics.ObserveToolCall(choice.Call.Name, err, time.Since(start))
		if err != nil {
			s.logger.Error("工具执行失败", slog.String("tool", choice.Call.Name), slog.Any("error", err))
			writeError(c, http.StatusInternalServerError, string(xerrors.CodeOf(err)), err.Error())
			return
		}
		completion = fmt.Sprintf("Tool %s returned: %s", choice.Call.Name, result)
	}
	if completion == "" {
		completion = emptyToolAnswer
	}

	model := choice.Model
	if model == "" {
		model = req.Model
	}
	c.JSON(http.StatusOK, predictResponse{
		Completion: completion,
		Model:      model,
		Timestamp:  time.Now().UTC(),
	})
}

func toolStatus(err error) int {
	switch {
	case errors.Is(err, tools.ErrUnknownTool):
		return http.StatusBadRequest
	case errors.Is(err, tools.ErrInvalidArguments):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleModels(c *gin.Context) {
	models, err := s.model.ListModels(c.Request.Context())
	if err != nil {
		s.logger.Error("获取模型列表失败", slog.Any("error", err))
		writeError(c, http.StatusInternalServerError, string(xerrors.CodeOf(err)), err.Error())
		return
	}
	if models == nil {
		models = []llm.ModelInfo{}
	}
	c.JSON(http.StatusOK, gin.H{"models": models})
}

type toolDescriptor struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Params      []string `json:"params"`
}

func (s *Server) handleTools(c *gin.Context) {
	names := s.tools.Names()
	out := make([]toolDescriptor, 0, len(names))
	for _, name := range names {
		tool, ok := s.tools.Lookup(name)
		if !ok {
			continue
		}
		out = append(out, toolDescriptor{Name: tool.Name, Description: tool.Description, Params: tool.Params()})
	}
	c.JSON(http.StatusOK, gin.H{"tools": out})
}

func (s *Server) requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func (s *Server) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		metrics.ObserveHTTPRequest(route, c.Request.Method, status, time.Since(start))
		s.logger.Debug("请求完成",
			slog.String("request_id", c.GetString("request_id")),
			slog.String("method", c.Request.Method),
			slog.String("path", route),
			slog.Int("status", status))
	}
}

func writeError(c *gin.Context, status int, code, message string) {
	if code == "" {
		code = string(xerrors.CodeUnknown)
	}
	c.AbortWithStatusJSON(status, gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	})
}
