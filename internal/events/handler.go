package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"time"

	xerrors "Nexus-Chain/internal/errors"
	"Nexus-Chain/internal/llm"
	"Nexus-Chain/internal/observability/metrics"
	"Nexus-Chain/internal/sanitize"
	"Nexus-Chain/internal/storage/mysql"
	"Nexus-Chain/internal/tools"
	"Nexus-Chain/internal/web3"
	"Nexus-Chain/pkg/logger"
	nexussdk "Nexus-Chain/sdk/go/nexus"
)

// Inference 是推理代理的补全接口。
type Inference interface {
	Predict(ctx context.Context, req nexussdk.PredictRequest) (nexussdk.PredictResponse, error)
}

// ToolRunner 通过推理代理执行工具。
type ToolRunner interface {
	UseTool(ctx context.Context, name string, args map[string]any) (string, error)
}

// Submitter 将补全结果写回链上。
type Submitter interface {
	SubmitCompletion(ctx context.Context, executionID, modelOwnerCapID, completion string) (web3.TransactionResult, error)
}

// Journal 记录每个事件的处理结果。
type Journal interface {
	Record(ctx context.Context, record mysql.CompletionRecord) error
}

// ToolCatalog 提供工具的参数定义，用于把位置参数映射为具名参数。
type ToolCatalog interface {
	Lookup(name string) (*tools.Tool, bool)
}

// HandlerConfig 描述处理补全请求所需的协作者。
type HandlerConfig struct {
	ModelOwnerCapID  string
	Tools            ToolCatalog
	ToolRunner       ToolRunner
	Inference        Inference
	Submitter        Submitter
	Journal          Journal
	InferenceTimeout time.Duration
	Logger           *slog.Logger
}

// Result 是单个补全请求的处理结果。Retryable 只会在提交之前的失败上置位，
// 提交失败不重试。
type Result struct {
	Outcome   string
	Digest    string
	Err       error
	Retryable bool
}

// Handler 依次执行工具调用、推理、清洗与链上提交。
type Handler struct {
	capID     string
	catalog   ToolCatalog
	tools     ToolRunner
	inference Inference
	submitter Submitter
	journal   Journal
	timeout   time.Duration
	logger    *slog.Logger
}

// NewHandler 校验协作者并构造 Handler。
func NewHandler(cfg HandlerConfig) (*Handler, error) {
	if cfg.ModelOwnerCapID == "" {
		return nil, xerrors.New(xerrors.CodeConfiguration, "未配置模型所有者凭证")
	}
	if cfg.Inference == nil || cfg.Submitter == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "推理与提交协作者不能为空")
	}
	if cfg.Tools == nil || cfg.ToolRunner == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "工具注册表与工具执行器不能为空")
	}
	h := &Handler{
		capID:     cfg.ModelOwnerCapID,
		catalog:   cfg.Tools,
		tools:     cfg.ToolRunner,
		inference: cfg.Inference,
		submitter: cfg.Submitter,
		journal:   cfg.Journal,
		timeout:   cfg.InferenceTimeout,
		logger:    cfg.Logger,
	}
	if h.logger == nil {
		h.logger = logger.Named("events")
	}
	return h, nil
}

// Dispatch 同步处理请求。提交失败只记录日志，不会中断事件循环。
func (h *Handler) Dispatch(ctx context.Context, req CompletionRequest) error {
	h.Handle(ctx, req)
	return ctx.Err()
}

// Handle 处理一个补全请求并记录结果。
func (h *Handler) Handle(ctx context.Context, req CompletionRequest) Result {
	log := h.logger.With(
		slog.String("event", req.EventID.String()),
		slog.String("execution", req.ExecutionID),
		slog.String("model", req.ModelName),
	)

	temperature := llm.NormalizeTemperature(req.Temperature)
	if temperature != req.Temperature {
		log.Warn("温度超出范围，使用默认值",
			slog.Float64("temperature", req.Temperature),
			slog.Float64("default", temperature))
	}

	res := h.process(ctx, req, temperature, log)
	h.record(ctx, req, res, log)
	metrics.ObserveEvent(res.Outcome)
	return res
}

func (h *Handler) process(ctx context.Context, req CompletionRequest, temperature float64, log *slog.Logger) Result {
	prompt := req.Prompt
	if req.Tool != nil {
		result, err := h.useTool(ctx, req.Tool)
		if err != nil {
			log.Error("工具调用失败，放弃该事件", slog.String("tool", req.Tool.Name), slog.Any("error", err))
			return Result{Outcome: metrics.OutcomeFailed, Err: err, Retryable: retryable(err)}
		}
		if result != "" {
			prompt = fmt.Sprintf("context from %s: %s. %s", req.Tool.Name, result, prompt)
		}
	}

	completion, err := h.predict(ctx, nexussdk.PredictRequest{
		Prompt:      prompt,
		Model:       req.ModelName,
		MaxTokens:   tokenBudget(req.MaxTokens),
		Temperature: temperature,
	})
	if err != nil {
		log.Error("推理失败", slog.Any("error", err))
		return Result{Outcome: metrics.OutcomeFailed, Err: err, Retryable: retryable(err)}
	}

	text := sanitize.Text(completion)
	tx, err := h.submitter.SubmitCompletion(ctx, req.ExecutionID, h.capID, text)
	if err != nil {
		outcome := metrics.OutcomeFailed
		if xerrors.CodeOf(err) == xerrors.CodeRejected {
			outcome = metrics.OutcomeRejected
		}
		log.Error("提交补全失败",
			slog.String("digest", tx.Digest),
			slog.String("chain_error", tx.Error),
			slog.Any("error", err))
		return Result{Outcome: outcome, Digest: tx.Digest, Err: err}
	}

	logger.Audit().Info("补全已提交",
		slog.String("event", req.EventID.String()),
		slog.String("execution", req.ExecutionID),
		slog.String("digest", tx.Digest))
	return Result{Outcome: metrics.OutcomeSubmitted, Digest: tx.Digest}
}

func (h *Handler) useTool(ctx context.Context, call *ToolCall) (string, error) {
	tool, ok := h.catalog.Lookup(call.Name)
	if !ok {
		return "", xerrors.New(tools.CodeUnknownTool, fmt.Sprintf("Unknown tool: %s", call.Name))
	}
	start := time.Now()
	result, err := h.tools.UseTool(ctx, call.Name, tool.Bind(call.Args))
	metrics.ObserveToolCall(call.Name, err, time.Since(start))
	return result, err
}

func (h *Handler) predict(ctx context.Context, req nexussdk.PredictRequest) (string, error) {
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}
	start := time.Now()
	resp, err := h.inference.Predict(ctx, req)
	metrics.ObserveInference(time.Since(start))
	if err != nil {
		return "", err
	}
	return resp.Completion, nil
}

// tokenBudget 将链上 u64 的 token 上限收敛到 int32 范围内。
func tokenBudget(maxTokens uint64) int {
	if maxTokens > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(maxTokens)
}

// retryable 判断提交前的失败是否值得重新排队。
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if _, coded := xerrors.From(err); coded {
		return xerrors.RetryableError(err)
	}
	var apiErr *nexussdk.APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= http.StatusInternalServerError
	}
	return true
}

func (h *Handler) record(ctx context.Context, req CompletionRequest, res Result, log *slog.Logger) {
	if h.journal == nil {
		return
	}
	record := mysql.CompletionRecord{
		TxDigest:    req.EventID.TxDigest,
		EventSeq:    req.EventID.EventSeq,
		ExecutionID: req.ExecutionID,
		ModelName:   req.ModelName,
		Outcome:     res.Outcome,
		Digest:      res.Digest,
	}
	if req.Tool != nil {
		record.Tool = req.Tool.Name
	}
	if res.Err != nil {
		record.Error = res.Err.Error()
	}
	if err := h.journal.Record(ctx, record); err != nil {
		log.Warn("写入补全日志失败", slog.Any("error", err))
	}
}
