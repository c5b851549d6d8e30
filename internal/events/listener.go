package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	xerrors "Nexus-Chain/internal/errors"
	"Nexus-Chain/internal/observability/metrics"
	"Nexus-Chain/internal/storage/mysql"
	"Nexus-Chain/internal/web3"
	"Nexus-Chain/pkg/logger"
)

const (
	// DefaultPollInterval 是空页后的固定等待时间。
	DefaultPollInterval = 3 * time.Second
	// DefaultPageLimit 为 0 时由节点决定分页大小。
	DefaultPageLimit = 0
)

// EventSource 按游标分页查询事件，游标本身不会再次返回。
type EventSource interface {
	QueryEvents(ctx context.Context, query web3.EventQuery) (web3.EventPage, error)
}

// Dispatcher 接收解码后的补全请求，可以是同步的 Handler，也可以是任务队列。
type Dispatcher interface {
	Dispatch(ctx context.Context, req CompletionRequest) error
}

// CursorStore 保存最后处理的事件 ID。
type CursorStore interface {
	Load(ctx context.Context) (*web3.EventID, error)
	Save(ctx context.Context, id web3.EventID) error
}

// MemoryCursorStore 仅在进程内保存游标。
type MemoryCursorStore struct {
	mu     sync.Mutex
	cursor *web3.EventID
}

// Load 返回当前游标。
func (m *MemoryCursorStore) Load(context.Context) (*web3.EventID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cursor == nil {
		return nil, nil
	}
	id := *m.cursor
	return &id, nil
}

// Save 覆盖当前游标。
func (m *MemoryCursorStore) Save(_ context.Context, id web3.EventID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cursor = &id
	return nil
}

// Option 定义监听器的可选配置。
type Option func(*Listener)

// WithPollInterval 设置空页后的等待时间。
func WithPollInterval(d time.Duration) Option {
	return func(l *Listener) {
		if d > 0 {
			l.interval = d
		}
	}
}

// WithPageLimit 设置单页事件数量上限。
func WithPageLimit(limit int) Option {
	return func(l *Listener) {
		if limit > 0 {
			l.limit = limit
		}
	}
}

// WithModelFilter 只处理 model 字段等于给定 ID 的事件。
func WithModelFilter(modelID string) Option {
	return func(l *Listener) {
		l.modelID = modelID
	}
}

// WithCursorStore 指定游标存储。
func WithCursorStore(store CursorStore) Option {
	return func(l *Listener) {
		if store != nil {
			l.cursors = store
		}
	}
}

// WithJournal 记录解码失败与被过滤的事件。
func WithJournal(journal Journal) Option {
	return func(l *Listener) {
		l.journal = journal
	}
}

// WithLogger 指定日志输出。
func WithLogger(log *slog.Logger) Option {
	return func(l *Listener) {
		if log != nil {
			l.logger = log
		}
	}
}

// Listener 轮询 RequestForCompletionEvent，逐个解码后交给 Dispatcher。
type Listener struct {
	source    EventSource
	eventType string
	dispatch  Dispatcher
	cursors   CursorStore
	journal   Journal
	interval  time.Duration
	limit     int
	modelID   string
	logger    *slog.Logger
}

// EventType 返回包内补全请求事件的完整 Move 类型。
func EventType(packageID string) string {
	return packageID + "::prompt::RequestForCompletionEvent"
}

// NewListener 构造监听器。
func NewListener(source EventSource, packageID string, dispatch Dispatcher, opts ...Option) (*Listener, error) {
	if source == nil || dispatch == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "事件源与分发器不能为空")
	}
	if packageID == "" {
		return nil, xerrors.New(xerrors.CodeConfiguration, "未配置合约包 ID")
	}
	l := &Listener{
		source:    source,
		eventType: EventType(packageID),
		dispatch:  dispatch,
		cursors:   &MemoryCursorStore{},
		interval:  DefaultPollInterval,
		limit:     DefaultPageLimit,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	if l.logger == nil {
		l.logger = logger.Named("events")
	}
	return l, nil
}

// Run 持续轮询直到 ctx 取消。事件查询失败是致命错误，会直接返回。
func (l *Listener) Run(ctx context.Context) error {
	cursor, err := l.cursors.Load(ctx)
	if err != nil {
		return err
	}
	l.logger.Info("开始监听补全请求",
		slog.String("event_type", l.eventType),
		slog.String("cursor", cursorString(cursor)))

	for {
		if ctx.Err() != nil {
			return nil
		}
		next, err := l.Poll(ctx, cursor)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		cursor = next
	}
}

// Poll 拉取并处理一页事件，返回下一次查询使用的游标。
// 空页时等待固定间隔并原样返回游标。
func (l *Listener) Poll(ctx context.Context, cursor *web3.EventID) (*web3.EventID, error) {
	page, err := l.source.QueryEvents(ctx, web3.EventQuery{
		MoveEventType: l.eventType,
		Cursor:        cursor,
		Limit:         l.limit,
	})
	if err != nil {
		code := xerrors.CodeOf(err)
		if code == xerrors.CodeUnknown {
			code = xerrors.CodeTransport
		}
		return cursor, xerrors.Wrap(code, err, "无法读取链上事件")
	}
	metrics.ObservePage(len(page.Data))

	if len(page.Data) == 0 {
		l.logger.Debug("暂无新事件，等待中", slog.Duration("interval", l.interval))
		timer := time.NewTimer(l.interval)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return cursor, ctx.Err()
		case <-timer.C:
		}
		return cursor, nil
	}

	l.logger.Info("处理事件页", slog.Int("events", len(page.Data)))
	for _, ev := range page.Data {
		if err := l.handleEvent(ctx, ev); err != nil {
			return cursor, err
		}
	}

	last := page.Data[len(page.Data)-1].ID
	if err := l.cursors.Save(ctx, last); err != nil {
		l.logger.Warn("保存事件游标失败", slog.String("cursor", last.String()), slog.Any("error", err))
	}
	return &last, nil
}

func (l *Listener) handleEvent(ctx context.Context, ev web3.Event) error {
	req, err := DecodeRequest(ev)
	if err != nil {
		l.logger.Error("事件解码失败，跳过", slog.String("event", ev.ID.String()), slog.Any("error", err))
		metrics.ObserveEvent(metrics.OutcomeMalformed)
		l.record(ctx, ev.ID, "", metrics.OutcomeMalformed, err)
		return nil
	}
	if l.modelID != "" && req.ModelID != l.modelID {
		l.logger.Debug("事件不属于当前模型，跳过",
			slog.String("event", ev.ID.String()),
			slog.String("model", req.ModelID))
		metrics.ObserveEvent(metrics.OutcomeSkipped)
		l.record(ctx, ev.ID, req.ExecutionID, metrics.OutcomeSkipped, nil)
		return nil
	}
	if err := l.dispatch.Dispatch(ctx, req); err != nil {
		return err
	}
	return nil
}

func (l *Listener) record(ctx context.Context, id web3.EventID, executionID, outcome string, cause error) {
	if l.journal == nil {
		return
	}
	record := mysql.CompletionRecord{
		TxDigest:    id.TxDigest,
		EventSeq:    id.EventSeq,
		ExecutionID: executionID,
		Outcome:     outcome,
	}
	if cause != nil {
		record.Error = cause.Error()
	}
	if err := l.journal.Record(ctx, record); err != nil {
		l.logger.Warn("写入补全日志失败", slog.Any("error", err))
	}
}

func cursorString(id *web3.EventID) string {
	if id == nil {
		return "<start>"
	}
	return id.String()
}
