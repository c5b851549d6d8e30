package errors

import (
	stdErrors "errors"
	"fmt"
	"sync"
)

// Code 是跨服务共享的错误码。监听器依据错误码决定事件是否重投，
// 推理代理依据错误码决定 HTTP 状态。
type Code string

const (
	// CodeUnknown 用于未携带错误码的错误。
	CodeUnknown Code = "UNKNOWN"
	// CodeInvalidArgument 表示调用方输入不合法，重试无意义。
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
	// CodeNotFound 表示链上对象、模型或记录不存在。
	CodeNotFound Code = "NOT_FOUND"
	// CodeRejected 表示交易已上链执行但被 Move 合约拒绝。
	CodeRejected Code = "REJECTED"
	// CodeMalformed 表示事件或响应载荷无法解码。
	CodeMalformed Code = "MALFORMED"
	// CodeTransport 表示 RPC 或 HTTP 传输失败，可以重试。
	CodeTransport Code = "TRANSPORT"
	// CodeConfiguration 表示启动配置缺失或错误。
	CodeConfiguration Code = "CONFIG_INVALID"
	// CodeInitializationFailure 表示依赖尚未就绪。
	CodeInitializationFailure Code = "INITIALIZATION_FAILURE"
	// CodeStorageFailure 表示日志库或游标存储失败。
	CodeStorageFailure Code = "STORAGE_FAILURE"
	// CodeQueueFailure 表示任务队列投递或消费失败。
	CodeQueueFailure Code = "QUEUE_FAILURE"
	// CodeTimeout 表示推理或交易确认超时。
	CodeTimeout Code = "TIMEOUT"
)

// Severity 是写入审计日志的严重程度。
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Attributes 是错误码的默认描述与处理策略。
type Attributes struct {
	Message   string
	Severity  Severity
	Retryable bool
	Alert     bool
}

var (
	registryMu sync.RWMutex
	registry   = map[Code]Attributes{
		CodeUnknown:               {"unknown error", SeverityCritical, false, true},
		CodeInvalidArgument:       {"invalid argument", SeverityInfo, false, false},
		CodeNotFound:              {"resource not found", SeverityInfo, false, false},
		CodeRejected:              {"transaction rejected on chain", SeverityWarning, false, true},
		CodeMalformed:             {"malformed payload", SeverityWarning, false, false},
		CodeTransport:             {"transport failure", SeverityWarning, true, true},
		CodeConfiguration:         {"invalid configuration", SeverityCritical, false, true},
		CodeInitializationFailure: {"dependency not ready", SeverityWarning, true, true},
		CodeStorageFailure:        {"storage failure", SeverityCritical, true, true},
		CodeQueueFailure:          {"queue failure", SeverityCritical, true, true},
		CodeTimeout:               {"operation timed out", SeverityWarning, true, true},
	}
)

// Register 在包初始化阶段登记业务模块自己的错误码，如工具与任务模块。
func Register(code Code, attr Attributes) {
	registryMu.Lock()
	registry[code] = attr
	registryMu.Unlock()
}

func attributesOf(code Code) Attributes {
	registryMu.RLock()
	defer registryMu.RUnlock()
	if attr, ok := registry[code]; ok {
		return attr
	}
	return registry[CodeUnknown]
}

// Error 携带错误码、描述、底层原因和可选的键值上下文。
type Error struct {
	code     Code
	message  string
	cause    error
	metadata map[string]string
}

// Option 修改新建的 Error。
type Option func(*Error)

// WithMetadata 附加一个上下文字段，如事件序号或 HTTP 状态码。
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = make(map[string]string)
		}
		e.metadata[key] = value
	}
}

// New 创建错误。message 为空时使用错误码登记的描述。
func New(code Code, message string, opts ...Option) *Error {
	if message == "" {
		message = attributesOf(code).Message
	}
	e := &Error{code: code, message: message}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Wrap 用错误码包裹底层错误，errors.Is 仍能匹配 cause。
func Wrap(code Code, cause error, message string, opts ...Option) *Error {
	e := New(code, message, opts...)
	e.cause = cause
	return e
}

// Sentinel 返回只比较错误码的哨兵值，供 errors.Is 使用。
func Sentinel(code Code) *Error {
	return &Error{code: code, message: attributesOf(code).Message}
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause == nil {
		return fmt.Sprintf("[%s] %s", e.code, e.message)
	}
	return fmt.Sprintf("[%s] %s: %v", e.code, e.message, e.cause)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is 在错误码相同时返回 true。
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && e != nil && t != nil && e.code == t.code
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeUnknown
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

// Metadata 返回上下文字段的副本。
func (e *Error) Metadata() map[string]string {
	if e == nil || len(e.metadata) == 0 {
		return nil
	}
	out := make(map[string]string, len(e.metadata))
	for k, v := range e.metadata {
		out[k] = v
	}
	return out
}

// Retryable 报告该错误码在提交前是否值得重新排队。
func (e *Error) Retryable() bool {
	return e != nil && attributesOf(e.code).Retryable
}

func (e *Error) ShouldAlert() bool {
	return e != nil && attributesOf(e.code).Alert
}

func (e *Error) Severity() Severity {
	if e == nil {
		return SeverityInfo
	}
	return attributesOf(e.code).Severity
}

// From 在错误链中查找 *Error。
func From(err error) (*Error, bool) {
	var target *Error
	if err != nil && stdErrors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// CodeOf 返回错误链上的错误码，找不到时为 UNKNOWN。
func CodeOf(err error) Code {
	if e, ok := From(err); ok {
		return e.Code()
	}
	return CodeUnknown
}

// RetryableError 对未编码的错误返回 false。
func RetryableError(err error) bool {
	e, ok := From(err)
	return ok && e.Retryable()
}

// ShouldAlert 对未编码的错误返回 false。
func ShouldAlert(err error) bool {
	e, ok := From(err)
	return ok && e.ShouldAlert()
}
