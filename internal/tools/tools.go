// Package tools holds the fixed table of tools the inference proxy can run.
// Each tool declares an ordered list of string parameters; the order is what
// maps positional on-chain arguments onto named ones.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/gin-gonic/gin/binding"

	xerrors "Nexus-Chain/internal/errors"
)

const (
	// CodeUnknownTool 表示请求的工具不在注册表中。
	CodeUnknownTool xerrors.Code = "TOOL_UNKNOWN"
	// CodeToolFailed 表示工具执行时出错。
	CodeToolFailed xerrors.Code = "TOOL_FAILED"
)

func init() {
	xerrors.Register(CodeUnknownTool, xerrors.Attributes{
		Message:  "unknown tool",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeToolFailed, xerrors.Attributes{
		Message:  "tool execution failed",
		Severity: xerrors.SeverityWarning,
		Alert:    true,
	})
}

// 调用方通过 errors.Is 区分的错误类别。
var (
	ErrUnknownTool      = xerrors.Sentinel(CodeUnknownTool)
	ErrInvalidArguments = xerrors.Sentinel(xerrors.CodeInvalidArgument)
	ErrToolFailed       = xerrors.Sentinel(CodeToolFailed)
)

// Tool 是注册表中的一个工具。
type Tool struct {
	Name        string
	Description string
	params      []string
	run         func(ctx context.Context, args map[string]any) (string, error)
	validate    func(args map[string]any) error
}

// Params 返回按声明顺序排列的参数名。
func (t *Tool) Params() []string {
	out := make([]string, len(t.params))
	copy(out, t.params)
	return out
}

// Bind 将位置参数按声明顺序映射为具名参数。多余的参数被丢弃，缺少的参数留空，
// 交由 Validate 报告。
func (t *Tool) Bind(positional []string) map[string]any {
	args := make(map[string]any, len(t.params))
	for i, name := range t.params {
		if i >= len(positional) {
			break
		}
		args[name] = positional[i]
	}
	return args
}

// Validate 检查参数是否满足工具的参数定义。
func (t *Tool) Validate(args map[string]any) error {
	return t.validate(args)
}

// Registry 按名称索引工具。
type Registry struct {
	tools map[string]*Tool
}

// Lookup 按名称查找工具。
func (r *Registry) Lookup(name string) (*Tool, bool) {
	tool, ok := r.tools[name]
	return tool, ok
}

// Names 返回排序后的工具名。
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Use 校验参数并执行工具。未知工具返回 ErrUnknownTool，参数不合法返回
// ErrInvalidArguments，执行失败返回 ErrToolFailed 或工具自身的错误码。
func (r *Registry) Use(ctx context.Context, name string, args map[string]any) (string, error) {
	tool, ok := r.Lookup(name)
	if !ok {
		return "", xerrors.New(CodeUnknownTool, fmt.Sprintf("Unknown tool: %s", name))
	}
	if err := tool.Validate(args); err != nil {
		return "", err
	}
	result, err := tool.run(ctx, args)
	if err != nil {
		if _, coded := xerrors.From(err); coded {
			return "", err
		}
		return "", xerrors.Wrap(CodeToolFailed, err, fmt.Sprintf("工具 %s 执行失败", name))
	}
	return result, nil
}

// add 注册一个以结构体 A 描述参数的工具。A 的字段必须都是带 json 标签的 string，
// 字段顺序即参数顺序，binding 标签交给 gin 的校验器检查。
func add[A any](r *Registry, name, description string, run func(ctx context.Context, args A) (string, error)) {
	if r.tools == nil {
		r.tools = make(map[string]*Tool)
	}
	params := paramsOf(reflect.TypeOf((*A)(nil)).Elem())
	decode := func(raw map[string]any) (A, error) {
		var args A
		encoded, err := json.Marshal(raw)
		if err != nil {
			return args, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "参数无法序列化")
		}
		if err := json.Unmarshal(encoded, &args); err != nil {
			return args, xerrors.Wrap(xerrors.CodeInvalidArgument, err, fmt.Sprintf("工具 %s 的参数类型不正确", name))
		}
		if err := binding.Validator.ValidateStruct(&args); err != nil {
			return args, xerrors.Wrap(xerrors.CodeInvalidArgument, err, fmt.Sprintf("工具 %s 的参数校验失败", name))
		}
		return args, nil
	}
	r.tools[name] = &Tool{
		Name:        name,
		Description: description,
		params:      params,
		validate: func(raw map[string]any) error {
			_, err := decode(raw)
			return err
		},
		run: func(ctx context.Context, raw map[string]any) (string, error) {
			args, err := decode(raw)
			if err != nil {
				return "", err
			}
			return run(ctx, args)
		},
	}
}

func paramsOf(t reflect.Type) []string {
	params := make([]string, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			continue
		}
		params = append(params, name)
	}
	return params
}
