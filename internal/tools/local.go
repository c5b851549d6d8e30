package tools

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	xerrors "Nexus-Chain/internal/errors"
)

type localTools struct {
	cfg Config
}

func (l *localTools) shell(ctx context.Context, command string) (string, error) {
	if l.cfg.DisableShell {
		return "", xerrors.New(xerrors.CodeRejected, "shell 工具已被禁用")
	}
	return l.exec(ctx, "sh", "-c", command)
}

func (l *localTools) python(ctx context.Context, code string) (string, error) {
	return l.exec(ctx, l.cfg.PythonExecutable, "-c", code)
}

// exec 返回合并后的标准输出与标准错误。进程以非零状态退出时输出仍作为结果返回。
func (l *localTools) exec(ctx context.Context, name string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, l.cfg.CommandTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	if l.cfg.WorkDir != "" {
		cmd.Dir = l.cfg.WorkDir
	}
	out, err := cmd.CombinedOutput()
	if ctx.Err() != nil {
		return "", xerrors.Wrap(xerrors.CodeTimeout, ctx.Err(), fmt.Sprintf("命令在 %s 内未完成", l.cfg.CommandTimeout))
	}
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return "", xerrors.Wrap(CodeToolFailed, err, "启动命令失败")
	}
	return string(out), nil
}

// resolve 将相对路径解析到工作目录下，配置了工作目录时拒绝越界访问。
func (l *localTools) resolve(path string) (string, error) {
	root := l.cfg.WorkDir
	if root == "" {
		return filepath.Clean(path), nil
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("解析工作目录失败: %w", err)
	}
	target := path
	if !filepath.IsAbs(target) {
		target = filepath.Join(absRoot, target)
	}
	target = filepath.Clean(target)
	rel, err := filepath.Rel(absRoot, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", xerrors.New(xerrors.CodeRejected, fmt.Sprintf("路径 %s 不在工作目录内", path))
	}
	return target, nil
}

func (l *localTools) readFile(path string) (string, error) {
	target, err := l.resolve(path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(target)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", xerrors.Wrap(xerrors.CodeNotFound, err, fmt.Sprintf("文件 %s 不存在", path))
		}
		return "", xerrors.Wrap(CodeToolFailed, err, fmt.Sprintf("读取文件 %s 失败", path))
	}
	return string(data), nil
}

func (l *localTools) listDirectory(path string) (string, error) {
	target, err := l.resolve(path)
	if err != nil {
		return "", err
	}
	entries, err := os.ReadDir(target)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", xerrors.Wrap(xerrors.CodeNotFound, err, fmt.Sprintf("目录 %s 不存在", path))
		}
		return "", xerrors.Wrap(CodeToolFailed, err, fmt.Sprintf("读取目录 %s 失败", path))
	}
	if len(entries) == 0 {
		return fmt.Sprintf("No files found in directory %s", path), nil
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return strings.Join(names, "\n"), nil
}
