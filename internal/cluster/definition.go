package cluster

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	xerrors "Nexus-Chain/internal/errors"
	"Nexus-Chain/internal/nexus"
)

// Definition 是集群的声明式描述。
type Definition struct {
	Cluster Info              `yaml:"cluster"`
	Agents  []nexus.AgentSpec `yaml:"agents"`
	Tasks   []Task            `yaml:"tasks"`
}

// Info 是集群本身的名称与描述。
type Info struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// Task 在链上任务之外附带需要挂载的工具。
type Task struct {
	nexus.TaskSpec `yaml:",inline"`
	Tools          []Tool `yaml:"tools"`
}

// Tool 是挂载到任务上的工具及其位置参数。
type Tool struct {
	Name string   `yaml:"name"`
	Args []string `yaml:"args"`
}

// LoadDefinition 读取并校验 YAML 定义文件。
func LoadDefinition(path string) (Definition, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Definition{}, xerrors.Wrap(xerrors.CodeConfiguration, err, "读取集群定义失败",
			xerrors.WithMetadata("path", path))
	}
	return ParseDefinition(content)
}

// ParseDefinition 解析 YAML 定义，未知字段视为错误。
func ParseDefinition(content []byte) (Definition, error) {
	var def Definition
	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)
	if err := dec.Decode(&def); err != nil {
		return Definition{}, xerrors.Wrap(xerrors.CodeConfiguration, err, "解析集群定义失败")
	}
	if err := def.Validate(); err != nil {
		return Definition{}, err
	}
	return def, nil
}

// Validate 检查名称唯一以及任务引用的智能体存在。
func (d Definition) Validate() error {
	if strings.TrimSpace(d.Cluster.Name) == "" {
		return xerrors.New(xerrors.CodeConfiguration, "集群名称不能为空")
	}
	agents := make(map[string]struct{}, len(d.Agents))
	for _, agent := range d.Agents {
		if agent.Name == "" {
			return xerrors.New(xerrors.CodeConfiguration, "智能体名称不能为空")
		}
		if _, dup := agents[agent.Name]; dup {
			return xerrors.New(xerrors.CodeConfiguration, fmt.Sprintf("智能体 %s 重复定义", agent.Name))
		}
		agents[agent.Name] = struct{}{}
	}
	tasks := make(map[string]struct{}, len(d.Tasks))
	for _, task := range d.Tasks {
		if task.Name == "" {
			return xerrors.New(xerrors.CodeConfiguration, "任务名称不能为空")
		}
		if _, dup := tasks[task.Name]; dup {
			return xerrors.New(xerrors.CodeConfiguration, fmt.Sprintf("任务 %s 重复定义", task.Name))
		}
		tasks[task.Name] = struct{}{}
		if _, ok := agents[task.AgentName]; !ok {
			return xerrors.New(xerrors.CodeConfiguration,
				fmt.Sprintf("任务 %s 引用了未定义的智能体 %s", task.Name, task.AgentName))
		}
		for _, tool := range task.Tools {
			if tool.Name == "" {
				return xerrors.New(xerrors.CodeConfiguration, fmt.Sprintf("任务 %s 的工具缺少名称", task.Name))
			}
		}
	}
	return nil
}
