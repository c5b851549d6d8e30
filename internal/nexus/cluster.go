package nexus

import (
	"context"
	"strings"

	xerrors "Nexus-Chain/internal/errors"
)

// ClusterRef 是集群对象及其所有权凭证。
type ClusterRef struct {
	ID         string `json:"cluster"`
	OwnerCapID string `json:"owner_cap"`
}

// AgentSpec 描述集群内的智能体。智能体只存在于集群之中。
type AgentSpec struct {
	Name            string `yaml:"name"`
	Role            string `yaml:"role"`
	Goal            string `yaml:"goal"`
	Backstory       string `yaml:"backstory"`
	ModelID         string `yaml:"-"`
	ModelOwnerCapID string `yaml:"-"`
}

// TaskSpec 描述集群内由某个智能体负责的任务。
type TaskSpec struct {
	Name           string `yaml:"name"`
	AgentName      string `yaml:"agent_name"`
	Description    string `yaml:"description"`
	ExpectedOutput string `yaml:"expected_output"`
	Prompt         string `yaml:"prompt"`
	Context        string `yaml:"context"`
}

// CreateCluster 创建一个空集群，之后通过 AddAgent/AddTask 逐步填充。
func (c *Client) CreateCluster(ctx context.Context, name, description string) (ClusterRef, error) {
	if strings.TrimSpace(name) == "" {
		return ClusterRef{}, xerrors.New(xerrors.CodeInvalidArgument, "集群名称不能为空")
	}
	res, err := c.call(ctx, "cluster", "create", 0, name, description)
	if err != nil {
		return ClusterRef{}, err
	}
	clusterID, err := eventField(res, "cluster")
	if err != nil {
		return ClusterRef{}, err
	}
	ownerCap, err := eventField(res, "owner_cap")
	if err != nil {
		return ClusterRef{}, err
	}
	return ClusterRef{ID: clusterID, OwnerCapID: ownerCap}, nil
}

// AddAgent 向集群添加智能体。
func (c *Client) AddAgent(ctx context.Context, cluster ClusterRef, agent AgentSpec) error {
	if err := cluster.validate(); err != nil {
		return err
	}
	if agent.Name == "" || agent.ModelID == "" || agent.ModelOwnerCapID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "智能体需要名称、模型 ID 与模型凭证")
	}
	_, err := c.call(ctx, "cluster", "add_agent_entry", 0,
		cluster.ID,
		cluster.OwnerCapID,
		agent.ModelID,
		agent.ModelOwnerCapID,
		agent.Name,
		agent.Role,
		agent.Goal,
		agent.Backstory,
	)
	return err
}

// AddTask 向集群添加任务。
func (c *Client) AddTask(ctx context.Context, cluster ClusterRef, task TaskSpec) error {
	if err := cluster.validate(); err != nil {
		return err
	}
	if task.Name == "" || task.AgentName == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "任务需要名称与负责的智能体")
	}
	_, err := c.call(ctx, "cluster", "add_task_entry", 0,
		cluster.ID,
		cluster.OwnerCapID,
		task.Name,
		task.AgentName,
		task.Description,
		task.ExpectedOutput,
		task.Prompt,
		task.Context,
	)
	return err
}

// AttachTool 为集群中的任务挂载工具，参数按工具定义的顺序传入。
func (c *Client) AttachTool(ctx context.Context, cluster ClusterRef, taskName, toolName string, args []string) error {
	if err := cluster.validate(); err != nil {
		return err
	}
	if taskName == "" || toolName == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "任务名与工具名不能为空")
	}
	if args == nil {
		args = []string{}
	}
	_, err := c.call(ctx, "cluster", "attach_tool_to_task_entry", 0,
		cluster.ID,
		cluster.OwnerCapID,
		taskName,
		toolName,
		args,
	)
	return err
}

func (r ClusterRef) validate() error {
	if r.ID == "" || r.OwnerCapID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "集群 ID 与所有权凭证不能为空")
	}
	return nil
}
