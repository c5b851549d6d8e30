package cluster

import (
	"context"
	"log/slog"

	xerrors "Nexus-Chain/internal/errors"
	"Nexus-Chain/internal/nexus"
	"Nexus-Chain/pkg/logger"
)

// Chain 是创建与执行集群所需的链上操作。
type Chain interface {
	CreateCluster(ctx context.Context, name, description string) (nexus.ClusterRef, error)
	AddAgent(ctx context.Context, cluster nexus.ClusterRef, agent nexus.AgentSpec) error
	AddTask(ctx context.Context, cluster nexus.ClusterRef, task nexus.TaskSpec) error
	AttachTool(ctx context.Context, cluster nexus.ClusterRef, taskName, toolName string, args []string) error
	Execute(ctx context.Context, clusterID, input string) (string, error)
	WaitForExecution(ctx context.Context, executionID string, opts nexus.WaitOptions) (nexus.Execution, error)
}

// Runner 把定义中的智能体绑定到同一个模型上。
type Runner struct {
	chain           Chain
	modelID         string
	modelOwnerCapID string
	wait            nexus.WaitOptions
	logger          *slog.Logger
}

// NewRunner 构造 Runner。wait 为零值时使用默认等待策略。
func NewRunner(chain Chain, modelID, modelOwnerCapID string, wait nexus.WaitOptions) (*Runner, error) {
	if chain == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "链上客户端不能为空")
	}
	if modelID == "" || modelOwnerCapID == "" {
		return nil, xerrors.New(xerrors.CodeConfiguration, "缺少模型 ID 或模型所有者凭证")
	}
	return &Runner{
		chain:           chain,
		modelID:         modelID,
		modelOwnerCapID: modelOwnerCapID,
		wait:            wait,
		logger:          logger.Named("cluster"),
	}, nil
}

// Setup 依次创建集群、添加智能体与任务，并挂载工具。
func (r *Runner) Setup(ctx context.Context, def Definition) (nexus.ClusterRef, error) {
	if err := def.Validate(); err != nil {
		return nexus.ClusterRef{}, err
	}
	ref, err := r.chain.CreateCluster(ctx, def.Cluster.Name, def.Cluster.Description)
	if err != nil {
		return nexus.ClusterRef{}, err
	}
	r.logger.Info("集群已创建", slog.String("cluster", ref.ID), slog.String("name", def.Cluster.Name))

	for _, agent := range def.Agents {
		agent.ModelID = r.modelID
		agent.ModelOwnerCapID = r.modelOwnerCapID
		if err := r.chain.AddAgent(ctx, ref, agent); err != nil {
			return ref, err
		}
	}
	for _, task := range def.Tasks {
		if err := r.chain.AddTask(ctx, ref, task.TaskSpec); err != nil {
			return ref, err
		}
		for _, tool := range task.Tools {
			if err := r.chain.AttachTool(ctx, ref, task.Name, tool.Name, tool.Args); err != nil {
				return ref, err
			}
		}
	}
	r.logger.Info("集群已就绪",
		slog.String("cluster", ref.ID),
		slog.Int("agents", len(def.Agents)),
		slog.Int("tasks", len(def.Tasks)))
	return ref, nil
}

// Run 以 input 启动执行并等待集群响应。
func (r *Runner) Run(ctx context.Context, ref nexus.ClusterRef, input string) (string, error) {
	executionID, err := r.chain.Execute(ctx, ref.ID, input)
	if err != nil {
		return "", err
	}
	r.logger.Info("集群执行已启动", slog.String("execution_id", executionID))
	exec, err := r.chain.WaitForExecution(ctx, executionID, r.wait)
	if err != nil {
		return "", err
	}
	return exec.ClusterResponse, nil
}
