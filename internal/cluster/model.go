package cluster

import (
	"context"
	"log/slog"

	"Nexus-Chain/internal/bootstrap"
	"Nexus-Chain/internal/nexus"
	"Nexus-Chain/pkg/logger"
)

// Provisioner 创建节点与模型。
type Provisioner interface {
	CreateNode(ctx context.Context, spec nexus.NodeSpec) (string, error)
	CreateModel(ctx context.Context, spec nexus.ModelSpec) (nexus.ModelRef, error)
}

// DefaultNode 是本地 CPU 节点。
var DefaultNode = nexus.NodeSpec{Name: "LocalNode", NodeType: "CPU", GPUMemory: 16}

// DefaultModel 返回部署在 modelURL 上的 llama3.2:1b 模型描述，NodeID 由调用方填写。
func DefaultModel(modelURL string) nexus.ModelSpec {
	if modelURL == "" {
		modelURL = "http://localhost:11434"
	}
	return nexus.ModelSpec{
		Name:             "llama3.2:1b",
		Hash:             []byte("llama3.2_1b_hash"),
		URL:              modelURL,
		TokenPrice:       1000,
		Capacity:         1_000_000,
		NumParams:        1_000_000_000,
		Description:      "llama3.2 1b",
		MaxContextLength: 8192,
		Family:           "Llama3.2",
		Vendor:           "Meta",
		IsOpenSource:     true,
		Datasets:         []string{"test"},
	}
}

// ProvisionModel 创建节点与模型，并把结果写入共享目录的 node_details.json。
func ProvisionModel(ctx context.Context, chain Provisioner, sharedDir string, node nexus.NodeSpec, model nexus.ModelSpec) (bootstrap.NodeDetails, error) {
	nodeID, err := chain.CreateNode(ctx, node)
	if err != nil {
		return bootstrap.NodeDetails{}, err
	}
	model.NodeID = nodeID
	ref, err := chain.CreateModel(ctx, model)
	if err != nil {
		return bootstrap.NodeDetails{}, err
	}
	details := bootstrap.NodeDetails{NodeID: nodeID, ModelID: ref.ID, ModelOwnerCapID: ref.OwnerCapID}
	if err := bootstrap.SaveNodeDetails(sharedDir, details); err != nil {
		return bootstrap.NodeDetails{}, err
	}
	logger.Named("cluster").Info("节点与模型已创建",
		slog.String("node", nodeID),
		slog.String("model", ref.ID),
		slog.String("owner_cap", ref.OwnerCapID))
	return details, nil
}
