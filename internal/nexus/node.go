package nexus

import (
	"context"

	xerrors "Nexus-Chain/internal/errors"
	"Nexus-Chain/internal/web3"
)

// NodeSpec 描述一个计算节点。
type NodeSpec struct {
	Name      string
	NodeType  string
	GPUMemory uint64
}

// ModelSpec 描述部署在节点上的模型。
type ModelSpec struct {
	NodeID           string
	Name             string
	Hash             []byte
	URL              string
	TokenPrice       uint64
	Capacity         uint64
	NumParams        uint64
	Description      string
	MaxContextLength uint64
	IsFineTuned      bool
	Family           string
	Vendor           string
	IsOpenSource     bool
	Datasets         []string
}

// ModelRef 是模型对象及其所有权凭证。
type ModelRef struct {
	ID         string
	OwnerCapID string
}

// CreateNode 创建节点对象并返回其 ID。
func (c *Client) CreateNode(ctx context.Context, spec NodeSpec) (string, error) {
	if spec.Name == "" || spec.NodeType == "" {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "节点名称与类型不能为空")
	}
	res, err := c.call(ctx, "node", "create", CreateGasBudget,
		spec.Name,
		spec.NodeType,
		web3.U64(spec.GPUMemory),
		byteVector(nil), // image_hash
		byteVector(nil), // external_arguments
	)
	if err != nil {
		return "", err
	}
	if id, err := eventField(res, "node"); err == nil {
		return id, nil
	}
	if len(res.Created) > 0 {
		return res.Created[0].ObjectID, nil
	}
	return "", xerrors.New(xerrors.CodeNotFound, "创建节点的交易中没有节点 ID", xerrors.WithMetadata("digest", res.Digest))
}

// CreateModel 创建模型对象，返回模型 ID 与所有权凭证 ID。
func (c *Client) CreateModel(ctx context.Context, spec ModelSpec) (ModelRef, error) {
	if spec.NodeID == "" || spec.Name == "" {
		return ModelRef{}, xerrors.New(xerrors.CodeInvalidArgument, "模型需要节点 ID 与名称")
	}
	datasets := spec.Datasets
	if datasets == nil {
		datasets = []string{}
	}
	hash := spec.Hash
	if hash == nil {
		hash = []byte{}
	}
	res, err := c.call(ctx, "model", "create", CreateGasBudget,
		spec.NodeID,
		spec.Name,
		byteVector(hash),
		spec.URL,
		web3.U64(spec.TokenPrice),
		web3.U64(spec.Capacity),
		web3.U64(spec.NumParams),
		spec.Description,
		web3.U64(spec.MaxContextLength),
		spec.IsFineTuned,
		spec.Family,
		spec.Vendor,
		spec.IsOpenSource,
		datasets,
	)
	if err != nil {
		return ModelRef{}, err
	}
	modelID, err := eventField(res, "model")
	if err != nil {
		return ModelRef{}, err
	}
	ownerCap, err := eventField(res, "owner_cap")
	if err != nil {
		return ModelRef{}, err
	}
	return ModelRef{ID: modelID, OwnerCapID: ownerCap}, nil
}

// byteVector 让 vector<u8> 以数字数组而不是 base64 字符串编码。
func byteVector(b []byte) []int {
	out := make([]int, len(b))
	for i, v := range b {
		out[i] = int(v)
	}
	return out
}
