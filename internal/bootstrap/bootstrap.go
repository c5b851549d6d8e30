// Package bootstrap reads the artifacts left in the shared directory by the
// deployment step: the published package id, the node/model ids created for
// this machine and the Sui keystore.
package bootstrap

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	xerrors "Nexus-Chain/internal/errors"
)

const (
	PackageIDFile   = "package-id.json"
	NodeDetailsFile = "node_details.json"
	KeystoreFile    = "sui.keystore"
)

// CodeBootstrapInvalid 表示共享目录中的引导文件缺失或格式错误。
const CodeBootstrapInvalid xerrors.Code = "BOOTSTRAP_INVALID"

func init() {
	xerrors.Register(CodeBootstrapInvalid, xerrors.Attributes{
		Message:  "bootstrap artifact invalid",
		Severity: xerrors.SeverityCritical,
		Alert:    true,
	})
}

// NodeDetails 记录为本机创建的节点、模型以及模型所有权凭证。
type NodeDetails struct {
	NodeID          string `json:"node_id"`
	ModelID         string `json:"llama_id"`
	ModelOwnerCapID string `json:"llama_owner_cap_id"`
}

// Artifacts 汇总启动时一次性读取的引导信息。
type Artifacts struct {
	PackageID  string
	Node       NodeDetails
	PrivateKey string
}

// LoadPackageID 读取 package-id.json，文件内容为 JSON 数组，取第一个元素。
func LoadPackageID(dir string) (string, error) {
	var ids []string
	if err := readJSON(filepath.Join(dir, PackageIDFile), &ids); err != nil {
		return "", err
	}
	if len(ids) == 0 || strings.TrimSpace(ids[0]) == "" {
		return "", xerrors.New(CodeBootstrapInvalid, PackageIDFile+" 中没有包 ID")
	}
	return strings.TrimSpace(ids[0]), nil
}

// LoadNodeDetails 读取 node_details.json。
func LoadNodeDetails(dir string) (NodeDetails, error) {
	var details NodeDetails
	if err := readJSON(filepath.Join(dir, NodeDetailsFile), &details); err != nil {
		return NodeDetails{}, err
	}
	if details.ModelOwnerCapID == "" {
		return NodeDetails{}, xerrors.New(CodeBootstrapInvalid, NodeDetailsFile+" 缺少 llama_owner_cap_id")
	}
	return details, nil
}

// SaveNodeDetails 将节点信息写入共享目录。
func SaveNodeDetails(dir string, details NodeDetails) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return xerrors.Wrap(CodeBootstrapInvalid, err, "创建共享目录失败")
	}
	content, err := json.MarshalIndent(details, "", "  ")
	if err != nil {
		return xerrors.Wrap(CodeBootstrapInvalid, err, "序列化节点信息失败")
	}
	path := filepath.Join(dir, NodeDetailsFile)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return xerrors.Wrap(CodeBootstrapInvalid, err, "写入 "+path+" 失败")
	}
	return nil
}

// LoadPrivateKey 读取 sui.keystore 并返回第一把私钥。
func LoadPrivateKey(dir string) (string, error) {
	var keys []string
	if err := readJSON(filepath.Join(dir, KeystoreFile), &keys); err != nil {
		return "", err
	}
	for _, key := range keys {
		if strings.TrimSpace(key) != "" {
			return strings.TrimSpace(key), nil
		}
	}
	return "", xerrors.New(CodeBootstrapInvalid, KeystoreFile+" 中没有私钥")
}

// Load 一次性读取全部引导文件。
func Load(dir string) (Artifacts, error) {
	if strings.TrimSpace(dir) == "" {
		return Artifacts{}, xerrors.New(CodeBootstrapInvalid, "未配置共享目录")
	}
	pkg, err := LoadPackageID(dir)
	if err != nil {
		return Artifacts{}, err
	}
	node, err := LoadNodeDetails(dir)
	if err != nil {
		return Artifacts{}, err
	}
	key, err := LoadPrivateKey(dir)
	if err != nil {
		return Artifacts{}, err
	}
	return Artifacts{PackageID: pkg, Node: node, PrivateKey: key}, nil
}

func readJSON(path string, out any) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return xerrors.Wrap(CodeBootstrapInvalid, err, fmt.Sprintf("读取 %s 失败", path))
	}
	if err := json.Unmarshal(content, out); err != nil {
		return xerrors.Wrap(CodeBootstrapInvalid, err, fmt.Sprintf("解析 %s 失败", path))
	}
	return nil
}
