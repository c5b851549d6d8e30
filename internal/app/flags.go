package app

import (
	"github.com/urfave/cli/v2"

	"Nexus-Chain/internal/config"
)

// 各进程共用的命令行参数，均可通过环境变量设置。
var (
	ConfigFlag = &cli.StringFlag{
		Name:    "config",
		Usage:   "JSON 配置文件路径",
		EnvVars: []string{"NEXUS_CONFIG"},
	}
	SharedDirFlag = &cli.StringFlag{
		Name:    "shared-dir",
		Usage:   "保存 package-id.json、node_details.json 与 sui.keystore 的目录",
		EnvVars: []string{"SHARED_DIR"},
	}
	RPCURLFlag = &cli.StringFlag{
		Name:    "rpc-url",
		Usage:   "Sui JSON-RPC 地址",
		EnvVars: []string{"RPC_URL"},
	}
	WSURLFlag = &cli.StringFlag{
		Name:    "ws-url",
		Usage:   "Sui WebSocket 地址，用于事件查询",
		EnvVars: []string{"WS_URL"},
	}
	PackageIDFlag = &cli.StringFlag{
		Name:    "package-id",
		Usage:   "Nexus 合约包 ID",
		EnvVars: []string{"PACKAGE_ID"},
	}
	PrivateKeyFlag = &cli.StringFlag{
		Name:    "private-key",
		Usage:   "base64(flag||seed) 格式的 Sui 私钥",
		EnvVars: []string{"SUI_PRIVATE_KEY"},
	}
	ModelOwnerCapFlag = &cli.StringFlag{
		Name:    "model-owner-cap-id",
		Usage:   "模型所有者凭证 ID",
		EnvVars: []string{"MODEL_OWNER_CAP_ID"},
	}
	ModelIDFlag = &cli.StringFlag{
		Name:    "model-id",
		Usage:   "只处理发往该模型的请求",
		EnvVars: []string{"MODEL_ID"},
	}
	MetricsAddrFlag = &cli.StringFlag{
		Name:    "metrics-addr",
		Usage:   "Prometheus 指标监听地址，为空时不启动",
		EnvVars: []string{"METRICS_ADDR"},
	}
)

// ChainFlags 是需要访问链的进程共用的参数。
func ChainFlags() []cli.Flag {
	return []cli.Flag{
		ConfigFlag,
		SharedDirFlag,
		RPCURLFlag,
		WSURLFlag,
		PackageIDFlag,
		PrivateKeyFlag,
		ModelOwnerCapFlag,
		ModelIDFlag,
		MetricsAddrFlag,
	}
}

// ApplyFlags 用显式设置的参数覆盖配置。
func ApplyFlags(c *cli.Context, cfg *config.Config) {
	set := func(target *string, flag *cli.StringFlag) {
		if c.IsSet(flag.Name) {
			*target = c.String(flag.Name)
		}
	}
	set(&cfg.Bootstrap.SharedDir, SharedDirFlag)
	set(&cfg.Chain.RPCURL, RPCURLFlag)
	set(&cfg.Chain.WSURL, WSURLFlag)
	set(&cfg.Chain.PackageID, PackageIDFlag)
	set(&cfg.Chain.PrivateKey, PrivateKeyFlag)
	set(&cfg.Listener.ModelOwnerCapID, ModelOwnerCapFlag)
	set(&cfg.Listener.ModelID, ModelIDFlag)
	set(&cfg.Metrics.Address, MetricsAddrFlag)
}
