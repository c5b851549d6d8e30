package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"Nexus-Chain/internal/app"
	"Nexus-Chain/internal/bootstrap"
	"Nexus-Chain/internal/cluster"
	"Nexus-Chain/internal/config"
	xerrors "Nexus-Chain/internal/errors"
	"Nexus-Chain/internal/nexus"
	"Nexus-Chain/pkg/logger"
)

var (
	modelURLFlag = &cli.StringFlag{
		Name:    "model-url",
		Usage:   "写入链上模型对象的推理地址",
		Value:   "http://localhost:11434",
		EnvVars: []string{"MODEL_URL"},
	}
	fileFlag = &cli.StringFlag{
		Name:     "file",
		Aliases:  []string{"f"},
		Usage:    "集群定义 YAML 文件",
		Required: true,
	}
	inputFlag = &cli.StringFlag{
		Name:     "input",
		Aliases:  []string{"i"},
		Usage:    "集群执行的输入",
		Required: true,
	}
	maxWaitFlag = &cli.DurationFlag{
		Name:  "max-wait",
		Usage: "等待集群执行结束的最长时间",
		Value: nexus.DefaultWaitOptions.MaxWait,
	}
	intervalFlag = &cli.DurationFlag{
		Name:  "interval",
		Usage: "轮询执行状态的间隔",
		Value: nexus.DefaultWaitOptions.Interval,
	}
)

// main 是示例集群工具的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := &cli.App{
		Name:  "nexus-cluster",
		Usage: "创建模型并运行示例集群",
		Flags: app.ChainFlags(),
		Commands: []*cli.Command{
			{
				Name:   "bootstrap",
				Usage:  "创建节点与模型并写入 node_details.json",
				Flags:  []cli.Flag{modelURLFlag},
				Action: runBootstrap,
			},
			{
				Name:   "run",
				Usage:  "按 YAML 定义创建集群并执行一次",
				Flags:  []cli.Flag{fileFlag, inputFlag, maxWaitFlag, intervalFlag},
				Action: runCluster,
			},
		},
	}
	if err := cmd.RunContext(ctx, os.Args); err != nil {
		log.Fatalf("nexus-cluster 运行失败: %v", err)
	}
}

func setup(c *cli.Context, requireNode bool) (*config.Config, *app.Chain, error) {
	cfg, err := app.LoadConfig(c.String(app.ConfigFlag.Name))
	if err != nil {
		return nil, nil, err
	}
	app.ApplyFlags(c, cfg)
	if err := app.ApplyBootstrap(cfg, requireNode); err != nil {
		return nil, nil, err
	}
	chain, err := app.DialChain(c.Context, cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, chain, nil
}

func runBootstrap(c *cli.Context) error {
	cfg, chain, err := setup(c, false)
	if err != nil {
		return err
	}
	defer logger.Sync()
	defer chain.Close()

	if cfg.Bootstrap.SharedDir == "" {
		return xerrors.New(xerrors.CodeConfiguration, "缺少必填配置: SHARED_DIR")
	}
	details, err := cluster.ProvisionModel(c.Context, chain.Nexus, cfg.Bootstrap.SharedDir,
		cluster.DefaultNode, cluster.DefaultModel(c.String(modelURLFlag.Name)))
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "node %s\nmodel %s\nowner cap %s\n", details.NodeID, details.ModelID, details.ModelOwnerCapID)
	return nil
}

func runCluster(c *cli.Context) error {
	cfg, chain, err := setup(c, true)
	if err != nil {
		return err
	}
	defer logger.Sync()
	defer chain.Close()

	def, err := cluster.LoadDefinition(c.String(fileFlag.Name))
	if err != nil {
		return err
	}
	modelID, err := resolveModelID(cfg)
	if err != nil {
		return err
	}
	runner, err := cluster.NewRunner(chain.Nexus, modelID, cfg.Listener.ModelOwnerCapID, nexus.WaitOptions{
		MaxWait:  c.Duration(maxWaitFlag.Name),
		Interval: c.Duration(intervalFlag.Name),
	})
	if err != nil {
		return err
	}

	ref, err := runner.Setup(c.Context, def)
	if err != nil {
		return err
	}
	started := time.Now()
	response, err := runner.Run(c.Context, ref, c.String(inputFlag.Name))
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "cluster %s finished in %s\n\n%s\n", ref.ID, time.Since(started).Round(time.Second), response)
	return nil
}

func resolveModelID(cfg *config.Config) (string, error) {
	if cfg.Listener.ModelID != "" {
		return cfg.Listener.ModelID, nil
	}
	if cfg.Bootstrap.SharedDir == "" {
		return "", xerrors.New(xerrors.CodeConfiguration, "缺少必填配置: MODEL_ID 或 SHARED_DIR")
	}
	details, err := bootstrap.LoadNodeDetails(cfg.Bootstrap.SharedDir)
	if err != nil {
		return "", err
	}
	return details.ModelID, nil
}
