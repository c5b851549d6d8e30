package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"Nexus-Chain/internal/api"
	"Nexus-Chain/internal/app"
	"Nexus-Chain/pkg/logger"
)

var (
	addrFlag = &cli.StringFlag{
		Name:    "addr",
		Usage:   "推理代理监听地址",
		EnvVars: []string{"PROXY_ADDR"},
	}
	providerFlag = &cli.StringFlag{
		Name:    "provider",
		Usage:   "模型运行时：ollama 或 openai",
		EnvVars: []string{"LLM_PROVIDER"},
	}
	ollamaHostFlag = &cli.StringFlag{
		Name:    "ollama-host",
		Usage:   "Ollama 运行时地址",
		EnvVars: []string{"OLLAMA_HOST"},
	}
	openAIKeyFlag = &cli.StringFlag{
		Name:    "openai-api-key",
		Usage:   "OpenAI 密钥，openai 运行时与视觉、图片、向量工具使用",
		EnvVars: []string{"OPENAI_API_KEY"},
	}
)

// main 是推理代理的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := &cli.App{
		Name:  "nexus-tools",
		Usage: "提供 /predict、/tool/use 与 /models 接口的推理代理",
		Flags: []cli.Flag{app.ConfigFlag, addrFlag, providerFlag, ollamaHostFlag, openAIKeyFlag},
		Action: func(c *cli.Context) error {
			return run(c.Context, c)
		},
	}
	if err := cmd.RunContext(ctx, os.Args); err != nil {
		log.Fatalf("nexus-tools 运行失败: %v", err)
	}
}

func run(ctx context.Context, c *cli.Context) error {
	cfg, err := app.LoadConfig(c.String(app.ConfigFlag.Name))
	if err != nil {
		return err
	}
	defer logger.Sync()

	if c.IsSet(addrFlag.Name) {
		cfg.Proxy.Address = c.String(addrFlag.Name)
	}
	if c.IsSet(providerFlag.Name) {
		cfg.Proxy.Provider = c.String(providerFlag.Name)
	}
	if c.IsSet(ollamaHostFlag.Name) {
		cfg.Proxy.Ollama.Host = c.String(ollamaHostFlag.Name)
	}
	if c.IsSet(openAIKeyFlag.Name) {
		cfg.Proxy.OpenAI.APIKey = c.String(openAIKeyFlag.Name)
	}

	model, err := app.NewModelClient(cfg.Proxy)
	if err != nil {
		return err
	}
	server := api.NewServer(cfg.Proxy.Address, model, app.NewToolRegistry(cfg.Proxy))
	return server.Start(ctx)
}
