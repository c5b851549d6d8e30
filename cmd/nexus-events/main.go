package main

import (
	"context"
	"encoding/json"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"Nexus-Chain/internal/app"
	xerrors "Nexus-Chain/internal/errors"
	"Nexus-Chain/internal/events"
	"Nexus-Chain/internal/task"
	"Nexus-Chain/pkg/logger"
	nexussdk "Nexus-Chain/sdk/go/nexus"
)

var (
	toolURLFlag = &cli.StringFlag{
		Name:    "tool-url",
		Usage:   "推理代理的 /tool/use 地址",
		EnvVars: []string{"TOOL_URL"},
	}
	inferenceURLFlag = &cli.StringFlag{
		Name:    "inference-url",
		Usage:   "推理代理的 /predict 地址",
		EnvVars: []string{"LLM_ASSISTANT_URL"},
	}
	dispatchFlag = &cli.StringFlag{
		Name:  "dispatch",
		Usage: "inline 同步处理，queue 经任务队列交给工作协程",
	}
	workersFlag = &cli.IntFlag{
		Name:  "workers",
		Usage: "queue 模式下的工作协程数量",
	}
)

// main 是事件监听进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := &cli.App{
		Name:  "nexus-events",
		Usage: "监听链上补全请求，调用推理代理并提交结果",
		Flags: append(app.ChainFlags(), toolURLFlag, inferenceURLFlag, dispatchFlag, workersFlag),
		Action: func(c *cli.Context) error {
			return run(c.Context, c)
		},
		Commands: []*cli.Command{
			{
				Name:  "journal",
				Usage: "按时间倒序打印最近的补全记录",
				Flags: []cli.Flag{&cli.IntFlag{Name: "limit", Value: 20}},
				Action: func(c *cli.Context) error {
					return printJournal(c.Context, c)
				},
			},
		},
	}
	if err := cmd.RunContext(ctx, os.Args); err != nil {
		log.Fatalf("nexus-events 运行失败: %v", err)
	}
}

func run(ctx context.Context, c *cli.Context) error {
	cfg, err := app.LoadConfig(c.String(app.ConfigFlag.Name))
	if err != nil {
		return err
	}
	defer logger.Sync()

	app.ApplyFlags(c, cfg)
	if c.IsSet(toolURLFlag.Name) {
		cfg.Listener.ToolURL = c.String(toolURLFlag.Name)
	}
	if c.IsSet(inferenceURLFlag.Name) {
		cfg.Listener.InferenceURL = c.String(inferenceURLFlag.Name)
	}
	if c.IsSet(dispatchFlag.Name) {
		cfg.Listener.Dispatch = c.String(dispatchFlag.Name)
	}
	if c.IsSet(workersFlag.Name) {
		cfg.Listener.Workers = c.Int(workersFlag.Name)
	}
	if err := app.ApplyBootstrap(cfg, false); err != nil {
		return err
	}
	if err := cfg.ValidateListener(); err != nil {
		return err
	}

	chain, err := app.DialChain(ctx, cfg)
	if err != nil {
		return err
	}
	defer chain.Close()

	proxy, err := nexussdk.NewClient(cfg.Listener.InferenceURL, nil,
		nexussdk.WithPredictURL(cfg.Listener.InferenceURL),
		nexussdk.WithToolURL(cfg.Listener.ToolURL))
	if err != nil {
		return xerrors.Wrap(xerrors.CodeConfiguration, err, "推理代理地址无效")
	}

	journal, err := app.OpenJournal(ctx, cfg)
	if err != nil {
		return err
	}
	defer journal.Close()

	cursors, closeCursors, err := app.OpenCursorStore(ctx, cfg.Listener.Cursor)
	if err != nil {
		return err
	}
	defer closeCursors()

	handler, err := events.NewHandler(events.HandlerConfig{
		ModelOwnerCapID:  cfg.Listener.ModelOwnerCapID,
		Tools:            app.NewToolRegistry(cfg.Proxy),
		ToolRunner:       proxy,
		Inference:        proxy,
		Submitter:        chain.Nexus,
		Journal:          journal,
		InferenceTimeout: cfg.Listener.InferenceTimeout(),
	})
	if err != nil {
		return err
	}

	app.ServeMetrics(ctx, cfg.Metrics.Address)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var dispatcher events.Dispatcher = handler
	processorErr := make(chan error, 1)
	if cfg.Listener.Dispatch == "queue" {
		queue, err := task.NewQueue(ctx, app.QueueConfig(cfg.Queue))
		if err != nil {
			return err
		}
		defer func() {
			if err := queue.Close(); err != nil {
				logger.L().Warn("关闭任务队列失败", slog.Any("error", err))
			}
		}()
		queued, err := task.NewDispatcher(queue)
		if err != nil {
			return err
		}
		dispatcher = queued
		processor := task.NewProcessor(handler, queue, queue, task.WithWorkerCount(cfg.Listener.Workers))
		go func() {
			err := processor.Start(ctx)
			if app.IgnoreCanceled(err) != nil {
				cancel()
			}
			processorErr <- err
		}()
	}

	listener, err := events.NewListener(chain.Client, cfg.Chain.PackageID, dispatcher,
		events.WithPollInterval(cfg.Listener.PollInterval()),
		events.WithPageLimit(cfg.Listener.PageLimit),
		events.WithModelFilter(cfg.Listener.ModelID),
		events.WithCursorStore(cursors),
		events.WithJournal(journal))
	if err != nil {
		return err
	}

	runErr := listener.Run(ctx)
	select {
	case err := <-processorErr:
		if err = app.IgnoreCanceled(err); err != nil {
			return err
		}
	default:
	}
	return runErr
}

func printJournal(ctx context.Context, c *cli.Context) error {
	cfg, err := app.LoadConfig(c.String(app.ConfigFlag.Name))
	if err != nil {
		return err
	}
	journal, err := app.OpenJournal(ctx, cfg)
	if err != nil {
		return err
	}
	defer journal.Close()

	records, err := journal.ListLatest(ctx, c.Int("limit"))
	if err != nil {
		return err
	}
	enc := json.NewEncoder(c.App.Writer)
	for _, record := range records {
		if err := enc.Encode(record); err != nil {
			return err
		}
	}
	return nil
}
