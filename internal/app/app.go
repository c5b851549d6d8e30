package app

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"time"

	"Nexus-Chain/internal/bootstrap"
	"Nexus-Chain/internal/config"
	xerrors "Nexus-Chain/internal/errors"
	"Nexus-Chain/internal/events"
	"Nexus-Chain/internal/llm"
	"Nexus-Chain/internal/llm/ollama"
	"Nexus-Chain/internal/llm/openai"
	"Nexus-Chain/internal/nexus"
	"Nexus-Chain/internal/observability/metrics"
	"Nexus-Chain/internal/storage/mysql"
	"Nexus-Chain/internal/storage/redis"
	"Nexus-Chain/internal/task"
	"Nexus-Chain/internal/tools"
	"Nexus-Chain/internal/web3"
	"Nexus-Chain/internal/web3/provider"
	"Nexus-Chain/internal/web3/sui"
	"Nexus-Chain/pkg/logger"
)

// LoadConfig 读取 .env 与 JSON 配置，并按配置初始化日志。
func LoadConfig(path string) (*config.Config, error) {
	if err := config.LoadDotEnv(); err != nil {
		return nil, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := logger.Init(cfg.Logging); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "初始化日志失败")
	}
	return cfg, nil
}

// ApplyBootstrap 用共享目录中的引导文件补齐包 ID、私钥与模型凭证。
// MODEL_ID 只来自显式配置，它决定监听器是否按模型过滤。
// requireNode 为 false 时允许 node_details.json 尚不存在。
func ApplyBootstrap(cfg *config.Config, requireNode bool) error {
	dir := strings.TrimSpace(cfg.Bootstrap.SharedDir)
	if dir == "" {
		return nil
	}
	if cfg.Chain.PackageID == "" {
		id, err := bootstrap.LoadPackageID(dir)
		if err != nil {
			return err
		}
		cfg.Chain.PackageID = id
	}
	if cfg.Chain.PrivateKey == "" {
		key, err := bootstrap.LoadPrivateKey(dir)
		if err != nil {
			return err
		}
		cfg.Chain.PrivateKey = key
	}
	if cfg.Listener.ModelOwnerCapID == "" {
		details, err := bootstrap.LoadNodeDetails(dir)
		switch {
		case err == nil:
			cfg.Listener.ModelOwnerCapID = details.ModelOwnerCapID
		case requireNode:
			return err
		}
	}
	return nil
}

// Chain 持有链上客户端注册表以及绑定到合约包的 Nexus 客户端。
type Chain struct {
	Client   web3.Client
	Nexus    *nexus.Client
	registry *provider.Registry
}

// Close 关闭所有链上连接。
func (c *Chain) Close() {
	if c != nil && c.registry != nil {
		c.registry.Close()
	}
}

// DialChain 解析签名私钥并连接默认链。
func DialChain(ctx context.Context, cfg *config.Config) (*Chain, error) {
	if cfg.Chain.PackageID == "" {
		return nil, xerrors.New(xerrors.CodeConfiguration, "缺少必填配置: PACKAGE_ID")
	}
	signer, err := sui.ParsePrivateKey(cfg.Chain.PrivateKey)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConfiguration, err, "解析 SUI_PRIVATE_KEY 失败")
	}
	registry, err := provider.NewRegistry(ctx, cfg.Chain, signer)
	if err != nil {
		return nil, err
	}
	client, err := registry.DefaultClient()
	if err != nil {
		registry.Close()
		return nil, err
	}
	nx, err := nexus.New(client, cfg.Chain.PackageID,
		nexus.WithGasBudget(cfg.Chain.GasBudget),
		nexus.WithLogger(logger.Named("nexus")))
	if err != nil {
		registry.Close()
		return nil, err
	}
	return &Chain{Client: client, Nexus: nx, registry: registry}, nil
}

// NewModelClient 按 provider 选择模型运行时。
func NewModelClient(cfg config.ProxyConfig) (llm.Client, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "ollama":
		client, err := ollama.NewClient(ollama.Config{Host: cfg.Ollama.Host})
		if err != nil {
			return nil, err
		}
		return client, nil
	case "openai":
		client, err := newOpenAI(cfg.OpenAI)
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return nil, xerrors.New(xerrors.CodeConfiguration, "未知的模型提供方: "+cfg.Provider)
	}
}

func newOpenAI(cfg config.OpenAIConfig) (*openai.Client, error) {
	return openai.NewClient(openai.Config{
		APIKey:  cfg.ResolveAPIKey(),
		BaseURL: cfg.BaseURL,
		Model:   cfg.Model,
		Timeout: cfg.Timeout(),
	})
}

// NewToolRegistry 构造工具表。未配置 OpenAI 密钥时视觉、图片与向量工具在调用时报错。
func NewToolRegistry(cfg config.ProxyConfig) *tools.Registry {
	toolCfg := tools.Config{
		TavilyAPIKey:     cfg.Tools.TavilyAPIKey,
		WorkDir:          cfg.Tools.WorkDir,
		PythonExecutable: cfg.Tools.PythonExecutable,
		CommandTimeout:   cfg.Tools.CommandTimeout(),
		DisableShell:     cfg.Tools.DisableShell,
	}
	if cfg.OpenAI.ResolveAPIKey() != "" {
		if client, err := newOpenAI(cfg.OpenAI); err == nil {
			toolCfg.OpenAI = client
		} else {
			logger.Named("tools").Warn("OpenAI 工具不可用", slog.Any("error", err))
		}
	}
	return tools.NewRegistry(toolCfg)
}

// JournalConfig 将秒级配置转换为 MySQL 连接参数。
func JournalConfig(cfg config.JournalConfig) mysql.Config {
	return mysql.Config{
		DSN:             cfg.DSN,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: time.Duration(cfg.ConnMaxLifetimeSeconds) * time.Second,
		ConnMaxIdleTime: time.Duration(cfg.ConnMaxIdleTimeSeconds) * time.Second,
	}
}

// OpenJournal 打开补全日志，文件驱动写在 data 目录下。
func OpenJournal(ctx context.Context, cfg *config.Config) (mysql.Journal, error) {
	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "创建数据目录失败")
	}
	return mysql.Open(ctx, cfg.Storage.Journal.Driver, cfg.Runtime.DataDir, JournalConfig(cfg.Storage.Journal))
}

// OpenCursorStore 返回事件游标存储以及对应的关闭函数。
func OpenCursorStore(ctx context.Context, cfg config.CursorConfig) (events.CursorStore, func() error, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "memory":
		return &events.MemoryCursorStore{}, func() error { return nil }, nil
	case "redis":
		store, err := redis.NewCursorStore(ctx, redis.Config{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Key:      cfg.Redis.Key,
		})
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	default:
		return nil, nil, xerrors.New(xerrors.CodeConfiguration, "未知的游标存储: "+cfg.Driver)
	}
}

// QueueConfig 将配置文件中的队列段转换为任务队列参数。
func QueueConfig(cfg config.QueueConfig) task.QueueConfig {
	return task.QueueConfig{
		Driver: cfg.Driver,
		Size:   cfg.Size,
		Redis: task.RedisQueueConfig{
			Address:   cfg.Redis.Address,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			Queue:     cfg.Redis.Key,
			BlockWait: time.Duration(cfg.Redis.BlockWait) * time.Second,
		},
		RabbitMQ: task.RabbitMQConfig{
			URL:        cfg.RabbitMQ.URL,
			Queue:      cfg.RabbitMQ.Queue,
			Prefetch:   cfg.RabbitMQ.Prefetch,
			Durable:    cfg.RabbitMQ.Durable,
			AutoDelete: cfg.RabbitMQ.AutoDelete,
		},
		NATS: task.NATSConfig{
			URL:        cfg.NATS.URL,
			Subject:    cfg.NATS.Subject,
			QueueGroup: cfg.NATS.QueueGroup,
		},
	}
}

// IgnoreCanceled 把 ctx 取消视为正常退出。
func IgnoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// ServeMetrics 在后台启动指标服务，地址为空时什么也不做。
func ServeMetrics(ctx context.Context, addr string) {
	if strings.TrimSpace(addr) == "" {
		return
	}
	go func() {
		if err := metrics.StartServer(ctx, addr); err != nil && !errors.Is(err, context.Canceled) {
			logger.L().Error("指标服务退出", slog.String("addr", addr), slog.Any("error", err))
		}
	}()
}
