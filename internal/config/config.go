package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	xerrors "Nexus-Chain/internal/errors"
	"Nexus-Chain/pkg/logger"
)

// DefaultGasBudget 等于 1 SUI，足以覆盖绝大多数交易。
const DefaultGasBudget uint64 = 1_000_000_000

// Config 描述了各个进程在启动阶段需要加载的核心配置。
type Config struct {
	Chain     ChainConfig     `json:"chain"`
	Bootstrap BootstrapConfig `json:"bootstrap"`
	Listener  ListenerConfig  `json:"listener"`
	Proxy     ProxyConfig     `json:"proxy"`
	Queue     QueueConfig     `json:"queue"`
	Storage   StorageConfig   `json:"storage"`
	Logging   logger.Config   `json:"logging"`
	Metrics   MetricsConfig   `json:"metrics"`
	Runtime   RuntimeConfig   `json:"runtime"`
}

// ChainConfig 包含访问 Sui 节点以及合约包所需的信息。
type ChainConfig struct {
	RPCURL       string `json:"rpc_url"`
	WSURL        string `json:"ws_url"`
	FaucetURL    string `json:"faucet_url"`
	ChainConfig  string `json:"chain_config"`
	DefaultChain string `json:"default_chain"`
	PackageID    string `json:"package_id"`
	PrivateKey   string `json:"private_key"`
	GasBudget    uint64 `json:"gas_budget"`
}

// BootstrapConfig 指向共享目录中的包 ID、节点信息与 keystore 文件。
type BootstrapConfig struct {
	SharedDir string `json:"shared_dir"`
}

// ListenerConfig 控制事件监听循环。
type ListenerConfig struct {
	ModelOwnerCapID         string       `json:"model_owner_cap_id"`
	ModelID                 string       `json:"model_id"`
	ToolURL                 string       `json:"tool_url"`
	InferenceURL            string       `json:"inference_url"`
	PollIntervalSeconds     int          `json:"poll_interval_seconds"`
	PageLimit               int          `json:"page_limit"`
	InferenceTimeoutSeconds int          `json:"inference_timeout_seconds"`
	Dispatch                string       `json:"dispatch"`
	Workers                 int          `json:"workers"`
	Cursor                  CursorConfig `json:"cursor"`
}

// PollInterval 返回空页时的固定等待时间。
func (l ListenerConfig) PollInterval() time.Duration {
	return time.Duration(l.PollIntervalSeconds) * time.Second
}

// InferenceTimeout 返回单次推理的超时时间，0 表示不设超时。
func (l ListenerConfig) InferenceTimeout() time.Duration {
	return time.Duration(l.InferenceTimeoutSeconds) * time.Second
}

// CursorConfig 决定事件游标保存在内存还是 Redis。
type CursorConfig struct {
	Driver string      `json:"driver"`
	Redis  RedisConfig `json:"redis"`
}

// RedisConfig 描述 Redis 连接参数。
type RedisConfig struct {
	Address   string `json:"address"`
	Password  string `json:"password"`
	DB        int    `json:"db"`
	Key       string `json:"key"`
	BlockWait int    `json:"block_wait_seconds"`
}

// ProxyConfig 控制推理代理服务。
type ProxyConfig struct {
	Address  string       `json:"address"`
	Provider string       `json:"provider"`
	Ollama   OllamaConfig `json:"ollama"`
	OpenAI   OpenAIConfig `json:"openai"`
	Tools    ToolsConfig  `json:"tools"`
}

// OllamaConfig 描述本地 Ollama 运行时。
type OllamaConfig struct {
	Host string `json:"host"`
}

// OpenAIConfig 描述 OpenAI 兼容接口。
type OpenAIConfig struct {
	APIKey         string `json:"api_key"`
	APIKeyEnv      string `json:"api_key_env"`
	BaseURL        string `json:"base_url"`
	Model          string `json:"model"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// Timeout 返回 OpenAI 请求的超时时间。
func (o OpenAIConfig) Timeout() time.Duration {
	if o.TimeoutSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(o.TimeoutSeconds) * time.Second
}

// ResolveAPIKey 优先使用显式配置的密钥，其次读取环境变量。
func (o OpenAIConfig) ResolveAPIKey() string {
	if key := strings.TrimSpace(o.APIKey); key != "" {
		return key
	}
	if o.APIKeyEnv != "" {
		return strings.TrimSpace(os.Getenv(o.APIKeyEnv))
	}
	return ""
}

// ToolsConfig 汇总工具调用所需的外部密钥与限制。
type ToolsConfig struct {
	TavilyAPIKey          string `json:"tavily_api_key"`
	WorkDir               string `json:"work_dir"`
	PythonExecutable      string `json:"python_executable"`
	CommandTimeoutSeconds int    `json:"command_timeout_seconds"`
	DisableShell          bool   `json:"disable_shell"`
}

// CommandTimeout 返回 shell/python 工具的执行超时。
func (t ToolsConfig) CommandTimeout() time.Duration {
	return time.Duration(t.CommandTimeoutSeconds) * time.Second
}

// QueueConfig 在 dispatch=queue 时决定任务队列驱动。
type QueueConfig struct {
	Driver   string         `json:"driver"`
	Size     int            `json:"size"`
	Redis    RedisConfig    `json:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
	NATS     NATSConfig     `json:"nats"`
}

// RabbitMQConfig 描述 RabbitMQ 队列。
type RabbitMQConfig struct {
	URL        string `json:"url"`
	Queue      string `json:"queue"`
	Prefetch   int    `json:"prefetch"`
	Durable    bool   `json:"durable"`
	AutoDelete bool   `json:"auto_delete"`
}

// NATSConfig 描述 NATS 主题与队列组。
type NATSConfig struct {
	URL        string `json:"url"`
	Subject    string `json:"subject"`
	QueueGroup string `json:"queue_group"`
}

// StorageConfig 统一描述持久化后端。
type StorageConfig struct {
	Journal JournalConfig `json:"journal"`
}

// JournalConfig 描述补全提交记录的存储方式。
type JournalConfig struct {
	Driver                 string `json:"driver"`
	DSN                    string `json:"dsn"`
	MaxOpenConns           int    `json:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds"`
	ConnMaxIdleTimeSeconds int    `json:"conn_max_idle_time_seconds"`
}

// MetricsConfig 为空地址时不启动指标服务。
type MetricsConfig struct {
	Address string `json:"address"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir"`
}

// LoadDotEnv 加载 .env 文件，文件不存在时忽略。
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return xerrors.Wrap(xerrors.CodeConfiguration, err, "加载 "+path+" 失败")
		}
	}
	return nil
}

// Load 解析指定路径的 JSON 配置文件，然后叠加环境变量并补齐默认值。
// 路径为空时只使用环境变量与默认值。
func Load(path string) (*Config, error) {
	var cfg Config
	baseDir := "."
	if strings.TrimSpace(path) != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeConfiguration, err, "读取配置文件失败")
		}
		if err := json.Unmarshal(content, &cfg); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeConfiguration, err, "解析配置失败")
		}
		baseDir = filepath.Dir(path)
	}

	cfg.ApplyEnv(os.LookupEnv)
	cfg.applyDefaults(baseDir)
	return &cfg, nil
}

// ApplyEnv 用环境变量覆盖配置文件中的值。
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	set := func(target *string, key string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*target = strings.TrimSpace(v)
		}
	}
	set(&c.Chain.RPCURL, "RPC_URL")
	set(&c.Chain.WSURL, "WS_URL")
	set(&c.Chain.FaucetURL, "FAUCET_URL")
	set(&c.Chain.PackageID, "PACKAGE_ID")
	set(&c.Chain.PrivateKey, "SUI_PRIVATE_KEY")
	set(&c.Bootstrap.SharedDir, "SHARED_DIR")
	set(&c.Listener.ModelOwnerCapID, "MODEL_OWNER_CAP_ID")
	set(&c.Listener.ModelID, "MODEL_ID")
	set(&c.Listener.ToolURL, "TOOL_URL")
	set(&c.Listener.InferenceURL, "LLM_ASSISTANT_URL")
	set(&c.Proxy.Ollama.Host, "OLLAMA_HOST")
	set(&c.Proxy.OpenAI.APIKey, "OPENAI_API_KEY")
	set(&c.Proxy.Tools.TavilyAPIKey, "TAVILY_API_KEY")
	set(&c.Metrics.Address, "METRICS_ADDR")

	if v, ok := lookup("GAS_BUDGET"); ok {
		if budget, err := strconv.ParseUint(strings.TrimSpace(v), 10, 64); err == nil {
			c.Chain.GasBudget = budget
		}
	}
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Chain.RPCURL == "" {
		c.Chain.RPCURL = "http://localhost:9000"
	}
	if c.Chain.GasBudget == 0 {
		c.Chain.GasBudget = DefaultGasBudget
	}
	if c.Chain.ChainConfig != "" && !filepath.IsAbs(c.Chain.ChainConfig) {
		c.Chain.ChainConfig = filepath.Join(baseDir, c.Chain.ChainConfig)
	}

	if c.Listener.ToolURL == "" {
		c.Listener.ToolURL = "http://localhost:8080/tool/use"
	}
	if c.Listener.InferenceURL == "" {
		c.Listener.InferenceURL = "http://localhost:8080/predict"
	}
	if c.Listener.PollIntervalSeconds <= 0 {
		c.Listener.PollIntervalSeconds = 3
	}
	if c.Listener.Dispatch == "" {
		c.Listener.Dispatch = "inline"
	}
	if c.Listener.Workers <= 0 {
		c.Listener.Workers = 1
	}
	if c.Listener.Cursor.Driver == "" {
		c.Listener.Cursor.Driver = "memory"
	}

	if c.Proxy.Address == "" {
		c.Proxy.Address = ":8080"
	}
	if c.Proxy.Provider == "" {
		c.Proxy.Provider = "ollama"
	}
	if c.Proxy.OpenAI.Model == "" {
		c.Proxy.OpenAI.Model = "gpt-4o-mini"
	}
	if c.Proxy.OpenAI.APIKeyEnv == "" {
		c.Proxy.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
	}
	if c.Proxy.Tools.PythonExecutable == "" {
		c.Proxy.Tools.PythonExecutable = "python3"
	}
	if c.Proxy.Tools.CommandTimeoutSeconds <= 0 {
		c.Proxy.Tools.CommandTimeoutSeconds = 30
	}

	if c.Queue.Driver == "" {
		c.Queue.Driver = "memory"
	}
	if c.Storage.Journal.Driver == "" {
		c.Storage.Journal.Driver = "memory"
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}
}

// ValidateListener 检查事件监听进程的必填项，缺失时属于致命配置错误。
func (c *Config) ValidateListener() error {
	var missing []string
	if c.Chain.PackageID == "" {
		missing = append(missing, "PACKAGE_ID")
	}
	if c.Chain.PrivateKey == "" {
		missing = append(missing, "SUI_PRIVATE_KEY")
	}
	if c.Listener.ModelOwnerCapID == "" {
		missing = append(missing, "MODEL_OWNER_CAP_ID")
	}
	if len(missing) > 0 {
		return xerrors.New(xerrors.CodeConfiguration, fmt.Sprintf("缺少必填配置: %s", strings.Join(missing, ", ")))
	}
	switch c.Listener.Dispatch {
	case "inline", "queue":
	default:
		return xerrors.New(xerrors.CodeConfiguration, "未知的分发模式: "+c.Listener.Dispatch)
	}
	return nil
}
