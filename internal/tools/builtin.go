package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	xerrors "Nexus-Chain/internal/errors"
)

const (
	defaultDuckDuckGoURL = "https://api.duckduckgo.com/"
	defaultWikipediaURL  = "https://en.wikipedia.org/w/api.php"
	defaultArxivURL      = "https://export.arxiv.org/api/query"
	defaultPubmedURL     = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"
	defaultTavilyURL     = "https://api.tavily.com/search"
	defaultHTTPTimeout   = 30 * time.Second
	defaultCmdTimeout    = 30 * time.Second
)

// Multimodal 是视觉、图片生成与向量工具依赖的模型能力。
type Multimodal interface {
	DescribeImage(ctx context.Context, imageURL, prompt string) (string, error)
	GenerateImage(ctx context.Context, prompt string) (string, error)
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Endpoints 允许替换外部服务地址。
type Endpoints struct {
	DuckDuckGo string
	Wikipedia  string
	Arxiv      string
	Pubmed     string
	Tavily     string
}

// Config 描述工具运行所需的外部依赖。缺少依赖的工具仍会注册，调用时返回配置错误。
type Config struct {
	HTTPClient       *http.Client
	Endpoints        Endpoints
	TavilyAPIKey     string
	OpenAI           Multimodal
	WorkDir          string
	PythonExecutable string
	CommandTimeout   time.Duration
	DisableShell     bool
}

func (c Config) withDefaults() Config {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	if c.Endpoints.DuckDuckGo == "" {
		c.Endpoints.DuckDuckGo = defaultDuckDuckGoURL
	}
	if c.Endpoints.Wikipedia == "" {
		c.Endpoints.Wikipedia = defaultWikipediaURL
	}
	if c.Endpoints.Arxiv == "" {
		c.Endpoints.Arxiv = defaultArxivURL
	}
	if c.Endpoints.Pubmed == "" {
		c.Endpoints.Pubmed = defaultPubmedURL
	}
	if c.Endpoints.Tavily == "" {
		c.Endpoints.Tavily = defaultTavilyURL
	}
	if c.PythonExecutable == "" {
		c.PythonExecutable = "python3"
	}
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = defaultCmdTimeout
	}
	return c
}

type searchArgs struct {
	Query      string `json:"query" binding:"required"`
	NumResults string `json:"num_results" binding:"required,numeric"`
}

type queryArgs struct {
	Query string `json:"query" binding:"required"`
}

type browserArgs struct {
	URL string `json:"url" binding:"required,url"`
}

type shellArgs struct {
	Command string `json:"command" binding:"required"`
}

type pythonArgs struct {
	Code string `json:"code" binding:"required"`
}

type readFileArgs struct {
	FilePath string `json:"file_path" binding:"required"`
}

type listDirectoryArgs struct {
	DirectoryPath string `json:"directory_path" binding:"required"`
}

type visionArgs struct {
	ImageURL string `json:"image_url" binding:"required,url"`
	Prompt   string `json:"prompt" binding:"required"`
}

type promptArgs struct {
	Prompt string `json:"prompt" binding:"required"`
}

type textArgs struct {
	Text string `json:"text" binding:"required"`
}

// NewRegistry 注册全部内置工具。
func NewRegistry(cfg Config) *Registry {
	cfg = cfg.withDefaults()
	web := &webTools{cfg: cfg}
	local := &localTools{cfg: cfg}
	r := &Registry{}

	add(r, "search", "Useful for searching the web for current information.",
		func(ctx context.Context, a searchArgs) (string, error) {
			return web.search(ctx, a.Query, a.NumResults)
		})
	add(r, "wikipedia", "Useful for querying Wikipedia for general knowledge.",
		func(ctx context.Context, a queryArgs) (string, error) { return web.wikipedia(ctx, a.Query) })
	add(r, "arxiv", "Useful for searching academic papers on arXiv.",
		func(ctx context.Context, a queryArgs) (string, error) { return web.arxiv(ctx, a.Query) })
	add(r, "pubmed", "Useful for searching medical and life sciences literature.",
		func(ctx context.Context, a queryArgs) (string, error) { return web.pubmed(ctx, a.Query) })
	add(r, "tavily_search", "Useful for performing searches using Tavily.",
		func(ctx context.Context, a queryArgs) (string, error) { return web.tavily(ctx, a.Query) })
	add(r, "browser", "Useful for browsing websites and summarizing their content.",
		func(ctx context.Context, a browserArgs) (string, error) { return web.browse(ctx, a.URL) })
	add(r, "instagram_search", "Useful for searching Instagram for images and videos.",
		func(ctx context.Context, a queryArgs) (string, error) { return web.instagram(ctx, a.Query) })

	add(r, "shell", "Useful for running shell commands.",
		func(ctx context.Context, a shellArgs) (string, error) { return local.shell(ctx, a.Command) })
	add(r, "python_repl", "Useful for executing Python code.",
		func(ctx context.Context, a pythonArgs) (string, error) { return local.python(ctx, a.Code) })
	add(r, "read_file", "Useful for reading the contents of a file.",
		func(_ context.Context, a readFileArgs) (string, error) { return local.readFile(a.FilePath) })
	add(r, "list_directory", "Useful for listing the contents of a directory.",
		func(_ context.Context, a listDirectoryArgs) (string, error) {
			return local.listDirectory(a.DirectoryPath)
		})

	add(r, "gpt4_vision", "Useful for analyzing images using GPT-4 Vision.",
		func(ctx context.Context, a visionArgs) (string, error) {
			if cfg.OpenAI == nil {
				return "", errMissingOpenAI
			}
			return cfg.OpenAI.DescribeImage(ctx, a.ImageURL, a.Prompt)
		})
	add(r, "dalle3", "Useful for generating images based on text prompts.",
		func(ctx context.Context, a promptArgs) (string, error) {
			if cfg.OpenAI == nil {
				return "", errMissingOpenAI
			}
			return cfg.OpenAI.GenerateImage(ctx, a.Prompt)
		})
	add(r, "openai_embeddings", "Useful for creating text embeddings using OpenAI's API.",
		func(ctx context.Context, a textArgs) (string, error) {
			if cfg.OpenAI == nil {
				return "", errMissingOpenAI
			}
			vec, err := cfg.OpenAI.Embed(ctx, a.Text)
			if err != nil {
				return "", err
			}
			encoded, err := json.Marshal(vec)
			if err != nil {
				return "", fmt.Errorf("序列化向量失败: %w", err)
			}
			return string(encoded), nil
		})
	return r
}

var errMissingOpenAI = xerrors.New(xerrors.CodeConfiguration, "未配置 OPENAI_API_KEY，无法使用 OpenAI 工具")
