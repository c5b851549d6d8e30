package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	xerrors "Nexus-Chain/internal/errors"
)

const (
	maxBodyBytes   = 4 << 20
	summaryLength  = 1000
	defaultResults = 5
	paperResults   = 3
)

var (
	scriptPattern = regexp.MustCompile(`(?is)<(script|style|noscript)[^>]*>.*?</(script|style|noscript)>`)
	tagPattern    = regexp.MustCompile(`(?s)<[^>]+>`)
	spacePattern  = regexp.MustCompile(`[ \t]+`)
	blankPattern  = regexp.MustCompile(`\n\s*\n+`)
)

type webTools struct {
	cfg Config
}

func (w *webTools) get(ctx context.Context, endpoint string, query url.Values, out any) ([]byte, error) {
	if len(query) > 0 {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint += sep + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, xerrors.Wrap(CodeToolFailed, err, "构建请求失败")
	}
	req.Header.Set("User-Agent", "nexus-tools/1.0")
	return w.do(req, out)
}

func (w *webTools) do(req *http.Request, out any) ([]byte, error) {
	resp, err := w.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeTransport, err, "请求外部服务失败",
			xerrors.WithMetadata("host", req.URL.Host))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeTransport, err, "读取外部服务响应失败")
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, xerrors.New(CodeToolFailed,
			fmt.Sprintf("外部服务返回状态 %d: %s", resp.StatusCode, truncate(strings.TrimSpace(string(body)), 200)),
			xerrors.WithMetadata("host", req.URL.Host))
	}
	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeMalformed, err, "解析外部服务响应失败")
		}
	}
	return body, nil
}

type duckTopic struct {
	Text     string      `json:"Text"`
	FirstURL string      `json:"FirstURL"`
	Topics   []duckTopic `json:"Topics"`
}

func (w *webTools) duckduckgo(ctx context.Context, query string, limit int) (string, error) {
	var decoded struct {
		Heading       string      `json:"Heading"`
		AbstractText  string      `json:"AbstractText"`
		AbstractURL   string      `json:"AbstractURL"`
		Answer        string      `json:"Answer"`
		RelatedTopics []duckTopic `json:"RelatedTopics"`
	}
	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "json")
	params.Set("no_html", "1")
	params.Set("skip_disambig", "1")
	if _, err := w.get(ctx, w.cfg.Endpoints.DuckDuckGo, params, &decoded); err != nil {
		return "", err
	}

	var lines []string
	if decoded.Answer != "" {
		lines = append(lines, decoded.Answer)
	}
	if decoded.AbstractText != "" {
		lines = append(lines, fmt.Sprintf("%s: %s (%s)", decoded.Heading, decoded.AbstractText, decoded.AbstractURL))
	}
	var walk func(topics []duckTopic)
	walk = func(topics []duckTopic) {
		for _, topic := range topics {
			if len(lines) >= limit {
				return
			}
			if topic.Text != "" {
				lines = append(lines, fmt.Sprintf("%s (%s)", topic.Text, topic.FirstURL))
			}
			walk(topic.Topics)
		}
	}
	walk(decoded.RelatedTopics)
	if len(lines) > limit {
		lines = lines[:limit]
	}
	if len(lines) == 0 {
		return "No good DuckDuckGo Search Result was found", nil
	}
	return strings.Join(lines, "\n"), nil
}

func (w *webTools) search(ctx context.Context, query, numResults string) (string, error) {
	limit, err := strconv.Atoi(numResults)
	if err != nil || limit <= 0 {
		limit = defaultResults
	}
	return w.duckduckgo(ctx, query, limit)
}

func (w *webTools) instagram(ctx context.Context, query string) (string, error) {
	results, err := w.duckduckgo(ctx, "site:instagram.com "+query, defaultResults)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Instagram search results for '%s':\n\n%s", query, results), nil
}

func (w *webTools) wikipedia(ctx context.Context, query string) (string, error) {
	var decoded struct {
		Query struct {
			Search []struct {
				Title   string `json:"title"`
				Snippet string `json:"snippet"`
			} `json:"search"`
		} `json:"query"`
	}
	params := url.Values{}
	params.Set("action", "query")
	params.Set("list", "search")
	params.Set("srsearch", query)
	params.Set("srlimit", strconv.Itoa(paperResults))
	params.Set("format", "json")
	if _, err := w.get(ctx, w.cfg.Endpoints.Wikipedia, params, &decoded); err != nil {
		return "", err
	}
	if len(decoded.Query.Search) == 0 {
		return "No good Wikipedia Search Result was found", nil
	}
	pages := make([]string, 0, len(decoded.Query.Search))
	for _, hit := range decoded.Query.Search {
		pages = append(pages, fmt.Sprintf("Page: %s\nSummary: %s", hit.Title, collapse(stripHTML(hit.Snippet))))
	}
	return strings.Join(pages, "\n\n"), nil
}

type arxivFeed struct {
	Entries []struct {
		Title     string `xml:"title"`
		Summary   string `xml:"summary"`
		Published string `xml:"published"`
		Authors   []struct {
			Name string `xml:"name"`
		} `xml:"author"`
	} `xml:"entry"`
}

func (w *webTools) arxiv(ctx context.Context, query string) (string, error) {
	params := url.Values{}
	params.Set("search_query", "all:"+query)
	params.Set("start", "0")
	params.Set("max_results", strconv.Itoa(paperResults))
	body, err := w.get(ctx, w.cfg.Endpoints.Arxiv, params, nil)
	if err != nil {
		return "", err
	}
	var feed arxivFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return "", xerrors.Wrap(xerrors.CodeMalformed, err, "解析 arXiv 响应失败")
	}
	if len(feed.Entries) == 0 {
		return "No good Arxiv Result was found", nil
	}
	docs := make([]string, 0, len(feed.Entries))
	for _, entry := range feed.Entries {
		authors := make([]string, 0, len(entry.Authors))
		for _, a := range entry.Authors {
			authors = append(authors, a.Name)
		}
		published, _, _ := strings.Cut(entry.Published, "T")
		docs = append(docs, fmt.Sprintf("Published: %s\nTitle: %s\nAuthors: %s\nSummary: %s",
			published,
			collapse(entry.Title),
			strings.Join(authors, ", "),
			collapse(entry.Summary)))
	}
	return strings.Join(docs, "\n\n"), nil
}

func (w *webTools) pubmed(ctx context.Context, query string) (string, error) {
	base := strings.TrimRight(w.cfg.Endpoints.Pubmed, "/")
	var search struct {
		Result struct {
			IDs []string `json:"idlist"`
		} `json:"esearchresult"`
	}
	params := url.Values{}
	params.Set("db", "pubmed")
	params.Set("term", query)
	params.Set("retmode", "json")
	params.Set("retmax", strconv.Itoa(paperResults))
	if _, err := w.get(ctx, base+"/esearch.fcgi", params, &search); err != nil {
		return "", err
	}
	if len(search.Result.IDs) == 0 {
		return "No good PubMed Result was found", nil
	}

	var summary struct {
		Result map[string]json.RawMessage `json:"result"`
	}
	params = url.Values{}
	params.Set("db", "pubmed")
	params.Set("id", strings.Join(search.Result.IDs, ","))
	params.Set("retmode", "json")
	if _, err := w.get(ctx, base+"/esummary.fcgi", params, &summary); err != nil {
		return "", err
	}
	docs := make([]string, 0, len(search.Result.IDs))
	for _, id := range search.Result.IDs {
		raw, ok := summary.Result[id]
		if !ok {
			continue
		}
		var doc struct {
			Title   string `json:"title"`
			PubDate string `json:"pubdate"`
			Source  string `json:"source"`
		}
		if err := json.Unmarshal(raw, &doc); err != nil {
			continue
		}
		docs = append(docs, fmt.Sprintf("Published: %s\nTitle: %s\nJournal: %s\nPMID: %s", doc.PubDate, doc.Title, doc.Source, id))
	}
	if len(docs) == 0 {
		return "No good PubMed Result was found", nil
	}
	return strings.Join(docs, "\n\n"), nil
}

func (w *webTools) tavily(ctx context.Context, query string) (string, error) {
	if strings.TrimSpace(w.cfg.TavilyAPIKey) == "" {
		return "", xerrors.New(xerrors.CodeConfiguration, "未配置 TAVILY_API_KEY，无法使用 tavily_search")
	}
	payload, err := json.Marshal(map[string]any{
		"api_key":     w.cfg.TavilyAPIKey,
		"query":       query,
		"max_results": defaultResults,
	})
	if err != nil {
		return "", fmt.Errorf("序列化 Tavily 请求失败: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.Endpoints.Tavily, bytes.NewReader(payload))
	if err != nil {
		return "", xerrors.Wrap(CodeToolFailed, err, "构建 Tavily 请求失败")
	}
	req.Header.Set("Content-Type", "application/json")

	var decoded struct {
		Results []struct {
			URL     string `json:"url"`
			Content string `json:"content"`
		} `json:"results"`
	}
	if _, err := w.do(req, &decoded); err != nil {
		return "", err
	}
	type result struct {
		URL     string `json:"url"`
		Content string `json:"content"`
	}
	results := make([]result, 0, len(decoded.Results))
	for _, r := range decoded.Results {
		results = append(results, result{URL: r.URL, Content: r.Content})
	}
	encoded, err := json.Marshal(results)
	if err != nil {
		return "", fmt.Errorf("序列化 Tavily 结果失败: %w", err)
	}
	return string(encoded), nil
}

func (w *webTools) browse(ctx context.Context, target string) (string, error) {
	body, err := w.get(ctx, target, nil, nil)
	if err != nil {
		return "", err
	}
	content := stripHTML(string(body))
	return fmt.Sprintf("Summary of %s:\n\n%s", target, truncate(content, summaryLength)), nil
}

func stripHTML(s string) string {
	s = scriptPattern.ReplaceAllString(s, "")
	s = tagPattern.ReplaceAllString(s, "\n")
	s = html.UnescapeString(s)
	s = spacePattern.ReplaceAllString(s, " ")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	s = blankPattern.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")
	return strings.TrimSpace(s)
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
