// Package websearch implements a web search tool backed by DuckDuckGo's
// Instant Answer API or the Brave Search API, with response caching.
package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/loopwork/factotum/internal/agent"
)

// Backend selects the search provider.
type Backend string

const (
	BackendDuckDuckGo Backend = "duckduckgo"
	BackendBrave      Backend = "brave"

	// maxCacheSize bounds the response cache.
	maxCacheSize = 1000
)

// Config holds web search settings.
type Config struct {
	Backend     Backend
	BraveAPIKey string
	MaxResults  int
	CacheTTL    time.Duration
}

// Params are the tool call parameters.
type Params struct {
	Query       string `json:"query"`
	ResultCount int    `json:"result_count,omitempty"`
}

// Result is one search hit.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Response is the full tool output.
type Response struct {
	Query   string   `json:"query"`
	Results []Result `json:"results"`
	Backend Backend  `json:"backend"`
}

type cacheEntry struct {
	response  *Response
	expiresAt time.Time
}

// Tool implements agent.Tool for web searches.
type Tool struct {
	config     Config
	httpClient *http.Client
	cacheMu    sync.RWMutex
	cache      map[string]*cacheEntry
}

// New creates a web search tool with defaults applied.
func New(config Config) *Tool {
	if config.MaxResults == 0 {
		config.MaxResults = 5
	}
	if config.CacheTTL == 0 {
		config.CacheTTL = 5 * time.Minute
	}
	if config.Backend == "" {
		if config.BraveAPIKey != "" {
			config.Backend = BackendBrave
		} else {
			config.Backend = BackendDuckDuckGo
		}
	}
	return &Tool{
		config:     config,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		cache:      make(map[string]*cacheEntry),
	}
}

func (t *Tool) Name() string {
	return "web_search"
}

func (t *Tool) Description() string {
	return "Search the web for current information. Returns titles, URLs, and snippets for the top results."
}

func (t *Tool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {
				"type": "string",
				"description": "The search query"
			},
			"result_count": {
				"type": "integer",
				"description": "Number of results to return (default 5, max 20)",
				"minimum": 1,
				"maximum": 20
			}
		},
		"required": ["query"]
	}`)
}

// Describe phrases a progress line for the status message.
func (t *Tool) Describe(params json.RawMessage) string {
	var p Params
	if err := json.Unmarshal(params, &p); err != nil || p.Query == "" {
		return "Searching the web..."
	}
	return fmt.Sprintf("Searching the web for %q...", p.Query)
}

// Execute runs the search, serving from cache when possible and falling
// back to DuckDuckGo if the primary backend fails.
func (t *Tool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var p Params
	if err := json.Unmarshal(params, &p); err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("invalid parameters: %v", err), IsError: true}, nil
	}
	if p.Query == "" {
		return &agent.ToolResult{Content: "query parameter is required", IsError: true}, nil
	}
	if p.ResultCount <= 0 {
		p.ResultCount = t.config.MaxResults
	} else if p.ResultCount > 20 {
		p.ResultCount = 20
	}

	cacheKey := fmt.Sprintf("%s:%d:%s", t.config.Backend, p.ResultCount, p.Query)
	if cached := t.fromCache(cacheKey); cached != nil {
		return formatResponse(cached), nil
	}

	var response *Response
	var err error
	switch t.config.Backend {
	case BackendBrave:
		response, err = t.searchBrave(ctx, &p)
		if err != nil {
			response, err = t.searchDuckDuckGo(ctx, &p)
		}
	default:
		response, err = t.searchDuckDuckGo(ctx, &p)
	}
	if err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("search failed: %v", err), IsError: true}, nil
	}

	t.toCache(cacheKey, response)
	return formatResponse(response), nil
}

func formatResponse(response *Response) *agent.ToolResult {
	if len(response.Results) == 0 {
		return &agent.ToolResult{Content: fmt.Sprintf("no results for %q", response.Query)}
	}
	output, err := json.MarshalIndent(response, "", "  ")
	if err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("failed to format response: %v", err), IsError: true}
	}
	return &agent.ToolResult{Content: string(output)}
}

func (t *Tool) fromCache(key string) *Response {
	t.cacheMu.RLock()
	defer t.cacheMu.RUnlock()
	entry, ok := t.cache[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil
	}
	return entry.response
}

func (t *Tool) toCache(key string, response *Response) {
	t.cacheMu.Lock()
	defer t.cacheMu.Unlock()

	now := time.Now()
	for k, v := range t.cache {
		if now.After(v.expiresAt) {
			delete(t.cache, k)
		}
	}
	for len(t.cache) >= maxCacheSize {
		var oldestKey string
		var oldestTime time.Time
		for k, v := range t.cache {
			if oldestKey == "" || v.expiresAt.Before(oldestTime) {
				oldestKey = k
				oldestTime = v.expiresAt
			}
		}
		if oldestKey == "" {
			break
		}
		delete(t.cache, oldestKey)
	}

	t.cache[key] = &cacheEntry{response: response, expiresAt: now.Add(t.config.CacheTTL)}
}

func (t *Tool) searchDuckDuckGo(ctx context.Context, p *Params) (*Response, error) {
	instantURL := fmt.Sprintf("https://api.duckduckgo.com/?q=%s&format=json&no_html=1", url.QueryEscape(p.Query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, instantURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; FactotumBot/1.0)")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("duckduckgo returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var ddg struct {
		AbstractText  string `json:"AbstractText"`
		AbstractURL   string `json:"AbstractURL"`
		Heading       string `json:"Heading"`
		RelatedTopics []struct {
			FirstURL string `json:"FirstURL"`
			Text     string `json:"Text"`
		} `json:"RelatedTopics"`
	}
	if err := json.Unmarshal(body, &ddg); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	results := make([]Result, 0, p.ResultCount)
	if ddg.AbstractText != "" && ddg.AbstractURL != "" {
		results = append(results, Result{Title: ddg.Heading, URL: ddg.AbstractURL, Snippet: ddg.AbstractText})
	}
	for _, topic := range ddg.RelatedTopics {
		if len(results) >= p.ResultCount {
			break
		}
		if topic.FirstURL == "" || topic.Text == "" {
			continue
		}
		title := topic.Text
		if len(title) > 100 {
			title = title[:100]
		}
		results = append(results, Result{Title: title, URL: topic.FirstURL, Snippet: topic.Text})
	}

	return &Response{Query: p.Query, Results: results, Backend: BackendDuckDuckGo}, nil
}

func (t *Tool) searchBrave(ctx context.Context, p *Params) (*Response, error) {
	if t.config.BraveAPIKey == "" {
		return nil, fmt.Errorf("brave API key not configured")
	}

	searchURL, err := url.Parse("https://api.search.brave.com/res/v1/web/search")
	if err != nil {
		return nil, err
	}
	query := url.Values{}
	query.Set("q", p.Query)
	query.Set("count", fmt.Sprintf("%d", p.ResultCount))
	searchURL.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", t.config.BraveAPIKey)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("brave API returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var brave struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.Unmarshal(body, &brave); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	results := make([]Result, 0, p.ResultCount)
	for _, r := range brave.Web.Results {
		if len(results) >= p.ResultCount {
			break
		}
		results = append(results, Result{Title: r.Title, URL: r.URL, Snippet: r.Description})
	}

	return &Response{Query: p.Query, Results: results, Backend: BackendBrave}, nil
}

var _ agent.Tool = (*Tool)(nil)
