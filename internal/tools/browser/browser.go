// Package browser implements a page-fetching tool on Playwright. It renders
// the page in headless Chromium so JavaScript-heavy sites return real
// content, then extracts the visible text.
package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/loopwork/factotum/internal/agent"
)

const maxExtractedChars = 12000

// Config holds browser settings.
type Config struct {
	Headless bool
	Timeout  time.Duration
}

// Tool fetches and extracts web pages. The Playwright runtime and browser
// are started lazily on first use and shared across calls.
type Tool struct {
	config Config

	mu      sync.Mutex
	pw      *playwright.Playwright
	browser playwright.Browser
}

// New creates the browser tool with defaults applied.
func New(config Config) *Tool {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	return &Tool{config: config}
}

func (t *Tool) Name() string {
	return "browse"
}

func (t *Tool) Description() string {
	return "Open a web page in a headless browser and return its title and visible text. Use for reading articles, documentation, or pages that need JavaScript."
}

func (t *Tool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"url": {
				"type": "string",
				"description": "The http(s) URL to open"
			}
		},
		"required": ["url"]
	}`)
}

func (t *Tool) Describe(params json.RawMessage) string {
	var p struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(params, &p); err != nil || p.URL == "" {
		return "Opening a web page..."
	}
	if u, err := url.Parse(p.URL); err == nil && u.Host != "" {
		return fmt.Sprintf("Reading %s...", u.Host)
	}
	return "Opening a web page..."
}

func (t *Tool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var p struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("invalid parameters: %v", err), IsError: true}, nil
	}
	u, err := url.Parse(p.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return &agent.ToolResult{Content: "url must be a valid http or https URL", IsError: true}, nil
	}

	browser, err := t.ensureBrowser()
	if err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("browser unavailable: %v", err), IsError: true}, nil
	}

	page, err := browser.NewPage()
	if err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("failed to open page: %v", err), IsError: true}, nil
	}
	defer page.Close()

	_, err = page.Goto(p.URL, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(float64(t.config.Timeout.Milliseconds())),
	})
	if err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("failed to load %s: %v", p.URL, err), IsError: true}, nil
	}

	title, _ := page.Title()
	text, err := page.TextContent("body")
	if err != nil {
		return &agent.ToolResult{Content: fmt.Sprintf("failed to extract page text: %v", err), IsError: true}, nil
	}

	text = collapseWhitespace(text)
	if len(text) > maxExtractedChars {
		text = text[:maxExtractedChars] + "\n[truncated]"
	}

	var b strings.Builder
	if title != "" {
		fmt.Fprintf(&b, "Title: %s\n\n", title)
	}
	b.WriteString(text)
	return &agent.ToolResult{Content: b.String()}, nil
}

func (t *Tool) ensureBrowser() (playwright.Browser, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.browser != nil && t.browser.IsConnected() {
		return t.browser, nil
	}

	if t.pw == nil {
		if err := playwright.Install(&playwright.RunOptions{Verbose: false}); err != nil {
			return nil, fmt.Errorf("playwright install: %w", err)
		}
		pw, err := playwright.Run()
		if err != nil {
			return nil, fmt.Errorf("playwright start: %w", err)
		}
		t.pw = pw
	}

	browser, err := t.pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(t.config.Headless),
		Timeout:  playwright.Float(float64(t.config.Timeout.Milliseconds())),
	})
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	t.browser = browser
	return browser, nil
}

// Close shuts down the shared browser and Playwright runtime.
func (t *Tool) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.browser != nil {
		if err := t.browser.Close(); err != nil {
			return err
		}
		t.browser = nil
	}
	if t.pw != nil {
		if err := t.pw.Stop(); err != nil {
			return err
		}
		t.pw = nil
	}
	return nil
}

func collapseWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	var out []string
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

var _ agent.Tool = (*Tool)(nil)
