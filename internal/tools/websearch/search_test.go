package websearch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeTransport serves canned responses keyed by host.
type fakeTransport struct {
	mu        sync.Mutex
	responses map[string]string
	statuses  map[string]int
	requests  []string
}

func (f *fakeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req.URL.Host)

	status := http.StatusOK
	if s, ok := f.statuses[req.URL.Host]; ok {
		status = s
	}
	body := f.responses[req.URL.Host]
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     make(http.Header),
		Request:    req,
	}, nil
}

func (f *fakeTransport) requestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

const ddgResponse = `{
	"Heading": "Go (programming language)",
	"AbstractText": "Go is a statically typed language.",
	"AbstractURL": "https://en.wikipedia.org/wiki/Go",
	"RelatedTopics": [
		{"FirstURL": "https://golang.org", "Text": "The Go website"},
		{"FirstURL": "", "Text": "topic without a URL"},
		{"FirstURL": "https://go.dev/doc", "Text": "Go documentation"}
	]
}`

const braveResponse = `{
	"web": {
		"results": [
			{"title": "Go", "url": "https://go.dev", "description": "The Go language"},
			{"title": "Go docs", "url": "https://go.dev/doc", "description": "Documentation"}
		]
	}
}`

func newTestTool(config Config, transport *fakeTransport) *Tool {
	tool := New(config)
	tool.httpClient = &http.Client{Transport: transport}
	return tool
}

func TestExecuteDuckDuckGo(t *testing.T) {
	transport := &fakeTransport{responses: map[string]string{
		"api.duckduckgo.com": ddgResponse,
	}}
	tool := newTestTool(Config{}, transport)

	result, err := tool.Execute(context.Background(), json.RawMessage(`{"query":"golang"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.IsError {
		t.Fatalf("result = %+v", result)
	}

	var response Response
	if err := json.Unmarshal([]byte(result.Content), &response); err != nil {
		t.Fatalf("unmarshal content: %v", err)
	}
	if response.Backend != BackendDuckDuckGo {
		t.Errorf("backend = %q", response.Backend)
	}
	// Abstract plus the two topics that carry URLs.
	if len(response.Results) != 3 {
		t.Fatalf("results = %d: %+v", len(response.Results), response.Results)
	}
	if response.Results[0].URL != "https://en.wikipedia.org/wiki/Go" {
		t.Errorf("first result = %+v", response.Results[0])
	}
}

func TestExecuteBrave(t *testing.T) {
	transport := &fakeTransport{responses: map[string]string{
		"api.search.brave.com": braveResponse,
	}}
	tool := newTestTool(Config{Backend: BackendBrave, BraveAPIKey: "bsk-test"}, transport)

	result, err := tool.Execute(context.Background(), json.RawMessage(`{"query":"golang"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.IsError {
		t.Fatalf("result = %+v", result)
	}

	var response Response
	if err := json.Unmarshal([]byte(result.Content), &response); err != nil {
		t.Fatalf("unmarshal content: %v", err)
	}
	if response.Backend != BackendBrave || len(response.Results) != 2 {
		t.Errorf("response = %+v", response)
	}
}

func TestExecuteBraveFallsBackToDuckDuckGo(t *testing.T) {
	transport := &fakeTransport{
		responses: map[string]string{"api.duckduckgo.com": ddgResponse},
		statuses:  map[string]int{"api.search.brave.com": http.StatusTooManyRequests},
	}
	tool := newTestTool(Config{Backend: BackendBrave, BraveAPIKey: "bsk-test"}, transport)

	result, err := tool.Execute(context.Background(), json.RawMessage(`{"query":"golang"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.IsError {
		t.Fatalf("result = %+v", result)
	}

	var response Response
	if err := json.Unmarshal([]byte(result.Content), &response); err != nil {
		t.Fatalf("unmarshal content: %v", err)
	}
	if response.Backend != BackendDuckDuckGo {
		t.Errorf("fallback backend = %q", response.Backend)
	}
}

func TestExecuteServesFromCache(t *testing.T) {
	transport := &fakeTransport{responses: map[string]string{
		"api.duckduckgo.com": ddgResponse,
	}}
	tool := newTestTool(Config{CacheTTL: time.Minute}, transport)

	params := json.RawMessage(`{"query":"golang"}`)
	for i := 0; i < 3; i++ {
		if _, err := tool.Execute(context.Background(), params); err != nil {
			t.Fatalf("Execute %d: %v", i, err)
		}
	}
	if transport.requestCount() != 1 {
		t.Errorf("backend hit %d times, want 1", transport.requestCount())
	}
}

func TestExecuteRequiresQuery(t *testing.T) {
	tool := New(Config{})

	result, err := tool.Execute(context.Background(), json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.IsError {
		t.Errorf("empty query accepted: %+v", result)
	}
}

func TestExecuteNoResults(t *testing.T) {
	transport := &fakeTransport{responses: map[string]string{
		"api.duckduckgo.com": `{"RelatedTopics": []}`,
	}}
	tool := newTestTool(Config{}, transport)

	result, err := tool.Execute(context.Background(), json.RawMessage(`{"query":"xyzzy"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.IsError || !strings.Contains(result.Content, "no results") {
		t.Errorf("result = %+v", result)
	}
}

func TestDescribe(t *testing.T) {
	tool := New(Config{})
	if got := tool.Describe(json.RawMessage(`{"query":"weather"}`)); got != `Searching the web for "weather"...` {
		t.Errorf("Describe = %q", got)
	}
	if got := tool.Describe(json.RawMessage(`{}`)); got != "Searching the web..." {
		t.Errorf("Describe = %q", got)
	}
}
