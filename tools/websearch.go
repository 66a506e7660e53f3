package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// WebSearchTool queries the Serper.dev search API, gated on an API key
// (spec §4.6: credential-backed tools are registered only when
// configured). This supplements the distillation's single calculator
// tool with a second tool class — one that depends on an external
// service and a timeout, the way a production assistant's tool set
// would.
type WebSearchTool struct {
	client *http.Client
	apiKey string
}

// NewWebSearchTool builds a WebSearchTool, or nil if apiKey is empty —
// callers should skip Register in that case.
func NewWebSearchTool(apiKey string, timeout time.Duration) *WebSearchTool {
	if apiKey == "" {
		return nil
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebSearchTool{client: &http.Client{Timeout: timeout}, apiKey: apiKey}
}

func (*WebSearchTool) Info() Info {
	return Info{
		Name:        "web_search",
		Description: "Search the web for current information",
		Parameters: []Parameter{
			{Name: "query", Type: "string", Description: "The search query", Required: true},
		},
	}
}

type webSearchArgs struct {
	Query string `json:"query"`
}

type serperResponse struct {
	Organic []struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		Snippet string `json:"snippet"`
	} `json:"organic"`
}

func (w *WebSearchTool) Execute(ctx context.Context, argumentsJSON string) (string, error) {
	var args webSearchArgs
	if err := json.Unmarshal([]byte(argumentsJSON), &args); err != nil {
		return "", fmt.Errorf("parse arguments: %w", err)
	}
	if strings.TrimSpace(args.Query) == "" {
		return "", fmt.Errorf("query is required")
	}

	payload, _ := json.Marshal(map[string]string{"q": args.Query})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://google.serper.dev/search", strings.NewReader(string(payload)))
	if err != nil {
		return "", fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("X-API-KEY", w.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read search response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("search service returned %d", resp.StatusCode)
	}

	var sr serperResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return "", fmt.Errorf("decode search response: %w", err)
	}

	results := make([]map[string]string, 0, len(sr.Organic))
	for _, o := range sr.Organic {
		results = append(results, map[string]string{"title": o.Title, "link": o.Link, "snippet": o.Snippet})
	}

	data, _ := json.Marshal(map[string]any{"query": args.Query, "results": results})
	return string(data), nil
}
