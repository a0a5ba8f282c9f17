// Package websearch exposes a web search tool backed by the DuckDuckGo
// HTML endpoint.
package websearch

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/stewardhq/steward/internal/httpkit"
	"github.com/stewardhq/steward/internal/platform"
	"github.com/stewardhq/steward/internal/tools"
)

const defaultEndpoint = "https://html.duckduckgo.com/html/"

// Provider serves the web search tool. It needs no platform
// connectivity, only outbound HTTP.
type Provider struct {
	endpoint   string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewProvider(logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		endpoint: defaultEndpoint,
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(15 * time.Second),
		),
		logger: logger,
	}
}

func (p *Provider) CategoryName() string { return "web_search" }

func (p *Provider) IsAvailable(ctx context.Context, pc *platform.Client) bool {
	return true
}

func (p *Provider) Tools(ctx context.Context, pc *platform.Client) ([]*tools.Tool, error) {
	return []*tools.Tool{
		{
			Name:        "duckduckgo_results_json",
			Description: "Search the web. Returns titles, URLs and snippets for the top results.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{
						"type":        "string",
						"description": "The search query",
					},
					"count": map[string]any{
						"type":        "integer",
						"description": "Number of results to return (default 5, max 10)",
					},
				},
				"required": []string{"query"},
			},
			Safety:  tools.SafetySafe,
			Handler: p.search,
		},
	}, nil
}

func (p *Provider) search(ctx context.Context, args map[string]any) (string, error) {
	query, _ := args["query"].(string)
	if query == "" {
		return "", fmt.Errorf("query is required")
	}

	count := 5
	if c, ok := args["count"].(float64); ok && c > 0 {
		count = int(c)
		if count > 10 {
			count = 10
		}
	}

	results, err := p.fetch(ctx, query)
	if err != nil {
		return "", err
	}
	if len(results) > count {
		results = results[:count]
	}

	p.logger.Debug("web search completed", "query", query, "results", len(results))
	return FormatResults(results), nil
}

func (p *Provider) fetch(ctx context.Context, query string) ([]Result, error) {
	params := url.Values{"q": {query}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("web search: build request: %w", err)
	}
	req.URL.RawQuery = params.Encode()
	req.Header.Set("Accept", "text/html")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("web search: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body := httpkit.ReadErrorBody(resp.Body, 512)
		return nil, fmt.Errorf("web search: HTTP %d: %s", resp.StatusCode, body)
	}

	return ParseResults(resp.Body)
}
