package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	searchTimeout   = 15 * time.Second
	userAgentString = "Chaperone/0.1"
)

// SearchTool searches the web using the DuckDuckGo Instant Answer API. It
// doubles as the backend of the web-search capability handler.
type SearchTool struct {
	client *http.Client
}

func NewSearchTool() *SearchTool {
	return &SearchTool{client: &http.Client{Timeout: searchTimeout}}
}

func (t *SearchTool) Name() string { return "web_search" }
func (t *SearchTool) Description() string {
	return "Search the web for information. Returns a summary of search results. Use for current events, facts, or anything you're unsure about."
}
func (t *SearchTool) GroupOnly() bool { return false }

func (t *SearchTool) Parameters() map[string]any {
	return ToolParameters(
		map[string]Param{
			"query": {Type: "string", Description: "Search query to look up on the web"},
		},
		[]string{"query"},
	)
}

func (t *SearchTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	query := ArgsString(args, "query")
	if query == "" {
		return "", fmt.Errorf("missing argument: query")
	}
	results, err := t.Search(ctx, query, 5)
	if err != nil {
		return "", err
	}
	if results == "" {
		return fmt.Sprintf("No instant results found for: %s. Try a more specific query.", query), nil
	}
	return results, nil
}

// Search implements the capability handlers' Searcher interface.
func (t *SearchTool) Search(ctx context.Context, query string, max int) (string, error) {
	endpoint := fmt.Sprintf("https://api.duckduckgo.com/?q=%s&format=json&no_html=1&skip_disambig=1",
		url.QueryEscape(query))

	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", userAgentString)

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var ddg ddgResponse
	if err := json.Unmarshal(body, &ddg); err != nil {
		return "", fmt.Errorf("parse response: %w", err)
	}

	var results []string
	if ddg.Abstract != "" {
		results = append(results, fmt.Sprintf("## %s\n%s\nSource: %s", ddg.Heading, ddg.Abstract, ddg.AbstractURL))
	}
	if ddg.Answer != "" {
		results = append(results, "Answer: "+ddg.Answer)
	}
	for i, topic := range ddg.RelatedTopics {
		if i >= max {
			break
		}
		if topic.Text != "" {
			results = append(results, "- "+topic.Text)
		}
	}

	return strings.Join(results, "\n\n"), nil
}

type ddgResponse struct {
	Abstract      string `json:"Abstract"`
	AbstractURL   string `json:"AbstractURL"`
	Heading       string `json:"Heading"`
	Answer        string `json:"Answer"`
	RelatedTopics []struct {
		Text string `json:"Text"`
	} `json:"RelatedTopics"`
}
