package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Result is one ranked web-search hit.
type Result struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	URL     string `json:"url"`
}

// Client talks to the Tavily search API.
type Client struct {
	url        string
	httpClient *http.Client
}

// NewClient creates a search client for the given endpoint URL.
func NewClient(url string) *Client {
	return &Client{
		url:        url,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

type searchRequest struct {
	APIKey     string `json:"api_key"`
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
}

type searchResponse struct {
	Results []Result `json:"results"`
}

// Search issues one query and returns up to maxResults ranked results.
func (c *Client) Search(ctx context.Context, apiKey, query string, maxResults int) ([]Result, error) {
	body, err := json.Marshal(searchRequest{
		APIKey:     apiKey,
		Query:      query,
		MaxResults: maxResults,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unable to perform web search (status %d)", resp.StatusCode)
	}

	var decoded searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}
	return decoded.Results, nil
}

// Summarize composes a bounded, human-readable summary of the top results.
// Each result contributes its title, the first 200 characters of content and
// its source URL.
func Summarize(results []Result) string {
	if len(results) == 0 {
		return "No search results found."
	}

	summary := "Here are the top search results:\n"
	for i, r := range results {
		content := r.Content
		if len(content) > 200 {
			content = content[:200]
		}
		summary += fmt.Sprintf("%d. %s: %s... (Source: %s)\n", i+1, r.Title, content, r.URL)
	}
	return summary
}
