package search

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestClient_Search(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST, got %s", r.Method)
		}

		var req map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("Failed to decode request: %v", err)
		}
		if req["api_key"] != "test-key" {
			t.Errorf("Expected api_key 'test-key', got %v", req["api_key"])
		}
		if req["query"] != "weather today" {
			t.Errorf("Expected query 'weather today', got %v", req["query"])
		}
		if req["max_results"] != float64(3) {
			t.Errorf("Expected max_results 3, got %v", req["max_results"])
		}

		json.NewEncoder(w).Encode(map[string]interface{}{
			"results": []map[string]string{
				{"title": "Weather", "content": "Sunny and warm", "url": "https://example.com/w"},
			},
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	results, err := client.Search(context.Background(), "test-key", "weather today", 3)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("Expected 1 result, got %d", len(results))
	}
	if results[0].Title != "Weather" || results[0].URL != "https://example.com/w" {
		t.Errorf("Unexpected result: %+v", results[0])
	}
}

func TestClient_SearchErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	if _, err := client.Search(context.Background(), "k", "q", 1); err == nil {
		t.Error("Expected error for non-200 status")
	}
}

func TestSummarize_Empty(t *testing.T) {
	if got := Summarize(nil); got != "No search results found." {
		t.Errorf("Unexpected empty summary: %q", got)
	}
}

func TestSummarize_BoundsContent(t *testing.T) {
	long := strings.Repeat("x", 500)
	summary := Summarize([]Result{
		{Title: "First", Content: long, URL: "https://a.example"},
		{Title: "Second", Content: "short", URL: "https://b.example"},
	})

	if !strings.HasPrefix(summary, "Here are the top search results:\n") {
		t.Errorf("Unexpected summary prefix: %q", summary)
	}
	if !strings.Contains(summary, "1. First: "+strings.Repeat("x", 200)+"... (Source: https://a.example)") {
		t.Error("Expected first result content truncated to 200 characters")
	}
	if strings.Contains(summary, strings.Repeat("x", 201)) {
		t.Error("Expected no more than 200 content characters per result")
	}
	if !strings.Contains(summary, "2. Second: short... (Source: https://b.example)") {
		t.Error("Expected second result in summary")
	}
}
