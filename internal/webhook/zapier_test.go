package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClient_Deliver(t *testing.T) {
	var received map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("Failed to decode payload: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewClient(1)
	if err := client.Deliver(context.Background(), srv.URL, "the summary"); err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}
	if received["response"] != "the summary" {
		t.Errorf("Expected payload response 'the summary', got %q", received["response"])
	}
}

func TestClient_DeliverErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	client := NewClient(1)
	if err := client.Deliver(context.Background(), srv.URL, "x"); err == nil {
		t.Error("Expected error for non-2xx status")
	}
}
