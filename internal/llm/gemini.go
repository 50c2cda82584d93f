package llm

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// Client generates complete (non-streaming) replies with Gemini.
type Client struct {
	model string
}

// NewClient creates a reply generator for the given model.
func NewClient(model string) *Client {
	return &Client{model: model}
}

// Generate performs one non-streaming generation call. Each part becomes one
// user content part; systemInstruction steers the reply style. A fresh API
// client is built per call because the key can change at runtime through the
// settings store.
func (c *Client) Generate(ctx context.Context, apiKey, systemInstruction string, parts []string) (string, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create gemini client: %w", err)
	}

	contentParts := make([]*genai.Part, 0, len(parts))
	for _, p := range parts {
		contentParts = append(contentParts, &genai.Part{Text: p})
	}
	contents := []*genai.Content{{Role: genai.RoleUser, Parts: contentParts}}

	cfg := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: systemInstruction}},
		},
	}

	resp, err := client.Models.GenerateContent(ctx, c.model, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("gemini generation failed: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("gemini returned an empty reply")
	}
	return text, nil
}
