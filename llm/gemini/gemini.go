// Package gemini implements llm.Client on the Google GenAI SDK.
package gemini

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gemini-2.5-flash"

// Client generates content with a Gemini model in JSON response mode.
type Client struct {
	client *genai.Client
	model  string
}

// New creates a client for the Gemini API.
func New(ctx context.Context, apiKey, model string) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if model == "" {
		model = DefaultModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}
	return &Client{client: client, model: model}, nil
}

// Model returns the configured model id.
func (c *Client) Model() string { return c.model }

func (c *Client) Complete(ctx context.Context, system, user string) (string, error) {
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
		ResponseMIMEType:  "application/json",
	}
	resp, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(user), cfg)
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("no text content in response")
	}
	return text, nil
}
