package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

type VertexAIClient struct {
	config *ClientConfig
	client *genai.Client
}

// NewVertexAIClient creates a new client for the Google Gemini API.
func NewVertexAIClient(ctx context.Context, config *ClientConfig) (*VertexAIClient, error) {
	if config == nil {
		return nil, errors.New("config cannot be nil")
	}

	// Defaults for Gemini API
	if config.EmbedModel == "" {
		config.EmbedModel = "text-embedding-005"
	}
	if config.ExplainModel == "" {
		config.ExplainModel = "gemini-2.0-flash"
	}
	if config.Dim == 0 {
		config.Dim = 768
	}
	if config.TokenBudget <= 0 {
		config.TokenBudget = DefaultTokenBudget
	}
	if config.Location == "" && strings.TrimSpace(config.APIKey) == "" {
		config.Location = "us-central1"
	}

	cc := genai.ClientConfig{
		Backend: genai.BackendVertexAI,
	}
	if strings.TrimSpace(config.APIKey) != "" {
		cc.APIKey = config.APIKey
	}
	if strings.TrimSpace(config.ProjectID) != "" {
		cc.Project = config.ProjectID
	}
	if strings.TrimSpace(config.Location) != "" {
		cc.Location = config.Location
	}

	client, err := genai.NewClient(ctx, &cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &VertexAIClient{
		config: config,
		client: client,
	}, nil
}

// Embed implements the embedding functionality using the Gemini API
func (c *VertexAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	cfg := genai.EmbedContentConfig{
		TaskType: "RETRIEVAL_DOCUMENT",
	}

	content := genai.Text(truncate(text, c.config.TokenBudget))
	res, err := c.client.Models.EmbedContent(ctx, c.config.EmbedModel, content, &cfg)
	if err != nil {
		return nil, &ServiceError{Op: "embed", Err: err}
	}

	if res == nil || len(res.Embeddings) == 0 || len(res.Embeddings[0].Values) == 0 {
		return nil, &MalformedResponseError{Op: "embed", Reason: "no embedding returned"}
	}

	return res.Embeddings[0].Values, nil
}

// Explain implements the explanation step using the Gemini API
func (c *VertexAIClient) Explain(ctx context.Context, query, hits string) (string, error) {
	prompt := genai.Text(explainSystemPrompt)
	temp := float32(0.2)
	cfg := genai.GenerateContentConfig{
		Temperature:       &temp,
		SystemInstruction: prompt[0],
	}

	user := "Question: " + query + "\nRetrieved specifications:\n" + hits
	resp, err := c.client.Models.GenerateContent(ctx, c.config.ExplainModel, genai.Text(user), &cfg)
	if err != nil {
		return "", &ServiceError{Op: "explain", Err: err}
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", &MalformedResponseError{Op: "explain", Reason: "no candidates returned"}
	}

	part := resp.Candidates[0].Content.Parts[0]
	return strings.TrimSpace(string(part.Text)), nil
}

func (c *VertexAIClient) Dim() int {
	return c.config.Dim
}
