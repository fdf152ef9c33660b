package ai

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// explainSystemPrompt fixes the instructional framing for the explanation
// step: name the relevant resource types and their fields, relate them to the
// question, and offer a sample query when one helps.
const explainSystemPrompt = "You are an expert on AWS Config resource type specifications. " +
	"You are given a user question and a JSON list of retrieved specification excerpts with similarity scores. " +
	"Identify the relevant resource types, identify the relevant fields and properties, " +
	"and explain how they relate to the question. " +
	"If useful, include a sample advanced query against the resource configuration. " +
	"Base the answer only on the provided excerpts."

type OpenAIClient struct {
	config *ClientConfig
	http   *http.Client
}

func NewOpenAIClient(config *ClientConfig) *OpenAIClient {
	// Set default models if not provided
	if config.EmbedModel == "" {
		config.EmbedModel = "text-embedding-3-small"
	}
	if config.ExplainModel == "" {
		config.ExplainModel = "gpt-4o-mini"
	}
	if config.Dim == 0 {
		// Set default dimensions based on the embedding model
		switch config.EmbedModel {
		case "text-embedding-3-small":
			config.Dim = 1536
		case "text-embedding-3-large":
			config.Dim = 3072
		case "text-embedding-ada-002":
			config.Dim = 1536
		default:
			config.Dim = 1536
		}
	}
	if config.TokenBudget <= 0 {
		config.TokenBudget = DefaultTokenBudget
	}

	transport := &http.Transport{}

	// Check for environment variable to skip TLS verification (for corporate proxies, etc.)
	if skipTLS, _ := strconv.ParseBool(os.Getenv("SPECSEARCH_SKIP_TLS_VERIFY")); skipTLS {
		transport.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: true,
		}
	}

	return &OpenAIClient{
		config: config,
		http: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
		},
	}
}

// Embed submits text to the embeddings endpoint, truncating to the token
// budget first. A response without a vector is a MalformedResponseError.
func (c *OpenAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if c.config.APIKey == "" {
		return nil, &ServiceError{Op: "embed", Err: errors.New("PROVIDER_API_KEY unset")}
	}

	payload := map[string]string{
		"input": truncate(text, c.config.TokenBudget),
		"model": c.config.EmbedModel,
	}

	b, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		"https://api.openai.com/v1/embeddings", bytes.NewReader(b))
	if err != nil {
		return nil, &ServiceError{Op: "embed", Err: err}
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &ServiceError{Op: "embed", Err: err}
	}
	defer closeBody(resp)

	if resp.StatusCode != http.StatusOK {
		return nil, &ServiceError{Op: "embed", Err: errors.New(resp.Status)}
	}

	var out struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &MalformedResponseError{Op: "embed", Reason: err.Error()}
	}
	if len(out.Data) == 0 || len(out.Data[0].Embedding) == 0 {
		return nil, &MalformedResponseError{Op: "embed", Reason: "no embedding field in response"}
	}
	return out.Data[0].Embedding, nil
}

// Explain asks the chat model to analyze the retrieved hits for the query.
func (c *OpenAIClient) Explain(ctx context.Context, query, hits string) (string, error) {
	if c.config.APIKey == "" {
		return "", &ServiceError{Op: "explain", Err: errors.New("PROVIDER_API_KEY unset")}
	}

	user := "Question: " + query + "\nRetrieved specifications:\n" + hits

	payload := map[string]any{
		"model": c.config.ExplainModel,
		"messages": []map[string]string{
			{"role": "system", "content": explainSystemPrompt},
			{"role": "user", "content": user},
		},
		"temperature": 0.2,
	}

	var buf bytes.Buffer
	_ = json.NewEncoder(&buf).Encode(payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		"https://api.openai.com/v1/chat/completions", &buf)
	if err != nil {
		return "", &ServiceError{Op: "explain", Err: err}
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", &ServiceError{Op: "explain", Err: err}
	}
	defer closeBody(resp)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e struct{ Error struct{ Message string } }
		_ = json.NewDecoder(resp.Body).Decode(&e)
		if e.Error.Message != "" {
			return "", &ServiceError{Op: "explain", Err: errors.New(e.Error.Message)}
		}
		return "", &ServiceError{Op: "explain", Err: errors.New(resp.Status)}
	}

	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", &MalformedResponseError{Op: "explain", Reason: err.Error()}
	}
	if len(out.Choices) == 0 {
		return "", &MalformedResponseError{Op: "explain", Reason: "no choices in response"}
	}
	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}

func (c *OpenAIClient) Dim() int {
	return c.config.Dim
}

// setHeaders sets common headers for OpenAI requests
func (c *OpenAIClient) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	if strings.HasPrefix(c.config.APIKey, "sk-proj-") && c.config.ProjectID != "" {
		req.Header.Set("OpenAI-Project", c.config.ProjectID)
	}
}

func closeBody(resp *http.Response) {
	if err := resp.Body.Close(); err != nil {
		log.Warn().Err(err).Msg("failed to close response body")
	}
}
