// Package ai wraps the external embedding and explanation services behind a
// single provider-selectable client.
package ai

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
)

// Client provides embedding and explanation capabilities.
type Client interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Explain(ctx context.Context, query, hits string) (string, error)
	Dim() int
}

// Provider is enumeration of supported AI providers
type Provider string

const (
	ProviderOpenAI   Provider = "openai"
	ProviderVertexAI Provider = "vertexai"
	ProviderStub     Provider = "stub"
)

// DefaultTokenBudget is the approximate input budget per embedding request.
const DefaultTokenBudget = 8000

// charsPerToken approximates tokens as 4 characters each.
const charsPerToken = 4

// ClientConfig holds configuration for AI clients
type ClientConfig struct {
	APIKey       string
	EmbedModel   string
	ExplainModel string
	Dim          int
	ProjectID    string
	Location     string
	Provider     Provider
	TokenBudget  int
}

// ServiceError reports a transport or service-side failure from the provider.
type ServiceError struct {
	Op  string // "embed" or "explain"
	Err error
}

func (e *ServiceError) Error() string { return fmt.Sprintf("ai: %s: %v", e.Op, e.Err) }

func (e *ServiceError) Unwrap() error { return e.Err }

// MalformedResponseError reports a provider response that lacks the expected
// payload, e.g. an embedding response with no vector field.
type MalformedResponseError struct {
	Op     string
	Reason string
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("ai: %s: malformed response: %s", e.Op, e.Reason)
}

// NewClient creates a new AI client based on configuration
func NewClient(ctx context.Context, config *ClientConfig) (Client, error) {
	if config == nil {
		return nil, errors.New("client config is required")
	}
	if config.TokenBudget <= 0 {
		config.TokenBudget = DefaultTokenBudget
	}

	switch config.Provider {
	case ProviderOpenAI:
		return NewOpenAIClient(config), nil
	case ProviderVertexAI:
		return NewVertexAIClient(ctx, config)
	case ProviderStub:
		return NewStubClient(config.Dim), nil
	default:
		return nil, errors.New("unsupported provider: " + string(config.Provider))
	}
}

// truncate enforces the submission budget of roughly tokenBudget tokens.
// Over-long input is cut, not rejected, and the event is logged.
func truncate(text string, tokenBudget int) string {
	maxChars := tokenBudget * charsPerToken
	if len(text) <= maxChars {
		return text
	}
	log.Warn().
		Int("length", len(text)).
		Int("max_chars", maxChars).
		Msg("input exceeds token budget, truncating")
	// Never split a multi-byte rune at the cut point.
	cut := maxChars
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}

// StubClient is a stub implementation of the Client interface for testing
type StubClient struct {
	dim int
}

// NewStubClient creates a new StubClient
func NewStubClient(dim int) *StubClient {
	return &StubClient{dim: dim}
}

// Embed returns a zero vector of the configured dimensionality.
func (s *StubClient) Embed(ctx context.Context, text string) ([]float32, error) {
	return make([]float32, s.dim), nil
}

// Explain returns a canned answer naming the query.
func (s *StubClient) Explain(ctx context.Context, query, hits string) (string, error) {
	return "No analysis available for: " + query, nil
}

// Dim returns the embedding dimension
func (s *StubClient) Dim() int {
	return s.dim
}
