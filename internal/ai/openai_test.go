package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"
)

// MockTransport captures requests and serves canned responses keyed by
// "METHOD URL".
type MockTransport struct {
	responses map[string]int
	bodies    map[string]string
	requests  []*http.Request
	payloads  [][]byte
}

func NewMockTransport() *MockTransport {
	return &MockTransport{
		responses: make(map[string]int),
		bodies:    make(map[string]string),
	}
}

func (m *MockTransport) AddResponse(method, url string, status int, body string) {
	key := method + " " + url
	m.responses[key] = status
	m.bodies[key] = body
}

func (m *MockTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	m.requests = append(m.requests, req)
	var payload []byte
	if req.Body != nil {
		payload, _ = io.ReadAll(req.Body)
	}
	m.payloads = append(m.payloads, payload)

	key := req.Method + " " + req.URL.String()
	status, ok := m.responses[key]
	if !ok {
		return nil, errors.New("unexpected request: " + key)
	}
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Body:       io.NopCloser(strings.NewReader(m.bodies[key])),
		Header:     make(http.Header),
	}, nil
}

func createMockClient(config *ClientConfig, transport *MockTransport) *OpenAIClient {
	client := NewOpenAIClient(config)
	client.http = &http.Client{Transport: transport, Timeout: 5 * time.Second}
	return client
}

func TestOpenAIEmbed(t *testing.T) {
	transport := NewMockTransport()
	transport.AddResponse(http.MethodPost, "https://api.openai.com/v1/embeddings", http.StatusOK,
		`{"data": [{"embedding": [0.1, 0.2, 0.3]}]}`)

	client := createMockClient(&ClientConfig{APIKey: "sk-test"}, transport)

	vec, err := client.Embed(context.Background(), "an instance")
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if len(vec) != 3 || vec[0] != 0.1 {
		t.Errorf("Embed() = %v", vec)
	}

	req := transport.requests[0]
	if got := req.Header.Get("Authorization"); got != "Bearer sk-test" {
		t.Errorf("Authorization = %q", got)
	}
	if got := req.Header.Get("Content-Type"); got != "application/json" {
		t.Errorf("Content-Type = %q", got)
	}
}

func TestOpenAIEmbed_TruncatesInput(t *testing.T) {
	transport := NewMockTransport()
	transport.AddResponse(http.MethodPost, "https://api.openai.com/v1/embeddings", http.StatusOK,
		`{"data": [{"embedding": [0.5]}]}`)

	budget := 10
	client := createMockClient(&ClientConfig{APIKey: "sk-test", TokenBudget: budget}, transport)

	if _, err := client.Embed(context.Background(), strings.Repeat("a", 1000)); err != nil {
		t.Fatalf("Embed() error = %v", err)
	}

	var sent struct {
		Input string `json:"input"`
		Model string `json:"model"`
	}
	if err := json.Unmarshal(transport.payloads[0], &sent); err != nil {
		t.Fatalf("request payload: %v", err)
	}
	if len(sent.Input) != budget*charsPerToken {
		t.Errorf("submitted %d chars, want %d", len(sent.Input), budget*charsPerToken)
	}
	if sent.Model != "text-embedding-3-small" {
		t.Errorf("model = %q", sent.Model)
	}
}

func TestOpenAIEmbed_ShortInputUnmodified(t *testing.T) {
	transport := NewMockTransport()
	transport.AddResponse(http.MethodPost, "https://api.openai.com/v1/embeddings", http.StatusOK,
		`{"data": [{"embedding": [0.5]}]}`)

	client := createMockClient(&ClientConfig{APIKey: "sk-test", TokenBudget: 10}, transport)

	input := strings.Repeat("b", 40)
	if _, err := client.Embed(context.Background(), input); err != nil {
		t.Fatalf("Embed() error = %v", err)
	}

	var sent struct {
		Input string `json:"input"`
	}
	if err := json.Unmarshal(transport.payloads[0], &sent); err != nil {
		t.Fatalf("request payload: %v", err)
	}
	if sent.Input != input {
		t.Errorf("input was modified: %q", sent.Input)
	}
}

func TestOpenAIEmbed_MissingEmbeddingField(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "empty data", body: `{"data": []}`},
		{name: "no embedding field", body: `{"data": [{"index": 0}]}`},
		{name: "empty vector", body: `{"data": [{"embedding": []}]}`},
		{name: "not json", body: `oops`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport := NewMockTransport()
			transport.AddResponse(http.MethodPost, "https://api.openai.com/v1/embeddings", http.StatusOK, tt.body)
			client := createMockClient(&ClientConfig{APIKey: "sk-test"}, transport)

			_, err := client.Embed(context.Background(), "text")
			var me *MalformedResponseError
			if !errors.As(err, &me) {
				t.Errorf("Embed() error = %v, want MalformedResponseError", err)
			}
		})
	}
}

func TestOpenAIEmbed_ServiceError(t *testing.T) {
	transport := NewMockTransport()
	transport.AddResponse(http.MethodPost, "https://api.openai.com/v1/embeddings",
		http.StatusTooManyRequests, `{"error": {"message": "rate limited"}}`)

	client := createMockClient(&ClientConfig{APIKey: "sk-test"}, transport)

	_, err := client.Embed(context.Background(), "text")
	var se *ServiceError
	if !errors.As(err, &se) {
		t.Fatalf("Embed() error = %v, want ServiceError", err)
	}
	if se.Op != "embed" {
		t.Errorf("Op = %q, want embed", se.Op)
	}
}

func TestOpenAIEmbed_NoAPIKey(t *testing.T) {
	client := createMockClient(&ClientConfig{}, NewMockTransport())
	_, err := client.Embed(context.Background(), "text")
	var se *ServiceError
	if !errors.As(err, &se) {
		t.Errorf("Embed() error = %v, want ServiceError", err)
	}
}

func TestOpenAIExplain(t *testing.T) {
	transport := NewMockTransport()
	transport.AddResponse(http.MethodPost, "https://api.openai.com/v1/chat/completions", http.StatusOK,
		`{"choices": [{"message": {"content": "  The InstanceId property stores it.  "}}]}`)

	client := createMockClient(&ClientConfig{APIKey: "sk-test"}, transport)

	ans, err := client.Explain(context.Background(), "which field stores the instance id", `[{"resourceType": "AWS::EC2::Instance"}]`)
	if err != nil {
		t.Fatalf("Explain() error = %v", err)
	}
	if ans != "The InstanceId property stores it." {
		t.Errorf("Explain() = %q", ans)
	}

	var sent struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(bytes.TrimSpace(transport.payloads[0]), &sent); err != nil {
		t.Fatalf("request payload: %v", err)
	}
	if sent.Model != "gpt-4o-mini" {
		t.Errorf("model = %q", sent.Model)
	}
	if len(sent.Messages) != 2 || sent.Messages[0].Role != "system" {
		t.Fatalf("messages = %+v", sent.Messages)
	}
	if !strings.Contains(sent.Messages[1].Content, "which field stores the instance id") {
		t.Errorf("user message missing the question: %q", sent.Messages[1].Content)
	}
	if !strings.Contains(sent.Messages[1].Content, "AWS::EC2::Instance") {
		t.Errorf("user message missing the hits: %q", sent.Messages[1].Content)
	}
}

func TestOpenAIExplain_NoChoices(t *testing.T) {
	transport := NewMockTransport()
	transport.AddResponse(http.MethodPost, "https://api.openai.com/v1/chat/completions", http.StatusOK,
		`{"choices": []}`)

	client := createMockClient(&ClientConfig{APIKey: "sk-test"}, transport)

	_, err := client.Explain(context.Background(), "q", "[]")
	var me *MalformedResponseError
	if !errors.As(err, &me) {
		t.Errorf("Explain() error = %v, want MalformedResponseError", err)
	}
}

func TestOpenAIExplain_ServiceErrorMessage(t *testing.T) {
	transport := NewMockTransport()
	transport.AddResponse(http.MethodPost, "https://api.openai.com/v1/chat/completions",
		http.StatusBadRequest, `{"error": {"message": "model not found"}}`)

	client := createMockClient(&ClientConfig{APIKey: "sk-test"}, transport)

	_, err := client.Explain(context.Background(), "q", "[]")
	var se *ServiceError
	if !errors.As(err, &se) {
		t.Fatalf("Explain() error = %v, want ServiceError", err)
	}
	if !strings.Contains(se.Error(), "model not found") {
		t.Errorf("error = %q, want it to carry the server message", se.Error())
	}
}

func TestOpenAIProjectHeader(t *testing.T) {
	transport := NewMockTransport()
	transport.AddResponse(http.MethodPost, "https://api.openai.com/v1/embeddings", http.StatusOK,
		`{"data": [{"embedding": [0.5]}]}`)

	client := createMockClient(&ClientConfig{APIKey: "sk-proj-abc", ProjectID: "proj_123"}, transport)

	if _, err := client.Embed(context.Background(), "text"); err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if got := transport.requests[0].Header.Get("OpenAI-Project"); got != "proj_123" {
		t.Errorf("OpenAI-Project = %q, want proj_123", got)
	}
}

func TestNewOpenAIClient_Defaults(t *testing.T) {
	tests := []struct {
		model   string
		wantDim int
	}{
		{model: "", wantDim: 1536},
		{model: "text-embedding-3-large", wantDim: 3072},
		{model: "text-embedding-ada-002", wantDim: 1536},
	}
	for _, tt := range tests {
		client := NewOpenAIClient(&ClientConfig{APIKey: "sk-test", EmbedModel: tt.model})
		if client.Dim() != tt.wantDim {
			t.Errorf("model %q: Dim() = %d, want %d", tt.model, client.Dim(), tt.wantDim)
		}
	}
}
