// Package query resolves free-text questions against the similarity index:
// embed the query, retrieve the nearest documents, then ask the explanation
// service to analyze the hits.
package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/seanblong/specsearch/internal/ai"
	"github.com/seanblong/specsearch/pkg/models"
)

// DefaultK bounds the result count when the caller does not override it.
const DefaultK = 5

// ErrEmptyQuery reports a request with no query text. It is client-caused.
var ErrEmptyQuery = errors.New("query: empty query text")

// RetrievalError reports a failure before or during retrieval; the whole
// request aborts.
type RetrievalError struct {
	Step string // "embed" or "search"
	Err  error
}

func (e *RetrievalError) Error() string { return fmt.Sprintf("query: %s: %v", e.Step, e.Err) }

func (e *RetrievalError) Unwrap() error { return e.Err }

// ExplanationError reports a failure in the explanation step. Hits carries
// the already-retrieved documents for callers configured to surface partial
// results.
type ExplanationError struct {
	Hits []models.SearchHit
	Err  error
}

func (e *ExplanationError) Error() string { return "query: explain: " + e.Err.Error() }

func (e *ExplanationError) Unwrap() error { return e.Err }

// Searcher is the slice of the index the interpreter needs.
type Searcher interface {
	Search(ctx context.Context, embedding []float32, k int) ([]models.SearchHit, error)
}

// Interpreter orchestrates the query path. Its steps run strictly in
// sequence; there is no internal concurrency.
type Interpreter struct {
	Client ai.Client
	Index  Searcher

	// PartialResults controls behavior when the explanation step fails:
	// false (the default) fails the whole query, true returns the retrieved
	// hits without an explanation.
	PartialResults bool
}

// NewInterpreter creates an Interpreter with the provided AI client and index.
func NewInterpreter(client ai.Client, ix Searcher) *Interpreter {
	return &Interpreter{Client: client, Index: ix}
}

// Query answers q with up to k ranked hits and a generated explanation.
// A zero-hit retrieval is valid and still goes through the explanation step.
func (s *Interpreter) Query(ctx context.Context, q string, k int) (*models.QueryResult, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return nil, ErrEmptyQuery
	}
	if k <= 0 {
		k = DefaultK
	}

	vec, err := s.Client.Embed(ctx, q)
	if err != nil {
		return nil, &RetrievalError{Step: "embed", Err: err}
	}

	hits, err := s.Index.Search(ctx, vec, k)
	if err != nil {
		return nil, &RetrievalError{Step: "search", Err: err}
	}

	explanation, err := s.Client.Explain(ctx, q, summarizeHits(hits))
	if err != nil {
		if s.PartialResults {
			log.Warn().Err(err).Str("query", q).Msg("explanation failed, returning hits only")
			return &models.QueryResult{Query: q, Hits: hits}, nil
		}
		return nil, &ExplanationError{Hits: hits, Err: err}
	}

	return &models.QueryResult{Query: q, Hits: hits, Explanation: explanation}, nil
}

// hitSummary is the structured view of one hit handed to the explanation
// service.
type hitSummary struct {
	ResourceType  string  `json:"resourceType"`
	Score         float64 `json:"score"`
	Specification any     `json:"specification,omitempty"`
	Text          string  `json:"text,omitempty"`
}

// summarizeHits renders the hits as a JSON array. Stored content that fails
// to parse as JSON degrades to its raw text rather than aborting the query.
func summarizeHits(hits []models.SearchHit) string {
	summaries := make([]hitSummary, 0, len(hits))
	for _, h := range hits {
		s := hitSummary{
			ResourceType: h.Document.ResourceType,
			Score:        h.Score,
		}
		var spec any
		if err := json.Unmarshal([]byte(h.Document.Content), &spec); err == nil {
			s.Specification = spec
		} else {
			s.Text = h.Document.Content
		}
		summaries = append(summaries, s)
	}
	b, err := json.MarshalIndent(summaries, "", "  ")
	if err != nil {
		return "[]"
	}
	return string(b)
}
