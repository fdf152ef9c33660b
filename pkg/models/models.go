package models

import (
	"encoding/json"
	"time"
)

// Chunk is one independently embeddable unit cut from a specification
// document. Body is the JSON payload written to object storage under Key and
// later rendered to text for embedding.
type Chunk struct {
	Key          string          `json:"key"`
	ResourceType string          `json:"resource_type,omitempty"`
	Body         json.RawMessage `json:"body"`
}

// VectorDocument is the unit stored in the similarity index. Content holds
// the chunk payload serialized as searchable text. Documents are never
// mutated in place; re-processing the same chunk overwrites by ID.
type VectorDocument struct {
	ID           string    `json:"id"`
	ResourceType string    `json:"resource_type"`
	Source       string    `json:"source"`
	Content      string    `json:"content"`
	Embedding    []float32 `json:"embedding,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// SearchHit pairs a retrieved document with its similarity score
// (higher = more relevant).
type SearchHit struct {
	Document VectorDocument `json:"document"`
	Score    float64        `json:"score"`
}

// QueryResult is the answer to one free-text query.
type QueryResult struct {
	Query       string      `json:"query"`
	Hits        []SearchHit `json:"hits"`
	Explanation string      `json:"explanation,omitempty"`
}
