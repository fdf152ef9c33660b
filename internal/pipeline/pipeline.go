// Package pipeline orchestrates one ingestion stage: read a source
// specification document, chunk it, embed each chunk and upsert the vector
// documents into the similarity index.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/seanblong/specsearch/internal/ai"
	"github.com/seanblong/specsearch/internal/chunker"
	"github.com/seanblong/specsearch/internal/extract"
	"github.com/seanblong/specsearch/internal/index"
	"github.com/seanblong/specsearch/internal/objstore"
	"github.com/seanblong/specsearch/pkg/models"
)

// Stage processes source objects into indexed vector documents.
type Stage struct {
	Bucket  objstore.Bucket
	Chunker *chunker.Chunker
	Client  ai.Client
	Index   index.DocumentIndex
	Workers int
}

// Report summarizes one invocation. Failed counts chunks that were skipped
// after an embedding or write error; the invocation itself still succeeds.
type Report struct {
	Source    string `json:"source"`
	Chunks    int    `json:"chunks"`
	Processed int    `json:"processed"`
	Failed    int    `json:"failed"`
}

// New creates a Stage.
func New(bucket objstore.Bucket, ch *chunker.Chunker, client ai.Client, ix index.DocumentIndex, workers int) *Stage {
	return &Stage{
		Bucket:  bucket,
		Chunker: ch,
		Client:  client,
		Index:   ix,
		Workers: workers,
	}
}

func (s *Stage) workers() int {
	n := s.Workers
	if n <= 0 {
		n = runtime.NumCPU()
	}
	if n > 8 {
		n = 8 // cap to respect embedding service rate limits
	}
	return n
}

// Process runs the chunk → embed → index stage for one source object.
// Per-chunk failures are logged, counted and skipped; a malformed source
// document fails the whole invocation.
func (s *Stage) Process(ctx context.Context, key string) (Report, error) {
	rep := Report{Source: key}

	src, err := s.Bucket.Get(ctx, key)
	if err != nil {
		return rep, fmt.Errorf("read source %s: %w", key, err)
	}

	chunks, err := s.Chunker.Split(src, key)
	if err != nil {
		return rep, err
	}
	rep.Chunks = len(chunks)
	if len(chunks) == 0 {
		log.Info().Str("source", key).Msg("source document produced no chunks")
		return rep, nil
	}

	numWorkers := s.workers()
	log.Info().Str("source", key).Int("chunks", len(chunks)).Int("workers", numWorkers).Msg("processing source document")

	workChan := make(chan models.Chunk, numWorkers*2)

	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ch := range workChan {
				err := s.processChunk(ctx, key, ch)
				mu.Lock()
				if err != nil {
					rep.Failed++
				} else {
					rep.Processed++
				}
				mu.Unlock()
				if err != nil {
					log.Warn().Err(err).Str("chunk", ch.Key).Msg("chunk skipped")
				}
			}
		}()
	}

	for _, ch := range chunks {
		select {
		case workChan <- ch:
		case <-ctx.Done():
			close(workChan)
			wg.Wait()
			return rep, ctx.Err()
		}
	}
	close(workChan)
	wg.Wait()

	log.Info().
		Str("source", key).
		Int("processed", rep.Processed).
		Int("failed", rep.Failed).
		Msg("source document processed")
	return rep, nil
}

// processChunk writes the chunk object, embeds its text and upserts the
// vector document. An embedding failure means no document is written for
// that chunk.
func (s *Stage) processChunk(ctx context.Context, sourceKey string, ch models.Chunk) error {
	if err := s.Bucket.Put(ctx, ch.Key, ch.Body, "application/json"); err != nil {
		return fmt.Errorf("write chunk: %w", err)
	}

	text, err := extract.Text(ch.Body)
	if err != nil {
		return err
	}

	vec, err := s.Client.Embed(ctx, text)
	if err != nil {
		return err
	}

	doc := models.VectorDocument{
		ID:           index.DocumentID(ch.Key),
		ResourceType: ch.ResourceType,
		Source:       sourceKey,
		Content:      string(ch.Body),
		Embedding:    vec,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.Index.Upsert(ctx, doc); err != nil {
		return err
	}

	// Audit copy of the stored document. Losing it never fails the chunk:
	// the index write above is the authoritative one.
	if body, err := marshalDocument(doc); err == nil {
		if err := s.Bucket.Put(ctx, vectorKey(sourceKey, doc.ID), body, "application/json"); err != nil {
			log.Warn().Err(err).Str("chunk", ch.Key).Msg("failed to write vector document copy")
		}
	}
	return nil
}

// ProcessAll runs Process for every source object under prefix. A failing
// source object is reported and skipped; its siblings still run.
func (s *Stage) ProcessAll(ctx context.Context, prefix string) ([]Report, error) {
	keys, err := s.Bucket.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	reports := make([]Report, 0, len(keys))
	for _, key := range keys {
		rep, err := s.Process(ctx, key)
		if err != nil {
			if ctx.Err() != nil {
				return reports, ctx.Err()
			}
			log.Error().Err(err).Str("source", key).Msg("source object failed")
		}
		reports = append(reports, rep)
	}
	return reports, nil
}

func marshalDocument(doc models.VectorDocument) ([]byte, error) {
	return json.MarshalIndent(doc, "", "  ")
}

// vectorKey names the stored copy of a vector document:
// <source-key-with-slashes-removed>_<document-id>.json.
func vectorKey(sourceKey, docID string) string {
	return strings.ReplaceAll(sourceKey, "/", "") + "_" + docID + ".json"
}
