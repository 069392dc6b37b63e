// Package embedding produces note embeddings for similarity matching.
package embedding

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"
)

// batchSize bounds the inputs sent in one provider call.
const batchSize = 16

// Provider returns one vector per input text.
type Provider interface {
	Embed(ctx context.Context, model string, texts ...string) ([][]float32, error)
}

// Embedder embeds text with a fixed model.
type Embedder struct {
	provider Provider
	model    string
}

// New creates an Embedder.
func New(p Provider, model string) *Embedder {
	return &Embedder{provider: p, model: model}
}

// Model returns the embedding model name.
func (e *Embedder) Model() string { return e.model }

// Embed returns the embedding vector for a single text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.provider.Embed(ctx, e.model, text)
	if err != nil {
		return nil, fmt.Errorf("embedding text: %w", err)
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("embedding text: provider returned no vectors")
	}
	return vecs[0], nil
}

// EmbedBatch returns embeddings for texts in input order, issuing chunks of
// batchSize concurrently. Returns nil for empty input.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	results := make([][]float32, len(texts))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	for start := 0; start < len(texts); start += batchSize {
		end := min(start+batchSize, len(texts))
		g.Go(func() error {
			vecs, err := e.provider.Embed(gCtx, e.model, texts[start:end]...)
			if err != nil {
				return fmt.Errorf("embedding texts %d-%d: %w", start, end-1, err)
			}
			copy(results[start:end], vecs)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// NoteText is the text embedded for a note.
func NoteText(title, content string) string {
	title = strings.TrimSpace(title)
	if title == "" {
		return content
	}
	return title + "\n\n" + content
}
