package api

import (
	"context"
	"fmt"
	"math"
	"sort"

	"docflow/internal/config"
	"docflow/internal/documents"
)

// SimilarDocument pairs a document with its cosine similarity to the query
// document.
type SimilarDocument struct {
	Document   *documents.Document
	Similarity float64
}

// SearchSimilar ranks other documents by cosine similarity of their stored
// embeddings against the given document's vector.
func SearchSimilar(ctx context.Context, cfg *config.Config, documentID string, limit int) ([]SimilarDocument, error) {
	if limit <= 0 {
		limit = 10
	}
	docs, err := documents.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open documents store: %w", err)
	}
	defer docs.Close()

	source, err := docs.GetByID(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("fetch document: %w", err)
	}
	if len(source.Embedding) == 0 {
		return nil, fmt.Errorf("document %s has no embedding yet", documentID)
	}

	vectors, err := docs.Embeddings(ctx)
	if err != nil {
		return nil, fmt.Errorf("load embeddings: %w", err)
	}

	scored := make([]SimilarDocument, 0, len(vectors))
	for _, candidate := range vectors {
		if candidate.DocumentID == documentID {
			continue
		}
		score, ok := cosineSimilarity(source.Embedding, candidate.Vector)
		if !ok {
			continue
		}
		doc, getErr := docs.GetByID(ctx, candidate.DocumentID)
		if getErr != nil {
			continue
		}
		scored = append(scored, SimilarDocument{Document: doc, Similarity: score})
	}

	sort.Slice(scored, func(i, j int) bool {
		return scored[i].Similarity > scored[j].Similarity
	})
	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

func cosineSimilarity(a, b []float64) (float64, bool) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, false
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0, false
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), true
}
