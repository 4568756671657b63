package retrieval

import (
	"context"
)

// Retriever combines embedding and scoped vector search, applying the base
// relevance cutoff. Fragments at or below the cutoff never leave this layer.
type Retriever struct {
	embedder *Embedder
	store    VectorStore
}

// NewRetriever creates a Retriever backed by the given Embedder and VectorStore.
func NewRetriever(embedder *Embedder, store VectorStore) *Retriever {
	return &Retriever{embedder: embedder, store: store}
}

// Retrieve embeds the question and returns up to maxResults fragments from the
// scope with similarity strictly above baseThreshold, ordered best-first.
func (r *Retriever) Retrieve(ctx context.Context, ownerID string, documentIDs []string, question string, baseThreshold float32, maxResults int) ([]Fragment, error) {
	vec, err := r.embedder.Embed(ctx, question)
	if err != nil {
		return nil, err
	}

	fragments, err := r.store.Search(ctx, Query{
		OwnerID:     ownerID,
		DocumentIDs: documentIDs,
		Vector:      vec,
		TopK:        maxResults,
	})
	if err != nil {
		return nil, err
	}

	// Search returns best-first, so the cutoff keeps a prefix.
	kept := fragments[:0:0]
	for _, f := range fragments {
		if f.Similarity > baseThreshold {
			kept = append(kept, f)
		}
	}
	return kept, nil
}
