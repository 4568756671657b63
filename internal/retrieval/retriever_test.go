package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/solvedoc/solvedoc/internal/storage"
)

type embedClientFunc func(ctx context.Context, model, text string) ([]float32, error)

func (f embedClientFunc) Embed(ctx context.Context, model, text string) ([]float32, error) {
	return f(ctx, model, text)
}

// mockVectorStore lets tests control search results per call.
type mockVectorStore struct {
	searchFn func(ctx context.Context, q Query) ([]Fragment, error)
}

func (m *mockVectorStore) InsertChunks(ctx context.Context, documentID string, chunks []storage.Chunk) error {
	return nil
}

func (m *mockVectorStore) Search(ctx context.Context, q Query) ([]Fragment, error) {
	return m.searchFn(ctx, q)
}

func (m *mockVectorStore) CountByOwner(ctx context.Context, ownerID string) (int, error) {
	return 0, nil
}

func fixedEmbedder(vec []float32) *Embedder {
	return NewEmbedder(embedClientFunc(func(ctx context.Context, model, text string) ([]float32, error) {
		return vec, nil
	}), "test-model")
}

func TestRetrieve_FiltersAtBaseThreshold(t *testing.T) {
	store := &mockVectorStore{
		searchFn: func(ctx context.Context, q Query) ([]Fragment, error) {
			return []Fragment{
				{ChunkID: "c1", Similarity: 0.80, SequenceIndex: 0},
				{ChunkID: "c2", Similarity: 0.25, SequenceIndex: 1}, // exactly at the cutoff
				{ChunkID: "c3", Similarity: 0.10, SequenceIndex: 2},
			}, nil
		},
	}
	r := NewRetriever(fixedEmbedder([]float32{1, 0}), store)

	fragments, err := r.Retrieve(context.Background(), "alice", nil, "question", 0.25, 5)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(fragments) != 1 {
		t.Fatalf("got %d fragments, want 1", len(fragments))
	}
	if fragments[0].ChunkID != "c1" {
		t.Errorf("kept %q, want c1", fragments[0].ChunkID)
	}
}

func TestRetrieve_PassesScopeToStore(t *testing.T) {
	var captured Query
	store := &mockVectorStore{
		searchFn: func(ctx context.Context, q Query) ([]Fragment, error) {
			captured = q
			return nil, nil
		},
	}
	r := NewRetriever(fixedEmbedder([]float32{0.5, 0.5}), store)

	if _, err := r.Retrieve(context.Background(), "alice", []string{"doc-7"}, "q", 0.25, 5); err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if captured.OwnerID != "alice" {
		t.Errorf("OwnerID = %q, want alice", captured.OwnerID)
	}
	if len(captured.DocumentIDs) != 1 || captured.DocumentIDs[0] != "doc-7" {
		t.Errorf("DocumentIDs = %v, want [doc-7]", captured.DocumentIDs)
	}
	if captured.TopK != 5 {
		t.Errorf("TopK = %d, want 5", captured.TopK)
	}
}

func TestRetrieve_EmbedErrorPropagates(t *testing.T) {
	wantErr := errors.New("model unavailable")
	r := NewRetriever(
		NewEmbedder(embedClientFunc(func(ctx context.Context, model, text string) ([]float32, error) {
			return nil, wantErr
		}), "test-model"),
		&mockVectorStore{},
	)

	if _, err := r.Retrieve(context.Background(), "alice", nil, "q", 0.25, 5); !errors.Is(err, wantErr) {
		t.Fatalf("expected wrapped embed error, got %v", err)
	}
}

func TestRetrieve_SearchErrorPropagates(t *testing.T) {
	store := &mockVectorStore{
		searchFn: func(ctx context.Context, q Query) ([]Fragment, error) {
			return nil, ErrDimensionMismatch
		},
	}
	r := NewRetriever(fixedEmbedder([]float32{1}), store)

	if _, err := r.Retrieve(context.Background(), "alice", nil, "q", 0.25, 5); !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
}
