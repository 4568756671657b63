package retrieval

import (
	"context"
	"errors"

	"github.com/solvedoc/solvedoc/internal/storage"
)

// ErrDimensionMismatch is returned when a query vector's dimension differs
// from the stored chunk embeddings. This means the embedding model changed
// after ingestion; callers must fail the request rather than return garbage
// similarities.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Query scopes a similarity search. OwnerID is always required; the predicate
// is part of the SQL itself so rows belonging to other owners are never even
// scanned. DocumentIDs narrows the search further; empty means all of the
// owner's completed documents. Chunks of documents still being processed are
// excluded in the scan regardless of how the scope is given.
type Query struct {
	OwnerID     string
	DocumentIDs []string
	Vector      []float32
	TopK        int
}

// Fragment is a retrieved chunk with its similarity score in [0, 1].
// SourceLabel is the human-readable name of the owning document (title, or
// filename when no title was given) for citation.
type Fragment struct {
	ChunkID       string
	DocumentID    string
	SourceLabel   string
	Text          string
	PageNumber    int
	SequenceIndex int
	Similarity    float32
}

// VectorStore is the interface for chunk vector storage and scoped similarity
// search. The default implementation is SQLite with brute-force cosine scan;
// an ANN-backed store could replace it behind the same interface.
type VectorStore interface {
	// InsertChunks stores chunks for a document in one transaction,
	// verifying that each chunk's denormalized OwnerID matches the
	// parent document's owner.
	InsertChunks(ctx context.Context, documentID string, chunks []storage.Chunk) error

	// Search returns the top-K fragments most similar to q.Vector within
	// the query's scope, ordered by similarity descending with
	// deterministic tie-breaks.
	Search(ctx context.Context, q Query) ([]Fragment, error)

	// CountByOwner returns the number of chunks stored for an owner.
	CountByOwner(ctx context.Context, ownerID string) (int, error)
}
