package retrieval

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/solvedoc/solvedoc/internal/storage"
)

// newTestStore opens an in-memory database with the real migrated schema and
// seeds a completed document per (owner, document) pair requested.
func newTestStore(t *testing.T, docs ...[2]string) *SQLiteStore {
	t.Helper()
	st, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	for _, d := range docs {
		owner, id := d[0], d[1]
		if err := st.CreateDocument(storage.Document{ID: id, OwnerID: owner, Filename: id + ".pdf", State: storage.StateCompleted}); err != nil {
			t.Fatalf("seeding document %s: %v", id, err)
		}
	}
	return NewSQLiteStore(st.DB())
}

func makeChunk(owner, doc string, seq int, embedding []float32) storage.Chunk {
	return storage.Chunk{
		ID:            fmt.Sprintf("%s-c%d", doc, seq),
		DocumentID:    doc,
		OwnerID:       owner,
		Text:          fmt.Sprintf("chunk %d of %s", seq, doc),
		Embedding:     embedding,
		PageNumber:    seq/2 + 1,
		SequenceIndex: seq,
	}
}

func TestInsertAndSearch(t *testing.T) {
	s := newTestStore(t, [2]string{"alice", "doc-1"})
	ctx := context.Background()

	vec := []float32{1, 0, 0}
	if err := s.InsertChunks(ctx, "doc-1", []storage.Chunk{makeChunk("alice", "doc-1", 0, vec)}); err != nil {
		t.Fatalf("InsertChunks: %v", err)
	}

	results, err := s.Search(ctx, Query{OwnerID: "alice", Vector: vec, TopK: 1})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if results[0].Similarity < 0.99 {
		t.Errorf("similarity = %f, want > 0.99", results[0].Similarity)
	}
	if results[0].ChunkID != "doc-1-c0" {
		t.Errorf("ChunkID = %q, want %q", results[0].ChunkID, "doc-1-c0")
	}
	if results[0].DocumentID != "doc-1" {
		t.Errorf("DocumentID = %q, want %q", results[0].DocumentID, "doc-1")
	}
	if results[0].SourceLabel != "doc-1.pdf" {
		t.Errorf("SourceLabel = %q, want %q", results[0].SourceLabel, "doc-1.pdf")
	}
}

func TestSearch_SourceLabelPrefersTitle(t *testing.T) {
	ctx := context.Background()

	st, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	doc := storage.Document{ID: "doc-1", OwnerID: "alice", Filename: "upload-7f3.pdf", Title: "Q3 Report", State: storage.StateCompleted}
	if err := st.CreateDocument(doc); err != nil {
		t.Fatalf("seeding document: %v", err)
	}
	s := NewSQLiteStore(st.DB())

	vec := []float32{1, 0, 0}
	if err := s.InsertChunks(ctx, "doc-1", []storage.Chunk{makeChunk("alice", "doc-1", 0, vec)}); err != nil {
		t.Fatalf("InsertChunks: %v", err)
	}

	results, err := s.Search(ctx, Query{OwnerID: "alice", Vector: vec, TopK: 1})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if results[0].SourceLabel != "Q3 Report" {
		t.Errorf("SourceLabel = %q, want the document title", results[0].SourceLabel)
	}
}

func TestSearch_ExcludesProcessingDocuments(t *testing.T) {
	ctx := context.Background()

	st, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	if err := st.CreateDocument(storage.Document{ID: "doc-done", OwnerID: "alice", Filename: "doc-done.pdf", State: storage.StateCompleted}); err != nil {
		t.Fatalf("seeding completed document: %v", err)
	}
	// The second document is still being processed; its chunks are already in
	// the table but must not surface until the state flips to completed.
	if err := st.CreateDocument(storage.Document{ID: "doc-wip", OwnerID: "alice", Filename: "doc-wip.pdf", State: storage.StateProcessing}); err != nil {
		t.Fatalf("seeding processing document: %v", err)
	}
	s := NewSQLiteStore(st.DB())

	vec := []float32{1, 0, 0}
	if err := s.InsertChunks(ctx, "doc-done", []storage.Chunk{makeChunk("alice", "doc-done", 0, vec)}); err != nil {
		t.Fatalf("InsertChunks doc-done: %v", err)
	}
	if err := s.InsertChunks(ctx, "doc-wip", []storage.Chunk{makeChunk("alice", "doc-wip", 0, vec)}); err != nil {
		t.Fatalf("InsertChunks doc-wip: %v", err)
	}

	// Owner-wide scope.
	results, err := s.Search(ctx, Query{OwnerID: "alice", Vector: vec, TopK: 10})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	for _, f := range results {
		if f.DocumentID == "doc-wip" {
			t.Errorf("chunk of processing document surfaced in owner-wide search")
		}
	}
	if len(results) != 1 {
		t.Errorf("got %d results, want 1", len(results))
	}

	// Even naming the processing document explicitly must not expose it.
	results, err = s.Search(ctx, Query{OwnerID: "alice", DocumentIDs: []string{"doc-wip"}, Vector: vec, TopK: 10})
	if err != nil {
		t.Fatalf("Search scoped to processing document: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("got %d results for processing document, want 0", len(results))
	}

	// Once processing finishes the chunks become searchable.
	if err := st.UpdateDocumentState("doc-wip", storage.StateCompleted, 1, 1, ""); err != nil {
		t.Fatalf("UpdateDocumentState: %v", err)
	}
	results, err = s.Search(ctx, Query{OwnerID: "alice", DocumentIDs: []string{"doc-wip"}, Vector: vec, TopK: 10})
	if err != nil {
		t.Fatalf("Search after completion: %v", err)
	}
	if len(results) != 1 || results[0].DocumentID != "doc-wip" {
		t.Errorf("expected doc-wip chunk after completion, got %+v", results)
	}
}

func TestInsertChunks_OwnerMismatchAbortsBatch(t *testing.T) {
	s := newTestStore(t, [2]string{"alice", "doc-1"})
	ctx := context.Background()

	chunks := []storage.Chunk{
		makeChunk("alice", "doc-1", 0, []float32{1, 0, 0}),
		makeChunk("bob", "doc-1", 1, []float32{0, 1, 0}),
	}
	if err := s.InsertChunks(ctx, "doc-1", chunks); err == nil {
		t.Fatal("expected error for chunk with mismatched owner")
	}

	// The whole batch must roll back, including the valid first chunk.
	count, err := s.CountByOwner(ctx, "alice")
	if err != nil {
		t.Fatalf("CountByOwner: %v", err)
	}
	if count != 0 {
		t.Errorf("expected rollback, found %d chunks", count)
	}
}

func TestInsertChunks_MissingDocument(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.InsertChunks(ctx, "no-such-doc", []storage.Chunk{makeChunk("alice", "no-such-doc", 0, []float32{1, 0, 0})})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSearch_OwnerIsolation(t *testing.T) {
	s := newTestStore(t, [2]string{"alice", "doc-a"}, [2]string{"bob", "doc-b"})
	ctx := context.Background()

	vec := []float32{1, 0, 0}
	if err := s.InsertChunks(ctx, "doc-a", []storage.Chunk{makeChunk("alice", "doc-a", 0, vec)}); err != nil {
		t.Fatalf("InsertChunks alice: %v", err)
	}
	// Bob's chunk is a perfect match for the query vector.
	if err := s.InsertChunks(ctx, "doc-b", []storage.Chunk{makeChunk("bob", "doc-b", 0, vec)}); err != nil {
		t.Fatalf("InsertChunks bob: %v", err)
	}

	results, err := s.Search(ctx, Query{OwnerID: "alice", Vector: vec, TopK: 10})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	for _, f := range results {
		if f.DocumentID != "doc-a" {
			t.Errorf("fragment from foreign document %s leaked into results", f.DocumentID)
		}
	}
	if len(results) != 1 {
		t.Errorf("got %d results, want 1", len(results))
	}
}

func TestSearch_DocumentScope(t *testing.T) {
	s := newTestStore(t, [2]string{"alice", "doc-1"}, [2]string{"alice", "doc-2"})
	ctx := context.Background()

	vec := []float32{1, 0, 0}
	if err := s.InsertChunks(ctx, "doc-1", []storage.Chunk{makeChunk("alice", "doc-1", 0, vec)}); err != nil {
		t.Fatalf("InsertChunks doc-1: %v", err)
	}
	if err := s.InsertChunks(ctx, "doc-2", []storage.Chunk{makeChunk("alice", "doc-2", 0, vec)}); err != nil {
		t.Fatalf("InsertChunks doc-2: %v", err)
	}

	results, err := s.Search(ctx, Query{OwnerID: "alice", DocumentIDs: []string{"doc-2"}, Vector: vec, TopK: 10})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].DocumentID != "doc-2" {
		t.Errorf("expected only doc-2 fragments, got %+v", results)
	}
}

func TestSearch_SimilarityClampedToUnitInterval(t *testing.T) {
	s := newTestStore(t, [2]string{"alice", "doc-1"})
	ctx := context.Background()

	// Anti-correlated with the query vector: raw cosine is -1.
	if err := s.InsertChunks(ctx, "doc-1", []storage.Chunk{makeChunk("alice", "doc-1", 0, []float32{-1, 0, 0})}); err != nil {
		t.Fatalf("InsertChunks: %v", err)
	}

	results, err := s.Search(ctx, Query{OwnerID: "alice", Vector: []float32{1, 0, 0}, TopK: 1})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if results[0].Similarity != 0 {
		t.Errorf("similarity = %f, want 0 (clamped)", results[0].Similarity)
	}
}

func TestSearch_DimensionMismatch(t *testing.T) {
	s := newTestStore(t, [2]string{"alice", "doc-1"})
	ctx := context.Background()

	if err := s.InsertChunks(ctx, "doc-1", []storage.Chunk{makeChunk("alice", "doc-1", 0, []float32{1, 0, 0})}); err != nil {
		t.Fatalf("InsertChunks: %v", err)
	}

	_, err := s.Search(ctx, Query{OwnerID: "alice", Vector: []float32{1, 0, 0, 0}, TopK: 1})
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestSearch_TieBreakBySequenceIndex(t *testing.T) {
	s := newTestStore(t, [2]string{"alice", "doc-1"})
	ctx := context.Background()

	vec := []float32{0, 1, 0}
	// Identical embeddings, inserted out of order.
	chunks := []storage.Chunk{
		makeChunk("alice", "doc-1", 3, vec),
		makeChunk("alice", "doc-1", 1, vec),
		makeChunk("alice", "doc-1", 2, vec),
	}
	if err := s.InsertChunks(ctx, "doc-1", chunks); err != nil {
		t.Fatalf("InsertChunks: %v", err)
	}

	results, err := s.Search(ctx, Query{OwnerID: "alice", Vector: vec, TopK: 3})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	for i, wantSeq := range []int{1, 2, 3} {
		if results[i].SequenceIndex != wantSeq {
			t.Errorf("results[%d].SequenceIndex = %d, want %d", i, results[i].SequenceIndex, wantSeq)
		}
	}
}

func TestSearch_TopKLimitsEvictionDeterministically(t *testing.T) {
	s := newTestStore(t, [2]string{"alice", "doc-1"})
	ctx := context.Background()

	vec := []float32{0, 0, 1}
	var chunks []storage.Chunk
	for i := 0; i < 5; i++ {
		chunks = append(chunks, makeChunk("alice", "doc-1", i, vec))
	}
	if err := s.InsertChunks(ctx, "doc-1", chunks); err != nil {
		t.Fatalf("InsertChunks: %v", err)
	}

	results, err := s.Search(ctx, Query{OwnerID: "alice", Vector: vec, TopK: 2})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	// With equal scores the earliest fragments win.
	if results[0].SequenceIndex != 0 || results[1].SequenceIndex != 1 {
		t.Errorf("got sequence indexes %d, %d; want 0, 1", results[0].SequenceIndex, results[1].SequenceIndex)
	}
}

func TestSearch_EmptyScope(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	results, err := s.Search(ctx, Query{OwnerID: "alice", Vector: []float32{1, 0, 0}, TopK: 5})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("got %d results, want 0", len(results))
	}
}

func TestSearch_TopKZero(t *testing.T) {
	s := newTestStore(t)

	results, err := s.Search(context.Background(), Query{OwnerID: "alice", Vector: []float32{1, 0, 0}, TopK: 0})
	if err != nil {
		t.Fatalf("Search with topK=0: %v", err)
	}
	if results != nil {
		t.Errorf("expected nil results for topK=0, got %d", len(results))
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	in := []float32{0.25, -1.5, 3.75, 0}
	out, err := decodeFloat32sInto(nil, encodeFloat32s(in))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("got %d floats, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("out[%d] = %f, want %f", i, out[i], in[i])
		}
	}

	// The buffer is reused when it already has the right capacity.
	reused, err := decodeFloat32sInto(out, encodeFloat32s([]float32{9, 8, 7, 6}))
	if err != nil {
		t.Fatalf("decode into reused buffer: %v", err)
	}
	if &reused[0] != &out[0] {
		t.Error("expected decode to reuse the provided buffer")
	}

	if _, err := decodeFloat32sInto(nil, []byte{1, 2, 3}); err == nil {
		t.Error("expected error for truncated blob")
	}
}
