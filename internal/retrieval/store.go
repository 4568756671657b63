package retrieval

import (
	"container/heap"
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/solvedoc/solvedoc/internal/storage"
)

// Compile-time check that SQLiteStore implements VectorStore.
var _ VectorStore = (*SQLiteStore)(nil)

// SQLiteStore provides chunk vector storage and brute-force cosine similarity
// search backed by SQLite. It shares the *sql.DB managed by the storage
// package; the chunks table is created by its migrations.
//
// Brute force is fine at this scale: a scoped scan touches only one owner's
// rows, typically one document's. Revisit with an ANN index if corpora grow
// past ~100K chunks per owner.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps an existing *sql.DB for vector operations.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// InsertChunks stores all chunks of a document in one transaction. The parent
// document's owner is read inside the transaction and every chunk's OwnerID
// must match it; a mismatch aborts the whole batch.
func (s *SQLiteStore) InsertChunks(ctx context.Context, documentID string, chunks []storage.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning insert transaction: %w", err)
	}
	defer tx.Rollback()

	var ownerID string
	err = tx.QueryRowContext(ctx, `SELECT owner_id FROM documents WHERE id = ?`, documentID).Scan(&ownerID)
	if err == sql.ErrNoRows {
		return storage.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("looking up document %s: %w", documentID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (id, document_id, owner_id, text, embedding, page_number, sequence_index)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert statement: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		if c.OwnerID != ownerID {
			return fmt.Errorf("chunk %s owner %q does not match document owner %q", c.ID, c.OwnerID, ownerID)
		}
		if c.DocumentID != documentID {
			return fmt.Errorf("chunk %s references document %q, expected %q", c.ID, c.DocumentID, documentID)
		}
		blob := encodeFloat32s(c.Embedding)
		if _, err := stmt.ExecContext(ctx, c.ID, c.DocumentID, c.OwnerID, c.Text, blob, c.PageNumber, c.SequenceIndex); err != nil {
			return fmt.Errorf("inserting chunk %s: %w", c.ID, err)
		}
	}

	return tx.Commit()
}

// idScore holds only the ID and score during the scan phase of Search.
// Full rows are fetched only for top-K winners.
type idScore struct {
	ID            string
	Score         float32
	SequenceIndex int
	PageNumber    int
}

// worse reports whether a ranks below b: lower similarity first, and on equal
// similarity the later fragment (higher sequence index, then page number).
// Used both for heap eviction and final ordering so ties resolve the same way
// everywhere.
func worse(a, b idScore) bool {
	if a.Score != b.Score {
		return a.Score < b.Score
	}
	if a.SequenceIndex != b.SequenceIndex {
		return a.SequenceIndex > b.SequenceIndex
	}
	return a.PageNumber > b.PageNumber
}

// Search performs a brute-force cosine scan over the scoped chunk set,
// returning the top-K fragments. Similarities are clamped to [0, 1].
func (s *SQLiteStore) Search(ctx context.Context, q Query) ([]Fragment, error) {
	if q.OwnerID == "" {
		return nil, fmt.Errorf("search requires an owner id")
	}
	if q.TopK <= 0 {
		return nil, nil
	}

	queryNorm := norm(q.Vector)
	if queryNorm == 0 {
		return nil, nil
	}

	// Phase 1: scan id + embedding + ordering keys within the scope. The
	// completed-state predicate lives here, not in the caller: chunks of a
	// document still being processed must never surface, no matter how the
	// scope was given.
	scanQuery := `SELECT c.id, c.embedding, c.sequence_index, c.page_number
		FROM chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE c.owner_id = ? AND d.state = ?`
	args := []interface{}{q.OwnerID, storage.StateCompleted}
	if len(q.DocumentIDs) > 0 {
		scanQuery += ` AND c.document_id IN (?` + strings.Repeat(",?", len(q.DocumentIDs)-1) + `)`
		for _, id := range q.DocumentIDs {
			args = append(args, id)
		}
	}

	rows, err := s.db.QueryContext(ctx, scanQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("querying chunk vectors: %w", err)
	}
	defer rows.Close()

	h := &idScoreHeap{}
	heap.Init(h)

	// Reusable buffer to avoid per-row allocations.
	var buf []float32

	for rows.Next() {
		var cand idScore
		var blob []byte
		if err := rows.Scan(&cand.ID, &blob, &cand.SequenceIndex, &cand.PageNumber); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}

		buf, err = decodeFloat32sInto(buf, blob)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding for %s: %w", cand.ID, err)
		}
		if len(buf) != len(q.Vector) {
			return nil, fmt.Errorf("chunk %s has dimension %d, query has %d: %w",
				cand.ID, len(buf), len(q.Vector), ErrDimensionMismatch)
		}

		cand.Score = clamp01(cosine(q.Vector, buf, queryNorm))
		if h.Len() < q.TopK {
			heap.Push(h, cand)
		} else if worse((*h)[0], cand) {
			(*h)[0] = cand
			heap.Fix(h, 0)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}

	if h.Len() == 0 {
		return nil, nil
	}

	// Phase 2: fetch full rows only for the winners.
	winners := make(map[string]float32, h.Len())
	topIDs := make([]string, 0, h.Len())
	for h.Len() > 0 {
		item := heap.Pop(h).(idScore)
		winners[item.ID] = item.Score
		topIDs = append(topIDs, item.ID)
	}

	fetchArgs := make([]interface{}, len(topIDs))
	for i, id := range topIDs {
		fetchArgs[i] = id
	}
	fetchQuery := `SELECT c.id, c.document_id, COALESCE(NULLIF(d.title, ''), d.filename),
			c.text, c.page_number, c.sequence_index
		FROM chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE c.id IN (?` + strings.Repeat(",?", len(topIDs)-1) + `)`

	fullRows, err := s.db.QueryContext(ctx, fetchQuery, fetchArgs...)
	if err != nil {
		return nil, fmt.Errorf("fetching top-K chunks: %w", err)
	}
	defer fullRows.Close()

	var results []Fragment
	for fullRows.Next() {
		var f Fragment
		if err := fullRows.Scan(&f.ChunkID, &f.DocumentID, &f.SourceLabel, &f.Text, &f.PageNumber, &f.SequenceIndex); err != nil {
			return nil, fmt.Errorf("scanning chunk: %w", err)
		}
		f.Similarity = winners[f.ChunkID]
		results = append(results, f)
	}
	if err := fullRows.Err(); err != nil {
		return nil, fmt.Errorf("iterating chunks: %w", err)
	}

	// The IN query doesn't preserve order; re-rank.
	sortFragments(results)

	return results, nil
}

// sortFragments orders fragments best-first using the same comparison as the
// scan-phase heap. Insertion sort is fine for top-K sized slices.
func sortFragments(results []Fragment) {
	for i := 1; i < len(results); i++ {
		for j := i; j > 0 && worse(asIDScore(results[j-1]), asIDScore(results[j])); j-- {
			results[j], results[j-1] = results[j-1], results[j]
		}
	}
}

func asIDScore(f Fragment) idScore {
	return idScore{ID: f.ChunkID, Score: f.Similarity, SequenceIndex: f.SequenceIndex, PageNumber: f.PageNumber}
}

// CountByOwner returns the number of chunks stored for an owner.
func (s *SQLiteStore) CountByOwner(ctx context.Context, ownerID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks WHERE owner_id = ?`, ownerID).Scan(&count)
	return count, err
}

// encodeFloat32s serializes a float32 slice to little-endian bytes.
func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32sInto decodes little-endian bytes into the provided buffer,
// reusing it to avoid per-row allocations during search scans. Pass nil to
// allocate a fresh slice.
func decodeFloat32sInto(buf []float32, b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	if cap(buf) < n {
		buf = make([]float32, n)
	} else {
		buf = buf[:n]
	}
	for i := range buf {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return buf, nil
}

// norm returns the L2 norm of a vector.
func norm(v []float32) float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return float32(math.Sqrt(sum))
}

// cosine computes cosine similarity as dot(a,b) / (aNorm * bNorm).
// aNorm is the precomputed L2 norm of vector a. Lengths must already match.
func cosine(a, b []float32, aNorm float32) float32 {
	var dot float64
	var bNormSq float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		bNormSq += float64(b[i]) * float64(b[i])
	}
	bNorm := math.Sqrt(bNormSq)
	if bNorm == 0 {
		return 0
	}
	return float32(dot / (float64(aNorm) * bNorm))
}

// clamp01 clips a similarity into [0, 1]. Anti-correlated vectors count as
// fully dissimilar.
func clamp01(f float32) float32 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// idScoreHeap is a min-heap of idScore keeping the worst candidate at the root
// so it can be evicted during the scan phase.
type idScoreHeap []idScore

func (h idScoreHeap) Len() int            { return len(h) }
func (h idScoreHeap) Less(i, j int) bool  { return worse(h[i], h[j]) }
func (h idScoreHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *idScoreHeap) Push(x interface{}) { *h = append(*h, x.(idScore)) }
func (h *idScoreHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
