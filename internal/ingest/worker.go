package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/solvedoc/solvedoc/internal/storage"
)

// JobTypeProcessDocument is the queue job type for PDF ingestion.
const JobTypeProcessDocument = "process_document"

// Store abstracts the queue and document state operations the worker needs.
// *storage.Store satisfies it.
type Store interface {
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
	GetDocumentAny(id string) (storage.Document, error)
	UpdateDocumentState(id, state string, chunkCount, pageCount int, errMsg string) error
}

// ContentEmbedder generates embeddings for chunk texts.
type ContentEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorInserter stores chunk vectors.
type VectorInserter interface {
	InsertChunks(ctx context.Context, documentID string, chunks []storage.Chunk) error
}

// PageExtractor turns a PDF file into per-page text.
type PageExtractor interface {
	ExtractPages(path string) ([]Page, error)
}

// ProcessPayload is the JSON payload of a process_document job.
type ProcessPayload struct {
	DocumentID string `json:"document_id"`
	Path       string `json:"path"`
}

// Worker processes process_document jobs: extract, chunk, embed, store.
type Worker struct {
	store     Store
	extractor PageExtractor
	chunker   *Chunker
	embedder  ContentEmbedder
	vectors   VectorInserter
	poll      time.Duration
	logger    *slog.Logger
}

// NewWorker creates a Worker. If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store Store, extractor PageExtractor, chunker *Chunker, embedder ContentEmbedder, vectors VectorInserter, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:     store,
		extractor: extractor,
		chunker:   chunker,
		embedder:  embedder,
		vectors:   vectors,
		poll:      pollInterval,
		logger:    slog.Default(),
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single job. Returns true if a job was
// processed, regardless of success.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob([]string{JobTypeProcessDocument})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		w.logger.Warn("document processing failed", "job_id", job.ID, "error", err)
		if job.Attempts+1 >= job.MaxAttempts {
			// Out of retries; the document is terminally failed.
			w.markFailed(job, err)
		}
		if failErr := w.store.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

func (w *Worker) markFailed(job *storage.Job, cause error) {
	var payload ProcessPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil || payload.DocumentID == "" {
		return
	}
	if err := w.store.UpdateDocumentState(payload.DocumentID, storage.StateFailed, 0, 0, cause.Error()); err != nil {
		w.logger.Error("failed to mark document as failed", "document_id", payload.DocumentID, "error", err)
	}
	os.Remove(payload.Path)
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	var payload ProcessPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}

	doc, err := w.store.GetDocumentAny(payload.DocumentID)
	if err != nil {
		return fmt.Errorf("loading document %s: %w", payload.DocumentID, err)
	}

	if err := w.store.UpdateDocumentState(doc.ID, storage.StateProcessing, 0, 0, ""); err != nil {
		return fmt.Errorf("marking document processing: %w", err)
	}

	pages, err := w.extractor.ExtractPages(payload.Path)
	if err != nil {
		return fmt.Errorf("extracting text: %w", err)
	}

	pageChunks := w.chunker.ChunkPages(pages)
	if len(pageChunks) == 0 {
		return fmt.Errorf("chunking produced no chunks for %d pages", len(pages))
	}

	texts := make([]string, len(pageChunks))
	for i, pc := range pageChunks {
		texts[i] = pc.Text
	}
	vectors, err := w.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embedding chunks: %w", err)
	}

	chunks := make([]storage.Chunk, len(pageChunks))
	for i, pc := range pageChunks {
		chunks[i] = storage.Chunk{
			ID:            uuid.New().String(),
			DocumentID:    doc.ID,
			OwnerID:       doc.OwnerID,
			Text:          pc.Text,
			Embedding:     vectors[i],
			PageNumber:    pc.PageNumber,
			SequenceIndex: pc.SequenceIndex,
		}
	}

	if err := w.vectors.InsertChunks(ctx, doc.ID, chunks); err != nil {
		return fmt.Errorf("storing chunks: %w", err)
	}

	if err := w.store.UpdateDocumentState(doc.ID, storage.StateCompleted, len(chunks), len(pages), ""); err != nil {
		return fmt.Errorf("marking document completed: %w", err)
	}

	// The upload is no longer needed once chunks are stored.
	if err := os.Remove(payload.Path); err != nil {
		w.logger.Warn("could not remove processed upload", "path", payload.Path, "error", err)
	}

	w.logger.Info("document processed",
		"document_id", doc.ID,
		"pages", len(pages),
		"chunks", len(chunks),
	)

	return nil
}
