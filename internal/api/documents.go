package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/solvedoc/solvedoc/internal/answer"
	"github.com/solvedoc/solvedoc/internal/ingest"
	"github.com/solvedoc/solvedoc/internal/storage"
)

// AskPipeline abstracts the ask flow for the API layer.
type AskPipeline interface {
	Ask(ctx context.Context, req answer.Request) (answer.Response, error)
}

type AppDeps struct {
	Store          *storage.Store
	Pipeline       AskPipeline
	Token          string
	UploadDir      string
	MaxUploadBytes int
}

// NewAppHandler assembles the HTTP API. Health stays outside auth so load
// balancers can probe without credentials.
func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/documents", handleUploadDocument(deps))
		r.Get("/documents", handleListDocuments(deps))
		r.Get("/documents/{id}", handleGetDocument(deps))
		r.Delete("/documents/{id}", handleDeleteDocument(deps))
		r.Post("/ask", handleAsk(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// UploadRequest is the POST /documents body. Content carries the PDF bytes
// base64-encoded.
type UploadRequest struct {
	Filename string `json:"filename"`
	Title    string `json:"title"`
	Content  string `json:"content"`
}

// DocumentResponse is the API shape of a document.
type DocumentResponse struct {
	ID         string `json:"id"`
	Filename   string `json:"filename"`
	Title      string `json:"title,omitempty"`
	State      string `json:"state"`
	ChunkCount int    `json:"chunk_count"`
	PageCount  int    `json:"page_count"`
	Error      string `json:"error,omitempty"`
	CreatedAt  string `json:"created_at"`
}

func toDocumentResponse(d storage.Document) DocumentResponse {
	return DocumentResponse{
		ID:         d.ID,
		Filename:   d.Filename,
		Title:      d.Title,
		State:      d.State,
		ChunkCount: d.ChunkCount,
		PageCount:  d.PageCount,
		Error:      d.Error,
		CreatedAt:  d.CreatedAt.Format(time.RFC3339),
	}
}

func handleUploadDocument(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner := ownerID(r)
		if owner == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%s header is required", ownerHeader)
			return
		}

		// Base64 inflates by ~4/3; bound the body accordingly.
		r.Body = http.MaxBytesReader(w, r.Body, int64(deps.MaxUploadBytes)*4/3+4096)
		defer r.Body.Close()

		var req UploadRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		if req.Filename == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "filename is required")
			return
		}
		if !strings.HasSuffix(strings.ToLower(req.Filename), ".pdf") {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "only PDF files are supported")
			return
		}
		if req.Content == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "content is required")
			return
		}

		raw, err := base64.StdEncoding.DecodeString(req.Content)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "content is not valid base64")
			return
		}
		if len(raw) > deps.MaxUploadBytes {
			httpError(w, http.StatusRequestEntityTooLarge, "invalid_request_error", "file exceeds %d bytes", deps.MaxUploadBytes)
			return
		}

		docID := uuid.New().String()
		path := filepath.Join(deps.UploadDir, docID+".pdf")
		if err := os.MkdirAll(deps.UploadDir, 0o755); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to store upload: %v", err)
			return
		}
		if err := os.WriteFile(path, raw, 0o600); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to store upload: %v", err)
			return
		}

		doc := storage.Document{
			ID:       docID,
			OwnerID:  owner,
			Filename: req.Filename,
			Title:    req.Title,
			State:    storage.StatePending,
		}
		if err := deps.Store.CreateDocument(doc); err != nil {
			os.Remove(path)
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save document: %v", err)
			return
		}

		payload, err := json.Marshal(ingest.ProcessPayload{DocumentID: docID, Path: path})
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to create job payload: %v", err)
			return
		}
		job := storage.Job{
			ID:          uuid.New().String(),
			Type:        ingest.JobTypeProcessDocument,
			PayloadJSON: string(payload),
		}
		if err := deps.Store.EnqueueJob(job); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to enqueue processing: %v", err)
			return
		}

		writeJSON(w, http.StatusAccepted, map[string]string{
			"id":    docID,
			"state": storage.StatePending,
		})
	}
}

func handleListDocuments(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner := ownerID(r)
		if owner == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%s header is required", ownerHeader)
			return
		}

		limit := parseIntParam(r, "limit", 20, 100)
		offset := parseIntParam(r, "offset", 0, 0)

		docs, err := deps.Store.ListDocuments(owner, limit, offset)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list documents: %v", err)
			return
		}

		out := make([]DocumentResponse, len(docs))
		for i, d := range docs {
			out[i] = toDocumentResponse(d)
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleGetDocument(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner := ownerID(r)
		if owner == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%s header is required", ownerHeader)
			return
		}

		id := chi.URLParam(r, "id")
		doc, err := deps.Store.GetDocument(owner, id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "document not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get document: %v", err)
			return
		}

		writeJSON(w, http.StatusOK, toDocumentResponse(doc))
	}
}

func handleDeleteDocument(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner := ownerID(r)
		if owner == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%s header is required", ownerHeader)
			return
		}

		id := chi.URLParam(r, "id")
		err := deps.Store.DeleteDocument(owner, id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "document not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to delete document: %v", err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
