package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/solvedoc/solvedoc/internal/answer"
	"github.com/solvedoc/solvedoc/internal/retrieval"
	"github.com/solvedoc/solvedoc/internal/scope"
)

const maxAskBodySize = 1 << 20 // 1MB

// AskRequest is the POST /ask body. An empty document_id asks across the
// owner's whole corpus.
type AskRequest struct {
	Question   string `json:"question"`
	DocumentID string `json:"document_id"`
}

func handleAsk(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner := ownerID(r)
		if owner == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%s header is required", ownerHeader)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxAskBodySize)
		defer r.Body.Close()

		var req AskRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Question == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "question is required")
			return
		}

		resp, err := deps.Pipeline.Ask(r.Context(), answer.Request{
			OwnerID:    owner,
			DocumentID: req.DocumentID,
			Question:   req.Question,
		})
		if errors.Is(err, scope.ErrDocumentNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "document not found")
			return
		}
		if errors.Is(err, retrieval.ErrDimensionMismatch) {
			httpError(w, http.StatusInternalServerError, "config_error",
				"embedding model does not match the indexed documents; re-ingest or restore the original embed model")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to answer: %v", err)
			return
		}

		writeJSON(w, http.StatusOK, resp)
	}
}
