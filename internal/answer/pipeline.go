// Package answer orchestrates the ask flow: scope resolution, retrieval,
// sufficiency classification, and contract-bound generation.
package answer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/solvedoc/solvedoc/internal/grounding"
	"github.com/solvedoc/solvedoc/internal/ollama"
	"github.com/solvedoc/solvedoc/internal/retrieval"
	"github.com/solvedoc/solvedoc/internal/scope"
)

// fallbackAnswer is returned when generation fails in a mode that permits
// answering. The mode and evidence in the response stay truthful; only the
// prose is missing.
const fallbackAnswer = "An answer could not be generated right now. Please try again."

// Request is one question against an owner's corpus. DocumentID empty means
// open scope.
type Request struct {
	OwnerID    string
	DocumentID string
	Question   string
}

// Evidence is one fragment that informed the answer, surfaced so callers can
// verify grounding themselves.
type Evidence struct {
	ChunkID     string  `json:"chunk_id"`
	DocumentID  string  `json:"document_id"`
	SourceLabel string  `json:"source_label"`
	PageNumber  int     `json:"page_number"`
	Similarity  float32 `json:"similarity"`
	Text        string  `json:"text"`
}

// Response is the complete outcome of an ask.
type Response struct {
	Question      string          `json:"question"`
	Mode          grounding.Mode  `json:"mode"`
	PrimaryAnswer string          `json:"primary_answer"`
	Detail        string          `json:"detail,omitempty"`
	Evidence      []Evidence      `json:"evidence"`
	DurationMs    int64           `json:"duration_ms"`
}

// ScopeResolver resolves a question's retrieval scope.
type ScopeResolver interface {
	Resolve(ownerID, documentID string) (scope.Scope, error)
}

// Retriever returns base-filtered fragments for a question within a scope.
type Retriever interface {
	Retrieve(ctx context.Context, ownerID string, documentIDs []string, question string, baseThreshold float32, maxResults int) ([]retrieval.Fragment, error)
}

// ChatClient generates structured answers. *ollama.Client satisfies it.
type ChatClient interface {
	Chat(ctx context.Context, model string, messages []ollama.Message, schema *ollama.Schema) (string, error)
}

// Pipeline wires the ask flow end to end.
type Pipeline struct {
	resolver   ScopeResolver
	retriever  Retriever
	chat       ChatClient
	model      string
	thresholds grounding.Thresholds
}

// NewPipeline creates a Pipeline. Thresholds must already be validated.
func NewPipeline(resolver ScopeResolver, retriever Retriever, chat ChatClient, model string, thresholds grounding.Thresholds) *Pipeline {
	return &Pipeline{
		resolver:   resolver,
		retriever:  retriever,
		chat:       chat,
		model:      model,
		thresholds: thresholds,
	}
}

// Ask answers one question. Scope failures surface as
// scope.ErrDocumentNotFound; generation failures degrade to a generic answer
// while keeping the decided mode and evidence intact. An ungrounded refusal
// never involves the model at all.
func (p *Pipeline) Ask(ctx context.Context, req Request) (Response, error) {
	start := time.Now()

	question := strings.TrimSpace(req.Question)
	if question == "" {
		return Response{}, fmt.Errorf("question is required")
	}

	sc, err := p.resolver.Resolve(req.OwnerID, req.DocumentID)
	if err != nil {
		return Response{}, err
	}

	var fragments []retrieval.Fragment
	if ids := sc.DocumentIDs(); len(ids) > 0 {
		fragments, err = p.retriever.Retrieve(ctx, sc.OwnerID, ids, question, p.thresholds.Base, p.thresholds.MaxResults)
		if err != nil {
			return Response{}, fmt.Errorf("retrieving evidence: %w", err)
		}
	}

	decision := grounding.Classify(sc.Family, fragments, p.thresholds)
	contract := grounding.BuildContract(decision, question)

	resp := Response{
		Question: question,
		Mode:     decision.Mode,
		Evidence: toEvidence(decision.Fragments),
	}

	if contract.FixedAnswer != "" {
		// The refusal is the entire answer; generation would only risk
		// leaking knowledge the mode forbids.
		resp.PrimaryAnswer = contract.FixedAnswer
		resp.DurationMs = time.Since(start).Milliseconds()
		return resp, nil
	}

	raw, err := p.chat.Chat(ctx, p.model, buildMessages(contract), answerSchema)
	switch {
	case err != nil:
		slog.Warn("answer generation failed, degrading",
			"mode", decision.Mode,
			"error", err,
		)
		resp.PrimaryAnswer = fallbackAnswer
	default:
		g, perr := parseGenerated(raw)
		if perr == nil {
			resp.PrimaryAnswer = g.PrimaryAnswer
			resp.Detail = g.Detail
			break
		}
		// Schema-constrained output should always parse; salvage the raw
		// text rather than discarding a usable answer.
		slog.Warn("unparseable model output, using raw text", "error", perr)
		if trimmed := strings.TrimSpace(raw); trimmed != "" {
			resp.PrimaryAnswer = trimmed
		} else {
			resp.PrimaryAnswer = fallbackAnswer
		}
	}

	resp.DurationMs = time.Since(start).Milliseconds()

	slog.Debug("ask complete",
		"mode", resp.Mode,
		"evidence", len(resp.Evidence),
		"duration_ms", resp.DurationMs,
	)

	return resp, nil
}

func toEvidence(fragments []retrieval.Fragment) []Evidence {
	out := make([]Evidence, len(fragments))
	for i, f := range fragments {
		out[i] = Evidence{
			ChunkID:     f.ChunkID,
			DocumentID:  f.DocumentID,
			SourceLabel: f.SourceLabel,
			PageNumber:  f.PageNumber,
			Similarity:  f.Similarity,
			Text:        f.Text,
		}
	}
	return out
}
