// Package grounding decides whether retrieved evidence is sufficient to
// answer from a document, and builds the generation contract that enforces
// that decision downstream.
package grounding

import (
	"fmt"

	"github.com/solvedoc/solvedoc/internal/retrieval"
	"github.com/solvedoc/solvedoc/internal/scope"
)

// Mode is the answering posture for a question.
type Mode string

const (
	// ModeDocumentGrounded answers strictly from the retrieved fragments.
	ModeDocumentGrounded Mode = "document_grounded"
	// ModeDocumentUngrounded refuses: the document lacks sufficient
	// evidence and the model must not fill the gap from prior knowledge.
	ModeDocumentUngrounded Mode = "document_ungrounded"
	// ModeOpen answers with general knowledge, using any fragments as
	// supporting context rather than a hard boundary.
	ModeOpen Mode = "open"
)

// Thresholds holds the two-tier relevance cutoffs. Base is applied by the
// retriever: fragments at or below it are never surfaced at all. Strict is
// applied here: a document-scoped answer may only be grounded when at least
// one fragment reaches it.
type Thresholds struct {
	Base       float32
	Strict     float32
	MaxResults int
}

// DefaultThresholds returns the stock cutoffs. Strict sits well above Base so
// that marginally related fragments can inform open answers without ever
// licensing a document-grounded one.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Base:       0.25,
		Strict:     0.40,
		MaxResults: 5,
	}
}

// Validate rejects threshold configurations that would break the two-tier
// contract: Base must stay strictly below Strict, both within [0, 1].
func (t Thresholds) Validate() error {
	if t.Base < 0 || t.Base > 1 {
		return fmt.Errorf("base threshold %g outside [0, 1]", t.Base)
	}
	if t.Strict < 0 || t.Strict > 1 {
		return fmt.Errorf("strict threshold %g outside [0, 1]", t.Strict)
	}
	if t.Base >= t.Strict {
		return fmt.Errorf("base threshold %g must be below strict threshold %g", t.Base, t.Strict)
	}
	if t.MaxResults <= 0 {
		return fmt.Errorf("max results must be positive, got %d", t.MaxResults)
	}
	return nil
}

// Decision is the outcome of sufficiency classification. Fragments holds the
// evidence the generator may see: the strict-filtered subset when grounded,
// everything retrieved when open, nothing when ungrounded.
type Decision struct {
	Mode      Mode
	Fragments []retrieval.Fragment
}

// Classify maps a scope family and its retrieved fragments to an answering
// mode. Retrieval has already applied the base cutoff; only the strict tier
// is judged here.
func Classify(family scope.Family, fragments []retrieval.Fragment, t Thresholds) Decision {
	if family != scope.FamilyDocument {
		return Decision{Mode: ModeOpen, Fragments: fragments}
	}

	strong := fragments[:0:0]
	for _, f := range fragments {
		if f.Similarity >= t.Strict {
			strong = append(strong, f)
		}
	}

	if len(strong) == 0 {
		// Dropping the weak fragments entirely keeps them out of the
		// prompt: evidence below the strict tier must not tempt the
		// generator into a half-grounded answer.
		return Decision{Mode: ModeDocumentUngrounded}
	}

	return Decision{Mode: ModeDocumentGrounded, Fragments: strong}
}
