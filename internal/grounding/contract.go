package grounding

import (
	"fmt"
	"strings"

	"github.com/solvedoc/solvedoc/internal/retrieval"
)

// refusalTemplate is the exact ungrounded answer. It is produced here, never
// by the model, so refusals stay deterministic and cannot leak prior
// knowledge.
const refusalTemplate = "The selected document does not contain information about %s."

const groundedSystemPrompt = `You answer questions using ONLY the document excerpts provided below.
Rules:
- Base every statement on the excerpts. Do not use outside knowledge.
- If the excerpts only partially cover the question, answer the covered part and say what the excerpts do not address.
- Cite page numbers from the excerpts when they support a statement.`

const openSystemPrompt = `You are a helpful assistant. Answer the question using your general knowledge.
Document excerpts may be provided below; treat them as additional context, not as a limit on what you may say.`

// GenerationContract is everything the answer pipeline needs to produce a
// response in the decided mode. For ModeDocumentUngrounded, FixedAnswer is
// the complete response and no generation happens at all.
// AllowOutsideKnowledge is false in both document-scoped modes: the model
// may only draw on the excerpts, or not respond at all.
type GenerationContract struct {
	Mode                  Mode
	Question              string
	SystemPrompt          string
	Fragments             []retrieval.Fragment
	FixedAnswer           string
	AllowOutsideKnowledge bool
}

// RefusalAnswer renders the ungrounded refusal for a question.
func RefusalAnswer(question string) string {
	return fmt.Sprintf(refusalTemplate, strings.TrimSpace(question))
}

// BuildContract turns a classification decision into a generation contract.
func BuildContract(d Decision, question string) GenerationContract {
	c := GenerationContract{
		Mode:      d.Mode,
		Question:  question,
		Fragments: d.Fragments,
	}

	switch d.Mode {
	case ModeDocumentUngrounded:
		c.FixedAnswer = RefusalAnswer(question)
	case ModeDocumentGrounded:
		c.SystemPrompt = groundedSystemPrompt + formatExcerpts(d.Fragments)
	default:
		c.SystemPrompt = openSystemPrompt + formatExcerpts(d.Fragments)
		c.AllowOutsideKnowledge = true
	}

	return c
}

// formatExcerpts renders fragments as a numbered excerpt block, preserving
// the retriever's best-first order. Each header names the source document
// so citations can point at it.
func formatExcerpts(fragments []retrieval.Fragment) string {
	if len(fragments) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("\n\nDocument excerpts:\n")
	for i, f := range fragments {
		label := f.SourceLabel
		if label == "" {
			label = f.DocumentID
		}
		fmt.Fprintf(&sb, "\n[Excerpt %d: %s, page %d]\n%s\n", i+1, label, f.PageNumber, f.Text)
	}
	return sb.String()
}
