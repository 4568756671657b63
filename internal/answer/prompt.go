package answer

import (
	"encoding/json"
	"fmt"

	"github.com/solvedoc/solvedoc/internal/grounding"
	"github.com/solvedoc/solvedoc/internal/ollama"
)

// answerSchema constrains generation to a two-part structured answer so the
// API can always separate the direct answer from its elaboration.
var answerSchema = &ollama.Schema{
	Type: "object",
	Properties: map[string]ollama.SchemaProperty{
		"primary_answer": {
			Type:        "string",
			Description: "The direct answer to the question, one or two sentences.",
		},
		"detail": {
			Type:        "string",
			Description: "Supporting explanation expanding on the primary answer.",
		},
	},
	Required: []string{"primary_answer", "detail"},
}

type generatedAnswer struct {
	PrimaryAnswer string `json:"primary_answer"`
	Detail        string `json:"detail"`
}

// buildMessages turns a generation contract into the chat turn sequence.
func buildMessages(c grounding.GenerationContract) []ollama.Message {
	return []ollama.Message{
		{Role: "system", Content: c.SystemPrompt},
		{Role: "user", Content: c.Question},
	}
}

func parseGenerated(raw string) (generatedAnswer, error) {
	var g generatedAnswer
	if err := json.Unmarshal([]byte(raw), &g); err != nil {
		return generatedAnswer{}, fmt.Errorf("parsing structured answer: %w", err)
	}
	if g.PrimaryAnswer == "" {
		return generatedAnswer{}, fmt.Errorf("structured answer missing primary_answer")
	}
	return g, nil
}
