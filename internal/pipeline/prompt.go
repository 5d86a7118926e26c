package pipeline

import (
	"fmt"
	"strings"
)

// ExtractionPrompt asks the model for one JSON array per chunk matching the
// candidate-record wire schema.
const ExtractionPrompt = `Extract every exam question from the following document pages. Return a JSON array. Each question object must have these fields:

- "id": short unique string within this response
- "type": one of "single_choice", "multi_choice", "boolean", "numeric", "free_text"
- "question": the full question text, preserving mathematical notation
- "options": list of {"label", "text", "has_image"} objects; at least 2 for choice types, empty list for numeric and free_text
- "correct_answers": list of option labels for choice types; for numeric, the value or a "min to max" range; empty if the paper does not state the answer
- "marks": positive number (default 1 if unstated)
- "negative_marks": number, 0 if none
- "has_image": true if the question refers to a figure, diagram or illustration printed with it
- "source_page": the page number from the "=== Page N ===" markers where the question starts

Rules:
- Extract questions exactly as printed; do not invent, merge or renumber them
- Keep option labels as printed (A, B, C... or 1, 2, 3...)
- Escape backslashes in mathematical notation properly for JSON
- Return an empty array [] if the pages contain no questions

Respond with ONLY the JSON array, no other text.`

// BuildExtractionPrompt creates the full prompt for one chunk, including
// the answer-key text when one was supplied.
func BuildExtractionPrompt(payload string, startPage, endPage int, answerKey string) string {
	var sb strings.Builder
	sb.WriteString(ExtractionPrompt)
	if answerKey != "" {
		sb.WriteString("\n\nAn official answer key is provided below; use it to fill \"correct_answers\" for questions on these pages:\n---\n")
		sb.WriteString(answerKey)
		sb.WriteString("\n---")
	}
	sb.WriteString(fmt.Sprintf("\n\n--- Document pages %d to %d ---\n", startPage, endPage))
	sb.WriteString(payload)
	return sb.String()
}
