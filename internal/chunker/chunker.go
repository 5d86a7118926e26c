// Package chunker splits a multi-page document into contiguous,
// non-overlapping page-range segments that can be extracted independently.
package chunker

import (
	"fmt"
	"strings"
)

// DefaultPagesPerChunk is the segment size used when the caller passes no
// override.
const DefaultPagesPerChunk = 5

// Chunk is one page-range slice of a source document. Pages are 1-indexed
// and inclusive. Downstream page arithmetic is chunk-local:
// absolute = StartPage - 1 + localOffset.
type Chunk struct {
	Index     int
	StartPage int
	EndPage   int
	Payload   string
}

// Pages returns the number of pages the chunk covers.
func (c Chunk) Pages() int {
	return c.EndPage - c.StartPage + 1
}

// AbsolutePage converts a 1-indexed chunk-local page to a document page.
func (c Chunk) AbsolutePage(local int) int {
	return c.StartPage - 1 + local
}

// Split cuts the document into ceil(pages/pagesPerChunk) chunks; the last
// chunk may be shorter. Each payload carries exactly its page range with
// explicit page markers so it is independently parseable and page-local
// addressing holds.
func Split(doc *Document, pagesPerChunk int) ([]Chunk, error) {
	if doc == nil || doc.PageCount == 0 {
		return nil, ErrInvalidDocument
	}
	if pagesPerChunk <= 0 {
		pagesPerChunk = DefaultPagesPerChunk
	}

	hasText := false
	for p := 1; p <= doc.PageCount; p++ {
		if doc.PageText(p) != "" {
			hasText = true
			break
		}
	}
	if !hasText {
		return nil, fmt.Errorf("%w: no text layer on any page; scanned documents without embedded text are not supported, run OCR first", ErrInvalidDocument)
	}

	var chunks []Chunk
	for start := 1; start <= doc.PageCount; start += pagesPerChunk {
		end := start + pagesPerChunk - 1
		if end > doc.PageCount {
			end = doc.PageCount
		}
		chunks = append(chunks, Chunk{
			Index:     len(chunks),
			StartPage: start,
			EndPage:   end,
			Payload:   buildPayload(doc, start, end),
		})
	}
	return chunks, nil
}

func buildPayload(doc *Document, start, end int) string {
	var sb strings.Builder
	for p := start; p <= end; p++ {
		if p > start {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "=== Page %d ===\n", p)
		sb.WriteString(doc.PageText(p))
	}
	return sb.String()
}
