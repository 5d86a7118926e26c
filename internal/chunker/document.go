package chunker

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/gen2brain/go-fitz"
	pdflib "github.com/ledongthuc/pdf"
)

// ErrInvalidDocument means the upload yielded zero extractable pages.
var ErrInvalidDocument = errors.New("document has no extractable pages")

// Document is a pipeline-run-scoped view of an uploaded PDF: the opaque
// bytes, the page count, and the per-page text layer. Nothing here is
// persisted.
type Document struct {
	Data      []byte
	PageCount int

	// pageText[i] is the text of page i+1. May be empty for scanned pages.
	pageText []string
}

// PageText returns the text layer of a 1-indexed page.
func (d *Document) PageText(page int) string {
	if page < 1 || page > len(d.pageText) {
		return ""
	}
	return d.pageText[page-1]
}

// Open reads a PDF from memory, counts its pages and extracts the per-page
// text layer. Returns ErrInvalidDocument for empty or unreadable uploads.
func Open(data []byte) (*Document, error) {
	if len(data) == 0 {
		return nil, ErrInvalidDocument
	}

	fdoc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w: %w", ErrInvalidDocument, err)
	}
	pageCount := fdoc.NumPage()
	fdoc.Close()
	if pageCount == 0 {
		return nil, ErrInvalidDocument
	}

	pageText, err := extractPageText(data, pageCount)
	if err != nil {
		return nil, fmt.Errorf("extract text layer: %w", err)
	}

	return &Document{
		Data:      data,
		PageCount: pageCount,
		pageText:  pageText,
	}, nil
}

// extractPageText pulls the text layer page by page. A page that fails to
// extract becomes an empty string; scanned pages legitimately have none.
func extractPageText(data []byte, pageCount int) ([]string, error) {
	// ledongthuc/pdf requires a ReadSeeker+size, so write to a temp file.
	tmp, err := os.CreateTemp("", "examforge-pdf-*.pdf")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("write temp file: %w", err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("seek temp file: %w", err)
	}
	tmp.Close()

	pages := make([]string, pageCount)

	f, reader, err := pdflib.Open(tmpPath)
	if err != nil {
		// No text layer at all; the pages still exist for rasterization.
		return pages, nil
	}
	defer f.Close()

	n := reader.NumPage()
	if n > pageCount {
		n = pageCount
	}
	for i := 1; i <= n; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		pages[i-1] = strings.TrimSpace(text)
	}
	return pages, nil
}
