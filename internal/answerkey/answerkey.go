// Package answerkey extracts plain text from an optional answer-key
// attachment so the extraction prompt can carry the official answers
// alongside the question paper.
package answerkey

import (
	"fmt"
	"path/filepath"
	"strings"
)

// SupportedExtensions lists answer-key formats this service can read.
var SupportedExtensions = map[string]bool{
	".txt":  true,
	".md":   true,
	".html": true,
	".htm":  true,
	".pdf":  true,
	".docx": true,
}

// IsSupportedExtension checks if a filename can be parsed as an answer key.
func IsSupportedExtension(filename string) bool {
	return SupportedExtensions[strings.ToLower(filepath.Ext(filename))]
}

// Extract converts answer-key bytes to plain text based on the filename
// extension.
func Extract(data []byte, filename string) (string, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".txt":
		return extractText(data), nil
	case ".md", ".markdown":
		return extractMarkdown(data)
	case ".html", ".htm":
		return extractHTML(data)
	case ".pdf":
		return extractPDF(data)
	case ".docx":
		return extractDOCX(data)
	default:
		return "", fmt.Errorf("unsupported answer key type: %s", filepath.Ext(filename))
	}
}
