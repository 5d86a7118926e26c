package answerkey

import "strings"

func extractText(data []byte) string {
	// Normalize line endings; otherwise pass plain text through as is.
	s := strings.ReplaceAll(string(data), "\r\n", "\n")
	return strings.TrimSpace(s)
}
