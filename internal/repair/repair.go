// Package repair turns free-text model output into valid JSON. Models asked
// for JSON routinely wrap it in prose or code fences and emit raw math
// notation ("\frac{1}{2}") without escaping the backslashes, so a direct
// parse is only the first rung of a ladder of recovery strategies.
package repair

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// CorruptError reports a payload no recovery strategy could parse. It keeps
// the byte offset and surrounding context so the failure is reproducible.
type CorruptError struct {
	Offset  int64
	Context string
	Err     error
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("model payload corrupt at byte %d (near %q): %v", e.Offset, e.Context, e.Err)
}

func (e *CorruptError) Unwrap() error { return e.Err }

// Document runs the recovery ladder over raw model output and returns a
// syntactically valid JSON document. Stage order matters: the aggressive
// stages corrupt already-valid escapes if run first.
//
//  1. strip wrappers, slice to the outermost bracket pair, direct parse
//  2. re-escape only backslashes that do not start a valid escape
//  3. escape every backslash, then restore the ones that were valid escapes
//  4. point-fixes for high-frequency notation tokens
//
// Already-valid payloads pass stage 1 untouched, so Document is idempotent
// on them.
func Document(raw string) ([]byte, error) {
	sliced, ok := slice(stripFences(raw))
	if !ok {
		return nil, &CorruptError{
			Context: truncate(strings.TrimSpace(raw), 80),
			Err:     fmt.Errorf("no JSON array or object found"),
		}
	}

	strategies := []func(string) string{
		func(s string) string { return s },
		reEscapeUnknown,
		escapeAllThenRestore,
		pointFixes,
	}
	for _, strategy := range strategies {
		candidate := strategy(sliced)
		if json.Valid([]byte(candidate)) {
			return []byte(candidate), nil
		}
	}

	return nil, corruptError(sliced)
}

// Records parses raw output as a JSON array of candidate records. The array
// elements stay raw; decoding into the record type is the caller's shape
// validation. A non-array document is a terminal shape mismatch, never
// retried through the ladder.
func Records(raw string) ([]json.RawMessage, error) {
	doc, err := Document(raw)
	if err != nil {
		return nil, err
	}
	if firstByte(doc) != '[' {
		return nil, fmt.Errorf("expected JSON array, got %s", shapeName(doc))
	}
	var items []json.RawMessage
	if err := json.Unmarshal(doc, &items); err != nil {
		return nil, fmt.Errorf("decode array: %w", err)
	}
	return items, nil
}

// Object parses raw output as a JSON object keyed by item identifier, the
// shape used by bounding-box responses.
func Object(raw string) (map[string]json.RawMessage, error) {
	doc, err := Document(raw)
	if err != nil {
		return nil, err
	}
	if firstByte(doc) != '{' {
		return nil, fmt.Errorf("expected JSON object, got %s", shapeName(doc))
	}
	var items map[string]json.RawMessage
	if err := json.Unmarshal(doc, &items); err != nil {
		return nil, fmt.Errorf("decode object: %w", err)
	}
	return items, nil
}

var fenceRe = regexp.MustCompile("(?s)^```(?:json)?\\s*(.*?)\\s*```$")

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if m := fenceRe.FindStringSubmatch(s); len(m) > 1 {
		return m[1]
	}
	return s
}

// slice cuts the text down to the outermost bracket pair: first '[' or '{'
// through the last matching ']' or '}'.
func slice(s string) (string, bool) {
	openArr := strings.IndexByte(s, '[')
	openObj := strings.IndexByte(s, '{')

	open := openArr
	closeByte := byte(']')
	if open < 0 || (openObj >= 0 && openObj < open) {
		open = openObj
		closeByte = '}'
	}
	if open < 0 {
		return "", false
	}
	end := strings.LastIndexByte(s, closeByte)
	if end <= open {
		return "", false
	}
	return s[open : end+1], true
}

// validEscapes are the characters that may follow a backslash in JSON.
const validEscapes = `"\/bfnrtu`

// reEscapeUnknown doubles any backslash that does not start a recognized
// escape sequence. This recovers raw math notation while leaving already
// correct escapes alone.
func reEscapeUnknown(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 16)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' {
			b.WriteByte(c)
			continue
		}
		if i+1 < len(s) && strings.IndexByte(validEscapes, s[i+1]) >= 0 {
			b.WriteByte(c)
			b.WriteByte(s[i+1])
			i++
			continue
		}
		b.WriteString(`\\`)
	}
	return b.String()
}

// escapeAllThenRestore doubles every backslash, then collapses the sequences
// that were valid escapes back to their original form. More aggressive than
// reEscapeUnknown: it also repairs payloads where valid and invalid escapes
// are interleaved in ways the conservative pass misjudges.
func escapeAllThenRestore(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	for _, c := range []string{`"`, `b`, `f`, `n`, `r`, `t`, `u`, `/`} {
		s = strings.ReplaceAll(s, `\\`+c, `\`+c)
	}
	return s
}

// notationTokens are the notation fragments that show up unescaped most
// often in math-heavy papers.
var notationTokens = []string{
	"frac", "sqrt", "times", "div", "pi", "theta", "alpha", "beta", "gamma",
	"Delta", "delta", "degree", "circ", "cdot", "pm", "left", "right",
	"int", "sum", "infty", "le", "ge", "ne", "approx",
}

// pointFixes doubles the backslash in front of a fixed list of notation
// tokens, leaving everything else untouched.
func pointFixes(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 16)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || (i > 0 && s[i-1] == '\\') {
			b.WriteByte(c)
			continue
		}
		rest := s[i+1:]
		fixed := false
		for _, tok := range notationTokens {
			if strings.HasPrefix(rest, tok) {
				b.WriteString(`\\`)
				fixed = true
				break
			}
		}
		if !fixed {
			b.WriteByte(c)
		}
	}
	return b.String()
}

// corruptError reparses the failed document to recover the syntax-error
// byte offset, then attaches the surrounding context.
func corruptError(s string) *CorruptError {
	var v any
	err := json.Unmarshal([]byte(s), &v)

	var offset int64
	if synErr, ok := err.(*json.SyntaxError); ok {
		offset = synErr.Offset
	}
	start := offset - 40
	if start < 0 {
		start = 0
	}
	end := offset + 40
	if end > int64(len(s)) {
		end = int64(len(s))
	}
	return &CorruptError{
		Offset:  offset,
		Context: s[start:end],
		Err:     err,
	}
}

func firstByte(doc []byte) byte {
	for _, c := range doc {
		switch c {
		case ' ', '\t', '\n', '\r':
			continue
		}
		return c
	}
	return 0
}

func shapeName(doc []byte) string {
	switch firstByte(doc) {
	case '[':
		return "array"
	case '{':
		return "object"
	case '"':
		return "string"
	default:
		return "scalar"
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
