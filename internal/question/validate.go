package question

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var validTypes = map[Type]bool{
	SingleChoice: true,
	MultiChoice:  true,
	Boolean:      true,
	Numeric:      true,
	FreeText:     true,
}

// rangeSep matches the separators models use for numeric ranges:
// "2-5", "2 to 5", "2..5".
var rangeSep = regexp.MustCompile(`\s*(?:\.\.|to|-)\s*`)

// Validate checks structural validity of a record. It normalizes numeric
// answers in place. Returns nil if the record is usable downstream.
func Validate(r *Record) error {
	if strings.TrimSpace(r.Prompt) == "" {
		return fmt.Errorf("empty question text")
	}
	if !validTypes[r.Type] {
		return fmt.Errorf("unknown question type %q", r.Type)
	}

	if r.Type.IsChoice() {
		if len(r.Options) < 2 {
			return fmt.Errorf("%s question has %d options, need at least 2", r.Type, len(r.Options))
		}
		labels := make(map[string]bool, len(r.Options))
		for i, opt := range r.Options {
			if strings.TrimSpace(opt.Label) == "" {
				return fmt.Errorf("option %d has empty label", i)
			}
			if labels[opt.Label] {
				return fmt.Errorf("duplicate option label %q", opt.Label)
			}
			labels[opt.Label] = true
		}
		if len(r.CorrectAnswers) == 0 {
			return fmt.Errorf("%s question has no correct answers", r.Type)
		}
		if r.Type == SingleChoice && len(r.CorrectAnswers) > 1 {
			return fmt.Errorf("single_choice question has %d correct answers", len(r.CorrectAnswers))
		}
		for _, ans := range r.CorrectAnswers {
			if !labels[ans] {
				return fmt.Errorf("correct answer %q is not an option label", ans)
			}
		}
		return nil
	}

	// Numeric and free-text questions carry no options.
	if len(r.Options) != 0 {
		return fmt.Errorf("%s question must not have options, got %d", r.Type, len(r.Options))
	}

	if r.Type == Numeric {
		if len(r.CorrectAnswers) == 0 {
			return fmt.Errorf("numeric question has no answer")
		}
		for i, ans := range r.CorrectAnswers {
			norm, ok := NormalizeNumericAnswer(ans)
			if !ok {
				return fmt.Errorf("numeric answer %q is not a number or range", ans)
			}
			r.CorrectAnswers[i] = norm
		}
	}

	return nil
}

// NormalizeNumericAnswer accepts a single number or a range in any of the
// forms "a-b", "a to b", "a..b" and returns the canonical form: the number
// itself, or "min to max". Returns false if the value parses as neither.
func NormalizeNumericAnswer(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}

	if _, err := strconv.ParseFloat(s, 64); err == nil {
		return s, true
	}

	// Split on the first range separator past position 0 so a leading
	// minus sign is not mistaken for one.
	loc := rangeSep.FindStringIndex(s[1:])
	if loc == nil {
		return "", false
	}
	lo := strings.TrimSpace(s[:loc[0]+1])
	hi := strings.TrimSpace(s[loc[1]+1:])

	loF, err := strconv.ParseFloat(lo, 64)
	if err != nil {
		return "", false
	}
	hiF, err := strconv.ParseFloat(hi, 64)
	if err != nil {
		return "", false
	}
	if hiF < loF {
		lo, hi = hi, lo
	}
	return lo + " to " + hi, true
}
