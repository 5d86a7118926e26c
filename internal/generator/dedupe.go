package generator

import (
	"strings"
	"unicode"

	"github.com/examforge/examforge/internal/question"
)

// Dedupe removes near-duplicates from a pool of generated records: any pair
// whose text similarity exceeds the threshold collapses to the first-seen
// instance. The result never contains two items above the threshold.
func Dedupe(records []question.Record, threshold float64) []question.Record {
	kept := make([]question.Record, 0, len(records))
	keptSets := make([]map[string]struct{}, 0, len(records))

	for _, rec := range records {
		set := wordSet(recordText(rec))
		dup := false
		for _, ks := range keptSets {
			if jaccard(set, ks) > threshold {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		kept = append(kept, rec)
		keptSets = append(keptSets, set)
	}
	return kept
}

// Similarity is the pairwise metric used by Dedupe, exported so callers can
// validate the threshold against real corpora.
func Similarity(a, b string) float64 {
	return jaccard(wordSet(a), wordSet(b))
}

func recordText(rec question.Record) string {
	var sb strings.Builder
	sb.WriteString(rec.Prompt)
	for _, opt := range rec.Options {
		sb.WriteByte(' ')
		sb.WriteString(opt.Text)
	}
	return sb.String()
}

// jaccard computes |A∩B| / |A∪B| over word sets. Two empty texts count as
// identical.
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for w := range a {
		if _, ok := b[w]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

func wordSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	}) {
		set[w] = struct{}{}
	}
	return set
}
