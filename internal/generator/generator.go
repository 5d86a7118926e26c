// Package generator produces synthetic question sets from a topic prompt.
// It over-generates to absorb expected duplicate loss, batches the model
// calls, and deduplicates the merged pool by text similarity.
package generator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/examforge/examforge/internal/genai"
	"github.com/examforge/examforge/internal/question"
	"github.com/examforge/examforge/internal/repair"
)

// Config holds generation tuning. The similarity threshold and
// over-generation factor are reconstructed defaults meant to be validated
// against a real corpus, not load-bearing constants.
type Config struct {
	BatchSize           int     // questions per model call, default 10
	OverGenFactor       float64 // default 1.2
	SimilarityThreshold float64 // default 0.8
	MaxExtraBatches     int     // bounded shortfall recovery, default 2
}

// Request describes the question set to generate.
type Request struct {
	Topic      string        `json:"topic"`
	Subject    string        `json:"subject"`
	Grade      string        `json:"grade"`
	Count      int           `json:"count"`
	Type       question.Type `json:"type"`
	Difficulty string        `json:"difficulty"`
	Guidance   string        `json:"guidance,omitempty"`
}

// Result carries exactly Count unique records, or fewer with Shortfall set.
// Never more, never duplicates.
type Result struct {
	Records   []question.Record `json:"records"`
	Shortfall bool              `json:"shortfall"`
	Requested int               `json:"requested"`
	Generated int               `json:"generated"` // raw pool size before dedupe
	Calls     int               `json:"calls"`
}

type Generator struct {
	client genai.Caller
	log    *slog.Logger
	cfg    Config
}

func New(client genai.Caller, log *slog.Logger, cfg Config) *Generator {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.OverGenFactor < 1 {
		cfg.OverGenFactor = 1.2
	}
	if cfg.SimilarityThreshold <= 0 || cfg.SimilarityThreshold > 1 {
		cfg.SimilarityThreshold = 0.8
	}
	if cfg.MaxExtraBatches < 0 {
		cfg.MaxExtraBatches = 2
	}
	return &Generator{client: client, log: log, cfg: cfg}
}

// Generate runs the over-generate / batch / dedupe loop. Batches run
// sequentially: later batch prompts carry the questions generated so far to
// reduce overlap. A single batch failure is logged and skipped; only all
// batches failing with an empty pool is an error.
func (g *Generator) Generate(ctx context.Context, req Request) (Result, error) {
	if req.Count < 1 {
		return Result{}, fmt.Errorf("count must be at least 1, got %d", req.Count)
	}
	if strings.TrimSpace(req.Topic) == "" {
		return Result{}, fmt.Errorf("topic is required")
	}

	target := int(math.Ceil(float64(req.Count) * g.cfg.OverGenFactor))
	sizes := batchSizes(target, g.cfg.BatchSize)

	var pool []question.Record
	var lastErr error
	calls := 0
	failures := 0

	for _, size := range sizes {
		recs, err := g.batch(ctx, req, size, pool)
		calls++
		if err != nil {
			g.log.Warn("generation batch failed", "batch", calls, "error", err)
			failures++
			lastErr = err
			continue
		}
		pool = append(pool, recs...)
	}
	if len(pool) == 0 {
		return Result{}, fmt.Errorf("all %d generation batches failed: %w", failures, lastErr)
	}

	unique := Dedupe(pool, g.cfg.SimilarityThreshold)

	// Bounded shortfall recovery: a few more full batches, then give up and
	// report the shortfall rather than loop forever.
	for extra := 0; len(unique) < req.Count && extra < g.cfg.MaxExtraBatches; extra++ {
		recs, err := g.batch(ctx, req, g.cfg.BatchSize, pool)
		calls++
		if err != nil {
			g.log.Warn("shortfall recovery batch failed", "error", err)
			break
		}
		pool = append(pool, recs...)
		unique = Dedupe(pool, g.cfg.SimilarityThreshold)
	}

	result := Result{
		Requested: req.Count,
		Generated: len(pool),
		Calls:     calls,
	}
	if len(unique) > req.Count {
		unique = unique[:req.Count]
	}
	result.Records = unique
	result.Shortfall = len(unique) < req.Count
	return result, nil
}

// batchSizes partitions the over-generation target into model calls. A
// target below one batch still issues a full batch; the surplus is
// truncated after dedupe.
func batchSizes(target, batchSize int) []int {
	if target <= batchSize {
		return []int{batchSize}
	}
	var sizes []int
	for target > 0 {
		n := batchSize
		if target < n {
			n = target
		}
		sizes = append(sizes, n)
		target -= n
	}
	return sizes
}

const generatePrompt = `Write %d exam questions on the topic below. Return a JSON array; each element:

- "id": short unique string
- "type": %q
- "question": the question text
- "options": list of {"label", "text"} objects (at least 2 for choice types, empty for numeric and free_text)
- "correct_answers": list of option labels, or the numeric value / "min to max" range for numeric questions
- "marks": positive number
- "negative_marks": number, 0 if none

Topic: %s
Subject: %s
Grade: %s
Difficulty: %s

Every question must be answerable without any figure or diagram.
Respond with ONLY the JSON array, no other text.`

func (g *Generator) batch(ctx context.Context, req Request, size int, prior []question.Record) ([]question.Record, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, generatePrompt, size, req.Type, req.Topic, req.Subject, req.Grade, req.Difficulty)
	if req.Guidance != "" {
		sb.WriteString("\n\nAdditional guidance: ")
		sb.WriteString(req.Guidance)
	}
	if len(prior) > 0 {
		sb.WriteString("\n\nAlready generated, do NOT repeat or rephrase these:\n")
		for _, rec := range prior {
			sb.WriteString("- ")
			sb.WriteString(rec.Prompt)
			sb.WriteByte('\n')
		}
	}

	raw, err := g.client.Generate(ctx, []genai.Part{genai.TextPart(sb.String())}, genai.VariantText)
	if err != nil {
		return nil, err
	}

	items, err := repair.Records(raw)
	if err != nil {
		return nil, err
	}

	recs := make([]question.Record, 0, len(items))
	for i, item := range items {
		var rec question.Record
		if err := json.Unmarshal(item, &rec); err != nil {
			g.log.Warn("skipping undecodable generated record", "index", i, "error", err)
			continue
		}
		if req.Type != "" && rec.Type == "" {
			rec.Type = req.Type
		}
		if err := question.Validate(&rec); err != nil {
			g.log.Warn("skipping invalid generated record", "index", i, "error", err)
			continue
		}
		rec.LocalID = fmt.Sprintf("g%d", len(prior)+len(recs)+1)
		recs = append(recs, rec)
	}
	return recs, nil
}
