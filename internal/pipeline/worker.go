package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/examforge/examforge/internal/chunker"
	"github.com/examforge/examforge/internal/genai"
	"github.com/examforge/examforge/internal/localizer"
	"github.com/examforge/examforge/internal/question"
	"github.com/examforge/examforge/internal/repair"
)

// Worker processes a single extraction job: chunk the document, extract
// candidate records per chunk, repair and validate the model output, then
// localize embedded images.
type Worker struct {
	client genai.Caller
	loc    *localizer.Localizer
	log    *slog.Logger

	pagesPerChunk        int
	maxConcurrentExtract int
}

func NewWorker(client genai.Caller, loc *localizer.Localizer, log *slog.Logger, pagesPerChunk, maxExtract int) *Worker {
	if pagesPerChunk <= 0 {
		pagesPerChunk = chunker.DefaultPagesPerChunk
	}
	if maxExtract <= 0 {
		maxExtract = 3
	}
	return &Worker{
		client:               client,
		loc:                  loc,
		log:                  log,
		pagesPerChunk:        pagesPerChunk,
		maxConcurrentExtract: maxExtract,
	}
}

// Process runs the full extraction pipeline for a job.
func (w *Worker) Process(ctx context.Context, job *Job) {
	log := w.log.With("job_id", job.ID)
	data, answerKey := job.Input()

	// Phase 1: Chunk.
	job.SetStatus(StatusChunking, "chunking")
	doc, err := chunker.Open(data)
	if err != nil {
		log.Error("document open failed", "error", err)
		w.fail(job, fmt.Sprintf("invalid document: %s", err))
		return
	}
	chunks, err := chunker.Split(doc, w.pagesPerChunk)
	if err != nil {
		log.Error("chunking failed", "error", err)
		w.fail(job, fmt.Sprintf("invalid document: %s", err))
		return
	}
	job.SetCounts(doc.PageCount, len(chunks))
	log.Info("chunked document", "pages", doc.PageCount, "chunks", len(chunks))

	// Phase 2: Extract per chunk with bounded concurrency. Chunks are
	// independent and page arithmetic is chunk-local, so concurrent
	// processing yields results identical to sequential.
	job.SetStatus(StatusExtracting, "extracting")
	type chunkResult struct {
		records []*question.Record
		err     error
		idx     int
	}
	results := make(chan chunkResult, len(chunks))
	sem := make(chan struct{}, w.maxConcurrentExtract)

	for _, chunk := range chunks {
		sem <- struct{}{}
		go func(chunk chunker.Chunk) {
			defer func() { <-sem }()
			recs, err := w.extractChunk(ctx, chunk, answerKey)
			results <- chunkResult{records: recs, err: err, idx: chunk.Index}
		}(chunk)
	}

	byChunk := make([][]*question.Record, len(chunks))
	chunkFailures := 0
	var firstChunkErr error
	for range chunks {
		r := <-results
		job.IncrChunksProcessed()
		if r.err != nil {
			log.Error("chunk extraction failed", "chunk", r.idx, "error", r.err)
			job.AddError(fmt.Sprintf("chunk %d (pages %d-%d): %s",
				r.idx, chunks[r.idx].StartPage, chunks[r.idx].EndPage, r.err))
			chunkFailures++
			if firstChunkErr == nil {
				firstChunkErr = r.err
			}
			continue
		}
		byChunk[r.idx] = r.records
	}

	// Merge in chunk order with stable run-scoped identifiers; image
	// uploads key off these, so retried uploads overwrite idempotently.
	var merged []*question.Record
	flagged := 0
	for _, recs := range byChunk {
		for _, rec := range recs {
			rec.LocalID = fmt.Sprintf("q%d", len(merged)+1)
			flagged += rec.FlaggedImageCount()
			merged = append(merged, rec)
		}
	}
	job.AddRecords(len(merged), flagged, 0)
	log.Info("extraction complete", "records", len(merged), "chunk_failures", chunkFailures)

	if len(merged) == 0 {
		if chunkFailures > 0 {
			w.fail(job, fmt.Sprintf("no usable records: all %d of %d chunks failed, first error: %s",
				chunkFailures, len(chunks), firstChunkErr))
		} else {
			w.fail(job, "document produced no questions")
		}
		return
	}

	// Phase 3: Localize flagged images.
	job.SetStatus(StatusLocalizing, "localizing")
	sum := w.loc.Localize(ctx, doc.Data, merged)
	job.AddRecords(0, 0, sum.Attached)
	log.Info("localization complete", "flagged", sum.Flagged, "attached", sum.Attached, "failed", sum.Failed)

	records := make([]question.Record, len(merged))
	for i, rec := range merged {
		records[i] = *rec
	}

	result := &Result{
		Success: true,
		Records: records,
		Metadata: Metadata{
			Pages:          doc.PageCount,
			Chunks:         len(chunks),
			ChunkFailures:  chunkFailures,
			RecordsParsed:  len(records),
			ImagesFlagged:  sum.Flagged,
			ImagesAttached: sum.Attached,
			ImageFailures:  sum.Failed,
		},
	}
	job.SetResult(result)

	if chunkFailures > 0 || sum.Failed > 0 {
		job.SetStatus(StatusPartial, "done")
	} else {
		job.SetStatus(StatusCompleted, "done")
	}
}

// extractChunk runs one generation call and the repair ladder for a chunk.
// Records that fail structural validation are dropped, not fatal.
func (w *Worker) extractChunk(ctx context.Context, chunk chunker.Chunk, answerKey string) ([]*question.Record, error) {
	prompt := BuildExtractionPrompt(chunk.Payload, chunk.StartPage, chunk.EndPage, answerKey)
	raw, err := w.client.Generate(ctx, []genai.Part{genai.TextPart(prompt)}, genai.VariantText)
	if err != nil {
		return nil, err
	}

	items, err := repair.Records(raw)
	if err != nil {
		return nil, err
	}

	var recs []*question.Record
	for i, item := range items {
		var rec question.Record
		if err := json.Unmarshal(item, &rec); err != nil {
			w.log.Warn("skipping undecodable record", "chunk", chunk.Index, "index", i, "error", err)
			continue
		}
		if err := question.Validate(&rec); err != nil {
			w.log.Warn("skipping invalid record", "chunk", chunk.Index, "index", i, "error", err)
			continue
		}
		recs = append(recs, &rec)
	}

	localizer.EstimatePages(recs, chunk)
	return recs, nil
}

func (w *Worker) fail(job *Job, msg string) {
	job.AddError(msg)
	job.SetResult(&Result{Success: false, Error: msg})
	job.SetStatus(StatusFailed, "done")
}
