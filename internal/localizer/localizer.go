// Package localizer finds diagrams embedded in exam questions, crops them
// out of the source document at sub-page precision and materializes them as
// standalone uploaded assets.
//
// Phase 1 is free: the extraction model already flagged which records carry
// images and on which page. Phase 2 asks the vision model for normalized
// bounding boxes, rasterizes only the pages it needs, crops and uploads.
package localizer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/examforge/examforge/internal/chunker"
	"github.com/examforge/examforge/internal/genai"
	"github.com/examforge/examforge/internal/question"
	"github.com/examforge/examforge/internal/repair"
)

// Uploader stores image bytes under a stable identifier; *assetstore.Client
// implements it.
type Uploader interface {
	Upload(ctx context.Context, data []byte, identifier, folder string) (string, error)
}

// Config controls phase-2 behavior.
type Config struct {
	PageBatchSize int    // pages per vision call, default 5
	JPEGQuality   int    // default 85
	Folder        string // asset store folder
}

// Localizer runs image localization over candidate records.
type Localizer struct {
	client genai.Caller
	store  Uploader
	log    *slog.Logger
	cfg    Config

	// openCache is the rasterizer constructor, replaceable in tests.
	openCache func(data []byte) (pageSource, error)
}

func New(client genai.Caller, store Uploader, log *slog.Logger, cfg Config) *Localizer {
	if cfg.PageBatchSize <= 0 {
		cfg.PageBatchSize = 5
	}
	if cfg.JPEGQuality <= 0 {
		cfg.JPEGQuality = 85
	}
	if cfg.Folder == "" {
		cfg.Folder = "question-images"
	}
	return &Localizer{
		client: client,
		store:  store,
		log:    log,
		cfg:    cfg,
		openCache: func(data []byte) (pageSource, error) {
			return newPageCache(data)
		},
	}
}

// EstimatePages fills SourcePage for every record of one chunk (phase 1, no
// network). A model-reported page wins; otherwise the record's ordinal
// position is interpolated linearly across the chunk's page range. All
// arithmetic is chunk-local so chunks stay order-independent.
func EstimatePages(records []*question.Record, chunk chunker.Chunk) {
	for i, rec := range records {
		if rec.SourcePage >= chunk.StartPage && rec.SourcePage <= chunk.EndPage {
			continue
		}
		if rec.SourcePage >= 1 && rec.SourcePage <= chunk.Pages() {
			// Model answered with a chunk-local page number.
			rec.SourcePage = chunk.AbsolutePage(rec.SourcePage)
			continue
		}
		local := 1 + i*chunk.Pages()/len(records)
		rec.SourcePage = chunk.AbsolutePage(local)
	}
}

// item is one flagged image slot: a question illustration or one option's.
type item struct {
	rec      *question.Record
	optLabel string // empty for the question-level image
	id       string // stable upload identifier
	page     int
	excerpt  string
}

// Summary reports what phase 2 did.
type Summary struct {
	Flagged  int `json:"flagged"`
	Attached int `json:"attached"`
	Failed   int `json:"failed"`
}

// Localize mutates flagged records in place, attaching asset references for
// every image the vision model can locate. Absence is always legal; a
// present-but-wrong reference is not, so nothing is attached unless the
// presence flag was set. One item's failure never aborts its siblings.
func (l *Localizer) Localize(ctx context.Context, docBytes []byte, records []*question.Record) Summary {
	items := collectItems(records)
	if len(items) == 0 {
		return Summary{}
	}

	batches := batchByPage(items, l.cfg.PageBatchSize)

	// Batches are independent: a record's flagged slots all share its
	// estimated page, so every record belongs to exactly one batch and
	// concurrent batches never mutate the same record.
	results := make(chan Summary, len(batches))
	for _, batch := range batches {
		go func(batch []item) {
			results <- l.processBatch(ctx, docBytes, batch)
		}(batch)
	}

	var total Summary
	for range batches {
		s := <-results
		total.Flagged += s.Flagged
		total.Attached += s.Attached
		total.Failed += s.Failed
	}
	return total
}

func collectItems(records []*question.Record) []item {
	var items []item
	for _, rec := range records {
		if rec.HasImage {
			items = append(items, item{
				rec:     rec,
				id:      rec.LocalID,
				page:    rec.SourcePage,
				excerpt: truncate(rec.Prompt, 120),
			})
		}
		for _, opt := range rec.Options {
			if opt.HasImage {
				items = append(items, item{
					rec:      rec,
					optLabel: opt.Label,
					id:       rec.LocalID + "_" + opt.Label,
					page:     rec.SourcePage,
					excerpt:  truncate(opt.Text, 80),
				})
			}
		}
	}
	return items
}

// batchByPage groups items by estimated page and packs whole pages into
// batches of at most batchSize pages each.
func batchByPage(items []item, batchSize int) [][]item {
	byPage := make(map[int][]item)
	for _, it := range items {
		byPage[it.page] = append(byPage[it.page], it)
	}
	pages := make([]int, 0, len(byPage))
	for p := range byPage {
		pages = append(pages, p)
	}
	sort.Ints(pages)

	var batches [][]item
	for start := 0; start < len(pages); start += batchSize {
		end := start + batchSize
		if end > len(pages) {
			end = len(pages)
		}
		var batch []item
		for _, p := range pages[start:end] {
			batch = append(batch, byPage[p]...)
		}
		batches = append(batches, batch)
	}
	return batches
}

func (l *Localizer) processBatch(ctx context.Context, docBytes []byte, batch []item) Summary {
	sum := Summary{Flagged: len(batch)}

	cache, err := l.openCache(docBytes)
	if err != nil {
		l.log.Error("batch rendering unavailable", "error", err)
		for i := range batch {
			noteFailure(batch[i], "page rendering failed: "+err.Error())
		}
		sum.Failed = len(batch)
		return sum
	}
	defer cache.Close()

	boxes, err := l.requestBoxes(ctx, cache, batch)
	if err != nil {
		l.log.Warn("bounding box request failed, falling back to full pages", "error", err)
		l.fallbackBatch(ctx, cache, batch, &sum, err)
		return sum
	}

	// Per-item outcomes are values collected here, never errors propagated
	// through the batch.
	for _, it := range batch {
		attached, err := l.processItem(ctx, cache, it, boxes)
		if err != nil {
			l.log.Warn("image localization failed",
				"item", it.id, "page", it.page, "error", err)
			noteFailure(it, err.Error())
			sum.Failed++
			continue
		}
		if attached {
			sum.Attached++
		}
	}
	return sum
}

// fallbackBatch is the degraded path when no boxes could be obtained for a
// batch: every item gets the legacy full-page encode-and-upload, and items
// that still cannot be materialized are counted as failures with an error
// note rather than silently left bare.
func (l *Localizer) fallbackBatch(ctx context.Context, cache pageSource, batch []item, sum *Summary, cause error) {
	for _, it := range batch {
		data, err := l.fullPage(cache, it.page)
		if err == nil {
			var url string
			url, err = l.store.Upload(ctx, data, it.id, l.cfg.Folder)
			if err == nil {
				attach(it, question.AssetRef{ID: it.id, URL: url, UploadedAt: time.Now().UTC()})
				sum.Attached++
				continue
			}
		}
		l.log.Warn("full-page fallback failed", "item", it.id, "page", it.page, "error", err)
		noteFailure(it, fmt.Sprintf("bounding boxes unavailable (%s); full-page fallback: %s", cause, err))
		sum.Failed++
	}
}

const boxPrompt = `You are given rendered pages of an exam paper and a list of items, each a question or answer option known to contain a figure, diagram or illustration. For every item, find the figure on the stated page and report its location.

Respond with ONLY a JSON object. Keys are item ids. Values are objects:
{"page": <page number>, "x": <0-1>, "y": <0-1>, "width": <0-1>, "height": <0-1>}

Coordinates are fractions of the page, origin top-left. Omit any item whose figure you cannot find. No other text.`

// requestBoxes renders the batch's pages once and asks the vision model for
// one box per item. A missing box for a requested item is legal.
func (l *Localizer) requestBoxes(ctx context.Context, cache pageSource, batch []item) (map[string]question.BoundingBox, error) {
	pages := uniquePages(batch)

	var sb strings.Builder
	sb.WriteString(boxPrompt)
	sb.WriteString("\n\nItems:\n")
	for _, it := range batch {
		fmt.Fprintf(&sb, "- id %q on page %d: %q\n", it.id, it.page, it.excerpt)
	}
	parts := []genai.Part{genai.TextPart(sb.String())}

	for _, p := range pages {
		img, err := cache.Page(p)
		if err != nil {
			// The remaining pages can still be localized.
			l.log.Warn("page render failed, omitting from batch", "page", p, "error", err)
			continue
		}
		data, err := encodeJPEG(img, l.cfg.JPEGQuality)
		if err != nil {
			l.log.Warn("page encode failed, omitting from batch", "page", p, "error", err)
			continue
		}
		parts = append(parts, genai.TextPart(fmt.Sprintf("Page %d:", p)))
		parts = append(parts, genai.ImagePart("image/jpeg", data))
	}
	if len(parts) == 1 {
		return nil, fmt.Errorf("no pages could be rendered for batch")
	}

	raw, err := l.client.Generate(ctx, parts, genai.VariantVision)
	if err != nil {
		return nil, err
	}
	rawBoxes, err := repair.Object(raw)
	if err != nil {
		return nil, fmt.Errorf("parse box response: %w", err)
	}

	boxes := make(map[string]question.BoundingBox, len(rawBoxes))
	for id, rawBox := range rawBoxes {
		var box question.BoundingBox
		if err := json.Unmarshal(rawBox, &box); err != nil {
			l.log.Warn("unparseable bounding box", "item", id, "error", err)
			continue
		}
		box.Clamp()
		boxes[id] = box
	}
	return boxes, nil
}

// processItem crops, uploads and attaches one item's image. Returns whether
// a reference was attached; missing boxes attach nothing and are not
// failures. On crop or upload trouble it falls back to the legacy full-page
// encode-and-upload path before reporting failure.
func (l *Localizer) processItem(ctx context.Context, cache pageSource, it item, boxes map[string]question.BoundingBox) (bool, error) {
	box, ok := boxes[it.id]
	if !ok {
		return false, nil
	}

	data, err := l.cropBox(cache, it, box)
	if err != nil {
		l.log.Warn("crop failed, using full-page fallback", "item", it.id, "error", err)
		data, err = l.fullPage(cache, it.page)
		if err != nil {
			return false, fmt.Errorf("crop and full-page fallback both failed: %w", err)
		}
	}

	url, err := l.store.Upload(ctx, data, it.id, l.cfg.Folder)
	if err != nil {
		return false, fmt.Errorf("upload: %w", err)
	}

	attach(it, question.AssetRef{ID: it.id, URL: url, UploadedAt: time.Now().UTC()})
	return true, nil
}

func (l *Localizer) cropBox(cache pageSource, it item, box question.BoundingBox) ([]byte, error) {
	page := box.Page
	if page < 1 {
		page = it.page
	}
	if box.Empty() {
		return nil, fmt.Errorf("box has no area")
	}
	img, err := cache.Page(page)
	if err != nil {
		return nil, err
	}
	bounds := img.Bounds()
	cropped, err := crop(img, box.PixelRect(bounds.Dx(), bounds.Dy()))
	if err != nil {
		return nil, err
	}
	return encodeJPEG(cropped, l.cfg.JPEGQuality)
}

func (l *Localizer) fullPage(cache pageSource, page int) ([]byte, error) {
	img, err := cache.Page(page)
	if err != nil {
		return nil, err
	}
	return encodeJPEG(img, l.cfg.JPEGQuality)
}

// attach writes the asset reference into the record slot the presence flag
// was set on; references are never attached anywhere else.
func attach(it item, ref question.AssetRef) {
	if it.optLabel == "" {
		it.rec.Image = &ref
		return
	}
	if it.rec.OptionImages == nil {
		it.rec.OptionImages = make(map[string]question.AssetRef)
	}
	it.rec.OptionImages[it.optLabel] = ref
}

func noteFailure(it item, msg string) {
	slot := "question image"
	if it.optLabel != "" {
		slot = "option " + it.optLabel + " image"
	}
	note := slot + ": " + msg
	if it.rec.ImageError != "" {
		it.rec.ImageError += "; " + note
	} else {
		it.rec.ImageError = note
	}
}

func uniquePages(batch []item) []int {
	seen := make(map[int]bool)
	var pages []int
	for _, it := range batch {
		if !seen[it.page] {
			seen[it.page] = true
			pages = append(pages, it.page)
		}
	}
	sort.Ints(pages)
	return pages
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
