package localizer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"testing"

	"github.com/examforge/examforge/internal/chunker"
	"github.com/examforge/examforge/internal/genai"
	"github.com/examforge/examforge/internal/question"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePages stands in for the go-fitz raster cache.
type fakePages struct {
	pages int
}

func (f fakePages) Page(page int) (image.Image, error) {
	if page < 1 || page > f.pages {
		return nil, fmt.Errorf("page %d out of range (1-%d)", page, f.pages)
	}
	return image.NewRGBA(image.Rect(0, 0, 40, 60)), nil
}

func (f fakePages) Close() {}

// boxCaller answers every vision call with the same box map, or an error.
type boxCaller struct {
	mu    sync.Mutex
	boxes map[string]question.BoundingBox
	err   error
	calls int
}

func (c *boxCaller) Generate(ctx context.Context, parts []genai.Part, variant genai.Variant) (string, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	if c.err != nil {
		return "", c.err
	}
	b, err := json.Marshal(c.boxes)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// fakeStore accepts uploads except for the ids told to fail.
type fakeStore struct {
	mu      sync.Mutex
	failIDs map[string]bool
	uploads []string
}

func (s *fakeStore) Upload(ctx context.Context, data []byte, identifier, folder string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failIDs[identifier] {
		return "", errors.New("storage write refused")
	}
	s.uploads = append(s.uploads, identifier)
	return "http://assets/" + folder + "/" + identifier + ".jpg", nil
}

func newFakeLocalizer(caller *boxCaller, store *fakeStore) *Localizer {
	loc := New(caller, store, slog.New(slog.DiscardHandler), Config{PageBatchSize: 5})
	loc.openCache = func([]byte) (pageSource, error) {
		return fakePages{pages: 10}, nil
	}
	return loc
}

func flaggedRecords(n int) []*question.Record {
	recs := make([]*question.Record, n)
	for i := range recs {
		recs[i] = &question.Record{
			LocalID:    fmt.Sprintf("q%d", i+1),
			Type:       question.FreeText,
			Prompt:     fmt.Sprintf("Describe figure %d", i+1),
			HasImage:   true,
			SourcePage: 1 + i%10,
		}
	}
	return recs
}

func boxesFor(recs []*question.Record) map[string]question.BoundingBox {
	boxes := make(map[string]question.BoundingBox, len(recs))
	for _, rec := range recs {
		boxes[rec.LocalID] = question.BoundingBox{
			Page: rec.SourcePage, X: 0.1, Y: 0.1, Width: 0.5, Height: 0.5,
		}
	}
	return boxes
}

func TestLocalizeSingleFailureDoesNotAbortSiblings(t *testing.T) {
	recs := flaggedRecords(20)
	caller := &boxCaller{boxes: boxesFor(recs)}
	store := &fakeStore{failIDs: map[string]bool{"q7": true}}
	loc := newFakeLocalizer(caller, store)

	sum := loc.Localize(context.Background(), []byte("doc"), recs)

	assert.Equal(t, 20, sum.Flagged)
	assert.Equal(t, 19, sum.Attached)
	assert.Equal(t, 1, sum.Failed)

	for _, rec := range recs {
		if rec.LocalID == "q7" {
			assert.Nil(t, rec.Image)
			assert.Contains(t, rec.ImageError, "upload")
			continue
		}
		require.NotNil(t, rec.Image, "record %s", rec.LocalID)
		assert.Contains(t, rec.Image.URL, rec.LocalID)
		assert.Empty(t, rec.ImageError, "record %s", rec.LocalID)
		assert.LessOrEqual(t, rec.AttachedImageCount(), rec.FlaggedImageCount())
	}
}

func TestLocalizeMissingBoxIsLegalAbsence(t *testing.T) {
	recs := flaggedRecords(4)
	boxes := boxesFor(recs)
	delete(boxes, "q3")
	caller := &boxCaller{boxes: boxes}
	store := &fakeStore{}
	loc := newFakeLocalizer(caller, store)

	sum := loc.Localize(context.Background(), []byte("doc"), recs)

	assert.Equal(t, 4, sum.Flagged)
	assert.Equal(t, 3, sum.Attached)
	assert.Equal(t, 0, sum.Failed, "an omitted box is not a failure")
	assert.Nil(t, recs[2].Image)
	assert.Empty(t, recs[2].ImageError)
}

func TestLocalizeBoxRequestFailureFallsBackToFullPages(t *testing.T) {
	recs := flaggedRecords(6)
	caller := &boxCaller{err: errors.New("vision model overloaded")}
	store := &fakeStore{}
	loc := newFakeLocalizer(caller, store)

	sum := loc.Localize(context.Background(), []byte("doc"), recs)

	assert.Equal(t, 6, sum.Flagged)
	assert.Equal(t, 6, sum.Attached)
	assert.Equal(t, 0, sum.Failed)
	for _, rec := range recs {
		require.NotNil(t, rec.Image, "record %s gets a full-page asset", rec.LocalID)
		assert.Empty(t, rec.ImageError)
	}
	// Pages 1-6 with a batch size of 5 pages means two vision calls.
	assert.Equal(t, 2, caller.calls)
}

func TestLocalizeBoxRequestFailureSurfacesUploadFailures(t *testing.T) {
	recs := flaggedRecords(6)
	caller := &boxCaller{err: errors.New("vision model overloaded")}
	store := &fakeStore{failIDs: map[string]bool{"q2": true}}
	loc := newFakeLocalizer(caller, store)

	sum := loc.Localize(context.Background(), []byte("doc"), recs)

	assert.Equal(t, 5, sum.Attached)
	assert.Equal(t, 1, sum.Failed, "a record left bare after the fallback must count as failed")
	assert.Nil(t, recs[1].Image)
	assert.Contains(t, recs[1].ImageError, "bounding boxes unavailable")
	assert.Contains(t, recs[1].ImageError, "full-page fallback")
}

func TestLocalizeClampsModelBoxes(t *testing.T) {
	recs := flaggedRecords(1)
	caller := &boxCaller{boxes: map[string]question.BoundingBox{
		"q1": {Page: 1, X: 0.8, Y: -0.5, Width: 0.9, Height: 2},
	}}
	store := &fakeStore{}
	loc := newFakeLocalizer(caller, store)

	sum := loc.Localize(context.Background(), []byte("doc"), recs)

	assert.Equal(t, 1, sum.Attached)
	require.NotNil(t, recs[0].Image)
}

func TestEstimatePagesKeepsInRangeAbsolute(t *testing.T) {
	chunk := chunker.Chunk{Index: 1, StartPage: 6, EndPage: 10}
	recs := []*question.Record{{SourcePage: 7}, {SourcePage: 10}}
	EstimatePages(recs, chunk)
	assert.Equal(t, 7, recs[0].SourcePage)
	assert.Equal(t, 10, recs[1].SourcePage)
}

func TestEstimatePagesConvertsChunkLocal(t *testing.T) {
	// A model answering "page 2" for the chunk covering 6-10 means page 7.
	chunk := chunker.Chunk{Index: 1, StartPage: 6, EndPage: 10}
	recs := []*question.Record{{SourcePage: 2}}
	EstimatePages(recs, chunk)
	assert.Equal(t, 7, recs[0].SourcePage)
}

func TestEstimatePagesInterpolatesMissing(t *testing.T) {
	chunk := chunker.Chunk{Index: 0, StartPage: 1, EndPage: 5}
	recs := make([]*question.Record, 10)
	for i := range recs {
		recs[i] = &question.Record{}
	}
	EstimatePages(recs, chunk)

	prev := 0
	for i, rec := range recs {
		assert.GreaterOrEqual(t, rec.SourcePage, chunk.StartPage, "record %d", i)
		assert.LessOrEqual(t, rec.SourcePage, chunk.EndPage, "record %d", i)
		assert.GreaterOrEqual(t, rec.SourcePage, prev, "pages are monotonic")
		prev = rec.SourcePage
	}
	assert.Equal(t, 1, recs[0].SourcePage)
	assert.Equal(t, 5, recs[9].SourcePage)
}

func TestEstimatePagesOutOfRangeReestimated(t *testing.T) {
	chunk := chunker.Chunk{Index: 1, StartPage: 6, EndPage: 10}
	recs := []*question.Record{{SourcePage: 42}, {SourcePage: -3}}
	EstimatePages(recs, chunk)
	for i, rec := range recs {
		assert.GreaterOrEqual(t, rec.SourcePage, 6, "record %d", i)
		assert.LessOrEqual(t, rec.SourcePage, 10, "record %d", i)
	}
}

func TestCollectItemsOnePerFlag(t *testing.T) {
	recs := []*question.Record{
		{
			LocalID:    "q1",
			Prompt:     "Identify the circuit",
			HasImage:   true,
			SourcePage: 3,
			Options: []question.Option{
				{Label: "a", Text: "series", HasImage: true},
				{Label: "b", Text: "parallel"},
			},
		},
		{LocalID: "q2", Prompt: "No figure here", SourcePage: 4},
	}
	items := collectItems(recs)
	require.Len(t, items, 2)
	assert.Equal(t, "q1", items[0].id)
	assert.Equal(t, "", items[0].optLabel)
	assert.Equal(t, "q1_a", items[1].id)
	assert.Equal(t, "a", items[1].optLabel)
	assert.Equal(t, 3, items[1].page)
}

func TestBatchByPagePacksWholePages(t *testing.T) {
	var items []item
	for page := 1; page <= 7; page++ {
		items = append(items, item{id: itemID(page, 0), page: page})
		items = append(items, item{id: itemID(page, 1), page: page})
	}
	batches := batchByPage(items, 5)
	require.Len(t, batches, 2)
	assert.Len(t, batches[0], 10) // pages 1-5
	assert.Len(t, batches[1], 4)  // pages 6-7

	// Every item lands in exactly one batch.
	seen := map[string]int{}
	for _, b := range batches {
		for _, it := range b {
			seen[it.id]++
		}
	}
	assert.Len(t, seen, len(items))
	for id, n := range seen {
		assert.Equal(t, 1, n, "item %s", id)
	}
}

func itemID(page, n int) string {
	return string(rune('a'+page)) + string(rune('0'+n))
}

func TestBatchByPageKeepsPageTogether(t *testing.T) {
	items := []item{
		{id: "x", page: 2},
		{id: "y", page: 1},
		{id: "z", page: 2},
	}
	batches := batchByPage(items, 1)
	require.Len(t, batches, 2)
	assert.Len(t, batches[0], 1)
	assert.Len(t, batches[1], 2)
}

func TestAttachQuestionAndOptionSlots(t *testing.T) {
	rec := &question.Record{LocalID: "q1"}
	attach(item{rec: rec}, question.AssetRef{ID: "q1", URL: "u1"})
	require.NotNil(t, rec.Image)
	assert.Equal(t, "u1", rec.Image.URL)

	attach(item{rec: rec, optLabel: "b"}, question.AssetRef{ID: "q1_b", URL: "u2"})
	require.Contains(t, rec.OptionImages, "b")
	assert.Equal(t, "u2", rec.OptionImages["b"].URL)
	assert.Equal(t, 2, rec.AttachedImageCount())
}

func TestNoteFailureAccumulates(t *testing.T) {
	rec := &question.Record{LocalID: "q1"}
	noteFailure(item{rec: rec}, "upload timed out")
	noteFailure(item{rec: rec, optLabel: "a"}, "no page")
	assert.Contains(t, rec.ImageError, "question image: upload timed out")
	assert.Contains(t, rec.ImageError, "option a image: no page")
}

func TestUniquePagesSorted(t *testing.T) {
	batch := []item{{page: 9}, {page: 2}, {page: 9}, {page: 5}}
	assert.Equal(t, []int{2, 5, 9}, uniquePages(batch))
}
