package chunker

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDoc(pages int) *Document {
	text := make([]string, pages)
	for i := range text {
		text[i] = fmt.Sprintf("content of page %d", i+1)
	}
	return &Document{PageCount: pages, pageText: text}
}

func TestSplitChunkCount(t *testing.T) {
	cases := []struct {
		pages, perChunk, want int
	}{
		{12, 5, 3},
		{10, 5, 2},
		{1, 5, 1},
		{5, 5, 1},
		{6, 5, 2},
		{7, 3, 3},
	}
	for _, tc := range cases {
		chunks, err := Split(testDoc(tc.pages), tc.perChunk)
		require.NoError(t, err)
		assert.Len(t, chunks, tc.want, "pages=%d perChunk=%d", tc.pages, tc.perChunk)
	}
}

func TestSplitCoversAllPagesOnce(t *testing.T) {
	doc := testDoc(12)
	chunks, err := Split(doc, 5)
	require.NoError(t, err)

	seen := map[int]int{}
	prevEnd := 0
	for i, c := range chunks {
		assert.Equal(t, i, c.Index)
		assert.Equal(t, prevEnd+1, c.StartPage, "chunks must be contiguous")
		for p := c.StartPage; p <= c.EndPage; p++ {
			seen[p]++
		}
		prevEnd = c.EndPage
	}
	assert.Equal(t, doc.PageCount, prevEnd)
	for p := 1; p <= doc.PageCount; p++ {
		assert.Equal(t, 1, seen[p], "page %d", p)
	}
}

func TestSplitLastChunkShorter(t *testing.T) {
	chunks, err := Split(testDoc(12), 5)
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Equal(t, 5, chunks[0].Pages())
	assert.Equal(t, 5, chunks[1].Pages())
	assert.Equal(t, 2, chunks[2].Pages())
}

func TestSplitPayloadHasPageMarkers(t *testing.T) {
	chunks, err := Split(testDoc(7), 5)
	require.NoError(t, err)

	for _, c := range chunks {
		for p := c.StartPage; p <= c.EndPage; p++ {
			marker := fmt.Sprintf("=== Page %d ===", p)
			assert.Contains(t, c.Payload, marker)
			assert.Contains(t, c.Payload, fmt.Sprintf("content of page %d", p))
		}
		// No pages from outside the range leak in.
		outside := fmt.Sprintf("=== Page %d ===", c.EndPage+1)
		assert.False(t, strings.Contains(c.Payload, outside) && c.EndPage < 7)
	}
}

func TestSplitNoTextLayer(t *testing.T) {
	doc := &Document{PageCount: 3, pageText: []string{"", "", ""}}
	_, err := Split(doc, 5)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidDocument))
	// The cause must tell the user what to do about a scanned upload.
	assert.Contains(t, err.Error(), "scanned documents without embedded text")
	assert.Contains(t, err.Error(), "OCR")
}

func TestSplitNilDocument(t *testing.T) {
	_, err := Split(nil, 5)
	assert.True(t, errors.Is(err, ErrInvalidDocument))
}

func TestSplitDefaultPagesPerChunk(t *testing.T) {
	chunks, err := Split(testDoc(11), 0)
	require.NoError(t, err)
	assert.Len(t, chunks, 3)
}

func TestAbsolutePage(t *testing.T) {
	c := Chunk{Index: 1, StartPage: 6, EndPage: 10}
	assert.Equal(t, 6, c.AbsolutePage(1))
	assert.Equal(t, 10, c.AbsolutePage(5))
	assert.Equal(t, 5, c.Pages())
}

func TestOpenEmptyData(t *testing.T) {
	_, err := Open(nil)
	assert.True(t, errors.Is(err, ErrInvalidDocument))
}
