package localizer

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"github.com/gen2brain/go-fitz"
)

// pageSource hands out rendered pages by 1-indexed page number.
type pageSource interface {
	Page(page int) (image.Image, error)
	Close()
}

// pageCache rasterizes document pages on demand and memoizes them by page
// number. One cache belongs to exactly one batch; caches are never shared
// across concurrent batches.
type pageCache struct {
	doc   *fitz.Document
	pages map[int]image.Image
}

func newPageCache(data []byte) (*pageCache, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("open document for rendering: %w", err)
	}
	return &pageCache{
		doc:   doc,
		pages: make(map[int]image.Image),
	}, nil
}

// Page renders a 1-indexed page, reusing a previous render when available.
func (c *pageCache) Page(page int) (image.Image, error) {
	if img, ok := c.pages[page]; ok {
		return img, nil
	}
	if page < 1 || page > c.doc.NumPage() {
		return nil, fmt.Errorf("page %d out of range (1-%d)", page, c.doc.NumPage())
	}
	img, err := c.doc.Image(page - 1)
	if err != nil {
		return nil, fmt.Errorf("render page %d: %w", page, err)
	}
	c.pages[page] = img
	return img, nil
}

func (c *pageCache) Close() {
	if c.doc != nil {
		c.doc.Close()
		c.doc = nil
	}
	c.pages = nil
}

type subImager interface {
	SubImage(r image.Rectangle) image.Image
}

// crop cuts a pixel rectangle out of a rendered page.
func crop(img image.Image, rect image.Rectangle) (image.Image, error) {
	rect = rect.Intersect(img.Bounds())
	if rect.Empty() {
		return nil, fmt.Errorf("crop region is empty")
	}
	si, ok := img.(subImager)
	if !ok {
		return nil, fmt.Errorf("page image type %T does not support cropping", img)
	}
	return si.SubImage(rect), nil
}

// encodeJPEG serializes an image for prompt attachment or upload.
func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	if quality <= 0 || quality > 100 {
		quality = 85
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
