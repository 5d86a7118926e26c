package question

import "time"

// Type is the question kind reported by the generation service.
type Type string

const (
	SingleChoice Type = "single_choice"
	MultiChoice  Type = "multi_choice"
	Boolean      Type = "boolean"
	Numeric      Type = "numeric"
	FreeText     Type = "free_text"
)

// IsChoice reports whether the type carries an option list.
func (t Type) IsChoice() bool {
	return t == SingleChoice || t == MultiChoice || t == Boolean
}

// Option is a single answer choice.
type Option struct {
	Label    string `json:"label"`
	Text     string `json:"text"`
	HasImage bool   `json:"has_image,omitempty"`
}

// AssetRef points at an uploaded image asset. The identifier is stable per
// (question, option) so retried uploads overwrite rather than duplicate.
type AssetRef struct {
	ID         string    `json:"id"`
	URL        string    `json:"url"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// Record is a parsed, not-yet-persisted exam question. It is created by the
// extraction or generation pipeline, mutated by the image localizer, and
// handed to the persistence collaborator which assigns durable identity.
type Record struct {
	LocalID        string   `json:"id"`
	Type           Type     `json:"type"`
	Prompt         string   `json:"question"`
	Options        []Option `json:"options,omitempty"`
	CorrectAnswers []string `json:"correct_answers"`
	Marks          float64  `json:"marks"`
	NegativeMarks  float64  `json:"negative_marks"`

	// Image presence as flagged by the extraction model (phase 1).
	HasImage   bool `json:"has_image,omitempty"`
	SourcePage int  `json:"source_page,omitempty"`

	// Filled in by the image localizer (phase 2). Absence is always legal.
	Image        *AssetRef           `json:"image,omitempty"`
	OptionImages map[string]AssetRef `json:"option_images,omitempty"`
	ImageError   string              `json:"image_error,omitempty"`
}

// FlaggedImageCount counts the presence flags that are true. Attached asset
// references must never exceed this.
func (r *Record) FlaggedImageCount() int {
	n := 0
	if r.HasImage {
		n++
	}
	for _, opt := range r.Options {
		if opt.HasImage {
			n++
		}
	}
	return n
}

// AttachedImageCount counts asset references actually attached.
func (r *Record) AttachedImageCount() int {
	n := len(r.OptionImages)
	if r.Image != nil {
		n++
	}
	return n
}

// OptionLabels returns the labels of all options in order.
func (r *Record) OptionLabels() []string {
	labels := make([]string, len(r.Options))
	for i, opt := range r.Options {
		labels[i] = opt.Label
	}
	return labels
}
