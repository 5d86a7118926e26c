package question

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func choiceRecord() *Record {
	return &Record{
		LocalID: "q1",
		Type:    SingleChoice,
		Prompt:  "What is the capital of France?",
		Options: []Option{
			{Label: "a", Text: "Paris"},
			{Label: "b", Text: "Lyon"},
			{Label: "c", Text: "Marseille"},
		},
		CorrectAnswers: []string{"a"},
		Marks:          1,
	}
}

func TestValidateChoiceOK(t *testing.T) {
	assert.NoError(t, Validate(choiceRecord()))
}

func TestValidateEmptyPrompt(t *testing.T) {
	r := choiceRecord()
	r.Prompt = "   "
	assert.Error(t, Validate(r))
}

func TestValidateUnknownType(t *testing.T) {
	r := choiceRecord()
	r.Type = "essay"
	assert.Error(t, Validate(r))
}

func TestValidateChoiceTooFewOptions(t *testing.T) {
	r := choiceRecord()
	r.Options = r.Options[:1]
	r.CorrectAnswers = []string{"a"}
	assert.Error(t, Validate(r))
}

func TestValidateDuplicateLabels(t *testing.T) {
	r := choiceRecord()
	r.Options[1].Label = "a"
	assert.Error(t, Validate(r))
}

func TestValidateAnswerNotALabel(t *testing.T) {
	r := choiceRecord()
	r.CorrectAnswers = []string{"z"}
	assert.Error(t, Validate(r))
}

func TestValidateSingleChoiceMultipleAnswers(t *testing.T) {
	r := choiceRecord()
	r.CorrectAnswers = []string{"a", "b"}
	assert.Error(t, Validate(r))

	r.Type = MultiChoice
	assert.NoError(t, Validate(r))
}

func TestValidateChoiceNoAnswers(t *testing.T) {
	r := choiceRecord()
	r.CorrectAnswers = nil
	assert.Error(t, Validate(r))
}

func TestValidateNumericNoOptions(t *testing.T) {
	r := &Record{
		Type:           Numeric,
		Prompt:         "What is 6*7?",
		Options:        []Option{{Label: "a", Text: "42"}},
		CorrectAnswers: []string{"42"},
	}
	assert.Error(t, Validate(r))

	r.Options = nil
	assert.NoError(t, Validate(r))
}

func TestValidateNumericNormalizesInPlace(t *testing.T) {
	r := &Record{
		Type:           Numeric,
		Prompt:         "Estimate g in m/s^2",
		CorrectAnswers: []string{"9.7 - 9.9"},
	}
	require.NoError(t, Validate(r))
	assert.Equal(t, "9.7 to 9.9", r.CorrectAnswers[0])
}

func TestValidateNumericBadAnswer(t *testing.T) {
	r := &Record{
		Type:           Numeric,
		Prompt:         "What is 6*7?",
		CorrectAnswers: []string{"forty-two"},
	}
	assert.Error(t, Validate(r))
}

func TestValidateFreeText(t *testing.T) {
	r := &Record{Type: FreeText, Prompt: "Explain photosynthesis."}
	assert.NoError(t, Validate(r))
}

func TestNormalizeNumericAnswer(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"42", "42", true},
		{" 3.14 ", "3.14", true},
		{"-5", "-5", true},
		{"2-5", "2 to 5", true},
		{"2 to 5", "2 to 5", true},
		{"2..5", "2 to 5", true},
		{"5-2", "2 to 5", true},
		{"-5 to -2", "-5 to -2", true},
		{"-2 - 5", "-2 to 5", true},
		{"1.5-2.5", "1.5 to 2.5", true},
		{"", "", false},
		{"abc", "", false},
		{"1 to x", "", false},
	}
	for _, tc := range cases {
		got, ok := NormalizeNumericAnswer(tc.in)
		assert.Equal(t, tc.ok, ok, "input %q", tc.in)
		if tc.ok {
			assert.Equal(t, tc.want, got, "input %q", tc.in)
		}
	}
}

func TestImageCounts(t *testing.T) {
	r := &Record{
		Type:     SingleChoice,
		Prompt:   "Identify the figure",
		HasImage: true,
		Options: []Option{
			{Label: "a", Text: "circle", HasImage: true},
			{Label: "b", Text: "square"},
		},
		CorrectAnswers: []string{"a"},
	}
	assert.Equal(t, 2, r.FlaggedImageCount())
	assert.Equal(t, 0, r.AttachedImageCount())

	r.Image = &AssetRef{ID: "q1", URL: "http://assets/q1.jpg"}
	r.OptionImages = map[string]AssetRef{"a": {ID: "q1_a", URL: "http://assets/q1_a.jpg"}}
	assert.Equal(t, 2, r.AttachedImageCount())
	assert.LessOrEqual(t, r.AttachedImageCount(), r.FlaggedImageCount())
}
