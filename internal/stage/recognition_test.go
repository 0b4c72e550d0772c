package stage

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timmy/nutrilens/internal/domain"
	"github.com/timmy/nutrilens/internal/inference"
)

const plateJSON = "```json\n" + `{
  "items": [
    {"name": "Grilled Chicken", "alternatives": ["turkey"], "confidence": "High", "is_packaged": false},
    {"name": "white rice", "confidence": "medium"},
    {"name": "orange juice", "confidence": "high"},
  ],
  "calorie_risk_items": ["olive oil"],
  "visual_notes": ["rice looks buttery"]
}` + "\n```"

func TestRecognizeFiltersCategory(t *testing.T) {
	llm := answers(plateJSON)
	r := NewRecognizer(llm, "vision-1", urlImages{}, NewLexiconClassifier(nil), fastRetry())

	out, err := r.Recognize(context.Background(), RecognitionInput{ImageRef: "https://img.test/plate.jpg", Category: domain.MealCategoryDish})
	require.NoError(t, err)

	require.Len(t, out.Items, 2)
	assert.Equal(t, "Grilled Chicken", out.Items[0].Name)
	assert.Equal(t, domain.ConfidenceHigh, out.Items[0].Confidence)
	assert.Equal(t, []string{}, out.Items[1].Alternatives)
	assert.Equal(t, []string{"orange juice"}, out.Dropped)
	assert.Equal(t, []string{"olive oil"}, out.CalorieRiskItems)

	require.Equal(t, 1, llm.count())
	assert.Equal(t, "vision-1", llm.calls[0].Model)
	assert.True(t, llm.calls[0].JSON)
	assert.Equal(t, "https://img.test/plate.jpg", llm.calls[0].Image.URL)
}

func TestRecognizeEmptyItemsIsNotAnError(t *testing.T) {
	r := NewRecognizer(answers(`{"items": []}`), "m", urlImages{}, nil, fastRetry())

	out, err := r.Recognize(context.Background(), RecognitionInput{ImageRef: "k", Category: domain.MealCategoryDessert})
	require.NoError(t, err)
	assert.Empty(t, out.Items)
	assert.Equal(t, []string{}, out.VisualNotes)
}

func TestRecognizeMalformed(t *testing.T) {
	cases := map[string]string{
		"prose":           "I see a plate of chicken.",
		"missing items":   `{"visual_notes": []}`,
		"nameless item":   `{"items": [{"name": " ", "confidence": "high"}]}`,
		"bad confidence":  `{"items": [{"name": "rice", "confidence": "certain"}]}`,
		"items is object": `{"items": {"name": "rice"}}`,
	}
	for name, text := range cases {
		t.Run(name, func(t *testing.T) {
			llm := answers(text)
			r := NewRecognizer(llm, "m", urlImages{}, nil, fastRetry())

			_, err := r.Recognize(context.Background(), RecognitionInput{ImageRef: "k", Category: domain.MealCategoryDish})
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformed), "got %v", err)
			assert.Equal(t, 1, llm.count(), "malformed replies are not retried")

			var f *Failure
			require.True(t, errors.As(err, &f))
			assert.Equal(t, domain.ErrorKindMalformed, f.ErrorKind())
		})
	}
}

func TestRecognizeRetriesTransportFailures(t *testing.T) {
	llm := &scriptedLLM{replies: []reply{
		{err: &inference.StatusError{Provider: "fake", StatusCode: 502}},
		{text: `{"items": [{"name": "salad", "confidence": "low"}]}`},
	}}
	r := NewRecognizer(llm, "m", urlImages{}, nil, fastRetry())

	out, err := r.Recognize(context.Background(), RecognitionInput{ImageRef: "k", Category: domain.MealCategoryDish})
	require.NoError(t, err)
	assert.Len(t, out.Items, 1)
	assert.Equal(t, 2, llm.count())
}

func TestRecognizeGivesUpAfterMaxAttempts(t *testing.T) {
	llm := failing(&inference.StatusError{Provider: "fake", StatusCode: 503})
	r := NewRecognizer(llm, "m", urlImages{}, nil, fastRetry())

	_, err := r.Recognize(context.Background(), RecognitionInput{ImageRef: "k", Category: domain.MealCategoryDish})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTransport))
	assert.Equal(t, 3, llm.count())
}

func TestRecognizeRejectedIsNotRetried(t *testing.T) {
	llm := failing(&inference.StatusError{Provider: "fake", StatusCode: 400, Message: "bad image"})
	r := NewRecognizer(llm, "m", urlImages{}, nil, fastRetry())

	_, err := r.Recognize(context.Background(), RecognitionInput{ImageRef: "k", Category: domain.MealCategoryDish})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTransport))
	assert.Equal(t, 1, llm.count())
}

func TestRecognizeMissingImage(t *testing.T) {
	store := newMemStore()
	images := &StorageImageSource{Store: store, Inline: true, Retry: fastRetry()}
	llm := answers(`{"items": []}`)
	r := NewRecognizer(llm, "m", images, nil, fastRetry())

	_, err := r.Recognize(context.Background(), RecognitionInput{ImageRef: "uploads/nope.jpg", Category: domain.MealCategoryDish})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Zero(t, llm.count())
}

func TestLexiconClassifier(t *testing.T) {
	c := NewLexiconClassifier(catalogStub{"acai bowl": domain.MealCategoryDessert})

	cases := []struct {
		name string
		want domain.MealCategory
		ok   bool
	}{
		{"Chocolate Cake", domain.MealCategoryDessert, true},
		{"iced latte", domain.MealCategoryBeverage, true},
		{"coffee cake", domain.MealCategoryDessert, true},
		{"Acai  Bowl", domain.MealCategoryDessert, true},
		{"grilled chicken", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, ok := c.Classify(tc.name)
		assert.Equal(t, tc.ok, ok, tc.name)
		assert.Equal(t, tc.want, got, tc.name)
	}
}

type catalogStub map[string]domain.MealCategory

func (c catalogStub) CategoryOf(name string) (domain.MealCategory, bool) {
	cat, ok := c[name]
	return cat, ok
}
