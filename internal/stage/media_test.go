package stage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timmy/nutrilens/internal/domain"
	"github.com/timmy/nutrilens/internal/inference"
)

type fakeGenerator struct {
	img     *inference.GeneratedImage
	err     error
	prompts []string
}

func (f *fakeGenerator) GenerateImage(_ context.Context, _, prompt, _ string) (*inference.GeneratedImage, error) {
	f.prompts = append(f.prompts, prompt)
	return f.img, f.err
}

type fakeFetcher struct {
	data []byte
	ct   string
}

func (f fakeFetcher) Fetch(context.Context, string) ([]byte, string, error) {
	return f.data, f.ct, nil
}

func availableMeal() *domain.OptimizedMeal {
	return &domain.OptimizedMeal{
		Status:              domain.OutputAvailable,
		ImprovedDescription: "chicken with brown rice",
		ImagePrompt:         "chicken and brown rice on a plate",
	}
}

func TestGenerateStoresProviderBytes(t *testing.T) {
	store := newMemStore()
	gen := &fakeGenerator{img: &inference.GeneratedImage{Data: []byte("png-bytes"), Format: "png"}}
	m := NewMediaGenerator(gen, nil, store, MediaOptions{Model: "img-1", Retry: fastRetry()})

	img := m.Generate(context.Background(), "job-1", availableMeal())

	assert.Equal(t, domain.OutputAvailable, img.Status)
	assert.Equal(t, "https://cdn.test/generated/job-1.png", img.Ref)
	assert.Equal(t, []byte("png-bytes"), store.objects["generated/job-1.png"])
	assert.Equal(t, "image/png", store.types["generated/job-1.png"])
	require.Len(t, gen.prompts, 1)
	assert.Contains(t, gen.prompts[0], "chicken and brown rice on a plate")
}

func TestGenerateCopiesProviderURL(t *testing.T) {
	store := newMemStore()
	gen := &fakeGenerator{img: &inference.GeneratedImage{URL: "https://provider.test/tmp/1"}}
	m := NewMediaGenerator(gen, fakeFetcher{data: []byte("jpg"), ct: "image/jpeg"}, store, MediaOptions{Prefix: "meals", Retry: fastRetry()})

	img := m.Generate(context.Background(), "job-2", availableMeal())

	assert.Equal(t, domain.OutputAvailable, img.Status)
	assert.Equal(t, "https://cdn.test/meals/job-2.jpeg", img.Ref)
}

func TestGenerateWithoutStoreKeepsURL(t *testing.T) {
	gen := &fakeGenerator{img: &inference.GeneratedImage{URL: "https://provider.test/tmp/1"}}
	m := NewMediaGenerator(gen, nil, nil, MediaOptions{Retry: fastRetry()})

	img := m.Generate(context.Background(), "job-3", availableMeal())
	assert.Equal(t, "https://provider.test/tmp/1", img.Ref)
}

func TestGenerateUnavailable(t *testing.T) {
	gen := &fakeGenerator{err: &inference.StatusError{Provider: "fake", StatusCode: 400, Message: "content policy"}}
	m := NewMediaGenerator(gen, nil, newMemStore(), MediaOptions{Retry: fastRetry()})

	img := m.Generate(context.Background(), "job-4", availableMeal())
	assert.Equal(t, domain.OutputUnavailable, img.Status)
	assert.Contains(t, img.Reason, "content policy")

	empty := &domain.OptimizedMeal{Status: domain.OutputAvailable}
	img = m.Generate(context.Background(), "job-4", empty)
	assert.Equal(t, domain.OutputUnavailable, img.Status)
	assert.Len(t, gen.prompts, 1, "no provider call for an empty prompt")

	img = m.Generate(context.Background(), "job-4", UnavailableOptimization("x", nil))
	assert.Equal(t, domain.OutputUnavailable, img.Status)
}
