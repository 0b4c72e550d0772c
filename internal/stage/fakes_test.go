package stage

import (
	"bytes"
	"context"
	"io"
	"sync"
	"time"

	"github.com/timmy/nutrilens/internal/inference"
	"github.com/timmy/nutrilens/internal/storage"
)

// scriptedLLM answers each Complete call with the next scripted reply.
type scriptedLLM struct {
	mu      sync.Mutex
	replies []reply
	calls   []inference.Request
}

type reply struct {
	text string
	err  error
}

func (s *scriptedLLM) Complete(_ context.Context, req inference.Request) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, req)
	if len(s.replies) == 0 {
		return "", &inference.StatusError{Provider: "fake", StatusCode: 503, Message: "script exhausted"}
	}
	r := s.replies[0]
	if len(s.replies) > 1 {
		s.replies = s.replies[1:]
	}
	return r.text, r.err
}

func (s *scriptedLLM) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func answers(texts ...string) *scriptedLLM {
	s := &scriptedLLM{}
	for _, t := range texts {
		s.replies = append(s.replies, reply{text: t})
	}
	return s
}

func failing(err error) *scriptedLLM {
	return &scriptedLLM{replies: []reply{{err: err}}}
}

type urlImages struct{}

func (urlImages) Resolve(_ context.Context, ref string) (*inference.Image, error) {
	return &inference.Image{URL: ref}, nil
}

func fastRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond, Timeout: time.Second}
}

type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

var _ storage.ObjectStorage = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{objects: map[string][]byte{}, types: map[string]string{}}
}

func (m *memStore) Upload(_ context.Context, key string, r io.Reader, _ int64, contentType string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	m.types[key] = contentType
	return nil
}

func (m *memStore) Download(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memStore) GetURL(key string) string { return "https://cdn.test/" + key }

func (m *memStore) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok, nil
}
