package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
)

// InMemoryStore is a Store backed by an in-process map, used by tests and by
// the in-memory broker harness that exercises the middleware stack without a
// live S3 bucket.
type InMemoryStore struct {
	mu   sync.RWMutex
	objs map[string]*object // key -> object
}

type object struct {
	id       string
	data     []byte
	metadata map[string]string
}

// NewInMemoryStore returns an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{objs: make(map[string]*object)}
}

func (s *InMemoryStore) IDByKey(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.objs[key]
	if !ok {
		return "", ErrNotFound
	}
	return o.id, nil
}

func (s *InMemoryStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.objs[key]
	return ok, nil
}

func (s *InMemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objs[key]; !ok {
		return ErrNotFound
	}
	delete(s.objs, key)
	return nil
}

func (s *InMemoryStore) Upload(_ context.Context, key string, r io.Reader, metadata map[string]string) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read upload body: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.New().String()
	s.objs[key] = &object{id: id, data: data, metadata: metadata}
	return id, nil
}

func (s *InMemoryStore) Download(_ context.Context, key string, w io.Writer) error {
	s.mu.RLock()
	o, ok := s.objs[key]
	s.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}
	_, err := w.Write(o.data)
	return err
}

func (s *InMemoryStore) ReadString(ctx context.Context, key string) (string, error) {
	var buf bytes.Buffer
	if err := s.Download(ctx, key, &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (s *InMemoryStore) WriteString(ctx context.Context, key, str string) (string, error) {
	return s.Upload(ctx, key, bytes.NewBufferString(str), nil)
}

func (s *InMemoryStore) Metadata(_ context.Context, key string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.objs[key]
	if !ok {
		return nil, ErrNotFound
	}
	return o.metadata, nil
}
