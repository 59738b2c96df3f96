package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/go-calendar-nosql/internal/domain"
)

type object struct {
	data        []byte
	contentType string
}

// ObjectStore is an in-process stand-in for the S3 store.
type ObjectStore struct {
	s       *Store
	objects map[string]object
}

func (s *Store) Objects() *ObjectStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.objectStore == nil {
		s.objectStore = &ObjectStore{s: s, objects: make(map[string]object)}
	}
	return s.objectStore
}

func (o *ObjectStore) Upload(_ context.Context, key string, r io.Reader, contentType string) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read object: %w", err)
	}
	o.s.mu.Lock()
	defer o.s.mu.Unlock()
	o.objects[key] = object{data: data, contentType: contentType}
	return "memory://" + key, nil
}

func (o *ObjectStore) Download(_ context.Context, key string) (io.ReadCloser, error) {
	o.s.mu.RLock()
	defer o.s.mu.RUnlock()
	obj, ok := o.objects[key]
	if !ok {
		return nil, fmt.Errorf("object not found: %w", domain.ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}
