package remote

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore is an in-process Store used by tests and local development.
// It honors the same compare-and-swap semantics as the S3 implementation.
type MemoryStore struct {
	mu      sync.Mutex
	objects map[string]*Record
	seq     int

	// ReadOnly makes every Put fail with ErrPermissionDenied,
	// simulating revoked write access.
	ReadOnly bool

	// Now is swappable for tests.
	Now func() time.Time
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		objects: make(map[string]*Record),
		Now:     time.Now,
	}
}

// Get fetches a copy of the record at key.
func (m *MemoryStore) Get(ctx context.Context, key string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.objects[key]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	cp.Payload = append([]byte(nil), rec.Payload...)
	return &cp, nil
}

// Put stores payload under key with create-only / compare-and-swap
// semantics (see Store.Put).
func (m *MemoryStore) Put(ctx context.Context, key string, payload []byte, writer string, expectedVersion string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ReadOnly {
		return "", ErrPermissionDenied
	}

	current, exists := m.objects[key]
	switch {
	case expectedVersion == "" && exists:
		return "", fmt.Errorf("create of existing object %q: %w", key, ErrConflict)
	case expectedVersion != "" && !exists:
		return "", fmt.Errorf("replace of absent object %q: %w", key, ErrConflict)
	case expectedVersion != "" && current.Version != expectedVersion:
		return "", fmt.Errorf("version %q does not match %q: %w", expectedVersion, current.Version, ErrConflict)
	}

	m.seq++
	rec := &Record{
		Payload:    append([]byte(nil), payload...),
		Version:    fmt.Sprintf("v%d", m.seq),
		Writer:     writer,
		ModifiedAt: m.Now(),
	}
	m.objects[key] = rec
	return rec.Version, nil
}

// Delete removes the object at key.
func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[key]; !ok {
		return ErrNotFound
	}
	delete(m.objects, key)
	return nil
}
