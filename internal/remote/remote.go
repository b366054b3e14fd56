// Package remote defines the opaque object-store collaborator snapshots
// are published through, and its implementations. The contract is
// deliberately small: get, compare-and-swap put, delete. There are no
// multi-key transactions and no server-side merge — correctness comes from
// the merge engine, the store only has to refuse stale writes.
package remote

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound: the object does not exist — or does not exist *yet*;
	// eventually-consistent stores may return this shortly after another
	// replica's write.
	ErrNotFound = errors.New("remote object not found")

	// ErrConflict: a conditional put lost the race — the object's
	// version no longer matches the expected one.
	ErrConflict = errors.New("remote version conflict")

	// ErrPermissionDenied: the caller may read but not write.
	ErrPermissionDenied = errors.New("remote write permission denied")

	// ErrUnavailable: the store is unreachable.
	ErrUnavailable = errors.New("remote store unavailable")
)

// Record is one stored object: an opaque payload plus the metadata the
// store tracks about it.
type Record struct {
	Payload    []byte
	Version    string // opaque change tag; input to conditional puts
	Writer     string
	ModifiedAt time.Time
}

// Store is the remote object-store contract.
type Store interface {
	// Get fetches the record at key, or ErrNotFound.
	Get(ctx context.Context, key string) (*Record, error)

	// Put writes payload at key and returns the new version tag.
	// An empty expectedVersion means create-only: the put fails with
	// ErrConflict if the object already exists. A non-empty
	// expectedVersion replaces the object only while its version still
	// matches; a mismatch is ErrConflict and signals re-fetch-and-merge,
	// never silent overwrite.
	Put(ctx context.Context, key string, payload []byte, writer string, expectedVersion string) (string, error)

	// Delete removes the object. Deleting an absent key is ErrNotFound.
	Delete(ctx context.Context, key string) error
}
