// Package store implements the replica-local persistence layer on SQLite.
//
// The local store is a derived cache of the merged result, not an
// independent source of truth: applying a snapshot replaces every managed
// collection wholesale inside one exclusive transaction, so a mid-apply
// crash can never leave a partially replaced graph.
package store

import (
	"context"
	"time"

	"github.com/hyperengineering/watchsync/internal/model"
)

// Store is the local-store collaborator the sync layer depends on.
type Store interface {
	// ReplicaID returns this device's stable replica identity, generating
	// and persisting one on first use.
	ReplicaID(ctx context.Context) (string, error)

	// LastSyncAt returns the completion time of the last successful sync
	// cycle, or nil if the replica has never synced.
	LastSyncAt(ctx context.Context) (*time.Time, error)
	SetLastSyncAt(ctx context.Context, t time.Time) error

	// PresentKinds reports which managed entity kinds the schema actually
	// contains. The integrity scanner treats a missing kind as fatal.
	PresentKinds(ctx context.Context) ([]model.Kind, error)

	// ReadGraph bulk-reads every managed collection.
	ReadGraph(ctx context.Context) (*model.Collections, error)

	// ReplaceGraph bulk-replaces every managed collection in one
	// exclusive transaction. All-or-nothing.
	ReplaceGraph(ctx context.Context, c *model.Collections) error

	// AcquireExclusive blocks interleaved local writes for the duration
	// of a fetch→merge→apply window. The returned release func must be
	// called exactly once.
	AcquireExclusive(ctx context.Context) (release func(), err error)

	Close() error
}
