// Package store persists runtime snapshots in SQLite.
package store

import (
	"context"

	"github.com/rcliao/ctxrt/internal/model"
)

// PutParams holds parameters for storing a snapshot. A non-empty ID is kept
// (imports); otherwise a new one is generated.
type PutParams struct {
	Snapshot model.Snapshot
}

// GetParams holds parameters for retrieving a snapshot.
type GetParams struct {
	ID string // full id or unique prefix
}

// ListParams holds parameters for listing snapshots.
type ListParams struct {
	RunID string
	Label string
	Limit int
}

// RmParams holds parameters for deleting a snapshot.
type RmParams struct {
	ID   string
	Hard bool
}

// Store defines the snapshot storage interface.
type Store interface {
	// Put stores a snapshot with its contexts and memory entries.
	Put(ctx context.Context, p PutParams) (*model.Snapshot, error)

	// Get retrieves one snapshot with its full context tree.
	Get(ctx context.Context, p GetParams) (*model.Snapshot, error)

	// List lists snapshot headers (without contexts), newest first.
	List(ctx context.Context, p ListParams) ([]model.Snapshot, error)

	// Rm soft-deletes (or hard-deletes) a snapshot.
	Rm(ctx context.Context, p RmParams) error

	// Close closes the store.
	Close() error
}
