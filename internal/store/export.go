package store

import (
	"context"

	"github.com/rcliao/ctxrt/internal/model"
)

// ExportAll returns all non-deleted snapshots with their context trees,
// optionally filtered by run.
func (s *SQLiteStore) ExportAll(ctx context.Context, runID string) ([]model.Snapshot, error) {
	query := `SELECT ` + snapshotColumns + ` FROM snapshots WHERE deleted_at IS NULL`
	var args []interface{}
	if runID != "" {
		query += ` AND run_id = ?`
		args = append(args, runID)
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var snaps []model.Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range snaps {
		contexts, err := s.loadContexts(ctx, snaps[i].ID)
		if err != nil {
			return nil, err
		}
		snaps[i].Contexts = contexts
	}
	return snaps, nil
}

// Import stores snapshots from an export. Skips snapshots whose id already exists.
func (s *SQLiteStore) Import(ctx context.Context, snaps []model.Snapshot) (int, error) {
	imported := 0
	for _, snap := range snaps {
		if snap.ID != "" {
			var n int
			if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM snapshots WHERE id = ?`, snap.ID).Scan(&n); err != nil {
				return imported, err
			}
			if n > 0 {
				continue
			}
		}
		snap.DeletedAt = nil
		if _, err := s.Put(ctx, PutParams{Snapshot: snap}); err != nil {
			return imported, err
		}
		imported++
	}
	return imported, nil
}
