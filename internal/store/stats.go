package store

import (
	"context"
	"os"
)

// Stats holds database statistics.
type Stats struct {
	DBPath          string     `json:"db_path"`
	DBSizeBytes     int64      `json:"db_size_bytes"`
	TotalSnapshots  int        `json:"total_snapshots"`
	ActiveSnapshots int        `json:"active_snapshots"`
	TotalContexts   int        `json:"total_contexts"`
	TotalEntries    int        `json:"total_entries"`
	Runs            []RunStats `json:"runs"`
}

// RunStats holds per-run counts.
type RunStats struct {
	RunID     string `json:"run_id"`
	Snapshots int    `json:"snapshots"`
	Labels    int    `json:"labels"`
}

// Stats returns database statistics.
func (s *SQLiteStore) Stats(ctx context.Context, dbPath string) (*Stats, error) {
	st := &Stats{DBPath: dbPath}

	// DB file size
	if info, err := os.Stat(dbPath); err == nil {
		st.DBSizeBytes = info.Size()
	}

	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM snapshots`).Scan(&st.TotalSnapshots)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM snapshots WHERE deleted_at IS NULL`).Scan(&st.ActiveSnapshots)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM contexts`).Scan(&st.TotalContexts)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memory_entries`).Scan(&st.TotalEntries)

	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, COUNT(*) as cnt, COUNT(DISTINCT label) as labels
		FROM snapshots WHERE deleted_at IS NULL
		GROUP BY run_id ORDER BY cnt DESC, run_id`)
	if err != nil {
		return st, err
	}
	defer rows.Close()

	for rows.Next() {
		var r RunStats
		rows.Scan(&r.RunID, &r.Snapshots, &r.Labels)
		st.Runs = append(st.Runs, r)
	}

	return st, nil
}
