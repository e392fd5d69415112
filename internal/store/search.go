package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/rcliao/ctxrt/internal/model"
)

// SearchParams holds parameters for searching remembered values.
type SearchParams struct {
	Query      string
	SnapshotID string
	Kind       string
	Limit      int
}

// SearchResult is a semantic-memory entry together with where it was found.
type SearchResult struct {
	model.MemoryEntry
	SnapshotID  string `json:"snapshot_id"`
	ContextID   int    `json:"context_id"`
	ContextName string `json:"context_name,omitempty"`
}

// Search finds memory entries whose key or value match the query substring,
// newest snapshot first.
func (s *SQLiteStore) Search(ctx context.Context, p SearchParams) ([]SearchResult, error) {
	limit := p.Limit
	if limit <= 0 {
		limit = 20
	}

	query := "%" + p.Query + "%"
	where := []string{"s.deleted_at IS NULL", "(e.key LIKE ? OR e.value LIKE ?)"}
	args := []interface{}{query, query}

	if p.SnapshotID != "" {
		id, err := s.resolveID(ctx, p.SnapshotID)
		if err != nil {
			return nil, err
		}
		where = append(where, "s.id = ?")
		args = append(args, id)
	}
	if p.Kind != "" {
		where = append(where, "e.kind = ?")
		args = append(args, p.Kind)
	}

	sql := fmt.Sprintf(`
		SELECT e.seq, e.key, e.kind, e.value, s.id, e.ctx_id, c.name
		FROM memory_entries e
		INNER JOIN snapshots s ON s.id = e.snapshot_id
		INNER JOIN contexts c ON c.snapshot_id = e.snapshot_id AND c.ctx_id = e.ctx_id
		WHERE %s
		ORDER BY s.created_at DESC, e.seq DESC
		LIMIT ?`, strings.Join(where, " AND "))
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		var name *string
		if err := rows.Scan(&r.Seq, &r.Key, &r.Kind, &r.Value, &r.SnapshotID, &r.ContextID, &name); err != nil {
			return nil, err
		}
		if name != nil {
			r.ContextName = *name
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
