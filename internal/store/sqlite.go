package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/rcliao/ctxrt/internal/errors"
	"github.com/rcliao/ctxrt/internal/logging"
	"github.com/rcliao/ctxrt/internal/model"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db  *sql.DB
	log *zap.SugaredLogger

	mu      sync.Mutex // guards entropy
	entropy *rand.Rand
}

// NewSQLiteStore opens or creates a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create db dir")
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)")
	if err != nil {
		return nil, errors.Wrap(err, "open db")
	}

	s := newStore(db)
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "migrate")
	}

	return s, nil
}

func newStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{
		db:      db,
		log:     logging.Named(nil, "store"),
		entropy: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (s *SQLiteStore) newID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS snapshots (
		id          TEXT PRIMARY KEY,
		run_id      TEXT NOT NULL,
		label       TEXT,
		program     TEXT,
		result      TEXT,
		created_at  TEXT NOT NULL,
		deleted_at  TEXT,
		ceiling     INTEGER NOT NULL DEFAULT 0,
		allocated   INTEGER NOT NULL DEFAULT 0,
		used        INTEGER NOT NULL DEFAULT 0,
		regions     INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_snapshots_run ON snapshots(run_id);
	CREATE INDEX IF NOT EXISTS idx_snapshots_created ON snapshots(created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_snapshots_deleted ON snapshots(deleted_at);

	CREATE TABLE IF NOT EXISTS contexts (
		snapshot_id TEXT NOT NULL REFERENCES snapshots(id) ON DELETE CASCADE,
		ctx_id      INTEGER NOT NULL,
		parent      INTEGER NOT NULL,
		name        TEXT,
		state       TEXT NOT NULL,
		attention   REAL NOT NULL,
		active      INTEGER NOT NULL DEFAULT 0,
		region_id   TEXT NOT NULL,
		region_kind TEXT NOT NULL,
		capacity    INTEGER NOT NULL,
		used        INTEGER NOT NULL,
		bindings    TEXT,
		PRIMARY KEY (snapshot_id, ctx_id)
	);

	CREATE TABLE IF NOT EXISTS memory_entries (
		snapshot_id TEXT NOT NULL REFERENCES snapshots(id) ON DELETE CASCADE,
		ctx_id      INTEGER NOT NULL,
		seq         INTEGER NOT NULL,
		key         TEXT NOT NULL,
		kind        TEXT NOT NULL,
		value       TEXT NOT NULL,
		PRIMARY KEY (snapshot_id, ctx_id, key)
	);
	CREATE INDEX IF NOT EXISTS idx_entries_key ON memory_entries(key);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Put(ctx context.Context, p PutParams) (*model.Snapshot, error) {
	snap := p.Snapshot
	if snap.ID == "" {
		snap.ID = s.newID()
	}
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var label, program, result *string
	if snap.Label != "" {
		label = &snap.Label
	}
	if snap.Program != "" {
		program = &snap.Program
	}
	if snap.Result != "" {
		result = &snap.Result
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO snapshots (id, run_id, label, program, result, created_at, ceiling, allocated, used, regions)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.ID, snap.RunID, label, program, result, snap.CreatedAt.UTC().Format(timeFormat),
		snap.Memory.Ceiling, snap.Memory.Allocated, snap.Memory.Used, snap.Memory.Regions)
	if err != nil {
		return nil, errors.Wrap(err, "insert snapshot")
	}

	for _, c := range snap.Contexts {
		var bindings *string
		if len(c.Bindings) > 0 {
			b, _ := json.Marshal(c.Bindings)
			s := string(b)
			bindings = &s
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO contexts (snapshot_id, ctx_id, parent, name, state, attention, active,
			                       region_id, region_kind, capacity, used, bindings)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			snap.ID, c.ID, c.Parent, c.Name, c.State, c.Attention, c.Active,
			c.RegionID, c.RegionKind, c.Capacity, c.Used, bindings)
		if err != nil {
			return nil, errors.Wrapf(err, "insert context %d", c.ID)
		}
		for _, e := range c.Memory {
			_, err = tx.ExecContext(ctx,
				`INSERT INTO memory_entries (snapshot_id, ctx_id, seq, key, kind, value)
				 VALUES (?, ?, ?, ?, ?, ?)`,
				snap.ID, c.ID, e.Seq, e.Key, e.Kind, e.Value)
			if err != nil {
				return nil, errors.Wrapf(err, "insert memory entry %q", e.Key)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	s.log.Debugw("put", "snapshot", snap.ID, "contexts", len(snap.Contexts))
	return &snap, nil
}

// timeFormat keeps stored timestamps fixed-width so they sort as text.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

const snapshotColumns = `id, run_id, label, program, result, created_at, deleted_at, ceiling, allocated, used, regions`

func (s *SQLiteStore) Get(ctx context.Context, p GetParams) (*model.Snapshot, error) {
	id, err := s.resolveID(ctx, p.ID)
	if err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+snapshotColumns+` FROM snapshots WHERE id = ? AND deleted_at IS NULL`, id)
	snap, err := scanSnapshot(row)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrSnapshotNotFound, "%s", p.ID)
	}

	contexts, err := s.loadContexts(ctx, id)
	if err != nil {
		return nil, err
	}
	snap.Contexts = contexts
	return &snap, nil
}

func (s *SQLiteStore) loadContexts(ctx context.Context, id string) ([]model.ContextRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ctx_id, parent, name, state, attention, active, region_id, region_kind, capacity, used, bindings
		 FROM contexts WHERE snapshot_id = ? ORDER BY ctx_id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var contexts []model.ContextRecord
	index := map[int]int{}
	for rows.Next() {
		var c model.ContextRecord
		var name, bindings sql.NullString
		if err := rows.Scan(&c.ID, &c.Parent, &name, &c.State, &c.Attention, &c.Active,
			&c.RegionID, &c.RegionKind, &c.Capacity, &c.Used, &bindings); err != nil {
			return nil, err
		}
		c.Name = name.String
		if bindings.Valid {
			json.Unmarshal([]byte(bindings.String), &c.Bindings)
		}
		index[c.ID] = len(contexts)
		contexts = append(contexts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	entries, err := s.db.QueryContext(ctx,
		`SELECT ctx_id, seq, key, kind, value FROM memory_entries
		 WHERE snapshot_id = ? ORDER BY ctx_id, seq`, id)
	if err != nil {
		return nil, err
	}
	defer entries.Close()
	for entries.Next() {
		var ctxID int
		var e model.MemoryEntry
		if err := entries.Scan(&ctxID, &e.Seq, &e.Key, &e.Kind, &e.Value); err != nil {
			return nil, err
		}
		if i, ok := index[ctxID]; ok {
			contexts[i].Memory = append(contexts[i].Memory, e)
		}
	}
	return contexts, entries.Err()
}

func (s *SQLiteStore) List(ctx context.Context, p ListParams) ([]model.Snapshot, error) {
	limit := p.Limit
	if limit <= 0 {
		limit = 20
	}

	where := []string{"deleted_at IS NULL"}
	var args []interface{}
	if p.RunID != "" {
		where = append(where, "run_id = ?")
		args = append(args, p.RunID)
	}
	if p.Label != "" {
		where = append(where, "label = ?")
		args = append(args, p.Label)
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+snapshotColumns+` FROM snapshots WHERE `+strings.Join(where, " AND ")+
			` ORDER BY created_at DESC, id DESC LIMIT ?`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snaps []model.Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

func (s *SQLiteStore) Rm(ctx context.Context, p RmParams) error {
	id, err := s.resolveID(ctx, p.ID)
	if err != nil {
		return err
	}
	if p.Hard {
		_, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE id = ?`, id)
		return err
	}
	now := time.Now().UTC().Format(timeFormat)
	_, err = s.db.ExecContext(ctx, `UPDATE snapshots SET deleted_at = ? WHERE id = ?`, now, id)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// resolveID expands a unique id prefix of a non-deleted snapshot.
func (s *SQLiteStore) resolveID(ctx context.Context, prefix string) (string, error) {
	if prefix == "" {
		return "", errors.Wrap(errors.ErrSnapshotNotFound, "empty id")
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM snapshots WHERE id LIKE ? AND deleted_at IS NULL LIMIT 2`,
		strings.ToUpper(prefix)+"%")
	if err != nil {
		return "", err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return "", err
		}
		ids = append(ids, id)
	}
	switch len(ids) {
	case 0:
		return "", errors.Wrapf(errors.ErrSnapshotNotFound, "%s", prefix)
	case 1:
		return ids[0], nil
	}
	return "", errors.Wrapf(errors.ErrAmbiguousID, "%s", prefix)
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSnapshot(row scanner) (model.Snapshot, error) {
	var snap model.Snapshot
	var label, program, result, deletedAt sql.NullString
	var createdAt string

	err := row.Scan(
		&snap.ID, &snap.RunID, &label, &program, &result, &createdAt, &deletedAt,
		&snap.Memory.Ceiling, &snap.Memory.Allocated, &snap.Memory.Used, &snap.Memory.Regions,
	)
	if err != nil {
		return snap, err
	}

	snap.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	snap.Label = label.String
	snap.Program = program.String
	snap.Result = result.String
	if deletedAt.Valid {
		t, _ := time.Parse(time.RFC3339Nano, deletedAt.String)
		snap.DeletedAt = &t
	}
	return snap, nil
}
