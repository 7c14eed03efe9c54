package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/plc-monitor/plcpoll-go/pkg/config"
	"github.com/plc-monitor/plcpoll-go/pkg/snapshot"
)

// SQLiteSink stores snapshots as time-series rows in SQLite.
type SQLiteSink struct {
	path string
	db   *sql.DB
	mu   sync.RWMutex
}

// Sample is one decoded value of one block at one point in time.
type Sample struct {
	Timestamp time.Time
	Sequence  uint64
	Index     int
	Value     float64
}

// NewSQLiteSink opens (and creates if needed) the database at path.
// Use ":memory:" for an in-memory database.
func NewSQLiteSink(path string) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps ":memory:" databases shared across queries.
	db.SetMaxOpenConns(1)

	// Enable foreign keys and WAL mode for better performance
	_, err = db.Exec(`
		PRAGMA foreign_keys = ON;
		PRAGMA journal_mode = WAL;
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure database: %w", err)
	}

	s := &SQLiteSink{path: path, db: db}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return s, nil
}

// migrate creates the database schema.
func (s *SQLiteSink) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS snapshots (
		id TEXT PRIMARY KEY,
		device TEXT NOT NULL,
		sequence INTEGER NOT NULL,
		taken_at DATETIME NOT NULL,
		latency_us INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS snapshot_blocks (
		snapshot_id TEXT NOT NULL REFERENCES snapshots(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		label TEXT NOT NULL,
		address TEXT NOT NULL,
		data_type TEXT NOT NULL,
		raw_json TEXT NOT NULL,
		PRIMARY KEY (snapshot_id, position)
	);

	CREATE TABLE IF NOT EXISTS samples (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		snapshot_id TEXT NOT NULL REFERENCES snapshots(id) ON DELETE CASCADE,
		device TEXT NOT NULL,
		label TEXT NOT NULL,
		idx INTEGER NOT NULL,
		taken_at DATETIME NOT NULL,
		value REAL NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_snapshots_device_taken ON snapshots(device, taken_at);
	CREATE INDEX IF NOT EXISTS idx_samples_series ON samples(device, label, taken_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Name returns "sqlite:<path>".
func (s *SQLiteSink) Name() string {
	return "sqlite:" + s.path
}

// Close closes the database connection.
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}

// Write stores one snapshot in a single transaction.
func (s *SQLiteSink) Write(ctx context.Context, snap snapshot.RegisterSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	ts := snap.Timestamp.UTC()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO snapshots (id, device, sequence, taken_at, latency_us)
		VALUES (?, ?, ?, ?, ?)
	`, snap.ID, snap.Device, snap.Sequence, ts, snap.Latency.Microseconds()); err != nil {
		return err
	}

	for pos, v := range snap.Values {
		raw, err := json.Marshal(v.Raw)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO snapshot_blocks (snapshot_id, position, label, address, data_type, raw_json)
			VALUES (?, ?, ?, ?, ?, ?)
		`, snap.ID, pos, v.Label, v.Address, string(v.Type), string(raw)); err != nil {
			return err
		}
		for i, f := range v.Decoded {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO samples (snapshot_id, device, label, idx, taken_at, value)
				VALUES (?, ?, ?, ?, ?, ?)
			`, snap.ID, snap.Device, v.Label, i, ts, f); err != nil {
				return err
			}
		}
	}

	return tx.Commit()
}

// Latest returns the most recent snapshot of device, or nil if there is
// none.
func (s *SQLiteSink) Latest(ctx context.Context, device string) (*snapshot.RegisterSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var snap snapshot.RegisterSnapshot
	var latencyUS int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, device, sequence, taken_at, latency_us
		FROM snapshots WHERE device = ?
		ORDER BY taken_at DESC, sequence DESC
		LIMIT 1
	`, device).Scan(&snap.ID, &snap.Device, &snap.Sequence, &snap.Timestamp, &latencyUS)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	snap.Latency = time.Duration(latencyUS) * time.Microsecond

	rows, err := s.db.QueryContext(ctx, `
		SELECT label, address, data_type, raw_json
		FROM snapshot_blocks WHERE snapshot_id = ?
		ORDER BY position
	`, snap.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var v snapshot.Value
		var dataType, rawJSON string
		if err := rows.Scan(&v.Label, &v.Address, &dataType, &rawJSON); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(rawJSON), &v.Raw); err != nil {
			return nil, fmt.Errorf("block %s: %w", v.Label, err)
		}
		v.Type = config.DataType(dataType)
		v.Decoded = snapshot.Decode(v.Type, v.Raw)
		snap.Values = append(snap.Values, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &snap, nil
}

// Series returns the samples of one labelled block of device in
// [from, to), oldest first.
func (s *SQLiteSink) Series(ctx context.Context, device, label string, from, to time.Time) ([]Sample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT s.taken_at, n.sequence, s.idx, s.value
		FROM samples s JOIN snapshots n ON n.id = s.snapshot_id
		WHERE s.device = ? AND s.label = ? AND s.taken_at >= ? AND s.taken_at < ?
		ORDER BY s.taken_at, s.idx
	`, device, label, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Sample
	for rows.Next() {
		var sm Sample
		if err := rows.Scan(&sm.Timestamp, &sm.Sequence, &sm.Index, &sm.Value); err != nil {
			return nil, err
		}
		out = append(out, sm)
	}
	return out, rows.Err()
}

// Count returns the number of stored snapshots.
func (s *SQLiteSink) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM snapshots`).Scan(&n)
	return n, err
}

// Compile-time interface satisfaction check.
var _ Sink = (*SQLiteSink)(nil)
