// Package persistence stores economic snapshots and executed events in SQLite.
package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/tradeworld/internal/engine"
	"github.com/talgya/tradeworld/internal/events"
)

// ErrNoState is returned by Load when nothing has been saved yet.
var ErrNoState = errors.New("persistence: no saved state")

const defaultKeep = 100

// DB wraps a SQLite connection for economic state persistence.
type DB struct {
	conn *sqlx.DB
	keep int
}

// Open opens or creates a SQLite database at path (":memory:" for a private
// in-memory database). keep bounds the number of retained snapshots.
func Open(path string, keep int) (*DB, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	if path == ":memory:" {
		dsn = path
	}
	conn, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if path == ":memory:" {
		// Every connection to :memory: is a separate database.
		conn.SetMaxOpenConns(1)
	}
	if keep <= 0 {
		keep = defaultKeep
	}

	db := &DB{conn: conn, keep: keep}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS snapshots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		tick INTEGER NOT NULL,
		taken_at TEXT NOT NULL,
		state_json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		category TEXT NOT NULL,
		severity TEXT NOT NULL,
		polarity TEXT NOT NULL,
		parent_id TEXT NOT NULL DEFAULT '',
		executed_at TEXT NOT NULL,
		payload_json TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS world_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_snapshots_tick ON snapshots(tick);
	CREATE INDEX IF NOT EXISTS idx_events_category ON events(category);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// Save inserts a snapshot, trims old ones and records the last tick.
func (db *DB) Save(ctx context.Context, st engine.EconomicState) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO snapshots (tick, taken_at, state_json) VALUES (?, ?, ?)",
		st.Tick, st.Time.UTC().Format(time.RFC3339Nano), string(data),
	); err != nil {
		return fmt.Errorf("insert snapshot %d: %w", st.Tick, err)
	}
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM snapshots WHERE id NOT IN (SELECT id FROM snapshots ORDER BY id DESC LIMIT ?)",
		db.keep,
	); err != nil {
		return fmt.Errorf("trim snapshots: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT OR REPLACE INTO world_meta (key, value) VALUES ('last_tick', ?)",
		strconv.FormatUint(st.Tick, 10),
	); err != nil {
		return fmt.Errorf("save meta: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	slog.Debug("snapshot stored", "tick", st.Tick, "bytes", len(data))
	return nil
}

// Load returns the newest snapshot, or ErrNoState.
func (db *DB) Load(ctx context.Context) (engine.EconomicState, error) {
	var data string
	err := db.conn.GetContext(ctx, &data, "SELECT state_json FROM snapshots ORDER BY id DESC LIMIT 1")
	if errors.Is(err, sql.ErrNoRows) {
		return engine.EconomicState{}, ErrNoState
	}
	if err != nil {
		return engine.EconomicState{}, fmt.Errorf("load snapshot: %w", err)
	}
	var st engine.EconomicState
	if err := json.Unmarshal([]byte(data), &st); err != nil {
		return engine.EconomicState{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return st, nil
}

// Snapshots returns how many snapshots are retained.
func (db *DB) Snapshots(ctx context.Context) (int, error) {
	var n int
	err := db.conn.GetContext(ctx, &n, "SELECT COUNT(*) FROM snapshots")
	return n, err
}

// SaveEvents appends executed events. Re-saving an event is a no-op.
func (db *DB) SaveEvents(ctx context.Context, evs []events.Event) error {
	if len(evs) == 0 {
		return nil
	}

	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, `INSERT OR IGNORE INTO events
		(id, name, category, severity, polarity, parent_id, executed_at, payload_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range evs {
		payload, err := json.Marshal(e.Payload)
		if err != nil {
			return fmt.Errorf("encode payload %s: %w", e.ID, err)
		}
		if _, err := stmt.ExecContext(ctx,
			e.ID, e.Name, e.Category.String(), e.Severity.String(), string(e.Polarity),
			e.ParentID, e.ExecutedAt.UTC().Format(time.RFC3339Nano), string(payload),
		); err != nil {
			return fmt.Errorf("insert event %s: %w", e.ID, err)
		}
	}
	return tx.Commit()
}

// EventRecord is a stored event row.
type EventRecord struct {
	ID         string `db:"id" json:"id"`
	Name       string `db:"name" json:"name"`
	Category   string `db:"category" json:"category"`
	Severity   string `db:"severity" json:"severity"`
	Polarity   string `db:"polarity" json:"polarity"`
	ParentID   string `db:"parent_id" json:"parent_id,omitempty"`
	ExecutedAt string `db:"executed_at" json:"executed_at"`
	Payload    string `db:"payload_json" json:"payload"`
}

// RecentEvents returns the most recent n stored events, newest first.
func (db *DB) RecentEvents(ctx context.Context, limit int) ([]EventRecord, error) {
	var out []EventRecord
	err := db.conn.SelectContext(ctx, &out,
		"SELECT id, name, category, severity, polarity, parent_id, executed_at, payload_json FROM events ORDER BY rowid DESC LIMIT ?",
		limit,
	)
	return out, err
}

// LastTick returns the tick recorded by the newest Save, or ErrNoState.
func (db *DB) LastTick(ctx context.Context) (uint64, error) {
	var value string
	err := db.conn.GetContext(ctx, &value, "SELECT value FROM world_meta WHERE key = 'last_tick'")
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNoState
	}
	if err != nil {
		return 0, fmt.Errorf("read last tick: %w", err)
	}
	return strconv.ParseUint(value, 10, 64)
}

var _ engine.Store = (*DB)(nil)
