package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"xdsl/internal/application/port"
	"xdsl/internal/domain/model"
	"xdsl/internal/infrastructure/storage"
)

type Repo struct {
	db    *sql.DB
	locks storage.KeyedMutex
}

func New(path string) (*Repo, error) {
	// ensure directory exists
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		_ = os.MkdirAll(dir, 0o755)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	r := &Repo{db: db}
	if err := r.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Repo) Close() error { return r.db.Close() }

func (r *Repo) migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS records (
  key TEXT PRIMARY KEY,
  asset TEXT NOT NULL,
  active INTEGER NOT NULL,
  pending_close INTEGER NOT NULL,
  payload TEXT NOT NULL,
  updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_records_active ON records(active, pending_close);

CREATE TABLE IF NOT EXISTS batch_reports (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  run_id TEXT NOT NULL UNIQUE,
  ts_ms INTEGER NOT NULL,
  positions INTEGER NOT NULL,
  closed INTEGER NOT NULL,
  errors INTEGER NOT NULL,
  payload TEXT NOT NULL,
  created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_batch_reports_ts ON batch_reports(ts_ms);

CREATE TABLE IF NOT EXISTS closures (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  run_id TEXT NOT NULL,
  key TEXT NOT NULL,
  asset TEXT NOT NULL,
  direction TEXT NOT NULL,
  price REAL NOT NULL,
  upnl_pct REAL NOT NULL,
  reason TEXT NOT NULL,
  ts_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_closures_asset ON closures(asset);
CREATE INDEX IF NOT EXISTS idx_closures_ts ON closures(ts_ms);
`)
	return err
}

// ========== RecordStore ==========

func (r *Repo) Keys(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT key FROM records ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (r *Repo) Load(ctx context.Context, key string) (*model.Record, error) {
	var payload string
	err := r.db.QueryRowContext(ctx, `SELECT payload FROM records WHERE key=?`, key).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return model.ParseRecord([]byte(payload))
}

func (r *Repo) Save(ctx context.Context, key string, rec *model.Record) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO records(key, asset, active, pending_close, payload, updated_at)
		VALUES(?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
		asset=excluded.asset, active=excluded.active, pending_close=excluded.pending_close,
		payload=excluded.payload, updated_at=excluded.updated_at
	`, key, rec.Asset, boolInt(rec.Active), boolInt(rec.PendingClose), string(b), time.Now().UnixMilli())
	return err
}

// Lock serialises writers inside this process; the single connection
// serialises the database itself.
func (r *Repo) Lock(ctx context.Context, key string) (func(), error) {
	return r.locks.Lock(ctx, key)
}

// ========== Journal ==========

func (r *Repo) SaveReport(ctx context.Context, rep *model.BatchReport) error {
	b, err := json.Marshal(rep)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	ts := rep.Time.UnixMilli()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO batch_reports(run_id, ts_ms, positions, closed, errors, payload, created_at)
		VALUES(?, ?, ?, ?, ?, ?, ?)
	`, rep.RunID, ts, rep.Positions, rep.ClosedThisRun, len(rep.Errors), string(b), time.Now().UnixMilli()); err != nil {
		return err
	}
	for _, c := range rep.Closed {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO closures(run_id, key, asset, direction, price, upnl_pct, reason, ts_ms)
			VALUES(?, ?, ?, ?, ?, ?, ?, ?)
		`, rep.RunID, c.Key, c.Asset, string(c.Direction), c.Price, c.UPnLPct, c.CloseReason, ts); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// RecentReports returns up to limit reports, newest first.
func (r *Repo) RecentReports(ctx context.Context, limit int) ([]*model.BatchReport, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT payload FROM batch_reports ORDER BY ts_ms DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.BatchReport
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var rep model.BatchReport
		if err := json.Unmarshal([]byte(payload), &rep); err != nil {
			return nil, err
		}
		out = append(out, &rep)
	}
	return out, rows.Err()
}

// CountClosures returns how many closes were journaled for asset.
func (r *Repo) CountClosures(ctx context.Context, asset string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM closures WHERE asset=?`, asset).Scan(&n)
	return n, err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var (
	_ port.RecordStore  = (*Repo)(nil)
	_ port.Journal      = (*Repo)(nil)
	_ port.ReportReader = (*Repo)(nil)
)
