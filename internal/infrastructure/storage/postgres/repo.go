package postgres

import (
	"context"
	"database/sql"
	"encoding/json"

	_ "github.com/jackc/pgx/v5/stdlib"

	"xdsl/internal/application/port"
	"xdsl/internal/domain/model"
)

// Repo is a batch-report journal backed by Postgres.
type Repo struct {
	db *sql.DB
}

func New(dsn string) (*Repo, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

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
CREATE TABLE IF NOT EXISTS dsl_batch_reports (
  id BIGSERIAL PRIMARY KEY,
  run_id TEXT NOT NULL UNIQUE,
  ts_ms BIGINT NOT NULL,
  positions INT NOT NULL,
  closed INT NOT NULL,
  errors INT NOT NULL,
  payload JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_dsl_batch_reports_ts ON dsl_batch_reports(ts_ms);

CREATE TABLE IF NOT EXISTS dsl_closures (
  id BIGSERIAL PRIMARY KEY,
  run_id TEXT NOT NULL,
  key TEXT NOT NULL,
  asset TEXT NOT NULL,
  direction TEXT NOT NULL,
  price DOUBLE PRECISION NOT NULL,
  upnl_pct DOUBLE PRECISION NOT NULL,
  reason TEXT NOT NULL,
  ts_ms BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_dsl_closures_asset ON dsl_closures(asset);
`)
	return err
}

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
		INSERT INTO dsl_batch_reports(run_id, ts_ms, positions, closed, errors, payload)
		VALUES($1, $2, $3, $4, $5, $6)
		ON CONFLICT (run_id) DO NOTHING
	`, rep.RunID, ts, rep.Positions, rep.ClosedThisRun, len(rep.Errors), string(b)); err != nil {
		return err
	}
	for _, c := range rep.Closed {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO dsl_closures(run_id, key, asset, direction, price, upnl_pct, reason, ts_ms)
			VALUES($1, $2, $3, $4, $5, $6, $7, $8)
		`, rep.RunID, c.Key, c.Asset, string(c.Direction), c.Price, c.UPnLPct, c.CloseReason, ts); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// RecentReports returns up to limit reports, newest first.
func (r *Repo) RecentReports(ctx context.Context, limit int) ([]*model.BatchReport, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT payload FROM dsl_batch_reports ORDER BY ts_ms DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.BatchReport
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var rep model.BatchReport
		if err := json.Unmarshal(payload, &rep); err != nil {
			return nil, err
		}
		out = append(out, &rep)
	}
	return out, rows.Err()
}

var (
	_ port.Journal      = (*Repo)(nil)
	_ port.ReportReader = (*Repo)(nil)
)
