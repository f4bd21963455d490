package port

import (
	"context"

	"xdsl/internal/domain/model"
)

// RecordStore persists one record per key.
type RecordStore interface {
	// Keys lists every stored record key.
	Keys(ctx context.Context) ([]string, error)
	// Load returns model.ErrRecordNotFound for unknown keys and
	// model.ErrCorruptRecord when the stored payload cannot be decoded.
	Load(ctx context.Context, key string) (*model.Record, error)
	Save(ctx context.Context, key string, rec *model.Record) error
	// Lock takes the per-record exclusive lock for a read-modify-write.
	Lock(ctx context.Context, key string) (unlock func(), err error)

	Close() error
}

// Journal keeps the history of batch reports.
type Journal interface {
	SaveReport(ctx context.Context, rep *model.BatchReport) error
	Close() error
}

// Archiver receives records that reached a terminal state.
type Archiver interface {
	Archive(ctx context.Context, key string, rec *model.Record) error
}

// ReportReader is implemented by journals that can serve history back.
type ReportReader interface {
	RecentReports(ctx context.Context, limit int) ([]*model.BatchReport, error)
}
