package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"xdsl/internal/application/port"
	"xdsl/internal/domain/model"
	"xdsl/internal/infrastructure/storage"
)

// Repo keeps records as encoded JSON so every Load returns an independent copy.
type Repo struct {
	mu      sync.RWMutex
	data    map[string][]byte
	reports []*model.BatchReport
	locks   storage.KeyedMutex
	keep    int
}

func New() *Repo {
	return &Repo{data: make(map[string][]byte), keep: 100}
}

func (r *Repo) Keys(ctx context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.data))
	for k := range r.data {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

func (r *Repo) Load(ctx context.Context, key string) (*model.Record, error) {
	r.mu.RLock()
	b, ok := r.data[key]
	r.mu.RUnlock()
	if !ok {
		return nil, model.ErrRecordNotFound
	}
	return model.ParseRecord(b)
}

func (r *Repo) Save(ctx context.Context, key string, rec *model.Record) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.data[key] = b
	r.mu.Unlock()
	return nil
}

func (r *Repo) Lock(ctx context.Context, key string) (func(), error) {
	return r.locks.Lock(ctx, key)
}

// SaveReport keeps the most recent batch reports.
func (r *Repo) SaveReport(ctx context.Context, rep *model.BatchReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, rep)
	if len(r.reports) > r.keep {
		r.reports = r.reports[len(r.reports)-r.keep:]
	}
	return nil
}

// RecentReports returns up to limit reports, newest first.
func (r *Repo) RecentReports(ctx context.Context, limit int) ([]*model.BatchReport, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*model.BatchReport, 0, limit)
	for i := len(r.reports) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, r.reports[i])
	}
	return out, nil
}

func (r *Repo) Close() error { return nil }

var (
	_ port.RecordStore  = (*Repo)(nil)
	_ port.Journal      = (*Repo)(nil)
	_ port.ReportReader = (*Repo)(nil)
)
