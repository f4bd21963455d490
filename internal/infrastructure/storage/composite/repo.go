package composite

import (
	"context"
	"errors"

	"xdsl/internal/application/port"
	"xdsl/internal/domain/model"
)

// Journal fans a report out to every configured journal.
type Journal struct {
	journals []port.Journal
}

func New(journals ...port.Journal) *Journal {
	// nil journals are allowed; filter in constructor for safety
	out := make([]port.Journal, 0, len(journals))
	for _, j := range journals {
		if j != nil {
			out = append(out, j)
		}
	}
	return &Journal{journals: out}
}

func (c *Journal) Len() int { return len(c.journals) }

// SaveReport writes to every journal and returns the first error.
func (c *Journal) SaveReport(ctx context.Context, rep *model.BatchReport) error {
	var firstErr error
	for _, j := range c.journals {
		if err := j.SaveReport(ctx, rep); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// RecentReports reads from the first journal that can serve history.
func (c *Journal) RecentReports(ctx context.Context, limit int) ([]*model.BatchReport, error) {
	for _, j := range c.journals {
		if rr, ok := j.(port.ReportReader); ok {
			return rr.RecentReports(ctx, limit)
		}
	}
	return nil, nil
}

// Close closes every journal, joining the errors.
func (c *Journal) Close() error {
	var errs []error
	for _, j := range c.journals {
		if err := j.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var (
	_ port.Journal      = (*Journal)(nil)
	_ port.ReportReader = (*Journal)(nil)
)
