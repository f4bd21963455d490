package composite

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xdsl/internal/domain/model"
	"xdsl/internal/infrastructure/storage/memory"
)

type failingJournal struct {
	err    error
	calls  int
	closed bool
}

func (f *failingJournal) SaveReport(ctx context.Context, rep *model.BatchReport) error {
	f.calls++
	return f.err
}

func (f *failingJournal) Close() error {
	f.closed = true
	return f.err
}

func TestJournalFanOut(t *testing.T) {
	first := &failingJournal{err: errors.New("boom")}
	mem := memory.New()
	j := New(nil, first, mem)
	require.Equal(t, 2, j.Len())

	ctx := context.Background()
	err := j.SaveReport(ctx, &model.BatchReport{RunID: "r1"})
	assert.EqualError(t, err, "boom")
	assert.Equal(t, 1, first.calls)

	// the failing journal does not stop the rest
	reports, err := j.RecentReports(ctx, 10)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, "r1", reports[0].RunID)

	assert.Error(t, j.Close())
	assert.True(t, first.closed)
}

func TestJournalEmpty(t *testing.T) {
	j := New()
	assert.NoError(t, j.SaveReport(context.Background(), &model.BatchReport{}))
	reports, err := j.RecentReports(context.Background(), 5)
	assert.NoError(t, err)
	assert.Empty(t, reports)
}
