package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"xdsl/internal/domain/model"
)

// Needs a live database: XDSL_TEST_POSTGRES_DSN=postgres://...
func TestPostgresJournal(t *testing.T) {
	dsn := os.Getenv("XDSL_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("XDSL_TEST_POSTGRES_DSN not set")
	}

	repo, err := New(dsn)
	if err != nil {
		t.Fatalf("failed to create repo: %v", err)
	}
	defer repo.Close()

	ctx := context.Background()
	runID := uuid.NewString()
	rep := &model.BatchReport{
		RunID: runID,
		Time:  time.Now().Add(time.Hour),
		Results: []*model.Evaluation{
			{Key: "ETH", Asset: "ETH", Direction: model.DirectionLong, Status: model.StatusClosed, CloseReason: "DSL breach"},
		},
	}
	rep.Summarize()

	if err := repo.SaveReport(ctx, rep); err != nil {
		t.Fatalf("SaveReport failed: %v", err)
	}
	// duplicate run ids are ignored
	if err := repo.SaveReport(ctx, &model.BatchReport{RunID: runID, Time: rep.Time}); err != nil {
		t.Fatalf("duplicate SaveReport failed: %v", err)
	}

	reports, err := repo.RecentReports(ctx, 1)
	if err != nil {
		t.Fatalf("RecentReports failed: %v", err)
	}
	if len(reports) != 1 || reports[0].RunID != runID || reports[0].ClosedThisRun != 1 {
		t.Errorf("unexpected reports %+v", reports)
	}
}
