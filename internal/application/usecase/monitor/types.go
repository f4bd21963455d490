package monitor

import (
	"context"

	"xdsl/internal/domain/model"
)

// Runner executes one evaluation batch.
type Runner interface {
	RunBatch(ctx context.Context) (*model.BatchReport, error)
}
