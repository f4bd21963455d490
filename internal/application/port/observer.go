package port

import (
	"time"

	"xdsl/internal/domain/model"
)

type Observer interface {
	ObserveBatch(rep *model.BatchReport, took time.Duration)
}
