package service

import (
	"time"

	"xdsl/internal/domain/model"
)

// TrackHighWater records a new best price and stamps when it improved.
// A record without a timestamp gets one on its first tick.
func TrackHighWater(rec *model.Record, price float64, now time.Time) bool {
	improved := false
	if rec.IsLong() && price > rec.HighWaterPrice {
		improved = true
	} else if !rec.IsLong() && price < rec.HighWaterPrice {
		improved = true
	}
	if improved {
		rec.HighWaterPrice = price
	}
	if improved || rec.HighWaterTime == nil {
		rec.HighWaterTime = model.TimePtr(now)
	}
	return improved
}
