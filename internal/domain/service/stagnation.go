package service

import (
	"math"
	"time"

	"xdsl/internal/domain/model"
)

type Stagnation struct {
	Triggered  bool
	HoursStale float64
}

// DetectStagnation flags a profitable position whose high-water has not
// improved for staleHours while price stayed within priceRangePct of it.
func DetectStagnation(rec *model.Record, price, upnlPct float64, now time.Time) Stagnation {
	var s Stagnation
	cfg := rec.Stagnation
	if !cfg.Enabled || upnlPct < cfg.MinROE || rec.HighWaterTime == nil {
		return s
	}

	s.HoursStale = now.Sub(*rec.HighWaterTime).Hours()
	if s.HoursStale < cfg.StaleHours {
		return s
	}

	hw := rec.HighWaterPrice
	if hw <= 0 {
		return s
	}
	if math.Abs(price-hw)/hw*100 <= cfg.PriceRangePct {
		s.Triggered = true
	}
	return s
}
