package service

import (
	"math"

	"xdsl/internal/domain/model"
)

// RetraceFraction normalises an ROE retrace setting. Values above 1 are
// percents (5 means 5%), anything else is already a fraction.
func RetraceFraction(v float64) float64 {
	if v > 1 {
		return v / 100
	}
	return v
}

// PriceRetrace converts an ROE retrace into a price fraction for the leverage.
func PriceRetrace(roeRetrace, leverage float64) float64 {
	if leverage <= 0 {
		return 0
	}
	return RetraceFraction(roeRetrace) / leverage
}

// ReconcileFloor recomputes the phase-1 absolute floor from the configured
// retrace and keeps whichever of computed and stored is more lenient.
// The stored floor is never tightened here; only tier advancement does that.
func ReconcileFloor(rec *model.Record) float64 {
	rp := PriceRetrace(rec.Phase1.RetraceThreshold, rec.Leverage)

	var computed float64
	if rec.IsLong() {
		computed = rec.EntryPrice * (1 - rp)
	} else {
		computed = rec.EntryPrice * (1 + rp)
	}

	final := computed
	if existing := rec.Phase1.AbsoluteFloor; existing > 0 {
		if rec.IsLong() {
			final = math.Min(computed, existing)
		} else {
			final = math.Max(computed, existing)
		}
	}

	rec.Phase1.AbsoluteFloor = final
	rec.FloorPrice = final
	return final
}

// FloorResult is the floor used for breach testing on this tick.
type FloorResult struct {
	Effective      float64
	Trailing       float64
	Retrace        float64 // price fraction applied to the high-water
	BreachesNeeded int
}

// EffectiveFloor combines the absolute or tier floor with the trailing
// floor off the high-water price. The more protective of the two wins.
func EffectiveFloor(rec *model.Record) FloorResult {
	var res FloorResult
	hw := rec.HighWaterPrice

	if rec.Phase < 2 {
		res.Retrace = PriceRetrace(rec.Phase1.RetraceThreshold, rec.Leverage)
		res.BreachesNeeded = atLeastOne(rec.Phase1.ConsecutiveBreachesRequired)
		res.Trailing = trailing(rec.IsLong(), hw, res.Retrace)
		res.Effective = tighter(rec.IsLong(), rec.Phase1.AbsoluteFloor, res.Trailing)
	} else {
		retrace, needed := phase2Params(rec)
		res.Retrace = PriceRetrace(retrace, rec.Leverage)
		res.BreachesNeeded = needed
		res.Trailing = trailing(rec.IsLong(), hw, res.Retrace)
		res.Effective = tighter(rec.IsLong(), rec.TierFloorPrice, res.Trailing)
	}

	rec.FloorPrice = res.Effective
	return res
}

// phase2Params resolves retrace and breach requirement: the tier's own
// override first, then breachesRequired's legacy synonym retraceClose,
// then the phase-2 defaults.
func phase2Params(rec *model.Record) (float64, int) {
	retrace := rec.Phase2.RetraceThreshold
	needed := rec.Phase2.ConsecutiveBreachesRequired

	if t := rec.CurrentTier(); t != nil {
		if t.Retrace != nil && *t.Retrace > 0 {
			retrace = *t.Retrace
		}
		switch {
		case t.BreachesRequired != nil && *t.BreachesRequired > 0:
			needed = *t.BreachesRequired
		case t.RetraceClose != nil && *t.RetraceClose > 0:
			needed = *t.RetraceClose
		}
	}

	if retrace <= 0 {
		retrace = model.DefaultPhase2Retrace
	}
	if needed <= 0 {
		needed = model.DefaultPhase2Breaches
	}
	return retrace, needed
}

func trailing(long bool, hw, retrace float64) float64 {
	if long {
		return hw * (1 - retrace)
	}
	return hw * (1 + retrace)
}

// tighter picks the floor closer to price. An unset base (<= 0) is ignored.
func tighter(long bool, base, trail float64) float64 {
	if base <= 0 {
		return trail
	}
	if long {
		return math.Max(base, trail)
	}
	return math.Min(base, trail)
}

func atLeastOne(n int) int {
	if n < 1 {
		return 1
	}
	return n
}
