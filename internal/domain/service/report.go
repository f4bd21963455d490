package service

import (
	"fmt"
	"math"
	"strconv"

	"xdsl/internal/domain/model"
)

// BuildEvaluation turns a decision into the reported per-position view.
// Values are rounded here only; the record keeps full precision.
func BuildEvaluation(key string, rec *model.Record, d Decision) *model.Evaluation {
	ev := &model.Evaluation{
		Key:            key,
		Asset:          rec.Asset,
		Direction:      rec.Direction,
		Price:          d.Price,
		UPnL:           Round(d.UPnL, 2),
		UPnLPct:        Round(d.UPnLPct, 2),
		Phase:          rec.Phase,
		HighWater:      rec.HighWaterPrice,
		Floor:          Round(d.Floor.Effective, 4),
		TrailingFloor:  Round(d.Floor.Trailing, 4),
		TierFloor:      Round(rec.TierFloorPrice, 4),
		TierName:       TierName(rec, d.Tier.Current),
		TierChanged:    d.Tier.Changed,
		LockedProfit:   Round(lockedProfit(rec), 2),
		RetracePct:     Round(RetraceFromHighWater(rec, d.Price), 2),
		BreachCount:    rec.CurrentBreachCount,
		BreachesNeeded: d.Floor.BreachesNeeded,
		Breached:       d.Breached,
		ShouldClose:    d.ShouldClose,
		CloseReason:    d.Reason,
		PendingClose:   rec.PendingClose,
		Phase1Autocut:  d.Timeout.Triggered,
		ElapsedMinutes: Round(d.Timeout.ElapsedMinutes, 1),

		ConsecutiveFailures: rec.ConsecutiveFetchFailures,
		StagnationTriggered: d.Stagnation.Triggered,
		Stagnation: model.StagnationReport{
			Enabled:        rec.Stagnation.Enabled,
			Triggered:      d.Stagnation.Triggered,
			HoursStale:     Round(d.Stagnation.HoursStale, 2),
			ThresholdHours: rec.Stagnation.StaleHours,
			MinROE:         rec.Stagnation.MinROE,
			CurrentROE:     Round(d.UPnLPct, 2),
		},
	}
	if d.Tier.Changed {
		ev.PreviousTier = TierName(rec, d.Tier.Previous)
	}
	if next := d.Tier.Current + 1; next < len(rec.Tiers) {
		dist := Round(rec.Tiers[next].TriggerPct-d.UPnLPct, 2)
		ev.DistanceToNextTier = &dist
	}
	ev.Status = Status(rec)
	return ev
}

// Status classifies a record after its tick.
func Status(rec *model.Record) string {
	switch {
	case rec.PendingClose:
		return model.StatusPendingClose
	case !rec.Active:
		return model.StatusClosed
	default:
		return model.StatusActive
	}
}

// TierName is a human label for tier index i; -1 means phase 1 without a tier.
func TierName(rec *model.Record, i int) string {
	if i < 0 || i >= len(rec.Tiers) {
		return "None (Phase 1)"
	}
	t := rec.Tiers[i]
	return fmt.Sprintf("Tier %d (%s%%→lock %s%%)", i+1, formatNum(t.TriggerPct), formatNum(t.LockPct))
}

// RetraceFromHighWater is how far price has pulled back from the high-water
// mark, in percent. Positive means price moved against the position.
func RetraceFromHighWater(rec *model.Record, price float64) float64 {
	hw := rec.HighWaterPrice
	if hw <= 0 {
		return 0
	}
	if rec.IsLong() {
		return (1 - price/hw) * 100
	}
	return (price/hw - 1) * 100
}

// lockedProfit is the P&L realised if the position exits at its tier floor.
func lockedProfit(rec *model.Record) float64 {
	if rec.TierFloorPrice <= 0 {
		return 0
	}
	return rec.UnrealizedPnL(rec.TierFloorPrice)
}

// Round rounds half away from zero to n decimals.
func Round(v float64, n int) float64 {
	p := math.Pow(10, float64(n))
	return math.Round(v*p) / p
}

func formatNum(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
