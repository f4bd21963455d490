package service

import "xdsl/internal/domain/model"

// TierChange describes what the ratchet did on one tick.
type TierChange struct {
	Previous        int // -1 when no tier had been reached
	Current         int
	Changed         bool
	PhaseTransition bool
}

// RatchetTier advances through every tier whose trigger the current ROE
// meets. Tiers are scanned in order so the highest qualifying index wins.
func RatchetTier(rec *model.Record, upnlPct float64) TierChange {
	ch := TierChange{Previous: rec.TierIndex(), Current: rec.TierIndex()}

	for i, t := range rec.Tiers {
		if i <= rec.TierIndex() {
			continue
		}
		if upnlPct < t.TriggerPct {
			continue
		}

		rec.SetTierIndex(i)
		rec.TierFloorPrice = LockedFloor(rec, t.LockPct)
		ch.Current = i
		ch.Changed = true

		if rec.Phase == 1 && i >= rec.Phase2TriggerTier {
			rec.Phase = 2
			rec.CurrentBreachCount = 0
			ch.PhaseTransition = true
		}
	}
	return ch
}

// LockedFloor is the price that keeps lockPct percent of the move from
// entry to the high-water.
func LockedFloor(rec *model.Record, lockPct float64) float64 {
	if rec.IsLong() {
		return rec.EntryPrice + (rec.HighWaterPrice-rec.EntryPrice)*lockPct/100
	}
	return rec.EntryPrice - (rec.EntryPrice-rec.HighWaterPrice)*lockPct/100
}
