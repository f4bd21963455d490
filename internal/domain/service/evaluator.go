package service

import (
	"fmt"
	"time"

	"xdsl/internal/domain/model"
)

// CloseTrigger names the rule that asked for a close.
type CloseTrigger string

const (
	TriggerNone       CloseTrigger = ""
	TriggerStagnation CloseTrigger = "stagnation"
	TriggerTimeout    CloseTrigger = "phase1_timeout"
	TriggerBreach     CloseTrigger = "breach"
	TriggerPending    CloseTrigger = "pending"
)

// Decision is the result of running the engine over one record at one price.
type Decision struct {
	Price   float64
	UPnL    float64
	UPnLPct float64

	HighWaterImproved bool
	Tier              TierChange
	Floor             FloorResult
	Breached          bool
	Stagnation        Stagnation
	Timeout           Phase1Timeout

	ShouldClose bool
	Trigger     CloseTrigger
	Reason      string
}

// Evaluate runs one tick of the DSL state machine and mutates rec in place.
// It never performs side effects; the caller executes any close.
func Evaluate(rec *model.Record, price float64, now time.Time) Decision {
	d := Decision{Price: price}

	ReconcileFloor(rec)

	d.UPnL = rec.UnrealizedPnL(price)
	d.UPnLPct = rec.UnrealizedROEPct(price)

	d.HighWaterImproved = TrackHighWater(rec, price, now)
	d.Tier = RatchetTier(rec, d.UPnLPct)
	d.Floor = EffectiveFloor(rec)
	d.Breached = ApplyBreach(rec, price, d.Floor.Effective)
	d.Stagnation = DetectStagnation(rec, price, d.UPnLPct, now)
	d.Timeout = CheckPhase1Timeout(rec, d.UPnLPct, now)

	switch {
	case d.Stagnation.Triggered:
		d.Trigger = TriggerStagnation
		d.Reason = fmt.Sprintf("Stagnation TP: ROE %.1f%%, stale %.1fh", d.UPnLPct, d.Stagnation.HoursStale)
	case d.Timeout.Triggered:
		d.Trigger = TriggerTimeout
		d.Reason = d.Timeout.Reason
	case rec.CurrentBreachCount >= d.Floor.BreachesNeeded:
		d.Trigger = TriggerBreach
		d.Reason = breachReason(rec, price, d.Floor)
	case rec.PendingClose:
		d.Trigger = TriggerPending
		d.Reason = rec.PendingCloseReason
		if d.Reason == "" {
			d.Reason = breachReason(rec, price, d.Floor)
		}
	}
	d.ShouldClose = d.Trigger != TriggerNone

	rec.LastPrice = price
	rec.LastCheck = model.TimePtr(now)
	return d
}

// RetryPending builds the decision for a record that is no longer active
// but still owes a close. Floors and tiers are left untouched.
func RetryPending(rec *model.Record, price float64, now time.Time) Decision {
	d := Decision{
		Price:       price,
		UPnL:        rec.UnrealizedPnL(price),
		UPnLPct:     rec.UnrealizedROEPct(price),
		Tier:        TierChange{Previous: rec.TierIndex(), Current: rec.TierIndex()},
		Floor:       FloorResult{Effective: rec.FloorPrice},
		ShouldClose: true,
		Trigger:     TriggerPending,
		Reason:      rec.PendingCloseReason,
	}
	if d.Reason == "" {
		d.Reason = "pending close retry"
	}
	rec.LastPrice = price
	rec.LastCheck = model.TimePtr(now)
	return d
}

func breachReason(rec *model.Record, price float64, f FloorResult) string {
	return fmt.Sprintf("DSL breach: Phase %d, %d/%d, price %s, floor %s",
		rec.Phase, rec.CurrentBreachCount, f.BreachesNeeded, formatNum(price), formatNum(Round(f.Effective, 4)))
}
