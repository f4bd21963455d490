package service

import (
	"fmt"
	"math"
	"time"

	"xdsl/internal/domain/model"
)

type Phase1Timeout struct {
	Triggered      bool
	Reason         string
	ElapsedMinutes float64
	PeakROE        float64
}

// ElapsedMinutes is the age of the record, or 0 when createdAt is unknown.
func ElapsedMinutes(rec *model.Record, now time.Time) float64 {
	if rec.CreatedAt == nil {
		return 0
	}
	return math.Max(0, now.Sub(*rec.CreatedAt).Minutes())
}

// CheckPhase1Timeout tracks the phase-1 peak ROE and applies the hard
// ceiling and the weak-peak early cut. A zero minute threshold disables
// the corresponding rule.
func CheckPhase1Timeout(rec *model.Record, upnlPct float64, now time.Time) Phase1Timeout {
	out := Phase1Timeout{ElapsedMinutes: ElapsedMinutes(rec, now)}
	if rec.Phase != 1 || out.ElapsedMinutes <= 0 {
		return out
	}

	peak := upnlPct
	if rec.PeakROE != nil && *rec.PeakROE > peak {
		peak = *rec.PeakROE
	}
	rec.PeakROE = &peak
	out.PeakROE = peak

	cfg := rec.Phase1
	elapsed := out.ElapsedMinutes
	switch {
	case cfg.HardTimeoutMin > 0 && elapsed >= cfg.HardTimeoutMin:
		out.Triggered = true
		out.Reason = fmt.Sprintf("Phase 1 timeout: %.0fmin, ROE never hit %s", elapsed, firstTierLabel(rec))
	case cfg.WeakPeakMin > 0 && elapsed >= cfg.WeakPeakMin && peak < cfg.WeakPeakROE && upnlPct < peak:
		out.Triggered = true
		out.Reason = fmt.Sprintf("Weak peak early cut: %.0fmin, peak ROE %.1f%%, now declining", elapsed, peak)
	}
	return out
}

func firstTierLabel(rec *model.Record) string {
	if len(rec.Tiers) == 0 {
		return "Tier 1"
	}
	return fmt.Sprintf("Tier 1 (%s%%)", formatNum(rec.Tiers[0].TriggerPct))
}
