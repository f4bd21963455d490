package model

import "time"

// ========== Evaluation Output ==========

const (
	StatusActive       = "active"
	StatusPendingClose = "pending_close"
	StatusClosed       = "closed"
)

type StagnationReport struct {
	Enabled        bool    `json:"enabled"`
	Triggered      bool    `json:"triggered"`
	HoursStale     float64 `json:"hours_stale"`
	ThresholdHours float64 `json:"threshold_hours"`
	MinROE         float64 `json:"min_roe"`
	CurrentROE     float64 `json:"current_roe"`
}

// Evaluation is the per-position result of one tick.
type Evaluation struct {
	Key       string    `json:"key"`
	Asset     string    `json:"asset"`
	Direction Direction `json:"direction"`
	Status    string    `json:"status"`
	Price     float64   `json:"price"`
	UPnL      float64   `json:"upnl"`
	UPnLPct   float64   `json:"upnl_pct"`
	Phase     int       `json:"phase"`

	HighWater     float64 `json:"hw"`
	Floor         float64 `json:"floor"`
	TrailingFloor float64 `json:"trailing_floor"`
	TierFloor     float64 `json:"tier_floor"`
	TierName      string  `json:"tier_name"`
	PreviousTier  string  `json:"previous_tier,omitempty"`
	TierChanged   bool    `json:"tier_changed"`
	LockedProfit  float64 `json:"locked_profit"`
	RetracePct    float64 `json:"retrace_pct"`

	BreachCount    int  `json:"breach_count"`
	BreachesNeeded int  `json:"breaches_needed"`
	Breached       bool `json:"breached"`

	ShouldClose   bool   `json:"should_close"`
	Closed        bool   `json:"closed"`
	CloseReason   string `json:"close_reason,omitempty"`
	CloseResult   string `json:"close_result,omitempty"`
	PendingClose  bool   `json:"pending_close"`
	Phase1Autocut bool   `json:"phase1_autocut"`

	ElapsedMinutes      float64          `json:"elapsed_minutes"`
	DistanceToNextTier  *float64         `json:"distance_to_next_tier_pct,omitempty"`
	ConsecutiveFailures int              `json:"consecutive_failures"`
	Stagnation          StagnationReport `json:"stagnation"`
	StagnationTriggered bool             `json:"stagnation_triggered"`
}

// ErrorEntry is a per-record failure captured without aborting the batch.
type ErrorEntry struct {
	Key                 string `json:"file"`
	Asset               string `json:"asset,omitempty"`
	Error               string `json:"error"`
	ConsecutiveFailures int    `json:"consecutive_failures,omitempty"`
	Deactivated         bool   `json:"deactivated,omitempty"`
}

// BatchReport summarises one orchestrator run.
type BatchReport struct {
	Status        string        `json:"status"`
	RunID         string        `json:"run_id"`
	Time          time.Time     `json:"time"`
	Positions     int           `json:"positions"`
	Active        int           `json:"active"`
	ClosedThisRun int           `json:"closed_this_run"`
	Results       []*Evaluation `json:"results"`
	Closed        []*Evaluation `json:"closed,omitempty"`
	Errors        []ErrorEntry  `json:"errors,omitempty"`
	AnyClosed     bool          `json:"any_closed"`
	AnyTierChange bool          `json:"any_tier_change"`
	RecordsFound  int           `json:"state_files_found"`
	Message       string        `json:"message,omitempty"`
}

// Summarize fills the aggregate counters from Results.
func (b *BatchReport) Summarize() {
	b.Positions = len(b.Results)
	b.Active = 0
	b.Closed = nil
	b.AnyTierChange = false
	for _, r := range b.Results {
		switch r.Status {
		case StatusActive:
			b.Active++
		case StatusClosed:
			b.Closed = append(b.Closed, r)
		}
		if r.TierChanged {
			b.AnyTierChange = true
		}
	}
	b.ClosedThisRun = len(b.Closed)
	b.AnyClosed = b.ClosedThisRun > 0
}
