package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ========== Position Record ==========

type Direction string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
)

type BreachDecay string

const (
	BreachDecayHard BreachDecay = "hard" // non-breach resets the counter
	BreachDecaySoft BreachDecay = "soft" // non-breach decrements the counter
)

// IsolatedDex marks assets priced from a per-account clearinghouse.
const IsolatedDex = "xyz"

const (
	DefaultMaxFetchFailures     = 10
	DefaultCloseRetries         = 2
	DefaultCloseRetryDelaySec   = 3.0
	DefaultPhase1Breaches       = 3
	DefaultPhase2Retrace        = 0.05
	DefaultPhase2Breaches       = 2
	DefaultHardTimeoutMin       = 90.0
	DefaultWeakPeakMin          = 45.0
	DefaultWeakPeakROE          = 3.0
	DefaultStagnationMinROE     = 8.0
	DefaultStagnationStaleHours = 1.0
	DefaultStagnationRangePct   = 1.0
	DefaultPhase2TriggerTierIdx = 0
	AlreadyClosedReason         = "position_already_closed"
	isolatedAssetPrefix         = IsolatedDex + ":"
)

// Tier is one profit checkpoint. Retrace and breach overrides are optional.
type Tier struct {
	TriggerPct       float64  `json:"triggerPct"`
	LockPct          float64  `json:"lockPct"`
	Retrace          *float64 `json:"retrace,omitempty"`
	BreachesRequired *int     `json:"breachesRequired,omitempty"`
	RetraceClose     *int     `json:"retraceClose,omitempty"` // legacy synonym of BreachesRequired
}

type Phase1Config struct {
	RetraceThreshold            float64 `json:"retraceThreshold"`
	AbsoluteFloor               float64 `json:"absoluteFloor"`
	ConsecutiveBreachesRequired int     `json:"consecutiveBreachesRequired"`
	HardTimeoutMin              float64 `json:"hardTimeoutMin"`
	WeakPeakMin                 float64 `json:"weakPeakMin"`
	WeakPeakROE                 float64 `json:"weakPeakROE"`
}

type Phase2Config struct {
	RetraceThreshold            float64 `json:"retraceThreshold"`
	ConsecutiveBreachesRequired int     `json:"consecutiveBreachesRequired"`
}

type StagnationConfig struct {
	Enabled       bool    `json:"enabled"`
	MinROE        float64 `json:"minROE"`
	StaleHours    float64 `json:"staleHours"`
	PriceRangePct float64 `json:"priceRangePct"`
}

// Record is the durable per-position DSL state. The JSON layout is the
// on-disk format shared with the legacy state files.
type Record struct {
	Asset     string    `json:"asset"`
	Direction Direction `json:"direction"`
	Wallet    string    `json:"wallet,omitempty"`
	Dex       string    `json:"dex,omitempty"`

	EntryPrice float64 `json:"entryPrice"`
	Size       float64 `json:"size"`
	Leverage   float64 `json:"leverage"`

	HighWaterPrice float64    `json:"highWaterPrice"`
	HighWaterTime  *time.Time `json:"hwTimestamp,omitempty"`

	Phase             int          `json:"phase"`
	Tiers             []Tier       `json:"tiers"`
	CurrentTierIndex  *int         `json:"currentTierIndex"`
	TierFloorPrice    float64      `json:"tierFloorPrice"`
	Phase1            Phase1Config `json:"phase1"`
	Phase2            Phase2Config `json:"phase2"`
	Phase2TriggerTier int          `json:"phase2TriggerTier"`
	FloorPrice        float64      `json:"floorPrice"`

	BreachDecay        BreachDecay      `json:"breachDecay"`
	CurrentBreachCount int              `json:"currentBreachCount"`
	Stagnation         StagnationConfig `json:"stagnation"`
	PeakROE            *float64         `json:"peakROE,omitempty"`

	CreatedAt *time.Time `json:"createdAt,omitempty"`
	LastCheck *time.Time `json:"lastCheck,omitempty"`
	LastPrice float64    `json:"lastPrice,omitempty"`

	Active             bool       `json:"active"`
	PendingClose       bool       `json:"pendingClose"`
	PendingCloseReason string     `json:"pendingCloseReason,omitempty"`
	ClosedAt           *time.Time `json:"closedAt,omitempty"`
	CloseReason        string     `json:"closeReason,omitempty"`

	ConsecutiveFetchFailures int     `json:"consecutiveFetchFailures"`
	MaxFetchFailures         int     `json:"maxFetchFailures,omitempty"` // 0 inherits the process ceiling
	CloseRetries             int     `json:"closeRetries"`
	CloseRetryDelaySec       float64 `json:"closeRetryDelaySec"`
}

// defaultRecord holds every default applied when a field is absent.
func defaultRecord() Record {
	return Record{
		Direction: DirectionLong,
		Phase:     1,
		Phase1: Phase1Config{
			ConsecutiveBreachesRequired: DefaultPhase1Breaches,
			HardTimeoutMin:              DefaultHardTimeoutMin,
			WeakPeakMin:                 DefaultWeakPeakMin,
			WeakPeakROE:                 DefaultWeakPeakROE,
		},
		Phase2: Phase2Config{
			RetraceThreshold:            DefaultPhase2Retrace,
			ConsecutiveBreachesRequired: DefaultPhase2Breaches,
		},
		Phase2TriggerTier: DefaultPhase2TriggerTierIdx,
		BreachDecay:       BreachDecayHard,
		Stagnation: StagnationConfig{
			Enabled:       true,
			MinROE:        DefaultStagnationMinROE,
			StaleHours:    DefaultStagnationStaleHours,
			PriceRangePct: DefaultStagnationRangePct,
		},
		CloseRetries:       DefaultCloseRetries,
		CloseRetryDelaySec: DefaultCloseRetryDelaySec,
	}
}

// UnmarshalJSON decodes over a defaulted record, so fields missing from
// older state files keep their safe defaults.
func (r *Record) UnmarshalJSON(b []byte) error {
	type plain Record
	rec := plain(defaultRecord())
	if err := json.Unmarshal(b, &rec); err != nil {
		return err
	}
	*r = Record(rec)
	r.normalize()
	return nil
}

func (r *Record) normalize() {
	r.Direction = Direction(strings.ToUpper(strings.TrimSpace(string(r.Direction))))
	if r.Direction == "" {
		r.Direction = DirectionLong
	}
	r.BreachDecay = BreachDecay(strings.ToLower(strings.TrimSpace(string(r.BreachDecay))))
	if r.BreachDecay != BreachDecaySoft {
		r.BreachDecay = BreachDecayHard
	}
	if r.CurrentTierIndex != nil && *r.CurrentTierIndex < 0 {
		r.CurrentTierIndex = nil
	}
	if r.CurrentBreachCount < 0 {
		r.CurrentBreachCount = 0
	}
	if r.HighWaterPrice <= 0 {
		r.HighWaterPrice = r.EntryPrice
	}
}

// NewRecord builds a fresh phase-1 record with the default tier ladder.
func NewRecord(asset string, dir Direction, entry, size, leverage, retracePct float64, now time.Time) *Record {
	rec := defaultRecord()
	rec.Asset = asset
	rec.Direction = dir
	rec.EntryPrice = entry
	rec.Size = size
	rec.Leverage = leverage
	rec.HighWaterPrice = entry
	rec.Phase1.RetraceThreshold = retracePct
	rec.Tiers = DefaultTiers()
	rec.Active = true
	created := now.UTC()
	rec.CreatedAt = &created
	rec.normalize()
	return &rec
}

// DefaultTiers is the ladder used when a record is created without one.
func DefaultTiers() []Tier {
	return []Tier{
		{TriggerPct: 5, LockPct: 50},
		{TriggerPct: 10, LockPct: 65},
		{TriggerPct: 20, LockPct: 80},
		{TriggerPct: 40, LockPct: 90},
	}
}

// Validate reports whether the record carries enough to be evaluated.
func (r *Record) Validate() error {
	switch {
	case strings.TrimSpace(r.Asset) == "":
		return fmt.Errorf("%w: asset empty", ErrInvalidRecord)
	case r.Direction != DirectionLong && r.Direction != DirectionShort:
		return fmt.Errorf("%w: direction %q", ErrInvalidRecord, r.Direction)
	case r.EntryPrice <= 0 || r.Size <= 0 || r.Leverage <= 0:
		return fmt.Errorf("%w: entry/size/leverage must be positive", ErrInvalidRecord)
	case r.Phase != 1 && r.Phase != 2:
		return fmt.Errorf("%w: phase %d", ErrInvalidRecord, r.Phase)
	case r.Phase1.RetraceThreshold <= 0:
		return fmt.Errorf("%w: phase1.retraceThreshold must be positive", ErrInvalidRecord)
	}
	if r.Wallet != "" && !common.IsHexAddress(r.Wallet) {
		return fmt.Errorf("%w: wallet %q is not a hex address", ErrInvalidRecord, r.Wallet)
	}
	return nil
}

func (r *Record) IsLong() bool { return r.Direction != DirectionShort }

// IsIsolated reports whether the asset is priced per account rather than
// from the shared mid-price book.
func (r *Record) IsIsolated() bool {
	return strings.EqualFold(r.Dex, IsolatedDex) || strings.HasPrefix(r.Asset, isolatedAssetPrefix)
}

// CloseCoin is the instrument name the venue expects for price lookup and close.
func (r *Record) CloseCoin() string {
	if strings.HasPrefix(r.Asset, isolatedAssetPrefix) || !r.IsIsolated() {
		return r.Asset
	}
	return isolatedAssetPrefix + r.Asset
}

// Evaluable reports whether the batch should look at the record at all.
func (r *Record) Evaluable() bool { return r.Active || r.PendingClose }

// TierIndex returns the current tier index or -1 when no tier is reached.
func (r *Record) TierIndex() int {
	if r.CurrentTierIndex == nil {
		return -1
	}
	return *r.CurrentTierIndex
}

func (r *Record) SetTierIndex(i int) {
	r.CurrentTierIndex = &i
}

// CurrentTier returns the active tier, or nil.
func (r *Record) CurrentTier() *Tier {
	i := r.TierIndex()
	if i < 0 || i >= len(r.Tiers) {
		return nil
	}
	return &r.Tiers[i]
}

// Margin is the equity committed to the position.
func (r *Record) Margin() float64 {
	if r.Leverage <= 0 {
		return 0
	}
	return r.EntryPrice * r.Size / r.Leverage
}

func (r *Record) UnrealizedPnL(price float64) float64 {
	if r.IsLong() {
		return (price - r.EntryPrice) * r.Size
	}
	return (r.EntryPrice - price) * r.Size
}

// UnrealizedROEPct is unrealized P&L over margin, in percent.
func (r *Record) UnrealizedROEPct(price float64) float64 {
	m := r.Margin()
	if m <= 0 {
		return 0
	}
	return r.UnrealizedPnL(price) / m * 100
}

// Clone returns a deep copy.
func (r *Record) Clone() *Record {
	b, err := json.Marshal(r)
	if err != nil {
		cp := *r
		return &cp
	}
	var out Record
	if err := json.Unmarshal(b, &out); err != nil {
		cp := *r
		return &cp
	}
	return &out
}

// ParseRecord decodes a stored record, wrapping decode failures in ErrCorruptRecord.
func ParseRecord(b []byte) (*Record, error) {
	var r Record
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	return &r, nil
}

// TimePtr returns now truncated to seconds in UTC, matching the state-file format.
func TimePtr(t time.Time) *time.Time {
	u := t.UTC().Truncate(time.Second)
	return &u
}
