package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"xdsl/internal/application/port"
	"xdsl/internal/domain/model"
)

const (
	LevelCritical = "CRITICAL"
	LevelWarning  = "WARNING"

	IssueStale        = "DSL_STALE"
	IssuePendingClose = "PENDING_CLOSE"
	IssueCorrupt      = "DSL_CORRUPT"
	IssueInvalid      = "DSL_INVALID"
)

type HealthIssue struct {
	Level   string `json:"level"`
	Type    string `json:"type"`
	Key     string `json:"key"`
	Asset   string `json:"asset,omitempty"`
	Message string `json:"message"`
}

type HealthReport struct {
	Status        string        `json:"status"`
	Time          time.Time     `json:"time"`
	Checked       int           `json:"checked"`
	Issues        []HealthIssue `json:"issues"`
	CriticalCount int           `json:"critical_count"`
	WarningCount  int           `json:"warning_count"`
}

// HealthCheck inspects the store for records the engine is not keeping up
// with: active records whose last check is older than staleAfter, records
// stuck with a pending close, and records the engine refuses to evaluate.
type HealthCheck struct {
	store      port.RecordStore
	staleAfter time.Duration
	now        func() time.Time
}

func NewHealthCheck(store port.RecordStore, staleAfter time.Duration) *HealthCheck {
	if staleAfter <= 0 {
		staleAfter = 10 * time.Minute
	}
	return &HealthCheck{store: store, staleAfter: staleAfter, now: time.Now}
}

func (h *HealthCheck) Run(ctx context.Context) (*HealthReport, error) {
	keys, err := h.store.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	sort.Strings(keys)

	now := h.now()
	rep := &HealthReport{Time: now.UTC().Truncate(time.Second), Issues: []HealthIssue{}}
	for _, k := range keys {
		rec, err := h.store.Load(ctx, k)
		if errors.Is(err, model.ErrRecordNotFound) {
			continue
		}
		if err != nil {
			rep.add(HealthIssue{Level: LevelCritical, Type: IssueCorrupt, Key: k, Message: err.Error()})
			continue
		}
		if !rec.Evaluable() {
			continue
		}
		rep.Checked++

		// an invalid record is skipped every tick and has no protection
		if err := rec.Validate(); err != nil {
			rep.add(HealthIssue{Level: LevelCritical, Type: IssueInvalid, Key: k, Asset: rec.Asset, Message: err.Error()})
			continue
		}
		if rec.PendingClose {
			rep.add(HealthIssue{
				Level:   LevelCritical,
				Type:    IssuePendingClose,
				Key:     k,
				Asset:   rec.Asset,
				Message: fmt.Sprintf("close pending: %s", rec.PendingCloseReason),
			})
		}
		if rec.Active {
			switch {
			case rec.LastCheck == nil:
				rep.add(HealthIssue{Level: LevelWarning, Type: IssueStale, Key: k, Asset: rec.Asset, Message: "never checked"})
			case now.Sub(*rec.LastCheck) > h.staleAfter:
				rep.add(HealthIssue{
					Level:   LevelWarning,
					Type:    IssueStale,
					Key:     k,
					Asset:   rec.Asset,
					Message: fmt.Sprintf("last check %.0fmin ago", now.Sub(*rec.LastCheck).Minutes()),
				})
			}
		}
	}

	rep.Status = "ok"
	if rep.CriticalCount > 0 {
		rep.Status = "critical"
	}
	return rep, nil
}

func (r *HealthReport) add(i HealthIssue) {
	r.Issues = append(r.Issues, i)
	switch i.Level {
	case LevelCritical:
		r.CriticalCount++
	case LevelWarning:
		r.WarningCount++
	}
}
