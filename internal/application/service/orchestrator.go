package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"xdsl/internal/application/port"
	"xdsl/internal/domain/model"
	dsvc "xdsl/internal/domain/service"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	priceFetchFailed = "price_fetch_failed"
	noRecordsMessage = "No active DSL state files found"
)

type OrchestratorDeps struct {
	Store  port.RecordStore
	Prices *PriceBook
	Closer *CloseExecutor

	// MaxFetchFailures is the ceiling for records without their own;
	// <= 0 means model.DefaultMaxFetchFailures.
	MaxFetchFailures int

	// optional
	Archiver port.Archiver
	Journal  port.Journal
	Observer port.Observer
	Clock    func() time.Time
}

// Orchestrator runs one evaluation pass over every stored record.
type Orchestrator struct {
	deps   OrchestratorDeps
	now    func() time.Time
	logger zerolog.Logger
}

func NewOrchestrator(deps OrchestratorDeps) *Orchestrator {
	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	return &Orchestrator{
		deps:   deps,
		now:    now,
		logger: log.With().Str("component", "orchestrator").Logger(),
	}
}

type recordOutcome struct {
	eval     *model.Evaluation
	err      *model.ErrorEntry
	terminal *model.Record
}

// RunBatch evaluates all active or pending-close records. Only a failure to
// enumerate the store is returned as an error; everything else is reported
// per record.
func (o *Orchestrator) RunBatch(ctx context.Context) (*model.BatchReport, error) {
	start := o.now()
	rep := &model.BatchReport{
		Status:  "ok",
		RunID:   uuid.NewString(),
		Time:    start.UTC().Truncate(time.Second),
		Results: []*model.Evaluation{},
	}

	keys, err := o.deps.Store.Keys(ctx)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	sort.Strings(keys)
	rep.RecordsFound = len(keys)

	if len(keys) == 0 {
		rep.Message = noRecordsMessage
		o.finish(ctx, rep, start)
		return rep, nil
	}

	var live []*model.Record
	for _, k := range keys {
		rec, err := o.deps.Store.Load(ctx, k)
		if err != nil || !rec.Evaluable() {
			continue
		}
		live = append(live, rec)
	}
	prices := o.deps.Prices.Fetch(ctx, live)

	for _, k := range keys {
		if ctx.Err() != nil {
			rep.Errors = append(rep.Errors, model.ErrorEntry{Key: k, Error: ctx.Err().Error()})
			continue
		}
		out := o.processRecord(ctx, k, prices)
		if out.eval != nil {
			rep.Results = append(rep.Results, out.eval)
		}
		if out.err != nil {
			rep.Errors = append(rep.Errors, *out.err)
		}
		if out.terminal != nil {
			o.archive(ctx, k, out.terminal)
		}
	}

	o.finish(ctx, rep, start)
	return rep, nil
}

func (o *Orchestrator) processRecord(ctx context.Context, key string, prices *Prices) (out recordOutcome) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error().Str("key", key).Interface("panic", r).Msg("record processing panicked")
			out = recordOutcome{err: &model.ErrorEntry{Key: key, Error: fmt.Sprintf("panic: %v", r)}}
		}
	}()

	unlock, err := o.deps.Store.Lock(ctx, key)
	if err != nil {
		return recordOutcome{err: &model.ErrorEntry{Key: key, Error: err.Error()}}
	}
	defer unlock()

	// Reload under the lock so concurrent writers are not overwritten.
	rec, err := o.deps.Store.Load(ctx, key)
	switch {
	case errors.Is(err, model.ErrRecordNotFound):
		return recordOutcome{}
	case err != nil:
		return recordOutcome{err: &model.ErrorEntry{Key: key, Error: err.Error()}}
	}
	if !rec.Evaluable() {
		return recordOutcome{}
	}
	if err := rec.Validate(); err != nil {
		o.logger.Error().Err(err).Str("key", key).Msg("record skipped")
		return recordOutcome{err: &model.ErrorEntry{Key: key, Asset: rec.Asset, Error: err.Error()}}
	}

	now := o.now()
	price, perr := prices.Resolve(rec)
	if perr != nil {
		return o.fetchFailed(ctx, key, rec, perr, now)
	}
	rec.ConsecutiveFetchFailures = 0

	var d dsvc.Decision
	if rec.Active {
		d = dsvc.Evaluate(rec, price, now)
	} else {
		d = dsvc.RetryPending(rec, price, now)
	}

	var closeOut CloseOutcome
	if d.ShouldClose {
		closeOut = o.deps.Closer.Execute(ctx, rec, d.Reason)
	}

	ev := dsvc.BuildEvaluation(key, rec, d)
	ev.Closed = closeOut.Closed
	ev.CloseResult = closeOut.Result
	out.eval = ev

	if d.Tier.Changed {
		o.logger.Info().
			Str("asset", rec.Asset).
			Str("tier", ev.TierName).
			Float64("tier_floor", ev.TierFloor).
			Int("phase", rec.Phase).
			Msg("tier advanced")
	}

	if err := o.deps.Store.Save(ctx, key, rec); err != nil {
		o.logger.Error().Err(err).Str("key", key).Msg("save record failed")
		out.err = &model.ErrorEntry{Key: key, Asset: rec.Asset, Error: fmt.Sprintf("save: %v", err)}
		return out
	}
	if closeOut.Closed {
		out.terminal = rec
	}
	return out
}

// fetchFailed counts a missing price and deactivates the record at the
// configured ceiling. No close is attempted without a price.
func (o *Orchestrator) fetchFailed(ctx context.Context, key string, rec *model.Record, cause error, now time.Time) recordOutcome {
	rec.ConsecutiveFetchFailures++
	rec.LastCheck = model.TimePtr(now)

	limit := rec.MaxFetchFailures
	if limit <= 0 {
		limit = o.deps.MaxFetchFailures
	}
	if limit <= 0 {
		limit = model.DefaultMaxFetchFailures
	}
	deactivated := rec.Active && rec.ConsecutiveFetchFailures >= limit
	if deactivated {
		rec.Active = false
		rec.CloseReason = fmt.Sprintf("Auto-deactivated: %d consecutive fetch failures", rec.ConsecutiveFetchFailures)
	}

	o.logger.Warn().
		Err(cause).
		Str("asset", rec.Asset).
		Int("failures", rec.ConsecutiveFetchFailures).
		Bool("deactivated", deactivated).
		Msg("price fetch failed")

	entry := &model.ErrorEntry{
		Key:                 key,
		Asset:               rec.Asset,
		Error:               priceFetchFailed,
		ConsecutiveFailures: rec.ConsecutiveFetchFailures,
		Deactivated:         deactivated,
	}
	if err := o.deps.Store.Save(ctx, key, rec); err != nil {
		entry.Error = fmt.Sprintf("%s; save: %v", priceFetchFailed, err)
		return recordOutcome{err: entry}
	}

	out := recordOutcome{err: entry}
	if !rec.Evaluable() {
		out.terminal = rec
	}
	return out
}

func (o *Orchestrator) archive(ctx context.Context, key string, rec *model.Record) {
	if o.deps.Archiver == nil {
		return
	}
	if err := o.deps.Archiver.Archive(ctx, key, rec); err != nil {
		o.logger.Warn().Err(err).Str("key", key).Msg("archive failed")
	}
}

func (o *Orchestrator) finish(ctx context.Context, rep *model.BatchReport, start time.Time) {
	rep.Summarize()
	if o.deps.Journal != nil {
		if err := o.deps.Journal.SaveReport(ctx, rep); err != nil {
			o.logger.Warn().Err(err).Str("run_id", rep.RunID).Msg("journal write failed")
		}
	}
	if o.deps.Observer != nil {
		o.deps.Observer.ObserveBatch(rep, o.now().Sub(start))
	}
	o.logger.Debug().
		Str("run_id", rep.RunID).
		Int("positions", rep.Positions).
		Int("closed", rep.ClosedThisRun).
		Int("errors", len(rep.Errors)).
		Msg("batch done")
}
