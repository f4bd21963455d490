package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"xdsl/internal/application/port"
	"xdsl/internal/domain/model"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var ErrNoCloser = errors.New("no position closer configured")

// CloseOutcome reports what happened to one close request.
type CloseOutcome struct {
	Closed   bool
	Attempts int
	Result   string
}

// CloseExecutor runs the venue close with bounded retries and records the
// outcome on the record. A close reported as "no position" counts as done.
type CloseExecutor struct {
	closer  port.PositionCloser
	timeout time.Duration
	logger  zerolog.Logger

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

func NewCloseExecutor(closer port.PositionCloser, timeout time.Duration) *CloseExecutor {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &CloseExecutor{
		closer:  closer,
		timeout: timeout,
		logger:  log.With().Str("component", "close").Logger(),
		sleep:   sleepCtx,
		now:     time.Now,
	}
}

// Execute attempts to close rec for reason and mutates its lifecycle fields.
func (e *CloseExecutor) Execute(ctx context.Context, rec *model.Record, reason string) CloseOutcome {
	if rec.Wallet == "" {
		e.markPending(rec, reason)
		return CloseOutcome{Result: "error: no wallet in state file"}
	}
	if e.closer == nil {
		e.markPending(rec, reason)
		return CloseOutcome{Result: "error: " + ErrNoCloser.Error()}
	}

	attempts := rec.CloseRetries
	if attempts < 1 {
		attempts = 1
	}
	delay := time.Duration(rec.CloseRetryDelaySec * float64(time.Second))

	req := port.CloseRequest{Wallet: rec.Wallet, Coin: rec.CloseCoin(), Reason: reason}
	var lastErr error
	for i := 1; i <= attempts; i++ {
		actx, cancel := context.WithTimeout(ctx, e.timeout)
		res, err := e.closer.ClosePosition(actx, req)
		cancel()

		if err == nil {
			out := CloseOutcome{Closed: true, Attempts: i, Result: res.Raw}
			closeReason := reason
			if res.NoPosition {
				closeReason = model.AlreadyClosedReason
				out.Result = model.AlreadyClosedReason
			}
			e.finish(rec, closeReason)
			e.logger.Info().
				Str("asset", rec.Asset).
				Int("attempt", i).
				Str("reason", closeReason).
				Msg("position closed")
			return out
		}

		lastErr = fmt.Errorf("api_error_attempt_%d: %w", i, err)
		e.logger.Warn().Err(err).Str("asset", rec.Asset).Int("attempt", i).Msg("close attempt failed")

		if i < attempts {
			if err := e.sleep(ctx, delay); err != nil {
				lastErr = err
				break
			}
		}
	}

	e.markPending(rec, reason)
	return CloseOutcome{Attempts: attempts, Result: lastErr.Error()}
}

func (e *CloseExecutor) finish(rec *model.Record, reason string) {
	rec.Active = false
	rec.PendingClose = false
	rec.PendingCloseReason = ""
	rec.ClosedAt = model.TimePtr(e.now())
	rec.CloseReason = reason
}

// markPending flags the record for a close retry on the next tick.
func (e *CloseExecutor) markPending(rec *model.Record, reason string) {
	rec.PendingClose = true
	rec.PendingCloseReason = reason
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
