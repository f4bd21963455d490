package monitor

import (
	"context"
	"errors"
	"time"

	"xdsl/internal/application/port"
	"xdsl/internal/domain/model"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type ServiceDeps struct {
	Runner Runner
	Sink   port.Sink // optional
	State  *State    // optional, shared with the status API

	// Schedule is a cron spec with seconds, e.g. "@every 30s" or "0 */1 * * * *".
	Schedule      string
	RunTimeout    time.Duration
	PrintEveryMin int
	Color         bool
}

// Service drives the orchestrator, either once or on a cron schedule.
type Service struct {
	deps   ServiceDeps
	st     *State
	fmt    *Formatter
	logger zerolog.Logger
	now    func() time.Time
}

func NewService(deps ServiceDeps) *Service {
	st := deps.State
	if st == nil {
		st = NewState()
	}
	if deps.RunTimeout <= 0 {
		deps.RunTimeout = 2 * time.Minute
	}
	return &Service{
		deps:   deps,
		st:     st,
		fmt:    NewFormatter(deps.Color),
		logger: log.With().Str("component", "monitor").Logger(),
		now:    time.Now,
	}
}

func (s *Service) State() *State { return s.st }

// RunOnce executes a single tick and returns its report.
func (s *Service) RunOnce(ctx context.Context) (*model.BatchReport, error) {
	if s.deps.Runner == nil {
		return nil, errors.New("no runner")
	}
	rctx, cancel := context.WithTimeout(ctx, s.deps.RunTimeout)
	defer cancel()

	rep, err := s.deps.Runner.RunBatch(rctx)
	notable := s.st.Apply(rep, err, s.now())
	if err != nil {
		s.logger.Error().Err(err).Msg("batch failed")
		return nil, err
	}

	for _, c := range rep.Closed {
		s.logger.Info().
			Str("asset", c.Asset).
			Str("reason", c.CloseReason).
			Float64("price", c.Price).
			Float64("roe", c.UPnLPct).
			Msg("position closed")
	}
	for _, e := range rep.Errors {
		s.logger.Warn().Str("key", e.Key).Str("asset", e.Asset).Str("error", e.Error).Msg("record error")
	}

	if s.deps.Sink != nil {
		if notable {
			_ = s.deps.Sink.WriteSnapshot(s.now(), s.fmt.Render(rep, RenderSnapshot))
		} else {
			_ = s.deps.Sink.WriteLive(s.fmt.Render(rep, RenderLive))
		}
	}
	return rep, nil
}

// Run ticks on the configured schedule until ctx is cancelled. Overlapping
// ticks are skipped rather than queued.
func (s *Service) Run(ctx context.Context) error {
	if s.deps.Schedule == "" {
		return errors.New("no schedule")
	}

	c := cron.New(
		cron.WithSeconds(),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	if _, err := c.AddFunc(s.deps.Schedule, func() {
		_, _ = s.RunOnce(ctx)
	}); err != nil {
		return err
	}

	if s.deps.PrintEveryMin > 0 && s.deps.Sink != nil {
		spec := "@every " + (time.Duration(s.deps.PrintEveryMin) * time.Minute).String()
		if _, err := c.AddFunc(spec, func() {
			_ = s.deps.Sink.WriteSnapshot(s.now(), s.fmt.Render(s.st.Latest(), RenderSnapshot))
		}); err != nil {
			return err
		}
	}

	s.logger.Info().Str("schedule", s.deps.Schedule).Msg("monitor started")
	_, _ = s.RunOnce(ctx)
	c.Start()

	<-ctx.Done()
	stopped := c.Stop()
	<-stopped.Done()
	if s.deps.Sink != nil {
		_ = s.deps.Sink.NewLine()
	}
	s.logger.Info().Msg("monitor stopped")
	return ctx.Err()
}
