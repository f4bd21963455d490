package monitor

import (
	"sync"
	"time"

	"xdsl/internal/domain/model"
)

// State keeps the latest batch outcome for the console and the status API.
type State struct {
	mu sync.RWMutex

	latest    *model.BatchReport
	lastErr   error
	lastRunAt time.Time
	runs      int
	failures  int
	closed    int
}

func NewState() *State { return &State{} }

// Apply records a finished run. It returns true when the run closed or
// advanced at least one position.
func (s *State) Apply(rep *model.BatchReport, err error, at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs++
	s.lastRunAt = at
	s.lastErr = err
	if err != nil {
		s.failures++
		return false
	}
	s.latest = rep
	s.closed += rep.ClosedThisRun
	return rep.AnyClosed || rep.AnyTierChange
}

// Latest returns the last successful report, or nil.
func (s *State) Latest() *model.BatchReport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest
}

type Stats struct {
	Runs      int       `json:"runs"`
	Failures  int       `json:"failures"`
	Closed    int       `json:"closed_total"`
	LastRunAt time.Time `json:"last_run_at"`
	LastError string    `json:"last_error,omitempty"`
}

func (s *State) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Stats{Runs: s.runs, Failures: s.failures, Closed: s.closed, LastRunAt: s.lastRunAt}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}
