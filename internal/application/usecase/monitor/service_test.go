package monitor

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"xdsl/internal/domain/model"
)

type stubRunner struct {
	rep *model.BatchReport
	err error
	n   int
}

func (s *stubRunner) RunBatch(ctx context.Context) (*model.BatchReport, error) {
	s.n++
	return s.rep, s.err
}

type recSink struct {
	live, snaps []string
}

func (r *recSink) WriteLive(line string) error { r.live = append(r.live, line); return nil }
func (r *recSink) WriteSnapshot(ts time.Time, line string) error {
	r.snaps = append(r.snaps, line)
	return nil
}
func (r *recSink) NewLine() error { return nil }

func sampleReport(closed bool) *model.BatchReport {
	ev := &model.Evaluation{
		Asset: "ETH", Direction: model.DirectionLong, Status: model.StatusActive,
		Price: 102, Floor: 104.94, Phase: 2, UPnLPct: 10, TierName: "Tier 1 (5%→lock 50%)",
		BreachCount: 1, BreachesNeeded: 2,
	}
	if closed {
		ev.Status = model.StatusClosed
		ev.CloseReason = "DSL breach"
	}
	rep := &model.BatchReport{Results: []*model.Evaluation{ev}}
	rep.Summarize()
	return rep
}

func TestRunOnceWritesLiveLine(t *testing.T) {
	sink := &recSink{}
	r := &stubRunner{rep: sampleReport(false)}
	svc := NewService(ServiceDeps{Runner: r, Sink: sink})

	if _, err := svc.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if len(sink.live) != 1 || len(sink.snaps) != 0 {
		t.Fatalf("live=%d snaps=%d", len(sink.live), len(sink.snaps))
	}
	line := sink.live[0]
	for _, want := range []string{"ETH L P2 T1", "px=102", "floor=104.94", "b=1/2"} {
		if !strings.Contains(line, want) {
			t.Errorf("line %q missing %q", line, want)
		}
	}
	if svc.State().Latest() == nil {
		t.Errorf("state not updated")
	}
}

func TestRunOnceSnapshotsOnClose(t *testing.T) {
	sink := &recSink{}
	svc := NewService(ServiceDeps{Runner: &stubRunner{rep: sampleReport(true)}, Sink: sink})

	if _, err := svc.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if len(sink.snaps) != 1 || !strings.Contains(sink.snaps[0], "CLOSED") {
		t.Errorf("snaps = %v", sink.snaps)
	}
	if st := svc.State().Stats(); st.Closed != 1 || st.Runs != 1 {
		t.Errorf("stats = %+v", st)
	}
}

func TestRunOnceFailureKeepsPreviousReport(t *testing.T) {
	r := &stubRunner{rep: sampleReport(false)}
	svc := NewService(ServiceDeps{Runner: r})
	_, _ = svc.RunOnce(context.Background())

	r.err = errors.New("store offline")
	if _, err := svc.RunOnce(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	st := svc.State().Stats()
	if st.Failures != 1 || st.LastError != "store offline" {
		t.Errorf("stats = %+v", st)
	}
	if svc.State().Latest() == nil {
		t.Errorf("previous report dropped")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	r := &stubRunner{rep: sampleReport(false)}
	svc := NewService(ServiceDeps{Runner: r, Schedule: "@every 1h"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
	if r.n < 1 {
		t.Errorf("expected an immediate first tick")
	}
}

func TestRenderWithoutPositions(t *testing.T) {
	f := NewFormatter(false)
	if got := f.Render(nil, RenderSnapshot); got != "[XDSL] no active positions" {
		t.Errorf("got %q", got)
	}
}
