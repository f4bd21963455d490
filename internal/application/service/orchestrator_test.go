package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"xdsl/internal/domain/model"
)

type harness struct {
	store    *mockStore
	prices   *mockPrices
	closer   *mockCloser
	journal  *mockJournal
	archiver *mockArchiver
	observer *mockObserver
	now      time.Time
	orch     *Orchestrator
}

func newHarness() *harness {
	h := &harness{
		store:    newMockStore(),
		prices:   &mockPrices{mids: map[string]float64{}},
		closer:   &mockCloser{},
		journal:  &mockJournal{},
		archiver: &mockArchiver{},
		observer: &mockObserver{},
		now:      testNow,
	}
	clock := func() time.Time { return h.now }
	h.orch = NewOrchestrator(OrchestratorDeps{
		Store:    h.store,
		Prices:   NewPriceBook(h.prices, time.Second),
		Closer:   newTestExecutor(h.closer, testNow),
		Archiver: h.archiver,
		Journal:  h.journal,
		Observer: h.observer,
		Clock:    clock,
	})
	return h
}

func (h *harness) run(t *testing.T) *model.BatchReport {
	t.Helper()
	rep, err := h.orch.RunBatch(context.Background())
	if err != nil {
		t.Fatalf("RunBatch failed: %v", err)
	}
	h.now = h.now.Add(time.Minute)
	return rep
}

func TestRunBatchNoRecords(t *testing.T) {
	h := newHarness()
	rep := h.run(t)

	if rep.Message != noRecordsMessage || rep.Positions != 0 {
		t.Errorf("unexpected report %+v", rep)
	}
	if len(h.journal.reports) != 1 || h.observer.batches != 1 {
		t.Errorf("journal and observer must see empty batches too")
	}
	if h.prices.midCalls != 0 {
		t.Errorf("no price fetch expected")
	}
}

func TestRunBatchListFailureIsFatal(t *testing.T) {
	h := newHarness()
	h.store.keysErr = errors.New("disk gone")

	if _, err := h.orch.RunBatch(context.Background()); err == nil {
		t.Fatal("expected error when keys cannot be listed")
	}
}

func TestRunBatchTierThenBreachClose(t *testing.T) {
	h := newHarness()
	rec := closableRecord()
	rec.Leverage = 5
	rec.Tiers = []model.Tier{{TriggerPct: 5, LockPct: 50}}
	h.store.put("eth", rec)

	h.prices.mids["ETH"] = 106
	rep := h.run(t)
	if !rep.AnyTierChange || rep.Results[0].Phase != 2 {
		t.Fatalf("expected tier engage and phase 2, got %+v", rep.Results[0])
	}
	if rep.Results[0].TierFloor != 103 {
		t.Errorf("tier floor = %v, want 103", rep.Results[0].TierFloor)
	}

	h.prices.mids["ETH"] = 102
	rep = h.run(t)
	if rep.AnyClosed || rep.Results[0].BreachCount != 1 {
		t.Fatalf("first breach must not close: %+v", rep.Results[0])
	}

	rep = h.run(t)
	if !rep.AnyClosed || rep.ClosedThisRun != 1 {
		t.Fatalf("second breach must close: %+v", rep.Results[0])
	}
	if rep.Results[0].Status != model.StatusClosed {
		t.Errorf("status = %q", rep.Results[0].Status)
	}

	got := h.store.get("eth")
	if got.Active || got.ClosedAt == nil {
		t.Errorf("stored record not closed: %+v", got)
	}
	if len(h.archiver.keys) != 1 || h.archiver.keys[0] != "eth" {
		t.Errorf("archived = %v", h.archiver.keys)
	}
	if len(h.closer.reqs) != 1 {
		t.Errorf("close calls = %d", len(h.closer.reqs))
	}

	// A closed record is skipped from then on.
	rep = h.run(t)
	if rep.Positions != 0 {
		t.Errorf("closed record evaluated again")
	}
}

func TestRunBatchConfiguredFetchCeiling(t *testing.T) {
	h := newHarness()
	h.orch.deps.MaxFetchFailures = 3
	h.store.put("sol", closableRecord())

	for i := 1; i <= 3; i++ {
		rep := h.run(t)
		if len(rep.Errors) != 1 {
			t.Fatalf("run %d: expected one error entry, got %+v", i, rep.Errors)
		}
		if rep.Errors[0].Deactivated != (i == 3) {
			t.Fatalf("run %d: deactivated = %v", i, rep.Errors[0].Deactivated)
		}
	}
	if got := h.store.get("sol"); got.Active || got.CloseReason != "Auto-deactivated: 3 consecutive fetch failures" {
		t.Errorf("record after ceiling: active=%v reason=%q", got.Active, got.CloseReason)
	}

	// A record's own ceiling wins over the process one.
	h = newHarness()
	h.orch.deps.MaxFetchFailures = 3
	rec := closableRecord()
	rec.MaxFetchFailures = 5
	h.store.put("sol", rec)
	for i := 0; i < 3; i++ {
		h.run(t)
	}
	if !h.store.get("sol").Active {
		t.Error("record ceiling of 5 ignored")
	}
}

func TestRunBatchFetchFailuresDeactivate(t *testing.T) {
	h := newHarness()
	h.store.put("sol", closableRecord())

	var rep *model.BatchReport
	for i := 1; i <= model.DefaultMaxFetchFailures; i++ {
		rep = h.run(t)
		if len(rep.Errors) != 1 {
			t.Fatalf("run %d: expected one error entry, got %+v", i, rep.Errors)
		}
		e := rep.Errors[0]
		if e.Error != priceFetchFailed || e.ConsecutiveFailures != i {
			t.Fatalf("run %d: unexpected entry %+v", i, e)
		}
		if e.Deactivated != (i == model.DefaultMaxFetchFailures) {
			t.Fatalf("run %d: deactivated = %v", i, e.Deactivated)
		}
	}

	got := h.store.get("sol")
	if got.Active {
		t.Fatal("record should be deactivated")
	}
	if got.CloseReason != "Auto-deactivated: 10 consecutive fetch failures" {
		t.Errorf("closeReason = %q", got.CloseReason)
	}
	if len(h.closer.reqs) != 0 {
		t.Errorf("no close may be attempted on fetch failure")
	}
	if len(h.archiver.keys) != 1 {
		t.Errorf("deactivated record should be archived once, got %v", h.archiver.keys)
	}
}

func TestRunBatchPriceResetsFailureCounter(t *testing.T) {
	h := newHarness()
	rec := closableRecord()
	rec.ConsecutiveFetchFailures = 7
	h.store.put("eth", rec)
	h.prices.mids["ETH"] = 100.5

	h.run(t)

	if got := h.store.get("eth"); got.ConsecutiveFetchFailures != 0 {
		t.Errorf("failures = %d, want 0", got.ConsecutiveFetchFailures)
	}
}

func TestRunBatchPendingOnlyRetriesClose(t *testing.T) {
	h := newHarness()
	rec := closableRecord()
	rec.Active = false
	rec.PendingClose = true
	rec.PendingCloseReason = "DSL breach: Phase 1, 3/3, price 98, floor 99"
	rec.FloorPrice = 99
	rec.HighWaterPrice = 101
	h.store.put("eth", rec)
	h.prices.mids["ETH"] = 150

	rep := h.run(t)

	if !rep.AnyClosed {
		t.Fatalf("pending close should be retried: %+v", rep.Results)
	}
	got := h.store.get("eth")
	if got.FloorPrice != 99 || got.HighWaterPrice != 101 {
		t.Errorf("inactive record mutated: floor=%v hw=%v", got.FloorPrice, got.HighWaterPrice)
	}
	if got.CloseReason != rec.PendingCloseReason {
		t.Errorf("closeReason = %q", got.CloseReason)
	}
}

func TestRunBatchCorruptRecordIsIsolated(t *testing.T) {
	h := newHarness()
	h.store.data["bad"] = []byte("{not json")
	h.store.put("eth", closableRecord())
	h.prices.mids["ETH"] = 100.5

	rep := h.run(t)

	if len(rep.Results) != 1 || len(rep.Errors) != 1 {
		t.Fatalf("results=%d errors=%d", len(rep.Results), len(rep.Errors))
	}
	if rep.Errors[0].Key != "bad" {
		t.Errorf("error key = %q", rep.Errors[0].Key)
	}
	if rep.RecordsFound != 2 {
		t.Errorf("records found = %d", rep.RecordsFound)
	}
}

func TestRunBatchIsolatedAccountPricing(t *testing.T) {
	h := newHarness()

	a := closableRecord()
	a.Asset = "NVDA"
	a.Dex = model.IsolatedDex
	b := closableRecord()
	b.Asset = "xyz:TSLA"
	h.store.put("nvda", a)
	h.store.put("tsla", b)

	h.prices.accounts = map[string]map[string]float64{
		testWallet: {"xyz:NVDA": 100.5, "xyz:TSLA": 100.2},
	}

	rep := h.run(t)

	if len(rep.Results) != 2 || len(rep.Errors) != 0 {
		t.Fatalf("results=%d errors=%+v", len(rep.Results), rep.Errors)
	}
	if h.prices.midCalls != 0 {
		t.Errorf("shared mids fetched for isolated-only batch")
	}
	if h.prices.accCalls[testWallet] != 1 {
		t.Errorf("account fetched %d times, want 1", h.prices.accCalls[testWallet])
	}
}

func TestRunBatchInvalidRecordReported(t *testing.T) {
	h := newHarness()
	rec := closableRecord()
	rec.Leverage = 0
	h.store.put("eth", rec)
	h.prices.mids["ETH"] = 100

	rep := h.run(t)

	if len(rep.Errors) != 1 || rep.Errors[0].Asset != "ETH" {
		t.Errorf("unexpected errors %+v", rep.Errors)
	}
	if len(rep.Results) != 0 {
		t.Errorf("invalid record must not be evaluated")
	}
}
