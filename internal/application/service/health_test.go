package service

import (
	"context"
	"testing"
	"time"

	"xdsl/internal/domain/model"
)

func TestHealthCheckFlagsStaleAndPending(t *testing.T) {
	store := newMockStore()

	fresh := closableRecord()
	fresh.LastCheck = model.TimePtr(testNow.Add(-time.Minute))
	store.put("fresh", fresh)

	stale := closableRecord()
	stale.LastCheck = model.TimePtr(testNow.Add(-time.Hour))
	store.put("stale", stale)

	pending := closableRecord()
	pending.Active = false
	pending.PendingClose = true
	store.put("pending", pending)

	closed := closableRecord()
	closed.Active = false
	store.put("closed", closed)

	store.data["bad"] = []byte("{")

	hc := NewHealthCheck(store, 10*time.Minute)
	hc.now = func() time.Time { return testNow }

	rep, err := hc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if rep.Checked != 3 {
		t.Errorf("checked = %d, want 3", rep.Checked)
	}
	if rep.Status != "critical" || rep.CriticalCount != 2 || rep.WarningCount != 1 {
		t.Fatalf("unexpected report %+v", rep)
	}

	types := map[string]string{}
	for _, i := range rep.Issues {
		types[i.Key] = i.Type
	}
	if types["stale"] != IssueStale || types["pending"] != IssuePendingClose || types["bad"] != IssueCorrupt {
		t.Errorf("issues = %+v", rep.Issues)
	}
	if _, ok := types["fresh"]; ok {
		t.Errorf("fresh record flagged")
	}
}

func TestHealthCheckFlagsInvalidRecord(t *testing.T) {
	store := newMockStore()

	noRetrace := closableRecord()
	noRetrace.Phase1.RetraceThreshold = 0
	noRetrace.LastCheck = model.TimePtr(testNow)
	store.put("noretrace", noRetrace)

	badWallet := closableRecord()
	badWallet.Wallet = "not-a-wallet"
	badWallet.LastCheck = model.TimePtr(testNow)
	store.put("badwallet", badWallet)

	hc := NewHealthCheck(store, 10*time.Minute)
	hc.now = func() time.Time { return testNow }

	rep, err := hc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if rep.Status != "critical" || rep.CriticalCount != 2 || rep.WarningCount != 0 {
		t.Fatalf("unexpected report %+v", rep)
	}
	for _, i := range rep.Issues {
		if i.Type != IssueInvalid || i.Asset != "ETH" {
			t.Errorf("unexpected issue %+v", i)
		}
	}
}
