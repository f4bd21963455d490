package file

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"xdsl/internal/domain/model"
)

func TestFileRepoLegacyFile(t *testing.T) {
	dir := t.TempDir()
	legacy := `{
  "asset": "HYPE",
  "direction": "short",
  "entryPrice": 30,
  "size": 10,
  "leverage": 5,
  "highWaterPrice": 29,
  "phase": 1,
  "currentTierIndex": -1,
  "tierFloorPrice": null,
  "phase1": {"retraceThreshold": 10, "absoluteFloor": 30.5, "consecutiveBreachesRequired": 3},
  "tiers": [{"triggerPct": 5, "lockPct": 50, "retraceClose": 1}],
  "active": true
}`
	if err := os.WriteFile(filepath.Join(dir, "dsl-HYPE.json"), []byte(legacy), 0o644); err != nil {
		t.Fatal(err)
	}
	_ = os.WriteFile(filepath.Join(dir, "other.json"), []byte("{}"), 0o644)

	r, err := New(dir, "dsl-")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	ctx := context.Background()

	keys, err := r.Keys(ctx)
	if err != nil || len(keys) != 1 || keys[0] != "HYPE" {
		t.Fatalf("keys = %v err = %v", keys, err)
	}

	rec, err := r.Load(ctx, "HYPE")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if rec.Direction != model.DirectionShort || rec.CurrentTierIndex != nil {
		t.Errorf("normalisation failed: dir=%q idx=%v", rec.Direction, rec.CurrentTierIndex)
	}
	if rec.MaxFetchFailures != 0 || !rec.Stagnation.Enabled {
		t.Errorf("defaults not applied: %+v", rec)
	}
	if rec.Tiers[0].RetraceClose == nil || *rec.Tiers[0].RetraceClose != 1 {
		t.Errorf("retraceClose lost")
	}
}

func TestFileRepoSaveIsAtomic(t *testing.T) {
	dir := t.TempDir()
	r, _ := New(dir, "dsl-")
	ctx := context.Background()

	rec := model.NewRecord("ETH", model.DirectionLong, 100, 1, 10, 0.1, time.Now())
	if err := r.Save(ctx, "ETH", rec); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 || entries[0].Name() != "dsl-ETH.json" {
		t.Errorf("unexpected files: %v", entries)
	}

	got, err := r.Load(ctx, "ETH")
	if err != nil || got.EntryPrice != 100 {
		t.Fatalf("Load after save: %+v, %v", got, err)
	}

	if _, err := r.Load(ctx, "BTC"); !errors.Is(err, model.ErrRecordNotFound) {
		t.Errorf("missing key: err = %v", err)
	}
}

func TestFileRepoCorruptFile(t *testing.T) {
	dir := t.TempDir()
	_ = os.WriteFile(filepath.Join(dir, "dsl-BAD.json"), []byte("{"), 0o644)
	r, _ := New(dir, "dsl-")

	if _, err := r.Load(context.Background(), "BAD"); !errors.Is(err, model.ErrCorruptRecord) {
		t.Errorf("err = %v, want ErrCorruptRecord", err)
	}
}

func TestFileRepoLock(t *testing.T) {
	dir := t.TempDir()
	r, _ := New(dir, "dsl-")
	r.lockWait = 100 * time.Millisecond
	r.lockPoll = 10 * time.Millisecond
	ctx := context.Background()

	unlock, err := r.Lock(ctx, "ETH")
	if err != nil {
		t.Fatalf("Lock failed: %v", err)
	}
	if _, err := r.Lock(ctx, "ETH"); !errors.Is(err, model.ErrLockHeld) {
		t.Fatalf("second Lock: err = %v", err)
	}
	unlock()

	unlock, err = r.Lock(ctx, "ETH")
	if err != nil {
		t.Fatalf("relock failed: %v", err)
	}
	unlock()
}

func TestFileRepoStaleLockTakenOver(t *testing.T) {
	dir := t.TempDir()
	r, _ := New(dir, "dsl-")
	r.staleLock = time.Minute

	lp := r.path("ETH") + lockSuffix
	_ = os.WriteFile(lp, []byte("1\n"), 0o644)
	old := time.Now().Add(-time.Hour)
	_ = os.Chtimes(lp, old, old)

	unlock, err := r.Lock(context.Background(), "ETH")
	if err != nil {
		t.Fatalf("stale lock not taken over: %v", err)
	}
	unlock()
}
