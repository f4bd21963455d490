package svc

import (
	"context"
	"path/filepath"
	"testing"

	"xdsl/internal/infrastructure/config"
)

func TestNewWithFileBackend(t *testing.T) {
	t.Setenv("XDSL_STATE_DIR", t.TempDir())
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	cfg.HTTP.Enabled = true

	sc, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer sc.Close()

	if sc.Store == nil || sc.Orchestrator == nil || sc.Monitor == nil || sc.Health == nil {
		t.Fatalf("components missing: %+v", sc)
	}
	if sc.Prices.Name() != "hyperliquid" {
		t.Errorf("prices = %s", sc.Prices.Name())
	}
	if sc.Journal.Len() != 1 {
		t.Errorf("expected in-memory fallback journal, got %d", sc.Journal.Len())
	}
	if sc.HTTP == nil || sc.Metrics == nil {
		t.Errorf("http server not wired")
	}
	if sc.Archiver != nil {
		t.Errorf("archiver should be off by default")
	}
}

func TestNewWithSQLiteBackend(t *testing.T) {
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	cfg.State.Backend = config.BackendSQLite
	cfg.SQLite.Enabled = true
	cfg.SQLite.Path = filepath.Join(t.TempDir(), "xdsl.db")
	cfg.Hyperliquid.Transport = config.TransportWS

	sc, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer sc.Close()

	if sc.Store != sc.sqliteRepo {
		t.Errorf("store is not the sqlite repo")
	}
	if sc.Journal.Len() != 1 || sc.wsSource == nil {
		t.Errorf("unexpected wiring: journals=%d ws=%v", sc.Journal.Len(), sc.wsSource != nil)
	}
}
