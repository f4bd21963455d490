package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "[app]\nmode = \"LOOP\"\n"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.App.Mode != ModeLoop {
		t.Errorf("mode = %q", cfg.App.Mode)
	}
	if cfg.State.Backend != BackendFile || cfg.State.Prefix != "dsl-" {
		t.Errorf("state = %+v", cfg.State)
	}
	if cfg.Hyperliquid.Transport != TransportHTTP || cfg.Closer.Command != "mcporter" {
		t.Errorf("unexpected defaults: %+v %+v", cfg.Hyperliquid, cfg.Closer)
	}
	if cfg.SQLite.Enabled || cfg.Redis.Enabled {
		t.Errorf("optional stores enabled by default")
	}
	if cfg.Engine.MaxFetchFailures != 10 {
		t.Errorf("max fetch failures = %d", cfg.Engine.MaxFetchFailures)
	}
}

func TestLoadEngineFetchCeiling(t *testing.T) {
	cfg, err := Load(writeConfig(t, "[engine]\nmax_fetch_failures = 3\n"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Engine.MaxFetchFailures != 3 {
		t.Errorf("max fetch failures = %d, want 3", cfg.Engine.MaxFetchFailures)
	}
}

func TestLoadBackendEnablesStore(t *testing.T) {
	cfg, err := Load(writeConfig(t, "[state]\nbackend = \"sqlite\"\n"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !cfg.SQLite.Enabled || cfg.SQLite.Path == "" {
		t.Errorf("sqlite = %+v", cfg.SQLite)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("XDSL_STATE_BACKEND", "memory")
	t.Setenv("XDSL_REDIS_DB", "3")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.State.Backend != BackendMemory || cfg.Redis.DB != 3 {
		t.Errorf("overrides not applied: backend=%q db=%d", cfg.State.Backend, cfg.Redis.DB)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"mode":      "[app]\nmode = \"sometimes\"\n",
		"backend":   "[state]\nbackend = \"etcd\"\n",
		"transport": "[hyperliquid]\ntransport = \"grpc\"\n",
		"postgres":  "[postgres]\nenabled = true\n",
		"s3":        "[s3]\nenabled = true\n",
	}
	for name, body := range cases {
		if _, err := Load(writeConfig(t, body)); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}
