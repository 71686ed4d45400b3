package config

import (
	"os"
	"testing"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg != Default() {
		t.Fatalf("got %+v, want defaults %+v", cfg, Default())
	}
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	storeRoot := t.TempDir()
	cfg := Default()
	cfg.Backend = BackendSingleWriter
	cfg.HotDays = 30
	cfg.CompactionShardThreshold = 100

	if err := Save(storeRoot, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := Load(storeRoot)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Backend != BackendSingleWriter {
		t.Fatalf("got Backend=%v, want %v", got.Backend, BackendSingleWriter)
	}
	if got.HotDays != 30 {
		t.Fatalf("got HotDays=%d, want 30", got.HotDays)
	}
	if got.CompactionShardThreshold != 100 {
		t.Fatalf("got CompactionShardThreshold=%d, want 100", got.CompactionShardThreshold)
	}
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	storeRoot := t.TempDir()
	if err := Save(storeRoot, Default()); err != nil {
		t.Fatalf("Save: %v", err)
	}

	t.Setenv("IRS_HOT_DAYS", "3")
	t.Setenv("IRS_BACKEND", string(BackendSingleWriter))

	cfg, err := Load(storeRoot)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HotDays != 3 {
		t.Fatalf("got HotDays=%d, want env override 3", cfg.HotDays)
	}
	if cfg.Backend != BackendSingleWriter {
		t.Fatalf("got Backend=%v, want env override %v", cfg.Backend, BackendSingleWriter)
	}
}

func TestLoadMalformedTomlErrors(t *testing.T) {
	storeRoot := t.TempDir()
	if err := os.WriteFile(storeRoot+"/config.toml", []byte("not = [valid toml"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := Load(storeRoot); err == nil {
		t.Fatalf("expected an error decoding malformed config.toml")
	}
}
