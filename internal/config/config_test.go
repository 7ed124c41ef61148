package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `{
		"pools": [{"profile": "stratum", "endpoints": [{"host": "pool.example", "port": 3333}]}]
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Scheduler.MaxWeight != 4 {
		t.Fatalf("max_weight = %d, want default 4", cfg.Scheduler.MaxWeight)
	}
	if cfg.CUDA.BudgetMs != 16 {
		t.Fatalf("budget_ms = %d, want default 16", cfg.CUDA.BudgetMs)
	}
}

func TestLoadRejectsEmptyPools(t *testing.T) {
	path := writeConfig(t, `{"pools": []}`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for empty pools")
	}
}

func TestLoadRejectsGBTWithoutRPC(t *testing.T) {
	path := writeConfig(t, `{"pools": [{"profile": "gbt"}]}`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for gbt pool missing rpc block")
	}
}

func TestLoadRejectsBadLogLevel(t *testing.T) {
	path := writeConfig(t, `{
		"log_level": 9,
		"pools": [{"profile": "stratum", "endpoints": [{"host": "h", "port": 1}]}]
	}`)
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for out-of-range log_level")
	}
}
