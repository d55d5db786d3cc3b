package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.CollectInterval != 30*time.Minute {
		t.Fatalf("collect interval = %v, want 30m", cfg.CollectInterval)
	}
	if cfg.RentalYieldThreshold != 15 {
		t.Fatalf("rental threshold = %v, want 15", cfg.RentalYieldThreshold)
	}
	if cfg.DefaultTargetPnLPct != 30 {
		t.Fatalf("target pnl = %v, want 30", cfg.DefaultTargetPnLPct)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("COLLECT_INTERVAL", "5m")
	t.Setenv("ARBITRAGE_MIN_ABS_SPREAD", "2.5")
	t.Setenv("ARBITRAGE_EXCLUDE_PLATFORMS", "steam, c5 ,")
	t.Setenv("OBSERVATION_RETENTION_DAYS", "not-a-number")

	cfg := Load()
	if cfg.CollectInterval != 5*time.Minute {
		t.Fatalf("collect interval = %v", cfg.CollectInterval)
	}
	if cfg.MinAbsSpread != 2.5 {
		t.Fatalf("min spread = %v", cfg.MinAbsSpread)
	}
	if len(cfg.ArbitrageExcludePlatforms) != 2 || cfg.ArbitrageExcludePlatforms[0] != "STEAM" || cfg.ArbitrageExcludePlatforms[1] != "C5" {
		t.Fatalf("exclude platforms = %v", cfg.ArbitrageExcludePlatforms)
	}
	if cfg.RetentionDays != 7 {
		t.Fatalf("retention should fall back to default, got %d", cfg.RetentionDays)
	}
}
