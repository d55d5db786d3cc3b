package app

import (
	"context"
	"testing"
	"time"

	"csgo-quant/internal/config"
	"csgo-quant/internal/logger"
	"csgo-quant/internal/notify"
	"csgo-quant/internal/pipeline"
)

func TestBuildWithoutExternalServices(t *testing.T) {
	cfg := &config.Config{
		DatabaseURL:         ":memory:",
		BatchSize:           50,
		RetentionDays:       7,
		JobTimeout:          time.Minute,
		CollectInterval:     time.Hour,
		DailyJobAt:          "00:10",
		LeasePriceBand:      0.05,
		LeaseTimeWindow:     72 * time.Hour,
		MinAbsSpread:        5,
		DefaultTargetPnLPct: 40,
	}
	a, err := Build(context.Background(), cfg, logger.Discard())
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	if a.Cache != nil {
		t.Fatal("cache should stay nil without REDIS_URL")
	}
	if got := a.Pipeline.Book().Len(); got != 0 {
		t.Fatalf("restored book items = %d", got)
	}
	jobs := map[string]bool{}
	for _, s := range a.Scheduler.Status() {
		jobs[s.Name] = true
	}
	for _, name := range []string{pipeline.JobCollect, pipeline.JobDaily, pipeline.JobStats, pipeline.JobCleanup} {
		if !jobs[name] {
			t.Fatalf("job %s not registered: %v", name, jobs)
		}
	}
	if a.Handler() == nil {
		t.Fatal("nil handler")
	}
}

func TestStrategyConfigOverlay(t *testing.T) {
	sc := strategyConfig(&config.Config{DefaultTargetPnLPct: 40, SellScoreHighWater: 80})
	if sc.DefaultTargetPnLPct != 40 || sc.SellScoreHighWater != 80 {
		t.Fatalf("overlay = %+v", sc)
	}
	if sc.RSIPeriod != 14 {
		t.Fatalf("defaults lost: rsi period %d", sc.RSIPeriod)
	}
}

func TestNotifiersIncludeWebhookWhenConfigured(t *testing.T) {
	hub := notify.NewHub(logger.Discard())
	if n := notifiers(&config.Config{}, hub, logger.Discard()).(notify.Multi); len(n) != 2 {
		t.Fatalf("notifiers without webhook = %d", len(n))
	}
	n := notifiers(&config.Config{AlertWebhookURL: "http://127.0.0.1:1/hook"}, hub, logger.Discard()).(notify.Multi)
	if len(n) != 3 {
		t.Fatalf("notifiers with webhook = %d", len(n))
	}
	if _, ok := n[2].(*notify.WebhookNotifier); !ok {
		t.Fatalf("last notifier = %T", n[2])
	}
}
