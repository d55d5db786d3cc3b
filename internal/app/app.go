// Package app 根据配置组装数据库、数据源、流水线和调度器
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"csgo-quant/internal/api"
	"csgo-quant/internal/config"
	"csgo-quant/internal/database"
	"csgo-quant/internal/ledger"
	"csgo-quant/internal/metrics"
	"csgo-quant/internal/notify"
	"csgo-quant/internal/pipeline"
	"csgo-quant/internal/pricing"
	"csgo-quant/internal/quant"
	"csgo-quant/internal/services"
	"csgo-quant/internal/services/csqaq"
	"csgo-quant/internal/services/steam"
	"csgo-quant/internal/services/steamdt"
	"csgo-quant/internal/services/youpin"
	"csgo-quant/internal/store"
)

// App 进程内共享的组件
type App struct {
	Config    *config.Config
	Logger    *slog.Logger
	Store     *store.Store
	Cache     *store.Cache
	Ledger    *ledger.Ledger
	Pipeline  *pipeline.Pipeline
	Scheduler *pipeline.Scheduler
	Hub       *notify.Hub
	Metrics   *metrics.Metrics

	closers []func() error
}

// Build 打开数据库与 redis，按配置启用数据源，并恢复上一版价格簿
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger, Metrics: metrics.New(), Hub: notify.NewHub(logger)}

	db, err := database.Initialize(cfg.DatabaseURL, logger)
	if err != nil {
		return nil, err
	}
	if sqlDB, err := db.DB(); err == nil {
		a.closers = append(a.closers, sqlDB.Close)
	}
	a.Store = store.New(db, cfg.BatchSize, logger)

	if cfg.RedisURL != "" {
		cache, err := store.NewCache(ctx, cfg.RedisURL)
		if err != nil {
			// 没有 redis 也能运行，只是失去跨进程锁和价格缓存
			logger.Warn("redis unavailable, running without cache", "error", err)
		} else {
			a.Cache = cache
			a.closers = append(a.closers, cache.Close)
		}
	}

	a.Ledger = ledger.New(a.Store, ledger.MatchConfig{
		PriceBand:  cfg.LeasePriceBand,
		TimeWindow: cfg.LeaseTimeWindow,
	}, logger)

	deps := pipeline.Deps{
		Store:     a.Store,
		Cache:     a.Cache,
		Fetcher:   services.NewFetcher(sources(cfg, logger), cfg.SourceTimeout, a.Metrics, logger),
		Ledger:    a.Ledger,
		Importers: importers(cfg, a.Store, logger),
		Scorer:    quant.NewScorer(strategyConfig(cfg)),
		Radar:     pricing.NewRadar(cfg.MinAbsSpread, cfg.ArbitrageExcludePlatforms),
		Notifier:  notifiers(cfg, a.Hub, logger),
		Metrics:   a.Metrics,
		Logger:    logger,
	}
	if cfg.CSQAQAPIToken != "" {
		deps.Stats = csqaq.NewSyncer(csqaq.NewClient(cfg.CSQAQBaseURL, cfg.CSQAQAPIToken), a.Store, cfg.CSQAQRequestDelay, logger)
	}

	a.Pipeline = pipeline.New(deps, pipeline.Options{
		Retention:      dayDuration(cfg.RetentionDays),
		BackfillDays:   cfg.BackfillDays,
		HistoryDays:    cfg.HistoryDays,
		ImportLookback: cfg.ImportLookback,
	})
	if err := a.Pipeline.Restore(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("restore price book: %w", err)
	}

	a.Scheduler = pipeline.NewScheduler(a.Metrics, logger)
	a.Pipeline.Register(a.Scheduler, cfg.JobTimeout)
	return a, nil
}

// Handler 构造 HTTP 处理器
func (a *App) Handler() *api.APIHandler {
	return api.NewHandler(api.Options{
		Store:   a.Store,
		Cache:   a.Cache,
		Ledger:  a.Ledger,
		Engine:  a.Pipeline,
		Jobs:    a.Scheduler,
		Hub:     a.Hub,
		Metrics: a.Metrics,
		Logger:  a.Logger,
	})
}

// StartJobs 启动调度循环和定时触发，ctx 取消后全部退出
func (a *App) StartJobs(ctx context.Context) error {
	if err := a.Scheduler.DailyAt(ctx, pipeline.JobDaily, a.Config.DailyJobAt); err != nil {
		return err
	}
	if err := a.Scheduler.DailyAt(ctx, pipeline.JobStats, a.Config.DailyJobAt); err != nil {
		return err
	}
	if err := a.Scheduler.DailyAt(ctx, pipeline.JobCleanup, a.Config.DailyJobAt); err != nil {
		return err
	}
	a.Scheduler.Every(ctx, pipeline.JobCollect, a.Config.CollectInterval)
	go a.Scheduler.Run(ctx)
	return nil
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Logger.Warn("close failed", "error", err)
		}
	}
	a.closers = nil
}

func sources(cfg *config.Config, logger *slog.Logger) []services.Source {
	var out []services.Source
	if cfg.SteamDTAPIKey != "" {
		out = append(out, steamdt.NewClient(cfg.SteamDTBaseURL, cfg.SteamDTAPIKey, logger))
	} else {
		logger.Warn("STEAMDT_API_KEY not set, prices come from manual overrides only")
	}
	return out
}

func importers(cfg *config.Config, st *store.Store, logger *slog.Logger) []ledger.Importer {
	var out []ledger.Importer
	if cfg.SteamID != "" {
		out = append(out, steam.NewSteamService(cfg.SteamCommunityURL, cfg.SteamID, st, logger))
	}
	if cfg.YoupinToken != "" {
		out = append(out, youpin.NewService(cfg.YoupinBaseURL, cfg.YoupinToken, cfg.YoupinDeviceID, logger))
	}
	return out
}

func notifiers(cfg *config.Config, hub *notify.Hub, logger *slog.Logger) notify.Notifier {
	out := notify.Multi{notify.NewLogNotifier(logger), hub}
	if cfg.AlertWebhookURL != "" {
		out = append(out, notify.NewWebhookNotifier(cfg.AlertWebhookURL))
	}
	return out
}

func strategyConfig(cfg *config.Config) *quant.StrategyConfig {
	sc := quant.DefaultStrategyConfig()
	if cfg.DefaultTargetPnLPct > 0 {
		sc.DefaultTargetPnLPct = cfg.DefaultTargetPnLPct
	}
	if cfg.RentalYieldThreshold > 0 {
		sc.RentalYieldThreshold = cfg.RentalYieldThreshold
	}
	if cfg.SellScoreHighWater > 0 {
		sc.SellScoreHighWater = cfg.SellScoreHighWater
	}
	return sc
}

func dayDuration(days int) time.Duration {
	return time.Duration(days) * 24 * time.Hour
}
