package pipeline

import (
	"context"
	"errors"
	"time"

	"csgo-quant/internal/ledger"
	"csgo-quant/internal/logger"
	"csgo-quant/internal/models"
	"csgo-quant/internal/portfolio"
	"csgo-quant/internal/pricing"
	"csgo-quant/internal/quant"
	"csgo-quant/internal/services"

	"github.com/google/uuid"
)

// CollectResult 一次采集周期的汇总
type CollectResult struct {
	CycleID      string
	BookVersion  uint64
	Items        int
	Stale        int
	Observations int
	Bars         int
	Arbitrage    int
	Ledger       ledger.ApplyResult
	Snapshot     models.PortfolioSnapshot
	Alerts       int
}

// Collect 调度器使用的采集任务
func (p *Pipeline) Collect(ctx context.Context) error {
	_, err := p.RunCollect(ctx)
	return err
}

// RunCollect 执行一次采集：账本导入 → 拉取价格 → 聚合价格簿 → 日K → 价差 → 持仓快照 → 收益告警。
// 数据源故障只影响对应平台；持久化失败中止本周期。
func (p *Pipeline) RunCollect(ctx context.Context) (*CollectResult, error) {
	res := &CollectResult{CycleID: uuid.NewString()}
	ctx = logger.WithCycleID(ctx, res.CycleID)
	log := logger.FromContext(ctx, p.logger)
	now := p.now().UTC()

	applied, err := p.importLedger(ctx, now)
	res.Ledger = applied
	if err != nil {
		return res, err
	}

	items, err := p.deps.Store.TrackedItems(ctx)
	if err != nil {
		return res, err
	}
	var batches []pricing.Batch
	if p.deps.Fetcher != nil && len(items) > 0 {
		batches = p.deps.Fetcher.FetchAll(ctx, items)
	}
	overrides, err := p.deps.Store.ManualPrices(ctx)
	if err != nil {
		return res, err
	}

	book, err := p.swapBook(ctx, func(prev *pricing.Book) (*pricing.Book, error) {
		return pricing.Aggregate(prev, items, batches, overrides, now), nil
	})
	if err != nil {
		return res, err
	}
	res.BookVersion, res.Items = book.Version(), book.Len()

	var obs []pricing.Observation
	for _, b := range batches {
		if b.Err == nil {
			obs = append(obs, b.Observations...)
		}
	}
	if err := p.deps.Store.AppendObservations(ctx, res.CycleID, obs); err != nil {
		return res, err
	}
	res.Observations = len(obs)

	for _, c := range book.All() {
		if c.PriceStale {
			res.Stale++
			continue
		}
		if err := p.appendBar(ctx, c.Item, c.Price, now); err != nil {
			if fatal(err) {
				return res, err
			}
			log.Warn("bar update failed", "item", c.Item, "error", err)
			p.itemFailed()
			continue
		}
		res.Bars++
	}

	res.Arbitrage = p.scanArbitrage(ctx, batches, now)

	snap, err := p.snapshot(ctx, book, now, res.CycleID)
	if err != nil {
		return res, err
	}
	res.Snapshot = snap

	n, err := p.quickAlerts(ctx, book, now)
	if err != nil {
		return res, err
	}
	res.Alerts = n

	if m := p.deps.Metrics; m != nil {
		m.BookVersion.Set(float64(res.BookVersion))
		m.BookItems.Set(float64(res.Items))
		m.StaleItems.Set(float64(res.Stale))
	}
	log.Info("collect cycle finished",
		"book_version", res.BookVersion, "items", res.Items, "stale", res.Stale,
		"observations", res.Observations, "bars", res.Bars, "arbitrage", res.Arbitrage,
		"market_value", snap.MarketValue.String(), "completeness", snap.Completeness)
	return res, nil
}

func (p *Pipeline) appendBar(ctx context.Context, item string, price float64, ts time.Time) error {
	unlock, err := p.locker.Lock(ctx, item)
	if err != nil {
		return err
	}
	defer unlock()
	_, err = p.bars.Append(ctx, item, price, ts)
	return err
}

func (p *Pipeline) itemFailed() {
	if p.deps.Metrics != nil {
		p.deps.Metrics.ItemFailures.Inc()
	}
}

// importLedger 依次拉取各导入源的事件并应用到账本。
// 导入源不可用时跳过，下个周期从上次成功的时间点重试。
func (p *Pipeline) importLedger(ctx context.Context, now time.Time) (ledger.ApplyResult, error) {
	var total ledger.ApplyResult
	if p.deps.Ledger == nil {
		return total, nil
	}
	log := logger.FromContext(ctx, p.logger)
	for _, imp := range p.deps.Importers {
		p.mu.RLock()
		last := p.lastImport[imp.Name()]
		p.mu.RUnlock()
		since := time.Time{}
		if !last.IsZero() {
			since = last.Add(-p.opts.ImportLookback)
		}

		events, err := imp.PullEvents(ctx, since)
		if err != nil {
			if errors.Is(err, services.ErrSourceUnavailable) {
				log.Warn("importer unavailable", "importer", imp.Name(), "error", err)
				continue
			}
			return total, err
		}
		res, err := p.deps.Ledger.ApplyAll(ctx, events)
		total.Applied += res.Applied
		total.Failed += res.Failed
		total.Unresolved = append(total.Unresolved, res.Unresolved...)
		if m := p.deps.Metrics; m != nil {
			m.LedgerEvents.WithLabelValues("applied").Add(float64(res.Applied))
			m.LedgerEvents.WithLabelValues("failed").Add(float64(res.Failed))
			m.LedgerEvents.WithLabelValues("unresolved").Add(float64(len(res.Unresolved)))
		}
		if err != nil {
			return total, err
		}
		for _, u := range res.Unresolved {
			log.Warn("lease import unresolved", "importer", imp.Name(), "error", u.Error())
		}

		p.mu.Lock()
		p.lastImport[imp.Name()] = now
		p.mu.Unlock()
		log.Info("ledger import applied", "importer", imp.Name(), "events", len(events),
			"applied", res.Applied, "failed", res.Failed, "unresolved", len(res.Unresolved))
	}
	return total, nil
}

func (p *Pipeline) scanArbitrage(ctx context.Context, batches []pricing.Batch, now time.Time) int {
	prices := pricing.PlatformPrices(batches)
	spreads := p.deps.Radar.Spreads(prices, now)
	entries := p.deps.Radar.Scan(prices, now)

	p.mu.Lock()
	p.spreads = spreads
	p.arbitrage = entries
	p.mu.Unlock()

	if err := p.deps.Cache.PublishArbitrage(ctx, entries); err != nil {
		logger.FromContext(ctx, p.logger).Warn("publish arbitrage failed", "error", err)
	}
	if p.deps.Metrics != nil {
		p.deps.Metrics.ArbitrageCount.Set(float64(len(entries)))
	}
	return len(entries)
}

func (p *Pipeline) snapshot(ctx context.Context, book *pricing.Book, now time.Time, cycleID string) (models.PortfolioSnapshot, error) {
	assets, err := p.deps.Store.HeldAssets(ctx)
	if err != nil {
		return models.PortfolioSnapshot{}, err
	}
	snap := portfolio.Take(assets, book, now, cycleID)
	if err := p.deps.Store.AppendSnapshot(ctx, &snap); err != nil {
		return snap, err
	}
	if m := p.deps.Metrics; m != nil {
		v, _ := snap.MarketValue.Float64()
		pnl, _ := snap.PnL.Float64()
		m.PortfolioValue.Set(v)
		m.PortfolioPnL.Set(pnl)
		m.PortfolioCompleteness.Set(snap.Completeness)
	}
	return snap, nil
}

// quickAlerts 采集时只检查收益类告警，其余告警在日终评分时产生
func (p *Pipeline) quickAlerts(ctx context.Context, book *pricing.Book, now time.Time) (int, error) {
	assets, err := p.deps.Store.HeldAssets(ctx)
	if err != nil {
		return 0, err
	}
	holdings, total := portfolio.Holdings(assets, book)

	var alerts []models.Alert
	for item, h := range holdings {
		price, ok := book.Price(item)
		if !ok {
			continue
		}
		res := p.deps.Scorer.Score(quant.ScoreInput{
			Item: item, AsOf: now, Price: price, Holding: h,
			Market: quant.MarketContext{PortfolioValue: total},
		})
		for _, hit := range res.Alerts {
			if hit.Kind == quant.AlertProfit50 || hit.Kind == quant.AlertProfit100 {
				alerts = append(alerts, hit.ToModel(item, now))
			}
		}
	}
	return p.raise(ctx, alerts)
}

// raise 保存告警，只推送当天首次出现的告警
func (p *Pipeline) raise(ctx context.Context, alerts []models.Alert) (int, error) {
	if len(alerts) == 0 {
		return 0, nil
	}
	fresh, err := p.deps.Store.SaveAlerts(ctx, alerts)
	if err != nil {
		return 0, err
	}
	if len(fresh) == 0 {
		return 0, nil
	}
	if m := p.deps.Metrics; m != nil {
		for _, a := range fresh {
			m.AlertsRaised.WithLabelValues(a.Kind).Inc()
		}
	}
	if err := p.deps.Notifier.Notify(ctx, fresh); err != nil {
		logger.FromContext(ctx, p.logger).Warn("alert delivery failed", "alerts", len(fresh), "error", err)
	}
	return len(fresh), nil
}
