package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"csgo-quant/internal/bars"
	"csgo-quant/internal/logger"
	"csgo-quant/internal/models"
	"csgo-quant/internal/portfolio"
	"csgo-quant/internal/pricing"
	"csgo-quant/internal/quant"
	"csgo-quant/internal/store"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// DailyResult 日终任务汇总
type DailyResult struct {
	RunID      string
	Day        time.Time
	Skipped    bool // 当日已提交且未强制重跑
	Resumed    []string
	Backfilled int
	Signals    int
	Failed     int
	Alerts     int
}

// Daily 调度器使用的日终任务
func (p *Pipeline) Daily(ctx context.Context, day time.Time, force bool) error {
	_, err := p.RunDaily(ctx, day, force)
	return err
}

// RunDaily 按阶段执行日终任务：补齐日K → 指标与评分 → 告警 → 提交。
// 中断后重跑从最后一个已提交阶段之后继续；已提交的日期只有 force 时才重算，并使用新的 run id。
func (p *Pipeline) RunDaily(ctx context.Context, day time.Time, force bool) (*DailyResult, error) {
	day = models.DayOf(day)
	res := &DailyResult{Day: day}

	runID, done, finished, err := p.deps.Store.OpenRun(ctx, JobDaily, day, uuid.NewString)
	if err != nil {
		return res, err
	}
	if finished {
		if !force {
			res.RunID, res.Skipped = runID, true
			p.logger.Info("daily run already committed", "day", day.Format("2006-01-02"), "run_id", runID)
			return res, nil
		}
		runID, done = uuid.NewString(), map[string]bool{}
	}
	res.RunID = runID
	ctx = logger.WithCycleID(ctx, runID)
	log := logger.FromContext(ctx, p.logger).With("day", day.Format("2006-01-02"))

	items, err := p.deps.Store.TrackedItems(ctx)
	if err != nil {
		return res, err
	}
	sort.Strings(items)

	stages := []struct {
		name string
		fn   func(context.Context) error
	}{
		{StageBackfill, func(ctx context.Context) error {
			n, err := p.backfill(ctx, items, day, log)
			res.Backfilled = n
			return err
		}},
		{StageScore, func(ctx context.Context) error {
			n, failed, err := p.score(ctx, items, day, runID, log)
			res.Signals, res.Failed = n, failed
			return err
		}},
		{StageAlerts, func(ctx context.Context) error {
			n, err := p.dailyAlerts(ctx, runID, day)
			res.Alerts = n
			return err
		}},
		{store.StageCommit, func(context.Context) error { return nil }},
	}

	for _, st := range stages {
		if done[st.name] {
			res.Resumed = append(res.Resumed, st.name)
			continue
		}
		run, err := p.deps.Store.BeginStage(ctx, runID, JobDaily, day, st.name)
		if err != nil {
			return res, err
		}
		stageErr := st.fn(ctx)
		if err := p.deps.Store.FinishStage(ctx, run, stageErr); err != nil {
			return res, errors.Join(stageErr, err)
		}
		if stageErr != nil {
			return res, fmt.Errorf("daily stage %s: %w", st.name, stageErr)
		}
		log.Info("daily stage committed", "stage", st.name, "run_id", runID)
	}
	log.Info("daily run committed", "run_id", runID, "signals", res.Signals, "failed", res.Failed,
		"alerts", res.Alerts, "backfilled", res.Backfilled)
	return res, nil
}

// backfill 为每个商品补齐 [max(首根日K, day-BackfillDays), day] 内缺失的日期
func (p *Pipeline) backfill(ctx context.Context, items []string, day time.Time, log *slog.Logger) (int, error) {
	total := 0
	floor := day.AddDate(0, 0, -p.opts.BackfillDays)
	for _, item := range items {
		n, err := p.backfillItem(ctx, item, floor, day)
		if err != nil {
			if fatal(err) {
				return total, err
			}
			log.Warn("backfill failed", "item", item, "error", err)
			p.itemFailed()
			continue
		}
		total += n
	}
	if p.deps.Metrics != nil {
		p.deps.Metrics.BarsBackfilled.Add(float64(total))
	}
	return total, nil
}

func (p *Pipeline) backfillItem(ctx context.Context, item string, floor, day time.Time) (int, error) {
	unlock, err := p.locker.Lock(ctx, item)
	if err != nil {
		return 0, err
	}
	defer unlock()

	first, err := p.deps.Store.FirstBarDay(ctx, item)
	if errors.Is(err, bars.ErrBarNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	from := floor
	if first.After(from) {
		from = first
	}
	return p.bars.Backfill(ctx, item, from, day)
}

// score 计算全部商品的指标与评分并写入本次运行的信号，单个商品失败不影响其它商品
func (p *Pipeline) score(ctx context.Context, items []string, day time.Time, runID string, log *slog.Logger) (int, int, error) {
	assets, err := p.deps.Store.HeldAssets(ctx)
	if err != nil {
		return 0, 0, err
	}
	book := p.book.Load()
	holdings, total := portfolio.Holdings(assets, book)

	var sigs []models.Signal
	failed := 0
	for _, item := range items {
		sig, err := p.scoreItem(ctx, item, day, book, holdings[item], total)
		if err != nil {
			if fatal(err) {
				return 0, failed, err
			}
			log.Warn("scoring failed", "item", item, "error", err)
			p.itemFailed()
			failed++
			continue
		}
		sig.RunID = runID
		sigs = append(sigs, *sig)
	}
	if err := p.deps.Store.SaveSignals(ctx, sigs); err != nil {
		return 0, failed, err
	}
	if p.deps.Metrics != nil {
		p.deps.Metrics.SignalsTotal.Add(float64(len(sigs)))
	}
	return len(sigs), failed, nil
}

func (p *Pipeline) scoreItem(ctx context.Context, item string, day time.Time, book *pricing.Book, h *quant.Holding, portfolioValue float64) (*models.Signal, error) {
	unlock, err := p.locker.Lock(ctx, item)
	if err != nil {
		return nil, err
	}
	defer unlock()

	series, err := p.deps.Store.BarsInRange(ctx, item, day.AddDate(0, 0, -p.opts.HistoryDays), day)
	if err != nil {
		return nil, err
	}
	cfg := p.deps.Scorer.Config()
	ind := quant.ComputeIndicators(cfg, series, day, h)

	in := quant.ScoreInput{Item: item, AsOf: day, Holding: h, Indicators: ind}
	if c, ok := book.Get(item); ok && c.Price > 0 {
		in.Price, in.PriceStale = c.Price, c.PriceStale
	} else if ind.Close != nil {
		in.Price, in.PriceStale = *ind.Close, true
	} else {
		return nil, fmt.Errorf("%w: no price for %s", quant.ErrInsufficientHistory, item)
	}

	in.Market.PortfolioValue = portfolioValue
	in.Market.SpreadPct = p.spreadPct(item)
	stat, err := p.deps.Store.LatestMarketStat(ctx, item, day)
	switch {
	case err == nil:
		in.Market.RentalYield, in.Market.Turnover = stat.RentalYield, stat.Turnover
	case !errors.Is(err, store.ErrNotFound):
		return nil, err
	}

	return toSignal(p.deps.Scorer.Score(in))
}

func toSignal(r quant.Result) (*models.Signal, error) {
	sig := &models.Signal{
		ItemName:         r.Item,
		AsOf:             r.AsOf,
		Price:            r.Price,
		SellScore:        r.SellScore,
		OpportunityScore: r.OpportunityScore,
		PriceStale:       r.PriceStale,
	}
	fields := []struct {
		dst *datatypes.JSON
		v   interface{}
	}{
		{&sig.SellDims, r.SellDims},
		{&sig.OpportunityDims, r.OpportunityDims},
		{&sig.Indicators, r.Indicators},
		{&sig.Unavailable, r.Indicators.Unavailable},
		{&sig.Alerts, r.Alerts},
	}
	for _, f := range fields {
		data, err := json.Marshal(f.v)
		if err != nil {
			return nil, fmt.Errorf("encode signal %s: %w", r.Item, err)
		}
		*f.dst = datatypes.JSON(data)
	}
	return sig, nil
}

// dailyAlerts 从本次运行保存的信号中取出告警，保存并推送新告警
func (p *Pipeline) dailyAlerts(ctx context.Context, runID string, day time.Time) (int, error) {
	sigs, err := p.deps.Store.RunSignals(ctx, runID)
	if err != nil {
		return 0, err
	}
	var alerts []models.Alert
	for _, sig := range sigs {
		if len(sig.Alerts) == 0 {
			continue
		}
		var hits []quant.AlertHit
		if err := json.Unmarshal(sig.Alerts, &hits); err != nil {
			logger.FromContext(ctx, p.logger).Warn("undecodable signal alerts", "item", sig.ItemName, "error", err)
			continue
		}
		for _, h := range hits {
			alerts = append(alerts, h.ToModel(sig.ItemName, day))
		}
	}
	return p.raise(ctx, alerts)
}
