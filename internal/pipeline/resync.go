package pipeline

import (
	"context"
	"fmt"

	"csgo-quant/internal/logger"
	"csgo-quant/internal/models"
	"csgo-quant/internal/portfolio"
	"csgo-quant/internal/pricing"
	"csgo-quant/internal/quant"
	"csgo-quant/internal/store"

	"github.com/google/uuid"
)

// JobResync 手动重算使用的运行记录任务名
const JobResync = "resync"

// Resync 立即重新拉取单个商品的价格并重算当日信号。
// 与定时任务按商品互斥；新信号以独立的已提交运行写入。
func (p *Pipeline) Resync(ctx context.Context, item string) (*models.Signal, error) {
	runID := uuid.NewString()
	ctx = logger.WithCycleID(ctx, runID)
	log := logger.FromContext(ctx, p.logger).With("item", item)
	now := p.now().UTC()
	day := models.DayOf(now)

	var batches []pricing.Batch
	if p.deps.Fetcher != nil {
		batches = p.deps.Fetcher.FetchAll(ctx, []string{item})
	}
	overrides, err := p.deps.Store.ManualPrices(ctx)
	if err != nil {
		return nil, err
	}
	single := map[string]float64{}
	if v, ok := overrides[item]; ok {
		single[item] = v
	}

	var c pricing.Canonical
	book, err := p.swapBook(ctx, func(prev *pricing.Book) (*pricing.Book, error) {
		fresh := pricing.Aggregate(prev, []string{item}, batches, single, now)
		var ok bool
		if c, ok = fresh.Get(item); !ok {
			return nil, fmt.Errorf("resync %s: no price available: %w", item, quant.ErrInsufficientHistory)
		}
		return prev.Merge(now, c), nil
	})
	if err != nil {
		return nil, err
	}

	var obs []pricing.Observation
	for _, b := range batches {
		if b.Err == nil {
			obs = append(obs, b.Observations...)
		}
	}
	if err := p.deps.Store.AppendObservations(ctx, runID, obs); err != nil {
		return nil, err
	}
	if !c.PriceStale {
		if err := p.appendBar(ctx, item, c.Price, now); err != nil {
			return nil, err
		}
	}

	assets, err := p.deps.Store.HeldAssets(ctx)
	if err != nil {
		return nil, err
	}
	holdings, total := portfolio.Holdings(assets, book)
	sig, err := p.scoreItem(ctx, item, day, book, holdings[item], total)
	if err != nil {
		return nil, err
	}
	sig.RunID = runID
	if err := p.deps.Store.SaveSignals(ctx, []models.Signal{*sig}); err != nil {
		return nil, err
	}
	run, err := p.deps.Store.BeginStage(ctx, runID, JobResync, day, store.StageCommit)
	if err != nil {
		return nil, err
	}
	if err := p.deps.Store.FinishStage(ctx, run, nil); err != nil {
		return nil, err
	}
	log.Info("item resynced", "price", c.Price, "platform", c.Platform, "sell_score", sig.SellScore)
	return sig, nil
}
