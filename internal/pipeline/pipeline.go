// Package pipeline 编排采集、日终评分、市场数据同步与清理任务
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"csgo-quant/internal/bars"
	"csgo-quant/internal/ledger"
	"csgo-quant/internal/logger"
	"csgo-quant/internal/metrics"
	"csgo-quant/internal/notify"
	"csgo-quant/internal/pricing"
	"csgo-quant/internal/quant"
	"csgo-quant/internal/services"
	"csgo-quant/internal/services/csqaq"
	"csgo-quant/internal/store"
)

// 任务名
const (
	JobCollect = "collect"
	JobDaily   = "daily"
	JobStats   = "stats"
	JobCleanup = "cleanup"
)

// 日终任务阶段，按顺序执行，已提交的阶段在重跑时跳过
const (
	StageBackfill = "backfill"
	StageScore    = "score"
	StageAlerts   = "alerts"
)

// StatsSyncer 市场数据同步（CSQAQ）
type StatsSyncer interface {
	Sync(ctx context.Context, day time.Time) (csqaq.SyncResult, error)
}

var _ StatsSyncer = (*csqaq.Syncer)(nil)

// Options 运行参数
type Options struct {
	Retention      time.Duration
	BackfillDays   int
	HistoryDays    int
	ImportLookback time.Duration
	LockTTL        time.Duration
}

func (o *Options) defaults() {
	if o.Retention <= 0 {
		o.Retention = 7 * 24 * time.Hour
	}
	if o.BackfillDays <= 0 {
		o.BackfillDays = 60
	}
	if o.HistoryDays <= 0 {
		o.HistoryDays = 400
	}
	if o.ImportLookback <= 0 {
		o.ImportLookback = 24 * time.Hour
	}
}

// Deps 依赖。Cache、Stats、Notifier 可以为 nil
type Deps struct {
	Store     *store.Store
	Cache     *store.Cache
	Fetcher   *services.Fetcher
	Ledger    *ledger.Ledger
	Importers []ledger.Importer
	Stats     StatsSyncer
	Scorer    *quant.Scorer
	Radar     *pricing.Radar
	Notifier  notify.Notifier
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

// Pipeline 持有当前价格簿与最近一次价差扫描结果
type Pipeline struct {
	deps   Deps
	opts   Options
	bars   *bars.Builder
	locker *ItemLocker
	book   pricing.Current
	logger *slog.Logger
	now    func() time.Time

	// bookMu 串行化价格簿的读-改-写，采集与重算不会互相覆盖
	bookMu sync.Mutex

	mu         sync.RWMutex
	spreads    map[string]pricing.ArbitrageEntry
	arbitrage  []pricing.ArbitrageEntry
	lastImport map[string]time.Time
}

func New(deps Deps, opts Options) *Pipeline {
	opts.defaults()
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Scorer == nil {
		deps.Scorer = quant.NewScorer(nil)
	}
	if deps.Radar == nil {
		deps.Radar = pricing.NewRadar(5, nil)
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.NewLogNotifier(deps.Logger)
	}
	return &Pipeline{
		deps:       deps,
		opts:       opts,
		bars:       bars.NewBuilder(deps.Store),
		locker:     NewItemLocker(deps.Cache, opts.LockTTL),
		logger:     deps.Logger.With("component", "pipeline"),
		now:        time.Now,
		spreads:    make(map[string]pricing.ArbitrageEntry),
		lastImport: make(map[string]time.Time),
	}
}

// Restore 启动时从数据库恢复上一版价格簿
func (p *Pipeline) Restore(ctx context.Context) error {
	book, err := p.deps.Store.LoadBook(ctx)
	if err != nil {
		return err
	}
	p.bookMu.Lock()
	p.book.Store(book)
	p.bookMu.Unlock()
	p.logger.Info("price book restored", "version", book.Version(), "items", book.Len())
	return nil
}

// Book 当前价格簿，可能为 nil
func (p *Pipeline) Book() *pricing.Book {
	return p.book.Load()
}

// swapBook 基于最新一版价格簿生成下一版，落库后再替换内存中的指针
func (p *Pipeline) swapBook(ctx context.Context, next func(prev *pricing.Book) (*pricing.Book, error)) (*pricing.Book, error) {
	p.bookMu.Lock()
	defer p.bookMu.Unlock()

	book, err := next(p.book.Load())
	if err != nil {
		return nil, err
	}
	if err := p.deps.Store.SaveBook(ctx, book); err != nil {
		return nil, err
	}
	p.book.Store(book)
	if err := p.deps.Cache.PublishBook(ctx, book); err != nil {
		logger.FromContext(ctx, p.logger).Warn("publish book to cache failed", "error", err)
	}
	return book, nil
}

// Arbitrage 最近一次扫描的套利机会
func (p *Pipeline) Arbitrage() []pricing.ArbitrageEntry {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]pricing.ArbitrageEntry, len(p.arbitrage))
	copy(out, p.arbitrage)
	return out
}

func (p *Pipeline) spreadPct(item string) *float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.spreads[item]
	if !ok {
		return nil
	}
	v := e.SpreadPct
	return &v
}

// Register 把全部任务注册到调度器
func (p *Pipeline) Register(s *Scheduler, timeout time.Duration) {
	s.Register(JobCollect, p.Collect, timeout)
	s.Register(JobDaily, func(ctx context.Context) error {
		return p.Daily(ctx, p.now(), false)
	}, timeout)
	s.Register(JobStats, p.SyncStats, timeout)
	s.Register(JobCleanup, p.Cleanup, timeout)
}

// SyncStats 同步当日市场数据
func (p *Pipeline) SyncStats(ctx context.Context) error {
	if p.deps.Stats == nil {
		return nil
	}
	res, err := p.deps.Stats.Sync(ctx, p.now())
	if err != nil {
		return err
	}
	p.logger.Info("market stats synced", "mapped", res.Mapped, "synced", res.Synced, "unmapped", res.Unmapped, "errors", res.Errors)
	return nil
}

// Cleanup 删除保留期之前的原始观测
func (p *Pipeline) Cleanup(ctx context.Context) error {
	cutoff := p.now().UTC().Add(-p.opts.Retention)
	n, err := p.deps.Store.DeleteObservationsBefore(ctx, cutoff)
	if err != nil {
		return err
	}
	p.logger.Info("observations pruned", "cutoff", cutoff, "deleted", n)
	return nil
}

// fatal 判断单个商品的错误是否应中止整个任务
func fatal(err error) bool {
	return errors.Is(err, store.ErrPersistence) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
