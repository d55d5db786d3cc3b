package csqaq

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"csgo-quant/internal/models"
	"csgo-quant/internal/store"
)

// Repository 同步所需的存储接口
type Repository interface {
	TrackedItems(ctx context.Context) ([]string, error)
	GetItem(ctx context.Context, name string) (*models.Item, error)
	UpsertItem(ctx context.Context, item models.Item) (*models.Item, error)
	SaveMarketStats(ctx context.Context, stats []models.MarketStat) error
}

// SyncResult 同步统计
type SyncResult struct {
	Mapped   int
	Synced   int
	Unmapped int
	Errors   int
}

// Syncer 每日同步租赁/成交数据并补全饰品元数据
type Syncer struct {
	client *Client
	repo   Repository
	delay  time.Duration // 请求间隔，接口限流 1 req/s
	logger *slog.Logger
}

// NewSyncer 创建同步器
func NewSyncer(client *Client, repo Repository, delay time.Duration, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{client: client, repo: repo, delay: delay, logger: logger.With("component", "csqaq")}
}

// Sync 同步所有跟踪中的饰品。单个饰品失败只计数不中断，存储失败直接返回。
func (s *Syncer) Sync(ctx context.Context, day time.Time) (SyncResult, error) {
	var res SyncResult
	names, err := s.repo.TrackedItems(ctx)
	if err != nil {
		return res, err
	}

	var stats []models.MarketStat
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		item, err := s.repo.GetItem(ctx, name)
		if errors.Is(err, store.ErrNotFound) {
			item = &models.Item{Name: name}
		} else if err != nil {
			return res, err
		}

		if item.CatalogID == nil {
			id, ok, err := s.mapID(ctx, name)
			if err != nil {
				res.Errors++
				s.logger.Warn("csqaq mapping failed", "item", name, "error", err)
				continue
			}
			if !ok {
				res.Unmapped++
				s.logger.Debug("csqaq no match", "item", name)
				continue
			}
			item.CatalogID = &id
			res.Mapped++
		}

		info, err := s.client.Good(ctx, *item.CatalogID)
		s.pause(ctx)
		if err != nil {
			res.Errors++
			s.logger.Warn("csqaq fetch good failed", "item", name, "good_id", *item.CatalogID, "error", err)
			continue
		}

		if _, err := s.repo.UpsertItem(ctx, enrichment(name, *item.CatalogID, info)); err != nil {
			return res, err
		}
		stats = append(stats, toStat(name, day, info))
		res.Synced++
		if res.Synced%30 == 0 {
			s.logger.Info("csqaq sync progress", "synced", res.Synced, "total", len(names))
		}
	}

	if err := s.repo.SaveMarketStats(ctx, stats); err != nil {
		return res, err
	}
	s.logger.Info("csqaq sync complete", "synced", res.Synced, "mapped", res.Mapped, "unmapped", res.Unmapped, "errors", res.Errors)
	return res, nil
}

// mapID 通过排行榜搜索找到 good_id，先用去磨损的名称，再用全名
func (s *Syncer) mapID(ctx context.Context, name string) (int64, bool, error) {
	terms := []string{searchTerm(name)}
	if terms[0] != name {
		terms = append(terms, name)
	}
	for _, term := range terms {
		entries, err := s.client.SearchRank(ctx, term, 10)
		s.pause(ctx)
		if err != nil {
			return 0, false, err
		}
		for _, e := range entries {
			if e.MarketHashName == name || e.Name == name {
				return e.ID, true, nil
			}
		}
	}
	return 0, false, nil
}

func (s *Syncer) pause(ctx context.Context) {
	if s.delay <= 0 {
		return
	}
	t := time.NewTimer(s.delay)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

func enrichment(name string, id int64, info *GoodInfo) models.Item {
	typ := info.TypeLocalizedName
	if typ != "" && info.RarityLocalizedName != "" {
		typ = info.RarityLocalizedName + " " + typ
	}
	return models.Item{
		Name:      name,
		CatalogID: &id,
		Category:  models.Classify(name),
		Type:      typ,
		Wear:      models.Wear(name),
		IconURL:   info.Img,
	}
}

// toStat 只保留有效值，0 租金视为缺失
func toStat(name string, day time.Time, info *GoodInfo) models.MarketStat {
	st := models.MarketStat{ItemName: name, Day: models.DayOf(day)}
	if info.YyypLeaseAnnual != nil && *info.YyypLeaseAnnual > 0 {
		v := *info.YyypLeaseAnnual
		st.RentalYield = &v
	}
	if info.YyypLeasePrice != nil && *info.YyypLeasePrice > 0 {
		v := *info.YyypLeasePrice
		st.DailyRent = &v
	}
	if info.TurnoverNumber != nil {
		v := *info.TurnoverNumber
		st.Turnover = &v
	}
	if info.Statistic != nil {
		v := *info.Statistic
		st.Supply = &v
	}
	if info.YyypSellNum != nil {
		v := *info.YyypSellNum
		st.SellCount = &v
	}
	return st
}
