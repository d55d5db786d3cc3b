package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"csgo-quant/internal/models"
	"csgo-quant/internal/pricing"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AppendObservations 分批写入原始报价
func (s *Store) AppendObservations(ctx context.Context, cycleID string, obs []pricing.Observation) error {
	if len(obs) == 0 {
		return nil
	}
	rows := make([]models.PriceObservation, 0, len(obs))
	for _, o := range obs {
		rows = append(rows, models.PriceObservation{
			ItemName:   o.Item,
			Platform:   o.Platform,
			Source:     o.Source,
			Price:      o.Price,
			SellCount:  o.SellCount,
			ObservedAt: o.ObservedAt.UTC(),
			CycleID:    cycleID,
		})
	}
	return wrap("append observations", s.conn(ctx).CreateInBatches(rows, s.batchSize).Error)
}

// Observations 商品在 [from, to] 内的报价，按时间升序
func (s *Store) Observations(ctx context.Context, item string, from, to time.Time) ([]models.PriceObservation, error) {
	var out []models.PriceObservation
	err := s.conn(ctx).
		Where("item_name = ? AND observed_at >= ? AND observed_at <= ?", item, from.UTC(), to.UTC()).
		Order("observed_at").Find(&out).Error
	return out, wrap("observations", err)
}

// DeleteObservationsBefore 删除 cutoff 之前的原始报价
func (s *Store) DeleteObservationsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.conn(ctx).Where("observed_at < ?", cutoff.UTC()).Delete(&models.PriceObservation{})
	return res.RowsAffected, wrap("delete observations", res.Error)
}

// SaveBook upsert 价格簿中的全部规范价格
func (s *Store) SaveBook(ctx context.Context, book *pricing.Book) error {
	all := book.All()
	if len(all) == 0 {
		return nil
	}
	rows := make([]models.CanonicalPrice, 0, len(all))
	for _, c := range all {
		stale, _ := json.Marshal(c.StalePlatforms)
		rows = append(rows, models.CanonicalPrice{
			ItemName:       c.Item,
			Price:          c.Price,
			Platform:       c.Platform,
			Source:         c.Source,
			Manual:         c.Manual,
			PriceStale:     c.PriceStale,
			StalePlatforms: stale,
			Version:        c.Version,
			ObservedAt:     c.ObservedAt.UTC(),
		})
	}
	err := s.conn(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "item_name"}},
		DoUpdates: clause.AssignmentColumns([]string{"price", "platform", "source", "manual", "price_stale", "stale_platforms", "version", "observed_at", "updated_at"}),
	}).CreateInBatches(rows, s.batchSize).Error
	return wrap("save canonical prices", err)
}

// LoadBook 重建最近持久化的价格簿，没有时返回 nil
func (s *Store) LoadBook(ctx context.Context) (*pricing.Book, error) {
	var rows []models.CanonicalPrice
	if err := s.conn(ctx).Find(&rows).Error; err != nil {
		return nil, wrap("load canonical prices", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	var version uint64
	var builtAt time.Time
	prices := make([]pricing.Canonical, 0, len(rows))
	for _, r := range rows {
		var stale []string
		if len(r.StalePlatforms) > 0 {
			_ = json.Unmarshal(r.StalePlatforms, &stale)
		}
		if r.Version > version {
			version = r.Version
		}
		if r.UpdatedAt.After(builtAt) {
			builtAt = r.UpdatedAt
		}
		prices = append(prices, pricing.Canonical{
			Item: r.ItemName, Price: r.Price, Platform: r.Platform, Source: r.Source,
			Manual: r.Manual, PriceStale: r.PriceStale, StalePlatforms: stale,
			ObservedAt: r.ObservedAt, Version: r.Version,
		})
	}
	return pricing.NewBook(version, builtAt, prices), nil
}

// SetManualPrice 设置手动价格，清除前一直生效
func (s *Store) SetManualPrice(ctx context.Context, item string, price decimal.Decimal, note string) error {
	mp := models.ManualPrice{ItemName: item, Price: price, Note: note}
	err := s.conn(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "item_name"}},
		DoUpdates: clause.AssignmentColumns([]string{"price", "note", "updated_at"}),
	}).Create(&mp).Error
	return wrap("set manual price", err)
}

// ClearManualPrice 清除手动价格，不存在时返回 ErrNotFound
func (s *Store) ClearManualPrice(ctx context.Context, item string) error {
	res := s.conn(ctx).Where("item_name = ?", item).Delete(&models.ManualPrice{})
	if res.Error != nil {
		return wrap("clear manual price", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ManualPrices 商品到手动价格的映射
func (s *Store) ManualPrices(ctx context.Context) (map[string]float64, error) {
	var rows []models.ManualPrice
	if err := s.conn(ctx).Find(&rows).Error; err != nil {
		return nil, wrap("manual prices", err)
	}
	out := make(map[string]float64, len(rows))
	for _, r := range rows {
		out[r.ItemName], _ = r.Price.Float64()
	}
	return out, nil
}

// SaveMarketStats upsert 每日租赁与流动性数据
func (s *Store) SaveMarketStats(ctx context.Context, stats []models.MarketStat) error {
	if len(stats) == 0 {
		return nil
	}
	for i := range stats {
		stats[i].Day = models.DayOf(stats[i].Day)
	}
	err := s.conn(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "item_name"}, {Name: "day"}},
		DoUpdates: clause.AssignmentColumns([]string{"rental_yield", "daily_rent", "turnover", "supply", "sell_count", "updated_at"}),
	}).CreateInBatches(stats, s.batchSize).Error
	return wrap("save market stats", err)
}

// LatestMarketStat 商品在 day 当天或之前最新的一条统计
func (s *Store) LatestMarketStat(ctx context.Context, item string, day time.Time) (*models.MarketStat, error) {
	var st models.MarketStat
	err := s.conn(ctx).Where("item_name = ? AND day <= ?", item, models.DayOf(day)).Order("day DESC").First(&st).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, wrap("latest market stat", err)
	}
	return &st, nil
}
