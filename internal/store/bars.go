package store

import (
	"context"
	"errors"
	"time"

	"csgo-quant/internal/bars"
	"csgo-quant/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var _ bars.Repository = (*Store)(nil)

func (s *Store) GetBar(ctx context.Context, item string, day time.Time) (*models.DailyBar, error) {
	var b models.DailyBar
	err := s.conn(ctx).Where("item_name = ? AND day = ?", item, models.DayOf(day)).First(&b).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, bars.ErrBarNotFound
	}
	if err != nil {
		return nil, wrap("get bar", err)
	}
	return &b, nil
}

// SaveBar 按 (item, day) upsert
func (s *Store) SaveBar(ctx context.Context, b *models.DailyBar) error {
	b.Day = models.DayOf(b.Day)
	if b.ID != 0 {
		return wrap("save bar", s.conn(ctx).Save(b).Error)
	}
	err := s.conn(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "item_name"}, {Name: "day"}},
		DoUpdates: clause.AssignmentColumns([]string{"open", "high", "low", "close", "samples", "updated_at"}),
	}).Create(b).Error
	return wrap("save bar", err)
}

func (s *Store) BarsInRange(ctx context.Context, item string, from, to time.Time) ([]models.DailyBar, error) {
	var out []models.DailyBar
	err := s.conn(ctx).
		Where("item_name = ? AND day >= ? AND day <= ?", item, models.DayOf(from), models.DayOf(to)).
		Order("day").Find(&out).Error
	return out, wrap("bars in range", err)
}

func (s *Store) LastBarBefore(ctx context.Context, item string, day time.Time) (*models.DailyBar, error) {
	var b models.DailyBar
	err := s.conn(ctx).Where("item_name = ? AND day < ?", item, models.DayOf(day)).Order("day DESC").First(&b).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, bars.ErrBarNotFound
	}
	if err != nil {
		return nil, wrap("last bar before", err)
	}
	return &b, nil
}

// FirstBarDay 商品最早一根K线的日期
func (s *Store) FirstBarDay(ctx context.Context, item string) (time.Time, error) {
	var b models.DailyBar
	err := s.conn(ctx).Select("day").Where("item_name = ?", item).Order("day").First(&b).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, bars.ErrBarNotFound
	}
	if err != nil {
		return time.Time{}, wrap("first bar", err)
	}
	return b.Day, nil
}
