package models

import (
	"time"

	"gorm.io/datatypes"
)

// PriceObservation 单个平台的一次原始在售价，只追加
type PriceObservation struct {
	ID         uint      `json:"id" gorm:"primaryKey"`
	ItemName   string    `json:"item_name" gorm:"index:idx_obs_item_time;size:255;not null"`
	Platform   string    `json:"platform" gorm:"size:16;not null"` // STEAM, YOUPIN, BUFF, C5
	Source     string    `json:"source" gorm:"size:16;not null"`   // 产生该价格的数据源
	Price      float64   `json:"price"`
	SellCount  int       `json:"sell_count"`
	ObservedAt time.Time `json:"observed_at" gorm:"index:idx_obs_item_time"`
	CycleID    string    `json:"cycle_id" gorm:"index;size:36"`
}

// CanonicalPrice 每个商品最新的规范价格
type CanonicalPrice struct {
	ItemName       string         `json:"item_name" gorm:"primaryKey;size:255"`
	Price          float64        `json:"price"`
	Platform       string         `json:"platform" gorm:"size:16"`
	Source         string         `json:"source" gorm:"size:16"`
	Manual         bool           `json:"manual"`
	PriceStale     bool           `json:"price_stale"`
	StalePlatforms datatypes.JSON `json:"stale_platforms"`
	Version        uint64         `json:"version"`
	ObservedAt     time.Time      `json:"observed_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// DailyBar 一个自然日内规范价格的 OHLC。Samples == 0 表示回填的平K线
type DailyBar struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	ItemName  string    `json:"item_name" gorm:"uniqueIndex:uidx_bar_item_day;size:255;not null"`
	Day       time.Time `json:"day" gorm:"uniqueIndex:uidx_bar_item_day;type:date"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Samples   int       `json:"samples"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Flat 是否为沿用前收盘价的平K线
func (b *DailyBar) Flat() bool {
	return b.Samples == 0
}

// MarketStat 商品某日的租赁与流动性数据
type MarketStat struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	ItemName    string    `json:"item_name" gorm:"uniqueIndex:uidx_stat_item_day;size:255;not null"`
	Day         time.Time `json:"day" gorm:"uniqueIndex:uidx_stat_item_day;type:date"`
	RentalYield *float64  `json:"rental_yield,omitempty"` // annualized %, 悠悠有品租赁年化
	DailyRent   *float64  `json:"daily_rent,omitempty"`
	Turnover    *float64  `json:"turnover,omitempty"` // Steam 日成交件数
	Supply      *int64    `json:"supply,omitempty"`
	SellCount   *int      `json:"sell_count,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}
