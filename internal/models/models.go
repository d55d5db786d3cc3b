package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// AssetState 单件资产的生命周期状态
type AssetState string

const (
	StateInSteam   AssetState = "in_steam"
	StateRentedOut AssetState = "rented_out"
	StateSold      AssetState = "sold"
)

// 库存导入器上报的持有位置标记
const (
	MarkerSteam  = "steam"
	MarkerAbsent = ""
)

// Item 可交易的 CS2 饰品，以 market hash name 为键
type Item struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	Name      string    `json:"name" gorm:"uniqueIndex;size:255;not null"`
	CatalogID *int64    `json:"catalog_id,omitempty" gorm:"index"` // CSQAQ good_id / YouPin template id
	Category  string    `json:"category"`                          // knife、glove、rifle、sticker ...
	Type      string    `json:"type"`
	Wear      string    `json:"wear"`
	IconURL   string    `json:"icon_url"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Enrich 用 other 补齐空的元数据字段，不覆盖已有值。有改动时返回 true
func (i *Item) Enrich(other Item) bool {
	changed := false
	if i.CatalogID == nil && other.CatalogID != nil {
		id := *other.CatalogID
		i.CatalogID = &id
		changed = true
	}
	fill := func(dst *string, src string) {
		if *dst == "" && src != "" {
			*dst = src
			changed = true
		}
	}
	fill(&i.Category, other.Category)
	fill(&i.Type, other.Type)
	fill(&i.Wear, other.Wear)
	fill(&i.IconURL, other.IconURL)
	return changed
}

// Asset 用户持有的一件实物
type Asset struct {
	ID            uint                `json:"id" gorm:"primaryKey"`
	InstanceID    string              `json:"instance_id" gorm:"uniqueIndex;size:64;not null"`
	ItemName      string              `json:"item_name" gorm:"index;size:255;not null"`
	Cost          decimal.NullDecimal `json:"cost" gorm:"type:decimal(14,2)"`
	CostCorrected bool                `json:"cost_corrected"`
	AcquiredAt    time.Time           `json:"acquired_at"`
	State         AssetState          `json:"state" gorm:"index;size:16;not null;default:'in_steam'"`
	StorageMarker string              `json:"storage_marker" gorm:"size:64"`
	LeaseRef      string              `json:"lease_ref,omitempty" gorm:"size:64"`
	LeaseEndsAt   *time.Time          `json:"lease_ends_at,omitempty"`
	SoldAt        *time.Time          `json:"sold_at,omitempty"`
	SoldPrice     decimal.NullDecimal `json:"sold_price" gorm:"type:decimal(14,2)"`
	TargetPnLPct  *float64            `json:"target_pnl_pct,omitempty"`
	NeedsReview   bool                `json:"needs_review" gorm:"index"`
	ReviewNote    string              `json:"review_note,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

// HasActiveLease t 时刻租约是否仍在进行
func (a *Asset) HasActiveLease(t time.Time) bool {
	return a.LeaseRef != "" && a.LeaseEndsAt != nil && a.LeaseEndsAt.After(t)
}

// LeaseRecord 从租赁平台导入的租出订单
type LeaseRecord struct {
	ID         uint            `json:"id" gorm:"primaryKey"`
	OrderID    string          `json:"order_id" gorm:"uniqueIndex;size:64;not null"`
	AssetRef   string          `json:"asset_ref" gorm:"index;size:64"` // 匹配到的 Asset.InstanceID
	ItemName   string          `json:"item_name" gorm:"size:255"`
	BuyPrice   decimal.Decimal `json:"buy_price" gorm:"type:decimal(14,2)"`
	BoughtAt   time.Time       `json:"bought_at"`
	DailyRent  decimal.Decimal `json:"daily_rent" gorm:"type:decimal(14,2)"`
	StartAt    time.Time       `json:"start_at"`
	EndAt      time.Time       `json:"end_at"`
	Status     string          `json:"status" gorm:"size:16"` // leasing, returned, cancelled
	Unresolved bool            `json:"unresolved" gorm:"index"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Active t 时刻租约是否进行中
func (l *LeaseRecord) Active(t time.Time) bool {
	return l.Status == "leasing" && l.EndAt.After(t)
}

// ManualPrice 手动价格，清除前覆盖数据源价格
type ManualPrice struct {
	ItemName  string          `json:"item_name" gorm:"primaryKey;size:255"`
	Price     decimal.Decimal `json:"price" gorm:"type:decimal(14,2)"`
	Note      string          `json:"note"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// DayOf 按 t 自身时区取自然日，返回该日 UTC 零点
func DayOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
