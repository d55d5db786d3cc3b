package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Signal 商品某日的评分结果。每次运行各写一行，只有已提交运行的行对外可见
type Signal struct {
	ID               uint           `json:"id" gorm:"primaryKey"`
	ItemName         string         `json:"item_name" gorm:"uniqueIndex:uidx_signal_item_day_run;size:255;not null"`
	AsOf             time.Time      `json:"as_of" gorm:"uniqueIndex:uidx_signal_item_day_run;type:date"`
	Price            float64        `json:"price"`
	SellScore        float64        `json:"sell_score"`
	OpportunityScore float64        `json:"opportunity_score"`
	SellDims         datatypes.JSON `json:"sell_dims"`
	OpportunityDims  datatypes.JSON `json:"opportunity_dims"`
	Indicators       datatypes.JSON `json:"indicators"`
	Unavailable      datatypes.JSON `json:"unavailable"`
	Alerts           datatypes.JSON `json:"alerts"`
	PriceStale       bool           `json:"price_stale"`
	RunID            string         `json:"run_id" gorm:"uniqueIndex:uidx_signal_item_day_run;index;size:36"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// 告警级别
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Alert 每个 (item, kind, day) 最多触发一次
type Alert struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	ItemName  string    `json:"item_name" gorm:"uniqueIndex:uidx_alert_item_kind_day;size:255;not null"`
	Kind      string    `json:"kind" gorm:"uniqueIndex:uidx_alert_item_kind_day;size:32;not null"`
	Day       time.Time `json:"day" gorm:"uniqueIndex:uidx_alert_item_kind_day;type:date"`
	Severity  string    `json:"severity" gorm:"size:16"`
	Title     string    `json:"title"`
	Detail    string    `json:"detail"`
	Value     float64   `json:"value"`
	Threshold float64   `json:"threshold"`
	IsRead    bool      `json:"is_read" gorm:"default:false"`
	CreatedAt time.Time `json:"created_at"`
}

// PortfolioSnapshot 持仓与规范价格的汇总快照，只追加
type PortfolioSnapshot struct {
	ID               uint            `json:"id" gorm:"primaryKey"`
	TakenAt          time.Time       `json:"taken_at" gorm:"index"`
	CycleID          string          `json:"cycle_id" gorm:"size:36"`
	MarketValue      decimal.Decimal `json:"market_value" gorm:"type:decimal(16,2)"`
	Cost             decimal.Decimal `json:"cost" gorm:"type:decimal(16,2)"`
	PricedCost       decimal.Decimal `json:"priced_cost" gorm:"type:decimal(16,2)"`
	PnL              decimal.Decimal `json:"pnl" gorm:"type:decimal(16,2)"`
	PnLPct           float64         `json:"pnl_pct"`
	InSteamCount     int             `json:"in_steam_count"`
	InSteamValue     decimal.Decimal `json:"in_steam_value" gorm:"type:decimal(16,2)"`
	InSteamCost      decimal.Decimal `json:"in_steam_cost" gorm:"type:decimal(16,2)"`
	RentedOutCount   int             `json:"rented_out_count"`
	RentedOutValue   decimal.Decimal `json:"rented_out_value" gorm:"type:decimal(16,2)"`
	RentedOutCost    decimal.Decimal `json:"rented_out_cost" gorm:"type:decimal(16,2)"`
	AssetCount       int             `json:"asset_count"`
	PricedCount      int             `json:"priced_count"`
	Completeness     float64         `json:"completeness"`
	CostCompleteness float64         `json:"cost_completeness"`
}

// 流水线阶段状态
const (
	RunRunning   = "running"
	RunCommitted = "committed"
	RunFailed    = "failed"
)

// PipelineRun 任务某日某阶段的执行记录
type PipelineRun struct {
	ID         uint       `json:"id" gorm:"primaryKey"`
	RunID      string     `json:"run_id" gorm:"index;size:36;not null"`
	Job        string     `json:"job" gorm:"index:idx_run_job_day;size:32"`
	Day        time.Time  `json:"day" gorm:"index:idx_run_job_day;type:date"`
	Stage      string     `json:"stage" gorm:"size:32"`
	Status     string     `json:"status" gorm:"size:16"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// All 需要 AutoMigrate 的全部模型
func All() []interface{} {
	return []interface{}{
		&Item{}, &Asset{}, &LeaseRecord{}, &ManualPrice{},
		&PriceObservation{}, &CanonicalPrice{}, &DailyBar{}, &MarketStat{},
		&Signal{}, &Alert{}, &PortfolioSnapshot{}, &PipelineRun{},
	}
}
