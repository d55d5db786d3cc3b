package quant

import (
	"fmt"
	"time"

	"csgo-quant/internal/models"
)

// 告警类型
const (
	AlertSellScoreHigh = "sell_score_high"
	AlertProfit50      = "profit_50"
	AlertProfit100     = "profit_100"
	AlertNearATH       = "near_ath"
	AlertRSIOverbought = "rsi_overbought"
	AlertRSIOversold   = "rsi_oversold"
	AlertMomentumSurge = "momentum_surge"
	AlertSpreadArb     = "spread_arb"
)

// EvaluateAlerts 检查阈值。同一 (商品, 类型, 日期) 的去重由存储层的唯一索引保证
func EvaluateAlerts(cfg *StrategyConfig, in *ScoreInput, res *Result) []AlertHit {
	var hits []AlertHit
	held := in.Holding != nil && in.Holding.Count > 0

	if held && res.SellScore >= cfg.SellScoreHighWater {
		hits = append(hits, AlertHit{
			Kind: AlertSellScoreHigh, Severity: models.SeverityWarning,
			Title:  fmt.Sprintf("%s 卖出评分 %.1f", in.Item, res.SellScore),
			Detail: "sell score above high-water mark",
			Value:  res.SellScore, Threshold: cfg.SellScoreHighWater,
		})
	}

	if pnl := res.PnLPct; pnl != nil && held {
		if *pnl > cfg.ProfitCriticalPct {
			hits = append(hits, AlertHit{
				Kind: AlertProfit100, Severity: models.SeverityCritical,
				Title:  fmt.Sprintf("%s 收益 %.1f%%", in.Item, *pnl),
				Detail: "unrealized profit above critical threshold",
				Value:  *pnl, Threshold: cfg.ProfitCriticalPct,
			})
		}
		if *pnl > cfg.ProfitWarnPct {
			hits = append(hits, AlertHit{
				Kind: AlertProfit50, Severity: models.SeverityWarning,
				Title:  fmt.Sprintf("%s 收益 %.1f%%", in.Item, *pnl),
				Detail: "unrealized profit above warning threshold",
				Value:  *pnl, Threshold: cfg.ProfitWarnPct,
			})
		}
	}

	ind := in.Indicators
	if p := ind.ATHPct; p != nil && held && *p > cfg.NearATHPct {
		hits = append(hits, AlertHit{
			Kind: AlertNearATH, Severity: models.SeverityWarning,
			Title:  fmt.Sprintf("%s 接近历史高点 (%.1f%%)", in.Item, *p),
			Detail: "price close to all-time high in tracked history",
			Value:  *p, Threshold: cfg.NearATHPct,
		})
	}
	if r := ind.RSI14; r != nil {
		switch {
		case *r > cfg.RSIOverbought:
			hits = append(hits, AlertHit{
				Kind: AlertRSIOverbought, Severity: models.SeverityWarning,
				Title:  fmt.Sprintf("%s RSI超买 %.1f", in.Item, *r),
				Detail: "RSI above overbought bound",
				Value:  *r, Threshold: cfg.RSIOverbought,
			})
		case *r < cfg.RSIOversold:
			hits = append(hits, AlertHit{
				Kind: AlertRSIOversold, Severity: models.SeverityInfo,
				Title:  fmt.Sprintf("%s RSI超卖 %.1f", in.Item, *r),
				Detail: "RSI below oversold bound",
				Value:  *r, Threshold: cfg.RSIOversold,
			})
		}
	}
	if m := ind.Momentum7; m != nil && *m > cfg.MomentumSurgePct {
		hits = append(hits, AlertHit{
			Kind: AlertMomentumSurge, Severity: models.SeverityWarning,
			Title:  fmt.Sprintf("%s 7日涨幅 %.1f%%", in.Item, *m),
			Detail: "7-day momentum surge",
			Value:  *m, Threshold: cfg.MomentumSurgePct,
		})
	}
	if s := in.Market.SpreadPct; s != nil && *s > cfg.SpreadAlertPct {
		hits = append(hits, AlertHit{
			Kind: AlertSpreadArb, Severity: models.SeverityInfo,
			Title:  fmt.Sprintf("%s 跨平台价差 %.1f%%", in.Item, *s),
			Detail: "cross-platform spread above floor",
			Value:  *s, Threshold: cfg.SpreadAlertPct,
		})
	}
	return hits
}

// ToModel 转换为持久化告警，day 为信号日期
func (h AlertHit) ToModel(item string, day time.Time) models.Alert {
	return models.Alert{
		ItemName:  item,
		Kind:      h.Kind,
		Day:       models.DayOf(day),
		Severity:  h.Severity,
		Title:     h.Title,
		Detail:    h.Detail,
		Value:     h.Value,
		Threshold: h.Threshold,
	}
}
