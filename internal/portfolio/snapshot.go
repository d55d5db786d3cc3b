// Package portfolio 将账本资产与规范价格汇总为持仓和时点快照
package portfolio

import (
	"sort"
	"time"

	"csgo-quant/internal/models"
	"csgo-quant/internal/pricing"
	"csgo-quant/internal/quant"

	"github.com/shopspring/decimal"
)

// PriceLookup 由 *pricing.Book 实现
type PriceLookup interface {
	Price(item string) (float64, bool)
}

var _ PriceLookup = (*pricing.Book)(nil)

type bucket struct {
	count int
	value decimal.Decimal
	cost  decimal.Decimal
}

// Take 生成持仓快照。已售资产不计入；无价格的资产不计入市值和已定价成本
func Take(assets []models.Asset, prices PriceLookup, now time.Time, cycleID string) models.PortfolioSnapshot {
	snap := models.PortfolioSnapshot{TakenAt: now, CycleID: cycleID}
	var (
		total      decimal.Decimal
		totalCost  decimal.Decimal
		pricedCost decimal.Decimal
		withCost   int
	)
	buckets := map[models.AssetState]*bucket{
		models.StateInSteam:   {},
		models.StateRentedOut: {},
	}

	for i := range assets {
		a := &assets[i]
		b, ok := buckets[a.State]
		if !ok {
			continue
		}
		snap.AssetCount++
		b.count++
		if a.Cost.Valid {
			withCost++
			totalCost = totalCost.Add(a.Cost.Decimal)
		}

		p, ok := prices.Price(a.ItemName)
		if !ok {
			continue
		}
		snap.PricedCount++
		v := decimal.NewFromFloat(p)
		total = total.Add(v)
		b.value = b.value.Add(v)
		if a.Cost.Valid {
			pricedCost = pricedCost.Add(a.Cost.Decimal)
			b.cost = b.cost.Add(a.Cost.Decimal)
		}
	}

	in, out := buckets[models.StateInSteam], buckets[models.StateRentedOut]
	snap.InSteamCount, snap.InSteamValue, snap.InSteamCost = in.count, in.value.Round(2), in.cost.Round(2)
	snap.RentedOutCount, snap.RentedOutValue, snap.RentedOutCost = out.count, out.value.Round(2), out.cost.Round(2)

	snap.MarketValue = total.Round(2)
	snap.Cost = totalCost.Round(2)
	snap.PricedCost = pricedCost.Round(2)
	snap.PnL = total.Sub(pricedCost).Round(2)
	if pricedCost.IsPositive() {
		snap.PnLPct, _ = total.Sub(pricedCost).Div(pricedCost).Mul(decimal.NewFromInt(100)).Round(4).Float64()
	}
	if snap.AssetCount > 0 {
		snap.Completeness = float64(snap.PricedCount) / float64(snap.AssetCount)
		snap.CostCompleteness = float64(withCost) / float64(snap.AssetCount)
	} else {
		snap.Completeness, snap.CostCompleteness = 1, 1
	}
	return snap
}

// Holdings 按商品汇总未售资产，供评分模型使用。第二个返回值为组合总市值
func Holdings(assets []models.Asset, prices PriceLookup) (map[string]*quant.Holding, float64) {
	type acc struct {
		h       quant.Holding
		costSum decimal.Decimal
		targets []float64
	}
	per := make(map[string]*acc)
	var portfolio float64

	for i := range assets {
		a := &assets[i]
		if a.State == models.StateSold {
			continue
		}
		x, ok := per[a.ItemName]
		if !ok {
			x = &acc{}
			per[a.ItemName] = x
		}
		x.h.Count++
		if x.h.FirstAcquired.IsZero() || (!a.AcquiredAt.IsZero() && a.AcquiredAt.Before(x.h.FirstAcquired)) {
			x.h.FirstAcquired = a.AcquiredAt
		}
		if a.Cost.Valid {
			x.h.CostCount++
			x.costSum = x.costSum.Add(a.Cost.Decimal)
		}
		if a.TargetPnLPct != nil {
			x.targets = append(x.targets, *a.TargetPnLPct)
		}
		if p, ok := prices.Price(a.ItemName); ok {
			x.h.MarketValue += p
			portfolio += p
		}
	}

	out := make(map[string]*quant.Holding, len(per))
	for item, x := range per {
		h := x.h
		if h.CostCount > 0 {
			h.AvgCost, _ = x.costSum.Div(decimal.NewFromInt(int64(h.CostCount))).Float64()
		}
		// 同一商品多件设置了不同目标时取最低值
		if len(x.targets) > 0 {
			sort.Float64s(x.targets)
			h.TargetPnLPct = x.targets[0]
		}
		out[item] = &h
	}
	return out, portfolio
}
