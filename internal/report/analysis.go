package report

import (
	"encoding/json"
	"math"
	"sort"
	"strings"
	"time"

	"csgo-quant/internal/models"
	"csgo-quant/internal/quant"
)

// ChartPoint K线图的一天：OHLC 加均线与布林带，数据不足的指标为空
type ChartPoint struct {
	Day      time.Time `json:"day"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	MA7      *float64  `json:"ma7"`
	MA30     *float64  `json:"ma30"`
	BBUpper  *float64  `json:"bb_upper"`
	BBMiddle *float64  `json:"bb_middle"`
	BBLower  *float64  `json:"bb_lower"`
}

// PriceChart 按日K线逐点计算 MA7、MA30 和 20日布林带，只用当天及以前的收盘价。
// 收盘价无效的K线跳过。
func PriceChart(bars []models.DailyBar) []ChartPoint {
	out := make([]ChartPoint, 0, len(bars))
	closes := make([]float64, 0, len(bars))
	for _, b := range bars {
		if b.Close <= 0 {
			continue
		}
		closes = append(closes, b.Close)
		p := ChartPoint{Day: b.Day, Open: b.Open, High: b.High, Low: b.Low, Close: b.Close}
		if v, err := quant.CalculateMA(closes, 7); err == nil {
			p.MA7 = ptr(round(v))
		}
		if v, err := quant.CalculateMA(closes, 30); err == nil {
			p.MA30 = ptr(round(v))
		}
		if bb, err := quant.CalculateBollingerBands(closes, 20, 2); err == nil {
			p.BBUpper, p.BBMiddle, p.BBLower = ptr(round(bb.Upper)), ptr(round(bb.Middle)), ptr(round(bb.Lower))
		}
		out = append(out, p)
	}
	return out
}

// CategoryTrend 单个类别的汇总
type CategoryTrend struct {
	Category       string   `json:"category"`
	Signals        int      `json:"signals"`
	Held           int      `json:"held"`
	MarketValue    float64  `json:"market_value"`
	AvgSellScore   *float64 `json:"avg_sell_score"`
	AvgOpportunity *float64 `json:"avg_opportunity_score"`
	AvgRSI         *float64 `json:"avg_rsi"`
	AvgMomentum7   *float64 `json:"avg_momentum7"`
	AvgMomentum30  *float64 `json:"avg_momentum30"`
}

type mean struct {
	sum float64
	n   int
}

func (m *mean) add(v *float64) {
	if v != nil {
		m.sum += *v
		m.n++
	}
}

func (m mean) value() *float64 {
	if m.n == 0 {
		return nil
	}
	return ptr(round(m.sum / float64(m.n)))
}

// CategoryTrends 按类别汇总信号与持仓。categories 为商品到类别的映射，
// 缺失的商品按名称分类。结果按7日动量绝对值降序。
func CategoryTrends(sigs []models.Signal, holdings map[string]*quant.Holding, categories map[string]string) []CategoryTrend {
	type acc struct {
		t CategoryTrend

		sell, opp, rsi, mom7, mom30 mean
	}
	byCat := map[string]*acc{}
	get := func(item string) *acc {
		cat := categories[item]
		if cat == "" {
			cat = models.Classify(item)
		}
		a, ok := byCat[cat]
		if !ok {
			a = &acc{t: CategoryTrend{Category: cat}}
			byCat[cat] = a
		}
		return a
	}

	for _, s := range sigs {
		a := get(s.ItemName)
		ind := indicators(s)
		a.t.Signals++
		sell, opp := s.SellScore, s.OpportunityScore
		a.sell.add(&sell)
		a.opp.add(&opp)
		a.rsi.add(ind.RSI14)
		a.mom7.add(ind.Momentum7)
		a.mom30.add(ind.Momentum30)
	}
	for item, h := range holdings {
		a := get(item)
		a.t.Held += h.Count
		a.t.MarketValue += h.MarketValue
	}

	out := make([]CategoryTrend, 0, len(byCat))
	for _, a := range byCat {
		t := a.t
		t.MarketValue = round(t.MarketValue)
		t.AvgSellScore, t.AvgOpportunity = a.sell.value(), a.opp.value()
		t.AvgRSI, t.AvgMomentum7, t.AvgMomentum30 = a.rsi.value(), a.mom7.value(), a.mom30.value()
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		mi, mj := absOrZero(out[i].AvgMomentum7), absOrZero(out[j].AvgMomentum7)
		if mi != mj {
			return mi > mj
		}
		return out[i].Category < out[j].Category
	})
	return out
}

// RankingRow 排名表的一行
type RankingRow struct {
	Item             string    `json:"item"`
	Category         string    `json:"category"`
	AsOf             time.Time `json:"as_of"`
	Price            float64   `json:"price"`
	SellScore        float64   `json:"sell_score"`
	OpportunityScore float64   `json:"opportunity_score"`
	RSI14            *float64  `json:"rsi14"`
	PctB             *float64  `json:"pct_b"`
	Momentum7        *float64  `json:"momentum7"`
	Momentum30       *float64  `json:"momentum30"`
	Volatility       *float64  `json:"volatility"`
	ATHPct           *float64  `json:"ath_pct"`
	Owned            bool      `json:"owned"`
}

// 可排序的字段
var rankKeys = map[string]func(r *RankingRow) *float64{
	"sell_score":        func(r *RankingRow) *float64 { return &r.SellScore },
	"opportunity_score": func(r *RankingRow) *float64 { return &r.OpportunityScore },
	"rsi14":             func(r *RankingRow) *float64 { return r.RSI14 },
	"momentum7":         func(r *RankingRow) *float64 { return r.Momentum7 },
	"momentum30":        func(r *RankingRow) *float64 { return r.Momentum30 },
	"volatility":        func(r *RankingRow) *float64 { return r.Volatility },
	"ath_pct":           func(r *RankingRow) *float64 { return r.ATHPct },
}

// RankFilter 排名筛选条件。Owned 为当前持有的商品，OwnedOnly 时只保留这些商品
type RankFilter struct {
	SortBy    string
	Ascending bool
	Category  string
	Owned     map[string]bool
	OwnedOnly bool
	MinScore  *float64
	MaxScore  *float64
	Search    string
}

// Rank 按筛选条件过滤并排序信号。未知的排序字段按卖出评分；
// 指标缺失的商品始终排在最后。MaxScore 为开区间。
func Rank(sigs []models.Signal, f RankFilter, categories map[string]string) []RankingRow {
	key, ok := rankKeys[f.SortBy]
	if !ok {
		key = rankKeys["sell_score"]
	}
	search := strings.ToLower(f.Search)

	out := make([]RankingRow, 0, len(sigs))
	for _, s := range sigs {
		cat := categories[s.ItemName]
		if cat == "" {
			cat = models.Classify(s.ItemName)
		}
		owned := f.Owned[s.ItemName]
		switch {
		case f.OwnedOnly && !owned,
			f.Category != "" && cat != f.Category,
			f.MinScore != nil && s.SellScore < *f.MinScore,
			f.MaxScore != nil && s.SellScore >= *f.MaxScore,
			search != "" && !strings.Contains(strings.ToLower(s.ItemName), search):
			continue
		}
		ind := indicators(s)
		out = append(out, RankingRow{
			Item: s.ItemName, Category: cat, AsOf: s.AsOf, Price: s.Price,
			SellScore: s.SellScore, OpportunityScore: s.OpportunityScore,
			RSI14: ind.RSI14, PctB: ind.PctB, Momentum7: ind.Momentum7, Momentum30: ind.Momentum30,
			Volatility: ind.Volatility, ATHPct: ind.ATHPct, Owned: owned,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := key(&out[i]), key(&out[j])
		switch {
		case a == nil || b == nil:
			return a != nil && b == nil
		case *a == *b:
			return out[i].Item < out[j].Item
		case f.Ascending:
			return *a < *b
		}
		return *a > *b
	})
	return out
}

func indicators(s models.Signal) quant.IndicatorSet {
	var ind quant.IndicatorSet
	if len(s.Indicators) > 0 {
		_ = json.Unmarshal(s.Indicators, &ind)
	}
	return ind
}

func ptr(v float64) *float64 { return &v }

func absOrZero(v *float64) float64 {
	if v == nil {
		return 0
	}
	return math.Abs(*v)
}
