package quant

import (
	"fmt"
	"math"
)

// DimensionFunc 单个评分维度，返回 [-1,1] 的取值以及是否适用
type DimensionFunc func(cfg *StrategyConfig, in *ScoreInput) (value float64, applicable bool, factors []Factor)

type namedDimension struct {
	name   string
	weight func(cfg *StrategyConfig) float64
	fn     DimensionFunc
}

var sellDimensions = []namedDimension{
	{"target_return", func(c *StrategyConfig) float64 { return c.SellWeights.TargetReturn }, targetReturnDim},
	{"return_decay", func(c *StrategyConfig) float64 { return c.SellWeights.ReturnDecay }, returnDecayDim},
	{"concentration", func(c *StrategyConfig) float64 { return c.SellWeights.Concentration }, concentrationDim},
	{"volatility_anomaly", func(c *StrategyConfig) float64 { return c.SellWeights.Volatility }, volatilityAnomalyDim},
	{"market_impact", func(c *StrategyConfig) float64 { return c.SellWeights.MarketImpact }, marketImpactDim},
	{"rental_correction", func(c *StrategyConfig) float64 { return c.RentalCorrectionMax }, rentalCorrectionDim},
}

var opportunityDimensions = []namedDimension{
	{"oversold", func(c *StrategyConfig) float64 { return c.OpportunityWeights.Oversold }, oversoldDim},
	{"lower_band", func(c *StrategyConfig) float64 { return c.OpportunityWeights.LowerBand }, lowerBandDim},
	{"pullback", func(c *StrategyConfig) float64 { return c.OpportunityWeights.Pullback }, pullbackDim},
	{"spread", func(c *StrategyConfig) float64 { return c.OpportunityWeights.Spread }, spreadDim},
	{"loss_averaging", func(c *StrategyConfig) float64 { return c.OpportunityWeights.LossAveraging }, lossAveragingDim},
	{"rental_yield", func(c *StrategyConfig) float64 { return c.OpportunityWeights.RentalYield }, rentalYieldDim},
}

// Scorer 多维度加权评分
type Scorer struct {
	cfg *StrategyConfig
}

func NewScorer(cfg *StrategyConfig) *Scorer {
	if cfg == nil {
		cfg = DefaultStrategyConfig()
	}
	return &Scorer{cfg: cfg}
}

func (s *Scorer) Config() *StrategyConfig {
	return s.cfg
}

// Score 计算卖出/买入评分、子维度和告警
func (s *Scorer) Score(in ScoreInput) Result {
	res := Result{
		Item:       in.Item,
		AsOf:       in.AsOf,
		Price:      in.Price,
		PriceStale: in.PriceStale,
		Indicators: in.Indicators,
	}
	if pnl, ok := pnlPct(&in); ok {
		res.PnLPct = &pnl
	}
	res.SellScore, res.SellDims = combine(s.cfg, &in, s.cfg.SellBaseline, sellDimensions)
	res.OpportunityScore, res.OpportunityDims = combine(s.cfg, &in, s.cfg.OpportunityBaseline, opportunityDimensions)
	res.Alerts = EvaluateAlerts(s.cfg, &in, &res)
	return res
}

// combine 基准分 + 适用维度的 权重×取值，结果截断到 [0,100]。
// 不适用的维度不参与求和。
func combine(cfg *StrategyConfig, in *ScoreInput, baseline float64, dims []namedDimension) (float64, []Dimension) {
	score := baseline
	out := make([]Dimension, 0, len(dims))
	for _, d := range dims {
		w := d.weight(cfg)
		v, ok, factors := d.fn(cfg, in)
		dim := Dimension{Name: d.name, Weight: w, Applicable: ok, Factors: factors}
		if ok {
			dim.Value = clamp(v, -1, 1)
			dim.Contribution = w * dim.Value
			dim.Detail = fmt.Sprintf("%.2f × %.0f = %+.2f", dim.Value, w, dim.Contribution)
			score += dim.Contribution
		}
		out = append(out, dim)
	}
	return clamp(score, 0, 100), out
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func pnlPct(in *ScoreInput) (float64, bool) {
	h := in.Holding
	if h == nil || h.CostCount == 0 || h.AvgCost <= 0 || in.Price <= 0 {
		return 0, false
	}
	return (in.Price - h.AvgCost) / h.AvgCost * 100, true
}

func targetPct(cfg *StrategyConfig, in *ScoreInput) float64 {
	if in.Holding != nil && in.Holding.TargetPnLPct > 0 {
		return in.Holding.TargetPnLPct
	}
	if cfg.DefaultTargetPnLPct > 0 {
		return cfg.DefaultTargetPnLPct
	}
	return 30
}

func daysHeld(in *ScoreInput) float64 {
	if in.Holding == nil || in.Holding.FirstAcquired.IsZero() {
		return 0
	}
	return in.AsOf.Sub(in.Holding.FirstAcquired).Hours() / 24
}

// ---- 卖出维度 ----

// targetReturnDim 收益达成度：超过目标越多卖出压力越大，亏损时为负
func targetReturnDim(cfg *StrategyConfig, in *ScoreInput) (float64, bool, []Factor) {
	pnl, ok := pnlPct(in)
	if !ok {
		return 0, false, nil
	}
	target := targetPct(cfg, in)
	ratio := pnl / target
	var pts float64
	switch {
	case ratio >= 1.5:
		pts = 30
	case ratio >= 1:
		pts = 20 + (ratio-1)*20
	case ratio >= 0:
		pts = ratio * 12
	default:
		pts = math.Max(-22, pnl*0.5)
	}
	return pts / 30, true, []Factor{{Name: "pnl_pct", Input: pnl, Points: pts}, {Name: "target_pct", Input: target}}
}

// returnDecayDim 年化收益衰减：只在盈利且持有超过阈值天数时适用
func returnDecayDim(cfg *StrategyConfig, in *ScoreInput) (float64, bool, []Factor) {
	pnl, ok := pnlPct(in)
	ann := in.Indicators.AnnualReturn
	if !ok || pnl < 0 || ann == nil || daysHeld(in) <= float64(cfg.DecayMinHoldDays) {
		return 0, false, nil
	}
	bench := cfg.DecayBenchmarkPct
	var pts float64
	switch {
	case *ann < bench:
		pts = (bench - math.Max(*ann, 0)) / bench * 15
	case *ann > 3*bench:
		pts = -5
	}
	return pts / 20, true, []Factor{{Name: "annual_return", Input: *ann, Points: pts}}
}

// concentrationDim 持仓集中度：件数固定时随市值占比单调不减
func concentrationDim(cfg *StrategyConfig, in *ScoreInput) (float64, bool, []Factor) {
	h := in.Holding
	if h == nil || h.Count == 0 || in.Market.PortfolioValue <= 0 || h.MarketValue <= 0 {
		return 0, false, nil
	}
	conc := h.MarketValue / in.Market.PortfolioValue * 100
	var pts float64
	switch {
	case conc > 15:
		pts = 10 + (conc-15)*0.5
	case conc > 5:
		pts = conc - 5
	}
	// 件数加分二选一：超过50件只按第二档计
	countPts := 0.0
	switch {
	case h.Count > 50:
		countPts = math.Min(5, float64(h.Count-50)*0.05)
	case h.Count > 20:
		countPts = math.Min(3, float64(h.Count-20)*0.1)
	}
	total := math.Min(20, pts+countPts)
	return total / 20, true, []Factor{
		{Name: "concentration_pct", Input: conc, Points: pts},
		{Name: "holding_count", Input: float64(h.Count), Points: countPts},
	}
}

// volatilityAnomalyDim 波动异常：z分数、RSI、%B、30日动量四个子因子，合计截断到 [-12,25]
func volatilityAnomalyDim(cfg *StrategyConfig, in *ScoreInput) (float64, bool, []Factor) {
	ind := in.Indicators
	var factors []Factor
	total := 0.0
	add := func(name string, input, pts float64) {
		factors = append(factors, Factor{Name: name, Input: input, Points: pts})
		total += pts
	}

	if z := ind.VolZScore; z != nil {
		var pts float64
		switch {
		case *z > 2:
			pts = math.Min(*z*4, 15)
		case *z > 1:
			pts = (*z - 1) * 8
		case *z < -1.5:
			pts = -math.Min(-*z*2, 6)
		}
		add("vol_zscore", *z, pts)
	}
	if r := ind.RSI14; r != nil {
		var pts float64
		switch {
		case *r > cfg.RSIOverbought:
			pts = math.Min((*r-cfg.RSIOverbought)*0.4, 5)
		case *r < cfg.RSIOversold:
			pts = -math.Min((cfg.RSIOversold-*r)*0.24, 6)
		}
		add("rsi14", *r, pts)
	}
	if b := ind.PctB; b != nil {
		var pts float64
		switch {
		case *b > 0.9:
			pts = math.Min((*b-0.9)*30, 3)
		case *b < 0.1:
			pts = -math.Min((0.1-*b)*15, 3)
		}
		add("pct_b", *b, pts)
	}
	if m := ind.Momentum30; m != nil {
		var pts float64
		if *m > 15 {
			pts = math.Min((*m-15)*0.15, 2)
		}
		add("momentum30", *m, pts)
	}
	if len(factors) == 0 {
		return 0, false, nil
	}
	return clamp(total, -12, 25) / 25, true, factors
}

// marketImpactDim 退出成本：持有件数相对日成交量的比例
func marketImpactDim(cfg *StrategyConfig, in *ScoreInput) (float64, bool, []Factor) {
	h := in.Holding
	t := in.Market.Turnover
	if h == nil || h.Count == 0 || t == nil || *t <= 0 {
		return 0, false, nil
	}
	share := float64(h.Count) / *t * 100
	var pts float64
	switch {
	case share > 30:
		pts = 5
	case share > 10:
		pts = (share - 10) * 0.25
	}
	return pts / 5, true, []Factor{{Name: "share_of_turnover_pct", Input: share, Points: pts}}
}

// rentalCorrectionDim 高租赁收益的持仓值得保留，对卖出分做负向修正，单独封顶
func rentalCorrectionDim(cfg *StrategyConfig, in *ScoreInput) (float64, bool, []Factor) {
	y := in.Market.RentalYield
	if y == nil || *y <= cfg.RentalYieldThreshold || cfg.RentalCorrectionMax <= 0 {
		return 0, false, nil
	}
	amount := math.Min(cfg.RentalCorrectionMax, 2+(*y-cfg.RentalYieldThreshold)*0.5)
	return -amount / cfg.RentalCorrectionMax, true, []Factor{{Name: "rental_yield", Input: *y, Points: -amount}}
}

// ---- 买入维度 ----

func oversoldDim(cfg *StrategyConfig, in *ScoreInput) (float64, bool, []Factor) {
	r := in.Indicators.RSI14
	if r == nil {
		return 0, false, nil
	}
	var pts float64
	if *r < 30 {
		pts = math.Min((30-*r)*0.83, 25)
	}
	return pts / 25, true, []Factor{{Name: "rsi14", Input: *r, Points: pts}}
}

// lowerBandDim %B 低于0.2开始加分，跌破下轨0.5以下满分
func lowerBandDim(cfg *StrategyConfig, in *ScoreInput) (float64, bool, []Factor) {
	b := in.Indicators.PctB
	if b == nil {
		return 0, false, nil
	}
	v := clamp((0.2-*b)/0.7, 0, 1)
	return v, true, []Factor{{Name: "pct_b", Input: *b, Points: v}}
}

func pullbackDim(cfg *StrategyConfig, in *ScoreInput) (float64, bool, []Factor) {
	m := in.Indicators.Momentum7
	if m == nil {
		return 0, false, nil
	}
	var pts float64
	if *m < -5 {
		pts = math.Min((-*m-5)*0.75, 15)
	}
	return pts / 15, true, []Factor{{Name: "momentum7", Input: *m, Points: pts}}
}

func spreadDim(cfg *StrategyConfig, in *ScoreInput) (float64, bool, []Factor) {
	s := in.Market.SpreadPct
	if s == nil {
		return 0, false, nil
	}
	var pts float64
	if *s > 5 {
		pts = math.Min((*s-5)*1.2, 20)
	}
	return pts / 20, true, []Factor{{Name: "spread_pct", Input: *s, Points: pts}}
}

// lossAveragingDim 补仓：仅在亏损明显（低于 -LossAveragingMinDrawdown 且低于目标）时适用
func lossAveragingDim(cfg *StrategyConfig, in *ScoreInput) (float64, bool, []Factor) {
	pnl, ok := pnlPct(in)
	if !ok || pnl > -cfg.LossAveragingMinDrawdown || pnl >= targetPct(cfg, in) {
		return 0, false, nil
	}
	loss := -pnl
	var pts float64
	if loss <= 20 {
		pts = (loss - cfg.LossAveragingMinDrawdown) * 0.67
	} else {
		pts = (20-cfg.LossAveragingMinDrawdown)*0.67 + (loss-20)*0.5
	}
	pts = clamp(pts, 0, 20)
	return pts / 20, true, []Factor{{Name: "pnl_pct", Input: pnl, Points: pts}}
}

func rentalYieldDim(cfg *StrategyConfig, in *ScoreInput) (float64, bool, []Factor) {
	y := in.Market.RentalYield
	if y == nil || cfg.RentalYieldThreshold <= 0 {
		return 0, false, nil
	}
	v := clamp(*y/(2*cfg.RentalYieldThreshold), 0, 1)
	return v, true, []Factor{{Name: "rental_yield", Input: *y, Points: v}}
}
