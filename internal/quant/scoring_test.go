package quant

import (
	"fmt"
	"math"
	"math/rand"
	"testing"
	"time"
)

var asOf = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

func f(v float64) *float64 { return &v }

func dim(t *testing.T, dims []Dimension, name string) Dimension {
	t.Helper()
	for _, d := range dims {
		if d.Name == name {
			return d
		}
	}
	t.Fatalf("dimension %s missing", name)
	return Dimension{}
}

func TestScoreWithoutSignalIsBaseline(t *testing.T) {
	s := NewScorer(nil)
	res := s.Score(ScoreInput{Item: "X", AsOf: asOf, Price: 10})
	if res.SellScore != 45 || res.OpportunityScore != 50 {
		t.Fatalf("sell=%v opp=%v", res.SellScore, res.OpportunityScore)
	}
	for _, d := range append(res.SellDims, res.OpportunityDims...) {
		if d.Applicable || d.Contribution != 0 {
			t.Fatalf("dimension %s should not apply: %+v", d.Name, d)
		}
	}
	if len(res.SellDims) != 6 || len(res.OpportunityDims) != 6 {
		t.Fatalf("dims: sell=%d opp=%d", len(res.SellDims), len(res.OpportunityDims))
	}
}

func TestScoreIsExplainable(t *testing.T) {
	s := NewScorer(nil)
	in := ScoreInput{
		Item: "X", AsOf: asOf, Price: 136,
		Indicators: IndicatorSet{RSI14: f(62), PctB: f(0.7), Momentum30: f(4), VolZScore: f(0.3), AnnualReturn: f(40)},
		Holding:    &Holding{Count: 2, CostCount: 2, AvgCost: 100, MarketValue: 272, FirstAcquired: asOf.AddDate(0, -3, 0)},
		Market:     MarketContext{PortfolioValue: 2720, Turnover: f(100), RentalYield: f(8), SpreadPct: f(3)},
	}
	res := s.Score(in)

	sum := 45.0
	for _, d := range res.SellDims {
		sum += d.Contribution
	}
	assertClose(t, "sell score = baseline + contributions", res.SellScore, sum, 1e-9)

	// pnl 36% against target 30% -> ratio 1.2 -> 24 points of 30
	tr := dim(t, res.SellDims, "target_return")
	assertClose(t, "target_return contribution", tr.Contribution, 24, 1e-9)
	if res.PnLPct == nil || math.Abs(*res.PnLPct-36) > 1e-9 {
		t.Fatalf("pnl = %v", res.PnLPct)
	}
	// concentration 10% -> 5 points of 20
	c := dim(t, res.SellDims, "concentration")
	assertClose(t, "concentration contribution", c.Contribution, 5, 1e-9)
	// rental yield under threshold: no correction
	if dim(t, res.SellDims, "rental_correction").Applicable {
		t.Fatal("rental correction below threshold")
	}
	// 2 units against 100 daily turnover is 2%: no impact
	mi := dim(t, res.SellDims, "market_impact")
	if !mi.Applicable || mi.Contribution != 0 {
		t.Fatalf("market impact = %+v", mi)
	}
}

func TestReturnDecayOnlyWhileProfitable(t *testing.T) {
	s := NewScorer(nil)
	base := ScoreInput{
		Item: "X", AsOf: asOf,
		Indicators: IndicatorSet{AnnualReturn: f(2)},
		Holding:    &Holding{Count: 1, CostCount: 1, AvgCost: 100, MarketValue: 105, FirstAcquired: asOf.AddDate(0, -6, 0)},
	}

	profit := base
	profit.Price = 105
	d := dim(t, s.Score(profit).SellDims, "return_decay")
	if !d.Applicable || d.Contribution <= 0 {
		t.Fatalf("decay should push a slow-growing profit position: %+v", d)
	}

	loss := base
	loss.Price = 80
	loss.Indicators.AnnualReturn = f(-35)
	if d := dim(t, s.Score(loss).SellDims, "return_decay"); d.Applicable {
		t.Fatalf("decay must not apply to a loss position: %+v", d)
	}

	fresh := profit
	fresh.Holding = &Holding{Count: 1, CostCount: 1, AvgCost: 100, MarketValue: 105, FirstAcquired: asOf.AddDate(0, 0, -10)}
	if d := dim(t, s.Score(fresh).SellDims, "return_decay"); d.Applicable {
		t.Fatal("decay needs a minimum holding period")
	}
}

func TestSellScoreMonotonicInConcentration(t *testing.T) {
	s := NewScorer(nil)
	rng := rand.New(rand.NewSource(11))
	for trial := 0; trial < 100; trial++ {
		in := ScoreInput{
			Item: "X", AsOf: asOf, Price: 50 + rng.Float64()*100,
			Indicators: IndicatorSet{RSI14: f(rng.Float64() * 100), PctB: f(rng.Float64()*1.4 - 0.2)},
			Holding: &Holding{
				Count: 1 + rng.Intn(80), CostCount: 1, AvgCost: 50 + rng.Float64()*100,
				FirstAcquired: asOf.AddDate(0, 0, -rng.Intn(400)),
			},
			Market: MarketContext{PortfolioValue: 10000},
		}
		prev := -1.0
		for v := 10.0; v <= 10000; v += 250 {
			in.Holding.MarketValue = v
			score := s.Score(in).SellScore
			if score < prev-1e-12 {
				t.Fatalf("trial %d: sell score fell from %.4f to %.4f at value %.0f", trial, prev, score, v)
			}
			prev = score
		}
	}
}

func TestHoldingCountBonusTiersAreExclusive(t *testing.T) {
	cases := []struct {
		count int
		want  float64
	}{
		{20, 0},
		{30, 1},
		{50, 3},
		{60, 0.5},
		{200, 5},
	}
	for _, tc := range cases {
		in := &ScoreInput{
			Holding: &Holding{Count: tc.count, MarketValue: 100},
			Market:  MarketContext{PortfolioValue: 10000},
		}
		_, applicable, factors := concentrationDim(DefaultStrategyConfig(), in)
		if !applicable {
			t.Fatalf("count %d: not applicable", tc.count)
		}
		var got float64
		for _, fc := range factors {
			if fc.Name == "holding_count" {
				got = fc.Points
			}
		}
		assertClose(t, fmt.Sprintf("holding_count points at %d", tc.count), got, tc.want, 1e-9)
	}
}

func TestRentalCorrectionCapped(t *testing.T) {
	s := NewScorer(nil)
	in := ScoreInput{Item: "X", AsOf: asOf, Price: 100, Market: MarketContext{RentalYield: f(25)}}
	d := dim(t, s.Score(in).SellDims, "rental_correction")
	// 2 + (25-15)*0.5 = 7
	assertClose(t, "rental correction", d.Contribution, -7, 1e-9)

	in.Market.RentalYield = f(400)
	d = dim(t, s.Score(in).SellDims, "rental_correction")
	assertClose(t, "rental correction cap", d.Contribution, -10, 1e-9)
}

func TestLossAveragingNeedsMaterialLoss(t *testing.T) {
	s := NewScorer(nil)
	in := ScoreInput{
		Item: "X", AsOf: asOf, Price: 98,
		Holding: &Holding{Count: 1, CostCount: 1, AvgCost: 100, MarketValue: 98, FirstAcquired: asOf.AddDate(0, -1, 0)},
	}
	if d := dim(t, s.Score(in).OpportunityDims, "loss_averaging"); d.Applicable {
		t.Fatalf("-2%% is merely negative: %+v", d)
	}

	in.Price = 70
	d := dim(t, s.Score(in).OpportunityDims, "loss_averaging")
	// loss 30%: (20-5)*0.67 + (30-20)*0.5 = 15.05 of 20
	if !d.Applicable {
		t.Fatal("deep loss should activate loss averaging")
	}
	assertClose(t, "loss averaging", d.Contribution, 15.05, 1e-9)

	in.Price = 1
	d = dim(t, s.Score(in).OpportunityDims, "loss_averaging")
	assertClose(t, "loss averaging cap", d.Contribution, 20, 1e-9)
}

func TestLossAveragingAndRentalStayIndependentlyCapped(t *testing.T) {
	s := NewScorer(nil)
	in := ScoreInput{
		Item: "X", AsOf: asOf, Price: 1,
		Holding: &Holding{Count: 1, CostCount: 1, AvgCost: 100, MarketValue: 1, FirstAcquired: asOf.AddDate(-1, 0, 0)},
		Market:  MarketContext{RentalYield: f(500)},
	}
	res := s.Score(in)
	la := dim(t, res.OpportunityDims, "loss_averaging")
	ry := dim(t, res.OpportunityDims, "rental_yield")
	if la.Contribution > la.Weight || ry.Contribution > ry.Weight {
		t.Fatalf("caps exceeded: %+v %+v", la, ry)
	}
	assertClose(t, "opportunity", res.OpportunityScore, 50+20+15, 1e-9)
}

func TestOpportunityOversold(t *testing.T) {
	s := NewScorer(nil)
	in := ScoreInput{
		Item: "X", AsOf: asOf, Price: 100,
		Indicators: IndicatorSet{RSI14: f(20), PctB: f(-0.1), Momentum7: f(-15)},
		Market:     MarketContext{SpreadPct: f(10)},
	}
	res := s.Score(in)
	if res.OpportunityScore <= 70 {
		t.Fatalf("oversold item should score high, got %.2f", res.OpportunityScore)
	}
	if res.OpportunityScore > 100 {
		t.Fatalf("score above 100: %v", res.OpportunityScore)
	}
	// RSI 20: (30-20)*0.83 = 8.3 of 25 -> 20 * 0.332
	assertClose(t, "oversold", dim(t, res.OpportunityDims, "oversold").Contribution, 20*8.3/25, 1e-9)
}

func TestVolatilityAnomalyClamped(t *testing.T) {
	s := NewScorer(nil)
	in := ScoreInput{
		Item: "X", AsOf: asOf, Price: 100,
		Indicators: IndicatorSet{VolZScore: f(10), RSI14: f(99), PctB: f(1.5), Momentum30: f(80)},
	}
	d := dim(t, s.Score(in).SellDims, "volatility_anomaly")
	// 15 + 5 + 3 + 2 = 25, the upper clamp
	assertClose(t, "anomaly", d.Contribution, 25, 1e-9)
	if len(d.Factors) != 4 {
		t.Fatalf("factors = %+v", d.Factors)
	}

	in.Indicators = IndicatorSet{VolZScore: f(-10), RSI14: f(0), PctB: f(-1)}
	d = dim(t, s.Score(in).SellDims, "volatility_anomaly")
	// -6 -6 -3 = -15 clamped to -12
	assertClose(t, "anomaly low", d.Contribution, -12, 1e-9)
}

func TestAlerts(t *testing.T) {
	s := NewScorer(nil)
	in := ScoreInput{
		Item: "X", AsOf: asOf, Price: 260,
		Indicators: IndicatorSet{RSI14: f(80), Momentum7: f(25), ATHPct: f(97)},
		Holding:    &Holding{Count: 1, CostCount: 1, AvgCost: 100, MarketValue: 260, FirstAcquired: asOf.AddDate(0, -2, 0)},
		Market:     MarketContext{PortfolioValue: 300, SpreadPct: f(18)},
	}
	res := s.Score(in)
	kinds := map[string]bool{}
	for _, a := range res.Alerts {
		kinds[a.Kind] = true
	}
	for _, k := range []string{AlertSellScoreHigh, AlertProfit50, AlertProfit100, AlertNearATH, AlertRSIOverbought, AlertMomentumSurge, AlertSpreadArb} {
		if !kinds[k] {
			t.Fatalf("missing alert %s in %v (sell=%.1f)", k, kinds, res.SellScore)
		}
	}
	if kinds[AlertRSIOversold] {
		t.Fatal("oversold and overbought at once")
	}

	model := res.Alerts[0].ToModel("X", asOf.Add(13*time.Hour))
	if !model.Day.Equal(asOf) {
		t.Fatalf("alert day = %v", model.Day)
	}
}
