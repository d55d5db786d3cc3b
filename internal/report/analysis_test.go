package report

import (
	"testing"
	"time"

	"csgo-quant/internal/models"
	"csgo-quant/internal/quant"

	"gorm.io/datatypes"
)

func TestPriceChartWindows(t *testing.T) {
	start := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	var bars []models.DailyBar
	for i := 0; i < 30; i++ {
		c := float64(i + 1)
		bars = append(bars, models.DailyBar{ItemName: "AK", Day: start.AddDate(0, 0, i), Open: c, High: c, Low: c, Close: c})
	}
	// a bar without a close is dropped
	bars = append(bars[:10], append([]models.DailyBar{{ItemName: "AK", Day: start.AddDate(0, 0, 40)}}, bars[10:]...)...)

	pts := PriceChart(bars)
	if len(pts) != 30 {
		t.Fatalf("points = %d", len(pts))
	}
	if pts[5].MA7 != nil || pts[6].MA7 == nil || *pts[6].MA7 != 4 {
		t.Fatalf("ma7 around the first window = %v %v", pts[5].MA7, pts[6].MA7)
	}
	if pts[18].BBMiddle != nil || pts[19].BBMiddle == nil || *pts[19].BBMiddle != 10.5 {
		t.Fatalf("bollinger middle = %v %v", pts[18].BBMiddle, pts[19].BBMiddle)
	}
	if *pts[19].BBUpper <= *pts[19].BBMiddle || *pts[19].BBLower >= *pts[19].BBMiddle {
		t.Fatalf("bands = %v %v %v", *pts[19].BBLower, *pts[19].BBMiddle, *pts[19].BBUpper)
	}
	last := pts[29]
	if last.MA30 == nil || *last.MA30 != 15.5 || *last.MA7 != 27 {
		t.Fatalf("last point = %+v", last)
	}
	if pts[28].MA30 != nil {
		t.Fatalf("ma30 before 30 closes = %v", *pts[28].MA30)
	}
}

func signal(item string, sell, opp float64, ind string) models.Signal {
	return models.Signal{ItemName: item, SellScore: sell, OpportunityScore: opp, Indicators: datatypes.JSON(ind)}
}

func TestCategoryTrends(t *testing.T) {
	sigs := []models.Signal{
		signal("AK-47 | Redline (Field-Tested)", 60, 40, `{"rsi14":70,"momentum7":4}`),
		signal("M4A4 | Howl (Minimal Wear)", 80, 20, `{"rsi14":50,"momentum7":8}`),
		signal("Sticker | Crown (Foil)", 30, 70, `{"momentum7":-1}`),
	}
	holdings := map[string]*quant.Holding{
		"AK-47 | Redline (Field-Tested)": {Count: 2, MarketValue: 250},
		"★ Karambit | Fade (Factory New)": {Count: 1, MarketValue: 9000},
	}
	trends := CategoryTrends(sigs, holdings, map[string]string{"M4A4 | Howl (Minimal Wear)": "rifle"})
	if len(trends) != 3 {
		t.Fatalf("trends = %+v", trends)
	}
	rifle := trends[0]
	if rifle.Category != "rifle" || rifle.Signals != 2 || rifle.Held != 2 || rifle.MarketValue != 250 {
		t.Fatalf("rifle = %+v", rifle)
	}
	if *rifle.AvgSellScore != 70 || *rifle.AvgRSI != 60 || *rifle.AvgMomentum7 != 6 || rifle.AvgMomentum30 != nil {
		t.Fatalf("rifle averages = %+v", rifle)
	}
	// knife has no signal and sorts after non-zero momentum
	if trends[1].Category != "sticker" || trends[2].Category != "knife" {
		t.Fatalf("order = %s %s", trends[1].Category, trends[2].Category)
	}
	if trends[2].AvgSellScore != nil || trends[2].MarketValue != 9000 {
		t.Fatalf("knife = %+v", trends[2])
	}
}

func TestRank(t *testing.T) {
	sigs := []models.Signal{
		signal("AK-47 | Redline (Field-Tested)", 60, 40, `{"rsi14":70}`),
		signal("AWP | Asiimov (Field-Tested)", 80, 20, `{}`),
		signal("M4A4 | Howl (Minimal Wear)", 40, 60, `{"rsi14":30}`),
	}
	owned := map[string]bool{"AK-47 | Redline (Field-Tested)": true, "AWP | Asiimov (Field-Tested)": true}

	rows := Rank(sigs, RankFilter{SortBy: "unknown"}, nil)
	if len(rows) != 3 || rows[0].SellScore != 80 || rows[2].SellScore != 40 {
		t.Fatalf("default order = %+v", rows)
	}

	rows = Rank(sigs, RankFilter{SortBy: "rsi14", Ascending: true}, nil)
	if rows[0].RSI14 == nil || *rows[0].RSI14 != 30 || rows[2].RSI14 != nil {
		t.Fatalf("rsi ascending, missing last = %+v", rows)
	}

	rows = Rank(sigs, RankFilter{OwnedOnly: true, Owned: owned, Category: "rifle"}, nil)
	if len(rows) != 1 || !rows[0].Owned || rows[0].Category != "rifle" {
		t.Fatalf("owned rifles = %+v", rows)
	}

	lo, hi := 40.0, 80.0
	rows = Rank(sigs, RankFilter{MinScore: &lo, MaxScore: &hi, Search: "redline"}, nil)
	if len(rows) != 1 || rows[0].Item != "AK-47 | Redline (Field-Tested)" {
		t.Fatalf("score range and search = %+v", rows)
	}
}
