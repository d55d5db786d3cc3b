package portfolio

import (
	"fmt"
	"testing"
	"time"

	"csgo-quant/internal/models"
	"csgo-quant/internal/pricing"

	"github.com/shopspring/decimal"
)

func asset(id, item string, state models.AssetState, cost float64, at time.Time) models.Asset {
	a := models.Asset{InstanceID: id, ItemName: item, State: state, AcquiredAt: at}
	if cost > 0 {
		a.Cost = decimal.NewNullDecimal(decimal.NewFromFloat(cost))
	}
	return a
}

func TestSnapshotCompleteness(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	book := pricing.NewBook(1, now, []pricing.Canonical{
		{Item: "AK", Price: 120},
		{Item: "AWP", Price: 50},
	})

	var assets []models.Asset
	for i := 0; i < 6; i++ {
		assets = append(assets, asset(fmt.Sprintf("ak-%d", i), "AK", models.StateInSteam, 100, now))
	}
	for i := 0; i < 2; i++ {
		assets = append(assets, asset(fmt.Sprintf("awp-%d", i), "AWP", models.StateRentedOut, 40, now))
	}
	// unpriced
	assets = append(assets,
		asset("x-1", "Sticker", models.StateInSteam, 10, now),
		asset("x-2", "Sticker", models.StateInSteam, 10, now),
	)
	// sold assets never count
	assets = append(assets, asset("sold-1", "AK", models.StateSold, 100, now))

	snap := Take(assets, book, now, "cycle-1")

	if snap.AssetCount != 10 || snap.PricedCount != 8 {
		t.Fatalf("counts = %d/%d", snap.PricedCount, snap.AssetCount)
	}
	if snap.Completeness != 0.8 {
		t.Fatalf("completeness = %v", snap.Completeness)
	}
	if !snap.MarketValue.Equal(decimal.NewFromInt(820)) {
		t.Fatalf("market value = %s", snap.MarketValue)
	}
	if !snap.PricedCost.Equal(decimal.NewFromInt(680)) {
		t.Fatalf("priced cost = %s", snap.PricedCost)
	}
	if !snap.Cost.Equal(decimal.NewFromInt(700)) {
		t.Fatalf("cost = %s", snap.Cost)
	}
	if !snap.PnL.Equal(decimal.NewFromInt(140)) {
		t.Fatalf("pnl = %s", snap.PnL)
	}
	if snap.InSteamCount != 8 || snap.RentedOutCount != 2 {
		t.Fatalf("partition = %d/%d", snap.InSteamCount, snap.RentedOutCount)
	}
	if !snap.RentedOutValue.Equal(decimal.NewFromInt(100)) || !snap.InSteamValue.Equal(decimal.NewFromInt(720)) {
		t.Fatalf("values = %s/%s", snap.InSteamValue, snap.RentedOutValue)
	}
}

func TestSnapshotCostCompleteness(t *testing.T) {
	now := time.Now()
	book := pricing.NewBook(1, now, []pricing.Canonical{{Item: "AK", Price: 10}})
	assets := []models.Asset{
		asset("1", "AK", models.StateInSteam, 8, now),
		asset("2", "AK", models.StateInSteam, 0, now),
	}
	snap := Take(assets, book, now, "")
	if snap.CostCompleteness != 0.5 {
		t.Fatalf("cost completeness = %v", snap.CostCompleteness)
	}
	// PnL only over assets that have both price and cost: 20 - 8
	if !snap.PnL.Equal(decimal.NewFromInt(12)) {
		t.Fatalf("pnl = %s", snap.PnL)
	}
}

func TestEmptySnapshot(t *testing.T) {
	snap := Take(nil, (*pricing.Book)(nil), time.Now(), "")
	if snap.Completeness != 1 || !snap.MarketValue.IsZero() {
		t.Fatalf("empty snapshot = %+v", snap)
	}
}

func TestHoldings(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	book := pricing.NewBook(1, now, []pricing.Canonical{{Item: "AK", Price: 120}, {Item: "M4", Price: 30}})
	target := 50.0
	a3 := asset("3", "AK", models.StateRentedOut, 0, now.AddDate(0, -2, 0))
	a3.TargetPnLPct = &target
	assets := []models.Asset{
		asset("1", "AK", models.StateInSteam, 100, now.AddDate(0, -1, 0)),
		asset("2", "AK", models.StateInSteam, 80, now),
		a3,
		asset("4", "AK", models.StateSold, 10, now.AddDate(-1, 0, 0)),
		asset("5", "M4", models.StateInSteam, 25, now),
	}

	hs, total := Holdings(assets, book)
	ak := hs["AK"]
	if ak == nil || ak.Count != 3 || ak.CostCount != 2 {
		t.Fatalf("ak = %+v", ak)
	}
	if ak.AvgCost != 90 || ak.MarketValue != 360 || ak.TargetPnLPct != 50 {
		t.Fatalf("ak = %+v", ak)
	}
	if !ak.FirstAcquired.Equal(now.AddDate(0, -2, 0)) {
		t.Fatalf("first acquired = %v", ak.FirstAcquired)
	}
	if total != 390 {
		t.Fatalf("portfolio value = %v", total)
	}
}
