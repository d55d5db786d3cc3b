package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"csgo-quant/internal/database"
	"csgo-quant/internal/ledger"
	"csgo-quant/internal/logger"
	"csgo-quant/internal/metrics"
	"csgo-quant/internal/models"
	"csgo-quant/internal/pipeline"
	"csgo-quant/internal/pricing"
	"csgo-quant/internal/quant"
	"csgo-quant/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

var today = time.Date(2026, 5, 20, 0, 0, 0, 0, time.UTC)

type fakeEngine struct {
	book      *pricing.Book
	arb       []pricing.ArbitrageEntry
	resynced  []string
	resyncErr error
}

func (f *fakeEngine) Book() *pricing.Book                  { return f.book }
func (f *fakeEngine) Arbitrage() []pricing.ArbitrageEntry { return f.arb }

func (f *fakeEngine) Resync(ctx context.Context, item string) (*models.Signal, error) {
	f.resynced = append(f.resynced, item)
	if f.resyncErr != nil {
		return nil, f.resyncErr
	}
	return &models.Signal{ItemName: item, AsOf: today, Price: 125}, nil
}

type fakeJobs struct{ accept bool }

func (f *fakeJobs) Trigger(name string) bool { return f.accept }
func (f *fakeJobs) Status() []pipeline.JobStatus {
	return []pipeline.JobStatus{{Name: "collect", Runs: 3}}
}

type env struct {
	router *gin.Engine
	store  *store.Store
	ledger *ledger.Ledger
	engine *fakeEngine
	jobs   *fakeJobs
}

func newEnv(t *testing.T) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db, err := database.Initialize(":memory:", logger.Discard())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	st := store.New(db, 50, logger.Discard())
	l := ledger.New(st, ledger.DefaultMatchConfig(), logger.Discard())
	eng := &fakeEngine{
		book: pricing.NewBook(3, today, []pricing.Canonical{{Item: "AK", Price: 125, Platform: "YOUPIN", Version: 3}}),
		arb: []pricing.ArbitrageEntry{
			{Item: "AK", PlatformA: "YOUPIN", PriceA: 125, PlatformB: "BUFF", PriceB: 130, SpreadAbs: 5, SpreadPct: 4, Platforms: 2},
			{Item: "M4", PlatformA: "C5", PriceA: 50, PlatformB: "STEAM", PriceB: 70, SpreadAbs: 20, SpreadPct: 40, Platforms: 2},
		},
	}
	jobs := &fakeJobs{accept: true}
	h := NewHandler(Options{Store: st, Ledger: l, Engine: eng, Jobs: jobs, Metrics: metrics.New(), Logger: logger.Discard()})
	h.now = func() time.Time { return today.Add(12 * time.Hour) }
	return &env{router: NewRouter(h), store: st, ledger: l, engine: eng, jobs: jobs}
}

func (e *env) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

type envelope struct {
	Code int             `json:"code"`
	Data json.RawMessage `json:"data"`
}

type listData struct {
	Count int               `json:"count"`
	Items []json.RawMessage `json:"items"`
}

func decodeList(t *testing.T, w *httptest.ResponseRecorder) listData {
	t.Helper()
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", w.Code, w.Body.String())
	}
	var resp envelope
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	var out listData
	if err := json.Unmarshal(resp.Data, &out); err != nil {
		t.Fatal(err)
	}
	return out
}

func commitSignal(t *testing.T, st *store.Store, item string, score float64) {
	t.Helper()
	ctx := context.Background()
	runID := "run-" + item
	if err := st.SaveSignals(ctx, []models.Signal{{ItemName: item, AsOf: today, SellScore: score, OpportunityScore: 100 - score, RunID: runID}}); err != nil {
		t.Fatal(err)
	}
	r, err := st.BeginStage(ctx, runID, "daily", today, store.StageCommit)
	if err != nil {
		t.Fatal(err)
	}
	if err := st.FinishStage(ctx, r, nil); err != nil {
		t.Fatal(err)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	e := newEnv(t)
	w := e.do(t, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"book_version":3`) {
		t.Fatalf("health = %d %s", w.Code, w.Body.String())
	}
	w = e.do(t, http.MethodGet, "/metrics", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "csgoquant_") {
		t.Fatalf("metrics = %d", w.Code)
	}
}

func TestSignals(t *testing.T) {
	e := newEnv(t)
	if got := decodeList(t, e.do(t, http.MethodGet, "/api/v1/signals", nil)); got.Count != 0 {
		t.Fatalf("signals before commit = %d", got.Count)
	}
	commitSignal(t, e.store, "AK", 80)
	commitSignal(t, e.store, "AWP", 30)

	var first struct {
		ItemName string `json:"item_name"`
	}
	got := decodeList(t, e.do(t, http.MethodGet, "/api/v1/signals", nil))
	json.Unmarshal(got.Items[0], &first)
	if got.Count != 2 || first.ItemName != "AK" {
		t.Fatalf("by sell score: %+v", got)
	}
	got = decodeList(t, e.do(t, http.MethodGet, "/api/v1/signals?sort=opportunity", nil))
	json.Unmarshal(got.Items[0], &first)
	if first.ItemName != "AWP" {
		t.Fatalf("by opportunity first = %s", first.ItemName)
	}

	path := "/api/v1/signals/" + url.PathEscape("AK")
	if w := e.do(t, http.MethodGet, path, nil); w.Code != http.StatusOK {
		t.Fatalf("get signal = %d", w.Code)
	}
	if w := e.do(t, http.MethodGet, "/api/v1/signals/nope", nil); w.Code != http.StatusNotFound {
		t.Fatalf("missing signal = %d", w.Code)
	}
	hist := decodeList(t, e.do(t, http.MethodGet, path+"/history?from=2026-05-01", nil))
	if hist.Count != 1 {
		t.Fatalf("history = %+v", hist)
	}
	if w := e.do(t, http.MethodGet, path+"/history?from=yesterday", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("bad date = %d", w.Code)
	}
}

func TestArbitrageFilter(t *testing.T) {
	e := newEnv(t)
	if got := decodeList(t, e.do(t, http.MethodGet, "/api/v1/arbitrage", nil)); got.Count != 2 {
		t.Fatalf("all = %d", got.Count)
	}
	if got := decodeList(t, e.do(t, http.MethodGet, "/api/v1/arbitrage?platform=buff", nil)); got.Count != 1 {
		t.Fatalf("buff = %d", got.Count)
	}
}

func TestOverrides(t *testing.T) {
	e := newEnv(t)
	if w := e.do(t, http.MethodPut, "/api/v1/prices/override", gin.H{"item": "AK", "price": "-1"}); w.Code != http.StatusBadRequest {
		t.Fatalf("negative price = %d", w.Code)
	}
	if w := e.do(t, http.MethodPut, "/api/v1/prices/override", gin.H{"item": "AK", "price": "140.5", "note": "buff 成交"}); w.Code != http.StatusOK {
		t.Fatalf("set = %d %s", w.Code, w.Body.String())
	}
	manual, err := e.store.ManualPrices(context.Background())
	if err != nil || manual["AK"] != 140.5 {
		t.Fatalf("manual = %v, %v", manual, err)
	}
	if w := e.do(t, http.MethodDelete, "/api/v1/prices/override?item=AK", nil); w.Code != http.StatusOK {
		t.Fatalf("clear = %d", w.Code)
	}
	if w := e.do(t, http.MethodDelete, "/api/v1/prices/override?item=AK", nil); w.Code != http.StatusNotFound {
		t.Fatalf("clear twice = %d", w.Code)
	}
}

func TestAssetsAndLedgerOverrides(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a := &models.Asset{InstanceID: "A1", ItemName: "AK", AcquiredAt: today.AddDate(0, 0, -10), Cost: decimal.NewNullDecimal(decimal.NewFromInt(100))}
	if err := e.ledger.RegisterAsset(ctx, a); err != nil {
		t.Fatal(err)
	}

	if got := decodeList(t, e.do(t, http.MethodGet, "/api/v1/assets?state=in_steam", nil)); got.Count != 1 {
		t.Fatalf("assets = %d", got.Count)
	}
	if got := decodeList(t, e.do(t, http.MethodGet, "/api/v1/assets?state=rented_out", nil)); got.Count != 0 {
		t.Fatalf("rented = %d", got.Count)
	}
	if w := e.do(t, http.MethodPost, "/api/v1/assets/A1/revert-lease", gin.H{}); w.Code != http.StatusBadRequest {
		t.Fatalf("revert without reason = %d", w.Code)
	}
	if w := e.do(t, http.MethodPost, "/api/v1/assets/A1/revert-lease", gin.H{"reason": "wrong match"}); w.Code != http.StatusConflict {
		t.Fatalf("revert in_steam = %d", w.Code)
	}
	if w := e.do(t, http.MethodPut, "/api/v1/assets/A1/cost", gin.H{"cost": "90", "reason": "fee refund"}); w.Code != http.StatusOK {
		t.Fatalf("correct cost = %d %s", w.Code, w.Body.String())
	}
	got, _ := e.store.GetAsset(ctx, "A1")
	if !got.Cost.Decimal.Equal(decimal.NewFromInt(90)) || !got.CostCorrected {
		t.Fatalf("asset = %+v", got)
	}
	if w := e.do(t, http.MethodPut, "/api/v1/assets/missing/cost", gin.H{"cost": "1", "reason": "x"}); w.Code != http.StatusNotFound {
		t.Fatalf("missing asset = %d", w.Code)
	}

	holdings := decodeList(t, e.do(t, http.MethodGet, "/api/v1/holdings", nil))
	if holdings.Count != 1 {
		t.Fatalf("holdings = %+v", holdings)
	}
}

func TestAlerts(t *testing.T) {
	e := newEnv(t)
	fresh, err := e.store.SaveAlerts(context.Background(), []models.Alert{{ItemName: "AK", Kind: "profit_50", Day: today, Severity: models.SeverityWarning}})
	if err != nil || len(fresh) != 1 {
		t.Fatalf("seed alerts: %v", err)
	}
	if got := decodeList(t, e.do(t, http.MethodGet, "/api/v1/alerts?unread=true", nil)); got.Count != 1 {
		t.Fatalf("unread = %d", got.Count)
	}
	id := fresh[0].ID
	if w := e.do(t, http.MethodPost, "/api/v1/alerts/"+strconv.FormatUint(uint64(id), 10)+"/read", nil); w.Code != http.StatusOK {
		t.Fatalf("mark read = %d", w.Code)
	}
	if got := decodeList(t, e.do(t, http.MethodGet, "/api/v1/alerts?unread=true", nil)); got.Count != 0 {
		t.Fatalf("unread after mark = %d", got.Count)
	}
	if _, err := e.store.SaveAlerts(context.Background(), []models.Alert{
		{ItemName: "AK", Kind: "near_ath", Day: today},
		{ItemName: "AWP", Kind: "profit_50", Day: today},
	}); err != nil {
		t.Fatal(err)
	}
	var readAll struct {
		Data struct {
			Updated int `json:"updated"`
		} `json:"data"`
	}
	w := e.do(t, http.MethodPost, "/api/v1/alerts/read-all", nil)
	if err := json.Unmarshal(w.Body.Bytes(), &readAll); err != nil || w.Code != http.StatusOK || readAll.Data.Updated != 2 {
		t.Fatalf("read all = %d %s", w.Code, w.Body.String())
	}
	if got := decodeList(t, e.do(t, http.MethodGet, "/api/v1/alerts?unread=true", nil)); got.Count != 0 {
		t.Fatalf("unread after read-all = %d", got.Count)
	}
	if w := e.do(t, http.MethodPost, "/api/v1/alerts/999/read", nil); w.Code != http.StatusNotFound {
		t.Fatalf("missing alert = %d", w.Code)
	}
	if w := e.do(t, http.MethodPost, "/api/v1/alerts/abc/read", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("bad id = %d", w.Code)
	}
}

func TestResyncAndJobs(t *testing.T) {
	e := newEnv(t)
	path := "/api/v1/resync/" + url.PathEscape("AK-47 | Redline (Field-Tested)")
	if w := e.do(t, http.MethodPost, path, nil); w.Code != http.StatusOK {
		t.Fatalf("resync = %d", w.Code)
	}
	if len(e.engine.resynced) != 1 || e.engine.resynced[0] != "AK-47 | Redline (Field-Tested)" {
		t.Fatalf("resynced = %v", e.engine.resynced)
	}

	e.engine.resyncErr = fmt.Errorf("resync nope: no price available: %w", quant.ErrInsufficientHistory)
	if w := e.do(t, http.MethodPost, "/api/v1/resync/nope", nil); w.Code != http.StatusConflict {
		t.Fatalf("resync without price = %d %s", w.Code, w.Body.String())
	}

	if w := e.do(t, http.MethodPost, "/api/v1/jobs/collect/run", nil); w.Code != http.StatusAccepted {
		t.Fatalf("run job = %d", w.Code)
	}
	e.jobs.accept = false
	if w := e.do(t, http.MethodPost, "/api/v1/jobs/collect/run", nil); w.Code != http.StatusConflict {
		t.Fatalf("busy job = %d", w.Code)
	}
	var resp envelope
	w := e.do(t, http.MethodGet, "/api/v1/jobs", nil)
	json.Unmarshal(w.Body.Bytes(), &resp)
	if !strings.Contains(string(resp.Data), `"runs":3`) {
		t.Fatalf("jobs = %s", w.Body.String())
	}
}

func TestExport(t *testing.T) {
	e := newEnv(t)
	commitSignal(t, e.store, "AK", 80)

	w := e.do(t, http.MethodGet, "/api/v1/export.xlsx", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Header().Get("Content-Disposition"), "csgo-quant-20260520-1200.xlsx") {
		t.Fatalf("export = %d %v", w.Code, w.Header())
	}
	f, err := excelize.OpenReader(bytes.NewReader(w.Body.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if n := len(f.GetSheetList()); n != 3 {
		t.Fatalf("sheets = %d", n)
	}
}

func TestPriceHistory(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		c := float64(100 + i)
		b := &models.DailyBar{ItemName: "AK", Day: today.AddDate(0, 0, -9+i), Open: c, High: c, Low: c, Close: c, Samples: 1}
		if err := e.store.SaveBar(ctx, b); err != nil {
			t.Fatal(err)
		}
	}

	got := decodeList(t, e.do(t, http.MethodGet, "/api/v1/analysis/price-history?item=AK&days=7", nil))
	if got.Count != 7 {
		t.Fatalf("points = %d", got.Count)
	}
	var first, last struct {
		Close float64  `json:"close"`
		MA7   *float64 `json:"ma7"`
	}
	json.Unmarshal(got.Items[0], &first)
	json.Unmarshal(got.Items[6], &last)
	if first.Close != 103 || first.MA7 != nil || last.MA7 == nil || *last.MA7 != 106 {
		t.Fatalf("first %+v last %+v", first, last)
	}
	if w := e.do(t, http.MethodGet, "/api/v1/analysis/price-history", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("missing item = %d", w.Code)
	}
	if w := e.do(t, http.MethodGet, "/api/v1/analysis/price-history?item=AK&days=1000", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("days out of range = %d", w.Code)
	}
}

func TestCategoriesAndRankings(t *testing.T) {
	e := newEnv(t)
	ak, awp := "AK-47 | Redline (Field-Tested)", "AWP | Asiimov (Field-Tested)"
	commitSignal(t, e.store, ak, 70)
	commitSignal(t, e.store, awp, 50)
	a := &models.Asset{InstanceID: "A1", ItemName: ak, AcquiredAt: today.AddDate(0, 0, -10), Cost: decimal.NewNullDecimal(decimal.NewFromInt(100))}
	if err := e.ledger.RegisterAsset(context.Background(), a); err != nil {
		t.Fatal(err)
	}

	cats := decodeList(t, e.do(t, http.MethodGet, "/api/v1/analysis/categories", nil))
	if cats.Count != 2 {
		t.Fatalf("categories = %+v", cats)
	}
	seen := map[string]int{}
	for _, raw := range cats.Items {
		var c struct {
			Category string `json:"category"`
			Held     int    `json:"held"`
		}
		json.Unmarshal(raw, &c)
		seen[c.Category] = c.Held
	}
	if held, ok := seen["rifle"]; !ok || held != 1 {
		t.Fatalf("categories seen = %v", seen)
	}
	if _, ok := seen["sniper"]; !ok {
		t.Fatalf("categories seen = %v", seen)
	}

	rankings := func(query string) (total int, items []string) {
		t.Helper()
		w := e.do(t, http.MethodGet, "/api/v1/analysis/rankings"+query, nil)
		var resp struct {
			Data struct {
				Total int `json:"total"`
				Items []struct {
					Item string `json:"item"`
				} `json:"items"`
			} `json:"data"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil || w.Code != http.StatusOK {
			t.Fatalf("rankings%s = %d %s", query, w.Code, w.Body.String())
		}
		for _, it := range resp.Data.Items {
			items = append(items, it.Item)
		}
		return resp.Data.Total, items
	}
	if total, items := rankings(""); total != 1 || items[0] != ak {
		t.Fatalf("owned rankings = %d %v", total, items)
	}
	if total, items := rankings("?owned=false&sort=opportunity_score"); total != 2 || items[0] != awp {
		t.Fatalf("all by opportunity = %d %v", total, items)
	}
	if total, items := rankings("?owned=false&category=sniper"); total != 1 || items[0] != awp {
		t.Fatalf("snipers = %d %v", total, items)
	}
	if total, items := rankings("?owned=false&page=2&page_size=1"); total != 2 || len(items) != 1 || items[0] != awp {
		t.Fatalf("second page = %d %v", total, items)
	}
	if w := e.do(t, http.MethodGet, "/api/v1/analysis/rankings?min_score=abc", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("bad min_score = %d", w.Code)
	}
}

func TestMissingAndBulkCost(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	for _, a := range []*models.Asset{
		{InstanceID: "A1", ItemName: "AK", AcquiredAt: today},
		{InstanceID: "A2", ItemName: "AK", AcquiredAt: today, Cost: decimal.NewNullDecimal(decimal.NewFromInt(100))},
	} {
		if err := e.ledger.RegisterAsset(ctx, a); err != nil {
			t.Fatal(err)
		}
	}
	missing := decodeList(t, e.do(t, http.MethodGet, "/api/v1/inventory/missing-cost", nil))
	if missing.Count != 1 || !strings.Contains(string(missing.Items[0]), `"A1"`) {
		t.Fatalf("missing cost = %+v", missing)
	}

	body := gin.H{"items": []gin.H{
		{"asset_id": "A1", "cost": "95.5"},
		{"asset_id": "A2", "cost": "80"},
		{"asset_id": "nope", "cost": "1"},
	}}
	w := e.do(t, http.MethodPut, "/api/v1/inventory/costs", body)
	var resp struct {
		Data struct {
			Updated  int      `json:"updated"`
			NotFound []string `json:"not_found"`
			Rejected []struct {
				AssetID string `json:"asset_id"`
			} `json:"rejected"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil || w.Code != http.StatusOK {
		t.Fatalf("bulk cost = %d %s", w.Code, w.Body.String())
	}
	if resp.Data.Updated != 1 || len(resp.Data.NotFound) != 1 || len(resp.Data.Rejected) != 1 || resp.Data.Rejected[0].AssetID != "A2" {
		t.Fatalf("bulk cost result = %+v", resp.Data)
	}
	got, _ := e.store.GetAsset(ctx, "A1")
	if !got.Cost.Valid || !got.Cost.Decimal.Equal(decimal.RequireFromString("95.5")) {
		t.Fatalf("A1 cost = %v", got.Cost)
	}
	if got := decodeList(t, e.do(t, http.MethodGet, "/api/v1/inventory/missing-cost", nil)); got.Count != 0 {
		t.Fatalf("missing after bulk = %d", got.Count)
	}
	if w := e.do(t, http.MethodPut, "/api/v1/inventory/costs", gin.H{"items": []gin.H{}}); w.Code != http.StatusBadRequest {
		t.Fatalf("empty bulk = %d", w.Code)
	}
}
