package youpin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"csgo-quant/internal/ledger"
	"csgo-quant/internal/logger"
	"csgo-quant/internal/services"
)

var pulledAt = time.Date(2026, 5, 10, 8, 0, 0, 0, time.UTC)

func ms(t time.Time) int64 { return t.UnixMilli() }

func reply(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func TestPullEventsMapsRecords(t *testing.T) {
	since := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" || len(r.Header.Get("uk")) != 65 {
			t.Errorf("missing auth headers")
		}
		switch r.URL.Path {
		case "/api/youpin/bff/trade/sale/v1/buy/list":
			reply(w, map[string]interface{}{"Code": 0, "Data": TradeList{List: []TradeRecord{
				{OrderNo: "B1", ProductDetail: ProductDetail{CommodityHashName: "AK", AssertID: "A1"},
					TotalAmount: 30000, CommodityNum: 3, FinishOrderTime: ms(since.AddDate(0, 0, 2))},
				{OrderNo: "B2", ProductDetail: ProductDetail{CommodityHashName: "AK"},
					TotalAmount: 10000, FinishOrderTime: ms(since.AddDate(0, 0, 1))},
				{OrderNo: "B0", ProductDetail: ProductDetail{CommodityHashName: "AK", AssertID: "A0"},
					TotalAmount: 10000, FinishOrderTime: ms(since.AddDate(0, 0, -3))},
			}}})
		case "/api/youpin/bff/trade/v1/order/lease/out/list":
			reply(w, Response[LeaseOrderList]{Data: LeaseOrderList{TotalCount: 1, OrderDataList: []LeaseOrder{{
				OrderID:        "L1",
				CommodityInfo:  CommodityInfo{CommodityHashName: "AK", BuyPrice: 10100, BuyTime: ms(since.AddDate(0, 0, 2))},
				LeaseUnitPrice: 35,
				LeaseStartTime: ms(since.AddDate(0, 0, 3)),
				LeaseEndTime:   ms(since.AddDate(0, 0, 11)),
				OrderStatus:    LeaseStatusLeasing,
			}}}})
		case "/api/youpin/bff/trade/sale/v1/sell/list":
			reply(w, Response[TradeList]{Data: TradeList{List: []TradeRecord{
				{OrderNo: "S1", ProductDetail: ProductDetail{CommodityHashName: "AWP", AssertID: "W1"},
					TotalAmount: 52050, CreateOrderTime: ms(since.AddDate(0, 0, 4))},
			}}})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	s := NewService(srv.URL, "tok", "dev-1", logger.Discard())
	s.now = func() time.Time { return pulledAt }
	events, err := s.PullEvents(context.Background(), since)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 3 {
		t.Fatalf("events = %+v", events)
	}

	buy := events[0]
	if buy.Kind != ledger.EventAcquire || buy.AssetID != "A1" || buy.Price.String() != "100" {
		t.Fatalf("buy = %+v", buy)
	}

	lease := events[1]
	if lease.Kind != ledger.EventLease || lease.AssetID != "" || !lease.At.Equal(pulledAt) {
		t.Fatalf("lease event = %+v", lease)
	}
	rec := lease.Lease
	if rec.OrderID != "L1" || rec.Status != "leasing" || rec.BuyPrice.String() != "101" ||
		rec.DailyRent.String() != "0.35" || !rec.EndAt.Equal(since.AddDate(0, 0, 11)) {
		t.Fatalf("lease record = %+v", rec)
	}

	sale := events[2]
	if sale.Kind != ledger.EventSale || sale.AssetID != "W1" || sale.Price.String() != "520.5" ||
		!sale.At.Equal(since.AddDate(0, 0, 4)) {
		t.Fatalf("sale = %+v", sale)
	}
}

func TestTokenExpired(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reply(w, map[string]interface{}{"Code": 84101, "Msg": "登录已过期"})
	}))
	defer srv.Close()

	s := NewService(srv.URL, "tok", "", logger.Discard())
	_, err := s.PullEvents(context.Background(), time.Time{})
	if !errors.Is(err, services.ErrSourceUnavailable) || !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("err = %v", err)
	}
}

func TestLeaseStatusText(t *testing.T) {
	cases := map[int]string{LeaseStatusLeasing: "leasing", LeaseStatusReturned: "returned", LeaseStatusCancelled: "cancelled", 9: "cancelled"}
	for code, want := range cases {
		o := LeaseOrder{OrderStatus: code}
		if got := o.StatusText(); got != want {
			t.Errorf("status %d = %q, want %q", code, got, want)
		}
	}
}
