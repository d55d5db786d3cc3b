// Package youpin 从悠悠有品拉取租出、买入、卖出记录，转换为账本事件
package youpin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"csgo-quant/internal/ledger"
	"csgo-quant/internal/models"
	"csgo-quant/internal/services"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
)

const (
	sourceName = "youpin"
	pageSize   = 30
	maxPages   = 200
)

// ErrTokenExpired 悠悠 Token 已过期，需要重新获取
var ErrTokenExpired = errors.New("youpin token expired")

// Service 悠悠有品记录导入
type Service struct {
	client *resty.Client
	logger *slog.Logger
	now    func() time.Time
}

// NewService 创建悠悠有品服务
func NewService(baseURL, token, deviceID string, logger *slog.Logger) *Service {
	if deviceID == "" {
		deviceID = uuid.NewString()
	}
	client := resty.New()
	client.SetTimeout(15 * time.Second)
	client.SetBaseURL(strings.TrimRight(baseURL, "/"))
	client.SetAuthToken(token)
	client.SetHeaders(map[string]string{
		"Content-Type": "application/json",
		"User-Agent":   "okhttp/3.14.9",
		"App-Version":  "5.28.3",
		"AppType":      "4",
		"Platform":     "android",
		"DeviceId":     deviceID,
		"DeviceType":   "1",
		"GameId":       "730",
	})
	client.OnBeforeRequest(func(c *resty.Client, r *resty.Request) error {
		r.SetHeader("uk", randString(65))
		return nil
	})

	if logger == nil {
		logger = slog.Default()
	}
	return &Service{client: client, logger: logger.With("component", "youpin"), now: time.Now}
}

func (s *Service) Name() string {
	return sourceName
}

func randString(n int) string {
	const letters = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, n)
	for i := range b {
		b[i] = letters[rand.Intn(len(letters))]
	}
	return string(b)
}

func post[T any](ctx context.Context, s *Service, path string, body interface{}) (T, error) {
	var out Response[T]
	resp, err := s.client.R().SetContext(ctx).SetBody(body).SetResult(&out).Post(path)
	if err != nil {
		return out.Data, services.Unavailable(sourceName, err)
	}
	if resp.IsError() {
		return out.Data, services.Unavailable(sourceName, fmt.Errorf("%s: HTTP %d", path, resp.StatusCode()))
	}
	if out.Code == codeTokenExpired {
		return out.Data, services.Unavailable(sourceName, ErrTokenExpired)
	}
	if out.Code != 0 {
		return out.Data, services.Unavailable(sourceName, fmt.Errorf("%s: code %d: %s", path, out.Code, out.Msg))
	}
	return out.Data, nil
}

// LeaseOrders 拉取全部租出订单
func (s *Service) LeaseOrders(ctx context.Context) ([]LeaseOrder, error) {
	var all []LeaseOrder
	for page := 1; page <= maxPages; page++ {
		data, err := post[LeaseOrderList](ctx, s, "/api/youpin/bff/trade/v1/order/lease/out/list",
			PageRequest{PageIndex: page, PageSize: pageSize, GameID: 730})
		if err != nil {
			return nil, err
		}
		all = append(all, data.OrderDataList...)
		if len(data.OrderDataList) == 0 || len(all) >= data.TotalCount {
			break
		}
	}
	return all, nil
}

// tradeRecords 拉取买入或卖出记录，按时间倒序，早于 since 的页不再继续
func (s *Service) tradeRecords(ctx context.Context, path string, since time.Time) ([]TradeRecord, error) {
	var all []TradeRecord
	for page := 1; page <= maxPages; page++ {
		data, err := post[TradeList](ctx, s, path, PageRequest{PageIndex: page, PageSize: pageSize, GameID: 730})
		if err != nil {
			return nil, err
		}
		older := false
		for _, r := range data.List {
			if !since.IsZero() && r.Time().Before(since) {
				older = true
				continue
			}
			all = append(all, r)
		}
		if older || len(data.List) < pageSize {
			break
		}
	}
	return all, nil
}

// BuyRecords 买入记录
func (s *Service) BuyRecords(ctx context.Context, since time.Time) ([]TradeRecord, error) {
	return s.tradeRecords(ctx, "/api/youpin/bff/trade/sale/v1/buy/list", since)
}

// SellRecords 卖出记录
func (s *Service) SellRecords(ctx context.Context, since time.Time) ([]TradeRecord, error) {
	return s.tradeRecords(ctx, "/api/youpin/bff/trade/sale/v1/sell/list", since)
}

// PullEvents 汇总买入、租出、卖出事件。租出订单是当前列表，全量返回，按拉取时间生效，由账本幂等处理。
// 买入与卖出记录缺少 Steam assetid 时无法定位资产，跳过并记录。
func (s *Service) PullEvents(ctx context.Context, since time.Time) ([]ledger.Event, error) {
	buys, err := s.BuyRecords(ctx, since)
	if err != nil {
		return nil, err
	}
	leases, err := s.LeaseOrders(ctx)
	if err != nil {
		return nil, err
	}
	sells, err := s.SellRecords(ctx, since)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	var events []ledger.Event
	skipped := 0
	for i := range buys {
		r := &buys[i]
		if r.ProductDetail.AssertID == "" || r.ProductDetail.CommodityHashName == "" {
			skipped++
			continue
		}
		events = append(events, ledger.Event{
			Kind:     ledger.EventAcquire,
			AssetID:  r.ProductDetail.AssertID,
			ItemName: r.ProductDetail.CommodityHashName,
			Price:    r.UnitPrice(),
			At:       r.Time(),
		})
	}

	for i := range leases {
		rec, ok := toLeaseRecord(&leases[i])
		if !ok {
			skipped++
			continue
		}
		events = append(events, ledger.Event{Kind: ledger.EventLease, ItemName: rec.ItemName, Lease: rec, At: now})
	}

	for i := range sells {
		r := &sells[i]
		if r.ProductDetail.AssertID == "" {
			skipped++
			continue
		}
		events = append(events, ledger.Event{
			Kind:     ledger.EventSale,
			AssetID:  r.ProductDetail.AssertID,
			ItemName: r.ProductDetail.CommodityHashName,
			Price:    r.UnitPrice(),
			At:       r.Time(),
		})
	}

	s.logger.Info("youpin records pulled", "buys", len(buys), "leases", len(leases), "sells", len(sells), "events", len(events), "skipped", skipped)
	return events, nil
}

// toLeaseRecord 转换租出订单。不带资产引用，由账本按价格与时间匹配。
func toLeaseRecord(o *LeaseOrder) (*models.LeaseRecord, bool) {
	info := o.CommodityInfo
	if o.ID() == "" || info.CommodityHashName == "" {
		return nil, false
	}
	return &models.LeaseRecord{
		OrderID:   o.ID(),
		ItemName:  info.CommodityHashName,
		BuyPrice:  cents(info.BuyPrice),
		BoughtAt:  fromMillis(info.BuyTime),
		DailyRent: cents(o.LeaseUnitPrice),
		StartAt:   fromMillis(o.LeaseStartTime),
		EndAt:     fromMillis(o.LeaseEndTime),
		Status:    o.StatusText(),
	}, true
}
