// Package steamdt 对接 SteamDT 开放平台的多平台价格接口
package steamdt

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"csgo-quant/internal/pricing"
	"csgo-quant/internal/services"

	"github.com/go-resty/resty/v2"
)

const (
	sourceName = "steamdt"
	// 批量接口单次最多 100 个名称
	maxBatch = 100
)

// 平台名统一为大写
var platforms = []string{"STEAM", "BUFF", "YOUPIN", "C5"}

// Envelope 统一响应
type Envelope[T any] struct {
	Success   bool   `json:"success"`
	ErrorCode int    `json:"errorCode"`
	ErrorMsg  string `json:"errorMsg"`
	Data      T      `json:"data"`
}

// PlatformPrice 单个平台的报价
type PlatformPrice struct {
	Platform       string  `json:"platform"`
	PlatformItemID string  `json:"platformItemId"`
	SellPrice      float64 `json:"sellPrice"`
	SellCount      int     `json:"sellCount"`
	BiddingPrice   float64 `json:"biddingPrice"`
	BiddingCount   int     `json:"biddingCount"`
	UpdateTime     int64   `json:"updateTime"` // unix seconds
}

// ItemPrices 单个饰品的全平台报价
type ItemPrices struct {
	MarketHashName string          `json:"marketHashName"`
	DataList       []PlatformPrice `json:"dataList"`
}

type batchRequest struct {
	MarketHashNames []string `json:"marketHashNames"`
}

// Client SteamDT 价格源
type Client struct {
	client *resty.Client
	logger *slog.Logger
	now    func() time.Time
}

// NewClient 创建 SteamDT 客户端
func NewClient(baseURL, apiKey string, logger *slog.Logger) *Client {
	client := resty.New()
	client.SetTimeout(30 * time.Second)
	client.SetBaseURL(strings.TrimRight(baseURL, "/"))
	client.SetAuthToken(apiKey)
	client.SetHeader("Content-Type", "application/json")
	client.SetHeader("Accept", "application/json")

	if logger == nil {
		logger = slog.Default()
	}
	return &Client{client: client, logger: logger.With("component", "steamdt"), now: time.Now}
}

func (c *Client) Name() string {
	return sourceName
}

func (c *Client) Platforms() []string {
	return platforms
}

// FetchPrices 按 100 个一批拉取全平台价格。任一批次失败则整个数据源视为不可用。
func (c *Client) FetchPrices(ctx context.Context, items []string) ([]pricing.Observation, error) {
	var out []pricing.Observation
	for _, chunk := range services.Chunk(items, maxBatch) {
		batch, err := c.BatchPrices(ctx, chunk)
		if err != nil {
			return nil, err
		}
		out = append(out, c.toObservations(batch)...)
	}
	return out, nil
}

// BatchPrices 调用 POST /open/cs2/v1/price/batch
func (c *Client) BatchPrices(ctx context.Context, names []string) ([]ItemPrices, error) {
	var env Envelope[[]ItemPrices]
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(batchRequest{MarketHashNames: names}).
		SetResult(&env).
		Post("/open/cs2/v1/price/batch")
	if err != nil {
		return nil, services.Unavailable(sourceName, err)
	}
	if resp.IsError() {
		return nil, services.Unavailable(sourceName, fmt.Errorf("HTTP %d", resp.StatusCode()))
	}
	if !env.Success {
		return nil, services.Unavailable(sourceName, fmt.Errorf("code %d: %s", env.ErrorCode, env.ErrorMsg))
	}
	return env.Data, nil
}

// SinglePrice 调用 GET /open/cs2/v1/price/single，用于手动刷新单个饰品
func (c *Client) SinglePrice(ctx context.Context, name string) ([]pricing.Observation, error) {
	var env Envelope[[]PlatformPrice]
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("marketHashName", name).
		SetResult(&env).
		Get("/open/cs2/v1/price/single")
	if err != nil {
		return nil, services.Unavailable(sourceName, err)
	}
	if resp.IsError() {
		return nil, services.Unavailable(sourceName, fmt.Errorf("HTTP %d", resp.StatusCode()))
	}
	if !env.Success {
		return nil, services.Unavailable(sourceName, fmt.Errorf("code %d: %s", env.ErrorCode, env.ErrorMsg))
	}
	return c.toObservations([]ItemPrices{{MarketHashName: name, DataList: env.Data}}), nil
}

func (c *Client) toObservations(batch []ItemPrices) []pricing.Observation {
	fetchedAt := c.now().UTC()
	var out []pricing.Observation
	for _, item := range batch {
		for _, p := range item.DataList {
			// 无在售或价格缺失的平台不产生观测
			if p.SellPrice <= 0 || p.Platform == "" {
				continue
			}
			at := fetchedAt
			if p.UpdateTime > 0 {
				at = time.Unix(p.UpdateTime, 0).UTC()
			}
			out = append(out, pricing.Observation{
				Item:       item.MarketHashName,
				Platform:   strings.ToUpper(p.Platform),
				Source:     sourceName,
				Price:      p.SellPrice,
				SellCount:  p.SellCount,
				ObservedAt: at,
			})
		}
	}
	return out
}
