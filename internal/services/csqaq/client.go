// Package csqaq 对接 CSQAQ 数据接口：租赁价格、年化、成交量、存世量与饰品元数据
package csqaq

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"csgo-quant/internal/services"

	"github.com/go-resty/resty/v2"
)

const sourceName = "csqaq"

// Response 统一响应，code == 200 表示成功
type Response[T any] struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data T      `json:"data"`
}

// GoodInfo 单品详情
type GoodInfo struct {
	ID                  int64    `json:"id"`
	Name                string   `json:"name"`
	MarketHashName      string   `json:"market_hash_name"`
	Img                 string   `json:"img"`
	TypeLocalizedName   string   `json:"type_localized_name"`
	RarityLocalizedName string   `json:"rarity_localized_name"`
	ExteriorName        string   `json:"exterior_localized_name"`
	YyypLeasePrice      *float64 `json:"yyyp_lease_price"`
	YyypLeaseAnnual     *float64 `json:"yyyp_lease_annual"`
	YyypSellNum         *int     `json:"yyyp_sell_num"`
	TurnoverNumber      *float64 `json:"turnover_number"`
	Statistic           *int64   `json:"statistic"`
}

type goodData struct {
	GoodsInfo *GoodInfo `json:"goods_info"`
}

// RankEntry 排行榜条目，用于名称到 good_id 的映射
type RankEntry struct {
	ID             int64  `json:"id"`
	Name           string `json:"name"`
	MarketHashName string `json:"market_hash_name"`
}

type rankData struct {
	Data []RankEntry `json:"data"`
}

type rankRequest struct {
	PageIndex int                    `json:"page_index"`
	PageSize  int                    `json:"page_size"`
	Filter    map[string]interface{} `json:"filter"`
	Search    string                 `json:"search"`
}

// Client CSQAQ 客户端
type Client struct {
	client *resty.Client
}

// NewClient 创建 CSQAQ 客户端
func NewClient(baseURL, token string) *Client {
	client := resty.New()
	client.SetTimeout(15 * time.Second)
	client.SetBaseURL(strings.TrimRight(baseURL, "/"))
	client.SetHeader("ApiToken", token)
	client.SetHeader("Content-Type", "application/json")
	client.SetHeader("Accept", "application/json")
	return &Client{client: client}
}

// Good 获取单品详情 GET /info/good?id=X
func (c *Client) Good(ctx context.Context, id int64) (*GoodInfo, error) {
	var out Response[goodData]
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("id", strconv.FormatInt(id, 10)).
		SetResult(&out).
		Get("/info/good")
	if err := check(resp, err, out.Code, out.Msg); err != nil {
		return nil, err
	}
	if out.Data.GoodsInfo == nil {
		return nil, services.Unavailable(sourceName, fmt.Errorf("good %d: empty goods_info", id))
	}
	return out.Data.GoodsInfo, nil
}

// SearchRank 按关键字搜索排行榜 POST /info/get_rank_list
func (c *Client) SearchRank(ctx context.Context, search string, pageSize int) ([]RankEntry, error) {
	if pageSize <= 0 {
		pageSize = 10
	}
	var out Response[rankData]
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(rankRequest{PageIndex: 1, PageSize: pageSize, Filter: map[string]interface{}{}, Search: search}).
		SetResult(&out).
		Post("/info/get_rank_list")
	if err := check(resp, err, out.Code, out.Msg); err != nil {
		return nil, err
	}
	return out.Data.Data, nil
}

func check(resp *resty.Response, err error, code int, msg string) error {
	if err != nil {
		return services.Unavailable(sourceName, err)
	}
	if resp.IsError() {
		return services.Unavailable(sourceName, fmt.Errorf("HTTP %d", resp.StatusCode()))
	}
	if code != 200 {
		return services.Unavailable(sourceName, fmt.Errorf("code %d: %s", code, msg))
	}
	return nil
}

// searchTerm 去掉磨损后缀，缩小搜索范围
// "AK-47 | Redline (Field-Tested)" → "AK-47 | Redline"
func searchTerm(name string) string {
	if i := strings.LastIndex(name, " ("); i > 0 && strings.HasSuffix(name, ")") {
		return name[:i]
	}
	return name
}
