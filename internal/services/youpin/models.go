package youpin

import (
	"time"

	"github.com/shopspring/decimal"
)

// 租赁订单状态
const (
	LeaseStatusLeasing   = 1
	LeaseStatusReturned  = 2
	LeaseStatusCancelled = 3
)

// Token 过期错误码
const codeTokenExpired = 84101

// Response 悠悠接口统一响应，字段大小写不一致（Code/code），json 解码不区分大小写
type Response[T any] struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data T      `json:"data"`
}

// PageRequest 分页请求
type PageRequest struct {
	PageIndex int `json:"pageIndex"`
	PageSize  int `json:"pageSize"`
	GameID    int `json:"gameId"`
}

// CommodityInfo 租赁订单中的饰品信息
type CommodityInfo struct {
	CommodityID       int64  `json:"commodityId"`
	CommodityHashName string `json:"commodityHashName"`
	Name              string `json:"name"`
	Abrade            string `json:"abrade"`
	AssertID          string `json:"assertId"`
	TemplateID        int64  `json:"templateId"`
	BuyPrice          int64  `json:"buyPrice"` // 分
	BuyTime           int64  `json:"buyTime"`  // ms
}

// LeaseOrder 租出订单
type LeaseOrder struct {
	OrderID        string        `json:"orderId"`
	OrderNo        string        `json:"orderNo"`
	CommodityInfo  CommodityInfo `json:"commodityInfo"`
	LeaseUnitPrice int64         `json:"leaseUnitPrice"` // 分/天
	LeaseStartTime int64         `json:"leaseStartTime"` // ms
	LeaseEndTime   int64         `json:"leaseEndTime"`   // ms
	OrderStatus    int           `json:"orderStatus"`
}

// ID 订单号，orderId 缺失时用 orderNo
func (o *LeaseOrder) ID() string {
	if o.OrderID != "" {
		return o.OrderID
	}
	return o.OrderNo
}

// StatusText 转换为账本使用的租赁状态
func (o *LeaseOrder) StatusText() string {
	switch o.OrderStatus {
	case LeaseStatusLeasing:
		return "leasing"
	case LeaseStatusReturned:
		return "returned"
	default:
		return "cancelled"
	}
}

// LeaseOrderList 租出订单列表
type LeaseOrderList struct {
	StatisticsDataDesc string       `json:"statisticsDataDesc"`
	OrderDataList      []LeaseOrder `json:"orderDataList"`
	TotalCount         int          `json:"totalCount"`
}

// ProductDetail 买入/卖出记录中的饰品
type ProductDetail struct {
	CommodityID       int64  `json:"commodityId"`
	CommodityHashName string `json:"commodityHashName"`
	AssertID          string `json:"assertId"`
	Abrade            string `json:"abrade"`
}

// TradeRecord 买入或卖出记录
type TradeRecord struct {
	OrderNo         string        `json:"orderNo"`
	ProductDetail   ProductDetail `json:"productDetail"`
	TotalAmount     int64         `json:"totalAmount"` // 分
	CommodityNum    int           `json:"commodityNum"`
	CreateOrderTime int64         `json:"createOrderTime"`
	FinishOrderTime int64         `json:"finishOrderTime"`
}

// TradeList 买入/卖出记录列表
type TradeList struct {
	List []TradeRecord `json:"list"`
}

// UnitPrice 单件价格（元）
func (r *TradeRecord) UnitPrice() decimal.Decimal {
	qty := r.CommodityNum
	if qty <= 0 {
		qty = 1
	}
	return decimal.New(r.TotalAmount, -2).Div(decimal.NewFromInt(int64(qty))).Round(2)
}

// Time 订单完成时间，缺失时用下单时间
func (r *TradeRecord) Time() time.Time {
	if r.FinishOrderTime > 0 {
		return fromMillis(r.FinishOrderTime)
	}
	return fromMillis(r.CreateOrderTime)
}

func fromMillis(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func cents(v int64) decimal.Decimal {
	return decimal.New(v, -2)
}
