package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"csgo-quant/internal/ledger"
	"csgo-quant/internal/models"
	"csgo-quant/internal/portfolio"
	"csgo-quant/internal/quant"
	"csgo-quant/internal/report"
	"csgo-quant/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// PriceHistory ?item=...&days=90，日K线加 MA7/MA30/布林带
func (h *APIHandler) PriceHistory(c *gin.Context) {
	item := c.Query("item")
	if item == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "item 不能为空"})
		return
	}
	days := queryInt(c, "days", 90)
	if days < 7 || days > 365 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "days 必须在 7-365 之间"})
		return
	}
	to := models.DayOf(h.now())
	bars, err := h.store.BarsInRange(c.Request.Context(), item, to.AddDate(0, 0, -(days-1)), to)
	if err != nil {
		h.fail(c, err)
		return
	}
	points := report.PriceChart(bars)
	ok(c, gin.H{"item": item, "days": days, "count": len(points), "items": points})
}

// CategoryTrends 按类别汇总当前信号与持仓
func (h *APIHandler) CategoryTrends(c *gin.Context) {
	ctx := c.Request.Context()
	sigs, err := h.store.CurrentSignals(ctx)
	if err != nil {
		h.fail(c, err)
		return
	}
	assets, err := h.store.HeldAssets(ctx)
	if err != nil {
		h.fail(c, err)
		return
	}
	holdings, _ := portfolio.Holdings(assets, h.engine.Book())
	categories, err := h.categories(ctx, sigs, holdings)
	if err != nil {
		h.fail(c, err)
		return
	}
	trends := report.CategoryTrends(sigs, holdings, categories)
	ok(c, gin.H{"count": len(trends), "items": trends})
}

// Rankings ?sort=sell_score&order=desc&category=rifle&owned=true&min_score=&max_score=&search=&page=1&page_size=30
func (h *APIHandler) Rankings(c *gin.Context) {
	ctx := c.Request.Context()
	f := report.RankFilter{
		SortBy:    c.DefaultQuery("sort", "sell_score"),
		Ascending: c.Query("order") == "asc",
		Category:  c.Query("category"),
		OwnedOnly: c.DefaultQuery("owned", "true") == "true",
		Search:    c.Query("search"),
	}
	for key, dst := range map[string]**float64{"min_score": &f.MinScore, "max_score": &f.MaxScore} {
		raw := c.Query(key)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + key})
			return
		}
		*dst = &v
	}

	sigs, err := h.store.CurrentSignals(ctx)
	if err != nil {
		h.fail(c, err)
		return
	}
	held, err := h.store.HeldItemNames(ctx)
	if err != nil {
		h.fail(c, err)
		return
	}
	f.Owned = make(map[string]bool, len(held))
	for _, n := range held {
		f.Owned[n] = true
	}
	categories, err := h.categories(ctx, sigs, nil)
	if err != nil {
		h.fail(c, err)
		return
	}

	rows := report.Rank(sigs, f, categories)
	page, size := queryInt(c, "page", 1), queryInt(c, "page_size", 30)
	if size > 100 {
		size = 100
	}
	total := len(rows)
	start := (page - 1) * size
	if start > total {
		start = total
	}
	end := start + size
	if end > total {
		end = total
	}
	ok(c, gin.H{"total": total, "page": page, "count": end - start, "items": rows[start:end]})
}

func (h *APIHandler) categories(ctx context.Context, sigs []models.Signal, holdings map[string]*quant.Holding) (map[string]string, error) {
	names := make([]string, 0, len(sigs)+len(holdings))
	for _, s := range sigs {
		names = append(names, s.ItemName)
	}
	for item := range holdings {
		names = append(names, item)
	}
	return h.store.ItemCategories(ctx, names)
}

// MarkAllAlertsRead 全部告警标记已读
func (h *APIHandler) MarkAllAlertsRead(c *gin.Context) {
	n, err := h.store.MarkAllAlertsRead(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, gin.H{"updated": n})
}

// MissingCost 尚未录入成本的持仓，按此列表补录
func (h *APIHandler) MissingCost(c *gin.Context) {
	assets, err := h.store.ListAssets(c.Request.Context(), store.AssetFilter{
		States:      []models.AssetState{models.StateInSteam, models.StateRentedOut},
		MissingCost: true,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, gin.H{"count": len(assets), "items": assets})
}

type bulkCostRequest struct {
	Items []struct {
		AssetID string          `json:"asset_id" binding:"required"`
		Cost    decimal.Decimal `json:"cost"`
	} `json:"items" binding:"required,min=1,dive"`
}

type costRejection struct {
	AssetID string `json:"asset_id"`
	Error   string `json:"error"`
}

// BulkSetCost 批量录入成本。已有成本的资产不会被覆盖，需走单件修正接口
func (h *APIHandler) BulkSetCost(c *gin.Context) {
	var req bulkCostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "参数错误"})
		return
	}
	ctx := c.Request.Context()
	updated := make([]string, 0, len(req.Items))
	var notFound []string
	var rejected []costRejection
	for _, it := range req.Items {
		err := h.ledger.SetCost(ctx, it.AssetID, it.Cost)
		switch {
		case err == nil:
			updated = append(updated, it.AssetID)
		case errors.Is(err, ledger.ErrAssetNotFound):
			notFound = append(notFound, it.AssetID)
		case errors.Is(err, ledger.ErrCostImmutable), errors.Is(err, ledger.ErrNegativeCost):
			rejected = append(rejected, costRejection{AssetID: it.AssetID, Error: err.Error()})
		default:
			h.fail(c, err)
			return
		}
	}
	ok(c, gin.H{"updated": len(updated), "items": updated, "not_found": notFound, "rejected": rejected})
}
