package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"csgo-quant/internal/ledger"
	"csgo-quant/internal/metrics"
	"csgo-quant/internal/models"
	"csgo-quant/internal/notify"
	"csgo-quant/internal/pipeline"
	"csgo-quant/internal/portfolio"
	"csgo-quant/internal/pricing"
	"csgo-quant/internal/quant"
	"csgo-quant/internal/report"
	"csgo-quant/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// Engine 流水线对外暴露的部分
type Engine interface {
	Book() *pricing.Book
	Arbitrage() []pricing.ArbitrageEntry
	Resync(ctx context.Context, item string) (*models.Signal, error)
}

// Jobs 调度器对外暴露的部分
type Jobs interface {
	Trigger(name string) bool
	Status() []pipeline.JobStatus
}

var (
	_ Engine = (*pipeline.Pipeline)(nil)
	_ Jobs   = (*pipeline.Scheduler)(nil)
)

type APIHandler struct {
	store   *store.Store
	cache   *store.Cache
	ledger  *ledger.Ledger
	engine  Engine
	jobs    Jobs
	hub     *notify.Hub
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// Options 处理器依赖，Cache、Jobs、Hub、Metrics 可以为空
type Options struct {
	Store   *store.Store
	Cache   *store.Cache
	Ledger  *ledger.Ledger
	Engine  Engine
	Jobs    Jobs
	Hub     *notify.Hub
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

func NewHandler(o Options) *APIHandler {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return &APIHandler{
		store: o.Store, cache: o.Cache, ledger: o.Ledger, engine: o.Engine, jobs: o.Jobs,
		hub: o.Hub, metrics: o.Metrics, logger: o.Logger.With("component", "api"), now: time.Now,
	}
}

// NewRouter 创建 gin 引擎并挂载全部路由
func NewRouter(h *APIHandler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), h.requestLogger(), cors())

	r.GET("/health", h.Health)
	if h.metrics != nil {
		r.GET("/metrics", gin.WrapH(h.metrics.Handler()))
	}
	if h.hub != nil {
		r.GET("/ws/alerts", gin.WrapF(h.hub.ServeWS))
	}
	SetupRoutes(r.Group("/api/v1"), h)
	return r
}

func SetupRoutes(r *gin.RouterGroup, h *APIHandler) {
	signals := r.Group("/signals")
	{
		signals.GET("", h.ListSignals)
		signals.GET("/:item", h.GetSignal)
		signals.GET("/:item/history", h.SignalHistory)
	}

	r.GET("/prices", h.ListPrices)
	r.GET("/arbitrage", h.ListArbitrage)
	r.GET("/snapshots", h.ListSnapshots)
	r.GET("/holdings", h.ListHoldings)

	assets := r.Group("/assets")
	{
		assets.GET("", h.ListAssets)
		assets.POST("/:id/revert-lease", h.RevertLease)
		assets.PUT("/:id/cost", h.CorrectCost)
	}

	alerts := r.Group("/alerts")
	{
		alerts.GET("", h.ListAlerts)
		alerts.POST("/read-all", h.MarkAllAlertsRead)
		alerts.POST("/:id/read", h.MarkAlertRead)
	}

	analysis := r.Group("/analysis")
	{
		analysis.GET("/price-history", h.PriceHistory)
		analysis.GET("/categories", h.CategoryTrends)
		analysis.GET("/rankings", h.Rankings)
	}

	inventory := r.Group("/inventory")
	{
		inventory.GET("/missing-cost", h.MissingCost)
		inventory.PUT("/costs", h.BulkSetCost)
	}

	r.POST("/resync/:item", h.Resync)
	r.PUT("/prices/override", h.SetOverride)
	r.DELETE("/prices/override", h.ClearOverride)
	r.GET("/export.xlsx", h.Export)

	jobs := r.Group("/jobs")
	{
		jobs.GET("", h.ListJobs)
		jobs.POST("/:name/run", h.RunJob)
	}
}

func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func (h *APIHandler) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		h.logger.Debug("http request",
			"method", c.Request.Method, "path", c.Request.URL.Path,
			"status", c.Writer.Status(), "elapsed", time.Since(start))
	}
}

// fail 按错误类型映射 HTTP 状态码
func (h *APIHandler) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, ledger.ErrAssetNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ledger.ErrInvalidTransition), errors.Is(err, ledger.ErrNegativeCost),
		errors.Is(err, ledger.ErrCostImmutable), errors.Is(err, quant.ErrInsufficientHistory):
		status = http.StatusConflict
	case errors.Is(err, store.ErrLockHeld), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", "path", c.Request.URL.Path, "error", err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func ok(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{"code": 200, "msg": "ok", "data": data})
}

func queryInt(c *gin.Context, key string, def int) int {
	if v, err := strconv.Atoi(c.Query(key)); err == nil && v > 0 {
		return v
	}
	return def
}

func queryDay(c *gin.Context, key string, def time.Time) (time.Time, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s: %q", key, raw)
	}
	return t, nil
}

// Health 检查数据库与 redis
func (h *APIHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	status := gin.H{"status": "ok", "database": "ok"}
	code := http.StatusOK
	if err := h.store.Ping(ctx); err != nil {
		status["status"], status["database"] = "degraded", err.Error()
		code = http.StatusServiceUnavailable
	}
	if h.cache != nil {
		status["redis"] = "ok"
		if err := h.cache.Ping(ctx); err != nil {
			status["redis"] = err.Error()
		}
	}
	if h.engine != nil {
		book := h.engine.Book()
		status["book_version"] = book.Version()
		status["book_items"] = book.Len()
	}
	c.JSON(code, status)
}

// ListSignals 当前已提交的信号。sort=opportunity 按买入评分排序
func (h *APIHandler) ListSignals(c *gin.Context) {
	sigs, err := h.store.CurrentSignals(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	if c.Query("sort") == "opportunity" {
		sort.SliceStable(sigs, func(i, j int) bool { return sigs[i].OpportunityScore > sigs[j].OpportunityScore })
	}
	ok(c, gin.H{"count": len(sigs), "items": sigs})
}

func (h *APIHandler) GetSignal(c *gin.Context) {
	sig, err := h.store.LatestSignal(c.Request.Context(), c.Param("item"))
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, sig)
}

// SignalHistory ?from=YYYY-MM-DD&to=YYYY-MM-DD，默认最近30天
func (h *APIHandler) SignalHistory(c *gin.Context) {
	to, err := queryDay(c, "to", models.DayOf(h.now()))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	from, err := queryDay(c, "from", to.AddDate(0, 0, -30))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sigs, err := h.store.SignalHistory(c.Request.Context(), c.Param("item"), from, to)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, gin.H{"count": len(sigs), "items": sigs})
}

// ListPrices 当前价格簿
func (h *APIHandler) ListPrices(c *gin.Context) {
	book := h.engine.Book()
	ok(c, gin.H{"version": book.Version(), "built_at": book.BuiltAt(), "items": book.All()})
}

// ListArbitrage 最近一次扫描结果；本进程尚未扫描时读 redis 缓存
func (h *APIHandler) ListArbitrage(c *gin.Context) {
	entries := h.engine.Arbitrage()
	if len(entries) == 0 && h.cache != nil {
		if cached, found, err := h.cache.Arbitrage(c.Request.Context()); err == nil && found {
			entries = cached
		}
	}
	if platform := strings.ToUpper(c.Query("platform")); platform != "" {
		filtered := entries[:0:0]
		for _, e := range entries {
			if e.PlatformA == platform || e.PlatformB == platform {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
	}
	ok(c, gin.H{"count": len(entries), "items": entries})
}

// ListSnapshots ?days=7&limit=100
func (h *APIHandler) ListSnapshots(c *gin.Context) {
	since := h.now().AddDate(0, 0, -queryInt(c, "days", 7))
	snaps, err := h.store.Snapshots(c.Request.Context(), since, queryInt(c, "limit", 100))
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, gin.H{"count": len(snaps), "items": snaps})
}

// ListHoldings 按商品汇总的持仓
func (h *APIHandler) ListHoldings(c *gin.Context) {
	rows, err := h.holdingRows(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, gin.H{"count": len(rows), "items": rows})
}

func (h *APIHandler) holdingRows(ctx context.Context) ([]report.HoldingRow, error) {
	assets, err := h.store.HeldAssets(ctx)
	if err != nil {
		return nil, err
	}
	book := h.engine.Book()
	holdings, _ := portfolio.Holdings(assets, book)
	return report.HoldingRows(holdings, book), nil
}

// ListAssets ?state=in_steam,rented_out&item=...&review=true
func (h *APIHandler) ListAssets(c *gin.Context) {
	var f store.AssetFilter
	if raw := c.Query("state"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			f.States = append(f.States, models.AssetState(strings.TrimSpace(s)))
		}
	}
	f.ItemName = c.Query("item")
	if raw := c.Query("review"); raw != "" {
		v := raw == "true" || raw == "1"
		f.NeedsReview = &v
	}
	assets, err := h.store.ListAssets(c.Request.Context(), f)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, gin.H{"count": len(assets), "items": assets})
}

type reasonRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// RevertLease 撤销错误的租出记录
func (h *APIHandler) RevertLease(c *gin.Context) {
	var req reasonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "reason 不能为空"})
		return
	}
	if err := h.ledger.RevertLease(c.Request.Context(), c.Param("id"), req.Reason); err != nil {
		h.fail(c, err)
		return
	}
	ok(c, gin.H{"asset": c.Param("id"), "state": models.StateInSteam})
}

type costRequest struct {
	Cost   decimal.Decimal `json:"cost"`
	Reason string          `json:"reason" binding:"required"`
}

// CorrectCost 修正成本价
func (h *APIHandler) CorrectCost(c *gin.Context) {
	var req costRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "参数错误"})
		return
	}
	if err := h.ledger.CorrectCost(c.Request.Context(), c.Param("id"), req.Cost, req.Reason); err != nil {
		h.fail(c, err)
		return
	}
	ok(c, gin.H{"asset": c.Param("id"), "cost": req.Cost})
}

// ListAlerts ?unread=true&item=...&days=7&limit=100
func (h *APIHandler) ListAlerts(c *gin.Context) {
	f := store.AlertFilter{
		UnreadOnly: c.Query("unread") == "true",
		ItemName:   c.Query("item"),
		Limit:      queryInt(c, "limit", 100),
	}
	if days := queryInt(c, "days", 0); days > 0 {
		f.Since = h.now().AddDate(0, 0, -days)
	}
	alerts, err := h.store.ListAlerts(c.Request.Context(), f)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, gin.H{"count": len(alerts), "items": alerts})
}

func (h *APIHandler) MarkAlertRead(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	if err := h.store.MarkAlertRead(c.Request.Context(), uint(id)); err != nil {
		h.fail(c, err)
		return
	}
	ok(c, gin.H{"id": id, "is_read": true})
}

// Resync 立即重算单个商品
func (h *APIHandler) Resync(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Minute)
	defer cancel()
	sig, err := h.engine.Resync(ctx, c.Param("item"))
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, sig)
}

type overrideRequest struct {
	Item  string          `json:"item" binding:"required"`
	Price decimal.Decimal `json:"price"`
	Note  string          `json:"note"`
}

// SetOverride 设置手动价格，下个采集周期生效
func (h *APIHandler) SetOverride(c *gin.Context) {
	var req overrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "参数错误"})
		return
	}
	if !req.Price.IsPositive() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "price 必须大于0"})
		return
	}
	if err := h.store.SetManualPrice(c.Request.Context(), req.Item, req.Price, req.Note); err != nil {
		h.fail(c, err)
		return
	}
	ok(c, gin.H{"item": req.Item, "price": req.Price})
}

// ClearOverride ?item=...
func (h *APIHandler) ClearOverride(c *gin.Context) {
	item := c.Query("item")
	if item == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "item 不能为空"})
		return
	}
	if err := h.store.ClearManualPrice(c.Request.Context(), item); err != nil {
		h.fail(c, err)
		return
	}
	ok(c, gin.H{"item": item})
}

// Export 导出 Excel
func (h *APIHandler) Export(c *gin.Context) {
	ctx := c.Request.Context()
	sigs, err := h.store.CurrentSignals(ctx)
	if err != nil {
		h.fail(c, err)
		return
	}
	rows, err := h.holdingRows(ctx)
	if err != nil {
		h.fail(c, err)
		return
	}
	now := h.now()
	data := report.Data{GeneratedAt: now, Signals: sigs, Holdings: rows, Arbitrage: h.engine.Arbitrage()}

	name := fmt.Sprintf("csgo-quant-%s.xlsx", now.Format("20060102-1504"))
	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	if err := report.Write(c.Writer, data); err != nil {
		h.logger.Error("export failed", "error", err)
		c.Status(http.StatusInternalServerError)
	}
}

func (h *APIHandler) ListJobs(c *gin.Context) {
	if h.jobs == nil {
		ok(c, gin.H{"items": []pipeline.JobStatus{}})
		return
	}
	ok(c, gin.H{"items": h.jobs.Status()})
}

// RunJob 手动触发任务，已在排队或运行时返回 409
func (h *APIHandler) RunJob(c *gin.Context) {
	if h.jobs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "scheduler not running"})
		return
	}
	name := c.Param("name")
	if !h.jobs.Trigger(name) {
		c.JSON(http.StatusConflict, gin.H{"error": "job unknown, queued or running", "job": name})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"code": 202, "msg": "queued", "job": name})
}
