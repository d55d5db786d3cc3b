package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"csgo-quant/internal/app"
	"csgo-quant/internal/config"
	"csgo-quant/internal/logger"
	"csgo-quant/internal/models"
	"csgo-quant/internal/portfolio"
	"csgo-quant/internal/report"
	"csgo-quant/internal/store"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

var (
	green  = color.New(color.FgGreen, color.Bold)
	red    = color.New(color.FgRed, color.Bold)
	yellow = color.New(color.FgYellow)
	cyan   = color.New(color.FgCyan)
)

func main() {
	mode := flag.String("mode", "daemon", "运行模式: daemon(只跑调度), collect(采集一次), daily(日终任务), query(查询), override(手动价格), resync(单品重算), export(导出Excel)")
	action := flag.String("action", "signals", "查询操作: signals(信号), holdings(持仓), arbitrage(套利), alerts(告警), jobs(任务记录)")
	limit := flag.Int("limit", 20, "查询结果数量限制")
	day := flag.String("day", "", "日终任务日期 YYYY-MM-DD，默认今天")
	force := flag.Bool("force", false, "强制重跑已提交的日终任务")
	item := flag.String("item", "", "商品名称")
	price := flag.String("price", "", "手动价格，为空表示清除")
	note := flag.String("note", "", "手动价格备注")
	out := flag.String("out", "", "导出文件路径")
	flag.Parse()

	_ = godotenv.Load()
	cfg := config.Load()
	lg := logger.Init("quant-strategy", logger.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, lg)
	if err != nil {
		log.Fatalf("初始化失败: %v", err)
	}
	defer a.Close()

	switch *mode {
	case "daemon":
		err = runDaemon(ctx, a)
	case "collect":
		err = runCollect(ctx, a)
	case "daily":
		err = runDaily(ctx, a, *day, *force)
	case "query":
		err = runQuery(ctx, a, *action, *limit)
	case "override":
		err = runOverride(ctx, a, *item, *price, *note)
	case "resync":
		err = runResync(ctx, a, *item)
	case "export":
		err = runExport(ctx, a, *out)
	default:
		err = fmt.Errorf("未知模式: %s", *mode)
	}
	if err != nil {
		red.Fprintf(os.Stderr, "失败: %v\n", err)
		os.Exit(1)
	}
}

// runDaemon 不启动 HTTP 服务，只跑采集和日终调度
func runDaemon(ctx context.Context, a *app.App) error {
	if err := a.StartJobs(ctx); err != nil {
		return err
	}
	green.Println("守护进程已启动")
	fmt.Printf("- 每 %v 采集一次价格\n", a.Config.CollectInterval)
	fmt.Printf("- 每天 %s 运行日终任务\n", a.Config.DailyJobAt)
	fmt.Println("按 Ctrl+C 停止")
	<-ctx.Done()
	fmt.Println("收到停止信号，正在关闭...")
	return nil
}

func runCollect(ctx context.Context, a *app.App) error {
	ctx, cancel := context.WithTimeout(ctx, a.Config.JobTimeout)
	defer cancel()
	res, err := a.Pipeline.RunCollect(ctx)
	if err != nil {
		return err
	}
	green.Printf("采集完成 cycle=%s book=v%d\n", res.CycleID, res.BookVersion)
	fmt.Printf("   商品: %d (过期 %d)  观测: %d  日K: %d  套利: %d\n", res.Items, res.Stale, res.Observations, res.Bars, res.Arbitrage)
	fmt.Printf("   账本: 应用 %d  失败 %d  待确认租赁 %d\n", res.Ledger.Applied, res.Ledger.Failed, len(res.Ledger.Unresolved))
	s := res.Snapshot
	fmt.Printf("   持仓市值: ¥%s  成本: ¥%s  ", s.MarketValue.StringFixed(2), s.PricedCost.StringFixed(2))
	pnlColor(s.PnL).Printf("盈亏: ¥%s (%.2f%%)\n", s.PnL.StringFixed(2), s.PnLPct)
	fmt.Printf("   定价完整度: %.0f%%  新告警: %d\n", s.Completeness*100, res.Alerts)
	return nil
}

func runDaily(ctx context.Context, a *app.App, rawDay string, force bool) error {
	d := time.Now()
	if rawDay != "" {
		var err error
		if d, err = time.Parse("2006-01-02", rawDay); err != nil {
			return fmt.Errorf("日期格式错误: %q", rawDay)
		}
	}
	ctx, cancel := context.WithTimeout(ctx, a.Config.JobTimeout)
	defer cancel()
	res, err := a.Pipeline.RunDaily(ctx, d, force)
	if err != nil {
		return err
	}
	if res.Skipped {
		yellow.Printf("%s 已提交 (run=%s)，使用 -force 重跑\n", res.Day.Format("2006-01-02"), res.RunID)
		return nil
	}
	green.Printf("日终任务完成 %s run=%s\n", res.Day.Format("2006-01-02"), res.RunID)
	if len(res.Resumed) > 0 {
		fmt.Printf("   跳过已完成阶段: %s\n", strings.Join(res.Resumed, ","))
	}
	fmt.Printf("   补齐日K: %d  信号: %d  失败: %d  告警: %d\n", res.Backfilled, res.Signals, res.Failed, res.Alerts)
	return nil
}

func runQuery(ctx context.Context, a *app.App, action string, limit int) error {
	switch action {
	case "signals":
		return querySignals(ctx, a, limit)
	case "holdings":
		return queryHoldings(ctx, a)
	case "arbitrage":
		return queryArbitrage(ctx, a, limit)
	case "alerts":
		return queryAlerts(ctx, a, limit)
	case "jobs":
		return queryRuns(ctx, a, limit)
	default:
		return fmt.Errorf("未知查询操作: %s", action)
	}
}

func querySignals(ctx context.Context, a *app.App, limit int) error {
	sigs, err := a.Store.CurrentSignals(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("\n=== 当前信号（前 %d 个，按卖出评分）===\n\n", limit)
	if len(sigs) == 0 {
		fmt.Println("当前没有已提交的信号")
		return nil
	}
	for i, s := range sigs {
		if i >= limit {
			break
		}
		fmt.Printf("%d. %s  %s\n", i+1, s.ItemName, s.AsOf.Format("2006-01-02"))
		stale := ""
		if s.PriceStale {
			stale = yellow.Sprint(" (过期)")
		}
		fmt.Printf("   价格: ¥%.2f%s\n", s.Price, stale)
		scoreColor(s.SellScore).Printf("   卖出评分: %.1f", s.SellScore)
		scoreColor(s.OpportunityScore).Printf("   买入评分: %.1f\n", s.OpportunityScore)
		fmt.Println()
	}
	return nil
}

func queryHoldings(ctx context.Context, a *app.App) error {
	assets, err := a.Store.HeldAssets(ctx)
	if err != nil {
		return err
	}
	book := a.Pipeline.Book()
	holdings, _ := portfolio.Holdings(assets, book)
	rows := report.HoldingRows(holdings, book)
	fmt.Printf("\n=== 持仓（%d 种）===\n\n", len(rows))
	for _, r := range rows {
		fmt.Printf("%-50s x%-3d ", r.Item, r.Count)
		if !r.Priced {
			yellow.Println("无价格")
			continue
		}
		fmt.Printf("现价 ¥%-10.2f 市值 ¥%-10.2f ", r.Price, r.MarketValue)
		if r.PnLPct == nil {
			fmt.Println("成本未知")
			continue
		}
		pnlColor(decimal.NewFromFloat(*r.PnLPct)).Printf("%+.2f%%\n", *r.PnLPct)
	}
	return nil
}

func queryArbitrage(ctx context.Context, a *app.App, limit int) error {
	entries := a.Pipeline.Arbitrage()
	if len(entries) == 0 && a.Cache != nil {
		if cached, found, err := a.Cache.Arbitrage(ctx); err == nil && found {
			entries = cached
		}
	}
	fmt.Printf("\n=== 跨平台价差（前 %d 个）===\n\n", limit)
	if len(entries) == 0 {
		fmt.Println("暂无价差数据，先运行 -mode collect")
		return nil
	}
	for i, e := range entries {
		if i >= limit {
			break
		}
		fmt.Printf("%d. %s\n", i+1, e.Item)
		fmt.Printf("   %s ¥%.2f → %s ¥%.2f  ", e.PlatformA, e.PriceA, e.PlatformB, e.PriceB)
		green.Printf("价差 ¥%.2f (%.2f%%)\n", e.SpreadAbs, e.SpreadPct)
	}
	return nil
}

func queryAlerts(ctx context.Context, a *app.App, limit int) error {
	alerts, err := a.Store.ListAlerts(ctx, store.AlertFilter{UnreadOnly: true, Limit: limit})
	if err != nil {
		return err
	}
	fmt.Printf("\n=== 未读告警（%d）===\n\n", len(alerts))
	for _, al := range alerts {
		c := yellow
		if al.Severity == models.SeverityCritical {
			c = red
		}
		c.Printf("[%s] ", strings.ToUpper(al.Severity))
		fmt.Printf("%s  %s  %s\n", al.Day.Format("2006-01-02"), al.ItemName, al.Title)
	}
	return nil
}

func queryRuns(ctx context.Context, a *app.App, limit int) error {
	runs, err := a.Store.RecentRuns(ctx, limit)
	if err != nil {
		return err
	}
	fmt.Printf("\n=== 最近任务阶段 ===\n\n")
	for _, r := range runs {
		status := green.Sprint("ok")
		if r.Error != "" {
			status = red.Sprint(r.Error)
		} else if r.FinishedAt == nil {
			status = yellow.Sprint("running")
		}
		fmt.Printf("%s  %-8s %-8s %s  %s\n", r.Day.Format("2006-01-02"), r.Job, r.Stage, cyan.Sprint(r.RunID), status)
	}
	return nil
}

func runOverride(ctx context.Context, a *app.App, item, rawPrice, note string) error {
	if item == "" {
		return fmt.Errorf("缺少 -item")
	}
	if rawPrice == "" {
		if err := a.Store.ClearManualPrice(ctx, item); err != nil {
			return err
		}
		green.Printf("已清除 %s 的手动价格\n", item)
		return nil
	}
	p, err := decimal.NewFromString(rawPrice)
	if err != nil || !p.IsPositive() {
		return fmt.Errorf("价格必须大于0: %q", rawPrice)
	}
	if err := a.Store.SetManualPrice(ctx, item, p, note); err != nil {
		return err
	}
	green.Printf("已设置 %s 手动价格 ¥%s，下个采集周期生效\n", item, p.StringFixed(2))
	return nil
}

func runResync(ctx context.Context, a *app.App, item string) error {
	if item == "" {
		return fmt.Errorf("缺少 -item")
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	sig, err := a.Pipeline.Resync(ctx, item)
	if err != nil {
		return err
	}
	green.Printf("%s 已重算\n", item)
	fmt.Printf("   价格: ¥%.2f  卖出评分: %.1f  买入评分: %.1f\n", sig.Price, sig.SellScore, sig.OpportunityScore)
	return nil
}

func runExport(ctx context.Context, a *app.App, path string) error {
	now := time.Now()
	if path == "" {
		path = fmt.Sprintf("csgo-quant-%s.xlsx", now.Format("20060102-1504"))
	}
	sigs, err := a.Store.CurrentSignals(ctx)
	if err != nil {
		return err
	}
	assets, err := a.Store.HeldAssets(ctx)
	if err != nil {
		return err
	}
	book := a.Pipeline.Book()
	holdings, _ := portfolio.Holdings(assets, book)

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	err = report.Write(f, report.Data{
		GeneratedAt: now,
		Signals:     sigs,
		Holdings:    report.HoldingRows(holdings, book),
		Arbitrage:   a.Pipeline.Arbitrage(),
	})
	if err != nil {
		return err
	}
	green.Printf("已导出 %s\n", path)
	return nil
}

func scoreColor(score float64) *color.Color {
	switch {
	case score >= 75:
		return red
	case score >= 60:
		return yellow
	default:
		return color.New(color.Reset)
	}
}

func pnlColor(pnl decimal.Decimal) *color.Color {
	if pnl.IsNegative() {
		return red
	}
	return green
}
