// Package report 导出信号、持仓与套利数据到 Excel
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"csgo-quant/internal/models"
	"csgo-quant/internal/portfolio"
	"csgo-quant/internal/pricing"
	"csgo-quant/internal/quant"

	"github.com/xuri/excelize/v2"
)

const (
	SheetSignals   = "信号"
	SheetHoldings  = "持仓"
	SheetArbitrage = "套利"
)

// HoldingRow 持仓表的一行
type HoldingRow struct {
	Item        string
	Count       int
	CostCount   int
	AvgCost     float64
	Price       float64
	Priced      bool
	MarketValue float64
	PnLPct      *float64
}

// Data 导出内容
type Data struct {
	GeneratedAt time.Time
	Signals     []models.Signal
	Holdings    []HoldingRow
	Arbitrage   []pricing.ArbitrageEntry
}

// HoldingRows 将持仓汇总转换为按市值降序的表格行
func HoldingRows(holdings map[string]*quant.Holding, prices portfolio.PriceLookup) []HoldingRow {
	out := make([]HoldingRow, 0, len(holdings))
	for item, h := range holdings {
		row := HoldingRow{Item: item, Count: h.Count, CostCount: h.CostCount, AvgCost: h.AvgCost, MarketValue: h.MarketValue}
		if p, ok := prices.Price(item); ok {
			row.Price, row.Priced = p, true
			if h.CostCount > 0 && h.AvgCost > 0 {
				pnl := (p - h.AvgCost) / h.AvgCost * 100
				row.PnLPct = &pnl
			}
		}
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].MarketValue != out[j].MarketValue {
			return out[i].MarketValue > out[j].MarketValue
		}
		return out[i].Item < out[j].Item
	})
	return out
}

// Write 生成工作簿并写入 w
func Write(w io.Writer, data Data) error {
	f := excelize.NewFile()
	defer f.Close()

	header, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"DDEBF7"}, Pattern: 1},
	})
	if err != nil {
		return err
	}

	sheets := []struct {
		name  string
		cols  []string
		rows  [][]interface{}
		width float64
	}{
		{SheetSignals, []string{"饰品", "日期", "价格", "价格过期", "卖出评分", "买入评分", "RSI14", "%B", "7日动量%", "年化波动率%", "告警"}, signalRows(data.Signals), 14},
		{SheetHoldings, []string{"饰品", "数量", "有成本数量", "平均成本", "当前价", "市值", "收益率%"}, holdingRows(data.Holdings), 14},
		{SheetArbitrage, []string{"饰品", "低价平台", "低价", "高价平台", "高价", "价差", "价差%", "平台数"}, arbitrageRows(data.Arbitrage), 12},
	}
	for i, s := range sheets {
		if i == 0 {
			if err := f.SetSheetName("Sheet1", s.name); err != nil {
				return err
			}
		} else if _, err := f.NewSheet(s.name); err != nil {
			return err
		}
		if err := writeSheet(f, s.name, s.cols, s.rows, header, s.width); err != nil {
			return fmt.Errorf("sheet %s: %w", s.name, err)
		}
	}
	f.SetActiveSheet(0)
	if !data.GeneratedAt.IsZero() {
		if err := f.SetDocProps(&excelize.DocProperties{
			Title:   "csgo-quant export",
			Created: data.GeneratedAt.UTC().Format(time.RFC3339),
		}); err != nil {
			return err
		}
	}
	_, err = f.WriteTo(w)
	return err
}

func writeSheet(f *excelize.File, sheet string, cols []string, rows [][]interface{}, headerStyle int, width float64) error {
	head := make([]interface{}, len(cols))
	for i, c := range cols {
		head[i] = c
	}
	if err := f.SetSheetRow(sheet, "A1", &head); err != nil {
		return err
	}
	last, err := excelize.ColumnNumberToName(len(cols))
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A1", last+"1", headerStyle); err != nil {
		return err
	}
	if err := f.SetColWidth(sheet, "A", "A", 40); err != nil {
		return err
	}
	if len(cols) > 1 {
		if err := f.SetColWidth(sheet, "B", last, width); err != nil {
			return err
		}
	}
	for i := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &rows[i]); err != nil {
			return err
		}
	}
	return f.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})
}

func signalRows(sigs []models.Signal) [][]interface{} {
	rows := make([][]interface{}, 0, len(sigs))
	for _, s := range sigs {
		var ind quant.IndicatorSet
		_ = json.Unmarshal(s.Indicators, &ind)
		var hits []quant.AlertHit
		_ = json.Unmarshal(s.Alerts, &hits)
		kinds := make([]string, 0, len(hits))
		for _, h := range hits {
			kinds = append(kinds, h.Kind)
		}
		rows = append(rows, []interface{}{
			s.ItemName, s.AsOf.Format("2006-01-02"), round(s.Price), yesNo(s.PriceStale),
			round(s.SellScore), round(s.OpportunityScore),
			opt(ind.RSI14), opt(ind.PctB), opt(ind.Momentum7), opt(ind.Volatility),
			strings.Join(kinds, ","),
		})
	}
	return rows
}

func holdingRows(holdings []HoldingRow) [][]interface{} {
	rows := make([][]interface{}, 0, len(holdings))
	for _, h := range holdings {
		price := interface{}("")
		if h.Priced {
			price = round(h.Price)
		}
		avg := interface{}("")
		if h.CostCount > 0 {
			avg = round(h.AvgCost)
		}
		rows = append(rows, []interface{}{h.Item, h.Count, h.CostCount, avg, price, round(h.MarketValue), opt(h.PnLPct)})
	}
	return rows
}

func arbitrageRows(entries []pricing.ArbitrageEntry) [][]interface{} {
	rows := make([][]interface{}, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []interface{}{
			e.Item, e.PlatformA, round(e.PriceA), e.PlatformB, round(e.PriceB),
			round(e.SpreadAbs), round(e.SpreadPct), e.Platforms,
		})
	}
	return rows
}

func round(v float64) float64 {
	return float64(int64(v*100+sign(v)*0.5)) / 100
}

func sign(v float64) float64 {
	if v < 0 {
		return -1
	}
	return 1
}

// opt 缺失的指标导出为空单元格
func opt(v *float64) interface{} {
	if v == nil {
		return ""
	}
	return round(*v)
}

func yesNo(b bool) string {
	if b {
		return "是"
	}
	return "否"
}
