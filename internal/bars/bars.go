// Package bars 将规范价格折叠成日K线，并用沿用前收盘价的平K线补齐缺失的日期
package bars

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"csgo-quant/internal/models"
)

var (
	ErrBarNotFound  = errors.New("bar not found")
	ErrInvalidPrice = errors.New("invalid price")
)

const day = 24 * time.Hour

// Repository 日K线存储
type Repository interface {
	GetBar(ctx context.Context, item string, day time.Time) (*models.DailyBar, error)
	SaveBar(ctx context.Context, b *models.DailyBar) error
	BarsInRange(ctx context.Context, item string, from, to time.Time) ([]models.DailyBar, error)
	LastBarBefore(ctx context.Context, item string, day time.Time) (*models.DailyBar, error)
}

// Fold 将一个价格并入K线。平K线被第一个真实价格整体替换，之后开盘价不再变化
func Fold(b *models.DailyBar, price float64) {
	if b.Samples == 0 {
		b.Open, b.High, b.Low, b.Close = price, price, price, price
		b.Samples = 1
		return
	}
	b.High = math.Max(b.High, price)
	b.Low = math.Min(b.Low, price)
	b.Close = price
	b.Samples++
}

type Builder struct {
	repo Repository
}

func NewBuilder(repo Repository) *Builder {
	return &Builder{repo: repo}
}

// Append 更新 ts 所在自然日的K线
func (b *Builder) Append(ctx context.Context, item string, price float64, ts time.Time) (*models.DailyBar, error) {
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return nil, fmt.Errorf("%w: %v for %s", ErrInvalidPrice, price, item)
	}
	d := models.DayOf(ts)
	bar, err := b.repo.GetBar(ctx, item, d)
	if errors.Is(err, ErrBarNotFound) {
		bar = &models.DailyBar{ItemName: item, Day: d}
	} else if err != nil {
		return nil, err
	}
	Fold(bar, price)
	if err := b.repo.SaveBar(ctx, bar); err != nil {
		return nil, err
	}
	return bar, nil
}

// Backfill 为 [from, to] 内没有真实K线的日期写入前收盘价的平K线。
// 有真实数据的日期不动，已有的平K线按当前沿用价重写。返回写入的平K线数量
func (b *Builder) Backfill(ctx context.Context, item string, from, to time.Time) (int, error) {
	from, to = models.DayOf(from), models.DayOf(to)
	if to.Before(from) {
		return 0, nil
	}

	existing, err := b.repo.BarsInRange(ctx, item, from, to)
	if err != nil {
		return 0, err
	}
	byDay := make(map[time.Time]models.DailyBar, len(existing))
	for _, bar := range existing {
		byDay[models.DayOf(bar.Day)] = bar
	}

	var carry float64
	prev, err := b.repo.LastBarBefore(ctx, item, from)
	switch {
	case err == nil:
		carry = prev.Close
	case errors.Is(err, ErrBarNotFound):
	default:
		return 0, err
	}

	written := 0
	for d := from; !d.After(to); d = d.Add(day) {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		bar, ok := byDay[d]
		if ok && bar.Samples > 0 {
			carry = bar.Close
			continue
		}
		if carry == 0 {
			continue
		}
		if ok && bar.Close == carry && bar.Open == carry {
			continue
		}
		flat := models.DailyBar{ItemName: item, Day: d, Open: carry, High: carry, Low: carry, Close: carry, Samples: 0}
		if ok {
			flat.ID = bar.ID
		}
		if err := b.repo.SaveBar(ctx, &flat); err != nil {
			return written, err
		}
		written++
	}
	return written, nil
}

// Tail 返回截至 asOf 的连续日K线，从旧到新。asOf 当天没有K线时返回 nil
func Tail(series []models.DailyBar, asOf time.Time) []models.DailyBar {
	asOf = models.DayOf(asOf)
	sorted := make([]models.DailyBar, 0, len(series))
	for _, b := range series {
		if !models.DayOf(b.Day).After(asOf) {
			sorted = append(sorted, b)
		}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Day.Before(sorted[j].Day) })

	expect := asOf
	start := len(sorted)
	for i := len(sorted) - 1; i >= 0; i-- {
		d := models.DayOf(sorted[i].Day)
		if !d.Equal(expect) {
			break
		}
		start = i
		expect = expect.Add(-day)
	}
	return sorted[start:]
}

// Closes 提取收盘价
func Closes(series []models.DailyBar) []float64 {
	out := make([]float64, len(series))
	for i, b := range series {
		out[i] = b.Close
	}
	return out
}
