// Package pricing 将各平台报价归约为每个商品一个规范价格，并计算跨平台价差
package pricing

import (
	"math"
	"sort"
	"sync/atomic"
	"time"
)

// Observation 商品在单个平台的原始在售价
type Observation struct {
	Item       string
	Platform   string
	Source     string
	Price      float64
	SellCount  int
	ObservedAt time.Time
}

// Batch 一个数据源在本周期返回的全部数据。Err 非空表示该源失败，
// 它覆盖的平台对所有商品都视为过期
type Batch struct {
	Source       string
	Platforms    []string
	Observations []Observation
	Err          error
}

// Canonical 商品在本周期的规范价格
type Canonical struct {
	Item           string    `json:"item"`
	Price          float64   `json:"price"`
	Platform       string    `json:"platform"`
	Source         string    `json:"source"`
	Manual         bool      `json:"manual"`
	PriceStale     bool      `json:"price_stale"`
	StalePlatforms []string  `json:"stale_platforms,omitempty"`
	ObservedAt     time.Time `json:"observed_at"`
	Version        uint64    `json:"version"`
}

// ManualPlatform 标记来自手动价格的条目
const ManualPlatform = "MANUAL"

// Book 一个周期的规范价格集合，创建后不可变
type Book struct {
	version uint64
	builtAt time.Time
	prices  map[string]Canonical
}

func NewBook(version uint64, builtAt time.Time, prices []Canonical) *Book {
	b := &Book{version: version, builtAt: builtAt, prices: make(map[string]Canonical, len(prices))}
	for _, p := range prices {
		b.prices[p.Item] = p
	}
	return b
}

func (b *Book) Version() uint64 {
	if b == nil {
		return 0
	}
	return b.version
}

func (b *Book) BuiltAt() time.Time {
	if b == nil {
		return time.Time{}
	}
	return b.builtAt
}

func (b *Book) Get(item string) (Canonical, bool) {
	if b == nil {
		return Canonical{}, false
	}
	c, ok := b.prices[item]
	return c, ok
}

// Merge 返回 b 的下一版本，prices 替换同名商品，其余条目保留原版本号
func (b *Book) Merge(builtAt time.Time, prices ...Canonical) *Book {
	version := b.Version() + 1
	all := make([]Canonical, 0, b.Len()+len(prices))
	if b != nil {
		for _, c := range b.prices {
			all = append(all, c)
		}
	}
	for _, c := range prices {
		c.Version = version
		all = append(all, c)
	}
	return NewBook(version, builtAt, all)
}

// Price 返回规范价格，没有时第二个返回值为 false
func (b *Book) Price(item string) (float64, bool) {
	c, ok := b.Get(item)
	if !ok || c.Price <= 0 {
		return 0, false
	}
	return c.Price, true
}

// All 按商品名排序的全部规范价格
func (b *Book) All() []Canonical {
	if b == nil {
		return nil
	}
	out := make([]Canonical, 0, len(b.prices))
	for _, c := range b.prices {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Item < out[j].Item })
	return out
}

func (b *Book) Len() int {
	if b == nil {
		return 0
	}
	return len(b.prices)
}

// Current 持有最新的 Book。读者拿到一致的快照，写入方整本替换
type Current struct {
	p atomic.Pointer[Book]
}

func (c *Current) Load() *Book {
	return c.p.Load()
}

func (c *Current) Store(b *Book) {
	c.p.Store(b)
}

func validPrice(p float64) bool {
	return p > 0 && !math.IsNaN(p) && !math.IsInf(p, 0)
}

// PlatformPrices 取每个商品每个平台本周期的最低有效价，保留对应的那条报价
func PlatformPrices(batches []Batch) map[string]map[string]Observation {
	out := make(map[string]map[string]Observation)
	for _, b := range batches {
		if b.Err != nil {
			continue
		}
		for _, o := range b.Observations {
			if !validPrice(o.Price) || o.Item == "" || o.Platform == "" {
				continue
			}
			if o.Source == "" {
				o.Source = b.Source
			}
			per, ok := out[o.Item]
			if !ok {
				per = make(map[string]Observation)
				out[o.Item] = per
			}
			if cur, ok := per[o.Platform]; !ok || o.Price < cur.Price {
				per[o.Platform] = o
			}
		}
	}
	return out
}

// Aggregate 生成下一版 Book。items 为跟踪中的商品，本周期无数据的商品沿用上一版价格并标记过期。
// overrides 为手动价格，优先于数据源价格
func Aggregate(prev *Book, items []string, batches []Batch, overrides map[string]float64, now time.Time) *Book {
	perItem := PlatformPrices(batches)

	var expected []string
	seen := make(map[string]bool)
	for _, b := range batches {
		for _, p := range b.Platforms {
			if !seen[p] {
				seen[p] = true
				expected = append(expected, p)
			}
		}
	}
	sort.Strings(expected)

	universe := make(map[string]bool, len(items)+len(perItem))
	for _, it := range items {
		universe[it] = true
	}
	for it := range perItem {
		universe[it] = true
	}
	for it := range overrides {
		universe[it] = true
	}

	version := prev.Version() + 1
	out := make([]Canonical, 0, len(universe))
	for item := range universe {
		platforms := perItem[item]

		var stale []string
		for _, p := range expected {
			if _, ok := platforms[p]; !ok {
				stale = append(stale, p)
			}
		}

		if price, ok := overrides[item]; ok && validPrice(price) {
			out = append(out, Canonical{
				Item: item, Price: price, Platform: ManualPlatform, Source: ManualPlatform,
				Manual: true, StalePlatforms: stale, ObservedAt: now, Version: version,
			})
			continue
		}

		if len(platforms) == 0 {
			old, ok := prev.Get(item)
			if !ok || old.Manual {
				// 没有可沿用的历史价格
				continue
			}
			old.PriceStale = true
			old.StalePlatforms = stale
			old.Version = version
			out = append(out, old)
			continue
		}

		best := lowest(platforms)
		out = append(out, Canonical{
			Item: item, Price: best.Price, Platform: best.Platform, Source: best.Source,
			StalePlatforms: stale, ObservedAt: best.ObservedAt, Version: version,
		})
	}
	return NewBook(version, now, out)
}

func lowest(platforms map[string]Observation) Observation {
	names := make([]string, 0, len(platforms))
	for p := range platforms {
		names = append(names, p)
	}
	sort.Strings(names)
	best := platforms[names[0]]
	for _, p := range names[1:] {
		if o := platforms[p]; o.Price < best.Price {
			best = o
		}
	}
	return best
}
