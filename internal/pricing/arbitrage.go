package pricing

import (
	"sort"
	"strings"
	"time"
)

// ArbitrageEntry 本周期商品最低价平台与最高价平台之间的价差
type ArbitrageEntry struct {
	Item       string    `json:"item"`
	PlatformA  string    `json:"platform_a"` // 最低价
	PriceA     float64   `json:"price_a"`
	PlatformB  string    `json:"platform_b"` // 最高价
	PriceB     float64   `json:"price_b"`
	SpreadAbs  float64   `json:"spread_abs"`
	SpreadPct  float64   `json:"spread_pct"`
	Platforms  int       `json:"platforms"`
	AsOf       time.Time `json:"as_of"`
	SellCountA int       `json:"sell_count_a"`
}

// Radar 跨平台价差雷达
type Radar struct {
	MinAbsSpread float64
	exclude      map[string]bool
}

func NewRadar(minAbsSpread float64, excludePlatforms []string) *Radar {
	ex := make(map[string]bool, len(excludePlatforms))
	for _, p := range excludePlatforms {
		ex[strings.ToUpper(p)] = true
	}
	return &Radar{MinAbsSpread: minAbsSpread, exclude: ex}
}

// Spreads 计算所有在两个及以上平台有价的商品价差，不做噪声过滤。评分从这里读取价差百分比
func (r *Radar) Spreads(prices map[string]map[string]Observation, asOf time.Time) map[string]ArbitrageEntry {
	out := make(map[string]ArbitrageEntry)
	for item, platforms := range prices {
		var lo, hi *Observation
		n := 0
		names := make([]string, 0, len(platforms))
		for p := range platforms {
			names = append(names, p)
		}
		sort.Strings(names)
		for _, p := range names {
			if r.exclude[strings.ToUpper(p)] {
				continue
			}
			o := platforms[p]
			n++
			if lo == nil || o.Price < lo.Price {
				lo = &o
			}
			if hi == nil || o.Price > hi.Price {
				hi = &o
			}
		}
		if n < 2 {
			continue
		}
		abs := hi.Price - lo.Price
		out[item] = ArbitrageEntry{
			Item:       item,
			PlatformA:  lo.Platform,
			PriceA:     lo.Price,
			PlatformB:  hi.Platform,
			PriceB:     hi.Price,
			SpreadAbs:  abs,
			SpreadPct:  abs / lo.Price * 100,
			Platforms:  n,
			AsOf:       asOf,
			SellCountA: lo.SellCount,
		}
	}
	return out
}

// Scan 返回绝对价差不低于阈值的条目，按价差百分比降序
func (r *Radar) Scan(prices map[string]map[string]Observation, asOf time.Time) []ArbitrageEntry {
	var out []ArbitrageEntry
	for _, e := range r.Spreads(prices, asOf) {
		if e.SpreadAbs < r.MinAbsSpread {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SpreadPct != out[j].SpreadPct {
			return out[i].SpreadPct > out[j].SpreadPct
		}
		return out[i].Item < out[j].Item
	})
	return out
}
