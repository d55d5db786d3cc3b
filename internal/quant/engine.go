package quant

import (
	"time"

	"csgo-quant/internal/bars"
	"csgo-quant/internal/models"
)

// ComputeIndicators 基于截至 asOf 的连续日K计算全部指标。
// 所有窗口都以 asOf 为右端点；窗口内真实观测占比不足时该指标不可用。
func ComputeIndicators(cfg *StrategyConfig, series []models.DailyBar, asOf time.Time, holding *Holding) IndicatorSet {
	tail := bars.Tail(series, asOf)
	closes := bars.Closes(tail)

	set := IndicatorSet{Bars: len(tail)}
	for _, b := range tail {
		if !b.Flat() {
			set.Observed++
		}
	}
	if len(tail) == 0 {
		set.markUnavailable("close", "rsi14", "bollinger", "momentum7", "momentum30", "volatility", "vol_zscore", "annual_return", "ma7", "ma30", "ath")
		return set
	}
	last := closes[len(closes)-1]
	set.Close = ptr(last)

	// observed 检查窗口 [len-n, len) 的真实观测占比
	observed := func(n int) bool {
		if n > len(tail) {
			return false
		}
		cnt := 0
		for _, b := range tail[len(tail)-n:] {
			if !b.Flat() {
				cnt++
			}
		}
		return float64(cnt) >= cfg.MinObservedRatio*float64(n)
	}
	try := func(name string, window int, calc func() (float64, error)) *float64 {
		if !observed(window) {
			set.markUnavailable(name)
			return nil
		}
		v, err := calc()
		if err != nil {
			set.markUnavailable(name)
			return nil
		}
		return ptr(v)
	}

	set.RSI14 = try("rsi14", cfg.RSIPeriod+1, func() (float64, error) {
		return CalculateRSI(closes, cfg.RSIPeriod)
	})

	if observed(cfg.BollingerPeriod) {
		if bb, err := CalculateBollingerBands(closes, cfg.BollingerPeriod, cfg.BollingerK); err == nil {
			set.BBUpper, set.BBMiddle, set.BBLower = ptr(bb.Upper), ptr(bb.Middle), ptr(bb.Lower)
			set.PctB, set.BBWidth = ptr(bb.PctB), ptr(bb.Width)
		} else {
			set.markUnavailable("bollinger")
		}
	} else {
		set.markUnavailable("bollinger")
	}

	set.Momentum7 = try("momentum7", cfg.MomentumShort+1, func() (float64, error) {
		return CalculateMomentum(closes, cfg.MomentumShort)
	})
	set.Momentum30 = try("momentum30", cfg.MomentumLong+1, func() (float64, error) {
		return CalculateMomentum(closes, cfg.MomentumLong)
	})
	set.Volatility = try("volatility", cfg.VolatilityWindow+1, func() (float64, error) {
		return CalculateVolatility(closes, cfg.VolatilityWindow, cfg.TradingDays)
	})
	set.VolZScore = try("vol_zscore", cfg.VolatilityWindow+1+cfg.ZScoreMinPoints, func() (float64, error) {
		return CalculateVolatilityZScore(closes, cfg.VolatilityWindow, cfg.ZScoreLookback, cfg.ZScoreMinPoints, cfg.TradingDays)
	})
	set.MA7 = try("ma7", 7, func() (float64, error) { return CalculateMA(closes, 7) })
	set.MA30 = try("ma30", 30, func() (float64, error) { return CalculateMA(closes, 30) })

	// ATH 只看区间内真实观测
	var ath float64
	for _, b := range tail {
		if !b.Flat() && b.High > ath {
			ath = b.High
		}
	}
	if ath > 0 {
		set.ATH = ptr(ath)
		set.ATHPct = ptr(last / ath * 100)
	} else {
		set.markUnavailable("ath")
	}

	if holding != nil && holding.CostCount > 0 && !holding.FirstAcquired.IsZero() {
		if v, err := CalculateAnnualizedReturn(holding.AvgCost, last, holding.FirstAcquired, asOf); err == nil {
			set.AnnualReturn = ptr(v)
		} else {
			set.markUnavailable("annual_return")
		}
	} else {
		set.markUnavailable("annual_return")
	}
	return set
}

func ptr(v float64) *float64 {
	return &v
}
