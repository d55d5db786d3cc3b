package quant

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/stat"
)

func need(name string, got, want int) error {
	if got < want {
		return fmt.Errorf("%w: %s needs %d points, got %d", ErrInsufficientHistory, name, want, got)
	}
	return nil
}

// CalculateMA 简单移动平均，取序列最后 period 个点
func CalculateMA(prices []float64, period int) (float64, error) {
	if period <= 0 {
		return 0, fmt.Errorf("invalid ma period %d", period)
	}
	if err := need("ma", len(prices), period); err != nil {
		return 0, err
	}
	return stat.Mean(prices[len(prices)-period:], nil), nil
}

// CalculateRSI Wilder 平滑 RSI。至少需要 period+1 个价格点。
// 平均涨幅等于平均跌幅（含全为0）时为50。
func CalculateRSI(prices []float64, period int) (float64, error) {
	if err := need("rsi", len(prices), period+1); err != nil {
		return 0, err
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		change := prices[i] - prices[i-1]
		if change > 0 {
			avgGain += change
		} else {
			avgLoss -= change
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	for i := period + 1; i < len(prices); i++ {
		change := prices[i] - prices[i-1]
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
	}

	switch {
	case nearlyEqual(avgGain, avgLoss):
		return 50, nil
	case avgLoss == 0:
		return 100, nil
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs), nil
}

func nearlyEqual(a, b float64) bool {
	diff := math.Abs(a - b)
	if diff == 0 {
		return true
	}
	return diff <= 1e-12*math.Max(math.Abs(a), math.Abs(b))
}

// Bollinger 布林带读数
type Bollinger struct {
	Upper, Middle, Lower float64
	PctB, Width          float64
}

// CalculateBollingerBands 最后 period 个点的布林带（总体标准差）。
// 带宽为0时 %B 取0.5。
func CalculateBollingerBands(prices []float64, period int, k float64) (Bollinger, error) {
	if err := need("bollinger", len(prices), period); err != nil {
		return Bollinger{}, err
	}
	window := prices[len(prices)-period:]
	mean, std := stat.PopMeanStdDev(window, nil)
	b := Bollinger{Middle: mean, Upper: mean + k*std, Lower: mean - k*std}

	last := window[len(window)-1]
	if span := b.Upper - b.Lower; span > 0 {
		b.PctB = (last - b.Lower) / span
	} else {
		b.PctB = 0.5
	}
	if mean != 0 {
		b.Width = (b.Upper - b.Lower) / mean
	}
	return b, nil
}

// CalculateMomentum N期收盘价变化百分比，需要 n+1 个点
func CalculateMomentum(prices []float64, n int) (float64, error) {
	if err := need("momentum", len(prices), n+1); err != nil {
		return 0, err
	}
	base := prices[len(prices)-n-1]
	if base <= 0 {
		return 0, fmt.Errorf("%w: momentum base price %v", ErrInsufficientHistory, base)
	}
	return (prices[len(prices)-1] - base) / base * 100, nil
}

// CalculateVolatility 最近 window 个日对数收益的标准差 × √annualization，单位 %
func CalculateVolatility(prices []float64, window int, annualization float64) (float64, error) {
	if err := need("volatility", len(prices), window+1); err != nil {
		return 0, err
	}
	tail := prices[len(prices)-window-1:]
	returns := make([]float64, 0, window)
	for i := 1; i < len(tail); i++ {
		if tail[i-1] <= 0 || tail[i] <= 0 {
			return 0, fmt.Errorf("%w: non-positive price in volatility window", ErrInsufficientHistory)
		}
		returns = append(returns, math.Log(tail[i]/tail[i-1]))
	}
	_, std := stat.PopMeanStdDev(returns, nil)
	return std * math.Sqrt(annualization) * 100, nil
}

// CalculateVolatilityZScore 当前波动率相对之前 lookback 个滚动波动率的 z 分数
func CalculateVolatilityZScore(prices []float64, window, lookback, minPoints int, annualization float64) (float64, error) {
	current, err := CalculateVolatility(prices, window, annualization)
	if err != nil {
		return 0, err
	}

	var history []float64
	for end := len(prices) - 1; end > 0 && len(history) < lookback; end-- {
		v, err := CalculateVolatility(prices[:end], window, annualization)
		if err != nil {
			break
		}
		history = append(history, v)
	}
	if err := need("vol_zscore", len(history), minPoints); err != nil {
		return 0, err
	}
	mean, std := stat.MeanStdDev(history, nil)
	if std == 0 || math.IsNaN(std) {
		return 0, fmt.Errorf("%w: flat volatility history", ErrInsufficientHistory)
	}
	return (current - mean) / std, nil
}

// CalculateAnnualizedReturn 从买入到现在的复合年化收益 %，至少持有1天
func CalculateAnnualizedReturn(cost, price float64, acquired, now time.Time) (float64, error) {
	days := now.Sub(acquired).Hours() / 24
	if days < 1 {
		return 0, fmt.Errorf("%w: held %.2f days", ErrInsufficientHistory, days)
	}
	if cost <= 0 || price <= 0 {
		return 0, fmt.Errorf("%w: missing cost or price", ErrInsufficientHistory)
	}
	return (math.Pow(price/cost, 365/days) - 1) * 100, nil
}
