package quant

import (
	"errors"
	"time"
)

// ErrInsufficientHistory 历史数据不足，指标不可用
var ErrInsufficientHistory = errors.New("insufficient history")

// StrategyConfig 指标与评分配置
type StrategyConfig struct {
	// 指标窗口
	RSIPeriod        int     // 默认14
	BollingerPeriod  int     // 默认20
	BollingerK       float64 // 默认2
	MomentumShort    int     // 默认7
	MomentumLong     int     // 默认30
	VolatilityWindow int     // 对数收益个数，默认30
	ZScoreLookback   int     // 历史波动率序列长度，默认30
	ZScoreMinPoints  int     // 计算z分数的最少点数，默认10
	MinObservedRatio float64 // 窗口内真实观测占比下限，默认0.5
	TradingDays      float64 // 年化因子，默认252

	// 卖出评分
	SellBaseline         float64 // 默认45
	SellWeights          SellWeights
	DefaultTargetPnLPct  float64 // 默认目标收益30%
	DecayBenchmarkPct    float64 // 年化收益基准15%
	DecayMinHoldDays     int     // 持有超过30天才考虑衰减
	RentalYieldThreshold float64 // 租赁年化阈值15%
	RentalCorrectionMax  float64 // 租赁修正上限10分

	// 买入评分
	OpportunityBaseline      float64 // 默认50
	OpportunityWeights       OpportunityWeights
	LossAveragingMinDrawdown float64 // 亏损超过5%才考虑补仓

	// 告警阈值
	SellScoreHighWater float64
	ProfitWarnPct      float64
	ProfitCriticalPct  float64
	NearATHPct         float64
	RSIOverbought      float64
	RSIOversold        float64
	MomentumSurgePct   float64
	SpreadAlertPct     float64
}

// SellWeights 卖出评分各维度权重（分）
type SellWeights struct {
	TargetReturn  float64
	ReturnDecay   float64
	Concentration float64
	Volatility    float64
	MarketImpact  float64
}

// OpportunityWeights 买入评分各维度权重（分）
type OpportunityWeights struct {
	Oversold      float64
	LowerBand     float64
	Pullback      float64
	Spread        float64
	LossAveraging float64
	RentalYield   float64
}

// DefaultStrategyConfig 默认配置
func DefaultStrategyConfig() *StrategyConfig {
	return &StrategyConfig{
		RSIPeriod:        14,
		BollingerPeriod:  20,
		BollingerK:       2,
		MomentumShort:    7,
		MomentumLong:     30,
		VolatilityWindow: 30,
		ZScoreLookback:   30,
		ZScoreMinPoints:  10,
		MinObservedRatio: 0.5,
		TradingDays:      252,

		SellBaseline: 45,
		SellWeights: SellWeights{
			TargetReturn:  30,
			ReturnDecay:   20,
			Concentration: 20,
			Volatility:    25,
			MarketImpact:  5,
		},
		DefaultTargetPnLPct:  30,
		DecayBenchmarkPct:    15,
		DecayMinHoldDays:     30,
		RentalYieldThreshold: 15,
		RentalCorrectionMax:  10,

		OpportunityBaseline: 50,
		OpportunityWeights: OpportunityWeights{
			Oversold:      20,
			LowerBand:     15,
			Pullback:      15,
			Spread:        15,
			LossAveraging: 20,
			RentalYield:   15,
		},
		LossAveragingMinDrawdown: 5,

		SellScoreHighWater: 75,
		ProfitWarnPct:      50,
		ProfitCriticalPct:  100,
		NearATHPct:         90,
		RSIOverbought:      75,
		RSIOversold:        25,
		MomentumSurgePct:   20,
		SpreadAlertPct:     15,
	}
}

// IndicatorSet 某日某商品的全部指标。nil 表示数据不足，名称记录在 Unavailable
type IndicatorSet struct {
	Close        *float64 `json:"close,omitempty"`
	RSI14        *float64 `json:"rsi14,omitempty"`
	BBUpper      *float64 `json:"bb_upper,omitempty"`
	BBMiddle     *float64 `json:"bb_middle,omitempty"`
	BBLower      *float64 `json:"bb_lower,omitempty"`
	PctB         *float64 `json:"pct_b,omitempty"`
	BBWidth      *float64 `json:"bb_width,omitempty"`
	Momentum7    *float64 `json:"momentum7,omitempty"`
	Momentum30   *float64 `json:"momentum30,omitempty"`
	Volatility   *float64 `json:"volatility,omitempty"` // 年化波动率 %
	VolZScore    *float64 `json:"vol_zscore,omitempty"`
	AnnualReturn *float64 `json:"annual_return,omitempty"` // 持仓年化收益 %
	MA7          *float64 `json:"ma7,omitempty"`
	MA30         *float64 `json:"ma30,omitempty"`
	ATH          *float64 `json:"ath,omitempty"`
	ATHPct       *float64 `json:"ath_pct,omitempty"` // 当前价/历史最高 %

	Unavailable []string `json:"unavailable,omitempty"`
	Bars        int      `json:"bars"`
	Observed    int      `json:"observed"`
}

func (s *IndicatorSet) markUnavailable(names ...string) {
	s.Unavailable = append(s.Unavailable, names...)
}

// Holding 持仓事实（来自账本）
type Holding struct {
	Count         int
	CostCount     int     // 有成本的件数
	AvgCost       float64 // 有成本件的平均成本
	MarketValue   float64 // 当前市值
	FirstAcquired time.Time
	TargetPnLPct  float64 // 0 表示使用默认目标
}

// MarketContext 市场事实
type MarketContext struct {
	PortfolioValue float64
	RentalYield    *float64 // 租赁年化 %
	Turnover       *float64 // 日成交量
	SpreadPct      *float64 // 跨平台价差 %
}

// ScoreInput 评分输入
type ScoreInput struct {
	Item       string
	AsOf       time.Time
	Price      float64
	PriceStale bool
	Indicators IndicatorSet
	Holding    *Holding
	Market     MarketContext
}

// Factor 维度内部子因子
type Factor struct {
	Name   string  `json:"name"`
	Input  float64 `json:"input"`
	Points float64 `json:"points"`
}

// Dimension 评分维度结果
type Dimension struct {
	Name         string   `json:"name"`
	Weight       float64  `json:"weight"`
	Value        float64  `json:"value"`
	Contribution float64  `json:"contribution"`
	Applicable   bool     `json:"applicable"`
	Detail       string   `json:"detail,omitempty"`
	Factors      []Factor `json:"factors,omitempty"`
}

// AlertHit 触发的告警
type AlertHit struct {
	Kind      string  `json:"kind"`
	Severity  string  `json:"severity"`
	Title     string  `json:"title"`
	Detail    string  `json:"detail"`
	Value     float64 `json:"value"`
	Threshold float64 `json:"threshold"`
}

// Result 单个商品的评分结果
type Result struct {
	Item             string       `json:"item"`
	AsOf             time.Time    `json:"as_of"`
	Price            float64      `json:"price"`
	PriceStale       bool         `json:"price_stale"`
	PnLPct           *float64     `json:"pnl_pct,omitempty"`
	SellScore        float64      `json:"sell_score"`
	OpportunityScore float64      `json:"opportunity_score"`
	SellDims         []Dimension  `json:"sell_dims"`
	OpportunityDims  []Dimension  `json:"opportunity_dims"`
	Indicators       IndicatorSet `json:"indicators"`
	Alerts           []AlertHit   `json:"alerts,omitempty"`
}
