package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 流水线的 Prometheus 指标
type Metrics struct {
	JobRuns     *prometheus.CounterVec   // labels: job, status
	JobDuration *prometheus.HistogramVec // labels: job
	JobsSkipped *prometheus.CounterVec   // labels: job

	SourceObservations *prometheus.CounterVec   // labels: source
	SourceErrors       *prometheus.CounterVec   // labels: source
	SourceFetchDur     *prometheus.HistogramVec // labels: source

	BookVersion    prometheus.Gauge
	BookItems      prometheus.Gauge
	StaleItems     prometheus.Gauge
	ArbitrageCount prometheus.Gauge

	SignalsTotal   prometheus.Counter
	ItemFailures   prometheus.Counter
	AlertsRaised   *prometheus.CounterVec // labels: kind
	LedgerEvents   *prometheus.CounterVec // labels: result
	BarsBackfilled prometheus.Counter

	PortfolioValue        prometheus.Gauge
	PortfolioPnL          prometheus.Gauge
	PortfolioCompleteness prometheus.Gauge

	registry *prometheus.Registry
}

// New 在新的 registry 上注册全部指标
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		JobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "csgoquant_job_runs_total",
			Help: "Pipeline job runs by outcome",
		}, []string{"job", "status"}),
		JobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "csgoquant_job_duration_seconds",
			Help:    "Pipeline job wall time",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 180, 600},
		}, []string{"job"}),
		JobsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "csgoquant_jobs_skipped_total",
			Help: "Job triggers dropped because the job was already queued or running",
		}, []string{"job"}),

		SourceObservations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "csgoquant_source_observations_total",
			Help: "Price observations received per source",
		}, []string{"source"}),
		SourceErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "csgoquant_source_errors_total",
			Help: "Failed or timed out source fetches",
		}, []string{"source"}),
		SourceFetchDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "csgoquant_source_fetch_duration_seconds",
			Help:    "Source fetch latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"source"}),

		BookVersion: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "csgoquant_price_book_version",
			Help: "Version of the canonical price book being served",
		}),
		BookItems: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "csgoquant_price_book_items",
			Help: "Items in the canonical price book",
		}),
		StaleItems: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "csgoquant_price_stale_items",
			Help: "Items whose canonical price was carried over from a previous cycle",
		}),
		ArbitrageCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "csgoquant_arbitrage_entries",
			Help: "Arbitrage entries above the absolute spread floor in the last cycle",
		}),

		SignalsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "csgoquant_signals_total",
			Help: "Signals written",
		}),
		ItemFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "csgoquant_item_failures_total",
			Help: "Items skipped in a cycle because their computation failed",
		}),
		AlertsRaised: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "csgoquant_alerts_raised_total",
			Help: "New alerts stored, by kind",
		}, []string{"kind"}),
		LedgerEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "csgoquant_ledger_events_total",
			Help: "Ledger events by result (applied, unresolved, failed)",
		}, []string{"result"}),
		BarsBackfilled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "csgoquant_bars_backfilled_total",
			Help: "Flat bars written by backfill",
		}),

		PortfolioValue: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "csgoquant_portfolio_market_value",
			Help: "Market value of priced holdings",
		}),
		PortfolioPnL: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "csgoquant_portfolio_pnl",
			Help: "Unrealized PnL of priced holdings",
		}),
		PortfolioCompleteness: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "csgoquant_portfolio_completeness",
			Help: "Share of holdings with a canonical price",
		}),
		registry: reg,
	}

	reg.MustRegister(
		m.JobRuns, m.JobDuration, m.JobsSkipped,
		m.SourceObservations, m.SourceErrors, m.SourceFetchDur,
		m.BookVersion, m.BookItems, m.StaleItems, m.ArbitrageCount,
		m.SignalsTotal, m.ItemFailures, m.AlertsRaised, m.LedgerEvents, m.BarsBackfilled,
		m.PortfolioValue, m.PortfolioPnL, m.PortfolioCompleteness,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler 以 Prometheus 文本格式输出指标
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry 底层 registry，主要给测试用
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
